package graphstore

import (
	"context"
	"testing"

	"github.com/flowpulse/flowpulse/pkg/types"
)

func sampleDiagram(id, name string) *Diagram {
	return &Diagram{
		ID:   id,
		Name: name,
		Graph: &types.Graph{
			Nodes: []types.Node{{ID: "a"}, {ID: "b"}},
			Edges: []types.Edge{{ID: "e1", Source: "a", Target: "b", DurationSeconds: 1.5}},
		},
	}
}

func TestMemoryStore_CreateGet(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	d := sampleDiagram("d1", "pipeline")
	if err := store.Create(ctx, d); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if d.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}

	got, err := store.Get(ctx, "d1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != "pipeline" {
		t.Errorf("name = %q, want %q", got.Name, "pipeline")
	}
	if len(got.Graph.Edges) != 1 || got.Graph.Edges[0].DurationSeconds != 1.5 {
		t.Error("graph not stored intact")
	}
}

func TestMemoryStore_CreateGeneratesID(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	d := sampleDiagram("", "auto")
	if err := store.Create(context.Background(), d); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if d.ID == "" {
		t.Error("expected generated id")
	}
}

func TestMemoryStore_CreateDuplicate(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	if err := store.Create(ctx, sampleDiagram("d1", "one")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.Create(ctx, sampleDiagram("d1", "two")); err != ErrDiagramExists {
		t.Errorf("expected ErrDiagramExists, got %v", err)
	}
}

func TestMemoryStore_Update(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	d := sampleDiagram("d1", "before")
	store.Create(ctx, d)
	created := d.CreatedAt

	d2 := sampleDiagram("d1", "after")
	if err := store.Update(ctx, d2); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, _ := store.Get(ctx, "d1")
	if got.Name != "after" {
		t.Errorf("name = %q, want %q", got.Name, "after")
	}
	if !got.CreatedAt.Equal(created) {
		t.Error("CreatedAt should be preserved across updates")
	}

	if err := store.Update(ctx, sampleDiagram("missing", "x")); err != ErrDiagramNotFound {
		t.Errorf("expected ErrDiagramNotFound, got %v", err)
	}
}

func TestMemoryStore_DescriptiveFields(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	d := sampleDiagram("d1", "pipeline")
	d.Description = "order flow"
	d.Version = "v2"
	d.CreatedBy = "alice"
	if err := store.Create(ctx, d); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, _ := store.Get(ctx, "d1")
	if got.Description != "order flow" || got.Version != "v2" || got.CreatedBy != "alice" {
		t.Errorf("descriptive fields not stored: %+v", got)
	}

	// Updates may change description and version but never the creator.
	d2 := sampleDiagram("d1", "pipeline")
	d2.Description = "revised"
	d2.Version = "v3"
	d2.CreatedBy = "mallory"
	if err := store.Update(ctx, d2); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, _ = store.Get(ctx, "d1")
	if got.Description != "revised" || got.Version != "v3" {
		t.Errorf("update did not apply descriptive fields: %+v", got)
	}
	if got.CreatedBy != "alice" {
		t.Errorf("CreatedBy = %q, want %q", got.CreatedBy, "alice")
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	store.Create(ctx, sampleDiagram("d1", "one"))

	if err := store.Delete(ctx, "d1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "d1"); err != ErrDiagramNotFound {
		t.Errorf("expected ErrDiagramNotFound, got %v", err)
	}
	if err := store.Delete(ctx, "d1"); err != ErrDiagramNotFound {
		t.Errorf("expected ErrDiagramNotFound on second delete, got %v", err)
	}
}

func TestMemoryStore_ListPagination(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	for _, id := range []string{"d1", "d2", "d3"} {
		if err := store.Create(ctx, sampleDiagram(id, id)); err != nil {
			t.Fatalf("Create %s failed: %v", id, err)
		}
	}

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 diagrams, got %d", len(all))
	}

	page, err := store.List(ctx, ListOptions{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(page) != 1 {
		t.Errorf("expected 1 diagram on last page, got %d", len(page))
	}

	empty, _ := store.List(ctx, ListOptions{Offset: 10})
	if len(empty) != 0 {
		t.Errorf("expected empty page, got %d", len(empty))
	}

	n, _ := store.Count(ctx)
	if n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	store.Create(ctx, sampleDiagram("d1", "original"))

	got, _ := store.Get(ctx, "d1")
	got.Name = "mutated"

	again, _ := store.Get(ctx, "d1")
	if again.Name != "original" {
		t.Error("mutating a Get result should not affect the store")
	}
}
