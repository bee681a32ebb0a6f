package graphstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory GraphStore. Suitable for development and
// testing. Data is lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	diagrams map[string]*Diagram
}

// NewMemoryStore creates a new in-memory GraphStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		diagrams: make(map[string]*Diagram),
	}
}

func (s *MemoryStore) Create(ctx context.Context, d *Diagram) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if _, exists := s.diagrams[d.ID]; exists {
		return ErrDiagramExists
	}

	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now

	stored := *d
	s.diagrams[d.ID] = &stored
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Diagram, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.diagrams[id]
	if !ok {
		return nil, ErrDiagramNotFound
	}

	result := *d
	return &result, nil
}

func (s *MemoryStore) Update(ctx context.Context, d *Diagram) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.diagrams[d.ID]
	if !ok {
		return ErrDiagramNotFound
	}

	// Creation provenance is immutable.
	d.CreatedAt = existing.CreatedAt
	d.CreatedBy = existing.CreatedBy
	d.UpdatedAt = time.Now().UTC()

	stored := *d
	s.diagrams[d.ID] = &stored
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.diagrams[id]; !ok {
		return ErrDiagramNotFound
	}
	delete(s.diagrams, id)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, opts ListOptions) ([]*Diagram, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*Diagram, 0, len(s.diagrams))
	for _, d := range s.diagrams {
		copied := *d
		all = append(all, &copied)
	}

	// Newest first, id as tiebreaker for stable ordering.
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(all) {
			return []*Diagram{}, nil
		}
		all = all[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(all) {
		all = all[:opts.Limit]
	}

	return all, nil
}

func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.diagrams), nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// Verify interface compliance
var _ GraphStore = (*MemoryStore)(nil)
