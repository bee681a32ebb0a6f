// Package graphstore provides persistence for saved graph diagrams.
package graphstore

import (
	"context"
	"errors"
	"time"

	"github.com/flowpulse/flowpulse/pkg/types"
)

var (
	// ErrDiagramNotFound is returned when a diagram id is unknown.
	ErrDiagramNotFound = errors.New("diagram not found")

	// ErrDiagramExists is returned when creating a diagram with an id
	// that is already taken.
	ErrDiagramExists = errors.New("diagram already exists")
)

// Diagram is a stored graph with identity and bookkeeping fields.
type Diagram struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Version     string       `json:"version,omitempty"`
	Graph       *types.Graph `json:"graph"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	CreatedBy   string       `json:"created_by,omitempty"`
}

// ListOptions controls pagination for List.
type ListOptions struct {
	Limit  int
	Offset int
}

// GraphStore defines the interface for diagram persistence.
// Implementations must be safe for concurrent use.
type GraphStore interface {
	Create(ctx context.Context, d *Diagram) error
	Get(ctx context.Context, id string) (*Diagram, error)
	Update(ctx context.Context, d *Diagram) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, opts ListOptions) ([]*Diagram, error)
	Count(ctx context.Context) (int, error)
	Close() error
}
