// Package simstore provides simulation state persistence and event streaming.
package simstore

import (
	"context"
	"errors"
	"time"

	"github.com/flowpulse/flowpulse/pkg/types"
)

// ErrSimNotFound is returned when a simulation id is unknown.
var ErrSimNotFound = errors.New("simulation not found")

// SimStore defines the interface for simulation persistence and event
// streaming. Implementations must be safe for concurrent use.
type SimStore interface {
	// Simulation lifecycle
	CreateSim(ctx context.Context, name string, graph *types.Graph, graphID string) (string, error)
	GetSim(ctx context.Context, simID string) (*types.Sim, error)
	GetSimMeta(ctx context.Context, simID string) (*types.SimMeta, error)
	ListSims(ctx context.Context) ([]string, error)
	UpdateSimStatus(ctx context.Context, simID string, status types.SimStatus, startedAt, stoppedAt *time.Time) error
	UpdateSimGraph(ctx context.Context, simID string, graph *types.Graph) error

	// UpdateSimOptions records the options of the most recent start, so a
	// rebuilt session (or a reader) sees how the simulation was launched.
	UpdateSimOptions(ctx context.Context, simID string, autoLoop bool, vars map[string]any) error
	DeleteSim(ctx context.Context, simID string) error

	// Event streaming
	// AppendEvent adds an event to the simulation's stream and returns it.
	AppendEvent(ctx context.Context, simID string, input *types.EventInput) (*types.Event, error)

	// GetEventsSince returns events after the given event ID (exclusive).
	// An empty lastEventID returns everything retained.
	GetEventsSince(ctx context.Context, simID string, lastEventID string) ([]*types.Event, error)

	// Subscribe returns a channel that receives new events for the
	// simulation. The cleanup function must be called to release resources.
	Subscribe(ctx context.Context, simID string) (<-chan *types.Event, func(), error)

	// Diagnostics
	AdapterInfo(ctx context.Context) (map[string]any, error)

	// Cleanup
	Close() error
}

// Config holds configuration for SimStore implementations.
type Config struct {
	// Maximum number of events retained per simulation (ring buffer).
	EventMaxLen int64

	// TTL for simulation data (0 = no expiry). Only meaningful for
	// implementations with external storage.
	TTL time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		EventMaxLen: 5000,
		TTL:         24 * time.Hour,
	}
}
