package simstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowpulse/flowpulse/pkg/types"
)

// memorySim holds all state for a single simulation in memory.
type memorySim struct {
	mu          sync.RWMutex
	id          string
	name        string
	graph       *types.Graph
	graphID     string
	status      types.SimStatus
	autoLoop    bool
	vars        map[string]any
	startedAt   *time.Time
	stoppedAt   *time.Time
	events      []*types.Event
	nextSeq     int64
	maxEvents   int64
	subscribers map[chan *types.Event]struct{}
	createdAt   time.Time
	updatedAt   time.Time
}

// MemoryStore is an in-memory implementation of SimStore.
// Suitable for development and testing. Data is lost on restart.
type MemoryStore struct {
	mu     sync.RWMutex
	sims   map[string]*memorySim
	config *Config
}

// NewMemoryStore creates a new in-memory SimStore.
func NewMemoryStore(cfg *Config) *MemoryStore {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &MemoryStore{
		sims:   make(map[string]*memorySim),
		config: cfg,
	}
}

func (s *MemoryStore) CreateSim(ctx context.Context, name string, graph *types.Graph, graphID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	simID := uuid.New().String()
	now := time.Now().UTC()

	s.sims[simID] = &memorySim{
		id:          simID,
		name:        name,
		graph:       graph,
		graphID:     graphID,
		status:      types.SimStatusCreated,
		events:      make([]*types.Event, 0),
		nextSeq:     1,
		maxEvents:   s.config.EventMaxLen,
		subscribers: make(map[chan *types.Event]struct{}),
		createdAt:   now,
		updatedAt:   now,
	}

	return simID, nil
}

func (s *MemoryStore) get(simID string) (*memorySim, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sim, ok := s.sims[simID]
	return sim, ok
}

func (s *MemoryStore) GetSim(ctx context.Context, simID string) (*types.Sim, error) {
	sim, ok := s.get(simID)
	if !ok {
		return nil, ErrSimNotFound
	}

	sim.mu.RLock()
	defer sim.mu.RUnlock()

	return &types.Sim{
		ID:        sim.id,
		Name:      sim.name,
		Status:    sim.status,
		Graph:     sim.graph,
		GraphID:   sim.graphID,
		AutoLoop:  sim.autoLoop,
		Vars:      sim.vars,
		StartedAt: sim.startedAt,
		StoppedAt: sim.stoppedAt,
		CreatedAt: sim.createdAt,
		UpdatedAt: sim.updatedAt,
	}, nil
}

func (s *MemoryStore) GetSimMeta(ctx context.Context, simID string) (*types.SimMeta, error) {
	sim, ok := s.get(simID)
	if !ok {
		return nil, ErrSimNotFound
	}

	sim.mu.RLock()
	defer sim.mu.RUnlock()

	return &types.SimMeta{
		ID:        sim.id,
		Name:      sim.name,
		Status:    sim.status,
		GraphID:   sim.graphID,
		StartedAt: sim.startedAt,
		StoppedAt: sim.stoppedAt,
		CreatedAt: sim.createdAt,
		UpdatedAt: sim.updatedAt,
	}, nil
}

func (s *MemoryStore) ListSims(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.sims))
	for id := range s.sims {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *MemoryStore) UpdateSimStatus(ctx context.Context, simID string, status types.SimStatus, startedAt, stoppedAt *time.Time) error {
	sim, ok := s.get(simID)
	if !ok {
		return ErrSimNotFound
	}

	sim.mu.Lock()
	defer sim.mu.Unlock()

	sim.status = status
	if startedAt != nil {
		sim.startedAt = startedAt
	}
	if stoppedAt != nil {
		sim.stoppedAt = stoppedAt
	}
	sim.updatedAt = time.Now().UTC()

	return nil
}

func (s *MemoryStore) UpdateSimGraph(ctx context.Context, simID string, graph *types.Graph) error {
	sim, ok := s.get(simID)
	if !ok {
		return ErrSimNotFound
	}

	sim.mu.Lock()
	defer sim.mu.Unlock()

	sim.graph = graph
	sim.updatedAt = time.Now().UTC()

	return nil
}

func (s *MemoryStore) UpdateSimOptions(ctx context.Context, simID string, autoLoop bool, vars map[string]any) error {
	sim, ok := s.get(simID)
	if !ok {
		return ErrSimNotFound
	}

	sim.mu.Lock()
	defer sim.mu.Unlock()

	sim.autoLoop = autoLoop
	if vars == nil {
		sim.vars = nil
	} else {
		sim.vars = make(map[string]any, len(vars))
		for k, v := range vars {
			sim.vars[k] = v
		}
	}
	sim.updatedAt = time.Now().UTC()

	return nil
}

func (s *MemoryStore) DeleteSim(ctx context.Context, simID string) error {
	s.mu.Lock()
	sim, ok := s.sims[simID]
	if !ok {
		s.mu.Unlock()
		return ErrSimNotFound
	}
	delete(s.sims, simID)
	s.mu.Unlock()

	// Closing subscriber channels ends any attached SSE streams.
	sim.mu.Lock()
	for ch := range sim.subscribers {
		close(ch)
	}
	sim.subscribers = make(map[chan *types.Event]struct{})
	sim.mu.Unlock()

	return nil
}

func (s *MemoryStore) AppendEvent(ctx context.Context, simID string, input *types.EventInput) (*types.Event, error) {
	sim, ok := s.get(simID)
	if !ok {
		return nil, ErrSimNotFound
	}

	sim.mu.Lock()

	eventID := fmt.Sprintf("%d", sim.nextSeq)
	sim.nextSeq++

	dataJSON, err := json.Marshal(input.Data)
	if err != nil {
		sim.mu.Unlock()
		return nil, fmt.Errorf("marshal event data: %w", err)
	}

	event := &types.Event{
		ID:        eventID,
		SimID:     simID,
		Type:      input.Type,
		NodeID:    input.NodeID,
		Timestamp: time.Now().UTC(),
		Data:      dataJSON,
	}

	// Ring buffer: drop the oldest event past the retention limit.
	if int64(len(sim.events)) >= sim.maxEvents {
		sim.events = sim.events[1:]
	}
	sim.events = append(sim.events, event)
	sim.updatedAt = time.Now().UTC()

	// Copy subscribers so delivery happens outside the lock.
	subs := make([]chan *types.Event, 0, len(sim.subscribers))
	for ch := range sim.subscribers {
		subs = append(subs, ch)
	}
	sim.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			// Subscriber too slow, skip.
		}
	}

	return event, nil
}

func (s *MemoryStore) GetEventsSince(ctx context.Context, simID string, lastEventID string) ([]*types.Event, error) {
	sim, ok := s.get(simID)
	if !ok {
		return nil, ErrSimNotFound
	}

	sim.mu.RLock()
	defer sim.mu.RUnlock()

	if lastEventID == "" {
		result := make([]*types.Event, len(sim.events))
		copy(result, sim.events)
		return result, nil
	}

	var result []*types.Event
	found := false
	for _, evt := range sim.events {
		if found {
			result = append(result, evt)
		}
		if evt.ID == lastEventID {
			found = true
		}
	}

	return result, nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, simID string) (<-chan *types.Event, func(), error) {
	sim, ok := s.get(simID)
	if !ok {
		return nil, nil, ErrSimNotFound
	}

	ch := make(chan *types.Event, 100)

	sim.mu.Lock()
	sim.subscribers[ch] = struct{}{}
	sim.mu.Unlock()

	cleanup := func() {
		sim.mu.Lock()
		delete(sim.subscribers, ch)
		sim.mu.Unlock()
	}

	return ch, cleanup, nil
}

func (s *MemoryStore) AdapterInfo(ctx context.Context) (map[string]any, error) {
	s.mu.RLock()
	simCount := len(s.sims)
	s.mu.RUnlock()

	return map[string]any{
		"adapter":    "memory",
		"sim_count":  simCount,
		"max_events": s.config.EventMaxLen,
	}, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sim := range s.sims {
		sim.mu.Lock()
		for ch := range sim.subscribers {
			close(ch)
		}
		sim.subscribers = nil
		sim.mu.Unlock()
	}

	return nil
}

// Verify interface compliance
var _ SimStore = (*MemoryStore)(nil)
