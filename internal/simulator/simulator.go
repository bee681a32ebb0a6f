// Package simulator manages live simulation sessions: one engine instance per
// simulation, bridged to the simulation store's event stream.
package simulator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flowpulse/flowpulse/internal/engine"
	"github.com/flowpulse/flowpulse/internal/metrics"
	"github.com/flowpulse/flowpulse/internal/simstore"
	"github.com/flowpulse/flowpulse/pkg/types"
)

// eventBufferSize caps the per-session queue between engine callbacks and
// the store writer. Callbacks run under the engine lock, so store writes
// (potentially network I/O) happen on a separate goroutine.
const eventBufferSize = 256

// session couples an engine to its event writer goroutine.
type session struct {
	id       string
	eng      *engine.Engine
	events   chan *types.EventInput
	done     chan struct{}
	mu       sync.Mutex
	stopping bool
	running  bool
}

// Manager owns all live simulation sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*session

	store  simstore.SimStore
	logger *slog.Logger

	loopPause  time.Duration
	defaultDur time.Duration
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger overrides the manager's logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithLoopPause sets the auto-loop restart pause for new sessions.
func WithLoopPause(d time.Duration) ManagerOption {
	return func(m *Manager) { m.loopPause = d }
}

// WithDefaultEdgeDuration sets the fallback edge duration for new sessions.
func WithDefaultEdgeDuration(d time.Duration) ManagerOption {
	return func(m *Manager) { m.defaultDur = d }
}

// NewManager creates a session manager backed by the given store.
func NewManager(store simstore.SimStore, opts ...ManagerOption) *Manager {
	m := &Manager{
		sessions:   make(map[string]*session),
		store:      store,
		logger:     slog.Default(),
		loopPause:  engine.DefaultLoopPause,
		defaultDur: engine.DefaultEdgeDuration,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateSim registers a new simulation over the given graph snapshot and
// returns its id. The simulation starts idle.
func (m *Manager) CreateSim(ctx context.Context, name string, graph *types.Graph, graphID string) (string, error) {
	simID, err := m.store.CreateSim(ctx, name, graph, graphID)
	if err != nil {
		metrics.StoreOperations.WithLabelValues("create", "error").Inc()
		return "", fmt.Errorf("create sim: %w", err)
	}
	metrics.StoreOperations.WithLabelValues("create", "success").Inc()
	metrics.SimsTotal.Inc()

	m.mu.Lock()
	m.sessions[simID] = m.newSession(simID, graph)
	m.mu.Unlock()

	m.logger.Info("simulation created",
		slog.String("sim_id", simID),
		slog.String("name", name),
		slog.Int("nodes", len(graph.Nodes)),
		slog.Int("edges", len(graph.Edges)),
	)

	return simID, nil
}

// newSession builds a session whose engine callbacks feed the event queue.
func (m *Manager) newSession(simID string, graph *types.Graph) *session {
	sess := &session{
		id:     simID,
		events: make(chan *types.EventInput, eventBufferSize),
		done:   make(chan struct{}),
	}

	onEdges := func(active engine.EdgeSet) {
		ids := make([]string, 0, len(active))
		for id := range active {
			ids = append(ids, id)
		}
		typ := types.EventTypeWaveAdvanced
		if len(ids) > 0 {
			typ = types.EventTypeWaveStarted
			metrics.WavesTotal.Inc()
			metrics.EdgeActivationsTotal.Add(float64(len(ids)))
		} else if sess.isStopping() {
			typ = types.EventTypeFlowCleared
		}
		sess.emit(&types.EventInput{
			Type: typ,
			Data: types.WaveEvent{ActiveEdges: ids},
		})
	}

	onNode := func(nodeID string) {
		sess.emit(&types.EventInput{
			Type:   types.EventTypeNodeReached,
			NodeID: nodeID,
		})
	}

	onLoop := func() {
		metrics.LoopRestartsTotal.Inc()
		sess.emit(&types.EventInput{Type: types.EventTypeLoopRestarted})
	}

	// The engine goes idle on its own when a non-looping run hits a dead
	// end; without this the active gauge stays elevated until an explicit
	// stop.
	onIdle := func() {
		if sess.markIdle() {
			metrics.SimsActive.Dec()
		}
	}

	sess.eng = engine.New(onEdges, onNode,
		engine.WithLoopPause(m.loopPause),
		engine.WithDefaultEdgeDuration(m.defaultDur),
		engine.WithLoopCallback(onLoop),
		engine.WithIdleCallback(onIdle),
		engine.WithLogger(m.logger),
	)
	if graph != nil {
		sess.eng.UpdateData(graph.Nodes, graph.Edges)
	}

	go m.drainEvents(sess)

	return sess
}

// drainEvents writes queued events to the store until the session closes.
func (m *Manager) drainEvents(sess *session) {
	for {
		select {
		case input := <-sess.events:
			if _, err := m.store.AppendEvent(context.Background(), sess.id, input); err != nil {
				m.logger.Warn("failed to append event",
					slog.String("sim_id", sess.id),
					slog.String("type", string(input.Type)),
					slog.Any("error", err),
				)
				continue
			}
			metrics.EventsTotal.WithLabelValues(string(input.Type)).Inc()
		case <-sess.done:
			return
		}
	}
}

// emit queues an event without blocking. A full queue drops the event.
func (s *session) emit(input *types.EventInput) {
	select {
	case s.events <- input:
	default:
	}
}

func (s *session) isStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

// markIdle flips the running flag off, reporting whether it was on.
func (s *session) markIdle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.running
	s.running = false
	return was
}

// getSession returns the live session, rebuilding it from the stored graph
// when missing (e.g. after a restart with an external store).
func (m *Manager) getSession(ctx context.Context, simID string) (*session, error) {
	m.mu.RLock()
	sess, ok := m.sessions[simID]
	m.mu.RUnlock()
	if ok {
		return sess, nil
	}

	sim, err := m.store.GetSim(ctx, simID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[simID]; ok {
		return sess, nil
	}
	sess = m.newSession(simID, sim.Graph)
	m.sessions[simID] = sess
	return sess, nil
}

// Start begins (or restarts) a simulation. An empty startNodeIDs selects the
// graph's root set. vars are exposed to edge condition expressions.
func (m *Manager) Start(ctx context.Context, simID string, startNodeIDs []string, autoLoop bool, vars map[string]any) error {
	sess, err := m.getSession(ctx, simID)
	if err != nil {
		return err
	}

	if len(startNodeIDs) == 0 {
		sim, err := m.store.GetSim(ctx, simID)
		if err != nil {
			return err
		}
		if sim.Graph != nil {
			startNodeIDs = sim.Graph.Roots()
		}
	}

	if vars != nil {
		sess.eng.SetVars(vars)
	}

	if err := m.store.UpdateSimOptions(ctx, simID, autoLoop, vars); err != nil {
		metrics.StoreOperations.WithLabelValues("update", "error").Inc()
		return fmt.Errorf("update sim options: %w", err)
	}

	sess.mu.Lock()
	wasRunning := sess.running
	sess.running = true
	sess.mu.Unlock()

	// Gauge before Start: an empty start set dead-ends synchronously, and
	// the idle callback's decrement must see this increment.
	if !wasRunning {
		metrics.SimsActive.Inc()
	}

	sess.eng.Start(startNodeIDs, autoLoop)

	now := time.Now().UTC()
	if err := m.store.UpdateSimStatus(ctx, simID, types.SimStatusRunning, &now, nil); err != nil {
		metrics.StoreOperations.WithLabelValues("update", "error").Inc()
		return fmt.Errorf("update sim status: %w", err)
	}
	metrics.StoreOperations.WithLabelValues("update", "success").Inc()

	sess.emit(&types.EventInput{
		Type: types.EventTypeSimStatus,
		Data: types.StatusEvent{Status: types.SimStatusRunning},
	})

	m.logger.Info("simulation started",
		slog.String("sim_id", simID),
		slog.Int("start_nodes", len(startNodeIDs)),
		slog.Bool("auto_loop", autoLoop),
	)

	return nil
}

// Stop halts a simulation and clears its active set. Idempotent.
func (m *Manager) Stop(ctx context.Context, simID string) error {
	sess, err := m.getSession(ctx, simID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	wasRunning := sess.running
	sess.running = false
	sess.stopping = true
	sess.mu.Unlock()

	sess.eng.Stop()

	sess.mu.Lock()
	sess.stopping = false
	sess.mu.Unlock()

	if wasRunning {
		metrics.SimsActive.Dec()
	}

	now := time.Now().UTC()
	if err := m.store.UpdateSimStatus(ctx, simID, types.SimStatusStopped, nil, &now); err != nil {
		metrics.StoreOperations.WithLabelValues("update", "error").Inc()
		return fmt.Errorf("update sim status: %w", err)
	}
	metrics.StoreOperations.WithLabelValues("update", "success").Inc()

	sess.emit(&types.EventInput{
		Type: types.EventTypeSimStatus,
		Data: types.StatusEvent{Status: types.SimStatusStopped},
	})

	m.logger.Info("simulation stopped", slog.String("sim_id", simID))

	return nil
}

// UpdateGraph replaces the simulation's graph snapshot. A wave already in
// flight finishes against the old snapshot's active edges; the next wave
// uses the new one.
func (m *Manager) UpdateGraph(ctx context.Context, simID string, graph *types.Graph) error {
	sess, err := m.getSession(ctx, simID)
	if err != nil {
		return err
	}

	if err := m.store.UpdateSimGraph(ctx, simID, graph); err != nil {
		return fmt.Errorf("update sim graph: %w", err)
	}

	sess.eng.UpdateData(graph.Nodes, graph.Edges)

	m.logger.Info("simulation graph updated",
		slog.String("sim_id", simID),
		slog.Int("nodes", len(graph.Nodes)),
		slog.Int("edges", len(graph.Edges)),
	)

	return nil
}

// GetSim returns the stored simulation overlaid with live engine state.
func (m *Manager) GetSim(ctx context.Context, simID string) (*types.Sim, error) {
	sim, err := m.store.GetSim(ctx, simID)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	sess, ok := m.sessions[simID]
	m.mu.RUnlock()
	if ok && sim.Status == types.SimStatusRunning && !sess.eng.Running() {
		// The engine hit a dead end on its own; the stored status lags.
		sim.Status = types.SimStatusStopped
	}

	return sim, nil
}

// ActiveEdges returns the ids of edges currently mid-traversal.
func (m *Manager) ActiveEdges(ctx context.Context, simID string) ([]string, error) {
	sess, err := m.getSession(ctx, simID)
	if err != nil {
		return nil, err
	}

	set := sess.eng.ActiveEdges()
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids, nil
}

// ListSims returns metadata for all known simulations.
func (m *Manager) ListSims(ctx context.Context) ([]*types.SimMeta, error) {
	ids, err := m.store.ListSims(ctx)
	if err != nil {
		return nil, err
	}

	metas := make([]*types.SimMeta, 0, len(ids))
	for _, id := range ids {
		meta, err := m.store.GetSimMeta(ctx, id)
		if err != nil {
			continue // Deleted between list and get
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

// RemoveSim stops the engine, tears down the session, and deletes the
// simulation from the store.
func (m *Manager) RemoveSim(ctx context.Context, simID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[simID]
	if ok {
		delete(m.sessions, simID)
	}
	m.mu.Unlock()

	if ok {
		sess.mu.Lock()
		wasRunning := sess.running
		sess.running = false
		sess.stopping = true
		sess.mu.Unlock()

		sess.eng.Stop()
		close(sess.done)

		if wasRunning {
			metrics.SimsActive.Dec()
		}
	}

	if err := m.store.DeleteSim(ctx, simID); err != nil {
		metrics.StoreOperations.WithLabelValues("delete", "error").Inc()
		return err
	}
	metrics.StoreOperations.WithLabelValues("delete", "success").Inc()

	m.logger.Info("simulation removed", slog.String("sim_id", simID))

	return nil
}

// Close stops all sessions. The store is not closed; its owner does that.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, sess := range m.sessions {
		if sess.markIdle() {
			metrics.SimsActive.Dec()
		}
		sess.eng.Stop()
		close(sess.done)
		delete(m.sessions, id)
	}
}
