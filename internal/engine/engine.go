// Package engine implements the wave-stepping flow simulator at the heart of
// flowpulse. The engine walks a directed graph wave by wave: every step it
// activates the outgoing edges of the current frontier, waits out the slowest
// edge of the wave on a timer, deactivates them, reports the nodes reached,
// and recurses into the next frontier. Reaching nodes with no outgoing edges
// either ends the run or, in auto-loop mode, restarts it from the graph's
// root set after a short pause.
//
// The engine renders nothing; it only signals activation changes to the host
// through callbacks supplied at construction.
package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/flowpulse/flowpulse/pkg/types"
)

const (
	// DefaultEdgeDuration is the traversal time for edges without one.
	DefaultEdgeDuration = 2 * time.Second

	// DefaultLoopPause is the rest between a wave reaching a dead end and
	// the auto-loop restart from the root set.
	DefaultLoopPause = 900 * time.Millisecond
)

// EdgeSet holds the ids of edges currently mid-traversal. Sets handed to
// callbacks are copies; mutating them has no effect on the engine.
type EdgeSet map[string]struct{}

// EdgesFunc receives the full active-edge set every time activation state
// changes.
type EdgesFunc func(active EdgeSet)

// NodeFunc receives a node id when a wave reaches that node.
type NodeFunc func(nodeID string)

// Option configures an Engine.
type Option func(*Engine)

// WithLoopPause overrides the pause before an auto-loop restart.
func WithLoopPause(d time.Duration) Option {
	return func(e *Engine) { e.loopPause = d }
}

// WithDefaultEdgeDuration overrides the duration used for edges that carry
// none of their own.
func WithDefaultEdgeDuration(d time.Duration) Option {
	return func(e *Engine) { e.defaultDur = d }
}

// WithLoopCallback registers a callback invoked each time the simulation
// restarts from the root set in auto-loop mode.
func WithLoopCallback(fn func()) Option {
	return func(e *Engine) { e.onLoop = fn }
}

// WithIdleCallback registers a callback invoked when a run ends on its own:
// the wave hit a dead end with auto-loop disabled. Stop and restarts do not
// trigger it.
func WithIdleCallback(fn func()) Option {
	return func(e *Engine) { e.onIdle = fn }
}

// WithLogger overrides the logger used for condition-evaluation warnings.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// Engine simulates discrete waves of data flowing along directed edges.
//
// One engine serves one editor session. All operations and internal timer
// continuations are serialized by a single mutex, so callbacks observe
// activation changes in exact step order. Callbacks are invoked with that
// lock held and must not call back into the engine.
type Engine struct {
	mu sync.Mutex

	nodes []types.Node
	edges []types.Edge
	vars  map[string]any

	// active maps edge id to activation time, for animation keying.
	active  map[string]time.Time
	running bool

	// gen invalidates scheduled continuations. Stop and Start bump it, so a
	// timer that already fired but is waiting on the mutex becomes a no-op.
	// timer.Stop alone is not enough: the callback may be in flight.
	gen   uint64
	timer *time.Timer

	onEdges EdgesFunc
	onNode  NodeFunc
	onLoop  func()
	onIdle  func()

	eval       *Evaluator
	loopPause  time.Duration
	defaultDur time.Duration
	logger     *slog.Logger
}

// New creates an idle engine. onEdges is required; onNode may be nil if the
// host does not animate node arrivals.
func New(onEdges EdgesFunc, onNode NodeFunc, opts ...Option) *Engine {
	e := &Engine{
		active:     make(map[string]time.Time),
		onEdges:    onEdges,
		onNode:     onNode,
		eval:       NewEvaluator(),
		loopPause:  DefaultLoopPause,
		defaultDur: DefaultEdgeDuration,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// UpdateData replaces the engine's graph snapshot. Safe to call at any time,
// including mid-simulation: a wave whose completion timer is already pending
// still deactivates the edges it activated, but the next wave's outgoing
// lookup uses the new snapshot.
func (e *Engine) UpdateData(nodes []types.Node, edges []types.Edge) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nodes = append([]types.Node(nil), nodes...)
	e.edges = append([]types.Edge(nil), edges...)
}

// SetVars replaces the variables edge conditions are evaluated against.
func (e *Engine) SetVars(vars map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.vars = make(map[string]any, len(vars))
	for k, v := range vars {
		e.vars[k] = v
	}
}

// Start begins a simulation from the given nodes, cancelling any run already
// in progress. The internal cancel does not emit a cleared notification:
// restarting should look like a continuation to the host, not a flicker to
// empty and back. An empty start set performs no work unless autoLoop is
// set, in which case the root set takes over after the loop pause.
func (e *Engine) Start(startNodeIDs []string, autoLoop bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cancelLocked()
	e.running = true
	e.stepLocked(e.gen, startNodeIDs, autoLoop)
}

// Stop cancels the run, clears the active set, and synchronously notifies
// the host with an empty set. Idempotent: stopping an idle engine emits the
// (harmless) empty notification again and nothing else.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cancelLocked()
	e.notifyEdgesLocked()
}

// Running reports whether a simulation is in progress. A run that reached a
// dead end with autoLoop disabled counts as stopped.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// ActiveEdges returns a copy of the current active-edge set.
func (e *Engine) ActiveEdges() EdgeSet {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeCopyLocked()
}

// cancelLocked invalidates pending continuations and resets to idle without
// notifying.
func (e *Engine) cancelLocked() {
	e.gen++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.active = make(map[string]time.Time)
	e.running = false
}

// stepLocked runs one wave step for the given frontier. gen is the
// generation the step belongs to; stale steps return immediately.
func (e *Engine) stepLocked(gen uint64, frontier []string, autoLoop bool) {
	if !e.running || gen != e.gen {
		return
	}

	outgoing := e.outgoingLocked(frontier)

	if len(outgoing) == 0 {
		if !autoLoop {
			// Dead end: the run ends silently.
			e.running = false
			if e.onIdle != nil {
				e.onIdle()
			}
			return
		}
		e.timer = time.AfterFunc(e.loopPause, func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if !e.running || gen != e.gen {
				return
			}
			if e.onLoop != nil {
				e.onLoop()
			}
			g := types.Graph{Nodes: e.nodes, Edges: e.edges}
			e.stepLocked(gen, g.Roots(), autoLoop)
		})
		return
	}

	now := time.Now()
	waveIDs := make([]string, 0, len(outgoing))
	var delay time.Duration
	for _, edge := range outgoing {
		e.active[edge.ID] = now
		waveIDs = append(waveIDs, edge.ID)
		if d := e.edgeDuration(edge); d > delay {
			delay = d
		}
	}
	e.notifyEdgesLocked()

	// The frontier for the next step is fixed now: a graph update while the
	// completion timer is pending must not change which edges deactivate.
	next := dedupeTargets(outgoing)

	e.timer = time.AfterFunc(delay, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if !e.running || gen != e.gen {
			return
		}
		for _, id := range waveIDs {
			delete(e.active, id)
		}
		e.notifyEdgesLocked()
		if e.onNode != nil {
			for _, nodeID := range next {
				e.onNode(nodeID)
			}
		}
		e.stepLocked(gen, next, autoLoop)
	})
}

// outgoingLocked returns the edges leaving the frontier in the current
// snapshot, excluding edges whose condition evaluates false or fails to
// evaluate. Edges referencing unknown nodes are not special-cased: they
// simply never match a frontier.
func (e *Engine) outgoingLocked(frontier []string) []types.Edge {
	if len(frontier) == 0 {
		return nil
	}
	from := make(map[string]struct{}, len(frontier))
	for _, id := range frontier {
		from[id] = struct{}{}
	}

	var out []types.Edge
	for _, edge := range e.edges {
		if _, ok := from[edge.Source]; !ok {
			continue
		}
		if edge.Condition != "" {
			pass, err := e.eval.Bool(edge.Condition, e.vars)
			if err != nil {
				e.logger.Warn("edge condition failed, skipping edge",
					slog.String("edge_id", edge.ID),
					slog.Any("error", err),
				)
				continue
			}
			if !pass {
				continue
			}
		}
		out = append(out, edge)
	}
	return out
}

func (e *Engine) edgeDuration(edge types.Edge) time.Duration {
	if edge.DurationSeconds > 0 {
		return time.Duration(edge.DurationSeconds * float64(time.Second))
	}
	return e.defaultDur
}

func (e *Engine) notifyEdgesLocked() {
	if e.onEdges == nil {
		return
	}
	e.onEdges(e.activeCopyLocked())
}

func (e *Engine) activeCopyLocked() EdgeSet {
	set := make(EdgeSet, len(e.active))
	for id := range e.active {
		set[id] = struct{}{}
	}
	return set
}

// dedupeTargets returns the distinct targets of a wave in first-seen order.
func dedupeTargets(edges []types.Edge) []string {
	seen := make(map[string]struct{}, len(edges))
	var targets []string
	for _, edge := range edges {
		if _, ok := seen[edge.Target]; ok {
			continue
		}
		seen[edge.Target] = struct{}{}
		targets = append(targets, edge.Target)
	}
	return targets
}
