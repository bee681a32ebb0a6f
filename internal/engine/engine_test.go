package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/flowpulse/flowpulse/pkg/types"
)

// recorder captures engine callbacks for assertions. It never calls back
// into the engine.
type recorder struct {
	mu      sync.Mutex
	updates []EdgeSet
	nodes   []string
	loops   int
}

func (r *recorder) onEdges(set EdgeSet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, set)
}

func (r *recorder) onNode(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes = append(r.nodes, nodeID)
}

func (r *recorder) onLoop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loops++
}

func (r *recorder) snapshot() ([]EdgeSet, []string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	updates := append([]EdgeSet(nil), r.updates...)
	nodes := append([]string(nil), r.nodes...)
	return updates, nodes, r.loops
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func nodes(ids ...string) []types.Node {
	out := make([]types.Node, len(ids))
	for i, id := range ids {
		out[i] = types.Node{ID: id}
	}
	return out
}

func TestEngine_NoActivityBeforeStart(t *testing.T) {
	rec := &recorder{}
	e := New(rec.onEdges, rec.onNode)
	e.UpdateData(nodes("a", "b"), []types.Edge{
		{ID: "e1", Source: "a", Target: "b", DurationSeconds: 0.01},
	})

	time.Sleep(50 * time.Millisecond)

	updates, reached, _ := rec.snapshot()
	if len(updates) != 0 || len(reached) != 0 {
		t.Fatalf("expected no callbacks before Start, got %d updates, %d nodes", len(updates), len(reached))
	}
	if e.Running() {
		t.Error("engine should be idle before Start")
	}
}

func TestEngine_SingleEdgePropagation(t *testing.T) {
	rec := &recorder{}
	e := New(rec.onEdges, rec.onNode)
	e.UpdateData(nodes("a", "b"), []types.Edge{
		{ID: "e1", Source: "a", Target: "b", DurationSeconds: 0.05},
	})

	e.Start([]string{"a"}, false)

	// Activation is synchronous with Start.
	updates, _, _ := rec.snapshot()
	if len(updates) != 1 {
		t.Fatalf("expected 1 update after Start, got %d", len(updates))
	}
	if _, ok := updates[0]["e1"]; !ok || len(updates[0]) != 1 {
		t.Fatalf("expected first update to be {e1}, got %v", updates[0])
	}

	waitFor(t, 2*time.Second, func() bool {
		u, n, _ := rec.snapshot()
		return len(u) == 2 && len(n) == 1
	})

	updates, reached, _ := rec.snapshot()
	if len(updates[1]) != 0 {
		t.Errorf("expected second update to be empty, got %v", updates[1])
	}
	if reached[0] != "b" {
		t.Errorf("expected node b reached, got %q", reached[0])
	}

	// b has no outgoing edges and autoLoop is off: nothing further.
	time.Sleep(100 * time.Millisecond)
	updates, reached, _ = rec.snapshot()
	if len(updates) != 2 || len(reached) != 1 {
		t.Errorf("expected no further activity, got %d updates, %d nodes", len(updates), len(reached))
	}
	if e.Running() {
		t.Error("engine should be idle after the dead end")
	}
}

func TestEngine_FanOutUsesMaxDuration(t *testing.T) {
	rec := &recorder{}
	e := New(rec.onEdges, rec.onNode)
	e.UpdateData(nodes("a", "b", "c"), []types.Edge{
		{ID: "fast", Source: "a", Target: "b", DurationSeconds: 0.03},
		{ID: "slow", Source: "a", Target: "c", DurationSeconds: 0.4},
	})

	e.Start([]string{"a"}, false)

	// Well past the fast edge but well before the slow one: both must
	// still be active, and no deactivation update observed yet.
	time.Sleep(150 * time.Millisecond)
	active := e.ActiveEdges()
	if len(active) != 2 {
		t.Fatalf("expected both edges active mid-wave, got %v", active)
	}
	updates, _, _ := rec.snapshot()
	if len(updates) != 1 {
		t.Fatalf("wave advanced before the slow edge completed: %d updates", len(updates))
	}

	waitFor(t, 2*time.Second, func() bool {
		u, _, _ := rec.snapshot()
		return len(u) == 2
	})

	_, reached, _ := rec.snapshot()
	if len(reached) != 2 {
		t.Fatalf("expected both targets reached together, got %v", reached)
	}
}

func TestEngine_StopClearsState(t *testing.T) {
	rec := &recorder{}
	e := New(rec.onEdges, rec.onNode)
	e.UpdateData(nodes("a", "b", "c"), []types.Edge{
		{ID: "e1", Source: "a", Target: "b", DurationSeconds: 0.2},
		{ID: "e2", Source: "b", Target: "c", DurationSeconds: 0.2},
	})

	e.Start([]string{"a"}, false)
	e.Stop()

	updates, _, _ := rec.snapshot()
	if len(updates) == 0 {
		t.Fatal("expected at least one update")
	}
	last := updates[len(updates)-1]
	if len(last) != 0 {
		t.Errorf("final update after Stop must be empty, got %v", last)
	}
	if e.Running() {
		t.Error("engine should be idle after Stop")
	}

	// The wave's completion timer must have no further effect.
	before := len(updates)
	time.Sleep(400 * time.Millisecond)
	updates, reached, _ := rec.snapshot()
	if len(updates) != before {
		t.Errorf("stale timer fired after Stop: %d -> %d updates", before, len(updates))
	}
	if len(reached) != 0 {
		t.Errorf("no node should be reached after Stop, got %v", reached)
	}
}

func TestEngine_StopIsIdempotent(t *testing.T) {
	rec := &recorder{}
	e := New(rec.onEdges, nil)

	// Each Stop emits its own (harmless) empty notification.
	e.Stop()
	e.Stop()

	updates, _, _ := rec.snapshot()
	if len(updates) != 2 {
		t.Fatalf("expected 2 empty updates, got %d", len(updates))
	}
	for i, u := range updates {
		if len(u) != 0 {
			t.Errorf("update %d should be empty, got %v", i, u)
		}
	}
}

func TestEngine_AutoLoopRestartsAtRoots(t *testing.T) {
	rec := &recorder{}
	e := New(rec.onEdges, rec.onNode, WithLoopPause(40*time.Millisecond), WithLoopCallback(rec.onLoop))
	e.UpdateData(nodes("a", "b"), []types.Edge{
		{ID: "e1", Source: "a", Target: "b", DurationSeconds: 0.03},
	})

	e.Start([]string{"a"}, true)
	defer e.Stop()

	// e1 must activate a second time without another Start call.
	waitFor(t, 3*time.Second, func() bool {
		updates, _, loops := rec.snapshot()
		activations := 0
		for _, u := range updates {
			if _, ok := u["e1"]; ok {
				activations++
			}
		}
		return activations >= 2 && loops >= 1
	})
}

func TestEngine_AutoLoopRootFallbackInCycle(t *testing.T) {
	rec := &recorder{}
	e := New(rec.onEdges, nil, WithLoopPause(30*time.Millisecond))
	// Pure cycle: no true root. Restart falls back to the first node in
	// snapshot order rather than stalling.
	e.UpdateData(nodes("a", "b"), []types.Edge{
		{ID: "ab", Source: "a", Target: "b", DurationSeconds: 0.02},
		{ID: "ba", Source: "b", Target: "a", DurationSeconds: 0.02},
	})

	// Empty start set with autoLoop: the loop pause elapses, then the
	// fallback root takes over.
	e.Start(nil, true)
	defer e.Stop()

	waitFor(t, 2*time.Second, func() bool {
		updates, _, _ := rec.snapshot()
		for _, u := range updates {
			if _, ok := u["ab"]; ok {
				return true
			}
		}
		return false
	})
}

func TestEngine_UpdateDataMidFlight(t *testing.T) {
	rec := &recorder{}
	e := New(rec.onEdges, rec.onNode)
	e.UpdateData(nodes("a", "b"), []types.Edge{
		{ID: "e1", Source: "a", Target: "b", DurationSeconds: 0.08},
	})

	e.Start([]string{"a"}, false)

	// Replace the graph while e1's completion timer is pending.
	e.UpdateData(nodes("x", "y"), []types.Edge{
		{ID: "e2", Source: "x", Target: "y", DurationSeconds: 0.01},
	})

	waitFor(t, 2*time.Second, func() bool {
		u, _, _ := rec.snapshot()
		return len(u) == 2
	})

	updates, reached, _ := rec.snapshot()
	// The in-flight wave still deactivates e1 and reaches b; the new
	// snapshot only affects the next outgoing lookup (b has no edges in
	// it, so the run ends).
	if len(updates[1]) != 0 {
		t.Errorf("expected e1 deactivated, got %v", updates[1])
	}
	if len(reached) != 1 || reached[0] != "b" {
		t.Errorf("expected b reached, got %v", reached)
	}
	for _, u := range updates {
		if _, ok := u["e2"]; ok {
			t.Error("e2 must not activate without a frontier reaching x")
		}
	}
}

func TestEngine_RestartIsContinuation(t *testing.T) {
	rec := &recorder{}
	e := New(rec.onEdges, nil)
	e.UpdateData(nodes("a", "b"), []types.Edge{
		{ID: "e1", Source: "a", Target: "b", DurationSeconds: 0.3},
	})

	e.Start([]string{"a"}, false)
	e.Start([]string{"a"}, false)
	defer e.Stop()

	// The internal cancel in Start must not flicker to an empty set: two
	// consecutive non-empty activations.
	updates, _, _ := rec.snapshot()
	if len(updates) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(updates))
	}
	for i, u := range updates {
		if len(u) != 1 {
			t.Errorf("update %d should hold the active edge, got %v", i, u)
		}
	}
}

func TestEngine_EmptyStartDoesNothing(t *testing.T) {
	rec := &recorder{}
	e := New(rec.onEdges, rec.onNode)
	e.UpdateData(nodes("a"), nil)

	e.Start(nil, false)

	time.Sleep(50 * time.Millisecond)
	updates, reached, _ := rec.snapshot()
	if len(updates) != 0 || len(reached) != 0 {
		t.Errorf("empty start must perform no work, got %d updates, %d nodes", len(updates), len(reached))
	}
	if e.Running() {
		t.Error("engine should be idle")
	}
}

func TestEngine_FanInReportsNodeOnce(t *testing.T) {
	rec := &recorder{}
	e := New(rec.onEdges, rec.onNode)
	e.UpdateData(nodes("a", "b", "c"), []types.Edge{
		{ID: "ac", Source: "a", Target: "c", DurationSeconds: 0.02},
		{ID: "bc", Source: "b", Target: "c", DurationSeconds: 0.02},
	})

	e.Start([]string{"a", "b"}, false)

	waitFor(t, 2*time.Second, func() bool {
		_, n, _ := rec.snapshot()
		return len(n) > 0
	})

	_, reached, _ := rec.snapshot()
	if len(reached) != 1 || reached[0] != "c" {
		t.Errorf("fan-in target should be reported once per wave, got %v", reached)
	}
}

func TestEngine_DanglingEdgeDegradesToNoop(t *testing.T) {
	rec := &recorder{}
	e := New(rec.onEdges, rec.onNode)
	// Edge from a node that is not in the snapshot's node list still
	// animates; an edge from an id never in any frontier never fires.
	e.UpdateData(nodes("a"), []types.Edge{
		{ID: "e1", Source: "ghost", Target: "a", DurationSeconds: 0.01},
	})

	e.Start([]string{"a"}, false)

	time.Sleep(60 * time.Millisecond)
	updates, _, _ := rec.snapshot()
	if len(updates) != 0 {
		t.Errorf("no outgoing edges from a: expected silence, got %v", updates)
	}
}

func TestEngine_ConditionGatesEdges(t *testing.T) {
	rec := &recorder{}
	e := New(rec.onEdges, rec.onNode)
	e.UpdateData(nodes("a", "b", "c"), []types.Edge{
		{ID: "open", Source: "a", Target: "b", DurationSeconds: 0.02, Condition: "load < 10"},
		{ID: "shut", Source: "a", Target: "c", DurationSeconds: 0.02, Condition: "load >= 10"},
	})
	e.SetVars(map[string]any{"load": 3})

	e.Start([]string{"a"}, false)

	updates, _, _ := rec.snapshot()
	if len(updates) != 1 {
		t.Fatalf("expected 1 update, got %d", len(updates))
	}
	if _, ok := updates[0]["open"]; !ok {
		t.Error("edge with true condition should activate")
	}
	if _, ok := updates[0]["shut"]; ok {
		t.Error("edge with false condition must not activate")
	}

	waitFor(t, 2*time.Second, func() bool {
		_, n, _ := rec.snapshot()
		return len(n) == 1
	})
	_, reached, _ := rec.snapshot()
	if reached[0] != "b" {
		t.Errorf("expected b reached, got %v", reached)
	}
}

func TestEngine_BrokenConditionSkipsEdge(t *testing.T) {
	rec := &recorder{}
	e := New(rec.onEdges, nil)
	e.UpdateData(nodes("a", "b"), []types.Edge{
		{ID: "bad", Source: "a", Target: "b", DurationSeconds: 0.02, Condition: "((("},
	})

	e.Start([]string{"a"}, false)

	time.Sleep(60 * time.Millisecond)
	updates, _, _ := rec.snapshot()
	if len(updates) != 0 {
		t.Errorf("unparseable condition should exclude the edge, got %v", updates)
	}
}

func TestEngine_IdleCallbackFiresOnDeadEnd(t *testing.T) {
	rec := &recorder{}
	var mu sync.Mutex
	idles := 0
	e := New(rec.onEdges, rec.onNode,
		WithIdleCallback(func() {
			mu.Lock()
			idles++
			mu.Unlock()
		}),
	)
	e.UpdateData(nodes("a", "b"), []types.Edge{
		{ID: "e1", Source: "a", Target: "b", DurationSeconds: 0.02},
	})

	e.Start([]string{"a"}, false)

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return idles == 1
	})
	if e.Running() {
		t.Error("engine should be idle after the dead end")
	}

	// Stop is not an idle transition; neither is a fresh run cancelled by
	// another Start.
	e.Stop()
	e.Start([]string{"a"}, false)
	e.Stop()

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	got := idles
	mu.Unlock()
	if got != 1 {
		t.Errorf("idle callbacks = %d, want 1", got)
	}
}

func TestEngine_CallbackSetIsACopy(t *testing.T) {
	var captured EdgeSet
	e := New(func(set EdgeSet) {
		if captured == nil {
			captured = set
		}
	}, nil)
	e.UpdateData(nodes("a", "b"), []types.Edge{
		{ID: "e1", Source: "a", Target: "b", DurationSeconds: 0.2},
	})

	e.Start([]string{"a"}, false)
	defer e.Stop()

	// Corrupting the delivered set must not touch engine state.
	delete(captured, "e1")
	captured["bogus"] = struct{}{}

	active := e.ActiveEdges()
	if _, ok := active["e1"]; !ok {
		t.Error("engine lost its active edge to external mutation")
	}
	if _, ok := active["bogus"]; ok {
		t.Error("external mutation leaked into engine state")
	}
}
