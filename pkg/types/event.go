package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType categorizes the kind of simulation event.
type EventType string

const (
	// EventTypeHello is sent once when an event stream is opened.
	EventTypeHello EventType = "hello"

	// EventTypeWaveStarted reports a new wave of active edges.
	EventTypeWaveStarted EventType = "wave_started"

	// EventTypeWaveAdvanced reports the active-edge set after a wave's
	// completion timer fired and its edges were deactivated.
	EventTypeWaveAdvanced EventType = "wave_advanced"

	// EventTypeNodeReached fires once per node, once per wave, when a wave
	// arrives at that node.
	EventTypeNodeReached EventType = "node_reached"

	// EventTypeFlowCleared reports that the active set was cleared by a stop.
	EventTypeFlowCleared EventType = "flow_cleared"

	// EventTypeLoopRestarted reports an auto-loop restart from the root set.
	EventTypeLoopRestarted EventType = "loop_restarted"

	// EventTypeSimStatus reports simulation lifecycle transitions.
	EventTypeSimStatus EventType = "sim_status"

	// EventTypeStreamEnd terminates an SSE stream.
	EventTypeStreamEnd EventType = "stream_end"
)

// Event is a single entry in a simulation's event stream.
type Event struct {
	ID        string          `json:"id"`
	SimID     string          `json:"sim_id"`
	Type      EventType       `json:"type"`
	NodeID    string          `json:"node_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// EventInput is used when appending new events.
type EventInput struct {
	Type   EventType `json:"type"`
	NodeID string    `json:"node_id,omitempty"`
	Data   any       `json:"data,omitempty"`
}

// WaveEvent is the data payload for wave_started / wave_advanced events.
type WaveEvent struct {
	ActiveEdges []string `json:"active_edges"`
}

// StatusEvent is the data payload for sim_status events.
type StatusEvent struct {
	Status SimStatus `json:"status"`
}

// ToSSE formats the event for the Server-Sent Events protocol.
// Format: id: <id>\nevent: <type>\ndata: <json>\n\n
func (e *Event) ToSSE() []byte {
	data, _ := json.Marshal(e)
	return []byte(fmt.Sprintf("id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, data))
}
