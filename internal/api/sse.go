package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/flowpulse/flowpulse/internal/metrics"
	"github.com/flowpulse/flowpulse/internal/simstore"
	"github.com/flowpulse/flowpulse/pkg/types"
)

// StreamEvents handles GET /api/v1/simulations/{id}/events
// It implements Server-Sent Events (SSE) for streaming simulation events.
func (h *Handlers) StreamEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	simID := mux.Vars(r)["id"]
	startTime := time.Now()

	requestID := GetRequestID(ctx, r)

	metrics.SSEConnectionsActive.Inc()
	defer metrics.SSEConnectionsActive.Dec()

	h.logger.Info("SSE connection opened",
		slog.String("sim_id", simID),
		slog.String("request_id", requestID),
		slog.String("remote_addr", r.RemoteAddr),
	)

	// Check if simulation exists
	_, err := h.store.GetSimMeta(ctx, simID)
	if err != nil {
		if errors.Is(err, simstore.ErrSimNotFound) {
			h.respondError(w, http.StatusNotFound, "simulation not found", err)
			return
		}
		h.respondError(w, http.StatusInternalServerError, "failed to get simulation", err)
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	// Check for Last-Event-ID header for resumption
	lastEventID := r.Header.Get("Last-Event-ID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.respondError(w, http.StatusInternalServerError, "streaming not supported", nil)
		return
	}
	flusher.Flush()

	// Send a hello event
	h.writeSSE(w, flusher, &types.Event{
		ID:        "0",
		SimID:     simID,
		Type:      types.EventTypeHello,
		Timestamp: time.Now().UTC(),
	})

	// Replay history if resuming
	if lastEventID != "" {
		events, err := h.store.GetEventsSince(ctx, simID, lastEventID)
		if err != nil {
			h.logger.Error("failed to get historical events", "error", err, "sim_id", simID)
		} else {
			for _, evt := range events {
				h.writeSSE(w, flusher, evt)
			}
		}
	}

	// Subscribe to new events
	eventCh, cleanup, err := h.store.Subscribe(ctx, simID)
	if err != nil {
		h.logger.Error("failed to subscribe to events", "error", err, "sim_id", simID)
		return
	}
	defer cleanup()

	done := r.Context().Done()

	heartbeatInterval := 15 * time.Second
	if h.config != nil && h.config.SSEHeartbeat > 0 {
		heartbeatInterval = h.config.SSEHeartbeat
	}
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-done:
			duration := time.Since(startTime)
			metrics.SSEConnectionDuration.Observe(duration.Seconds())
			h.logger.Info("SSE connection closed (client disconnect)",
				slog.String("sim_id", simID),
				slog.String("request_id", requestID),
				slog.Duration("duration", duration),
			)
			return

		case evt, ok := <-eventCh:
			if !ok {
				// Channel closed: the simulation was deleted.
				h.sendStreamEndEvent(ctx, w, flusher, simID)
				duration := time.Since(startTime)
				metrics.SSEConnectionDuration.Observe(duration.Seconds())
				h.logger.Info("SSE connection closed (simulation removed)",
					slog.String("sim_id", simID),
					slog.String("request_id", requestID),
					slog.Duration("duration", duration),
				)
				return
			}
			h.writeSSE(w, flusher, evt)

		case <-heartbeat.C:
			h.writeComment(w, flusher, "heartbeat")
		}
	}
}

// writeSSE writes an event in SSE format and flushes.
func (h *Handlers) writeSSE(w http.ResponseWriter, flusher http.Flusher, evt *types.Event) {
	if evt == nil {
		return
	}
	if _, err := w.Write(evt.ToSSE()); err != nil {
		h.logger.Error("failed to write SSE event", "error", err)
		return
	}
	flusher.Flush()
}

// writeComment writes an SSE comment (for heartbeats).
func (h *Handlers) writeComment(w http.ResponseWriter, flusher http.Flusher, comment string) {
	if _, err := w.Write([]byte(": " + comment + "\n\n")); err != nil {
		h.logger.Error("failed to write SSE comment", "error", err)
		return
	}
	flusher.Flush()
}

// sendStreamEndEvent sends a final event indicating the stream has ended.
func (h *Handlers) sendStreamEndEvent(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, simID string) {
	evt := &types.Event{
		ID:        "final",
		SimID:     simID,
		Type:      types.EventTypeStreamEnd,
		Timestamp: time.Now().UTC(),
	}

	if meta, err := h.store.GetSimMeta(ctx, simID); err == nil && meta != nil {
		data, _ := json.Marshal(map[string]interface{}{"status": meta.Status})
		evt.Data = data
	}

	h.writeSSE(w, flusher, evt)
}
