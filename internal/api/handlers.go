// Package api provides HTTP handlers and routing for the flowpulse service.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/flowpulse/flowpulse/internal/config"
	"github.com/flowpulse/flowpulse/internal/graphstore"
	"github.com/flowpulse/flowpulse/internal/simstore"
	"github.com/flowpulse/flowpulse/internal/simulator"
	"github.com/flowpulse/flowpulse/internal/validator"
	"github.com/flowpulse/flowpulse/pkg/types"
)

// maxBodyBytes caps request bodies; graph snapshots are small.
const maxBodyBytes = 1 << 20

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	manager   *simulator.Manager
	store     simstore.SimStore
	graphs    graphstore.GraphStore
	validator *validator.Validator
	config    *config.Config
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(manager *simulator.Manager, store simstore.SimStore, graphs graphstore.GraphStore, v *validator.Validator, cfg *config.Config, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		manager:   manager,
		store:     store,
		graphs:    graphs,
		validator: v,
		config:    cfg,
		logger:    logger,
	}
}

// --- Health Endpoints ---

// Health handles the /health and /healthz endpoints.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Ready handles the /ready endpoint, checking dependencies.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	info, err := h.store.AdapterInfo(ctx)
	if err != nil {
		h.respondError(w, http.StatusServiceUnavailable, "simstore unhealthy", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   "ready",
		"simstore": info,
	})
}

// --- Graph Diagrams ---

// CreateGraphRequest is the request body for saving a diagram.
type CreateGraphRequest struct {
	ID          string       `json:"id,omitempty"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Version     string       `json:"version,omitempty"`
	CreatedBy   string       `json:"created_by,omitempty"`
	Graph       *types.Graph `json:"graph"`
}

// CreateGraph handles POST /api/v1/graphs
func (h *Handlers) CreateGraph(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "failed to read request body", err)
		return
	}

	var req CreateGraphRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Graph == nil {
		h.respondError(w, http.StatusBadRequest, "graph is required", errors.New("missing graph"))
		return
	}

	if !h.validateGraph(w, req.Graph) {
		return
	}

	d := &graphstore.Diagram{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Version:     req.Version,
		CreatedBy:   req.CreatedBy,
		Graph:       req.Graph,
	}
	if err := h.graphs.Create(ctx, d); err != nil {
		if errors.Is(err, graphstore.ErrDiagramExists) {
			h.respondError(w, http.StatusConflict, "diagram already exists", err)
			return
		}
		h.respondError(w, http.StatusInternalServerError, "failed to create diagram", err)
		return
	}

	h.respondJSON(w, http.StatusCreated, d)
}

// ListGraphs handles GET /api/v1/graphs
func (h *Handlers) ListGraphs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	opts := graphstore.ListOptions{
		Limit:  queryInt(r, "limit", 0),
		Offset: queryInt(r, "offset", 0),
	}

	diagrams, err := h.graphs.List(ctx, opts)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to list diagrams", err)
		return
	}

	total, err := h.graphs.Count(ctx)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to count diagrams", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"graphs": diagrams,
		"total":  total,
	})
}

// GetGraph handles GET /api/v1/graphs/{id}
func (h *Handlers) GetGraph(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	d, err := h.graphs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, graphstore.ErrDiagramNotFound) {
			h.respondError(w, http.StatusNotFound, "diagram not found", err)
			return
		}
		h.respondError(w, http.StatusInternalServerError, "failed to get diagram", err)
		return
	}

	h.respondJSON(w, http.StatusOK, d)
}

// UpdateGraph handles PUT /api/v1/graphs/{id}
func (h *Handlers) UpdateGraph(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "failed to read request body", err)
		return
	}

	var req CreateGraphRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Graph == nil {
		h.respondError(w, http.StatusBadRequest, "graph is required", errors.New("missing graph"))
		return
	}

	if !h.validateGraph(w, req.Graph) {
		return
	}

	d := &graphstore.Diagram{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		Version:     req.Version,
		CreatedBy:   req.CreatedBy,
		Graph:       req.Graph,
	}
	if err := h.graphs.Update(ctx, d); err != nil {
		if errors.Is(err, graphstore.ErrDiagramNotFound) {
			h.respondError(w, http.StatusNotFound, "diagram not found", err)
			return
		}
		h.respondError(w, http.StatusInternalServerError, "failed to update diagram", err)
		return
	}

	h.respondJSON(w, http.StatusOK, d)
}

// DeleteGraph handles DELETE /api/v1/graphs/{id}
func (h *Handlers) DeleteGraph(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	if err := h.graphs.Delete(ctx, id); err != nil {
		if errors.Is(err, graphstore.ErrDiagramNotFound) {
			h.respondError(w, http.StatusNotFound, "diagram not found", err)
			return
		}
		h.respondError(w, http.StatusInternalServerError, "failed to delete diagram", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ValidateGraph handles POST /api/v1/graphs/validate
func (h *Handlers) ValidateGraph(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "failed to read request body", err)
		return
	}

	result := h.validator.ValidateGraphJSON(body)
	h.respondJSON(w, http.StatusOK, result)
}

// --- Simulation Management ---

// CreateSimRequest is the request body for creating a simulation.
type CreateSimRequest struct {
	Name      string       `json:"name"`
	Graph     *types.Graph `json:"graph,omitempty"`
	GraphID   string       `json:"graph_id,omitempty"`
	AutoStart bool         `json:"auto_start,omitempty"` // Start from the root set immediately
	AutoLoop  bool         `json:"auto_loop,omitempty"`  // Only meaningful with auto_start
}

// CreateSimResponse is the response body after creating a simulation.
type CreateSimResponse struct {
	SimID  string `json:"sim_id"`
	Status string `json:"status"`
	SSEURL string `json:"sse_url"`
}

// CreateSim handles POST /api/v1/simulations
func (h *Handlers) CreateSim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "failed to read request body", err)
		return
	}

	var req CreateSimRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	graph := req.Graph
	if graph == nil && req.GraphID != "" {
		d, err := h.graphs.Get(ctx, req.GraphID)
		if err != nil {
			if errors.Is(err, graphstore.ErrDiagramNotFound) {
				h.respondError(w, http.StatusNotFound, "diagram not found", err)
				return
			}
			h.respondError(w, http.StatusInternalServerError, "failed to load diagram", err)
			return
		}
		graph = d.Graph
	}
	if graph == nil {
		h.respondError(w, http.StatusBadRequest, "graph or graph_id is required", errors.New("no graph supplied"))
		return
	}

	if !h.validateGraph(w, graph) {
		return
	}

	simID, err := h.manager.CreateSim(ctx, req.Name, graph, req.GraphID)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to create simulation", err)
		return
	}

	resp := CreateSimResponse{
		SimID:  simID,
		Status: string(types.SimStatusCreated),
		SSEURL: "/api/v1/simulations/" + simID + "/events",
	}

	if req.AutoStart {
		if err := h.manager.Start(ctx, simID, nil, req.AutoLoop, nil); err != nil {
			h.logger.Error("failed to auto-start simulation", "error", err, "sim_id", simID)
		} else {
			resp.Status = string(types.SimStatusRunning)
		}
	}

	h.respondJSON(w, http.StatusCreated, resp)
}

// ListSims handles GET /api/v1/simulations
func (h *Handlers) ListSims(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	metas, err := h.manager.ListSims(ctx)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to list simulations", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{"simulations": metas})
}

// GetSim handles GET /api/v1/simulations/{id}
func (h *Handlers) GetSim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	simID := mux.Vars(r)["id"]

	sim, err := h.manager.GetSim(ctx, simID)
	if err != nil {
		if errors.Is(err, simstore.ErrSimNotFound) {
			h.respondError(w, http.StatusNotFound, "simulation not found", err)
			return
		}
		h.respondError(w, http.StatusInternalServerError, "failed to get simulation", err)
		return
	}

	active, err := h.manager.ActiveEdges(ctx, simID)
	if err != nil {
		active = []string{}
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"simulation":   sim,
		"active_edges": active,
	})
}

// StartSimRequest is the request body for starting a simulation.
type StartSimRequest struct {
	StartNodeIDs []string       `json:"start_node_ids,omitempty"`
	AutoLoop     bool           `json:"auto_loop,omitempty"`
	Vars         map[string]any `json:"vars,omitempty"`
}

// StartSim handles POST /api/v1/simulations/{id}/start
func (h *Handlers) StartSim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	simID := mux.Vars(r)["id"]

	req := StartSimRequest{}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "failed to read request body", err)
		return
	}
	if len(body) > 0 {
		if result := h.validator.ValidateStartJSON(body); !result.Valid {
			h.respondJSON(w, http.StatusBadRequest, result)
			return
		}
		if err := json.Unmarshal(body, &req); err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid request body", err)
			return
		}
	}

	if err := h.manager.Start(ctx, simID, req.StartNodeIDs, req.AutoLoop, req.Vars); err != nil {
		if errors.Is(err, simstore.ErrSimNotFound) {
			h.respondError(w, http.StatusNotFound, "simulation not found", err)
			return
		}
		h.respondError(w, http.StatusInternalServerError, "failed to start simulation", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"sim_id":  simID,
		"status":  string(types.SimStatusRunning),
		"sse_url": "/api/v1/simulations/" + simID + "/events",
	})
}

// StopSim handles POST /api/v1/simulations/{id}/stop
func (h *Handlers) StopSim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	simID := mux.Vars(r)["id"]

	if err := h.manager.Stop(ctx, simID); err != nil {
		if errors.Is(err, simstore.ErrSimNotFound) {
			h.respondError(w, http.StatusNotFound, "simulation not found", err)
			return
		}
		h.respondError(w, http.StatusInternalServerError, "failed to stop simulation", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]string{
		"sim_id": simID,
		"status": string(types.SimStatusStopped),
	})
}

// UpdateSimGraph handles PUT /api/v1/simulations/{id}/graph
func (h *Handlers) UpdateSimGraph(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	simID := mux.Vars(r)["id"]

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "failed to read request body", err)
		return
	}

	var graph types.Graph
	if err := json.Unmarshal(body, &graph); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if !h.validateGraph(w, &graph) {
		return
	}

	if err := h.manager.UpdateGraph(ctx, simID, &graph); err != nil {
		if errors.Is(err, simstore.ErrSimNotFound) {
			h.respondError(w, http.StatusNotFound, "simulation not found", err)
			return
		}
		h.respondError(w, http.StatusInternalServerError, "failed to update graph", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]string{"sim_id": simID, "status": "updated"})
}

// DeleteSim handles DELETE /api/v1/simulations/{id}
func (h *Handlers) DeleteSim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	simID := mux.Vars(r)["id"]

	if err := h.manager.RemoveSim(ctx, simID); err != nil {
		if errors.Is(err, simstore.ErrSimNotFound) {
			h.respondError(w, http.StatusNotFound, "simulation not found", err)
			return
		}
		h.respondError(w, http.StatusInternalServerError, "failed to delete simulation", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- SimStore Diagnostics ---

// SimStoreInfo handles GET /api/v1/simstore/info
func (h *Handlers) SimStoreInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	info, err := h.store.AdapterInfo(ctx)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to get simstore info", err)
		return
	}

	h.respondJSON(w, http.StatusOK, info)
}

// --- Helper Methods ---

// validateGraph validates the snapshot against the graph schema, writing the
// error response itself. Returns false when the caller should stop.
func (h *Handlers) validateGraph(w http.ResponseWriter, graph *types.Graph) bool {
	if h.validator == nil {
		return true
	}
	data, err := json.Marshal(graph)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid graph", err)
		return false
	}
	if result := h.validator.ValidateGraphJSON(data); !result.Valid {
		h.respondJSON(w, http.StatusBadRequest, result)
		return false
	}
	return true
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string, err error) {
	h.logger.Error(message, "error", err, "status", status)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := map[string]string{"error": message}
	if err != nil {
		resp["details"] = err.Error()
	}
	json.NewEncoder(w).Encode(resp)
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
