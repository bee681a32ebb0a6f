package types

import (
	"time"
)

// SimStatus represents the lifecycle state of a simulation session.
type SimStatus string

const (
	SimStatusCreated SimStatus = "created"
	SimStatusRunning SimStatus = "running"
	SimStatusStopped SimStatus = "stopped"
)

// Sim is a simulation session: one engine instance driving one graph.
type Sim struct {
	ID        string         `json:"id"`
	Name      string         `json:"name,omitempty"`
	Status    SimStatus      `json:"status"`
	Graph     *Graph         `json:"graph,omitempty"`
	GraphID   string         `json:"graph_id,omitempty"`
	AutoLoop  bool           `json:"auto_loop"`
	Vars      map[string]any `json:"vars,omitempty"`
	StartedAt *time.Time     `json:"started_at,omitempty"`
	StoppedAt *time.Time     `json:"stopped_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// SimMeta is a lightweight representation of a simulation for listing.
type SimMeta struct {
	ID        string     `json:"id"`
	Name      string     `json:"name,omitempty"`
	Status    SimStatus  `json:"status"`
	GraphID   string     `json:"graph_id,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
