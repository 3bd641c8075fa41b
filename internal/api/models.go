package api

import (
	"time"

	"sensor-etl/internal/report"
)

// Run states as reported by the API.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// RunRequest is the optional body of POST /runs. Zero values fall back to
// the server configuration.
type RunRequest struct {
	InputDir  string `json:"input_dir,omitempty"`
	ChunkSize int    `json:"chunk_size,omitempty"`
}

// RunResponse is returned after a run was queued.
type RunResponse struct {
	RunID string `json:"run_id"`
}

// RunStatus represents the state of a queued, running or finished run.
type RunStatus struct {
	RunID      string           `json:"run_id"`
	Status     string           `json:"status"` // queued | running | completed | failed | cancelled
	Error      string           `json:"error,omitempty"`
	QueuedAt   time.Time        `json:"queued_at"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	Counters   *report.Counters `json:"counters,omitempty"`
	Summary    *report.Summary  `json:"summary,omitempty"`
}
