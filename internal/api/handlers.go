package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// handleRuns acts as a multiplexer: POST queues a new run, GET lists runs.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createRun(w, r)
	case http.MethodGet:
		s.listRuns(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleRunByID routes GET and DELETE for specific run IDs.
func (s *Server) handleRunByID(w http.ResponseWriter, r *http.Request) {
	// Expected path: /runs/{id}
	id := strings.TrimPrefix(r.URL.Path, "/runs/")
	if id == "" {
		http.Error(w, "run id missing", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getRun(w, r, id)
	case http.MethodDelete:
		s.cancelRun(w, r, id)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// createRun handles POST /runs
func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req RunRequest
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if err := validateRequest(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	runID := uuid.NewString()
	entry := &runEntry{
		status: RunStatus{RunID: runID, Status: StatusQueued, QueuedAt: time.Now()},
		req:    req,
	}

	s.mu.Lock()
	select {
	case s.queue <- runID:
		s.runs[runID] = entry
		s.order = append(s.order, runID)
		s.mu.Unlock()
	default:
		s.mu.Unlock()
		http.Error(w, "run queue is full", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusAccepted, RunResponse{RunID: runID})
}

// listRuns handles GET /runs
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	out := make([]RunStatus, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.snapshot(s.runs[id]))
	}
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, out)
}

// getRun handles GET /runs/{id}
func (s *Server) getRun(w http.ResponseWriter, r *http.Request, id string) {
	s.mu.RLock()
	entry, ok := s.runs[id]
	var status RunStatus
	if ok {
		status = s.snapshot(entry)
	}
	s.mu.RUnlock()
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// cancelRun handles DELETE /runs/{id}. Only queued runs can be cancelled; a
// running import is never interrupted mid-chunk.
func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.runs[id]
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if entry.status.Status != StatusQueued {
		http.Error(w, fmt.Sprintf("run is %s and cannot be cancelled", entry.status.Status), http.StatusConflict)
		return
	}

	entry.status.Status = StatusCancelled
	finished := time.Now()
	entry.status.FinishedAt = &finished

	w.WriteHeader(http.StatusNoContent)
}

// snapshot copies an entry's status, attaching live counters while the run
// executes. Callers hold s.mu.
func (s *Server) snapshot(entry *runEntry) RunStatus {
	status := entry.status
	if entry.run != nil {
		c := entry.run.Counters()
		status.Counters = &c
	}
	return status
}

func validateRequest(req RunRequest) error {
	if req.ChunkSize < 0 {
		return fmt.Errorf("chunk_size must not be negative")
	}
	if req.InputDir != "" {
		info, err := os.Stat(req.InputDir)
		if err != nil {
			return fmt.Errorf("input_dir: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("input_dir %s is not a directory", req.InputDir)
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
