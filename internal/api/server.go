package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"sensor-etl/internal/importer"
	"sensor-etl/internal/report"

	"github.com/sirupsen/logrus"
)

// DefaultQueueSize bounds the number of runs waiting to execute.
const DefaultQueueSize = 64

// Runner executes one import run. *importer.Importer satisfies it.
type Runner interface {
	Run(ctx context.Context, opts importer.RunOptions) (report.Summary, error)
}

// Server encapsulates the HTTP server, router and run registry. Runs are
// executed one at a time, in submission order, by a single worker.
type Server struct {
	mux    *http.ServeMux
	runner Runner
	queue  chan string

	mu    sync.RWMutex
	runs  map[string]*runEntry
	order []string
}

type runEntry struct {
	status RunStatus
	req    RunRequest
	run    *report.Run // set while the run executes, for live counters
}

// NewServer builds a server with basic logging and panic recovery middlewares.
func NewServer(runner Runner) *Server {
	s := &Server{
		mux:    http.NewServeMux(),
		runner: runner,
		queue:  make(chan string, DefaultQueueSize),
		runs:   make(map[string]*runEntry),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/runs", s.handleRuns)     // GET/POST /runs
	s.mux.HandleFunc("/runs/", s.handleRunByID) // GET/DELETE /runs/{id}
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// Handler returns the router wrapped in the middlewares.
func (s *Server) Handler() http.Handler {
	return s.recoveryMiddleware(s.loggingMiddleware(s.mux))
}

// Start launches the worker that executes queued runs until ctx is done.
// A run in progress when ctx is cancelled stops at its next chunk boundary.
func (s *Server) Start(ctx context.Context) {
	go s.worker(ctx)
}

// Run starts the worker and the HTTP server on the provided port, and shuts
// both down when ctx is cancelled.
func (s *Server) Run(ctx context.Context, port int) error {
	s.Start(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logrus.Warnf("http shutdown: %v", err)
		}
	}()

	logrus.Infof("HTTP server running on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-s.queue:
			s.execute(ctx, id)
		}
	}
}

func (s *Server) execute(ctx context.Context, id string) {
	s.mu.Lock()
	entry, ok := s.runs[id]
	if !ok || entry.status.Status != StatusQueued {
		s.mu.Unlock()
		return
	}
	started := time.Now()
	entry.status.Status = StatusRunning
	entry.status.StartedAt = &started
	req := entry.req
	s.mu.Unlock()

	logrus.Infof("run %s started", id)
	sum, err := s.runner.Run(ctx, importer.RunOptions{
		RunID:     id,
		InputDir:  req.InputDir,
		ChunkSize: req.ChunkSize,
		Started: func(r *report.Run) {
			s.mu.Lock()
			entry.run = r
			s.mu.Unlock()
		},
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	finished := time.Now()
	entry.status.FinishedAt = &finished
	entry.status.Summary = &sum
	entry.status.Counters = &sum.Counters
	entry.run = nil
	if err != nil || sum.Status != report.StatusCompleted {
		entry.status.Status = StatusFailed
		if err != nil {
			entry.status.Error = err.Error()
		}
		logrus.Errorf("run %s failed: %v", id, err)
		return
	}
	entry.status.Status = StatusCompleted
	logrus.Infof("run %s completed", id)
}

// Simple request logger middleware.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logrus.Infof("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware catches panics and returns 500.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logrus.Errorf("panic recovered: %v", rec)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
