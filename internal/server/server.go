// Package server exposes the coordinator's plain-text HTTP dispatch
// interface to worker agents.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/convpool/internal/conv"
	"github.com/ppiankov/convpool/internal/dispatch"
	"github.com/ppiankov/convpool/internal/journal"
	"github.com/ppiankov/convpool/internal/store"
)

// Config holds dispatcher configuration.
type Config struct {
	Addr          string        // listen address, e.g. ":8000"
	Staleness     time.Duration // heartbeat bound; zero means dispatch.DefaultStaleness
	JournalPath   string        // hash-chained dispatch journal, empty to disable
	HistoryDBPath string        // settled-job history database, empty to disable
}

// Server owns the registry and serves the dispatch endpoints. Worker
// identity travels in the uuid request header; every business outcome is
// a 200 with a plain-text body, and workers switch on the body, not the
// status code.
type Server struct {
	cfg      Config
	registry *dispatch.Registry
	logger   *log.Logger
	jrnl     *journal.Journal
	history  *store.Store
	srv      *http.Server
}

// New creates a dispatcher with its registry and, when configured, the
// journal and history store.
func New(cfg Config, logger *log.Logger) (*Server, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	s := &Server{cfg: cfg, logger: logger}

	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		s.jrnl = j
	}

	if cfg.HistoryDBPath != "" {
		h, err := store.Open(cfg.HistoryDBPath)
		if err != nil {
			if s.jrnl != nil {
				_ = s.jrnl.Close()
			}
			return nil, fmt.Errorf("failed to open history db: %w", err)
		}
		s.history = h
	}

	opts := []dispatch.Option{dispatch.WithObserver(s.observe)}
	if cfg.Staleness > 0 {
		opts = append(opts, dispatch.WithStaleness(cfg.Staleness))
	}
	s.registry = dispatch.NewRegistry(logger, opts...)

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleQueue)
	mux.HandleFunc("/register", s.handleRegister)
	mux.HandleFunc("/ping", s.handlePing)
	mux.HandleFunc("/pull", s.handlePull)
	mux.HandleFunc("/push", s.handlePush)
	mux.HandleFunc("/info", s.handleInfo)
	mux.HandleFunc("/failure", s.handleFailure)

	s.srv = &http.Server{Addr: cfg.Addr, Handler: mux}
	return s, nil
}

// Registry exposes the dispatch registry so the intake watcher can feed it.
func (s *Server) Registry() *dispatch.Registry {
	return s.registry
}

// Handler returns the route table. For tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start begins serving dispatch requests. Blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.srv.Addr, err)
	}
	s.logger.Printf("server: dispatching on %s", ln.Addr())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	err = s.srv.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close releases the journal and history store if configured. Both are
// closed even when the first close fails.
func (s *Server) Close() error {
	var jErr, hErr error
	if s.jrnl != nil {
		jErr = s.jrnl.Close()
	}
	if s.history != nil {
		hErr = s.history.Close()
	}
	return errors.Join(jErr, hErr)
}

// observe records registry lifecycle events in the journal and, for
// settled jobs, the history store.
func (s *Server) observe(event string, worker uuid.UUID, path string) {
	if s.jrnl != nil {
		var w string
		if worker != uuid.Nil {
			w = worker.String()
		}
		if err := s.jrnl.Record(journal.Entry{Event: event, Worker: w, Path: path}); err != nil {
			s.logger.Printf("server: record journal: %v", err)
		}
	}

	if s.history == nil || path == "" {
		return
	}
	switch event {
	case dispatch.EventCompleted, dispatch.EventRequeued, dispatch.EventFailed:
		if err := s.history.Record(store.Job{Path: path, Worker: worker.String(), Outcome: event}); err != nil {
			s.logger.Printf("server: record history: %v", err)
		}
	}
}

// workerID extracts the worker id from the uuid header. Canonical, URN,
// and braced forms are accepted. On absence or parse failure it responds
// 400 and reports false.
func (s *Server) workerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.Header.Get("uuid")
	if raw == "" {
		http.Error(w, "uuid header required", http.StatusBadRequest)
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		http.Error(w, "malformed uuid header", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// handleQueue lists the pending queue, one path per line.
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	for _, path := range s.registry.SnapshotPending() {
		fmt.Fprintf(w, "%s\n", path)
	}
}

// handleRegister mints a worker id and returns it in URN form.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := s.registry.Register()
	fmt.Fprint(w, id.URN())
}

// handlePing refreshes the worker's heartbeat. The response is Ok whether
// or not the id is known.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id, ok := s.workerID(w, r)
	if !ok {
		return
	}
	s.registry.Ping(id)
	fmt.Fprint(w, "Ok")
}

// handlePull hands out the next job path, or an empty body when there is
// nothing to do.
func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id, ok := s.workerID(w, r)
	if !ok {
		return
	}
	fmt.Fprint(w, s.registry.PullFor(id))
}

// handlePush settles the worker's assignment. FILE_EXTENSION and
// COMPLETED_PATH are read from the environment on every request so they
// can change without a restart.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id, ok := s.workerID(w, r)
	if !ok {
		return
	}

	ext := os.Getenv("FILE_EXTENSION")
	completed := os.Getenv("COMPLETED_PATH")
	if ext == "" || completed == "" {
		http.Error(w, "FILE_EXTENSION and COMPLETED_PATH must be set", http.StatusInternalServerError)
		return
	}

	res, _ := s.registry.CompleteFor(id, ext, completed)
	switch res {
	case dispatch.CompleteOK:
		fmt.Fprint(w, "Thanks!")
	case dispatch.CompleteNotYet:
		fmt.Fprint(w, "Failure, file not submitted")
	case dispatch.CompleteMissing:
		fmt.Fprint(w, "No work found.")
	}
}

// handleInfo serves the conversion settings, read from the environment on
// every request.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	settings, err := conv.FromEnv()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	fmt.Fprint(w, settings.InfoBody())
}

// handleFailure ingests a worker's failure report. The worker id comes
// from the JSON body, not the uuid header. Known workers get Ok; unknown
// ones an empty body.
func (s *Server) handleFailure(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var report conv.FailureReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		http.Error(w, "malformed failure report", http.StatusBadRequest)
		return
	}
	id, err := uuid.Parse(report.UUID)
	if err != nil {
		http.Error(w, "malformed uuid in failure report", http.StatusBadRequest)
		return
	}

	if s.registry.FailFor(id, report) {
		fmt.Fprint(w, "Ok")
	}
}
