// Package api exposes the index over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/jankowtf/kbindex/internal/index"
	"github.com/jankowtf/kbindex/internal/storage"
)

// Index is the part of index.Indexer the API serves.
type Index interface {
	index.Runner
	Snapshot() *storage.CacheState
	LoadIndexText() (string, error)
	LoadIndexEntries() ([]index.Entry, error)
	LoadSourceText(ctx context.Context, id string) (string, error)
}

// PassReporter reports the most recent scheduled pass.
type PassReporter interface {
	LastPass() (*index.PassStats, time.Time, error)
}

// Options configures a Server. Both fields are optional.
type Options struct {
	// Notifier queues passes; without one, /notify runs a pass inline.
	Notifier index.Notifier
	Passes   PassReporter
	Logger   *slog.Logger
}

// Server serves the HTTP API.
type Server struct {
	idx      Index
	notifier index.Notifier
	passes   PassReporter
	logger   *slog.Logger
	router   *mux.Router
}

// New creates a Server.
func New(idx Index, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		idx:      idx,
		notifier: opts.Notifier,
		passes:   opts.Passes,
		logger:   logger,
		router:   mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.logRequests)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/index", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index/entries", s.handleEntries).Methods(http.MethodGet)
	r.HandleFunc("/sources", s.handleSources).Methods(http.MethodGet)
	r.HandleFunc("/source", s.handleSource).Methods(http.MethodGet)
	r.HandleFunc("/run", s.handleRun).Methods(http.MethodPost)
	r.HandleFunc("/notify", s.handleNotify).Methods(http.MethodPost)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := index.Describe(s.idx.Snapshot())
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"sources": st.Total,
		"pending": st.Pending,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := index.Describe(s.idx.Snapshot())
	if s.passes != nil {
		st = st.WithLastPass(s.passes.LastPass())
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	text, err := s.idx.LoadIndexText()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(text))
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.idx.LoadIndexEntries()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []index.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, index.ListSources(s.idx.Snapshot()))
}

func (s *Server) handleSource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, errors.New("id query parameter is required"))
		return
	}

	text, err := s.idx.LoadSourceText(r.Context(), id)
	switch {
	case errors.Is(err, index.ErrSourceNotFound):
		writeError(w, http.StatusNotFound, err)
		return
	case err != nil:
		writeError(w, http.StatusBadGateway, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(text))
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	stats, err := s.idx.RunOnce(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": err.Error(),
			"stats": stats,
		})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	source := strings.TrimSpace(r.URL.Query().Get("source"))

	if s.notifier != nil {
		s.notifier.Notify(source)
		writeJSON(w, http.StatusAccepted, map[string]any{"queued": true, "source": source})
		return
	}

	stats, err := s.idx.NotifyChanged(r.Context(), source)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": err.Error(),
			"stats": stats,
		})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
