// Package http wires the Router onto an HTTP surface: chi routes for
// /api/put and /api/get plus /health and /metrics, using the same
// JSON response envelope and handler shape throughout.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"kvcore/pkg/dberrors"
	"kvcore/pkg/router"
)

const (
	contentTypeJSON        = "application/json"
	defaultHTTPPort        = "8080"
	defaultShutdownTimeout = 5 * time.Second
)

// putRequest and getRequest mirror the wire shapes in the API surface.
type putRequest struct {
	NewKeys []putEntry `json:"newKeys" validate:"required,dive"`
}

type putEntry struct {
	Key   string   `json:"key" validate:"required"`
	Value []string `json:"value" validate:"required,min=1"`
}

type getRequest struct {
	Keys []string `json:"keys" validate:"required,min=1"`
}

// Server exposes the Router over HTTP.
type Server struct {
	router     *router.Router
	stats      func() (tableCount, totalKeys, compactionCount int)
	validate   *validator.Validate
	httpServer *http.Server
	addr       string
}

// NewServer builds a Server bound to port, dispatching to r. stats, if
// non-nil, is consulted by /metrics to report persistence-layer
// counters.
func NewServer(r *router.Router, port string, stats func() (tableCount, totalKeys, compactionCount int)) *Server {
	if port == "" {
		port = defaultHTTPPort
	}
	return &Server{
		router:   r,
		stats:    stats,
		validate: validator.New(),
		addr:     ":" + port,
	}
}

// Start begins serving in the background. Errors other than a graceful
// shutdown are logged, not returned, since nothing is listening on the
// other end of this goroutine to receive them.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.createRouter(),
		ReadHeaderTimeout: time.Second,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	slog.Info("http server started", "addr", s.addr)
	return nil
}

// Stop gracefully shuts the server down within defaultShutdownTimeout.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown http server: %w", err)
	}
	return nil
}

func (s *Server) createRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)
	r.Post("/api/put", s.handlePut)
	r.Post("/api/get", s.handleGet)
	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("error encoding response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, NewOKResponse())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		s.writeJSON(w, http.StatusOK, NewOKResponse())
		return
	}
	tableCount, totalKeys, compactionCount := s.stats()
	fmt.Fprintf(w, "kvcore_sstable_count %d\nkvcore_key_count %d\nkvcore_compaction_count %d\n",
		tableCount, totalKeys, compactionCount)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	var req putRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("malformed request body"))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}

	keys := make([]router.NewKey, len(req.NewKeys))
	for i, e := range req.NewKeys {
		keys[i] = router.NewKey{Key: e.Key, Value: e.Value}
	}

	if err := s.router.Put(r.Context(), keys); err != nil {
		s.writeJSON(w, statusForError(err), NewErrorResponse(err.Error()))
		return
	}
	s.writeJSON(w, http.StatusOK, NewSuccessResponse("keys added successfully"))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	var req getRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("malformed request body"))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}

	values, err := s.router.Get(r.Context(), req.Keys)
	if err != nil {
		s.writeJSON(w, statusForError(err), NewErrorResponse(err.Error()))
		return
	}
	s.writeJSON(w, http.StatusOK, NewValueResponse(values))
}

// statusForError maps the core's error kinds to an HTTP status: an
// InvalidKey or InvalidValue is a client mistake the JSON schema check
// above doesn't catch (embedded comma or newline), everything else —
// IoError, ProgrammerError — is the core's own failure.
func statusForError(err error) int {
	var invalidKey *dberrors.InvalidKey
	var invalidValue *dberrors.InvalidValue
	if errors.As(err, &invalidKey) || errors.As(err, &invalidValue) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
