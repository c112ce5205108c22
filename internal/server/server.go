// Package server exposes health, project and human-gate endpoints over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dyluth/reelforge/internal/cache"
	"github.com/dyluth/reelforge/internal/chef"
	"github.com/dyluth/reelforge/internal/logging"
	"github.com/dyluth/reelforge/internal/store"
	"github.com/dyluth/reelforge/pkg/blackboard"
	"github.com/go-chi/chi/v5"
)

// Projects is the read side of the blackboard.
type Projects interface {
	Ping(ctx context.Context) error
	GetProject(ctx context.Context, projectID string) (*blackboard.Project, error)
	AuditLog(ctx context.Context, projectID string) ([]blackboard.AuditEntry, error)
}

// Config wires the handler's collaborators. Cache may be nil.
type Config struct {
	Projects Projects
	Gate     *chef.HumanGate
	Cache    *cache.Manager
	Logger   *slog.Logger
}

type api struct {
	projects Projects
	gate     *chef.HumanGate
	cache    *cache.Manager
	logger   *slog.Logger
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// HealthResponse is the JSON response of GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// New returns the HTTP handler.
func New(cfg Config) http.Handler {
	a := &api{
		projects: cfg.Projects,
		gate:     cfg.Gate,
		cache:    cfg.Cache,
		logger:   logging.Component(cfg.Logger, "server"),
	}

	r := chi.NewRouter()
	r.Get("/healthz", a.health)
	r.Route("/projects/{projectID}", func(r chi.Router) {
		r.Get("/", a.getProject)
		r.Get("/audit", a.getAudit)
		r.Get("/cache", a.getCacheStats)
	})
	r.Get("/gates", a.listGates)
	r.Post("/gates/{requestID}/decision", a.decide)
	return r
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.projects.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (a *api) getProject(w http.ResponseWriter, r *http.Request) {
	p, err := a.projects.GetProject(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *api) getAudit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "projectID")
	if _, err := a.projects.GetProject(r.Context(), id); err != nil {
		a.writeError(w, err)
		return
	}
	entries, err := a.projects.AuditLog(r.Context(), id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *api) getCacheStats(w http.ResponseWriter, r *http.Request) {
	if a.cache == nil {
		writeJSON(w, http.StatusNotFound, errorEnvelope{Error: errorBody{Code: "not_found", Message: "cache stats not enabled"}})
		return
	}
	st, err := a.cache.GetCacheStats(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *api) listGates(w http.ResponseWriter, r *http.Request) {
	status := blackboard.GateStatus(r.URL.Query().Get("status"))
	switch status {
	case "", blackboard.GateStatusPending, blackboard.GateStatusResolved, blackboard.GateStatusExpired:
	default:
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: errorBody{Code: "bad_request", Message: "unknown gate status " + string(status)}})
		return
	}
	reqs, err := a.gate.List(r.Context(), status)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if reqs == nil {
		reqs = []blackboard.HumanGateRequest{}
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (a *api) decide(w http.ResponseWriter, r *http.Request) {
	var d chef.UserDecision
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: errorBody{Code: "bad_request", Message: "invalid decision body: " + err.Error()}})
		return
	}
	req, err := a.gate.Get(r.Context(), chi.URLParam(r, "requestID"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	outcome, err := a.gate.HandleUserDecision(r.Context(), req, d)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (a *api) writeError(w http.ResponseWriter, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case blackboard.IsNotFound(err), errors.Is(err, store.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, chef.ErrGateNotPending):
		status, code = http.StatusConflict, "conflict"
	case blackboard.IsRetryable(err):
		status, code = http.StatusServiceUnavailable, "unavailable"
	}
	if status == http.StatusInternalServerError {
		a.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: err.Error()}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Server runs the handler until shut down.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer binds handler to addr.
func NewServer(addr string, handler http.Handler, logger *slog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
		logger: logging.Component(logger, "server"),
	}
}

// Start serves in the background.
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()
	logging.Event(s.logger, "server_started", "addr", s.srv.Addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
