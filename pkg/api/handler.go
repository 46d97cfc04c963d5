// Package api is the daemon's admin surface: settings, interpret calls,
// session release and the execution journal over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/psantana5/interpreter-runtime/pkg/interpreter"
	"github.com/psantana5/interpreter-runtime/pkg/logging"
	"github.com/psantana5/interpreter-runtime/pkg/models"
	"github.com/psantana5/interpreter-runtime/pkg/process"
	"github.com/psantana5/interpreter-runtime/pkg/ratelimit"
	"github.com/psantana5/interpreter-runtime/pkg/store"
	"github.com/psantana5/interpreter-runtime/pkg/tenancy"
	"github.com/psantana5/interpreter-runtime/pkg/tracing"
)

// Handler serves the admin API on top of a registry
type Handler struct {
	registry *interpreter.Registry
	store    store.Store
	logger   *logging.Logger
}

// NewHandler creates an admin handler
func NewHandler(reg *interpreter.Registry, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Handler{
		registry: reg,
		store:    reg.Deps().Store,
		logger:   logger.WithComponent("api"),
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.Health).Methods("GET")

	r.HandleFunc("/v1/settings", h.ListSettings).Methods("GET")
	r.HandleFunc("/v1/settings/{id}", h.GetSetting).Methods("GET")
	r.HandleFunc("/v1/settings/{id}/interpret", h.Interpret).Methods("POST")
	r.HandleFunc("/v1/settings/{id}/progress", h.Progress).Methods("GET")
	r.HandleFunc("/v1/settings/{id}/form-type", h.FormType).Methods("GET")
	r.HandleFunc("/v1/settings/{id}/sessions", h.CloseSession).Methods("DELETE")
	r.HandleFunc("/v1/settings/{id}/properties/{key}", h.SetProperty).Methods("PUT")

	r.HandleFunc("/v1/executions", h.ListExecutions).Methods("GET")
	r.HandleFunc("/v1/processes/events", h.ListProcessEvents).Methods("GET")
}

// RouterOptions selects the middleware wrapped around the admin routes
type RouterOptions struct {
	Tracer  *tracing.Provider
	Limiter *ratelimit.Limiter
}

// NewRouter builds the admin router with tracing, caller identity and rate limiting
func NewRouter(h *Handler, opts RouterOptions) *mux.Router {
	r := mux.NewRouter()
	if opts.Tracer != nil {
		r.Use(tracing.HTTPMiddleware(opts.Tracer))
	}
	r.Use(tenancy.UserMiddleware)
	if opts.Limiter != nil {
		r.Use(opts.Limiter.Middleware(tenancy.UserKeyFunc))
	}
	h.RegisterRoutes(r)
	return r
}

// Health reports liveness of the daemon and its journal
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{"status": "healthy", "pid": os.Getpid(), "settings": len(h.registry.List())}
	if err := h.store.HealthCheck(); err != nil {
		status["status"] = "degraded"
		status["store"] = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// ListSettings lists every setting without group details
func (h *Handler) ListSettings(w http.ResponseWriter, r *http.Request) {
	settings := h.registry.List()
	resp := make([]SettingResponse, 0, len(settings))
	for _, s := range settings {
		resp = append(resp, toSettingResponse(s))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetSetting describes a setting with its groups, sessions and worker stats
func (h *Handler) GetSetting(w http.ResponseWriter, r *http.Request) {
	s, err := h.registry.Get(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := toSettingResponse(s)
	for _, g := range s.Groups() {
		gr := GroupResponse{
			ID:        g.ID(),
			Key:       g.Key(),
			State:     g.State(),
			Sessions:  g.SessionKeys(),
			CreatedAt: g.CreatedAt(),
		}
		if p := g.GetProcess(); p != nil {
			pr := &ProcessResponse{
				ID:        p.ID(),
				PID:       p.Pid(),
				Port:      p.Port(),
				Running:   p.IsRunning(),
				StartedAt: p.StartedAt(),
			}
			if stats, err := p.Stats(r.Context()); err == nil {
				pr.Stats = stats
			}
			gr.Process = pr
		}
		resp.Groups = append(resp.Groups, gr)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Interpret runs code through the caller's proxy
func (h *Handler) Interpret(w http.ResponseWriter, r *http.Request) {
	s, err := h.registry.Get(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req InterpretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	user := req.User
	if user == "" {
		user = tenancy.UserOrAnonymous(r.Context())
	}
	capability := req.Capability
	if capability == "" {
		capability = s.DefaultCapability()
	}

	px, err := s.GetInterpreter(r.Context(), user, req.Notebook, capability)
	if err != nil {
		h.writeError(w, err)
		return
	}

	ectx := models.ExecutionContext{}
	if req.Context != nil {
		ectx = *req.Context
	}
	ectx.User = user
	if ectx.NoteID == "" {
		ectx.NoteID = req.Notebook
	}
	if req.ParagraphID != "" {
		ectx.ParagraphID = req.ParagraphID
	}

	result, err := px.Interpret(r.Context(), req.Code, ectx)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Progress reports the progress of a paragraph. A tenant without an open
// session has run nothing, so it reads 0.
func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	px, err := h.proxyFromQuery(r)
	if errors.Is(err, interpreter.ErrSessionNotFound) {
		writeJSON(w, http.StatusOK, ProgressResponse{Progress: 0})
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	q := r.URL.Query()
	progress, err := px.GetProgress(r.Context(), models.ExecutionContext{
		NoteID:      q.Get("notebook"),
		ParagraphID: q.Get("paragraph"),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ProgressResponse{Progress: progress})
}

// FormType reports a capability's form type
func (h *Handler) FormType(w http.ResponseWriter, r *http.Request) {
	px, err := h.proxyFromQuery(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	ft, err := px.GetFormType(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FormTypeResponse{FormType: ft})
}

// CloseSession releases the session of a user and notebook
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.registry.Get(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	q := r.URL.Query()
	if err := s.CloseSession(r.Context(), userFromQuery(r), q.Get("notebook")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetProperty sets a property; running workers see it after their next start
func (h *Handler) SetProperty(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	s, err := h.registry.Get(vars["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req PropertyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	s.SetProperty(vars["key"], req.Value)
	h.logger.Info("Property updated", map[string]interface{}{"setting": s.ID(), "key": vars["key"]})
	writeJSON(w, http.StatusOK, s.Properties())
}

// ListExecutions lists journaled interpret calls, newest first
func (h *Handler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitFromQuery(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	recs, err := h.store.ListExecutions(r.Context(), store.ExecutionFilter{
		SettingID:  q.Get("setting"),
		SessionKey: q.Get("session"),
		Limit:      limit,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// ListProcessEvents lists journaled worker lifecycle events
func (h *Handler) ListProcessEvents(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitFromQuery(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	events, err := h.store.ListProcessEvents(r.Context(), store.EventFilter{
		SettingID: q.Get("setting"),
		GroupKey:  q.Get("group"),
		ProcessID: q.Get("process"),
		Limit:     limit,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// proxyFromQuery looks up the caller's proxy without opening a session
func (h *Handler) proxyFromQuery(r *http.Request) (*interpreter.Proxy, error) {
	s, err := h.registry.Get(mux.Vars(r)["id"])
	if err != nil {
		return nil, err
	}
	q := r.URL.Query()
	capability := q.Get("capability")
	if capability == "" {
		capability = s.DefaultCapability()
	}
	return s.LookupInterpreter(userFromQuery(r), q.Get("notebook"), capability)
}

// userFromQuery prefers the user query parameter over the caller identity
func userFromQuery(r *http.Request) string {
	if user := r.URL.Query().Get("user"); user != "" {
		return user
	}
	return tenancy.UserOrAnonymous(r.Context())
}

func limitFromQuery(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "limit must be a non-negative integer"})
		return 0, false
	}
	return limit, true
}

// writeError maps runtime errors to status codes
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, interpreter.ErrClosedResource):
		status = http.StatusGone
	case process.IsStartupError(err):
		status = http.StatusServiceUnavailable
	case errors.Is(err, interpreter.ErrSettingNotFound), errors.Is(err, interpreter.ErrUnknownCapability),
		errors.Is(err, interpreter.ErrSessionNotFound):
		status = http.StatusNotFound
	}
	if status >= 500 {
		h.logger.Error("Request failed", map[string]interface{}{"error": err.Error(), "status": status})
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func toSettingResponse(s *interpreter.Setting) SettingResponse {
	return SettingResponse{
		ID:           s.ID(),
		Name:         s.Name(),
		Group:        s.GroupName(),
		Option:       s.Option(),
		Runner:       s.Runner(),
		Capabilities: s.Capabilities(),
		Properties:   s.Properties(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
