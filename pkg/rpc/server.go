package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"

	"github.com/gorilla/mux"

	"github.com/psantana5/interpreter-runtime/pkg/logging"
	"github.com/psantana5/interpreter-runtime/pkg/models"
)

// Service is implemented by the worker side of the contract
type Service interface {
	Open(ctx context.Context, session, name string) (*models.CapabilityDescriptor, error)
	Interpret(ctx context.Context, session, name string, req InterpretRequest) (*models.Result, error)
	Progress(ctx context.Context, session, name, paragraphID string) (int, error)
	CloseInstance(ctx context.Context, session, name string) error
	CloseSession(ctx context.Context, session string) error
	// Shutdown is called after the reply to a shutdown request has been written
	Shutdown()
}

// Handler exposes a Service over HTTP
type Handler struct {
	svc    Service
	logger *logging.Logger
}

// NewHandler creates a handler for svc
func NewHandler(svc Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes registers the worker routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/v1/shutdown", h.Shutdown).Methods("POST")
	r.HandleFunc("/v1/sessions/{session}", h.CloseSession).Methods("DELETE")
	r.HandleFunc("/v1/sessions/{session}/interpreters/{name}", h.Open).Methods("POST")
	r.HandleFunc("/v1/sessions/{session}/interpreters/{name}", h.CloseInstance).Methods("DELETE")
	r.HandleFunc("/v1/sessions/{session}/interpreters/{name}/interpret", h.Interpret).Methods("POST")
	r.HandleFunc("/v1/sessions/{session}/interpreters/{name}/progress", h.Progress).Methods("GET")
}

// Health reports readiness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", PID: os.Getpid()})
}

// Open instantiates a capability
func (h *Handler) Open(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	desc, err := h.svc.Open(r.Context(), vars["session"], vars["name"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, desc)
}

// Interpret runs code on an opened capability
func (h *Handler) Interpret(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req InterpretRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	result, err := h.svc.Interpret(r.Context(), vars["session"], vars["name"], req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Progress reports the progress of a paragraph
func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	progress, err := h.svc.Progress(r.Context(), vars["session"], vars["name"], r.URL.Query().Get("paragraph"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ProgressResponse{Progress: progress})
}

// CloseInstance drops one capability instance
func (h *Handler) CloseInstance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.svc.CloseInstance(r.Context(), vars["session"], vars["name"]); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CloseSession drops every instance of a session
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.CloseSession(r.Context(), mux.Vars(r)["session"]); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Shutdown acknowledges the request then asks the service to exit
func (h *Handler) Shutdown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "shutting down"})
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	h.svc.Shutdown()
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNotFound) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error()})
		return
	}
	h.logger.Error("Worker request failed", map[string]interface{}{"error": err.Error()})
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
