// Package rpc is the call/response contract between the runtime and its
// worker processes: JSON over HTTP on a loopback port.
package rpc

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/psantana5/interpreter-runtime/pkg/models"
)

// InterpretRequest is the body of an interpret call
type InterpretRequest struct {
	Code    string                  `json:"code"`
	Context models.ExecutionContext `json:"context"`
}

// ProgressResponse is the reply of a progress call
type ProgressResponse struct {
	Progress int `json:"progress"`
}

// HealthResponse is the reply of the readiness probe
type HealthResponse struct {
	Status string `json:"status"`
	PID    int    `json:"pid"`
}

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error string `json:"error"`
}

var (
	// ErrNotFound is returned by a Service for an unknown capability or instance
	ErrNotFound = errors.New("not found")

	// ErrClientClosed is returned by calls made after Client.Close, and wrapped
	// by the TransportError of calls that were in flight when it was closed
	ErrClientClosed = errors.New("rpc client closed")
)

// TransportError is a failure to reach the worker or read its reply
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError is a non-2xx reply from the worker
type StatusError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed with status %d: %s", e.Op, e.StatusCode, e.Message)
}

// Is lets errors.Is(err, ErrNotFound) match a 404 reply
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// IsTransport reports whether err is a TransportError
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
