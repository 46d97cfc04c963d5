package process

import (
	"errors"
	"fmt"
)

var (
	// ErrExitedEarly means the worker exited before answering the readiness probe
	ErrExitedEarly = errors.New("worker exited before becoming ready")

	// ErrAlreadyStarted is returned when Start is called twice on the same handle
	ErrAlreadyStarted = errors.New("process already started")
)

// StartupError is a failure to launch a worker or complete its readiness handshake
type StartupError struct {
	ProcessID string
	Cause     error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("failed to start worker process %s: %v", e.ProcessID, e.Cause)
}

func (e *StartupError) Unwrap() error { return e.Cause }

// IsStartupError reports whether err is or wraps a StartupError
func IsStartupError(err error) bool {
	var se *StartupError
	return errors.As(err, &se)
}
