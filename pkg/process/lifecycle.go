package process

import (
	"errors"
	"os/exec"
	"syscall"
)

// ExitReason classifies how a worker ended
type ExitReason string

const (
	// ExitShutdown is a clean exit after Stop asked for it
	ExitShutdown ExitReason = "shutdown"
	// ExitTerminated is an exit on SIGTERM
	ExitTerminated ExitReason = "terminated"
	// ExitKilled is an exit on SIGKILL
	ExitKilled ExitReason = "killed"
	// ExitCrashed is a non-zero exit or another signal
	ExitCrashed ExitReason = "crashed"
	// ExitUnexpected is a clean exit nobody asked for
	ExitUnexpected ExitReason = "exited"
)

// classifyExit maps a wait error to an exit reason. requested is true when
// the exit followed a Stop.
func classifyExit(err error, requested bool) ExitReason {
	if err == nil {
		if requested {
			return ExitShutdown
		}
		return ExitUnexpected
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			switch ws.Signal() {
			case syscall.SIGTERM:
				return ExitTerminated
			case syscall.SIGKILL:
				return ExitKilled
			}
		}
	}
	return ExitCrashed
}
