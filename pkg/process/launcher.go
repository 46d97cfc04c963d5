package process

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"

	"github.com/psantana5/interpreter-runtime/pkg/logging"
	"github.com/psantana5/interpreter-runtime/pkg/models"
)

// LaunchRequest describes one worker to spawn
type LaunchRequest struct {
	ProcessID  string
	Runner     models.Runner
	Port       int
	Properties map[string]string
	// Env holds KEY=value pairs added to the parent environment
	Env      []string
	LogLevel string
}

// Handle is a launched worker
type Handle interface {
	Pid() int
	// Signal delivers sig to the worker's process group
	Signal(sig os.Signal) error
	// Done is closed when the worker has exited
	Done() <-chan struct{}
	// ExitErr is the wait error, valid once Done is closed
	ExitErr() error
}

// Launcher spawns workers
type Launcher interface {
	Launch(ctx context.Context, req LaunchRequest) (Handle, error)
}

// ExecLauncher spawns workers as child processes in their own process group
type ExecLauncher struct {
	Stdout io.Writer
	Stderr io.Writer
	logger *logging.Logger
}

// NewExecLauncher forwards worker output to the parent's stdout and stderr
func NewExecLauncher(logger *logging.Logger) *ExecLauncher {
	if logger == nil {
		logger = logging.Nop()
	}
	return &ExecLauncher{Stdout: os.Stdout, Stderr: os.Stderr, logger: logger}
}

// Args returns the command line arguments passed to the worker
func Args(req LaunchRequest) ([]string, error) {
	props := req.Properties
	if props == nil {
		props = map[string]string{}
	}
	data, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("failed to encode properties: %w", err)
	}

	args := append([]string{}, req.Runner.Args...)
	args = append(args, "--port", strconv.Itoa(req.Port), "--properties", string(data))
	if req.ProcessID != "" {
		args = append(args, "--id", req.ProcessID)
	}
	if req.LogLevel != "" {
		args = append(args, "--log-level", req.LogLevel)
	}
	return args, nil
}

// Launch starts the worker. The child outlives ctx; use the handle to stop it.
func (l *ExecLauncher) Launch(ctx context.Context, req LaunchRequest) (Handle, error) {
	if req.Runner.Path == "" {
		return nil, fmt.Errorf("runner path is empty")
	}
	args, err := Args(req)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(req.Runner.Path, args...)
	cmd.Dir = req.Runner.WorkDir
	cmd.Env = append(os.Environ(), req.Env...)
	// Own process group so Stop can signal the worker and its children together
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	prefix := fmt.Sprintf("[worker %s] ", req.ProcessID)
	cmd.Stdout = newPrefixWriter(l.Stdout, prefix)
	cmd.Stderr = newPrefixWriter(l.Stderr, prefix)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", req.Runner.Path, err)
	}

	h := &execHandle{cmd: cmd, done: make(chan struct{})}
	go func() {
		h.err = cmd.Wait()
		close(h.done)
	}()

	l.logger.Debug("Worker spawned", map[string]interface{}{
		"process_id": req.ProcessID,
		"pid":        cmd.Process.Pid,
		"port":       req.Port,
	})
	return h, nil
}

type execHandle struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (h *execHandle) Pid() int { return h.cmd.Process.Pid }

func (h *execHandle) Signal(sig os.Signal) error {
	select {
	case <-h.done:
		return nil
	default:
	}
	if s, ok := sig.(syscall.Signal); ok {
		if err := syscall.Kill(-h.cmd.Process.Pid, s); err == nil {
			return nil
		}
	}
	return h.cmd.Process.Signal(sig)
}

func (h *execHandle) Done() <-chan struct{} { return h.done }

func (h *execHandle) ExitErr() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// prefixWriter prefixes every complete line written to it
type prefixWriter struct {
	mu     sync.Mutex
	out    io.Writer
	prefix []byte
	buf    []byte
}

func newPrefixWriter(out io.Writer, prefix string) io.Writer {
	if out == nil {
		return io.Discard
	}
	return &prefixWriter{out: out, prefix: []byte(prefix)}
}

func (w *prefixWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := make([]byte, 0, len(w.prefix)+i+1)
		line = append(line, w.prefix...)
		line = append(line, w.buf[:i+1]...)
		if _, err := w.out.Write(line); err != nil {
			return len(p), err
		}
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}
