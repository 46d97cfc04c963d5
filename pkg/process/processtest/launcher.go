// Package processtest provides an in-process Launcher that serves the worker
// router on the requested port, so supervisor logic can be tested without
// spawning binaries.
package processtest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/gorilla/mux"

	"github.com/psantana5/interpreter-runtime/pkg/process"
	"github.com/psantana5/interpreter-runtime/pkg/rpc"
	"github.com/psantana5/interpreter-runtime/pkg/worker"
)

// Launcher runs workers as goroutines
type Launcher struct {
	// Err, when set, is returned by every Launch
	Err error
	// NeverReady launches workers that never answer the readiness probe
	NeverReady bool

	mu       sync.Mutex
	launches int
	requests []process.LaunchRequest
	handles  []*Handle
}

// NewLauncher creates an in-process launcher
func NewLauncher() *Launcher {
	return &Launcher{}
}

// Launches returns how many workers were launched
func (l *Launcher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

// Requests returns every launch request seen so far
func (l *Launcher) Requests() []process.LaunchRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]process.LaunchRequest(nil), l.requests...)
}

// Handles returns every handle launched so far
func (l *Launcher) Handles() []*Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Handle(nil), l.handles...)
}

// Launch starts a worker service on req.Port
func (l *Launcher) Launch(ctx context.Context, req process.LaunchRequest) (process.Handle, error) {
	l.mu.Lock()
	l.launches++
	l.requests = append(l.requests, req)
	launchErr := l.Err
	neverReady := l.NeverReady
	l.mu.Unlock()

	if launchErr != nil {
		return nil, launchErr
	}

	h := &Handle{done: make(chan struct{}), killed: make(chan struct{})}
	l.mu.Lock()
	l.handles = append(l.handles, h)
	l.mu.Unlock()

	if neverReady {
		go func() {
			<-h.killed
			h.exit(errors.New("signal: killed"))
		}()
		return h, nil
	}

	env := parseEnv(req.Env)
	svc := worker.NewService(worker.Env{
		Properties: req.Properties,
		LookupEnv: func(key string) (string, bool) {
			v, ok := env[key]
			return v, ok
		},
	}, nil)

	router := mux.NewRouter()
	rpc.NewHandler(svc, nil).RegisterRoutes(router)

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", req.Port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	srv := &http.Server{Handler: router}
	h.svc = svc
	go srv.Serve(ln)

	go func() {
		select {
		case <-svc.ShutdownRequested():
			srv.Shutdown(context.Background())
			svc.Close()
			h.exit(nil)
		case <-h.killed:
			srv.Close()
			svc.Close()
			h.exit(errors.New("signal: killed"))
		}
	}()
	return h, nil
}

func parseEnv(pairs []string) map[string]string {
	env := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

// Handle is an in-process worker
type Handle struct {
	svc *worker.Service

	mu       sync.Mutex
	err      error
	done     chan struct{}
	killed   chan struct{}
	killOnce sync.Once
	exitOnce sync.Once
	signals  []os.Signal
}

func (h *Handle) exit(err error) {
	h.exitOnce.Do(func() {
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
		close(h.done)
	})
}

// Service returns the worker service, nil for a worker that never became ready
func (h *Handle) Service() *worker.Service { return h.svc }

// Crash makes the worker exit as if it died on its own
func (h *Handle) Crash() {
	h.killOnce.Do(func() { close(h.killed) })
}

// Signals returns the signals delivered so far
func (h *Handle) Signals() []os.Signal {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]os.Signal(nil), h.signals...)
}

// Pid returns the test binary's pid
func (h *Handle) Pid() int { return os.Getpid() }

// Signal stops the in-process worker for any signal
func (h *Handle) Signal(sig os.Signal) error {
	h.mu.Lock()
	h.signals = append(h.signals, sig)
	h.mu.Unlock()
	h.killOnce.Do(func() { close(h.killed) })
	return nil
}

// Done is closed when the worker has stopped
func (h *Handle) Done() <-chan struct{} { return h.done }

// ExitErr returns the simulated wait error
func (h *Handle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}
