// Package process supervises one out-of-process worker: launch, readiness
// handshake, RPC endpoint and graceful stop.
package process

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/psantana5/interpreter-runtime/pkg/logging"
	"github.com/psantana5/interpreter-runtime/pkg/models"
	"github.com/psantana5/interpreter-runtime/pkg/retry"
	"github.com/psantana5/interpreter-runtime/pkg/rpc"
)

// Config bounds the lifecycle of a worker
type Config struct {
	StartTimeout time.Duration `mapstructure:"start_timeout" yaml:"start_timeout"`
	GracePeriod  time.Duration `mapstructure:"grace_period" yaml:"grace_period"`
	LogLevel     string        `mapstructure:"log_level" yaml:"log_level"`
}

// DefaultConfig returns the default lifecycle bounds
func DefaultConfig() Config {
	return Config{
		StartTimeout: 30 * time.Second,
		GracePeriod:  3 * time.Second,
		LogLevel:     "info",
	}
}

// Options configures a Process
type Options struct {
	ID         string
	SettingID  string
	Runner     models.Runner
	Properties map[string]string
	Launcher   Launcher
	Config     Config
	Logger     *logging.Logger
	// OnExit is called once when the worker exits, whether stopped or not
	OnExit func(p *Process, info ExitInfo)
}

// ExitInfo describes how a worker ended
type ExitInfo struct {
	Reason ExitReason
	Err    error
	// Requested is true when the exit followed Stop
	Requested bool
}

// Process is one worker handle. It is started at most once; a stopped
// handle is never revived.
type Process struct {
	id         string
	settingID  string
	runner     models.Runner
	properties map[string]string
	launcher   Launcher
	cfg        Config
	logger     *logging.Logger
	onExit     func(*Process, ExitInfo)

	mu         sync.Mutex
	started    bool
	running    bool
	stopping   bool
	handle     Handle
	client     *rpc.Client
	port       int
	startedAt  time.Time
	exitReason ExitReason

	stopOnce sync.Once
}

// New creates an unstarted process handle
func New(opts Options) *Process {
	if opts.ID == "" {
		opts.ID = uuid.New().String()
	}
	def := DefaultConfig()
	if opts.Config.StartTimeout <= 0 {
		opts.Config.StartTimeout = def.StartTimeout
	}
	if opts.Config.GracePeriod <= 0 {
		opts.Config.GracePeriod = def.GracePeriod
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	props := make(map[string]string, len(opts.Properties))
	for k, v := range opts.Properties {
		props[k] = v
	}
	return &Process{
		id:         opts.ID,
		settingID:  opts.SettingID,
		runner:     opts.Runner,
		properties: props,
		launcher:   opts.Launcher,
		cfg:        opts.Config,
		logger:     opts.Logger.WithField("process_id", opts.ID),
		onExit:     opts.OnExit,
	}
}

// ID returns the process id
func (p *Process) ID() string { return p.id }

// Start launches the worker and blocks until it answers the readiness probe
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return &StartupError{ProcessID: p.id, Cause: ErrAlreadyStarted}
	}
	p.started = true
	p.mu.Unlock()

	if p.launcher == nil {
		return &StartupError{ProcessID: p.id, Cause: errors.New("no launcher configured")}
	}

	port, err := FreePort()
	if err != nil {
		return &StartupError{ProcessID: p.id, Cause: err}
	}

	req := LaunchRequest{
		ProcessID:  p.id,
		Runner:     p.runner,
		Port:       port,
		Properties: p.properties,
		Env:        DeriveEnv(p.properties),
		LogLevel:   p.cfg.LogLevel,
	}

	p.logger.Info("Starting worker", map[string]interface{}{"runner": p.runner.Path, "port": port})
	handle, err := p.launcher.Launch(ctx, req)
	if err != nil {
		return &StartupError{ProcessID: p.id, Cause: err}
	}

	client := rpc.NewClient(fmt.Sprintf("http://127.0.0.1:%d", port))
	if err := p.awaitReady(ctx, handle, client); err != nil {
		client.Close()
		p.kill(handle)
		p.logger.Error("Worker failed to become ready", map[string]interface{}{"error": err.Error()})
		return &StartupError{ProcessID: p.id, Cause: err}
	}

	p.mu.Lock()
	p.handle = handle
	p.client = client
	p.port = port
	p.running = true
	p.startedAt = time.Now()
	p.mu.Unlock()

	go p.watch(handle, client)

	p.logger.Info("Worker ready", map[string]interface{}{"pid": handle.Pid()})
	return nil
}

func (p *Process) awaitReady(ctx context.Context, handle Handle, client *rpc.Client) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.StartTimeout)
	defer cancel()

	return retry.Do(ctx, retry.PollConfig(), func() error {
		select {
		case <-handle.Done():
			if exitErr := handle.ExitErr(); exitErr != nil {
				return retry.Permanent(fmt.Errorf("%w: %v", ErrExitedEarly, exitErr))
			}
			return retry.Permanent(ErrExitedEarly)
		default:
		}
		_, err := client.Ping(ctx)
		return err
	})
}

// kill brings down a worker that never became ready
func (p *Process) kill(handle Handle) {
	handle.Signal(syscall.SIGKILL)
	select {
	case <-handle.Done():
	case <-time.After(p.cfg.GracePeriod):
		p.logger.Warn("Worker did not exit after SIGKILL", map[string]interface{}{"pid": handle.Pid()})
	}
}

// watch observes the worker until it exits
func (p *Process) watch(handle Handle, client *rpc.Client) {
	<-handle.Done()

	p.mu.Lock()
	requested := p.stopping
	p.running = false
	reason := classifyExit(handle.ExitErr(), requested)
	p.exitReason = reason
	p.mu.Unlock()

	client.Close()

	fields := map[string]interface{}{"pid": handle.Pid(), "reason": string(reason)}
	if requested {
		p.logger.Info("Worker exited", fields)
	} else {
		p.logger.Warn("Worker exited unexpectedly", fields)
	}

	if p.onExit != nil {
		p.onExit(p, ExitInfo{Reason: reason, Err: handle.ExitErr(), Requested: requested})
	}
}

// IsRunning reports whether the worker is up and not being stopped
func (p *Process) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Client returns the RPC client, nil unless running
func (p *Process) Client() *rpc.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return nil
	}
	return p.client
}

// Pid returns the worker pid, 0 before start
func (p *Process) Pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handle == nil {
		return 0
	}
	return p.handle.Pid()
}

// Port returns the worker's RPC port, 0 before start
func (p *Process) Port() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.port
}

// StartedAt returns when the worker became ready
func (p *Process) StartedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startedAt
}

// ExitReason returns why the worker exited, empty while it runs
func (p *Process) ExitReason() ExitReason {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exitReason == "" && p.handle != nil {
		select {
		case <-p.handle.Done():
			return classifyExit(p.handle.ExitErr(), p.stopping)
		default:
		}
	}
	return p.exitReason
}

// Stop asks the worker to exit, escalating to SIGTERM then SIGKILL on the
// process group. In-flight calls fail once Stop returns. Calling Stop again,
// or on a handle that never started, is a no-op.
func (p *Process) Stop(ctx context.Context) error {
	var err error
	p.stopOnce.Do(func() {
		err = p.stop(ctx)
	})
	return err
}

func (p *Process) stop(ctx context.Context) error {
	p.mu.Lock()
	handle, client := p.handle, p.client
	p.stopping = true
	p.running = false
	p.mu.Unlock()

	if handle == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, p.cfg.GracePeriod)
	if err := client.Shutdown(shutdownCtx); err != nil {
		p.logger.Debug("Shutdown request failed", map[string]interface{}{"error": err.Error()})
	}
	cancel()
	client.Close()

	if waitExit(ctx, handle, p.cfg.GracePeriod) {
		return nil
	}

	p.logger.Warn("Worker ignored shutdown, sending SIGTERM", map[string]interface{}{"pid": handle.Pid()})
	handle.Signal(syscall.SIGTERM)
	if waitExit(ctx, handle, p.cfg.GracePeriod) {
		return nil
	}

	p.logger.Warn("Worker ignored SIGTERM, sending SIGKILL", map[string]interface{}{"pid": handle.Pid()})
	handle.Signal(syscall.SIGKILL)
	if waitExit(ctx, handle, p.cfg.GracePeriod) {
		return nil
	}
	return fmt.Errorf("worker %s (pid %d) did not exit", p.id, handle.Pid())
}

func waitExit(ctx context.Context, handle Handle, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-handle.Done():
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
