package interpreter

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/psantana5/interpreter-runtime/pkg/logging"
	"github.com/psantana5/interpreter-runtime/pkg/models"
	"github.com/psantana5/interpreter-runtime/pkg/process"
)

// Group owns at most one worker process and the proxies that share it.
// A group instance moves Empty -> Running -> Stopped; a stopped instance is
// retired and its key may be reused by a fresh instance.
type Group struct {
	id      string
	key     string
	setting *Setting
	logger  *logging.Logger

	mu       sync.Mutex
	state    models.GroupState
	proc     *process.Process
	starting *startCall
	sessions map[string][]*Proxy
	created  time.Time
}

func newGroup(s *Setting, key string) *Group {
	id := uuid.New().String()
	return &Group{
		id:       id,
		key:      key,
		setting:  s,
		logger:   s.logger.WithField("group", key),
		state:    models.GroupEmpty,
		sessions: make(map[string][]*Proxy),
		created:  time.Now(),
	}
}

// ID returns the instance id, unique across reuses of the same key
func (g *Group) ID() string { return g.id }

// Key returns the group key
func (g *Group) Key() string { return g.key }

// Setting returns the owning setting
func (g *Group) Setting() *Setting { return g.setting }

// CreatedAt returns when the instance was created
func (g *Group) CreatedAt() time.Time { return g.created }

// State returns the lifecycle state
func (g *Group) State() models.GroupState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// SessionKeys returns the keys of the sessions holding proxies, sorted
func (g *Group) SessionKeys() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	keys := make([]string, 0, len(g.sessions))
	for k := range g.sessions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GetProcess returns the current process handle, or nil. It never waits
// for a start in progress.
func (g *Group) GetProcess() *process.Process {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.proc
}

func (g *Group) transition(to models.GroupState) error {
	if err := models.ValidateGroupTransition(g.state, to); err != nil {
		return fmt.Errorf("group %s: %w", g.key, err)
	}
	g.state = to
	return nil
}

// startCall is one in-flight worker start that concurrent callers wait on
type startCall struct {
	done chan struct{}
	proc *process.Process
	err  error

	// abandoned is set when the starting caller's context ended the start
	abandoned bool
}

// GetOrCreateProcess returns the running process, starting one if needed.
// Concurrent callers share one start. A failed start leaves the group
// retryable; a stopped group yields ClosedResourceError. The group lock is
// not held while the worker starts.
func (g *Group) GetOrCreateProcess(ctx context.Context) (*process.Process, error) {
	for {
		g.mu.Lock()
		if g.state == models.GroupStopped {
			g.mu.Unlock()
			return nil, closedError("interpreter group "+g.key, "process stopped")
		}
		if g.proc != nil {
			if g.proc.IsRunning() {
				p := g.proc
				g.mu.Unlock()
				return p, nil
			}
			// the worker died on its own; replace the handle
			dead := g.proc
			g.proc = nil
			g.mu.Unlock()
			g.retire(ctx, dead)
			continue
		}
		if call := g.starting; call != nil {
			g.mu.Unlock()
			select {
			case <-call.done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			if call.abandoned && ctx.Err() == nil {
				// the starting caller gave up; try again on our own context
				continue
			}
			return call.proc, call.err
		}

		call := &startCall{done: make(chan struct{})}
		g.starting = call
		g.mu.Unlock()

		call.proc, call.err = g.start(ctx)
		call.abandoned = call.err != nil && ctx.Err() != nil

		g.mu.Lock()
		g.starting = nil
		close(call.done)
		g.mu.Unlock()
		return call.proc, call.err
	}
}

// start launches a worker and installs it as the group's handle
func (g *Group) start(ctx context.Context) (*process.Process, error) {
	deps := g.setting.deps
	p := process.New(process.Options{
		SettingID:  g.setting.ID(),
		Runner:     g.setting.Runner(),
		Properties: g.setting.Properties(),
		Launcher:   deps.Launcher,
		Config:     deps.Process,
		Logger:     g.logger,
		OnExit:     g.onExit,
	})

	deps.recordEvent(g.event(p, models.ProcessStarting, ""))
	if err := p.Start(ctx); err != nil {
		deps.Metrics.ProcessStartFailed(g.setting.ID())
		ev := g.event(p, models.ProcessStartupFailed, "")
		ev.Message = err.Error()
		deps.recordEvent(ev)
		return nil, err
	}

	g.mu.Lock()
	if g.state == models.GroupStopped {
		// the last session left while the worker was starting
		g.mu.Unlock()
		g.retire(ctx, p)
		return nil, closedError("interpreter group "+g.key, "group stopped during start")
	}
	if g.state == models.GroupEmpty {
		if err := g.transition(models.GroupRunning); err != nil {
			g.mu.Unlock()
			p.Stop(ctx)
			return nil, err
		}
	}
	g.proc = p
	g.mu.Unlock()

	deps.Metrics.ProcessStarted(g.setting.ID())
	deps.recordEvent(g.event(p, models.ProcessReady, ""))
	return p, nil
}

// Proxies returns the proxies of a session, registering them when create is set
func (g *Group) Proxies(sessionKey string, create bool) ([]*Proxy, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == models.GroupStopped {
		return nil, closedError("interpreter group "+g.key, "group stopped")
	}
	if proxies, ok := g.sessions[sessionKey]; ok {
		return append([]*Proxy(nil), proxies...), nil
	}
	if !create {
		return nil, nil
	}

	caps := g.setting.Capabilities()
	proxies := make([]*Proxy, 0, len(caps))
	for _, info := range caps {
		proxies = append(proxies, newProxy(g, sessionKey, info))
	}
	g.sessions[sessionKey] = proxies
	g.logger.Debug("Session registered", map[string]interface{}{"session": sessionKey})
	return append([]*Proxy(nil), proxies...), nil
}

// Close releases a session. The last session out stops the process and
// retires the group. Closing an unknown session or a stopped group is a no-op.
func (g *Group) Close(ctx context.Context, sessionKey string) error {
	g.mu.Lock()
	if g.state == models.GroupStopped {
		g.mu.Unlock()
		return nil
	}
	proxies, ok := g.sessions[sessionKey]
	if !ok {
		g.mu.Unlock()
		return nil
	}
	delete(g.sessions, sessionKey)
	for _, px := range proxies {
		px.markClosed()
	}

	if len(g.sessions) > 0 {
		proc := g.proc
		g.mu.Unlock()
		g.logger.Debug("Session closed", map[string]interface{}{"session": sessionKey})
		g.closeRemoteSession(ctx, proc, sessionKey)
		return nil
	}

	return g.stopLocked(ctx)
}

// Shutdown closes every session and stops the process
func (g *Group) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	if g.state == models.GroupStopped {
		g.mu.Unlock()
		return nil
	}
	for key, proxies := range g.sessions {
		for _, px := range proxies {
			px.markClosed()
		}
		delete(g.sessions, key)
	}
	return g.stopLocked(ctx)
}

// stopLocked retires the group. It is called with g.mu held and releases it.
func (g *Group) stopLocked(ctx context.Context) error {
	proc := g.proc
	g.proc = nil
	err := g.transition(models.GroupStopped)
	g.mu.Unlock()
	if err != nil {
		return err
	}

	if proc != nil {
		err = g.retire(ctx, proc)
	}
	g.logger.Info("Interpreter group stopped")
	g.setting.groupStopped(g)
	return err
}

// retire stops a process handle and tears down its scheduler queues
func (g *Group) retire(ctx context.Context, proc *process.Process) error {
	deps := g.setting.deps
	err := proc.Stop(ctx)
	deps.Schedulers.RemovePrefix(proc.ID() + "/")

	ev := g.event(proc, models.ProcessStopped, "")
	if err != nil {
		ev.Message = err.Error()
		g.logger.Warn("Worker stop did not complete cleanly", map[string]interface{}{"error": err.Error()})
	}
	deps.recordEvent(ev)
	return err
}

func (g *Group) closeRemoteSession(ctx context.Context, proc *process.Process, sessionKey string) {
	if proc == nil {
		return
	}
	client := proc.Client()
	if client == nil {
		return
	}
	if err := client.CloseSession(ctx, sessionKey); err != nil {
		g.logger.Warn("Failed to close remote session", map[string]interface{}{
			"session": sessionKey,
			"error":   err.Error(),
		})
	}
}

// onExit is invoked by the process watcher when a worker exits
func (g *Group) onExit(p *process.Process, info process.ExitInfo) {
	deps := g.setting.deps
	deps.Metrics.ProcessStopped(g.setting.ID(), string(info.Reason))
	if info.Requested {
		return
	}
	ev := g.event(p, models.ProcessExited, string(info.Reason))
	if info.Err != nil {
		ev.Message = info.Err.Error()
	}
	deps.recordEvent(ev)
}

func (g *Group) event(p *process.Process, typ models.ProcessEventType, reason string) *models.ProcessEvent {
	ev := &models.ProcessEvent{
		ProcessID:  p.ID(),
		SettingID:  g.setting.ID(),
		GroupKey:   g.key,
		Type:       typ,
		PID:        p.Pid(),
		ExitReason: reason,
		Timestamp:  time.Now(),
	}
	if typ == models.ProcessStopped {
		ev.ExitReason = string(p.ExitReason())
	}
	return ev
}
