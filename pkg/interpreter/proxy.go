package interpreter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/psantana5/interpreter-runtime/pkg/models"
	"github.com/psantana5/interpreter-runtime/pkg/process"
	"github.com/psantana5/interpreter-runtime/pkg/rpc"
	"github.com/psantana5/interpreter-runtime/pkg/scheduler"
	"github.com/psantana5/interpreter-runtime/pkg/tracing"
)

// Proxy is a tenant's handle on one capability of a group's worker
type Proxy struct {
	group      *Group
	sessionKey string
	info       models.CapabilityInfo

	mu            sync.Mutex
	closed        bool
	openedOn      string
	desc          *models.CapabilityDescriptor
	formType      models.FormType
	progress      map[string]int
	lastParagraph string
}

func newProxy(g *Group, sessionKey string, info models.CapabilityInfo) *Proxy {
	return &Proxy{
		group:      g,
		sessionKey: sessionKey,
		info:       info,
		progress:   make(map[string]int),
	}
}

// Name returns the capability name
func (p *Proxy) Name() string { return p.info.Name }

// SessionKey returns the session the proxy belongs to
func (p *Proxy) SessionKey() string { return p.sessionKey }

// Group returns the owning group
func (p *Proxy) Group() *Group { return p.group }

// IsClosed reports whether the proxy's session was released
func (p *Proxy) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Proxy) markClosed() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func (p *Proxy) resource() string {
	return fmt.Sprintf("interpreter %s (session %s)", p.info.Name, p.sessionKey)
}

// Interpret runs code on the worker through the proxy's scheduler queue and
// blocks until it finished. Remote and transport failures come back as an
// ERROR result; a proxy whose process is gone yields ClosedResourceError.
func (p *Proxy) Interpret(ctx context.Context, code string, ectx models.ExecutionContext) (*models.Result, error) {
	deps := p.group.setting.deps
	ctx, span := deps.Tracer.StartSpan(ctx, "interpreter.interpret",
		tracing.SessionAttributes(p.group.setting.ID(), p.group.Key(), p.sessionKey, p.info.Name)...)
	defer span.End()

	started := time.Now()
	result, procID, err := p.interpret(ctx, code, ectx)
	finished := time.Now()

	rec := &models.ExecutionRecord{
		SettingID:   p.group.setting.ID(),
		GroupKey:    p.group.Key(),
		SessionKey:  p.sessionKey,
		Capability:  p.info.Name,
		ProcessID:   procID,
		NoteID:      ectx.NoteID,
		ParagraphID: ectx.ParagraphID,
		User:        ectx.User,
		StartedAt:   started,
		FinishedAt:  finished,
	}
	switch {
	case err != nil:
		rec.Code = models.CodeError
		rec.Error = err.Error()
		tracing.SetError(ctx, err)
	default:
		rec.Code = result.Code
		if result.Code == models.CodeError {
			rec.Error = result.Text()
		}
	}
	deps.recordExecution(rec)
	deps.Metrics.ObserveInterpret(p.group.setting.ID(), p.info.Name, string(rec.Code), finished.Sub(started))

	return result, err
}

func (p *Proxy) interpret(ctx context.Context, code string, ectx models.ExecutionContext) (*models.Result, string, error) {
	if p.IsClosed() {
		return nil, "", closedError(p.resource(), "session closed")
	}

	proc, err := p.group.GetOrCreateProcess(ctx)
	if err != nil {
		return nil, "", err
	}

	desc, err := p.open(ctx, proc)
	if err != nil {
		result, err := p.callFailed(proc, err)
		return result, proc.ID(), err
	}

	p.mu.Lock()
	p.lastParagraph = ectx.ParagraphID
	p.progress[ectx.ParagraphID] = 0
	p.mu.Unlock()

	queue, err := p.queueFor(proc, desc.Parallel)
	if err != nil {
		return nil, proc.ID(), err
	}

	job := scheduler.NewJob(ctx, "interpret "+p.info.Name, func(ctx context.Context) (interface{}, error) {
		client := proc.Client()
		if client == nil {
			return nil, closedError(p.resource(), "process stopped")
		}
		tracing.AddEvent(ctx, "interpret.started")
		return client.Interpret(ctx, p.sessionKey, p.info.Name, code, ectx)
	})
	if err := queue.Submit(job); err != nil {
		return nil, proc.ID(), closedError(p.resource(), "queue stopped")
	}
	if err := job.Wait(ctx); err != nil {
		return nil, proc.ID(), err
	}

	if job.Status() == scheduler.StatusAborted {
		return nil, proc.ID(), closedError(p.resource(), "queue torn down before the call ran")
	}
	value, err := job.Result()
	if err != nil {
		result, err := p.callFailed(proc, err)
		return result, proc.ID(), err
	}

	result := value.(*models.Result)
	p.mu.Lock()
	if result.Progress != nil {
		p.progress[ectx.ParagraphID] = *result.Progress
	}
	p.mu.Unlock()
	return result, proc.ID(), nil
}

// queueFor returns the scheduler queue of this capability on proc. A queue
// created after proc was retired is removed again, so no queue outlives its
// process.
func (p *Proxy) queueFor(proc *process.Process, parallel bool) (scheduler.Scheduler, error) {
	deps := p.group.setting.deps
	key := proc.ID() + "/" + p.info.Name
	queue := deps.Schedulers.CreateOrGet(key, scheduler.KindFor(parallel), deps.MaxConcurrency)
	if !proc.IsRunning() {
		deps.Schedulers.Remove(key)
		return nil, closedError(p.resource(), "process stopped")
	}
	return queue, nil
}

// callFailed classifies a failed worker call
func (p *Proxy) callFailed(proc *process.Process, err error) (*models.Result, error) {
	if errors.Is(err, ErrClosedResource) {
		return nil, err
	}
	if rpc.IsTransport(err) || errors.Is(err, rpc.ErrClientClosed) {
		if !proc.IsRunning() {
			return nil, closedError(p.resource(), "process stopped during the call")
		}
		return models.ErrorResult(fmt.Sprintf("lost connection to worker %s: %v", proc.ID(), err)), nil
	}
	var se *rpc.StatusError
	if errors.As(err, &se) {
		return models.ErrorResult(se.Message), nil
	}
	return models.ErrorResult(err.Error()), nil
}

// open instantiates the capability on proc once per process handle
func (p *Proxy) open(ctx context.Context, proc *process.Process) (*models.CapabilityDescriptor, error) {
	p.mu.Lock()
	if p.openedOn == proc.ID() && p.desc != nil {
		desc := p.desc
		p.mu.Unlock()
		return desc, nil
	}
	p.mu.Unlock()

	client := proc.Client()
	if client == nil {
		return nil, closedError(p.resource(), "process stopped")
	}
	desc, err := client.Open(ctx, p.sessionKey, p.info.Name)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.openedOn = proc.ID()
	p.desc = desc
	if p.formType == "" {
		p.formType = desc.FormType
	}
	p.mu.Unlock()
	return desc, nil
}

// GetProgress returns the last progress (0-100) the worker reported for the
// paragraph in ectx, or for the most recent call when ectx names none. It
// falls back to the last known value when the worker cannot be reached.
func (p *Proxy) GetProgress(ctx context.Context, ectx models.ExecutionContext) (int, error) {
	if p.IsClosed() {
		return 0, closedError(p.resource(), "session closed")
	}
	if p.group.State() == models.GroupStopped {
		return 0, closedError(p.resource(), "process stopped")
	}

	p.mu.Lock()
	paragraph := ectx.ParagraphID
	if paragraph == "" {
		paragraph = p.lastParagraph
	}
	cached, ran := p.progress[paragraph]
	openedOn := p.openedOn
	p.mu.Unlock()

	if !ran {
		return 0, nil
	}

	proc := p.group.GetProcess()
	if proc == nil || proc.ID() != openedOn {
		return cached, nil
	}
	client := proc.Client()
	if client == nil {
		return cached, nil
	}

	progress, err := client.Progress(ctx, p.sessionKey, p.info.Name, paragraph)
	if err != nil {
		return cached, nil
	}

	p.mu.Lock()
	p.progress[paragraph] = progress
	p.mu.Unlock()
	return progress, nil
}

// GetFormType returns the capability's form type. It is fetched from the
// worker once and cached for the life of the proxy.
func (p *Proxy) GetFormType(ctx context.Context) (models.FormType, error) {
	p.mu.Lock()
	ft := p.formType
	p.mu.Unlock()
	if ft != "" {
		return ft, nil
	}

	if p.IsClosed() {
		return "", closedError(p.resource(), "session closed")
	}
	proc, err := p.group.GetOrCreateProcess(ctx)
	if err != nil {
		return "", err
	}
	desc, err := p.open(ctx, proc)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", p.info.Name, err)
	}
	return desc.FormType, nil
}

// Close releases the proxy's session in its group
func (p *Proxy) Close(ctx context.Context) error {
	return p.group.Close(ctx, p.sessionKey)
}
