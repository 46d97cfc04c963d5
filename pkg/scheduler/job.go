package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle status of a job
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusRunning  Status = "RUNNING"
	StatusFinished Status = "FINISHED"
	StatusError    Status = "ERROR"
	StatusAborted  Status = "ABORTED"
)

// IsTerminal returns true once a job can no longer change status
func (s Status) IsTerminal() bool {
	return s == StatusFinished || s == StatusError || s == StatusAborted
}

// ErrAborted is the error of a job that was dropped from a torn down queue
var ErrAborted = errors.New("job aborted before it ran")

// RunFunc is the unit of work carried by a job. It receives the context the
// job was created with.
type RunFunc func(ctx context.Context) (interface{}, error)

// Job is a unit of work submitted to a Scheduler. It runs at most once.
type Job struct {
	id   string
	name string
	ctx  context.Context
	run  RunFunc

	mu       sync.Mutex
	status   Status
	result   interface{}
	err      error
	created  time.Time
	started  time.Time
	finished time.Time
	done     chan struct{}
}

// NewJob creates a pending job. ctx is handed to run; it carries values such
// as trace spans and is not used to abort the job once queued.
func NewJob(ctx context.Context, name string, run RunFunc) *Job {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Job{
		id:      uuid.New().String(),
		name:    name,
		ctx:     ctx,
		run:     run,
		status:  StatusPending,
		created: time.Now(),
		done:    make(chan struct{}),
	}
}

// ID returns the job id
func (j *Job) ID() string { return j.id }

// Name returns the job name
func (j *Job) Name() string { return j.name }

// Status returns the current status
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Result returns the value and error produced by the job
func (j *Job) Result() (interface{}, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result, j.err
}

// Err returns the error produced by the job, ErrAborted or ErrStopped if it never ran
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Started returns when the job began running, zero if it never ran
func (j *Job) Started() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.started
}

// Finished returns when the job reached a terminal status
func (j *Job) Finished() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.finished
}

// Done is closed when the job reaches a terminal status
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job is terminal or ctx is done. It returns ctx.Err()
// in the latter case; the job itself keeps its place in the queue.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// execute runs the job if it is still pending. Returns false if it was not.
func (j *Job) execute() bool {
	j.mu.Lock()
	if j.status != StatusPending {
		j.mu.Unlock()
		return false
	}
	j.status = StatusRunning
	j.started = time.Now()
	j.mu.Unlock()

	result, err := j.safeRun()

	j.mu.Lock()
	j.result = result
	j.err = err
	j.finished = time.Now()
	if err != nil {
		j.status = StatusError
	} else {
		j.status = StatusFinished
	}
	j.mu.Unlock()
	close(j.done)
	return true
}

func (j *Job) safeRun() (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", j.name, r)
		}
	}()
	return j.run(j.ctx)
}

// abort marks a pending job as aborted. Returns false if it already left pending.
func (j *Job) abort(cause error) bool {
	j.mu.Lock()
	if j.status != StatusPending {
		j.mu.Unlock()
		return false
	}
	j.status = StatusAborted
	j.err = cause
	j.finished = time.Now()
	j.mu.Unlock()
	close(j.done)
	return true
}
