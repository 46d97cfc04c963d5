// Package scheduler orders the interpret calls that share a queue key.
//
// FIFO runs one job at a time in submission order. Parallel runs every job
// as soon as it is submitted, optionally bounded by a concurrency limit.
// Either way a submitted job runs exactly once or ends ABORTED when the
// scheduler is stopped first.
package scheduler

import (
	"errors"
	"fmt"

	"github.com/psantana5/interpreter-runtime/pkg/logging"
	"github.com/psantana5/interpreter-runtime/pkg/metrics"
)

// Kind selects the scheduling discipline
type Kind string

const (
	KindFIFO     Kind = "FIFO"
	KindParallel Kind = "PARALLEL"
)

// KindFor maps a capability's parallel flag to a scheduler kind
func KindFor(parallel bool) Kind {
	if parallel {
		return KindParallel
	}
	return KindFIFO
}

// ErrStopped is returned when submitting to a stopped scheduler
var ErrStopped = errors.New("scheduler stopped")

// Scheduler accepts jobs and runs each exactly once, or aborts it
type Scheduler interface {
	Name() string
	Kind() Kind
	Submit(job *Job) error
	Waiting() []*Job
	Running() []*Job
	Stop()
}

// New creates a scheduler of the given kind
func New(name string, kind Kind, maxConcurrency int, opts ...Option) (Scheduler, error) {
	switch kind {
	case KindFIFO:
		return NewFIFO(name, opts...), nil
	case KindParallel:
		return NewParallel(name, maxConcurrency, opts...), nil
	default:
		return nil, fmt.Errorf("unknown scheduler kind: %q", kind)
	}
}

type options struct {
	metrics *metrics.Metrics
	logger  *logging.Logger
}

// Option configures schedulers and the factory
type Option func(*options)

// WithMetrics records queue and job metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{logger: logging.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.Nop()
	}
	return o
}
