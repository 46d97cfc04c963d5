package scheduler

import (
	"sync"
)

// FIFO runs jobs one at a time in submission order on a single goroutine
type FIFO struct {
	name string
	opts options

	mu       sync.Mutex
	queue    []*Job
	running  *Job
	stopped  bool
	wake     chan struct{}
	stopCh   chan struct{}
	loopDone chan struct{}
}

// NewFIFO creates and starts a FIFO scheduler
func NewFIFO(name string, opts ...Option) *FIFO {
	s := &FIFO{
		name:     name,
		opts:     buildOptions(opts),
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	go s.run()
	return s
}

// Name returns the queue name
func (s *FIFO) Name() string { return s.name }

// Kind returns KindFIFO
func (s *FIFO) Kind() Kind { return KindFIFO }

// Submit appends a job to the queue
func (s *FIFO) Submit(job *Job) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		job.abort(ErrStopped)
		s.opts.metrics.JobQueued(string(KindFIFO))
		s.opts.metrics.JobAborted(string(KindFIFO))
		return ErrStopped
	}
	s.queue = append(s.queue, job)
	s.mu.Unlock()

	s.opts.metrics.JobQueued(string(KindFIFO))
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Waiting returns the queued jobs in order
func (s *FIFO) Waiting() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Job, len(s.queue))
	copy(out, s.queue)
	return out
}

// Running returns the job currently executing, if any
func (s *FIFO) Running() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running == nil {
		return nil
	}
	return []*Job{s.running}
}

// Stop aborts queued jobs, lets the current job finish and waits for the loop to exit
func (s *FIFO) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		<-s.loopDone
		return
	}
	s.stopped = true
	pending := s.queue
	s.queue = nil
	close(s.stopCh)
	s.mu.Unlock()

	for _, job := range pending {
		if job.abort(ErrAborted) {
			s.opts.metrics.JobAborted(string(KindFIFO))
		}
	}
	if len(pending) > 0 {
		s.opts.logger.Debug("Aborted queued jobs", map[string]interface{}{"scheduler": s.name, "count": len(pending)})
	}
	<-s.loopDone
}

// run is the main scheduler loop
func (s *FIFO) run() {
	defer close(s.loopDone)

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.stopCh:
				return
			}
		}
		job := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.running = job
		s.mu.Unlock()

		s.opts.metrics.JobStarted(string(KindFIFO))
		job.execute()
		s.opts.metrics.JobFinished(string(KindFIFO), string(job.Status()))

		s.mu.Lock()
		s.running = nil
		s.mu.Unlock()
	}
}
