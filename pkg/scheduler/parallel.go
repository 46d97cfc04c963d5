package scheduler

import (
	"sync"
)

// Parallel runs each job on its own goroutine, optionally bounded by maxConcurrency
type Parallel struct {
	name string
	opts options
	sem  chan struct{}

	mu      sync.Mutex
	waiting map[string]*Job
	running map[string]*Job
	stopped bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewParallel creates a parallel scheduler. maxConcurrency <= 0 means unbounded.
func NewParallel(name string, maxConcurrency int, opts ...Option) *Parallel {
	s := &Parallel{
		name:    name,
		opts:    buildOptions(opts),
		waiting: make(map[string]*Job),
		running: make(map[string]*Job),
		stopCh:  make(chan struct{}),
	}
	if maxConcurrency > 0 {
		s.sem = make(chan struct{}, maxConcurrency)
	}
	return s
}

// Name returns the queue name
func (s *Parallel) Name() string { return s.name }

// Kind returns KindParallel
func (s *Parallel) Kind() Kind { return KindParallel }

// Submit starts the job as soon as a slot is free
func (s *Parallel) Submit(job *Job) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		job.abort(ErrStopped)
		s.opts.metrics.JobQueued(string(KindParallel))
		s.opts.metrics.JobAborted(string(KindParallel))
		return ErrStopped
	}
	s.waiting[job.ID()] = job
	s.wg.Add(1)
	s.mu.Unlock()

	s.opts.metrics.JobQueued(string(KindParallel))
	go s.runJob(job)
	return nil
}

func (s *Parallel) runJob(job *Job) {
	defer s.wg.Done()

	if s.sem != nil {
		select {
		case s.sem <- struct{}{}:
			defer func() { <-s.sem }()
		case <-s.stopCh:
			// Stop already aborted it
			return
		}
	}

	s.mu.Lock()
	if _, ok := s.waiting[job.ID()]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.waiting, job.ID())
	s.running[job.ID()] = job
	s.mu.Unlock()

	s.opts.metrics.JobStarted(string(KindParallel))
	job.execute()
	s.opts.metrics.JobFinished(string(KindParallel), string(job.Status()))

	s.mu.Lock()
	delete(s.running, job.ID())
	s.mu.Unlock()
}

// Waiting returns jobs waiting for a concurrency slot
func (s *Parallel) Waiting() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Job, 0, len(s.waiting))
	for _, j := range s.waiting {
		out = append(out, j)
	}
	return out
}

// Running returns jobs currently executing
func (s *Parallel) Running() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Job, 0, len(s.running))
	for _, j := range s.running {
		out = append(out, j)
	}
	return out
}

// Stop aborts jobs still waiting for a slot and waits for running ones to return
func (s *Parallel) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.wg.Wait()
		return
	}
	s.stopped = true
	pending := make([]*Job, 0, len(s.waiting))
	for id, j := range s.waiting {
		pending = append(pending, j)
		delete(s.waiting, id)
	}
	close(s.stopCh)
	s.mu.Unlock()

	for _, job := range pending {
		if job.abort(ErrAborted) {
			s.opts.metrics.JobAborted(string(KindParallel))
		}
	}
	s.wg.Wait()
}
