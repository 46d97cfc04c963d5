package scheduler

import (
	"sort"
	"strings"
	"sync"
)

// Factory owns the schedulers of a runtime, one per queue key
type Factory struct {
	opts []Option
	o    options

	mu         sync.Mutex
	schedulers map[string]Scheduler
}

// NewFactory creates an empty scheduler registry
func NewFactory(opts ...Option) *Factory {
	return &Factory{
		opts:       opts,
		o:          buildOptions(opts),
		schedulers: make(map[string]Scheduler),
	}
}

// CreateOrGet returns the scheduler registered under key, creating one of the
// given kind if absent. The kind of an existing scheduler is never changed.
func (f *Factory) CreateOrGet(key string, kind Kind, maxConcurrency int) Scheduler {
	f.mu.Lock()
	defer f.mu.Unlock()

	if s, ok := f.schedulers[key]; ok {
		return s
	}

	var s Scheduler
	if kind == KindParallel {
		s = NewParallel(key, maxConcurrency, f.opts...)
	} else {
		s = NewFIFO(key, f.opts...)
	}
	f.schedulers[key] = s
	f.o.logger.Debug("Scheduler created", map[string]interface{}{"key": key, "kind": string(s.Kind())})
	return s
}

// Get returns the scheduler registered under key
func (f *Factory) Get(key string) (Scheduler, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schedulers[key]
	return s, ok
}

// Keys returns the registered queue keys, sorted
func (f *Factory) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.schedulers))
	for k := range f.schedulers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Remove stops and forgets the scheduler under key
func (f *Factory) Remove(key string) {
	f.mu.Lock()
	s, ok := f.schedulers[key]
	delete(f.schedulers, key)
	f.mu.Unlock()

	if ok {
		s.Stop()
	}
}

// RemovePrefix stops and forgets every scheduler whose key starts with prefix
func (f *Factory) RemovePrefix(prefix string) int {
	f.mu.Lock()
	var removed []Scheduler
	for k, s := range f.schedulers {
		if strings.HasPrefix(k, prefix) {
			removed = append(removed, s)
			delete(f.schedulers, k)
		}
	}
	f.mu.Unlock()

	for _, s := range removed {
		s.Stop()
	}
	return len(removed)
}

// Close stops every scheduler
func (f *Factory) Close() {
	f.RemovePrefix("")
}
