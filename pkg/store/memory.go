package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/psantana5/interpreter-runtime/pkg/models"
)

// MemoryStore keeps the journals in memory
type MemoryStore struct {
	mu         sync.RWMutex
	executions []*models.ExecutionRecord
	events     []*models.ProcessEvent
	nextEvent  int64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// RecordExecution appends an execution record
func (s *MemoryStore) RecordExecution(ctx context.Context, rec *models.ExecutionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	cp := *rec

	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions = append(s.executions, &cp)
	return nil
}

// ListExecutions returns matching records, newest first
func (s *MemoryStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*models.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.ExecutionRecord
	for _, rec := range s.executions {
		if filter.SettingID != "" && rec.SettingID != filter.SettingID {
			continue
		}
		if filter.SessionKey != "" && rec.SessionKey != filter.SessionKey {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit := limitOrDefault(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RecordProcessEvent appends a lifecycle event and assigns its id
func (s *MemoryStore) RecordProcessEvent(ctx context.Context, ev *models.ProcessEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEvent++
	ev.ID = s.nextEvent
	cp := *ev
	s.events = append(s.events, &cp)
	return nil
}

// ListProcessEvents returns matching events in the order they were recorded
func (s *MemoryStore) ListProcessEvents(ctx context.Context, filter EventFilter) ([]*models.ProcessEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.ProcessEvent
	for _, ev := range s.events {
		if filter.SettingID != "" && ev.SettingID != filter.SettingID {
			continue
		}
		if filter.GroupKey != "" && ev.GroupKey != filter.GroupKey {
			continue
		}
		if filter.ProcessID != "" && ev.ProcessID != filter.ProcessID {
			continue
		}
		cp := *ev
		out = append(out, &cp)
	}
	// keep the most recent ones
	if limit := limitOrDefault(filter.Limit); len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// HealthCheck always succeeds
func (s *MemoryStore) HealthCheck() error { return nil }

// Close is a no-op
func (s *MemoryStore) Close() error { return nil }
