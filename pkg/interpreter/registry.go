// Package interpreter routes execution requests from tenants to worker
// processes. A Registry holds Settings; a Setting lazily creates Groups
// keyed by its isolation option; a Group owns one worker process and the
// Proxies its tenants call.
package interpreter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/psantana5/interpreter-runtime/pkg/models"
)

// Registry is the process-wide set of settings. It is built from
// configuration at startup and torn down by Close.
type Registry struct {
	deps Deps

	mu       sync.RWMutex
	settings map[string]*Setting
	closed   bool
}

// NewRegistry creates an empty registry
func NewRegistry(deps Deps) *Registry {
	return &Registry{
		deps:     deps.withDefaults(),
		settings: make(map[string]*Setting),
	}
}

// Deps returns the collaborators shared by the registry's settings
func (r *Registry) Deps() Deps { return r.deps }

// Load adds every setting in cfgs, stopping at the first invalid one
func (r *Registry) Load(cfgs []models.SettingConfig) error {
	for _, cfg := range cfgs {
		if _, err := r.Add(cfg); err != nil {
			return err
		}
	}
	return nil
}

// Add creates a setting from cfg
func (r *Registry) Add(cfg models.SettingConfig) (*Setting, error) {
	s, err := newSetting(cfg, r.deps)
	if err != nil {
		return nil, fmt.Errorf("invalid setting: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, closedError("registry", "shut down")
	}
	if _, ok := r.settings[cfg.ID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSetting, cfg.ID)
	}
	r.settings[cfg.ID] = s
	r.deps.Logger.Info("Setting registered", map[string]interface{}{
		"setting":  cfg.ID,
		"per_note": string(s.option.PerNote),
		"per_user": string(s.option.PerUser),
	})
	return s, nil
}

// Get returns the setting with id
func (r *Registry) Get(id string) (*Setting, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.settings[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSettingNotFound, id)
	}
	return s, nil
}

// List returns every setting, sorted by id
func (r *Registry) List() []*Setting {
	r.mu.RLock()
	out := make([]*Setting, 0, len(r.settings))
	for _, s := range r.settings {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Remove closes and forgets a setting
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	s, ok := r.settings[id]
	delete(r.settings, id)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSettingNotFound, id)
	}
	return s.Close(ctx)
}

// Close stops every worker and scheduler. It is idempotent.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	settings := make([]*Setting, 0, len(r.settings))
	for _, s := range r.settings {
		settings = append(settings, s)
	}
	r.settings = make(map[string]*Setting)
	r.mu.Unlock()

	var errs []error
	for _, s := range settings {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("setting %s: %w", s.ID(), err))
		}
	}
	r.deps.Schedulers.Close()
	return errors.Join(errs...)
}
