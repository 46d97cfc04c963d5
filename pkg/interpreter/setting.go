package interpreter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/psantana5/interpreter-runtime/pkg/isolation"
	"github.com/psantana5/interpreter-runtime/pkg/logging"
	"github.com/psantana5/interpreter-runtime/pkg/models"
)

// Setting is a configured interpreter: a runner, its capabilities, an
// isolation option and a property map. Groups are created lazily per group key.
type Setting struct {
	id           string
	name         string
	groupName    string
	option       models.Option
	runner       models.Runner
	capabilities []models.CapabilityInfo
	deps         Deps
	logger       *logging.Logger

	mu         sync.Mutex
	properties map[string]string
	groups     map[string]*Group
}

func newSetting(cfg models.SettingConfig, deps Deps) (*Setting, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	props := make(map[string]string, len(cfg.Properties))
	for k, v := range cfg.Properties {
		props[k] = v
	}
	name := cfg.Name
	if name == "" {
		name = cfg.ID
	}
	return &Setting{
		id:           cfg.ID,
		name:         name,
		groupName:    cfg.Group,
		option:       cfg.Option.Normalize(),
		runner:       cfg.Runner,
		capabilities: append([]models.CapabilityInfo(nil), cfg.Capabilities...),
		deps:         deps,
		logger:       deps.Logger.WithComponent("interpreter").WithField("setting", cfg.ID),
		properties:   props,
		groups:       make(map[string]*Group),
	}, nil
}

// ID returns the setting id
func (s *Setting) ID() string { return s.id }

// Name returns the display name
func (s *Setting) Name() string { return s.name }

// GroupName returns the interpreter group name from configuration, e.g. "spark"
func (s *Setting) GroupName() string { return s.groupName }

// Option returns the isolation option
func (s *Setting) Option() models.Option { return s.option }

// Runner returns the launcher reference
func (s *Setting) Runner() models.Runner { return s.runner }

// Capabilities returns the capabilities offered by the setting
func (s *Setting) Capabilities() []models.CapabilityInfo {
	return append([]models.CapabilityInfo(nil), s.capabilities...)
}

// DefaultCapability returns the capability marked default, else the first one
func (s *Setting) DefaultCapability() string {
	for _, c := range s.capabilities {
		if c.Default {
			return c.Name
		}
	}
	return s.capabilities[0].Name
}

// Properties returns a copy of the property map
func (s *Setting) Properties() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.properties))
	for k, v := range s.properties {
		out[k] = v
	}
	return out
}

// SetProperty sets a property. Workers see it from their next start.
func (s *Setting) SetProperty(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.properties[key] = value
}

// Config returns the setting as configuration
func (s *Setting) Config() models.SettingConfig {
	return models.SettingConfig{
		ID:           s.id,
		Name:         s.name,
		Group:        s.groupName,
		Option:       s.option,
		Runner:       s.runner,
		Capabilities: s.Capabilities(),
		Properties:   s.Properties(),
	}
}

// Keys resolves the group and session keys of a tenant
func (s *Setting) Keys(user, notebook string) isolation.Keys {
	return isolation.Resolve(s.option, user, notebook, s.id)
}

// GetOrCreateGroup returns the live group instance for a tenant, creating it if needed
func (s *Setting) GetOrCreateGroup(user, notebook string) (*Group, isolation.Keys) {
	keys := s.Keys(user, notebook)

	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[keys.Group]
	if !ok {
		g = newGroup(s, keys.Group)
		s.groups[keys.Group] = g
		s.logger.Debug("Interpreter group created", map[string]interface{}{"group": keys.Group, "instance": g.ID()})
	}
	return g, keys
}

// Group returns the live group instance under key, or nil
func (s *Setting) Group(key string) *Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groups[key]
}

// Groups returns the live group instances, sorted by key
func (s *Setting) Groups() []*Group {
	s.mu.Lock()
	groups := make([]*Group, 0, len(s.groups))
	for _, g := range s.groups {
		groups = append(groups, g)
	}
	s.mu.Unlock()

	sort.Slice(groups, func(i, j int) bool { return groups[i].Key() < groups[j].Key() })
	return groups
}

// groupStopped forgets a retired group instance so its key starts fresh
func (s *Setting) groupStopped(g *Group) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.groups[g.Key()] == g {
		delete(s.groups, g.Key())
	}
}

// GetInterpreter returns the proxy of capability name for a tenant
func (s *Setting) GetInterpreter(ctx context.Context, user, notebook, name string) (*Proxy, error) {
	// one retry covers a group that stopped between lookup and registration
	for attempt := 0; attempt < 2; attempt++ {
		g, keys := s.GetOrCreateGroup(user, notebook)
		proxies, err := g.Proxies(keys.Session, true)
		if errors.Is(err, ErrClosedResource) {
			s.groupStopped(g)
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, px := range proxies {
			if px.Name() == name {
				return px, nil
			}
		}
		return nil, fmt.Errorf("setting %s: %w: %q", s.id, ErrUnknownCapability, name)
	}
	return nil, closedError("interpreter group for setting "+s.id, "stopped concurrently")
}

// LookupInterpreter returns the proxy of capability name for a tenant that
// already holds a session. It never registers a session or creates a group.
func (s *Setting) LookupInterpreter(user, notebook, name string) (*Proxy, error) {
	if !s.hasCapability(name) {
		return nil, fmt.Errorf("setting %s: %w: %q", s.id, ErrUnknownCapability, name)
	}
	keys := s.Keys(user, notebook)
	g := s.Group(keys.Group)
	if g == nil {
		return nil, fmt.Errorf("setting %s: %w: %q", s.id, ErrSessionNotFound, keys.Session)
	}
	proxies, err := g.Proxies(keys.Session, false)
	if err != nil && !errors.Is(err, ErrClosedResource) {
		return nil, err
	}
	for _, px := range proxies {
		if px.Name() == name {
			return px, nil
		}
	}
	return nil, fmt.Errorf("setting %s: %w: %q", s.id, ErrSessionNotFound, keys.Session)
}

func (s *Setting) hasCapability(name string) bool {
	for _, info := range s.Capabilities() {
		if info.Name == name {
			return true
		}
	}
	return false
}

// GetDefaultInterpreter returns the proxy of the default capability for a tenant
func (s *Setting) GetDefaultInterpreter(ctx context.Context, user, notebook string) (*Proxy, error) {
	return s.GetInterpreter(ctx, user, notebook, s.DefaultCapability())
}

// CloseSession releases a tenant's session. Unknown tenants are a no-op.
func (s *Setting) CloseSession(ctx context.Context, user, notebook string) error {
	keys := s.Keys(user, notebook)
	g := s.Group(keys.Group)
	if g == nil {
		return nil
	}
	return g.Close(ctx, keys.Session)
}

// Close stops every group of the setting
func (s *Setting) Close(ctx context.Context) error {
	var errs []error
	for _, g := range s.Groups() {
		if err := g.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
