package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/psantana5/interpreter-runtime/pkg/logging"
	"github.com/psantana5/interpreter-runtime/pkg/models"
	"github.com/psantana5/interpreter-runtime/pkg/rpc"
)

// Service hosts capability instances keyed by session and name
type Service struct {
	env    Env
	logger *logging.Logger

	mu       sync.Mutex
	sessions map[string]map[string]Capability

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

var _ rpc.Service = (*Service)(nil)

// NewService creates an empty session table
func NewService(env Env, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Service{
		env:        env,
		logger:     logger,
		sessions:   make(map[string]map[string]Capability),
		shutdownCh: make(chan struct{}),
	}
}

// Open instantiates name for session. Opening an existing instance returns it unchanged.
func (s *Service) Open(ctx context.Context, session, name string) (*models.CapabilityDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	instances := s.sessions[session]
	if c, ok := instances[name]; ok {
		return describe(name, c), nil
	}

	c, err := NewCapability(name, s.env)
	if err != nil {
		return nil, err
	}
	if instances == nil {
		instances = make(map[string]Capability)
		s.sessions[session] = instances
	}
	instances[name] = c

	s.logger.Debug("Capability opened", map[string]interface{}{"session": session, "capability": name})
	return describe(name, c), nil
}

func describe(name string, c Capability) *models.CapabilityDescriptor {
	return &models.CapabilityDescriptor{Name: name, FormType: c.FormType(), Parallel: c.Parallel()}
}

func (s *Service) lookup(session, name string) (Capability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.sessions[session][name]
	if !ok {
		return nil, fmt.Errorf("no open %q instance for session %q: %w", name, session, rpc.ErrNotFound)
	}
	return c, nil
}

// Interpret runs code on an opened instance
func (s *Service) Interpret(ctx context.Context, session, name string, req rpc.InterpretRequest) (*models.Result, error) {
	c, err := s.lookup(session, name)
	if err != nil {
		return nil, err
	}
	return c.Interpret(ctx, req.Code, req.Context), nil
}

// Progress reports the progress of a paragraph on an opened instance
func (s *Service) Progress(ctx context.Context, session, name, paragraphID string) (int, error) {
	c, err := s.lookup(session, name)
	if err != nil {
		return 0, err
	}
	return c.Progress(paragraphID), nil
}

// CloseInstance drops one instance. Unknown instances are ignored.
func (s *Service) CloseInstance(ctx context.Context, session, name string) error {
	s.mu.Lock()
	c, ok := s.sessions[session][name]
	if ok {
		delete(s.sessions[session], name)
		if len(s.sessions[session]) == 0 {
			delete(s.sessions, session)
		}
	}
	s.mu.Unlock()

	if !ok {
		return nil
	}
	return c.Close()
}

// CloseSession drops every instance of a session
func (s *Service) CloseSession(ctx context.Context, session string) error {
	s.mu.Lock()
	instances := s.sessions[session]
	delete(s.sessions, session)
	s.mu.Unlock()

	return closeAll(instances)
}

// Sessions returns the number of sessions with open instances
func (s *Service) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Shutdown signals ShutdownRequested
func (s *Service) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.logger.Info("Shutdown requested by runtime")
		close(s.shutdownCh)
	})
}

// ShutdownRequested is closed once the runtime asked the worker to exit
func (s *Service) ShutdownRequested() <-chan struct{} {
	return s.shutdownCh
}

// Close drops every instance of every session
func (s *Service) Close() error {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]map[string]Capability)
	s.mu.Unlock()

	var firstErr error
	for _, instances := range sessions {
		if err := closeAll(instances); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func closeAll(instances map[string]Capability) error {
	var firstErr error
	for name, c := range instances {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close %s: %w", name, err)
		}
	}
	return firstErr
}
