// Package store journals interpret calls and worker lifecycle events.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/psantana5/interpreter-runtime/pkg/models"
)

// Store defines the interface for data persistence.
// Memory, SQLite and PostgreSQL implement it.
type Store interface {
	// Execution journal
	RecordExecution(ctx context.Context, rec *models.ExecutionRecord) error
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*models.ExecutionRecord, error)

	// Process lifecycle journal
	RecordProcessEvent(ctx context.Context, ev *models.ProcessEvent) error
	ListProcessEvents(ctx context.Context, filter EventFilter) ([]*models.ProcessEvent, error)

	// Lifecycle
	HealthCheck() error
	Close() error
}

// ExecutionFilter narrows ListExecutions. Zero fields match everything.
type ExecutionFilter struct {
	SettingID  string
	SessionKey string
	Limit      int
}

// EventFilter narrows ListProcessEvents. Zero fields match everything.
type EventFilter struct {
	SettingID string
	GroupKey  string
	ProcessID string
	Limit     int
}

// DefaultLimit caps list queries without an explicit limit
const DefaultLimit = 100

func limitOrDefault(n int) int {
	if n <= 0 {
		return DefaultLimit
	}
	return n
}

// Config holds database configuration
type Config struct {
	Type string `mapstructure:"type" yaml:"type"` // "memory", "sqlite" or "postgres"
	DSN  string `mapstructure:"dsn" yaml:"dsn"`   // PostgreSQL connection string

	// SQLite specific
	Path string `mapstructure:"path" yaml:"path"`

	// PostgreSQL specific
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// ErrUnsupportedDatabase is returned by NewStore for an unknown type
var ErrUnsupportedDatabase = errors.New("unsupported database type")

// NewStore creates a store based on configuration
func NewStore(config Config) (Store, error) {
	switch config.Type {
	case "memory", "":
		return NewMemoryStore(), nil
	case "sqlite", "sqlite3":
		path := config.Path
		if path == "" {
			path = config.DSN
		}
		if path == "" {
			path = "interpreter.db"
		}
		return NewSQLiteStore(path)
	case "postgres", "postgresql":
		return NewPostgreSQLStore(config)
	default:
		return nil, ErrUnsupportedDatabase
	}
}
