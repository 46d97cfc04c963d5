package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/interpreter-runtime/pkg/models"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()
	stores := map[string]Store{"memory": NewMemoryStore()}

	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	stores["sqlite"] = sqlite

	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		pg, err := NewStore(Config{Type: "postgres", DSN: dsn})
		require.NoError(t, err)
		stores["postgres"] = pg
	}

	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})
	return stores
}

func TestStore_Executions(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.HealthCheck())

			base := time.Now().Add(-time.Minute).Truncate(time.Millisecond)
			settingID := "exec-" + name + "-" + base.Format("150405.000")
			for i := 0; i < 3; i++ {
				rec := &models.ExecutionRecord{
					SettingID:   settingID,
					GroupKey:    settingID,
					SessionKey:  []string{"note1", "note2", "note1"}[i],
					Capability:  "echo",
					ProcessID:   "p1",
					NoteID:      "note1",
					ParagraphID: "para",
					User:        "alice",
					Code:        models.CodeSuccess,
					StartedAt:   base.Add(time.Duration(i) * time.Second),
					FinishedAt:  base.Add(time.Duration(i)*time.Second + 100*time.Millisecond),
				}
				if i == 2 {
					rec.Code = models.CodeError
					rec.Error = "boom"
				}
				require.NoError(t, s.RecordExecution(ctx, rec))
				assert.NotEmpty(t, rec.ID)
			}

			all, err := s.ListExecutions(ctx, ExecutionFilter{SettingID: settingID})
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, models.CodeError, all[0].Code, "newest first")
			assert.Equal(t, "boom", all[0].Error)
			assert.Equal(t, "alice", all[0].User)
			assert.Equal(t, 100*time.Millisecond, all[0].Duration())
			assert.True(t, all[2].StartedAt.Equal(base))

			note1, err := s.ListExecutions(ctx, ExecutionFilter{SettingID: settingID, SessionKey: "note1"})
			require.NoError(t, err)
			assert.Len(t, note1, 2)

			limited, err := s.ListExecutions(ctx, ExecutionFilter{SettingID: settingID, Limit: 1})
			require.NoError(t, err)
			assert.Len(t, limited, 1)

			none, err := s.ListExecutions(ctx, ExecutionFilter{SettingID: "missing"})
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestStore_ProcessEvents(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			group := "group-" + name + "-" + time.Now().Format("150405.000000")

			types := []models.ProcessEventType{models.ProcessStarting, models.ProcessReady, models.ProcessStopped}
			var lastID int64
			for _, typ := range types {
				ev := &models.ProcessEvent{
					ProcessID: "p1",
					SettingID: "s",
					GroupKey:  group,
					Type:      typ,
					PID:       1234,
				}
				if typ == models.ProcessStopped {
					ev.ExitReason = "shutdown"
				}
				require.NoError(t, s.RecordProcessEvent(ctx, ev))
				assert.Greater(t, ev.ID, lastID)
				assert.False(t, ev.Timestamp.IsZero())
				lastID = ev.ID
			}

			events, err := s.ListProcessEvents(ctx, EventFilter{GroupKey: group})
			require.NoError(t, err)
			require.Len(t, events, 3)
			for i, typ := range types {
				assert.Equal(t, typ, events[i].Type)
				assert.Equal(t, 1234, events[i].PID)
			}
			assert.Equal(t, "shutdown", events[2].ExitReason)

			latest, err := s.ListProcessEvents(ctx, EventFilter{GroupKey: group, Limit: 2})
			require.NoError(t, err)
			require.Len(t, latest, 2)
			assert.Equal(t, models.ProcessReady, latest[0].Type)
			assert.Equal(t, models.ProcessStopped, latest[1].Type)

			other, err := s.ListProcessEvents(ctx, EventFilter{GroupKey: group, ProcessID: "p2"})
			require.NoError(t, err)
			assert.Empty(t, other)
		})
	}
}

func TestNewStore(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr error
	}{
		{name: "default memory", config: Config{}},
		{name: "sqlite", config: Config{Type: "sqlite", Path: filepath.Join(t.TempDir(), "x.db")}},
		{name: "unknown", config: Config{Type: "oracle"}, wantErr: ErrUnsupportedDatabase},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewStore(tt.config)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			defer s.Close()
			assert.NoError(t, s.HealthCheck())
		})
	}

	_, err := NewStore(Config{Type: "postgres"})
	assert.Error(t, err, "postgres requires a DSN")
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.RecordProcessEvent(context.Background(), &models.ProcessEvent{ProcessID: "p", SettingID: "s", GroupKey: "g", Type: models.ProcessReady}))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()
	events, err := s.ListProcessEvents(context.Background(), EventFilter{})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestBind(t *testing.T) {
	s := &sqlStore{dollar: true}
	assert.Equal(t, "a = $1 AND b = $2 LIMIT $3", s.bind("a = ? AND b = ? LIMIT ?"))
	s.dollar = false
	assert.Equal(t, "a = ?", s.bind("a = ?"))
}
