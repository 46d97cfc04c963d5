package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/psantana5/interpreter-runtime/pkg/models"
)

// sqlStore holds the queries shared by the SQLite and PostgreSQL stores
type sqlStore struct {
	db *sql.DB
	// dollar switches ? placeholders to $n
	dollar bool
}

func (s *sqlStore) bind(query string) string {
	if !s.dollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// RecordExecution inserts an execution record, assigning an id if missing
func (s *sqlStore) RecordExecution(ctx context.Context, rec *models.ExecutionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, s.bind(`
		INSERT INTO executions
		(id, setting_id, group_key, session_key, capability, process_id, note_id,
		 paragraph_id, user_id, code, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), rec.ID, rec.SettingID, rec.GroupKey, rec.SessionKey, rec.Capability, rec.ProcessID,
		rec.NoteID, rec.ParagraphID, rec.User, string(rec.Code), rec.Error,
		rec.StartedAt.UTC(), rec.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}
	return nil
}

// ListExecutions returns matching records, newest first
func (s *sqlStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*models.ExecutionRecord, error) {
	query := `SELECT id, setting_id, group_key, session_key, capability, process_id, note_id,
		paragraph_id, user_id, code, error, started_at, finished_at FROM executions`

	var conds []string
	var args []interface{}
	if filter.SettingID != "" {
		conds = append(conds, "setting_id = ?")
		args = append(args, filter.SettingID)
	}
	if filter.SessionKey != "" {
		conds = append(conds, "session_key = ?")
		args = append(args, filter.SessionKey)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, limitOrDefault(filter.Limit))

	rows, err := s.db.QueryContext(ctx, s.bind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	var out []*models.ExecutionRecord
	for rows.Next() {
		var (
			rec                                  models.ExecutionRecord
			processID, noteID, paraID, user, msg sql.NullString
			code                                 string
		)
		if err := rows.Scan(&rec.ID, &rec.SettingID, &rec.GroupKey, &rec.SessionKey, &rec.Capability,
			&processID, &noteID, &paraID, &user, &code, &msg, &rec.StartedAt, &rec.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		rec.ProcessID = processID.String
		rec.NoteID = noteID.String
		rec.ParagraphID = paraID.String
		rec.User = user.String
		rec.Error = msg.String
		rec.Code = models.Code(code)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// RecordProcessEvent inserts a lifecycle event and sets its id
func (s *sqlStore) RecordProcessEvent(ctx context.Context, ev *models.ProcessEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	query := `
		INSERT INTO process_events
		(process_id, setting_id, group_key, type, pid, exit_reason, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	args := []interface{}{ev.ProcessID, ev.SettingID, ev.GroupKey, string(ev.Type), ev.PID,
		ev.ExitReason, ev.Message, ev.Timestamp.UTC()}

	if s.dollar {
		if err := s.db.QueryRowContext(ctx, s.bind(query+" RETURNING id"), args...).Scan(&ev.ID); err != nil {
			return fmt.Errorf("failed to insert process event: %w", err)
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to insert process event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		ev.ID = id
	}
	return nil
}

// ListProcessEvents returns the most recent matching events in recording order
func (s *sqlStore) ListProcessEvents(ctx context.Context, filter EventFilter) ([]*models.ProcessEvent, error) {
	query := `SELECT id, process_id, setting_id, group_key, type, pid, exit_reason, message, created_at
		FROM process_events`

	var conds []string
	var args []interface{}
	if filter.SettingID != "" {
		conds = append(conds, "setting_id = ?")
		args = append(args, filter.SettingID)
	}
	if filter.GroupKey != "" {
		conds = append(conds, "group_key = ?")
		args = append(args, filter.GroupKey)
	}
	if filter.ProcessID != "" {
		conds = append(conds, "process_id = ?")
		args = append(args, filter.ProcessID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limitOrDefault(filter.Limit))

	rows, err := s.db.QueryContext(ctx, s.bind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query process events: %w", err)
	}
	defer rows.Close()

	var out []*models.ProcessEvent
	for rows.Next() {
		var (
			ev          models.ProcessEvent
			typ         string
			pid         sql.NullInt64
			reason, msg sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.ProcessID, &ev.SettingID, &ev.GroupKey, &typ, &pid,
			&reason, &msg, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan process event: %w", err)
		}
		ev.Type = models.ProcessEventType(typ)
		ev.PID = int(pid.Int64)
		ev.ExitReason = reason.String
		ev.Message = msg.String
		out = append(out, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// reverse into recording order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// HealthCheck pings the database
func (s *sqlStore) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close closes the database
func (s *sqlStore) Close() error {
	return s.db.Close()
}
