package models

import "time"

// ProcessEventType is a worker process lifecycle event
type ProcessEventType string

const (
	ProcessStarting      ProcessEventType = "starting"
	ProcessReady         ProcessEventType = "ready"
	ProcessStartupFailed ProcessEventType = "startup_failed"
	ProcessStopped       ProcessEventType = "stopped"
	ProcessExited        ProcessEventType = "exited" // exited without being asked to
)

// ProcessEvent is a journal entry for a worker process
type ProcessEvent struct {
	ID         int64            `json:"id,omitempty"`
	ProcessID  string           `json:"process_id"`
	SettingID  string           `json:"setting_id"`
	GroupKey   string           `json:"group_key"`
	Type       ProcessEventType `json:"type"`
	PID        int              `json:"pid,omitempty"`
	ExitReason string           `json:"exit_reason,omitempty"`
	Message    string           `json:"message,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}

// ExecutionRecord is a journal entry for one interpret call
type ExecutionRecord struct {
	ID          string    `json:"id"`
	SettingID   string    `json:"setting_id"`
	GroupKey    string    `json:"group_key"`
	SessionKey  string    `json:"session_key"`
	Capability  string    `json:"capability"`
	ProcessID   string    `json:"process_id,omitempty"`
	NoteID      string    `json:"note_id,omitempty"`
	ParagraphID string    `json:"paragraph_id,omitempty"`
	User        string    `json:"user,omitempty"`
	Code        Code      `json:"code"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Duration returns how long the call took
func (r *ExecutionRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
