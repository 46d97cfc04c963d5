package api

import (
	"time"

	"github.com/psantana5/interpreter-runtime/pkg/models"
	"github.com/psantana5/interpreter-runtime/pkg/process"
)

// InterpretRequest runs code through a tenant's proxy
type InterpretRequest struct {
	User        string                   `json:"user,omitempty"`
	Notebook    string                   `json:"notebook"`
	Capability  string                   `json:"capability,omitempty"`
	Code        string                   `json:"code"`
	ParagraphID string                   `json:"paragraph_id,omitempty"`
	Context     *models.ExecutionContext `json:"context,omitempty"`
}

// PropertyRequest sets a setting property
type PropertyRequest struct {
	Value string `json:"value"`
}

// SettingResponse describes a setting and its live groups
type SettingResponse struct {
	ID           string                  `json:"id"`
	Name         string                  `json:"name"`
	Group        string                  `json:"group,omitempty"`
	Option       models.Option           `json:"option"`
	Runner       models.Runner           `json:"runner"`
	Capabilities []models.CapabilityInfo `json:"capabilities"`
	Properties   map[string]string       `json:"properties,omitempty"`
	Groups       []GroupResponse         `json:"groups,omitempty"`
}

// GroupResponse describes one live interpreter group
type GroupResponse struct {
	ID        string            `json:"id"`
	Key       string            `json:"key"`
	State     models.GroupState `json:"state"`
	Sessions  []string          `json:"sessions"`
	CreatedAt time.Time         `json:"created_at"`
	Process   *ProcessResponse  `json:"process,omitempty"`
}

// ProcessResponse describes a group's worker
type ProcessResponse struct {
	ID        string         `json:"id"`
	PID       int            `json:"pid"`
	Port      int            `json:"port"`
	Running   bool           `json:"running"`
	StartedAt time.Time      `json:"started_at"`
	Stats     *process.Stats `json:"stats,omitempty"`
}

// ProgressResponse carries a progress percentage
type ProgressResponse struct {
	Progress int `json:"progress"`
}

// FormTypeResponse carries a capability's form type
type FormTypeResponse struct {
	FormType models.FormType `json:"form_type"`
}

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error string `json:"error"`
}
