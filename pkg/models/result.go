package models

// Code is the status of an interpret call
type Code string

const (
	CodeSuccess    Code = "SUCCESS"
	CodeError      Code = "ERROR"
	CodeIncomplete Code = "INCOMPLETE"
)

// MessageType describes how a result message should be rendered
type MessageType string

const (
	MessageText  MessageType = "TEXT"
	MessageHTML  MessageType = "HTML"
	MessageTable MessageType = "TABLE"
)

// NullValue is returned by workers for keys that are not set
const NullValue = "null"

// Message is a single output item of a result
type Message struct {
	Type MessageType `json:"type"`
	Data string      `json:"data"`
}

// Result is the response of an interpret call
type Result struct {
	Code     Code      `json:"code"`
	Messages []Message `json:"messages"`
	Progress *int      `json:"progress,omitempty"`
}

// NewResult builds a result with text messages
func NewResult(code Code, texts ...string) *Result {
	r := &Result{Code: code, Messages: make([]Message, 0, len(texts))}
	for _, t := range texts {
		r.Messages = append(r.Messages, Message{Type: MessageText, Data: t})
	}
	return r
}

// ErrorResult builds an ERROR result carrying a diagnostic message
func ErrorResult(diagnostic string) *Result {
	return NewResult(CodeError, diagnostic)
}

// Text returns the data of the first message, or "" if none
func (r *Result) Text() string {
	if r == nil || len(r.Messages) == 0 {
		return ""
	}
	return r.Messages[0].Data
}

// FormType tells whether a capability takes free-form input or a structured form
type FormType string

const (
	FormNative FormType = "NATIVE"
	FormSimple FormType = "SIMPLE"
	FormNone   FormType = "NONE"
)

// CapabilityDescriptor is what a worker reports when a capability is opened
type CapabilityDescriptor struct {
	Name     string   `json:"name"`
	FormType FormType `json:"form_type"`
	Parallel bool     `json:"parallel"`
}

// ExecutionContext is forwarded to the worker untouched
type ExecutionContext struct {
	NoteID          string                 `json:"note_id"`
	ParagraphID     string                 `json:"paragraph_id"`
	ReplName        string                 `json:"repl_name,omitempty"`
	Title           string                 `json:"title,omitempty"`
	Text            string                 `json:"text,omitempty"`
	User            string                 `json:"user,omitempty"`
	Config          map[string]interface{} `json:"config,omitempty"`
	GUI             map[string]interface{} `json:"gui,omitempty"`
	StateRegistry   string                 `json:"state_registry,omitempty"`
	ResourcePool    string                 `json:"resource_pool,omitempty"`
	ConfigOverrides map[string]string      `json:"config_overrides,omitempty"`
}
