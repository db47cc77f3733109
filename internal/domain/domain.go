package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// UserProfile is the identity service's view of the logged-in user.
// Immutable once fetched; replaced wholesale by a fresh fetch.
type UserProfile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Trigger types recognized by the orchestrator. Unknown types are carried
// through untouched so newer server-side triggers survive a round-trip.
const (
	TriggerSchedule = "schedule"
	TriggerWebhook  = "webhook"
)

// Action types recognized by the orchestrator.
const (
	ActionLogMessage   = "log_message"
	ActionHTTPEndpoint = "http_endpoint"
)

// TriggerDefinition describes what fires a workflow. Config carries the
// type-specific settings, e.g. {"cron": "0 * * * *"} for schedule triggers.
type TriggerDefinition struct {
	Type   string         `json:"type" validate:"required"`
	Config map[string]any `json:"config,omitempty"`
}

// Known reports whether the trigger type is one this client understands.
func (t TriggerDefinition) Known() bool {
	return t.Type == TriggerSchedule || t.Type == TriggerWebhook
}

// Cron returns the schedule expression for schedule triggers.
func (t TriggerDefinition) Cron() (string, bool) {
	if t.Type != TriggerSchedule {
		return "", false
	}
	expr, ok := t.Config["cron"].(string)
	return expr, ok
}

// ActionDefinition describes one step of a workflow.
type ActionDefinition struct {
	Type      string         `json:"type" validate:"required"`
	Name      string         `json:"name" validate:"required"`
	Config    map[string]any `json:"config,omitempty"`
	DependsOn []string       `json:"depends_on,omitempty"`
}

// Known reports whether the action type is one this client understands.
func (a ActionDefinition) Known() bool {
	return a.Type == ActionLogMessage || a.Type == ActionHTTPEndpoint
}

// Message returns the configured message for log_message actions.
func (a ActionDefinition) Message() (string, bool) {
	if a.Type != ActionLogMessage {
		return "", false
	}
	msg, ok := a.Config["message"].(string)
	return msg, ok
}

// URL returns the target for http_endpoint actions.
func (a ActionDefinition) URL() (string, bool) {
	if a.Type != ActionHTTPEndpoint {
		return "", false
	}
	u, ok := a.Config["url"].(string)
	return u, ok
}

// Workflow is the orchestrator's task definition. IDs and timestamps are
// server-assigned; clients never invent them.
type Workflow struct {
	ID          string             `json:"id"`
	UserID      string             `json:"user_id"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Trigger     TriggerDefinition  `json:"trigger"`
	Actions     []ActionDefinition `json:"actions"`
	IsEnabled   bool               `json:"is_enabled"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// WorkflowSpec holds the client-supplied fields of a create or update call.
type WorkflowSpec struct {
	Name        string             `json:"name" validate:"required,min=3,max=100"`
	Description string             `json:"description,omitempty"`
	Trigger     TriggerDefinition  `json:"trigger" validate:"required"`
	Actions     []ActionDefinition `json:"actions" validate:"required,min=1,dive"`
	IsEnabled   bool               `json:"is_enabled"`
}

var validate = validator.New()

// Validate checks the spec before it is sent to the orchestrator, so obvious
// mistakes fail without a network round-trip. Unknown trigger/action types
// pass; the server owns that decision.
func (s WorkflowSpec) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("workflow spec: %w", err)
	}
	return nil
}

// Execution statuses reported by the orchestrator.
const (
	ExecutionRunning   = "running"
	ExecutionCompleted = "completed"
	ExecutionFailed    = "failed"
)

// LogEntry is one line of a recognized execution log payload.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Status    string    `json:"status"`
}

// ExecutionLog is one run of a workflow. Logs is kept raw; Entries decodes it
// when the payload has the shape this client recognizes.
type ExecutionLog struct {
	ID          string          `json:"id"`
	WorkflowID  string          `json:"workflow_id"`
	UserID      string          `json:"user_id"`
	Status      string          `json:"status"`
	TriggeredAt time.Time       `json:"triggered_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Logs        json.RawMessage `json:"logs,omitempty"`
}

// Entries decodes the raw log payload into structured entries. The second
// return is false when the payload is absent or has an unrecognized shape.
func (e ExecutionLog) Entries() ([]LogEntry, bool) {
	if len(e.Logs) == 0 {
		return nil, false
	}
	var entries []LogEntry
	if err := json.Unmarshal(e.Logs, &entries); err != nil {
		return nil, false
	}
	return entries, true
}
