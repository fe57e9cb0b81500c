package orchestrator

import (
	"context"
	"errors"
	"maps"
	"time"

	"github.com/nidhogg/nuka-conductor/internal/bus"
	"github.com/nidhogg/nuka-conductor/internal/capability"
	"github.com/nidhogg/nuka-conductor/internal/intent"
	"github.com/nidhogg/nuka-conductor/internal/plan"
	"github.com/nidhogg/nuka-conductor/internal/selector"
	"github.com/nidhogg/nuka-conductor/internal/tool"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrAlreadyRunning  = errors.New("session already running")
)

// SessionStatus tracks a session through execution.
type SessionStatus string

const (
	SessionPlanned   SessionStatus = "planned"
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	// SessionFailed means execution finished with at least one task not completed.
	SessionFailed SessionStatus = "failed"
)

// Session is one request carried from analysis through execution.
type Session struct {
	ID         string                        `json:"id"`
	Request    string                        `json:"request"`
	Analysis   *intent.Analysis              `json:"analysis"`
	Plan       *plan.Plan                    `json:"plan"`
	Selections map[string]selector.Selection `json:"selections"`
	Status     SessionStatus                 `json:"status"`
	CreatedAt  time.Time                     `json:"created_at"`
	UpdatedAt  time.Time                     `json:"updated_at"`
}

// Clone returns a copy whose plan can be read while the original executes.
func (s *Session) Clone() *Session {
	c := *s
	if s.Plan != nil {
		c.Plan = s.Plan.Clone()
	}
	if s.Analysis != nil {
		a := *s.Analysis
		c.Analysis = &a
	}
	c.Selections = maps.Clone(s.Selections)
	return &c
}

// Assignment is the request payload sent to an agent.
type Assignment struct {
	SessionID   string                `json:"session_id"`
	TaskID      string                `json:"task_id"`
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Type        capability.Action     `json:"type"`
	Domain      capability.Domain     `json:"domain"`
	Complexity  capability.Complexity `json:"complexity"`
	Tools       []string              `json:"tools"`
	Attempt     int                   `json:"attempt"`
}

func newAssignment(sessionID string, t *plan.Task, attempt int) Assignment {
	return Assignment{
		SessionID:   sessionID,
		TaskID:      t.ID,
		Title:       t.Title,
		Description: t.Description,
		Type:        t.Type,
		Domain:      t.Domain,
		Complexity:  t.Complexity,
		Tools:       t.RequiredCapabilities,
		Attempt:     attempt,
	}
}

// ToolOutcome records one tool call made while working an assignment.
type ToolOutcome struct {
	Tool   string      `json:"tool"`
	Result tool.Result `json:"result"`
}

// Outcome is the response payload a worker returns.
type Outcome struct {
	TaskID   string               `json:"task_id"`
	Agent    capability.AgentType `json:"agent"`
	Summary  string               `json:"summary"`
	Tools    []ToolOutcome        `json:"tools"`
	Cost     float64              `json:"cost"`
	Duration time.Duration        `json:"duration"`
}

// StatusUpdate is broadcast whenever a task changes status.
type StatusUpdate struct {
	SessionID string               `json:"session_id"`
	TaskID    string               `json:"task_id"`
	Status    plan.Status          `json:"status"`
	Agent     capability.AgentType `json:"agent,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// HandoffAck is the status a worker sends back after accepting a handoff.
type HandoffAck struct {
	TaskID string               `json:"task_id"`
	Agent  capability.AgentType `json:"agent"`
	Reason string               `json:"reason"`
}

// Snapshot is a read-only view of a session for observers.
type Snapshot struct {
	SessionID   string                           `json:"session_id"`
	Status      SessionStatus                    `json:"status"`
	Tasks       []*plan.Task                     `json:"tasks"`
	Counts      map[plan.Status]int              `json:"counts"`
	Evaluations map[string][]selector.Evaluation `json:"evaluations"`
	Messages    []bus.Message                    `json:"messages"`
}

// Persister stores sessions durably. Failures are logged, never fatal.
type Persister interface {
	SaveSession(ctx context.Context, s *Session) error
	SaveTask(ctx context.Context, sessionID string, t *plan.Task) error
	LoadSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context) ([]*Session, error)
}

// GraphExporter mirrors a plan's dependency graph into an external store.
type GraphExporter interface {
	ExportPlan(ctx context.Context, sessionID string, p *plan.Plan) error
}
