package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nidhogg/nuka-conductor/internal/capability"
	"github.com/nidhogg/nuka-conductor/internal/intent"
)

var (
	// ErrUnknownTask is returned by lookups and status updates against a missing id.
	ErrUnknownTask = errors.New("unknown task")
	// ErrCycleDetected is returned when leveling cannot place every task.
	ErrCycleDetected = errors.New("cycle detected")
)

// Status tracks a task through execution.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusBlocked    Status = "blocked"
	StatusSkipped    Status = "skipped"
)

// IsTerminal reports whether no further transitions are expected.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// ParseStatus validates a status name.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusBlocked, StatusSkipped:
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Priority orders tasks inside one execution level.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

var priorityNames = [...]string{"low", "medium", "high", "critical"}

func (p Priority) String() string {
	if p < PriorityLow || p > PriorityCritical {
		return fmt.Sprintf("priority(%d)", int(p))
	}
	return priorityNames[p]
}

func (p Priority) MarshalText() ([]byte, error) {
	if p < PriorityLow || p > PriorityCritical {
		return nil, fmt.Errorf("invalid priority %d", int(p))
	}
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(b []byte) error {
	name := strings.ToLower(string(b))
	for i, n := range priorityNames {
		if n == name {
			*p = Priority(i)
			return nil
		}
	}
	return fmt.Errorf("unknown priority %q", b)
}

// Task is one node of an execution plan.
type Task struct {
	ID                   string                `json:"id"`
	Title                string                `json:"title"`
	Description          string                `json:"description"`
	Type                 capability.Action     `json:"type"`
	Domain               capability.Domain     `json:"domain"`
	Status               Status                `json:"status"`
	Dependencies         []string              `json:"dependencies"`
	Dependents           []string              `json:"dependents"`
	EstimatedTime        time.Duration         `json:"estimated_time"`
	RequiredCapabilities []string              `json:"required_capabilities"`
	RequiredAgent        capability.AgentType  `json:"required_agent,omitempty"`
	Priority             Priority              `json:"priority"`
	Complexity           capability.Complexity `json:"complexity"`
	RetryCount           int                   `json:"retry_count"`
	MaxRetries           int                   `json:"max_retries"`
	AssignedAgent        capability.AgentType  `json:"assigned_agent,omitempty"`
	Result               json.RawMessage       `json:"result,omitempty"`
	Error                string                `json:"error,omitempty"`
	StartedAt            *time.Time            `json:"started_at,omitempty"`
	CompletedAt          *time.Time            `json:"completed_at,omitempty"`
	Level                int                   `json:"level"`
}

func (t *Task) dependsOn(id string) bool {
	for _, d := range t.Dependencies {
		if d == id {
			return true
		}
	}
	return false
}

func (t *Task) addDependency(id string) {
	if id == t.ID || t.dependsOn(id) {
		return
	}
	t.Dependencies = append(t.Dependencies, id)
}

// Graph is the leveled dependency structure of a plan. Edges point from a
// task to the tasks that depend on it.
type Graph struct {
	Nodes  map[string]*Task    `json:"-"`
	Edges  map[string][]string `json:"edges"`
	Levels [][]string          `json:"levels"`
}

// Plan is a leveled execution plan. It is not safe for concurrent use; the
// orchestrator serializes access per session.
type Plan struct {
	ID                 string        `json:"id"`
	Intent             intent.Intent `json:"intent"`
	Tasks              []*Task       `json:"tasks"`
	Graph              *Graph        `json:"graph"`
	TotalEstimatedTime time.Duration `json:"total_estimated_time"`
	CriticalPath       []string      `json:"critical_path"`
	ExecutionOrder     [][]string    `json:"execution_order"`
}
