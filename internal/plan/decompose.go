package plan

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/nuka-conductor/internal/capability"
	"github.com/nidhogg/nuka-conductor/internal/intent"
	"go.uber.org/zap"
)

// DefaultMaxRetries is the per-task retry allowance set on decomposed tasks.
const DefaultMaxRetries = 2

// Decomposer expands an intent into a leveled plan.
type Decomposer struct {
	maxRetries int
	logger     *zap.Logger
}

// NewDecomposer creates a decomposer using DefaultMaxRetries.
func NewDecomposer(logger *zap.Logger) *Decomposer {
	return &Decomposer{maxRetries: DefaultMaxRetries, logger: logger}
}

// SetMaxRetries overrides the retry allowance assigned to new tasks.
func (d *Decomposer) SetMaxRetries(n int) {
	if n >= 0 {
		d.maxRetries = n
	}
}

// Decompose builds the execution plan for in.
func (d *Decomposer) Decompose(in intent.Intent) (*Plan, error) {
	var seq []template
	if in.Complexity > capability.Simple {
		seq = append(seq, researchTemplate)
	}
	seq = append(seq, templatesFor(in.Domain, in.Type)...)
	if in.Complexity > capability.Simple {
		seq = append(seq, validationTemplate)
	}
	if in.Complexity >= capability.Complex {
		seq = append(seq, reviewTemplate)
	}

	scale := durationScale[in.Complexity]
	tasks := make([]*Task, len(seq))
	for i, tpl := range seq {
		tasks[i] = &Task{
			ID:                   fmt.Sprintf("task-%d", i+1),
			Title:                tpl.title,
			Description:          fmt.Sprintf("%s: %s", tpl.description, in.Description),
			Type:                 tpl.action,
			Domain:               in.Domain,
			Status:               StatusPending,
			EstimatedTime:        time.Duration(float64(tpl.base) * scale),
			RequiredCapabilities: append([]string(nil), tpl.tools...),
			Priority:             tpl.priority,
			Complexity:           in.Complexity,
			MaxRetries:           d.maxRetries,
		}
	}
	wireDependencies(tasks)

	p, err := NewPlan(uuid.New().String(), in, tasks)
	if err != nil {
		return nil, fmt.Errorf("decompose %s/%s: %w", in.Domain, in.Type, err)
	}

	d.logger.Info("plan decomposed",
		zap.String("plan_id", p.ID),
		zap.Int("tasks", len(p.Tasks)),
		zap.Int("levels", len(p.ExecutionOrder)),
		zap.Duration("total", p.TotalEstimatedTime))
	return p, nil
}

// wireDependencies adds the linear chain and the cross-cutting edges.
func wireDependencies(tasks []*Task) {
	for i := 1; i < len(tasks); i++ {
		tasks[i].addDependency(tasks[i-1].ID)
	}
	for _, t := range tasks {
		if t.Type != capability.ActionTest {
			continue
		}
		for _, other := range tasks {
			if other.Type == capability.ActionCreate || other.Type == capability.ActionModify {
				t.addDependency(other.ID)
			}
		}
	}
	for _, t := range tasks {
		if !strings.Contains(t.Title, "Review") && !strings.Contains(t.Title, "Documentation") {
			continue
		}
		for _, other := range tasks {
			t.addDependency(other.ID)
		}
	}
}

// NewPlan levels tasks whose Dependencies are already set and computes the
// execution order, critical path and total estimate.
func NewPlan(id string, in intent.Intent, tasks []*Task) (*Plan, error) {
	g, err := BuildGraph(tasks)
	if err != nil {
		return nil, err
	}
	path, _ := criticalPath(tasks, g)
	return &Plan{
		ID:                 id,
		Intent:             in,
		Tasks:              tasks,
		Graph:              g,
		TotalEstimatedTime: totalTime(g),
		CriticalPath:       path,
		ExecutionOrder:     executionOrder(g),
	}, nil
}
