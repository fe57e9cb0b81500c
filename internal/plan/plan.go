package plan

import (
	"fmt"
	"slices"
	"time"
)

// Task returns the task with the given id.
func (p *Plan) Task(id string) (*Task, bool) {
	t, ok := p.Graph.Nodes[id]
	return t, ok
}

// MarkStatus moves a task to status and stamps its timestamps. Marking a task
// failed skips every transitive dependent that has not finished; the skipped
// ids are returned.
func (p *Plan) MarkStatus(id string, status Status) ([]string, error) {
	t, ok := p.Graph.Nodes[id]
	if !ok {
		return nil, fmt.Errorf("mark %s %s: %w", id, status, ErrUnknownTask)
	}
	now := time.Now()
	t.Status = status
	switch {
	case status == StatusInProgress:
		if t.StartedAt == nil {
			t.StartedAt = &now
		}
	case status.IsTerminal():
		t.CompletedAt = &now
	}
	if status != StatusFailed {
		return nil, nil
	}

	var skipped []string
	queue := slices.Clone(t.Dependents)
	seen := map[string]bool{id: true}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true
		dep := p.Graph.Nodes[next]
		if !dep.Status.IsTerminal() {
			dep.Status = StatusSkipped
			dep.Error = fmt.Sprintf("dependency %s failed", id)
			dep.CompletedAt = &now
			skipped = append(skipped, next)
		}
		queue = append(queue, dep.Dependents...)
	}
	return skipped, nil
}

// Ready lists pending tasks whose dependencies have all completed, in
// emission order.
func (p *Plan) Ready() []*Task {
	var out []*Task
	for _, t := range p.Tasks {
		if t.Status != StatusPending {
			continue
		}
		ok := true
		for _, dep := range t.Dependencies {
			if p.Graph.Nodes[dep].Status != StatusCompleted {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, t)
		}
	}
	return out
}

// Done reports whether every task reached a terminal status.
func (p *Plan) Done() bool {
	for _, t := range p.Tasks {
		if !t.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// Counts tallies tasks by status.
func (p *Plan) Counts() map[Status]int {
	out := make(map[Status]int)
	for _, t := range p.Tasks {
		out[t.Status]++
	}
	return out
}

// Clone returns a deep copy that shares nothing with p.
func (p *Plan) Clone() *Plan {
	c := &Plan{
		ID:                 p.ID,
		Intent:             p.Intent,
		TotalEstimatedTime: p.TotalEstimatedTime,
		CriticalPath:       slices.Clone(p.CriticalPath),
		Tasks:              make([]*Task, len(p.Tasks)),
		Graph: &Graph{
			Nodes: make(map[string]*Task, len(p.Tasks)),
			Edges: make(map[string][]string, len(p.Graph.Edges)),
		},
	}
	c.Intent.Requirements = slices.Clone(p.Intent.Requirements)
	c.Intent.CandidateAgents = slices.Clone(p.Intent.CandidateAgents)
	for i, t := range p.Tasks {
		ct := t.clone()
		c.Tasks[i] = ct
		c.Graph.Nodes[ct.ID] = ct
	}
	for k, v := range p.Graph.Edges {
		c.Graph.Edges[k] = slices.Clone(v)
	}
	for _, lvl := range p.Graph.Levels {
		c.Graph.Levels = append(c.Graph.Levels, slices.Clone(lvl))
	}
	for _, lvl := range p.ExecutionOrder {
		c.ExecutionOrder = append(c.ExecutionOrder, slices.Clone(lvl))
	}
	return c
}

func (t *Task) clone() *Task {
	c := *t
	c.Dependencies = slices.Clone(t.Dependencies)
	c.Dependents = slices.Clone(t.Dependents)
	c.RequiredCapabilities = slices.Clone(t.RequiredCapabilities)
	c.Result = slices.Clone(t.Result)
	if t.StartedAt != nil {
		s := *t.StartedAt
		c.StartedAt = &s
	}
	if t.CompletedAt != nil {
		d := *t.CompletedAt
		c.CompletedAt = &d
	}
	return &c
}
