package plan

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/nidhogg/nuka-conductor/internal/capability"
	"github.com/nidhogg/nuka-conductor/internal/intent"
	"go.uber.org/zap"
)

func decompose(t *testing.T, d capability.Domain, a capability.Action, c capability.Complexity) *Plan {
	t.Helper()
	p, err := NewDecomposer(zap.NewNop()).Decompose(intent.Intent{
		Type: a, Domain: d, Complexity: c, Description: "test request",
	})
	if err != nil {
		t.Fatalf("decompose %s/%s/%s: %v", d, a, c, err)
	}
	return p
}

func diamond() []*Task {
	return []*Task{
		{ID: "a", EstimatedTime: 10 * time.Minute, Priority: PriorityMedium, Status: StatusPending},
		{ID: "b", EstimatedTime: 5 * time.Minute, Priority: PriorityLow, Status: StatusPending, Dependencies: []string{"a"}},
		{ID: "c", EstimatedTime: 20 * time.Minute, Priority: PriorityCritical, Status: StatusPending, Dependencies: []string{"a"}},
		{ID: "d", EstimatedTime: time.Minute, Priority: PriorityHigh, Status: StatusPending, Dependencies: []string{"b", "c"}},
	}
}

func TestSimplePlanHasNoBookends(t *testing.T) {
	p := decompose(t, capability.DomainCode, capability.ActionCreate, capability.Simple)

	if len(p.Tasks) != len(domainTemplates[capability.DomainCode][capability.ActionCreate]) {
		t.Fatalf("got %d tasks, want only the domain chain", len(p.Tasks))
	}
	for _, task := range p.Tasks {
		if task.Type == capability.ActionResearch || strings.Contains(task.Title, "Review") {
			t.Errorf("unexpected bookend task %q", task.Title)
		}
	}
	if p.Tasks[0].ID != "task-1" || p.Tasks[2].ID != "task-3" {
		t.Errorf("ids = %s..%s", p.Tasks[0].ID, p.Tasks[2].ID)
	}
	// 10m, 30m, 15m scaled by 0.5 along a straight chain.
	if want := 27*time.Minute + 30*time.Second; p.TotalEstimatedTime != want {
		t.Errorf("total = %s, want %s", p.TotalEstimatedTime, want)
	}
	if !reflect.DeepEqual(p.CriticalPath, []string{"task-1", "task-2", "task-3"}) {
		t.Errorf("critical path = %v", p.CriticalPath)
	}
}

func TestExpertPlanReviewDependsOnAll(t *testing.T) {
	p := decompose(t, capability.DomainDevOps, capability.ActionCreate, capability.Expert)

	if len(p.Tasks) < 4 {
		t.Fatalf("got %d tasks, want at least 4", len(p.Tasks))
	}
	if p.Tasks[0].Type != capability.ActionResearch {
		t.Errorf("first task = %q, want research", p.Tasks[0].Title)
	}
	var sawValidation bool
	for _, task := range p.Tasks {
		if task.Title == validationTemplate.title {
			sawValidation = true
		}
	}
	if !sawValidation {
		t.Error("validation task missing")
	}

	review := p.Tasks[len(p.Tasks)-1]
	if !strings.Contains(review.Title, "Review") {
		t.Fatalf("last task = %q, want review", review.Title)
	}
	for _, other := range p.Tasks[:len(p.Tasks)-1] {
		if !review.dependsOn(other.ID) {
			t.Errorf("review does not depend on %s", other.ID)
		}
	}
}

func TestTestTasksDependOnCreateAndModify(t *testing.T) {
	p := decompose(t, capability.DomainData, capability.ActionCreate, capability.Complex)
	for _, task := range p.Tasks {
		if task.Type != capability.ActionTest {
			continue
		}
		for _, other := range p.Tasks {
			if other.Type == capability.ActionCreate && !task.dependsOn(other.ID) {
				t.Errorf("%s (test) missing dependency on %s (create)", task.ID, other.ID)
			}
		}
	}
}

func TestEveryTemplateLevelsCleanly(t *testing.T) {
	complexities := []capability.Complexity{capability.Simple, capability.Medium, capability.Complex, capability.Expert}
	for _, d := range capability.Domains() {
		for _, a := range capability.Actions() {
			for _, c := range complexities {
				p := decompose(t, d, a, c)
				for _, task := range p.Tasks {
					for _, dep := range task.Dependencies {
						parent, _ := p.Task(dep)
						if task.Level <= parent.Level {
							t.Errorf("%s/%s/%s: %s level %d not above dependency %s level %d",
								d, a, c, task.ID, task.Level, dep, parent.Level)
						}
					}
				}
			}
		}
	}
}

func TestDiamondGraph(t *testing.T) {
	p, err := NewPlan("p1", intent.Intent{}, diamond())
	if err != nil {
		t.Fatalf("new plan: %v", err)
	}

	wantLevels := [][]string{{"a"}, {"b", "c"}, {"d"}}
	if !reflect.DeepEqual(p.Graph.Levels, wantLevels) {
		t.Errorf("levels = %v, want %v", p.Graph.Levels, wantLevels)
	}
	if got := p.ExecutionOrder[1]; !reflect.DeepEqual(got, []string{"c", "b"}) {
		t.Errorf("level 1 order = %v, want [c b]", got)
	}
	if !reflect.DeepEqual(p.CriticalPath, []string{"a", "c", "d"}) {
		t.Errorf("critical path = %v", p.CriticalPath)
	}
	if p.TotalEstimatedTime != 31*time.Minute {
		t.Errorf("total = %s, want 31m", p.TotalEstimatedTime)
	}
	if !reflect.DeepEqual(p.Graph.Edges["a"], []string{"b", "c"}) {
		t.Errorf("edges[a] = %v", p.Graph.Edges["a"])
	}
	a, _ := p.Task("a")
	if !reflect.DeepEqual(a.Dependents, []string{"b", "c"}) {
		t.Errorf("dependents = %v", a.Dependents)
	}
}

func TestCriticalPathDominatesOtherPaths(t *testing.T) {
	p, _ := NewPlan("p1", intent.Intent{}, diamond())
	sum := func(ids []string) time.Duration {
		var d time.Duration
		for _, id := range ids {
			task, _ := p.Task(id)
			d += task.EstimatedTime
		}
		return d
	}
	critical := sum(p.CriticalPath)
	for _, path := range [][]string{{"a", "b", "d"}, {"a", "c", "d"}} {
		if sum(path) > critical {
			t.Errorf("path %v (%s) longer than critical %s", path, sum(path), critical)
		}
	}
}

func TestCycleFailsFast(t *testing.T) {
	tasks := []*Task{
		{ID: "root"},
		{ID: "x", Dependencies: []string{"root", "y"}},
		{ID: "y", Dependencies: []string{"x"}},
	}
	_, err := BuildGraph(tasks)
	if !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("err = %v, want ErrCycleDetected", err)
	}
	if !strings.Contains(err.Error(), "x, y") {
		t.Errorf("error should name unleveled tasks: %v", err)
	}
}

func TestUnknownDependency(t *testing.T) {
	_, err := BuildGraph([]*Task{{ID: "a", Dependencies: []string{"ghost"}}})
	if !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("err = %v, want ErrUnknownTask", err)
	}
}

func TestMarkStatusPropagatesSkip(t *testing.T) {
	p, _ := NewPlan("p1", intent.Intent{}, diamond())

	if _, err := p.MarkStatus("a", StatusCompleted); err != nil {
		t.Fatalf("mark a: %v", err)
	}
	if _, err := p.MarkStatus("c", StatusCompleted); err != nil {
		t.Fatalf("mark c: %v", err)
	}
	skipped, err := p.MarkStatus("b", StatusFailed)
	if err != nil {
		t.Fatalf("mark b: %v", err)
	}
	if !reflect.DeepEqual(skipped, []string{"d"}) {
		t.Errorf("skipped = %v, want [d]", skipped)
	}
	d, _ := p.Task("d")
	if d.Status != StatusSkipped || d.CompletedAt == nil {
		t.Errorf("d = %s, completed_at %v", d.Status, d.CompletedAt)
	}
	if !p.Done() {
		t.Error("plan should be done")
	}

	if _, err := p.MarkStatus("nope", StatusCompleted); !errors.Is(err, ErrUnknownTask) {
		t.Errorf("err = %v, want ErrUnknownTask", err)
	}
}

func TestReady(t *testing.T) {
	p, _ := NewPlan("p1", intent.Intent{}, diamond())
	if got := p.Ready(); len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("ready = %v", got)
	}
	p.MarkStatus("a", StatusCompleted)
	got := p.Ready()
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "c" {
		t.Fatalf("ready after a = %v", got)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	p, _ := NewPlan("p1", intent.Intent{Requirements: []string{"r"}}, diamond())
	c := p.Clone()

	c.MarkStatus("a", StatusFailed)
	c.Intent.Requirements[0] = "changed"

	if a, _ := p.Task("a"); a.Status != StatusPending {
		t.Errorf("original mutated: %s", a.Status)
	}
	if p.Intent.Requirements[0] != "r" {
		t.Error("original requirements mutated")
	}
	if ca, _ := c.Task("a"); ca != c.Tasks[0] {
		t.Error("clone graph nodes should point at cloned tasks")
	}
}

func TestPriorityText(t *testing.T) {
	var p Priority
	if err := p.UnmarshalText([]byte("critical")); err != nil || p != PriorityCritical {
		t.Fatalf("unmarshal = %v, %v", p, err)
	}
	b, _ := PriorityHigh.MarshalText()
	if string(b) != "high" {
		t.Errorf("marshal = %s", b)
	}
	if _, err := ParseStatus("in_progress"); err != nil {
		t.Error(err)
	}
}
