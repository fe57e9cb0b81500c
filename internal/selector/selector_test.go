package selector

import (
	"math"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/nidhogg/nuka-conductor/internal/capability"
	"github.com/nidhogg/nuka-conductor/internal/intent"
	"github.com/nidhogg/nuka-conductor/internal/plan"
	"go.uber.org/zap"
)

func newSelector() *Selector {
	return New(capability.DefaultCatalog(), zap.NewNop())
}

func codeTask() *plan.Task {
	return &plan.Task{
		ID:                   "task-1",
		Type:                 capability.ActionCreate,
		Domain:               capability.DomainCode,
		Complexity:           capability.Medium,
		RequiredCapabilities: []string{"code_generation", "file_write"},
	}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestEvaluateFitComponents(t *testing.T) {
	s := newSelector()
	task := &plan.Task{
		ID:                   "task-2",
		Type:                 capability.ActionCreate,
		Domain:               capability.DomainDevOps,
		Complexity:           capability.Expert,
		RequiredCapabilities: []string{"file_write", "container_management"},
	}
	ev := s.EvaluateFit(task, capability.DevOpsEngineer)

	// 30 + 25 + 20 + 10 + 5 + 4.5 + 2.5 + 1.0
	if !approx(ev.Score, 98) {
		t.Errorf("score = %.4f, want 98", ev.Score)
	}
	if len(ev.Reasons) != 8 {
		t.Errorf("reasons = %d, want one per component", len(ev.Reasons))
	}
	if !approx(ev.EstimatedCost, 5.0) {
		t.Errorf("estimated cost = %.2f, want 5.0", ev.EstimatedCost)
	}
	if ev.EstimatedTime != 16*time.Second {
		t.Errorf("estimated time = %s, want 16s", ev.EstimatedTime)
	}
}

func TestComplexityHeadroomPenalty(t *testing.T) {
	s := newSelector()
	task := codeTask()
	task.Complexity = capability.Simple
	task.RequiredCapabilities = nil

	// Expert agent on a simple task: 20 - 3*3 = 11.
	ev := s.EvaluateFit(task, capability.CodeArchitect)
	// 30 + 25 + 11 + 10 + 5 + 4.75 + 2 + 2
	if !approx(ev.Score, 89.75) {
		t.Errorf("score = %.4f, want 89.75", ev.Score)
	}
}

func TestEvaluateFitIsPure(t *testing.T) {
	s := newSelector()
	a := s.EvaluateFit(codeTask(), capability.QAEngineer)
	b := s.EvaluateFit(codeTask(), capability.QAEngineer)
	if !reflect.DeepEqual(a, b) {
		t.Fatal("identical inputs produced different evaluations")
	}
}

func TestSelectRanking(t *testing.T) {
	sel := newSelector().Select(codeTask())

	if sel.Primary != capability.CodeAssistant {
		t.Errorf("primary = %s, want code-assistant", sel.Primary)
	}
	want := []capability.AgentType{capability.Generalist, capability.CodeArchitect, capability.QAEngineer}
	if !reflect.DeepEqual(sel.Fallbacks, want) {
		t.Errorf("fallbacks = %v, want %v", sel.Fallbacks, want)
	}
	if sel.Universal {
		t.Error("selection should not be universal")
	}
	if sel.Evaluations[0].Score > 100 {
		t.Errorf("score %.2f above 100", sel.Evaluations[0].Score)
	}
}

func TestSelectPromotesRequiredAgent(t *testing.T) {
	task := codeTask()
	task.RequiredAgent = capability.CodeArchitect
	sel := newSelector().Select(task)
	if sel.Primary != capability.CodeArchitect {
		t.Fatalf("primary = %s, want code-architect", sel.Primary)
	}
	if sel.Fallbacks[0] != capability.CodeAssistant {
		t.Errorf("first fallback = %s", sel.Fallbacks[0])
	}

	// An incompatible requirement is ignored.
	task.RequiredAgent = capability.Designer
	if got := newSelector().Select(task).Primary; got != capability.CodeAssistant {
		t.Errorf("primary = %s, want code-assistant", got)
	}
}

func TestSelectUniversalFallback(t *testing.T) {
	task := &plan.Task{
		ID:         "task-9",
		Type:       capability.ActionDeploy,
		Domain:     capability.DomainDesign,
		Complexity: capability.Complex,
	}
	sel := newSelector().Select(task)
	if sel.Primary != capability.Generalist || !sel.Universal {
		t.Fatalf("selection = %+v, want universal generalist", sel)
	}
	if !strings.Contains(sel.Reason, ErrNoCompatibleAgent.Error()) {
		t.Errorf("reason = %q", sel.Reason)
	}
}

func TestSelectNeverUnderqualified(t *testing.T) {
	s := newSelector()
	d := plan.NewDecomposer(zap.NewNop())
	cat := capability.DefaultCatalog()
	for _, dom := range capability.Domains() {
		for _, act := range capability.Actions() {
			for c := capability.Simple; c <= capability.Expert; c++ {
				p, err := d.Decompose(intent.Intent{Type: act, Domain: dom, Complexity: c})
				if err != nil {
					t.Fatalf("decompose: %v", err)
				}
				for _, task := range p.Tasks {
					sel := s.Select(task)
					if sel.Universal {
						continue
					}
					prof, _ := cat.Get(sel.Primary)
					if prof.MaxComplexity < task.Complexity {
						t.Errorf("%s/%s/%s %s: %s max %s below task", dom, act, c, task.ID, sel.Primary, prof.MaxComplexity)
					}
				}
			}
		}
	}
}

func TestFallbackExcludesFailed(t *testing.T) {
	s := newSelector()
	next, ev := s.Fallback(codeTask(), capability.CodeAssistant, "timeout")
	if next != capability.Generalist || ev == nil {
		t.Fatalf("fallback = %s, %v", next, ev)
	}

	task := &plan.Task{ID: "t", Type: capability.ActionDeploy, Domain: capability.DomainDevOps, Complexity: capability.Expert}
	next, ev = s.Fallback(task, capability.DevOpsEngineer, "error")
	if next != capability.Generalist || ev != nil {
		t.Errorf("exhausted fallback = %s, %v", next, ev)
	}
}

func TestRecordExecutionFeedsHistory(t *testing.T) {
	s := newSelector()
	before := s.EvaluateFit(codeTask(), capability.CodeArchitect).Score

	s.RecordExecution(capability.CodeArchitect, true, 2*time.Second, 3)
	s.RecordExecution(capability.CodeArchitect, false, 4*time.Second, 3)

	perf, ok := s.Performance(capability.CodeArchitect)
	if !ok {
		t.Fatal("performance missing")
	}
	if perf.Executions != 2 || perf.Successes != 1 || perf.Failures != 1 {
		t.Errorf("perf = %+v", perf)
	}
	if perf.AvgExecutionTime != 3*time.Second {
		t.Errorf("avg = %s, want 3s", perf.AvgExecutionTime)
	}
	if !approx(perf.TotalCost, 6) {
		t.Errorf("cost = %.2f", perf.TotalCost)
	}

	// 50% success keeps the history component at 5, equal to the no-history default.
	after := s.EvaluateFit(codeTask(), capability.CodeArchitect)
	if !approx(after.Score, before) {
		t.Errorf("score = %.2f, want %.2f", after.Score, before)
	}
	if after.EstimatedTime != 3*time.Second {
		t.Errorf("estimated time = %s, want observed 3s", after.EstimatedTime)
	}

	s.RecordExecution(capability.CodeArchitect, false, 3*time.Second, 3)
	if got := s.EvaluateFit(codeTask(), capability.CodeArchitect).Score; got >= before {
		t.Errorf("score %.2f should drop below %.2f after failures", got, before)
	}
	if len(s.AllPerformance()) != 1 {
		t.Error("expected one agent with history")
	}
}
