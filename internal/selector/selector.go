package selector

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nidhogg/nuka-conductor/internal/capability"
	"github.com/nidhogg/nuka-conductor/internal/plan"
	"go.uber.org/zap"
)

// ErrNoCompatibleAgent marks a selection that had to use the universal fallback.
var ErrNoCompatibleAgent = errors.New("no compatible agent")

const (
	maxFallbacks = 3
	costCeiling  = 5.0
	speedCeiling = 10 * time.Second
	maxScore     = 100.0
)

// Evaluation is the fit of one agent for one task.
type Evaluation struct {
	Agent         capability.AgentType `json:"agent"`
	Score         float64              `json:"score"`
	Reasons       []string             `json:"reasons"`
	EstimatedCost float64              `json:"estimated_cost"`
	EstimatedTime time.Duration        `json:"estimated_time"`
	Confidence    float64              `json:"confidence"`
}

// Selection is the chosen primary agent plus ordered fallbacks.
type Selection struct {
	TaskID      string                 `json:"task_id"`
	Primary     capability.AgentType   `json:"primary"`
	Fallbacks   []capability.AgentType `json:"fallbacks"`
	Evaluations []Evaluation           `json:"evaluations"`
	Reason      string                 `json:"reason"`
	Universal   bool                   `json:"universal"`
}

// Performance aggregates observed executions of one agent type.
type Performance struct {
	Executions       int           `json:"executions"`
	Successes        int           `json:"successes"`
	Failures         int           `json:"failures"`
	AvgExecutionTime time.Duration `json:"avg_execution_time"`
	TotalCost        float64       `json:"total_cost"`
}

// SuccessRate is Successes/Executions, or 0 before any execution.
func (p Performance) SuccessRate() float64 {
	if p.Executions == 0 {
		return 0
	}
	return float64(p.Successes) / float64(p.Executions)
}

// Selector scores compatible agents and tracks their track record.
type Selector struct {
	catalog *capability.Catalog
	mu      sync.RWMutex
	perf    map[capability.AgentType]*Performance
	logger  *zap.Logger
}

// New creates a selector over catalog.
func New(catalog *capability.Catalog, logger *zap.Logger) *Selector {
	return &Selector{
		catalog: catalog,
		perf:    make(map[capability.AgentType]*Performance),
		logger:  logger,
	}
}

// Catalog returns the profiles the selector ranks.
func (s *Selector) Catalog() *capability.Catalog { return s.catalog }

// EvaluateFit scores agent against task. The result depends only on the task,
// the agent profile and the agent's recorded performance.
func (s *Selector) EvaluateFit(task *plan.Task, agent capability.AgentType) Evaluation {
	ev := Evaluation{Agent: agent}
	p, ok := s.catalog.Get(agent)
	if !ok {
		ev.Reasons = append(ev.Reasons, "unknown agent type")
		return ev
	}

	var score float64
	add := func(points float64, format string, args ...any) {
		score += points
		ev.Reasons = append(ev.Reasons, fmt.Sprintf("%+.1f ", points)+fmt.Sprintf(format, args...))
	}

	if p.SupportsDomain(task.Domain) {
		add(30, "domain %s supported", task.Domain)
	} else {
		add(0, "domain %s unsupported", task.Domain)
	}
	if p.SupportsAction(task.Type) {
		add(25, "intent %s supported", task.Type)
	} else {
		add(0, "intent %s unsupported", task.Type)
	}

	if p.MaxComplexity >= task.Complexity {
		over := int(p.MaxComplexity - task.Complexity)
		add(math.Max(0, 20-3*float64(over)), "complexity headroom %d tier(s) above %s", over, task.Complexity)
	} else {
		add(0, "max complexity %s below %s", p.MaxComplexity, task.Complexity)
	}

	covered := coverage(p.Tools, task.RequiredCapabilities)
	add(10*covered, "tool coverage %.0f%%", covered*100)

	perf := s.performance(agent)
	if perf.Executions == 0 {
		add(5, "no execution history")
	} else {
		add(10*perf.SuccessRate(), "success rate %.0f%% over %d runs", perf.SuccessRate()*100, perf.Executions)
	}

	add(5*p.Reliability, "reliability %.2f", p.Reliability)
	add(math.Max(0, 5*(1-p.CostPerOperation/costCeiling)), "cost %.2f per op", p.CostPerOperation)
	add(math.Max(0, 5*(1-float64(p.AvgResponseTime)/float64(speedCeiling))), "avg response %s", p.AvgResponseTime)

	ev.Score = math.Min(maxScore, score)
	ev.Confidence = ev.Score / maxScore

	ops := max(1, len(task.RequiredCapabilities))
	ev.EstimatedCost = p.CostPerOperation * float64(ops)
	if perf.Executions > 0 {
		ev.EstimatedTime = perf.AvgExecutionTime
	} else {
		ev.EstimatedTime = p.AvgResponseTime * time.Duration(ops)
	}
	return ev
}

// coverage is the fraction of required tools matched by a substring of one of
// the agent's tools.
func coverage(tools, required []string) float64 {
	if len(required) == 0 {
		return 1
	}
	hit := 0
	for _, r := range required {
		r = strings.ToLower(r)
		for _, t := range tools {
			if strings.Contains(strings.ToLower(t), r) {
				hit++
				break
			}
		}
	}
	return float64(hit) / float64(len(required))
}

// rank evaluates agents and orders them by score, then cost, then name.
func (s *Selector) rank(task *plan.Task, agents []capability.AgentType) []Evaluation {
	evals := make([]Evaluation, 0, len(agents))
	for _, a := range agents {
		evals = append(evals, s.EvaluateFit(task, a))
	}
	slices.SortStableFunc(evals, func(x, y Evaluation) int {
		if x.Score != y.Score {
			if x.Score > y.Score {
				return -1
			}
			return 1
		}
		if cx, cy := s.cost(x.Agent), s.cost(y.Agent); cx != cy {
			if cx < cy {
				return -1
			}
			return 1
		}
		return strings.Compare(string(x.Agent), string(y.Agent))
	})
	return evals
}

func (s *Selector) cost(a capability.AgentType) float64 {
	if p, ok := s.catalog.Get(a); ok {
		return p.CostPerOperation
	}
	return math.Inf(1)
}

// Select picks the primary agent and up to three fallbacks for task. It never
// fails: with no compatible agent the universal fallback is returned.
func (s *Selector) Select(task *plan.Task) Selection {
	sel := Selection{TaskID: task.ID}
	compatible := s.catalog.Compatible(task.Domain, task.Type, task.Complexity)

	if len(compatible) == 0 {
		sel.Primary = capability.Generalist
		sel.Universal = true
		sel.Evaluations = []Evaluation{s.EvaluateFit(task, capability.Generalist)}
		sel.Reason = fmt.Sprintf("%v for %s/%s/%s, using %s",
			ErrNoCompatibleAgent, task.Domain, task.Type, task.Complexity, capability.Generalist)
		s.logger.Warn("no compatible agent",
			zap.String("task", task.ID),
			zap.String("domain", string(task.Domain)),
			zap.String("type", string(task.Type)),
			zap.String("complexity", task.Complexity.String()))
		return sel
	}

	evals := s.rank(task, compatible)
	if task.RequiredAgent != "" {
		for i, ev := range evals {
			if ev.Agent == task.RequiredAgent && i > 0 {
				evals = append([]Evaluation{ev}, append(evals[:i:i], evals[i+1:]...)...)
				break
			}
		}
	}

	sel.Evaluations = evals
	sel.Primary = evals[0].Agent
	for _, ev := range evals[1:] {
		if len(sel.Fallbacks) == maxFallbacks {
			break
		}
		sel.Fallbacks = append(sel.Fallbacks, ev.Agent)
	}
	if task.RequiredAgent != "" && sel.Primary == task.RequiredAgent {
		sel.Reason = fmt.Sprintf("required agent %s (score %.1f)", sel.Primary, evals[0].Score)
	} else {
		sel.Reason = fmt.Sprintf("highest score %.1f of %d compatible", evals[0].Score, len(evals))
	}

	s.logger.Debug("agent selected",
		zap.String("task", task.ID),
		zap.String("primary", string(sel.Primary)),
		zap.Float64("score", evals[0].Score),
		zap.Int("candidates", len(evals)))
	return sel
}

// Fallback returns the best compatible agent other than failed, or the
// universal fallback when none remains. The evaluation is nil in that case.
func (s *Selector) Fallback(task *plan.Task, failed capability.AgentType, reason string) (capability.AgentType, *Evaluation) {
	var remaining []capability.AgentType
	for _, a := range s.catalog.Compatible(task.Domain, task.Type, task.Complexity) {
		if a != failed {
			remaining = append(remaining, a)
		}
	}
	if len(remaining) == 0 {
		s.logger.Warn("fallback exhausted, using universal agent",
			zap.String("task", task.ID),
			zap.String("failed", string(failed)),
			zap.String("reason", reason))
		return capability.Generalist, nil
	}
	best := s.rank(task, remaining)[0]
	s.logger.Info("falling back",
		zap.String("task", task.ID),
		zap.String("failed", string(failed)),
		zap.String("next", string(best.Agent)),
		zap.String("reason", reason))
	return best.Agent, &best
}

// RecordExecution folds one real execution into the agent's performance.
func (s *Selector) RecordExecution(agent capability.AgentType, success bool, d time.Duration, cost float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.perf[agent]
	if !ok {
		p = &Performance{}
		s.perf[agent] = p
	}
	p.Executions++
	if success {
		p.Successes++
	} else {
		p.Failures++
	}
	p.AvgExecutionTime += (d - p.AvgExecutionTime) / time.Duration(p.Executions)
	p.TotalCost += cost
}

func (s *Selector) performance(agent capability.AgentType) Performance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.perf[agent]; ok {
		return *p
	}
	return Performance{}
}

// Performance returns a snapshot of agent's stats.
func (s *Selector) Performance(agent capability.AgentType) (Performance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.perf[agent]
	if !ok {
		return Performance{}, false
	}
	return *p, true
}

// AllPerformance returns a snapshot of every agent with history.
func (s *Selector) AllPerformance() map[capability.AgentType]Performance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[capability.AgentType]Performance, len(s.perf))
	for k, v := range s.perf {
		out[k] = *v
	}
	return out
}
