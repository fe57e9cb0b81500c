package tool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nidhogg/nuka-conductor/internal/metrics"
	"go.uber.org/zap"
)

var (
	ErrRateLimited = errors.New("rate limited")
	ErrUnknownTool = errors.New("unknown tool")
)

// Result is the outcome of one tool invocation.
type Result struct {
	Success       bool          `json:"success"`
	Output        any           `json:"output,omitempty"`
	Error         string        `json:"error,omitempty"`
	ExecutionTime time.Duration `json:"execution_time"`
	Cost          float64       `json:"cost"`
}

// Executor runs tools on behalf of agents.
type Executor interface {
	ExecuteTool(ctx context.Context, toolID string, params map[string]any, agentID string) Result
}

// Handler performs a tool call.
type Handler func(ctx context.Context, params map[string]any) (any, error)

// Tool is a registered capability.
type Tool struct {
	ID          string  `json:"id"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	CostPerCall float64 `json:"cost_per_call"`
	Handler     Handler `json:"-"`
}

// Registry holds tools by id and enforces the rate limiter before each call.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	limiter *RateLimiter
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewRegistry creates an empty registry. A nil limiter disables rate limiting.
func NewRegistry(limiter *RateLimiter, logger *zap.Logger) *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		limiter: limiter,
		logger:  logger,
	}
}

// SetMetrics attaches prometheus collectors.
func (r *Registry) SetMetrics(m *metrics.Metrics) { r.metrics = m }

// Limiter returns the registry's rate limiter, or nil.
func (r *Registry) Limiter() *RateLimiter { return r.limiter }

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[t.ID]; ok {
		r.logger.Debug("replacing tool", zap.String("tool", t.ID))
	}
	r.tools[t.ID] = t
}

// Unregister removes a tool and reports whether it existed.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tools[id]
	delete(r.tools, id)
	return ok
}

// Get looks up a tool by id.
func (r *Registry) Get(id string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[id]
	return t, ok
}

// List returns all tools sorted by id.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ExecuteTool implements Executor. Failures are reported in the Result, never
// as a panic or error return.
func (r *Registry) ExecuteTool(ctx context.Context, toolID string, params map[string]any, agentID string) Result {
	t, ok := r.Get(toolID)
	if !ok {
		r.logger.Warn("tool not found", zap.String("tool", toolID), zap.String("agent", agentID))
		r.metrics.ToolCalled(toolID, "unknown", 0)
		return Result{Error: fmt.Sprintf("%v: %s", ErrUnknownTool, toolID)}
	}

	if r.limiter != nil && !r.limiter.Allow(toolID) {
		r.logger.Warn("tool call rejected",
			zap.String("tool", toolID),
			zap.String("agent", agentID),
			zap.Duration("reset_in", r.limiter.ResetIn(toolID)))
		r.metrics.ToolCalled(toolID, "rate_limited", 0)
		return Result{Error: fmt.Sprintf("%v: %s allows %d calls per %s, retry in %s",
			ErrRateLimited, toolID, r.limiter.Max(), r.limiter.Window(), r.limiter.ResetIn(toolID).Round(time.Millisecond))}
	}

	start := time.Now()
	out, err := t.Handler(ctx, params)
	res := Result{
		ExecutionTime: time.Since(start),
		Cost:          t.CostPerCall,
	}
	if err != nil {
		res.Error = err.Error()
		r.logger.Warn("tool failed", zap.String("tool", toolID), zap.String("agent", agentID), zap.Error(err))
		r.metrics.ToolCalled(toolID, "error", res.Cost)
		return res
	}
	res.Success = true
	res.Output = out
	r.metrics.ToolCalled(toolID, "ok", res.Cost)
	return res
}
