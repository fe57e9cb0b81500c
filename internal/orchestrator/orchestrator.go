package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/nuka-conductor/internal/bus"
	"github.com/nidhogg/nuka-conductor/internal/intent"
	"github.com/nidhogg/nuka-conductor/internal/metrics"
	"github.com/nidhogg/nuka-conductor/internal/plan"
	"github.com/nidhogg/nuka-conductor/internal/selector"
	"go.uber.org/zap"
)

const (
	DefaultName        = "orchestrator"
	DefaultTaskTimeout = 30 * time.Second
)

// Deps are the collaborators an Orchestrator drives. Persister, Exporter and
// Metrics are optional.
type Deps struct {
	Analyzer   *intent.Analyzer
	Decomposer *plan.Decomposer
	Selector   *selector.Selector
	Bus        *bus.Bus
	Persister  Persister
	Exporter   GraphExporter
	Metrics    *metrics.Metrics
}

type Config struct {
	// Name is the bus address the orchestrator sends from.
	Name        string
	TaskTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = DefaultName
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = DefaultTaskTimeout
	}
	return c
}

// entry guards one session. mu serializes every access to the session's plan.
type entry struct {
	mu       sync.Mutex
	s        *Session
	running  bool
	messages map[string]bool
}

func (e *entry) track(msg *bus.Message) {
	if msg != nil {
		e.messages[msg.ID] = true
	}
}

// Orchestrator turns requests into sessions and executes their plans over the bus.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	mu     sync.RWMutex
	byID   map[string]*entry
	unsub  func()
	logger *zap.Logger
}

// New wires an orchestrator and subscribes it to status and error messages
// addressed to its name.
func New(deps Deps, cfg Config, logger *zap.Logger) *Orchestrator {
	if deps.Persister == nil {
		deps.Persister = NewMemoryPersister()
	}
	o := &Orchestrator{
		deps:   deps,
		cfg:    cfg.withDefaults(),
		byID:   make(map[string]*entry),
		logger: logger,
	}
	o.unsub = deps.Bus.Subscribe(o.cfg.Name, []bus.MessageType{bus.TypeStatus, bus.TypeError}, o.inbox)
	return o
}

// Name is the orchestrator's bus address.
func (o *Orchestrator) Name() string { return o.cfg.Name }

// Close removes the orchestrator's bus subscription.
func (o *Orchestrator) Close() { o.unsub() }

func (o *Orchestrator) inbox(ctx context.Context, msg *bus.Message) error {
	switch msg.Type {
	case bus.TypeStatus:
		var ack HandoffAck
		if msg.Decode(&ack) == nil && ack.TaskID != "" {
			o.logger.Info("handoff acknowledged",
				zap.String("task", ack.TaskID),
				zap.String("agent", string(ack.Agent)))
			return nil
		}
		o.logger.Debug("status received", zap.String("from", msg.From))
	case bus.TypeError:
		var p bus.ErrorPayload
		msg.Decode(&p)
		o.logger.Warn("error received", zap.String("from", msg.From), zap.String("error", p.Error))
	}
	return nil
}

// Restore loads persisted sessions into memory and returns how many were added.
func (o *Orchestrator) Restore(ctx context.Context) (int, error) {
	sessions, err := o.deps.Persister.ListSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore sessions: %w", err)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, s := range sessions {
		if _, ok := o.byID[s.ID]; ok {
			continue
		}
		if s.Status == SessionRunning {
			// interrupted by a restart
			s.Status = SessionFailed
		}
		o.byID[s.ID] = &entry{s: s, messages: make(map[string]bool)}
		n++
	}
	o.logger.Info("sessions restored", zap.Int("count", n))
	return n, nil
}

// Plan analyzes text, builds its plan and selects an agent for every task.
func (o *Orchestrator) Plan(ctx context.Context, text string) (*Session, error) {
	analysis, err := o.deps.Analyzer.Analyze(text)
	if err != nil {
		return nil, err
	}
	p, err := o.deps.Decomposer.Decompose(analysis.Intent)
	if err != nil {
		return nil, fmt.Errorf("decompose: %w", err)
	}

	selections := make(map[string]selector.Selection, len(p.Tasks))
	for _, t := range p.Tasks {
		sel := o.deps.Selector.Select(t)
		t.AssignedAgent = sel.Primary
		selections[t.ID] = sel
	}

	now := time.Now()
	s := &Session{
		ID:         uuid.New().String(),
		Request:    text,
		Analysis:   analysis,
		Plan:       p,
		Selections: selections,
		Status:     SessionPlanned,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	o.mu.Lock()
	o.byID[s.ID] = &entry{s: s, messages: make(map[string]bool)}
	o.mu.Unlock()

	o.deps.Metrics.PlanCreated(string(p.Intent.Domain), p.Intent.Complexity.String(), len(p.Tasks))
	if err := o.deps.Persister.SaveSession(ctx, s); err != nil {
		o.logger.Warn("persist session failed", zap.String("session", s.ID), zap.Error(err))
	}
	if o.deps.Exporter != nil {
		if err := o.deps.Exporter.ExportPlan(ctx, s.ID, p); err != nil {
			o.logger.Warn("export plan failed", zap.String("session", s.ID), zap.Error(err))
		}
	}

	o.logger.Info("session planned",
		zap.String("session", s.ID),
		zap.String("type", string(p.Intent.Type)),
		zap.String("domain", string(p.Intent.Domain)),
		zap.Int("tasks", len(p.Tasks)),
		zap.Duration("estimate", p.TotalEstimatedTime))
	return s.Clone(), nil
}

func (o *Orchestrator) entry(id string) (*entry, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	e, ok := o.byID[id]
	return e, ok
}

// Session returns a copy of the session.
func (o *Orchestrator) Session(id string) (*Session, bool) {
	e, ok := o.entry(id)
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s.Clone(), true
}

// Sessions returns copies of every session, oldest first.
func (o *Orchestrator) Sessions() []*Session {
	o.mu.RLock()
	entries := make([]*entry, 0, len(o.byID))
	for _, e := range o.byID {
		entries = append(entries, e)
	}
	o.mu.RUnlock()

	out := make([]*Session, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.s.Clone())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// UpdateTaskStatus applies an externally reported status. Unknown sessions
// and tasks are logged and ignored.
func (o *Orchestrator) UpdateTaskStatus(sessionID, taskID string, status plan.Status) bool {
	e, ok := o.entry(sessionID)
	if !ok {
		o.logger.Warn("status update for unknown session", zap.String("session", sessionID), zap.String("task", taskID))
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := o.markLocked(e, taskID, status, ""); err != nil {
		o.logger.Warn("status update ignored", zap.String("session", sessionID), zap.Error(err))
		return false
	}
	return true
}

// markLocked moves a task to status, persists it and broadcasts the change
// together with any skipped dependents. e.mu must be held.
func (o *Orchestrator) markLocked(e *entry, taskID string, status plan.Status, errText string) ([]string, error) {
	p := e.s.Plan
	t, ok := p.Task(taskID)
	if !ok {
		return nil, fmt.Errorf("task %s: %w", taskID, plan.ErrUnknownTask)
	}
	if errText != "" {
		t.Error = errText
	}
	skipped, err := p.MarkStatus(taskID, status)
	if err != nil {
		return nil, err
	}
	e.s.UpdatedAt = time.Now()

	ctx := context.Background()
	o.saveTask(ctx, e.s.ID, t)
	o.announce(e, t)
	for _, id := range skipped {
		dep, _ := p.Task(id)
		o.saveTask(ctx, e.s.ID, dep)
		o.announce(e, dep)
		o.deps.Metrics.TaskFinished(string(dep.AssignedAgent), string(plan.StatusSkipped), 0)
	}
	if len(skipped) > 0 {
		o.logger.Info("dependents skipped",
			zap.String("session", e.s.ID),
			zap.String("failed", taskID),
			zap.Strings("skipped", skipped))
	}
	return skipped, nil
}

func (o *Orchestrator) saveTask(ctx context.Context, sessionID string, t *plan.Task) {
	if err := o.deps.Persister.SaveTask(ctx, sessionID, t); err != nil {
		o.logger.Warn("persist task failed", zap.String("task", t.ID), zap.Error(err))
	}
}

func (o *Orchestrator) announce(e *entry, t *plan.Task) {
	msg, err := o.deps.Bus.Broadcast(o.cfg.Name, StatusUpdate{
		SessionID: e.s.ID,
		TaskID:    t.ID,
		Status:    t.Status,
		Agent:     t.AssignedAgent,
		Error:     t.Error,
	}, bus.PriorityNormal)
	if err != nil {
		o.logger.Warn("broadcast status failed", zap.String("task", t.ID), zap.Error(err))
		return
	}
	e.track(msg)
}

// Snapshot returns copies of the session's tasks, its agent evaluations and
// the bus messages exchanged for it.
func (o *Orchestrator) Snapshot(sessionID string) (*Snapshot, error) {
	e, ok := o.entry(sessionID)
	if !ok {
		return nil, fmt.Errorf("snapshot %s: %w", sessionID, ErrSessionNotFound)
	}
	e.mu.Lock()
	s := e.s.Clone()
	ids := make(map[string]bool, len(e.messages))
	for id := range e.messages {
		ids[id] = true
	}
	e.mu.Unlock()

	snap := &Snapshot{
		SessionID:   s.ID,
		Status:      s.Status,
		Tasks:       s.Plan.Tasks,
		Counts:      s.Plan.Counts(),
		Evaluations: make(map[string][]selector.Evaluation, len(s.Selections)),
	}
	for id, sel := range s.Selections {
		snap.Evaluations[id] = sel.Evaluations
	}
	for _, m := range o.deps.Bus.History(bus.HistoryFilter{}) {
		if ids[m.ID] || (m.ReplyTo != "" && ids[m.ReplyTo]) {
			snap.Messages = append(snap.Messages, m)
		}
	}
	return snap, nil
}
