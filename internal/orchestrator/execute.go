package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/nidhogg/nuka-conductor/internal/bus"
	"github.com/nidhogg/nuka-conductor/internal/capability"
	"github.com/nidhogg/nuka-conductor/internal/plan"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var busPriority = map[plan.Priority]bus.Priority{
	plan.PriorityLow:      bus.PriorityLow,
	plan.PriorityMedium:   bus.PriorityNormal,
	plan.PriorityHigh:     bus.PriorityHigh,
	plan.PriorityCritical: bus.PriorityUrgent,
}

// Execute runs the session's plan level by level. Tasks in one level are
// dispatched concurrently and the next level starts once all of them have
// settled. A failed task fails only itself and its dependents; Execute
// returns an error only for unknown or busy sessions and cancellation.
func (o *Orchestrator) Execute(ctx context.Context, sessionID string) error {
	e, ok := o.entry(sessionID)
	if !ok {
		return fmt.Errorf("execute %s: %w", sessionID, ErrSessionNotFound)
	}
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("execute %s: %w", sessionID, ErrAlreadyRunning)
	}
	e.running = true
	e.s.Status = SessionRunning
	e.s.UpdatedAt = time.Now()
	levels := e.s.Plan.ExecutionOrder
	o.saveSessionLocked(ctx, e)
	e.mu.Unlock()

	start := time.Now()
	o.logger.Info("executing session", zap.String("session", sessionID), zap.Int("levels", len(levels)))

	var runErr error
	for i, level := range levels {
		runnable := o.settleBlocked(e, level)
		g, gctx := errgroup.WithContext(ctx)
		for _, t := range runnable {
			g.Go(func() error { return o.runTask(gctx, e, t) })
		}
		if err := g.Wait(); err != nil {
			runErr = err
			break
		}
		o.logger.Debug("level settled", zap.String("session", sessionID), zap.Int("level", i), zap.Int("tasks", len(runnable)))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = false
	e.s.Status = SessionCompleted
	if runErr != nil || !allCompleted(e.s.Plan) {
		e.s.Status = SessionFailed
	}
	e.s.UpdatedAt = time.Now()
	o.saveSessionLocked(context.WithoutCancel(ctx), e)

	counts := e.s.Plan.Counts()
	o.logger.Info("session finished",
		zap.String("session", sessionID),
		zap.String("status", string(e.s.Status)),
		zap.Int("completed", counts[plan.StatusCompleted]),
		zap.Int("failed", counts[plan.StatusFailed]),
		zap.Int("skipped", counts[plan.StatusSkipped]),
		zap.Duration("elapsed", time.Since(start)))
	if runErr != nil {
		return fmt.Errorf("execute %s: %w", sessionID, runErr)
	}
	return nil
}

func allCompleted(p *plan.Plan) bool {
	for _, t := range p.Tasks {
		if t.Status != plan.StatusCompleted {
			return false
		}
	}
	return true
}

func (o *Orchestrator) saveSessionLocked(ctx context.Context, e *entry) {
	if err := o.deps.Persister.SaveSession(ctx, e.s); err != nil {
		o.logger.Warn("persist session failed", zap.String("session", e.s.ID), zap.Error(err))
	}
}

// settleBlocked returns the level's pending tasks whose dependencies all
// completed. Pending tasks with an unfinished dependency are marked blocked.
func (o *Orchestrator) settleBlocked(e *entry, level []string) []*plan.Task {
	e.mu.Lock()
	defer e.mu.Unlock()

	var runnable []*plan.Task
	for _, id := range level {
		t, ok := e.s.Plan.Task(id)
		if !ok || t.Status != plan.StatusPending {
			continue
		}
		ready := true
		for _, dep := range t.Dependencies {
			if d, _ := e.s.Plan.Task(dep); d.Status != plan.StatusCompleted {
				ready = false
				break
			}
		}
		if ready {
			runnable = append(runnable, t)
			continue
		}
		o.markLocked(e, id, plan.StatusBlocked, "dependencies not completed")
	}
	return runnable
}

// runTask sends the task to its assigned agent and retries on fallbacks
// until it succeeds or exhausts MaxRetries. Only cancellation is returned.
func (o *Orchestrator) runTask(ctx context.Context, e *entry, t *plan.Task) error {
	e.mu.Lock()
	sessionID := e.s.ID
	sel := e.s.Selections[t.ID]
	agent := t.AssignedAgent
	if agent == "" {
		agent = sel.Primary
	}
	maxRetries := t.MaxRetries
	e.mu.Unlock()

	tried := map[capability.AgentType]bool{}
	for attempt := 0; ; attempt++ {
		tried[agent] = true
		e.mu.Lock()
		t.AssignedAgent = agent
		t.RetryCount = attempt
		o.markLocked(e, t.ID, plan.StatusInProgress, "")
		assignment := newAssignment(sessionID, t, attempt)
		prio := busPriority[t.Priority]
		e.mu.Unlock()

		started := time.Now()
		call, err := o.deps.Bus.SendRequest(o.cfg.Name, string(agent), assignment, prio, o.cfg.TaskTimeout)
		var reply *bus.Message
		if err == nil {
			e.mu.Lock()
			e.track(call.Request())
			e.mu.Unlock()
			reply, err = call.Wait(ctx)
		}
		elapsed := time.Since(started)

		if err == nil {
			var out Outcome
			if derr := reply.Decode(&out); derr != nil {
				o.logger.Warn("undecodable outcome", zap.String("task", t.ID), zap.Error(derr))
			}
			o.deps.Selector.RecordExecution(agent, true, elapsed, out.Cost)
			o.deps.Metrics.TaskFinished(string(agent), string(plan.StatusCompleted), elapsed)

			e.mu.Lock()
			e.track(reply)
			t.Result = reply.Payload
			t.Error = ""
			o.markLocked(e, t.ID, plan.StatusCompleted, "")
			e.mu.Unlock()
			o.logger.Info("task completed",
				zap.String("task", t.ID),
				zap.String("agent", string(agent)),
				zap.Int("attempt", attempt),
				zap.Duration("elapsed", elapsed))
			return nil
		}

		if ctx.Err() != nil {
			e.mu.Lock()
			o.markLocked(e, t.ID, plan.StatusFailed, ctx.Err().Error())
			e.mu.Unlock()
			return ctx.Err()
		}

		o.deps.Selector.RecordExecution(agent, false, elapsed, 0)
		o.logger.Warn("task attempt failed",
			zap.String("task", t.ID),
			zap.String("agent", string(agent)),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt >= maxRetries {
			o.deps.Metrics.TaskFinished(string(agent), string(plan.StatusFailed), elapsed)
			e.mu.Lock()
			o.markLocked(e, t.ID, plan.StatusFailed, err.Error())
			e.mu.Unlock()
			return nil
		}

		next := o.nextAgent(t, agent, sel.Fallbacks, tried, err.Error())
		o.deps.Metrics.FellBack(string(agent), string(next))
		o.handoff(e, agent, next, assignment, err.Error())
		agent = next
	}
}

// nextAgent asks the selector for a replacement and avoids agents that have
// already failed this task while untried fallbacks remain.
func (o *Orchestrator) nextAgent(t *plan.Task, failed capability.AgentType, fallbacks []capability.AgentType, tried map[capability.AgentType]bool, reason string) capability.AgentType {
	next, _ := o.deps.Selector.Fallback(t, failed, reason)
	if !tried[next] {
		return next
	}
	for _, f := range fallbacks {
		if !tried[f] {
			return f
		}
	}
	if !tried[capability.Generalist] {
		return capability.Generalist
	}
	return next
}

// handoff tells the next agent it is taking over from the failed one.
func (o *Orchestrator) handoff(e *entry, from, to capability.AgentType, a Assignment, reason string) {
	msg, err := o.deps.Bus.Handoff(string(from), string(to), a, reason)
	if err != nil {
		o.logger.Warn("handoff failed", zap.String("task", a.TaskID), zap.Error(err))
		return
	}
	e.mu.Lock()
	e.track(msg)
	e.mu.Unlock()
}
