package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nidhogg/nuka-conductor/internal/bus"
	"github.com/nidhogg/nuka-conductor/internal/capability"
	"github.com/nidhogg/nuka-conductor/internal/tool"
	"go.uber.org/zap"
)

// Worker binds one agent type to the bus. It answers assignments by calling
// the tools the task requires and acknowledges handoffs.
type Worker struct {
	profile      *capability.Profile
	bus          *bus.Bus
	tools        tool.Executor
	orchestrator string
	unsub        []func()
	logger       *zap.Logger
}

func NewWorker(p *capability.Profile, b *bus.Bus, tools tool.Executor, orchestrator string, logger *zap.Logger) *Worker {
	return &Worker{
		profile:      p,
		bus:          b,
		tools:        tools,
		orchestrator: orchestrator,
		logger:       logger.With(zap.String("agent", string(p.Type))),
	}
}

// Agent is the bus address the worker listens on.
func (w *Worker) Agent() capability.AgentType { return w.profile.Type }

func (w *Worker) Start() {
	addr := string(w.profile.Type)
	w.unsub = append(w.unsub,
		w.bus.Subscribe(addr, []bus.MessageType{bus.TypeRequest}, w.handleRequest),
		w.bus.Subscribe(addr, []bus.MessageType{bus.TypeHandoff}, w.handleHandoff),
	)
}

func (w *Worker) Stop() {
	for _, u := range w.unsub {
		u()
	}
	w.unsub = nil
}

func (w *Worker) handleRequest(ctx context.Context, msg *bus.Message) error {
	var a Assignment
	if err := msg.Decode(&a); err != nil {
		return fmt.Errorf("decode assignment: %w", err)
	}

	start := time.Now()
	out := Outcome{TaskID: a.TaskID, Agent: w.profile.Type}
	for _, id := range a.Tools {
		res := w.tools.ExecuteTool(ctx, id, map[string]any{
			"task":  a.TaskID,
			"title": a.Title,
		}, string(w.profile.Type))
		out.Tools = append(out.Tools, ToolOutcome{Tool: id, Result: res})
		out.Cost += res.Cost
		if !res.Success {
			return fmt.Errorf("tool %s: %s", id, res.Error)
		}
	}
	out.Cost += w.profile.CostPerOperation
	out.Duration = time.Since(start)
	out.Summary = summarize(a, out.Tools)

	if _, err := w.bus.SendResponse(string(w.profile.Type), msg.ID, out); err != nil {
		return fmt.Errorf("respond: %w", err)
	}
	w.logger.Debug("assignment done", zap.String("task", a.TaskID), zap.Int("tools", len(out.Tools)))
	return nil
}

func summarize(a Assignment, tools []ToolOutcome) string {
	if len(tools) == 0 {
		return fmt.Sprintf("%s: done", a.Title)
	}
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Tool
	}
	return fmt.Sprintf("%s: done with %s", a.Title, strings.Join(names, ", "))
}

func (w *Worker) handleHandoff(ctx context.Context, msg *bus.Message) error {
	var h bus.HandoffPayload
	if err := msg.Decode(&h); err != nil {
		return fmt.Errorf("decode handoff: %w", err)
	}
	var a Assignment
	if err := json.Unmarshal(h.Task, &a); err != nil {
		return fmt.Errorf("decode handed off task: %w", err)
	}
	w.logger.Info("handoff received",
		zap.String("from", msg.From),
		zap.String("task", a.TaskID),
		zap.String("reason", h.Reason))
	_, err := w.bus.SendStatus(string(w.profile.Type), w.orchestrator, HandoffAck{
		TaskID: a.TaskID,
		Agent:  w.profile.Type,
		Reason: h.Reason,
	})
	return err
}

// StartWorkers starts one worker per catalog profile.
func StartWorkers(catalog *capability.Catalog, b *bus.Bus, tools tool.Executor, orchestrator string, logger *zap.Logger) []*Worker {
	var workers []*Worker
	for _, p := range catalog.Profiles() {
		w := NewWorker(p, b, tools, orchestrator, logger)
		w.Start()
		workers = append(workers, w)
	}
	logger.Info("workers started", zap.Int("count", len(workers)))
	return workers
}
