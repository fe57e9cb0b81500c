package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/nuka-conductor/internal/bus"
	"github.com/nidhogg/nuka-conductor/internal/capability"
	"github.com/nidhogg/nuka-conductor/internal/intent"
	"github.com/nidhogg/nuka-conductor/internal/orchestrator"
	"github.com/nidhogg/nuka-conductor/internal/plan"
	"github.com/nidhogg/nuka-conductor/internal/selector"
	"github.com/nidhogg/nuka-conductor/internal/tool"
	"go.uber.org/zap"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	orch     *orchestrator.Orchestrator
	analyzer *intent.Analyzer
	selector *selector.Selector
	bus      *bus.Bus
	tools    *tool.Registry
	metrics  http.Handler
	// base outlives requests; background executions run under it.
	base   context.Context
	logger *zap.Logger
}

// Deps groups the handler's collaborators. Metrics may be nil.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Analyzer     *intent.Analyzer
	Selector     *selector.Selector
	Bus          *bus.Bus
	Tools        *tool.Registry
	Metrics      http.Handler
}

// NewHandler creates a new API handler. Executions started over HTTP are
// cancelled when ctx ends.
func NewHandler(ctx context.Context, deps Deps, logger *zap.Logger) *Handler {
	return &Handler{
		orch:     deps.Orchestrator,
		analyzer: deps.Analyzer,
		selector: deps.Selector,
		bus:      deps.Bus,
		tools:    deps.Tools,
		metrics:  deps.Metrics,
		base:     ctx,
		logger:   logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/agents", h.listAgents)
		r.Post("/analyze", h.analyze)

		r.Post("/plans", h.createPlan)
		r.Get("/plans", h.listPlans)
		r.Get("/plans/{id}", h.getPlan)
		r.Post("/plans/{id}/execute", h.executePlan)
		r.Get("/plans/{id}/snapshot", h.snapshot)
		r.Put("/plans/{id}/tasks/{taskID}/status", h.updateTaskStatus)

		r.Get("/messages", h.listMessages)
		r.Get("/bus/stats", h.busStats)
		r.Get("/tools", h.listTools)
	})
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	return r
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

type textRequest struct {
	Text string `json:"text"`
}

func decodeText(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req textRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return "", false
	}
	return req.Text, true
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": len(h.orch.Sessions()),
		"queue":    h.bus.QueueLen(),
		"pending":  h.bus.PendingCount(),
	})
}

// AgentView is a catalog profile plus its observed performance.
type AgentView struct {
	*capability.Profile
	Performance selector.Performance `json:"performance"`
	SuccessRate float64              `json:"success_rate"`
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	profiles := h.selector.Catalog().Profiles()
	out := make([]AgentView, 0, len(profiles))
	for _, p := range profiles {
		perf, _ := h.selector.Performance(p.Type)
		out = append(out, AgentView{Profile: p, Performance: perf, SuccessRate: perf.SuccessRate()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) analyze(w http.ResponseWriter, r *http.Request) {
	text, ok := decodeText(w, r)
	if !ok {
		return
	}
	a, err := h.analyzer.Analyze(text)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) createPlan(w http.ResponseWriter, r *http.Request) {
	text, ok := decodeText(w, r)
	if !ok {
		return
	}
	s, err := h.orch.Plan(r.Context(), text)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

// PlanSummary is one row of the plan listing.
type PlanSummary struct {
	ID        string                     `json:"id"`
	Request   string                     `json:"request"`
	Status    orchestrator.SessionStatus `json:"status"`
	Tasks     int                        `json:"tasks"`
	Counts    map[plan.Status]int        `json:"counts"`
	CreatedAt time.Time                  `json:"created_at"`
}

func (h *Handler) listPlans(w http.ResponseWriter, r *http.Request) {
	sessions := h.orch.Sessions()
	out := make([]PlanSummary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, PlanSummary{
			ID:        s.ID,
			Request:   s.Request,
			Status:    s.Status,
			Tasks:     len(s.Plan.Tasks),
			Counts:    s.Plan.Counts(),
			CreatedAt: s.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getPlan(w http.ResponseWriter, r *http.Request) {
	s, ok := h.orch.Session(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) executePlan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, ok := h.orch.Session(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if s.Status == orchestrator.SessionRunning {
		writeError(w, http.StatusConflict, "session already running")
		return
	}
	go func() {
		if err := h.orch.Execute(h.base, id); err != nil {
			h.logger.Warn("execution ended with error", zap.String("session", id), zap.Error(err))
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "accepted"})
}

func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.orch.Snapshot(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) updateTaskStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	status, err := plan.ParseStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, taskID := chi.URLParam(r, "id"), chi.URLParam(r, "taskID")
	if !h.orch.UpdateTaskStatus(id, taskID, status) {
		writeError(w, http.StatusNotFound, "session or task not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"task": taskID, "status": string(status)})
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := bus.HistoryFilter{From: q.Get("from"), To: q.Get("to")}
	if v := q.Get("type"); v != "" {
		t, err := bus.ParseMessageType(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Type = t
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		f.Since = since
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}
	msgs := h.bus.History(f)
	if msgs == nil {
		msgs = []bus.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *Handler) busStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.bus.Stats())
}

// ToolView is a registered tool with its remaining rate budget.
type ToolView struct {
	tool.Tool
	Remaining int   `json:"remaining"`
	ResetInMs int64 `json:"reset_in_ms"`
}

func (h *Handler) listTools(w http.ResponseWriter, r *http.Request) {
	tools := h.tools.List()
	lim := h.tools.Limiter()
	out := make([]ToolView, 0, len(tools))
	for _, t := range tools {
		v := ToolView{Tool: t, Remaining: -1}
		if lim != nil {
			v.Remaining = lim.Remaining(t.ID)
			v.ResetInMs = lim.ResetIn(t.ID).Milliseconds()
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, intent.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, selector.ErrNoCompatibleAgent):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
