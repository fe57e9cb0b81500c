package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nidhogg/nuka-conductor/internal/bus"
	"github.com/nidhogg/nuka-conductor/internal/capability"
	"github.com/nidhogg/nuka-conductor/internal/intent"
	"github.com/nidhogg/nuka-conductor/internal/metrics"
	"github.com/nidhogg/nuka-conductor/internal/orchestrator"
	"github.com/nidhogg/nuka-conductor/internal/plan"
	"github.com/nidhogg/nuka-conductor/internal/selector"
	"github.com/nidhogg/nuka-conductor/internal/tool"
	"go.uber.org/zap"
)

const simpleRequest = "Create a simple script to parse CSV"

// newTestServer wires the full in-memory pipeline behind an httptest server.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zap.NewNop()
	catalog := capability.DefaultCatalog()
	promReg, m := metrics.NewRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	b := bus.New(bus.Config{TickInterval: 5 * time.Millisecond}, logger)
	b.SetMetrics(m)
	b.Start(ctx)

	reg := tool.NewRegistry(tool.NewRateLimiter(100, time.Minute), logger)
	tool.RegisterBuiltins(reg)

	analyzer := intent.NewAnalyzer(catalog, logger)
	sel := selector.New(catalog, logger)
	orch := orchestrator.New(orchestrator.Deps{
		Analyzer:   analyzer,
		Decomposer: plan.NewDecomposer(logger),
		Selector:   sel,
		Bus:        b,
		Metrics:    m,
	}, orchestrator.Config{TaskTimeout: time.Second}, logger)
	workers := orchestrator.StartWorkers(catalog, b, reg, orch.Name(), logger)

	h := NewHandler(ctx, Deps{
		Orchestrator: orch,
		Analyzer:     analyzer,
		Selector:     sel,
		Bus:          b,
		Tools:        reg,
		Metrics:      metrics.HandlerFor(promReg),
	}, logger)
	ts := httptest.NewServer(h.Router())
	t.Cleanup(func() {
		ts.Close()
		for _, w := range workers {
			w.Stop()
		}
		orch.Close()
		cancel()
		b.Stop()
	})
	return ts
}

func do(t *testing.T, ts *httptest.Server, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, ts.URL+path, r)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d: %s", resp.StatusCode, want, b)
	}
}

func createPlan(t *testing.T, ts *httptest.Server) orchestrator.Session {
	t.Helper()
	resp := do(t, ts, http.MethodPost, "/api/plans", map[string]string{"text": simpleRequest})
	expectStatus(t, resp, http.StatusCreated)
	var s orchestrator.Session
	decodeJSON(t, resp, &s)
	return s
}

// --- Tests ---

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t)
	resp := do(t, ts, http.MethodGet, "/api/health", nil)
	expectStatus(t, resp, http.StatusOK)
	var body map[string]any
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("status = %v", body["status"])
	}
}

func TestListAgents(t *testing.T) {
	ts := newTestServer(t)
	resp := do(t, ts, http.MethodGet, "/api/agents", nil)
	expectStatus(t, resp, http.StatusOK)
	var agents []struct {
		Type        string  `json:"type"`
		SuccessRate float64 `json:"success_rate"`
	}
	decodeJSON(t, resp, &agents)
	if len(agents) != len(capability.DefaultCatalog().Profiles()) {
		t.Fatalf("agents = %d", len(agents))
	}
	found := false
	for _, a := range agents {
		if a.Type == string(capability.Generalist) {
			found = true
		}
	}
	if !found {
		t.Error("generalist missing from listing")
	}
}

func TestAnalyze(t *testing.T) {
	ts := newTestServer(t)

	resp := do(t, ts, http.MethodPost, "/api/analyze", map[string]string{"text": simpleRequest})
	expectStatus(t, resp, http.StatusOK)
	var a intent.Analysis
	decodeJSON(t, resp, &a)
	if a.Intent.Type != capability.ActionCreate {
		t.Errorf("action = %s", a.Intent.Type)
	}

	resp = do(t, ts, http.MethodPost, "/api/analyze", map[string]string{"text": "hi"})
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/analyze", strings.NewReader("{"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestPlanLifecycle(t *testing.T) {
	ts := newTestServer(t)
	s := createPlan(t, ts)
	if s.Status != orchestrator.SessionPlanned || len(s.Plan.Tasks) == 0 {
		t.Fatalf("session = %+v", s)
	}

	resp := do(t, ts, http.MethodGet, "/api/plans", nil)
	expectStatus(t, resp, http.StatusOK)
	var list []PlanSummary
	decodeJSON(t, resp, &list)
	if len(list) != 1 || list[0].ID != s.ID || list[0].Tasks != len(s.Plan.Tasks) {
		t.Fatalf("list = %+v", list)
	}

	resp = do(t, ts, http.MethodGet, "/api/plans/"+s.ID, nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = do(t, ts, http.MethodGet, "/api/plans/missing", nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = do(t, ts, http.MethodPost, "/api/plans/"+s.ID+"/execute", nil)
	expectStatus(t, resp, http.StatusAccepted)
	resp.Body.Close()

	deadline := time.Now().Add(5 * time.Second)
	var snap orchestrator.Snapshot
	for {
		resp = do(t, ts, http.MethodGet, "/api/plans/"+s.ID+"/snapshot", nil)
		expectStatus(t, resp, http.StatusOK)
		decodeJSON(t, resp, &snap)
		if snap.Status == orchestrator.SessionCompleted || snap.Status == orchestrator.SessionFailed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session still %s", snap.Status)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if snap.Status != orchestrator.SessionCompleted {
		t.Fatalf("status = %s, counts = %v", snap.Status, snap.Counts)
	}
	if len(snap.Messages) == 0 {
		t.Error("snapshot has no messages")
	}

	resp = do(t, ts, http.MethodGet, "/api/messages?type=response", nil)
	expectStatus(t, resp, http.StatusOK)
	var msgs []bus.Message
	decodeJSON(t, resp, &msgs)
	if len(msgs) != len(s.Plan.Tasks) {
		t.Errorf("responses = %d, want %d", len(msgs), len(s.Plan.Tasks))
	}

	resp = do(t, ts, http.MethodGet, "/api/bus/stats", nil)
	expectStatus(t, resp, http.StatusOK)
	var stats bus.Stats
	decodeJSON(t, resp, &stats)
	if stats.Responses != len(s.Plan.Tasks) {
		t.Errorf("stats responses = %d", stats.Responses)
	}
}

func TestExecuteUnknownPlan(t *testing.T) {
	ts := newTestServer(t)
	resp := do(t, ts, http.MethodPost, "/api/plans/nope/execute", nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestUpdateTaskStatus(t *testing.T) {
	ts := newTestServer(t)
	s := createPlan(t, ts)
	taskID := s.Plan.Tasks[0].ID

	resp := do(t, ts, http.MethodPut, "/api/plans/"+s.ID+"/tasks/"+taskID+"/status", map[string]string{"status": "failed"})
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = do(t, ts, http.MethodGet, "/api/plans/"+s.ID, nil)
	var got orchestrator.Session
	decodeJSON(t, resp, &got)
	if got.Plan.Tasks[0].Status != plan.StatusFailed {
		t.Errorf("task status = %s", got.Plan.Tasks[0].Status)
	}
	if len(got.Plan.Tasks) > 1 && got.Plan.Tasks[1].Status != plan.StatusSkipped {
		t.Errorf("dependent status = %s", got.Plan.Tasks[1].Status)
	}

	resp = do(t, ts, http.MethodPut, "/api/plans/"+s.ID+"/tasks/"+taskID+"/status", map[string]string{"status": "sideways"})
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = do(t, ts, http.MethodPut, "/api/plans/"+s.ID+"/tasks/ghost/status", map[string]string{"status": "completed"})
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestListMessagesRejectsBadQuery(t *testing.T) {
	ts := newTestServer(t)
	for _, q := range []string{"type=shout", "since=yesterday", "limit=-1"} {
		resp := do(t, ts, http.MethodGet, "/api/messages?"+q, nil)
		expectStatus(t, resp, http.StatusBadRequest)
		resp.Body.Close()
	}
	resp := do(t, ts, http.MethodGet, "/api/messages", nil)
	expectStatus(t, resp, http.StatusOK)
	var msgs []bus.Message
	decodeJSON(t, resp, &msgs)
	if len(msgs) != 0 {
		t.Errorf("fresh bus history = %d", len(msgs))
	}
}

func TestListTools(t *testing.T) {
	ts := newTestServer(t)
	resp := do(t, ts, http.MethodGet, "/api/tools", nil)
	expectStatus(t, resp, http.StatusOK)
	var tools []ToolView
	decodeJSON(t, resp, &tools)
	if len(tools) != len(tool.BuiltinIDs()) {
		t.Fatalf("tools = %d", len(tools))
	}
	for _, v := range tools {
		if v.Remaining != 100 {
			t.Errorf("%s remaining = %d", v.ID, v.Remaining)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	createPlan(t, ts)
	resp := do(t, ts, http.MethodGet, "/metrics", nil)
	expectStatus(t, resp, http.StatusOK)
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(b), "conductor_plans_created_total") {
		t.Error("plans counter missing from scrape")
	}
}
