package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeServer is a minimal MCP server: GET /sse opens the event stream,
// POST /rpc accepts requests and answers them on the stream. When silent is
// set, tools/call requests are accepted but never answered.
type fakeServer struct {
	events  chan string
	silent  atomic.Bool
	methods chan string
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		events:  make(chan string, 16),
		methods: make(chan string, 16),
	}
}

func (s *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/sse":
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, ": hello\n\nevent: endpoint\ndata: /rpc?session=1\n\n")
		flusher.Flush()
		for {
			select {
			case ev := <-s.events:
				fmt.Fprintf(w, "event: message\ndata: %s\n\n", ev)
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	case r.Method == http.MethodPost && r.URL.Path == "/rpc":
		var req struct {
			ID     *int64          `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		s.methods <- req.Method
		if req.ID == nil || (s.silent.Load() && req.Method == "tools/call") {
			return
		}
		s.events <- s.reply(*req.ID, req.Method, req.Params)
	default:
		http.NotFound(w, r)
	}
}

func (s *fakeServer) reply(id int64, method string, params json.RawMessage) string {
	switch method {
	case "initialize":
		return fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{"protocolVersion":"2024-11-05"}}`, id)
	case "tools/list":
		return fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{"tools":[{"name":"read_file","description":"Read a file"},{"name":"list_dir"}]}}`, id)
	case "tools/call":
		var p struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		json.Unmarshal(params, &p)
		if p.Name == "boom" {
			return fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"error":{"code":-32601,"message":"no such tool"}}`, id)
		}
		return fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{"content":[{"type":"text","text":"read %v"}]}}`, id, p.Arguments["path"])
	}
	return fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{}}`, id)
}

func connect(t *testing.T, s *fakeServer) *Client {
	t.Helper()
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)

	c := NewClient("files", srv.URL+"/sse", zap.NewNop())
	c.SetTimeout(2 * time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestConnectHandshakeAndTools(t *testing.T) {
	s := newFakeServer()
	c := connect(t, s)

	var seen []string
	for i := 0; i < 3; i++ {
		seen = append(seen, <-s.methods)
	}
	if strings.Join(seen, ",") != "initialize,notifications/initialized,tools/list" {
		t.Errorf("methods = %v", seen)
	}

	tools := c.ListTools()
	if len(tools) != 2 || tools[0].Name != "read_file" || tools[0].Description != "Read a file" {
		t.Fatalf("tools = %+v", tools)
	}
	if !strings.HasSuffix(c.rpcURL, "/rpc?session=1") {
		t.Errorf("rpc url = %s", c.rpcURL)
	}
}

func TestCallTool(t *testing.T) {
	c := connect(t, newFakeServer())

	res, err := c.CallTool(context.Background(), "read_file", map[string]interface{}{"path": "main.go"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if res.IsError || res.Text() != "read main.go" {
		t.Errorf("result = %+v", res)
	}

	_, err = c.CallTool(context.Background(), "boom", nil)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != -32601 {
		t.Errorf("err = %v, want rpc error -32601", err)
	}
}

func TestCallTimeout(t *testing.T) {
	s := newFakeServer()
	c := connect(t, s)
	s.silent.Store(true)
	c.SetTimeout(100 * time.Millisecond)

	start := time.Now()
	_, err := c.CallTool(context.Background(), "read_file", nil)
	if err == nil || !strings.Contains(err.Error(), "timeout") {
		t.Fatalf("err = %v, want timeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took %s", elapsed)
	}
	c.mu.Lock()
	left := len(c.pending)
	c.mu.Unlock()
	if left != 0 {
		t.Errorf("%d pending calls left after timeout", left)
	}
}

func TestResolveURL(t *testing.T) {
	c := NewClient("x", "http://localhost:9000/mcp/sse", zap.NewNop())
	cases := map[string]string{
		"/messages?id=1":        "http://localhost:9000/messages?id=1",
		"messages":              "http://localhost:9000/messages",
		"https://other/rpc":     "https://other/rpc",
		"http://localhost:1/rp": "http://localhost:1/rp",
	}
	for in, want := range cases {
		if got := c.resolveURL(in); got != want {
			t.Errorf("resolveURL(%q) = %q, want %q", in, got, want)
		}
	}
}
