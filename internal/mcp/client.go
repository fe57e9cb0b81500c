package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	protocolVersion = "2024-11-05"
	defaultTimeout  = 30 * time.Second
)

// ToolInfo describes a tool exposed by an MCP server.
type ToolInfo struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// Content is one block of a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// CallResult is the decoded result of tools/call.
type CallResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError"`
}

// Text joins the text blocks of the result.
func (r *CallResult) Text() string {
	var parts []string
	for _, c := range r.Content {
		if c.Type == "text" && c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// RPCError is a JSON-RPC error object returned by the server.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

type rpcResponse struct {
	result json.RawMessage
	err    error
}

// Client speaks JSON-RPC to an MCP server, posting requests to the endpoint
// announced on the SSE stream and reading responses back from that stream.
type Client struct {
	name    string
	sseURL  string
	rpcURL  string
	http    *http.Client
	timeout time.Duration

	mu      sync.Mutex
	tools   []ToolInfo
	pending map[int64]chan rpcResponse
	nextID  atomic.Int64
	cancel  context.CancelFunc
	logger  *zap.Logger
}

// NewClient creates a client for the server's SSE endpoint.
func NewClient(name, sseURL string, logger *zap.Logger) *Client {
	return &Client{
		name:    name,
		sseURL:  sseURL,
		http:    http.DefaultClient,
		timeout: defaultTimeout,
		pending: make(map[int64]chan rpcResponse),
		logger:  logger,
	}
}

// SetTimeout bounds how long a single RPC waits for its response.
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// SetHTTPClient replaces the HTTP client used for both SSE and RPC.
func (c *Client) SetHTTPClient(hc *http.Client) { c.http = hc }

// Name returns the server name.
func (c *Client) Name() string { return c.name }

// ListTools returns the tools discovered on Connect.
func (c *Client) ListTools() []ToolInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ToolInfo(nil), c.tools...)
}

// Connect opens the SSE stream, waits for the endpoint event, performs the
// initialize handshake and fetches the tool list.
func (c *Client) Connect(ctx context.Context) error {
	sseCtx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(sseCtx, http.MethodGet, c.sseURL, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("mcp connect: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("mcp sse connect: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("mcp sse status %d", resp.StatusCode)
	}

	reader := bufio.NewReader(resp.Body)
	endpoint, err := readEndpoint(reader)
	if err != nil {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("mcp endpoint event: %w", err)
	}
	c.rpcURL = c.resolveURL(endpoint)
	c.cancel = cancel
	go c.readSSE(sseCtx, reader, resp.Body)
	c.logger.Info("MCP endpoint discovered", zap.String("name", c.name), zap.String("rpc", c.rpcURL))

	if _, err := c.call(ctx, "initialize", map[string]interface{}{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo":      map[string]string{"name": "nuka-conductor", "version": "1.0"},
	}); err != nil {
		c.Close()
		return fmt.Errorf("mcp initialize: %w", err)
	}
	if err := c.notify(ctx, "notifications/initialized"); err != nil {
		c.logger.Debug("mcp initialized notification failed", zap.Error(err))
	}

	if err := c.fetchTools(ctx); err != nil {
		c.Close()
		return fmt.Errorf("mcp list tools: %w", err)
	}
	c.logger.Info("MCP tools discovered", zap.String("name", c.name), zap.Int("count", len(c.ListTools())))
	return nil
}

type sseEvent struct {
	name string
	data string
}

// nextEvent reads one SSE event. Multi-line data is joined with newlines.
func nextEvent(r *bufio.Reader) (sseEvent, error) {
	var ev sseEvent
	var data []string
	for {
		line, err := r.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		switch {
		case strings.HasPrefix(line, "event:"):
			ev.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case line == "" && (ev.name != "" || len(data) > 0):
			ev.data = strings.Join(data, "\n")
			return ev, nil
		}
		if err != nil {
			return ev, err
		}
	}
}

func readEndpoint(r *bufio.Reader) (string, error) {
	for {
		ev, err := nextEvent(r)
		if err != nil {
			return "", fmt.Errorf("SSE stream ended without endpoint event: %w", err)
		}
		if ev.name == "endpoint" {
			return ev.data, nil
		}
	}
}

// resolveURL turns a relative endpoint into an absolute URL based on sseURL.
func (c *Client) resolveURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	scheme := strings.Index(c.sseURL, "://")
	host := c.sseURL
	if scheme >= 0 {
		if slash := strings.Index(c.sseURL[scheme+3:], "/"); slash >= 0 {
			host = c.sseURL[:scheme+3+slash]
		}
	}
	return host + "/" + strings.TrimPrefix(path, "/")
}

// readSSE routes JSON-RPC responses from the stream to waiting callers.
func (c *Client) readSSE(ctx context.Context, r *bufio.Reader, body io.Closer) {
	defer body.Close()
	for {
		ev, err := nextEvent(r)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("MCP stream closed", zap.String("name", c.name), zap.Error(err))
			}
			c.failPending(fmt.Errorf("mcp %s: stream closed", c.name))
			return
		}
		if ev.name == "" || ev.name == "message" {
			c.dispatch([]byte(ev.data))
		}
	}
}

func (c *Client) dispatch(data []byte) {
	var envelope struct {
		ID     *int64          `json:"id"`
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.ID == nil {
		c.logger.Debug("mcp: ignoring non-response SSE data")
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[*envelope.ID]
	delete(c.pending, *envelope.ID)
	c.mu.Unlock()
	if !ok {
		return
	}
	if envelope.Error != nil {
		ch <- rpcResponse{err: envelope.Error}
		return
	}
	ch <- rpcResponse{result: envelope.Result}
}

func (c *Client) failPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		ch <- rpcResponse{err: err}
		delete(c.pending, id)
	}
}

func (c *Client) post(ctx context.Context, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal rpc: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send rpc: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("rpc status %d", resp.StatusCode)
	}
	return nil
}

// call sends a JSON-RPC request and waits for its response on the stream.
func (c *Client) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	ch := make(chan rpcResponse, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	drop := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}

	err := c.post(ctx, struct {
		JSONRPC string      `json:"jsonrpc"`
		ID      int64       `json:"id"`
		Method  string      `json:"method"`
		Params  interface{} `json:"params,omitempty"`
	}{"2.0", id, method, params})
	if err != nil {
		drop()
		return nil, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r.result, r.err
	case <-ctx.Done():
		drop()
		return nil, ctx.Err()
	case <-timer.C:
		drop()
		return nil, fmt.Errorf("mcp rpc timeout for %s after %s", method, c.timeout)
	}
}

func (c *Client) notify(ctx context.Context, method string) error {
	return c.post(ctx, struct {
		JSONRPC string `json:"jsonrpc"`
		Method  string `json:"method"`
	}{"2.0", method})
}

func (c *Client) fetchTools(ctx context.Context) error {
	result, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return err
	}
	var resp struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return fmt.Errorf("parse tools/list: %w", err)
	}
	c.mu.Lock()
	c.tools = resp.Tools
	c.mu.Unlock()
	return nil
}

// CallTool invokes a tool on the server.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (*CallResult, error) {
	result, err := c.call(ctx, "tools/call", map[string]interface{}{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return nil, fmt.Errorf("mcp call %s: %w", name, err)
	}
	var out CallResult
	if err := json.Unmarshal(result, &out); err != nil {
		return &CallResult{Content: []Content{{Type: "text", Text: string(result)}}}, nil
	}
	return &out, nil
}

// Close shuts down the stream and fails outstanding calls.
func (c *Client) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.failPending(fmt.Errorf("mcp %s: client closed", c.name))
	return nil
}
