// Package mcp implements a Model Context Protocol client that talks JSON-RPC
// over the stdio of a server subprocess. It exists to drive a
// browser-automation server (playwright-mcp by convention) so that
// JavaScript-dependent pages can be rendered before extraction.
package mcp

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Message is one MCP JSON-RPC envelope. Requests carry ID+Method, responses
// carry ID+Result or ID+Error, notifications carry Method without ID.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorResponse  `json:"error,omitempty"`
}

// ErrorResponse is the JSON-RPC error object.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ServerInfo describes the server reached during the initialize handshake.
type ServerInfo struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	ProtocolVer string `json:"protocolVersion"`
}

// ToolDefinition is one entry of the capability catalog discovered at
// session start. The catalog is read-only after discovery.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

type toolsListResult struct {
	Tools []ToolDefinition `json:"tools"`
}

// ToolCallParams are the parameters for tools/call.
type ToolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolCallResult is the result of tools/call.
type ToolCallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// ContentBlock is one piece of tool result content.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Err converts a tool-level failure (isError) into a RemoteError. Tool
// failures arrive inside a successful JSON-RPC response, so the correlator
// never sees them.
func (r *ToolCallResult) Err() error {
	if r == nil || !r.IsError {
		return nil
	}
	return &RemoteError{Message: r.text()}
}

func (r *ToolCallResult) text() string {
	for _, block := range r.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text
		}
	}
	return "tool call failed"
}

// Session lifecycle: Start moves Uninitialized → Initializing → Ready,
// Stop moves any state to Closed.
type sessionState int32

const (
	stateUninitialized sessionState = iota
	stateInitializing
	stateReady
	stateClosed
)

// Conventional playwright-mcp tool names.
const (
	toolNavigate   = "browser_navigate"
	toolSnapshot   = "browser_snapshot"
	toolScreenshot = "browser_take_screenshot"
	toolEvaluate   = "browser_evaluate"
	toolWait       = "browser_wait_for"
)

// Client drives one MCP server subprocess. At most one request is in flight
// on the pipe at a time; concurrent callers queue on the in-flight lock.
// Responses are still matched strictly by id, so the correlation stays
// correct if that constraint is ever relaxed.
type Client struct {
	cfg       Config
	logger    *slog.Logger
	transport *Transport

	startMu sync.Mutex   // serializes Start
	callMu  sync.Mutex   // exclusive in-flight slot on the pipe
	state   atomic.Int32 // sessionState
	msgID   atomic.Int64

	mu           sync.Mutex
	pending      map[int64]chan *Message
	disconnected bool

	toolMu     sync.RWMutex
	serverInfo *ServerInfo
	tools      map[string]ToolDefinition
}

// NewClient creates a client for the given server configuration. The
// subprocess is not spawned until Start.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "mcp"))
	return &Client{
		cfg:       cfg.withDefaults(),
		logger:    logger,
		transport: NewTransport(logger),
		pending:   make(map[int64]chan *Message),
		tools:     make(map[string]ToolDefinition),
	}
}

// Start spawns the server, performs the initialize handshake, and discovers
// the tool catalog. Idempotent: starting a Ready client is a no-op success.
func (c *Client) Start(ctx context.Context) error {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	switch sessionState(c.state.Load()) {
	case stateReady:
		return nil
	case stateClosed:
		return ErrClosed
	}

	if err := c.transport.Start(c.cfg.Command, c.cfg.Args, c.cfg.Env); err != nil {
		return err
	}
	c.state.Store(int32(stateInitializing))

	go c.readLoop()

	if err := c.initialize(ctx); err != nil {
		c.transport.Stop()
		c.state.Store(int32(stateClosed))
		return err
	}

	c.state.Store(int32(stateReady))
	c.logger.Info("mcp session ready", "tools", len(c.Tools()))
	return nil
}

func (c *Client) initialize(ctx context.Context) error {
	params := map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"clientInfo": map[string]any{
			"name":    clientName,
			"version": clientVersion,
		},
	}

	var initResult struct {
		ServerInfo  ServerInfo `json:"serverInfo"`
		ProtocolVer string     `json:"protocolVersion"`
	}
	if err := c.rpc(ctx, "initialize", params, &initResult); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	initResult.ServerInfo.ProtocolVer = initResult.ProtocolVer

	if err := c.notify("notifications/initialized", nil); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}

	var list toolsListResult
	if err := c.rpc(ctx, "tools/list", nil, &list); err != nil {
		return fmt.Errorf("tools/list: %w", err)
	}

	c.toolMu.Lock()
	c.serverInfo = &initResult.ServerInfo
	c.tools = make(map[string]ToolDefinition, len(list.Tools))
	for _, tool := range list.Tools {
		c.tools[tool.Name] = tool
	}
	c.toolMu.Unlock()

	return nil
}

// readLoop dispatches response lines to the pending call awaiting them.
// Notifications, unmatched ids (late responses past their deadline), and
// non-protocol output are discarded; the server may interleave diagnostics
// with protocol messages.
func (c *Client) readLoop() {
	scanner := bufio.NewScanner(c.transport.Reader())
	// Rendered page markup comes back on a single line.
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		if msg.ID == nil {
			continue
		}

		c.mu.Lock()
		if ch, ok := c.pending[*msg.ID]; ok {
			ch <- &msg
			delete(c.pending, *msg.ID)
		} else {
			c.logger.Debug("discarding unmatched response", "id", *msg.ID)
		}
		c.mu.Unlock()
	}

	c.failPending()
}

// failPending wakes every waiting caller with a disconnect. Waiters observe
// the closed channel and return ErrDisconnected.
func (c *Client) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disconnected {
		return
	}
	c.disconnected = true
	for _, ch := range c.pending {
		close(ch)
	}
	c.pending = make(map[int64]chan *Message)
}

func (c *Client) nextID() int64 {
	return c.msgID.Add(1)
}

// call sends one request and waits for the response with a matching id,
// holding the in-flight lock for the whole exchange. The pending entry is
// removed on every exit path, so an abandoned call never wedges the session.
func (c *Client) call(ctx context.Context, method string, params any) (*Message, error) {
	if sessionState(c.state.Load()) == stateClosed {
		return nil, ErrClosed
	}

	c.callMu.Lock()
	defer c.callMu.Unlock()

	id := c.nextID()
	data, err := marshalMessage(method, &id, params)
	if err != nil {
		return nil, err
	}

	respCh := make(chan *Message, 1)
	c.mu.Lock()
	if c.disconnected {
		c.mu.Unlock()
		return nil, ErrDisconnected
	}
	c.pending[id] = respCh
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.transport.WriteLine(data); err != nil {
		return nil, err
	}

	tctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	select {
	case resp, ok := <-respCh:
		if !ok {
			return nil, ErrDisconnected
		}
		return resp, nil
	case <-tctx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, method, c.cfg.Timeout)
	}
}

// notify sends a fire-and-forget notification. No id, no response.
func (c *Client) notify(method string, params any) error {
	data, err := marshalMessage(method, nil, params)
	if err != nil {
		return err
	}
	return c.transport.WriteLine(data)
}

// rpc runs call and decodes the result, converting a server-reported error
// envelope into a RemoteError.
func (c *Client) rpc(ctx context.Context, method string, params any, out any) error {
	resp, err := c.call(ctx, method, params)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return &RemoteError{Code: resp.Error.Code, Message: resp.Error.Message}
	}
	if out != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("mcp: decode %s result: %w", method, err)
		}
	}
	return nil
}

func marshalMessage(method string, id *int64, params any) ([]byte, error) {
	var rawParams json.RawMessage
	if params != nil {
		var err error
		rawParams, err = json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("mcp: marshal params: %w", err)
		}
	}
	data, err := json.Marshal(Message{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  rawParams,
	})
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal message: %w", err)
	}
	return data, nil
}

func (c *Client) requireReady() error {
	switch sessionState(c.state.Load()) {
	case stateReady:
		return nil
	case stateClosed:
		return ErrClosed
	default:
		return ErrNotReady
	}
}

// CallTool invokes a discovered tool. A name absent from the catalog fails
// before any message is written to the wire.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*ToolCallResult, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}

	c.toolMu.RLock()
	_, known := c.tools[name]
	c.toolMu.RUnlock()
	if !known {
		return nil, &UnknownToolError{Name: name}
	}

	var result ToolCallResult
	if err := c.rpc(ctx, "tools/call", ToolCallParams{Name: name, Arguments: args}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Navigate loads a URL and captures a page snapshot. The snapshot step is
// not optional: the server's rendering state is undefined until one is
// taken, so the ordering is enforced here instead of trusted to callers.
func (c *Client) Navigate(ctx context.Context, url string) error {
	result, err := c.CallTool(ctx, toolNavigate, map[string]any{"url": url})
	if err != nil {
		return err
	}
	if err := result.Err(); err != nil {
		return err
	}
	return c.Snapshot(ctx)
}

// Snapshot captures the current page state server-side.
func (c *Client) Snapshot(ctx context.Context) error {
	result, err := c.CallTool(ctx, toolSnapshot, nil)
	if err != nil {
		return err
	}
	return result.Err()
}

// Wait pauses rendering for the given number of seconds, giving client-side
// routing and lazy content time to settle.
func (c *Client) Wait(ctx context.Context, seconds float64) error {
	result, err := c.CallTool(ctx, toolWait, map[string]any{"time": seconds})
	if err != nil {
		return err
	}
	return result.Err()
}

// Screenshot captures the current page as image bytes.
func (c *Client) Screenshot(ctx context.Context) ([]byte, error) {
	result, err := c.CallTool(ctx, toolScreenshot, nil)
	if err != nil {
		return nil, err
	}
	if err := result.Err(); err != nil {
		return nil, err
	}
	for _, block := range result.Content {
		if block.Type != "image" || block.Data == "" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(block.Data)
		if err != nil {
			return nil, fmt.Errorf("mcp: decode screenshot: %w", err)
		}
		return decoded, nil
	}
	return nil, errors.New("mcp: no image content in screenshot result")
}

// Evaluate runs a script in the page and returns its result. Text content
// that parses as JSON is decoded; anything else comes back as a string.
func (c *Client) Evaluate(ctx context.Context, script string) (any, error) {
	result, err := c.CallTool(ctx, toolEvaluate, map[string]any{"function": script})
	if err != nil {
		return nil, err
	}
	if err := result.Err(); err != nil {
		return nil, err
	}
	for _, block := range result.Content {
		if block.Type != "text" {
			continue
		}
		var decoded any
		if err := json.Unmarshal([]byte(block.Text), &decoded); err == nil {
			return decoded, nil
		}
		return block.Text, nil
	}
	return nil, errors.New("mcp: no text content in evaluate result")
}

// PageHTML returns the rendered document markup.
func (c *Client) PageHTML(ctx context.Context) (string, error) {
	return c.evaluateString(ctx, "() => document.documentElement.outerHTML")
}

// PageText returns the rendered visible text.
func (c *Client) PageText(ctx context.Context) (string, error) {
	return c.evaluateString(ctx, "() => document.body.innerText")
}

func (c *Client) evaluateString(ctx context.Context, script string) (string, error) {
	result, err := c.Evaluate(ctx, script)
	if err != nil {
		return "", err
	}
	s, ok := result.(string)
	if !ok {
		return "", fmt.Errorf("mcp: script returned %T, want string", result)
	}
	return s, nil
}

// ServerInfo returns the info reported during initialize, nil before Ready.
func (c *Client) ServerInfo() *ServerInfo {
	c.toolMu.RLock()
	defer c.toolMu.RUnlock()
	return c.serverInfo
}

// Tools returns the discovered capability catalog.
func (c *Client) Tools() []ToolDefinition {
	c.toolMu.RLock()
	defer c.toolMu.RUnlock()
	tools := make([]ToolDefinition, 0, len(c.tools))
	for _, tool := range c.tools {
		tools = append(tools, tool)
	}
	return tools
}

// Tool looks up one catalog entry by name.
func (c *Client) Tool(name string) (ToolDefinition, bool) {
	c.toolMu.RLock()
	defer c.toolMu.RUnlock()
	tool, ok := c.tools[name]
	return tool, ok
}

// Ready reports whether the handshake completed and Stop was not called.
func (c *Client) Ready() bool {
	return sessionState(c.state.Load()) == stateReady
}

// Disconnected reports whether the server closed its side of the pipe.
func (c *Client) Disconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

// Stop terminates the session and the subprocess. Safe to call repeatedly;
// pending calls are failed, later calls return ErrClosed.
func (c *Client) Stop() error {
	c.state.Store(int32(stateClosed))
	c.failPending()
	c.transport.Stop()
	return nil
}
