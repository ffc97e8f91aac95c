package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/moc/internal/jsonrpc"
	"github.com/haasonsaas/moc/internal/transport"
)

// Client wraps a transport.Transport with the MCP session handshake and
// typed request wrappers. One Client corresponds to one ServerState (spec
// §3).
type Client struct {
	name string
	tr   transport.Transport
	log  *slog.Logger

	mu          sync.RWMutex
	initialized bool
	serverInfo  ServerInfo
	serverCaps  ServerCapabilities

	onLog      func(LogMessage)
	onProgress func(ProgressNotification)
	onListChanged func(method string)

	dispatchOnce sync.Once
}

// New wraps an already-constructed Transport. The Transport must not yet
// be connected; Initialize both connects and performs the MCP handshake.
func New(name string, tr transport.Transport, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{name: name, tr: tr, log: logger.With("server", name)}
}

// OnLog registers a callback invoked for every notifications/message.
func (c *Client) OnLog(fn func(LogMessage)) { c.onLog = fn }

// OnProgress registers a callback invoked for every notifications/progress.
func (c *Client) OnProgress(fn func(ProgressNotification)) { c.onProgress = fn }

// OnListChanged registers a callback invoked for every
// notifications/{tools,resources,prompts}/list_changed, passed the full
// method name.
func (c *Client) OnListChanged(fn func(method string)) { c.onListChanged = fn }

// Initialize connects the transport, performs the initialize/initialized
// handshake, and starts the background notification dispatcher.
func (c *Client) Initialize(ctx context.Context, clientName, clientVersion string) error {
	if err := c.tr.Connect(ctx); err != nil {
		return fmt.Errorf("mcp client %s: %w", c.name, err)
	}

	params := InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    Capabilities{Roots: &RootsCapability{ListChanged: true}},
		ClientInfo:      ClientInfo{Name: clientName, Version: clientVersion},
	}

	resp, err := c.tr.Request(ctx, "initialize", params, transport.DefaultHandshakeTimeout)
	if err != nil {
		return fmt.Errorf("mcp client %s: initialize: %w", c.name, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("mcp client %s: initialize: %s", c.name, resp.Error.Message)
	}

	var result InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return fmt.Errorf("mcp client %s: decode initialize result: %w", c.name, err)
	}

	c.mu.Lock()
	c.serverInfo = result.ServerInfo
	c.serverCaps = result.Capabilities
	c.initialized = true
	c.mu.Unlock()

	if err := c.tr.Notify(ctx, "notifications/initialized", nil); err != nil {
		return fmt.Errorf("mcp client %s: notifications/initialized: %w", c.name, err)
	}

	c.dispatchOnce.Do(func() { go c.dispatchLoop() })
	return nil
}

func (c *Client) dispatchLoop() {
	notifs := c.tr.Notifications()
	reqs := c.tr.Requests()
	for {
		select {
		case n, ok := <-notifs:
			if !ok {
				return
			}
			c.handleNotification(n)
		case req, ok := <-reqs:
			if !ok {
				return
			}
			// MOC does not implement MCP sampling; decline cleanly rather
			// than leave the server's request hanging.
			_ = c.tr.Respond(context.Background(), req.ID, nil, &jsonrpc.Error{
				Code:    jsonrpc.CodeMethodNotFound,
				Message: "host does not support server-initiated requests",
			})
		}
	}
}

func (c *Client) handleNotification(n jsonrpc.Notification) {
	switch n.Method {
	case "notifications/message":
		if c.onLog == nil {
			return
		}
		var msg LogMessage
		if err := json.Unmarshal(n.Params, &msg); err != nil {
			c.log.Warn("malformed log notification", "error", err)
			return
		}
		c.onLog(msg)
	case "notifications/progress":
		if c.onProgress == nil {
			return
		}
		var p ProgressNotification
		if err := json.Unmarshal(n.Params, &p); err != nil {
			c.log.Warn("malformed progress notification", "error", err)
			return
		}
		c.onProgress(p)
	case "notifications/tools/list_changed",
		"notifications/resources/list_changed",
		"notifications/prompts/list_changed":
		if c.onListChanged != nil {
			c.onListChanged(n.Method)
		}
	default:
		c.log.Debug("unhandled notification", "method", n.Method)
	}
}

func (c *Client) ServerInfo() ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

func (c *Client) Capabilities() ServerCapabilities {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverCaps
}

func (c *Client) call(ctx context.Context, method string, params, out any, timeout time.Duration) error {
	c.mu.RLock()
	ready := c.initialized
	c.mu.RUnlock()
	if !ready {
		return fmt.Errorf("mcp client %s: %s: %w", c.name, method, errNotInitialized)
	}

	resp, err := c.tr.Request(ctx, method, params, timeout)
	if err != nil {
		return fmt.Errorf("mcp client %s: %s: %w", c.name, method, err)
	}
	if resp.Error != nil {
		return &RPCError{Server: c.name, Method: method, Code: resp.Error.Code, Message: resp.Error.Message}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("mcp client %s: %s: decode result: %w", c.name, method, err)
	}
	return nil
}

// ListTools fetches every page of tools/list, following nextCursor.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	var all []Tool
	cursor := ""
	for {
		params := map[string]any{}
		if cursor != "" {
			params["cursor"] = cursor
		}
		var page listToolsResult
		if err := c.call(ctx, "tools/list", params, &page, transport.DefaultRequestTimeout); err != nil {
			return nil, err
		}
		all = append(all, page.Tools...)
		if page.NextCursor == "" {
			return all, nil
		}
		cursor = page.NextCursor
	}
}

// CallTool invokes tools/call and returns the raw result, including
// isError results (the caller, not this layer, decides how to surface a
// tool-level error).
func (c *Client) CallTool(ctx context.Context, name string, arguments json.RawMessage, timeout time.Duration) (CallToolResult, error) {
	params := struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments,omitempty"`
	}{Name: name, Arguments: arguments}

	var result CallToolResult
	if err := c.call(ctx, "tools/call", params, &result, timeout); err != nil {
		return CallToolResult{}, err
	}
	return result, nil
}

func (c *Client) ListResources(ctx context.Context) ([]Resource, error) {
	var all []Resource
	cursor := ""
	for {
		params := map[string]any{}
		if cursor != "" {
			params["cursor"] = cursor
		}
		var page listResourcesResult
		if err := c.call(ctx, "resources/list", params, &page, transport.DefaultRequestTimeout); err != nil {
			return nil, err
		}
		all = append(all, page.Resources...)
		if page.NextCursor == "" {
			return all, nil
		}
		cursor = page.NextCursor
	}
}

func (c *Client) ReadResource(ctx context.Context, uri string) ([]ResourceContent, error) {
	params := struct {
		URI string `json:"uri"`
	}{URI: uri}
	var result readResourceResult
	if err := c.call(ctx, "resources/read", params, &result, transport.DefaultRequestTimeout); err != nil {
		return nil, err
	}
	return result.Contents, nil
}

func (c *Client) ListPrompts(ctx context.Context) ([]Prompt, error) {
	var all []Prompt
	cursor := ""
	for {
		params := map[string]any{}
		if cursor != "" {
			params["cursor"] = cursor
		}
		var page listPromptsResult
		if err := c.call(ctx, "prompts/list", params, &page, transport.DefaultRequestTimeout); err != nil {
			return nil, err
		}
		all = append(all, page.Prompts...)
		if page.NextCursor == "" {
			return all, nil
		}
		cursor = page.NextCursor
	}
}

func (c *Client) GetPrompt(ctx context.Context, name string, arguments map[string]string) (GetPromptResult, error) {
	params := struct {
		Name      string            `json:"name"`
		Arguments map[string]string `json:"arguments,omitempty"`
	}{Name: name, Arguments: arguments}

	var result GetPromptResult
	if err := c.call(ctx, "prompts/get", params, &result, transport.DefaultRequestTimeout); err != nil {
		return GetPromptResult{}, err
	}
	return result, nil
}

// SetLogLevel issues logging/setLevel; servers that never declared the
// logging capability are expected to ignore it harmlessly.
func (c *Client) SetLogLevel(ctx context.Context, level string) error {
	params := struct {
		Level string `json:"level"`
	}{Level: level}
	return c.call(ctx, "logging/setLevel", params, nil, transport.DefaultRequestTimeout)
}

// Ping issues a liveness ping.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, "ping", struct{}{}, nil, 5*time.Second)
}

// Close tears down the underlying transport.
func (c *Client) Close() error { return c.tr.Close() }
