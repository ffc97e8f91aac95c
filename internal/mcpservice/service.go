// Package mcpservice implements C3: the host-wide registry of MCP server
// connections, presenting a single qualified-tool namespace and a
// never-fails-with-a-Go-error CallTool to the Tool Invocation Loop.
package mcpservice

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/moc/internal/mcpclient"
	"github.com/haasonsaas/moc/internal/transport"
	"github.com/haasonsaas/moc/pkg/models"
)

// QualifiedTool is one tool in the host-wide namespace: a server's
// advertised tool plus the qualified name the LLM actually sees.
type QualifiedTool struct {
	QualifiedName string
	ServerName    string
	OriginalName  string
	Description   string
	Schema        *CompiledSchema
}

type server struct {
	descriptor models.ServerDescriptor
	client     *mcpclient.Client
	running    bool
	lastErr    error

	mu        sync.RWMutex
	tools     []QualifiedTool
	resources []mcpclient.Resource
	prompts   []mcpclient.Prompt
}

// Service owns every configured MCP server connection for the process
// lifetime of the host.
type Service struct {
	log     *slog.Logger
	sinks   *logSinkStack
	dialer  Dialer

	mu      sync.RWMutex
	servers map[string]*server
	byName  map[string]*server // qualified tool name -> owning server
}

// Dialer constructs a transport.Transport for a descriptor. Production
// code uses NewDefaultDialer; tests substitute a fake.
type Dialer func(models.ServerDescriptor) (transport.Transport, error)

// NewDefaultDialer builds stdio or websocket transports per descriptor.
func NewDefaultDialer(logger *slog.Logger) Dialer {
	return func(d models.ServerDescriptor) (transport.Transport, error) {
		switch d.Transport {
		case models.TransportWebSocket:
			return transport.NewWebsocketTransport(transport.WebsocketConfig{URL: d.URL}, logger), nil
		case models.TransportStdio, "":
			return transport.NewStdioTransport(transport.StdioConfig{Command: d.Command, Args: d.Args, Env: d.Env}, logger), nil
		default:
			return nil, fmt.Errorf("unknown transport kind %q", d.Transport)
		}
	}
}

func New(dialer Dialer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		log:     logger,
		sinks:   newLogSinkStack(),
		dialer:  dialer,
		servers: make(map[string]*server),
		byName:  make(map[string]*server),
	}
}

// Start connects every non-disabled descriptor. A descriptor that fails
// to connect is recorded as not-running rather than aborting startup for
// the rest (spec §4.3: one bad server must not block the others).
func (s *Service) Start(ctx context.Context, descriptors []models.ServerDescriptor) {
	var wg sync.WaitGroup
	for _, d := range descriptors {
		if d.Disabled {
			s.mu.Lock()
			s.servers[d.Name] = &server{descriptor: d}
			s.mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(d models.ServerDescriptor) {
			defer wg.Done()
			s.startOne(ctx, d)
		}(d)
	}
	wg.Wait()
	s.rebuildToolIndex()
}

func (s *Service) startOne(ctx context.Context, d models.ServerDescriptor) {
	srv := &server{descriptor: d}

	tr, err := s.dialer(d)
	if err != nil {
		srv.lastErr = err
		s.log.Error("mcp server dial failed", "server", d.Name, "error", err)
		s.storeServer(d.Name, srv)
		return
	}

	client := mcpclient.New(d.Name, tr, s.log)
	client.OnLog(func(msg mcpclient.LogMessage) { s.sinks.current().HandleLog(d.Name, msg) })
	client.OnProgress(func(p mcpclient.ProgressNotification) { s.sinks.current().HandleProgress(d.Name, p) })
	client.OnListChanged(func(method string) { s.refreshCatalog(context.Background(), d.Name, method) })

	if err := client.Initialize(ctx, "moc", "0.1.0"); err != nil {
		srv.lastErr = err
		s.log.Error("mcp server initialize failed", "server", d.Name, "error", err)
		s.storeServer(d.Name, srv)
		return
	}

	// A default log level is a reasonable baseline for a freshly connected
	// server; a server that never declared the logging capability is
	// expected to ignore this harmlessly, so a failure here is not fatal.
	if err := client.SetLogLevel(ctx, "info"); err != nil {
		s.log.Debug("mcp server logging/setLevel failed", "server", d.Name, "error", err)
	}

	tools, err := client.ListTools(ctx)
	if err != nil {
		srv.lastErr = err
		s.log.Error("mcp server tools/list failed", "server", d.Name, "error", err)
	}

	// Resources and prompts are discovered alongside tools at startup
	// (spec §4.3): a server that doesn't implement one of these catalogs
	// simply returns an error here, which is logged and otherwise ignored.
	resources, err := client.ListResources(ctx)
	if err != nil {
		s.log.Debug("mcp server resources/list failed", "server", d.Name, "error", err)
	}
	prompts, err := client.ListPrompts(ctx)
	if err != nil {
		s.log.Debug("mcp server prompts/list failed", "server", d.Name, "error", err)
	}

	srv.client = client
	srv.running = true
	srv.tools = buildQualifiedTools(d.Name, tools, map[string]int{})
	srv.resources = resources
	srv.prompts = prompts
	s.storeServer(d.Name, srv)
}

func buildQualifiedTools(serverName string, tools []mcpclient.Tool, seen map[string]int) []QualifiedTool {
	out := make([]QualifiedTool, 0, len(tools))
	for _, t := range tools {
		schema, err := CompileToolSchema(t.InputSchema)
		if err != nil {
			schema = nil // an uncompilable schema doesn't disqualify the tool; validation is simply skipped
		}
		out = append(out, QualifiedTool{
			QualifiedName: qualifyToolName(serverName, t.Name, seen),
			ServerName:    serverName,
			OriginalName:  t.Name,
			Description:   t.Description,
			Schema:        schema,
		})
	}
	return out
}

func (s *Service) storeServer(name string, srv *server) {
	s.mu.Lock()
	s.servers[name] = srv
	s.mu.Unlock()
}

// refreshCatalog re-discovers only the catalog named by a
// notifications/{tools,resources,prompts}/list_changed notification,
// per spec §7 ("On list_changed it re-discovers the affected catalog").
func (s *Service) refreshCatalog(ctx context.Context, name, method string) {
	s.mu.RLock()
	srv, ok := s.servers[name]
	s.mu.RUnlock()
	if !ok || srv.client == nil {
		return
	}

	switch method {
	case "notifications/resources/list_changed":
		resources, err := srv.client.ListResources(ctx)
		if err != nil {
			s.log.Warn("resources/list refresh failed", "server", name, "error", err)
			return
		}
		srv.mu.Lock()
		srv.resources = resources
		srv.mu.Unlock()
	case "notifications/prompts/list_changed":
		prompts, err := srv.client.ListPrompts(ctx)
		if err != nil {
			s.log.Warn("prompts/list refresh failed", "server", name, "error", err)
			return
		}
		srv.mu.Lock()
		srv.prompts = prompts
		srv.mu.Unlock()
	default: // "notifications/tools/list_changed" and anything unrecognized
		tools, err := srv.client.ListTools(ctx)
		if err != nil {
			s.log.Warn("tools/list refresh failed", "server", name, "error", err)
			return
		}
		srv.mu.Lock()
		srv.tools = buildQualifiedTools(name, tools, map[string]int{})
		srv.mu.Unlock()
		s.rebuildToolIndex()
	}
}

// rebuildToolIndex recomputes the global qualified-name index across all
// servers, re-deduping names that collide across server boundaries (the
// per-server dedupe in buildQualifiedTools only catches within-server
// collisions).
func (s *Service) rebuildToolIndex() {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := map[string]int{}
	index := make(map[string]*server)
	for _, srv := range s.servers {
		if !srv.running {
			continue
		}
		srv.mu.Lock()
		for i := range srv.tools {
			qt := &srv.tools[i]
			if seen[qt.QualifiedName] > 0 {
				qt.QualifiedName = dedupeWithHash(qt.QualifiedName, seen)
			} else {
				seen[qt.QualifiedName] = 1
			}
			index[qt.QualifiedName] = srv
		}
		srv.mu.Unlock()
	}
	s.byName = index
}

// Tools returns every tool across every running server, in the qualified
// namespace the Tool Invocation Loop and LLM see.
func (s *Service) Tools() []QualifiedTool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []QualifiedTool
	for _, srv := range s.servers {
		if !srv.running {
			continue
		}
		srv.mu.RLock()
		all = append(all, srv.tools...)
		srv.mu.RUnlock()
	}
	return all
}

// ToolErrorKind is how a CallTool failure should be classified upstream
// (spec §7) without ever handing back a raw Go error across this
// boundary.
type ToolErrorKind int

const (
	ToolErrorNone ToolErrorKind = iota
	ToolErrorUnknownTool
	ToolErrorServerDown
	ToolErrorArgumentValidation
	ToolErrorTimeout
	ToolErrorServer
	ToolErrorToolFailed
)

// ToolCallOutcome is CallTool's result: always populated, never requiring
// the caller to unwrap a Go error to learn what happened.
type ToolCallOutcome struct {
	Kind      ToolErrorKind
	Message   string
	Content   []mcpclient.ContentBlock
	ServerName string
}

// CallTool invokes a qualified tool by name. It never returns a Go error:
// an unknown tool, a down server, bad arguments, a timeout, or a
// server-side tool error are all reported as outcomes, per spec §4.3
// (this is the one point where this module's CallTool deliberately
// diverges from a more conventional (result, error) signature).
func (s *Service) CallTool(ctx context.Context, qualifiedName string, arguments json.RawMessage, timeout time.Duration) ToolCallOutcome {
	s.mu.RLock()
	srv, ok := s.byName[qualifiedName]
	s.mu.RUnlock()
	if !ok {
		return ToolCallOutcome{Kind: ToolErrorUnknownTool, Message: fmt.Sprintf("unknown tool %q", qualifiedName)}
	}
	if !srv.running || srv.client == nil {
		return ToolCallOutcome{Kind: ToolErrorServerDown, Message: fmt.Sprintf("server %q is not running", srv.descriptor.Name), ServerName: srv.descriptor.Name}
	}

	srv.mu.RLock()
	var tool *QualifiedTool
	for i := range srv.tools {
		if srv.tools[i].QualifiedName == qualifiedName {
			tool = &srv.tools[i]
			break
		}
	}
	srv.mu.RUnlock()
	if tool == nil {
		return ToolCallOutcome{Kind: ToolErrorUnknownTool, Message: fmt.Sprintf("unknown tool %q", qualifiedName)}
	}

	if tool.Schema != nil {
		if err := tool.Schema.Validate(arguments); err != nil {
			return ToolCallOutcome{Kind: ToolErrorArgumentValidation, Message: err.Error(), ServerName: srv.descriptor.Name}
		}
	}

	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	result, err := srv.client.CallTool(ctx, tool.OriginalName, arguments, timeout)
	if err != nil {
		if ctx.Err() != nil {
			return ToolCallOutcome{Kind: ToolErrorTimeout, Message: err.Error(), ServerName: srv.descriptor.Name}
		}
		return ToolCallOutcome{Kind: ToolErrorServer, Message: err.Error(), ServerName: srv.descriptor.Name}
	}
	if result.IsError {
		// The server itself reported a tool-level failure, not a
		// transport failure: this does not degrade the server (spec
		// §4.4 only degrades on "transport failures for a given server
		// during a call").
		return ToolCallOutcome{Kind: ToolErrorToolFailed, Message: firstText(result.Content), Content: result.Content, ServerName: srv.descriptor.Name}
	}
	return ToolCallOutcome{Kind: ToolErrorNone, Content: result.Content, ServerName: srv.descriptor.Name}
}

// ServerNameForTool resolves the server owning a qualified tool name, so
// a per-request caller (the Tool Invocation Loop's ToolExecutor) can
// check server-degradation state before issuing the call.
func (s *Service) ServerNameForTool(qualifiedName string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	srv, ok := s.byName[qualifiedName]
	if !ok {
		return "", false
	}
	return srv.descriptor.Name, true
}

// Resources returns the cached resource catalog for a server, as
// discovered at startup or last refreshed by a list_changed notification.
func (s *Service) Resources(serverName string) ([]mcpclient.Resource, error) {
	srv, err := s.lookupServer(serverName)
	if err != nil {
		return nil, err
	}
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	out := make([]mcpclient.Resource, len(srv.resources))
	copy(out, srv.resources)
	return out, nil
}

// Prompts returns the cached prompt catalog for a server, as discovered
// at startup or last refreshed by a list_changed notification.
func (s *Service) Prompts(serverName string) ([]mcpclient.Prompt, error) {
	srv, err := s.lookupServer(serverName)
	if err != nil {
		return nil, err
	}
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	out := make([]mcpclient.Prompt, len(srv.prompts))
	copy(out, srv.prompts)
	return out, nil
}

// ReadResource fetches the contents of a single resource from a named
// server via resources/read.
func (s *Service) ReadResource(ctx context.Context, serverName, uri string) ([]mcpclient.ResourceContent, error) {
	srv, err := s.lookupServer(serverName)
	if err != nil {
		return nil, err
	}
	return srv.client.ReadResource(ctx, uri)
}

// GetPrompt fetches a single rendered prompt from a named server via
// prompts/get.
func (s *Service) GetPrompt(ctx context.Context, serverName, name string, arguments map[string]string) (mcpclient.GetPromptResult, error) {
	srv, err := s.lookupServer(serverName)
	if err != nil {
		return mcpclient.GetPromptResult{}, err
	}
	return srv.client.GetPrompt(ctx, name, arguments)
}

func (s *Service) lookupServer(serverName string) (*server, error) {
	s.mu.RLock()
	srv, ok := s.servers[serverName]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown server %q", serverName)
	}
	if !srv.running || srv.client == nil {
		return nil, fmt.Errorf("server %q is not running", serverName)
	}
	return srv, nil
}

func firstText(blocks []mcpclient.ContentBlock) string {
	for _, b := range blocks {
		if b.Text != "" {
			return b.Text
		}
	}
	return "tool reported an error"
}

// Status reports GET /api/server-status.
func (s *Service) Status() []models.ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ServerStatus, 0, len(s.servers))
	for name, srv := range s.servers {
		srv.mu.RLock()
		summaries := make([]models.ToolSummary, 0, len(srv.tools))
		for _, t := range srv.tools {
			summaries = append(summaries, models.ToolSummary{Name: t.QualifiedName, Description: t.Description})
		}
		srv.mu.RUnlock()
		out = append(out, models.ServerStatus{Name: name, IsRunning: srv.running, Tools: summaries})
	}
	return out
}

// PushLogSink installs sink as the active recipient of forwarded
// server notifications for the duration of one request; the returned
// function must be called exactly once when the request ends.
func (s *Service) PushLogSink(sink LogSink) (pop func()) {
	if sink == nil {
		sink = discardSink{}
	}
	return s.sinks.push(sink)
}

// Shutdown closes every running server's transport.
func (s *Service) Shutdown(ctx context.Context) {
	s.mu.RLock()
	servers := make([]*server, 0, len(s.servers))
	for _, srv := range s.servers {
		servers = append(servers, srv)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, srv := range servers {
		if srv.client == nil {
			continue
		}
		wg.Add(1)
		go func(srv *server) {
			defer wg.Done()
			if err := srv.client.Close(); err != nil {
				s.log.Warn("error closing mcp server", "server", srv.descriptor.Name, "error", err)
			}
		}(srv)
	}
	wg.Wait()
}
