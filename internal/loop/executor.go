package loop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/haasonsaas/moc/internal/mcpclient"
	"github.com/haasonsaas/moc/internal/mcpservice"
)

// DefaultCallToolTimeout is the per-call ceiling (spec §5).
const DefaultCallToolTimeout = 60 * time.Second

// ToolExecutor runs one tool call against the MCP Service. It is used
// sequentially within a turn — see Run in loop.go — never fanned out
// across goroutines, since tool results commonly depend on earlier
// results in the same batch (spec §4.4). One ToolExecutor is scoped to
// one request: degraded tracks servers that suffered a transport failure
// during this request, per spec §4.4 ("mark that server as degraded;
// subsequent calls to it within this request skip it").
type ToolExecutor struct {
	service *mcpservice.Service

	mu       sync.Mutex
	degraded map[string]bool
}

func NewToolExecutor(service *mcpservice.Service) *ToolExecutor {
	return &ToolExecutor{service: service, degraded: make(map[string]bool)}
}

// Execute runs a single tool call, recovering from a panic in the
// downstream call path rather than letting it take down the whole
// request. A panic is reported the same way any other tool failure is:
// as an isError ToolCallResult, never as a Go error returned to the
// caller. The raw content blocks are also returned (even on success)
// so the caller can feed them to the Artifact Accumulator.
func (e *ToolExecutor) Execute(ctx context.Context, call ToolCall) (result ToolCallResult, content []mcpclient.ContentBlock) {
	defer func() {
		if r := recover(); r != nil {
			result = ToolCallResult{ToolCallID: call.ID, IsError: true, Text: fmt.Sprintf("tool %q panicked: %v", call.Name, r)}
			content = nil
		}
	}()

	if serverName, ok := e.service.ServerNameForTool(call.Name); ok && e.isDegraded(serverName) {
		return ToolCallResult{
			ToolCallID: call.ID,
			IsError:    true,
			Text:       fmt.Sprintf("server %q is degraded for the remainder of this request and was skipped", serverName),
		}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, DefaultCallToolTimeout)
	defer cancel()

	outcome := e.service.CallTool(callCtx, call.Name, call.Arguments, DefaultCallToolTimeout)
	if isTransportFailure(outcome.Kind) && outcome.ServerName != "" {
		e.markDegraded(outcome.ServerName)
	}
	return toolCallResultFromOutcome(call.ID, outcome), outcome.Content
}

func (e *ToolExecutor) isDegraded(serverName string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.degraded[serverName]
}

func (e *ToolExecutor) markDegraded(serverName string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.degraded[serverName] = true
}

// isTransportFailure reports whether kind reflects a transport-level
// failure reaching the server, as opposed to a tool reporting its own
// business-logic error (ToolErrorToolFailed), an unknown tool, or a bad
// argument — only transport failures degrade a server for the request.
func isTransportFailure(kind mcpservice.ToolErrorKind) bool {
	switch kind {
	case mcpservice.ToolErrorServerDown, mcpservice.ToolErrorTimeout, mcpservice.ToolErrorServer:
		return true
	default:
		return false
	}
}

func toolCallResultFromOutcome(callID string, outcome mcpservice.ToolCallOutcome) ToolCallResult {
	if outcome.Kind == mcpservice.ToolErrorNone {
		return ToolCallResult{ToolCallID: callID, Text: joinContentText(outcome.Content)}
	}
	text := outcome.Message
	if text == "" {
		text = "tool call failed"
	}
	return ToolCallResult{ToolCallID: callID, IsError: true, Text: text}
}

func joinContentText(blocks []mcpclient.ContentBlock) string {
	var out string
	for i, b := range blocks {
		if i > 0 {
			out += "\n"
		}
		out += b.Text
	}
	return out
}
