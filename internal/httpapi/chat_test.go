package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/moc/internal/jsonrpc"
	"github.com/haasonsaas/moc/internal/loop"
	"github.com/haasonsaas/moc/internal/mcpclient"
	"github.com/haasonsaas/moc/internal/mcpservice"
	"github.com/haasonsaas/moc/internal/transport"
	"github.com/haasonsaas/moc/pkg/models"
)

// scriptedTransport is a minimal transport.Transport double so
// mcpservice.Service.Start can be exercised without a real subprocess.
type scriptedTransport struct {
	state transport.State
	tools []mcpclient.Tool
}

func (s *scriptedTransport) Connect(ctx context.Context) error { s.state = transport.StateReady; return nil }
func (s *scriptedTransport) Request(ctx context.Context, method string, params any, timeout time.Duration) (jsonrpc.Response, error) {
	switch method {
	case "initialize":
		data, _ := json.Marshal(mcpclient.InitializeResult{ProtocolVersion: mcpclient.ProtocolVersion})
		return jsonrpc.Response{JSONRPC: jsonrpc.Version, Result: data}, nil
	case "tools/list":
		data, _ := json.Marshal(struct {
			Tools []mcpclient.Tool `json:"tools"`
		}{Tools: s.tools})
		return jsonrpc.Response{JSONRPC: jsonrpc.Version, Result: data}, nil
	case "tools/call":
		data, _ := json.Marshal(mcpclient.CallToolResult{Content: []mcpclient.ContentBlock{{Type: "text", Text: "ok"}}})
		return jsonrpc.Response{JSONRPC: jsonrpc.Version, Result: data}, nil
	default:
		return jsonrpc.Response{JSONRPC: jsonrpc.Version, Error: &jsonrpc.Error{Code: jsonrpc.CodeMethodNotFound}}, nil
	}
}
func (s *scriptedTransport) Notify(ctx context.Context, method string, params any) error { return nil }
func (s *scriptedTransport) Notifications() <-chan jsonrpc.Notification                 { return make(chan jsonrpc.Notification) }
func (s *scriptedTransport) Requests() <-chan jsonrpc.Request                           { return make(chan jsonrpc.Request) }
func (s *scriptedTransport) Respond(ctx context.Context, id jsonrpc.ID, result any, rpcErr *jsonrpc.Error) error {
	return nil
}
func (s *scriptedTransport) State() transport.State { return s.state }
func (s *scriptedTransport) Close() error            { s.state = transport.StateClosed; return nil }

func newTestService(t *testing.T, tools []mcpclient.Tool) *mcpservice.Service {
	t.Helper()
	dialer := func(d models.ServerDescriptor) (transport.Transport, error) {
		return &scriptedTransport{tools: tools}, nil
	}
	svc := mcpservice.New(dialer, nil)
	svc.Start(context.Background(), []models.ServerDescriptor{{Name: "web", Command: "unused"}})
	return svc
}

// fakeProvider is a canned LLMProvider: it always immediately calls
// response_formatter with a fixed conversation so Run terminates on the
// first iteration.
type fakeProvider struct {
	name string
}

func (p *fakeProvider) Name() string { return p.name }
func (p *fakeProvider) Models() []loop.Model {
	return []loop.Model{{ID: "fake-model-1", ContextSize: 8000}}
}
func (p *fakeProvider) Complete(ctx context.Context, req *loop.CompletionRequest) (<-chan *loop.CompletionChunk, error) {
	ch := make(chan *loop.CompletionChunk, 4)
	args, _ := json.Marshal(loop.FormatterPayload{Conversation: "hello from fake provider"})
	ch <- &loop.CompletionChunk{ToolCall: &loop.ToolCall{ID: "call-1", Name: loop.FormatterToolName, Arguments: args}}
	ch <- &loop.CompletionChunk{Done: true}
	close(ch)
	return ch, nil
}

func newTestServer(t *testing.T, tools []mcpclient.Tool) *Server {
	t.Helper()
	svc := newTestService(t, tools)
	providers := map[string]loop.LLMProvider{"fake": &fakeProvider{name: "fake"}}
	return New(svc, providers, LoopDefaults{Provider: "fake", MaxIterations: 5}, nil)
}

func decodeChatFrames(t *testing.T, body []byte) []models.StreamFrame {
	t.Helper()
	var frames []models.StreamFrame
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var frame models.StreamFrame
		if err := json.Unmarshal([]byte(line), &frame); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		frames = append(frames, frame)
	}
	return frames
}

func TestHandleChatStreamsResultFrame(t *testing.T) {
	srv := newTestServer(t, []mcpclient.Tool{{Name: "search", InputSchema: json.RawMessage(`{"type":"object"}`)}})

	body := strings.NewReader(`{"message":"hi"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", body)
	rec := httptest.NewRecorder()

	srv.handleChat(rec, req)

	frames := decodeChatFrames(t, rec.Body.Bytes())
	if len(frames) == 0 {
		t.Fatal("expected at least one frame")
	}
	last := frames[len(frames)-1]
	if last.Type != models.FrameResult {
		t.Fatalf("got last frame type %q, want result", last.Type)
	}
	if last.Payload == nil || last.Payload.Conversation != "hello from fake provider" {
		t.Fatalf("got payload %+v", last.Payload)
	}
}

func TestHandleChatUnknownProviderEmitsErrorFrame(t *testing.T) {
	svc := newTestService(t, nil)
	srv := New(svc, map[string]loop.LLMProvider{}, LoopDefaults{Provider: "missing"}, nil)

	body := strings.NewReader(`{"message":"hi"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", body)
	rec := httptest.NewRecorder()

	srv.handleChat(rec, req)

	frames := decodeChatFrames(t, rec.Body.Bytes())
	if len(frames) != 1 || frames[0].Type != models.FrameError {
		t.Fatalf("got frames %+v, want a single error frame", frames)
	}
}

func TestHandleChatRejectsMalformedBody(t *testing.T) {
	srv := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`not json`))
	rec := httptest.NewRecorder()

	srv.handleChat(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want 400", rec.Code)
	}
}

func TestFilteredToolsAppliesBlockedServers(t *testing.T) {
	srv := newTestServer(t, []mcpclient.Tool{{Name: "search"}})
	specs := srv.filteredTools([]string{"web"}, nil)
	if len(specs) != 0 {
		t.Fatalf("got %d specs, want 0 after blocking web", len(specs))
	}
}

func TestFilteredToolsAppliesEnabledToolsAllowlist(t *testing.T) {
	srv := newTestServer(t, []mcpclient.Tool{{Name: "search"}, {Name: "fetch"}})
	specs := srv.filteredTools(nil, map[string][]string{"web": {"search"}})
	if len(specs) != 1 || !strings.HasSuffix(specs[0].Name, "search") {
		t.Fatalf("got %+v, want only the search tool", specs)
	}
}

func TestPinnedKnowledgeGraphExtractsMatchingArtifact(t *testing.T) {
	kg := models.KnowledgeGraph{Nodes: []models.KGNode{{ID: "n1"}}}
	data, _ := json.Marshal(kg)
	pinned := []models.Artifact{{Type: "application/knowledge-graph", Content: string(data)}}

	got := pinnedKnowledgeGraph(pinned)
	if got == nil || len(got.Nodes) != 1 || got.Nodes[0].ID != "n1" {
		t.Fatalf("got %+v", got)
	}
}

func TestPinnedKnowledgeGraphReturnsNilWhenAbsent(t *testing.T) {
	if got := pinnedKnowledgeGraph(nil); got != nil {
		t.Fatalf("got %+v, want nil", got)
	}
}
