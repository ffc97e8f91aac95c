package httpapi

import (
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/moc/internal/artifacts"
	"github.com/haasonsaas/moc/internal/loop"
	"github.com/haasonsaas/moc/internal/mcpclient"
	"github.com/haasonsaas/moc/internal/mcpservice"
	"github.com/haasonsaas/moc/internal/stream"
	"github.com/haasonsaas/moc/pkg/models"
)

type chatHistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type modelSettings struct {
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"maxTokens,omitempty"`
}

type chatRequest struct {
	Message         string              `json:"message"`
	History         []chatHistoryEntry  `json:"history"`
	BlockedServers  []string            `json:"blockedServers"`
	EnabledTools    map[string][]string `json:"enabledTools"`
	PinnedArtifacts []models.Artifact   `json:"pinnedArtifacts"`
	ModelSettings   *modelSettings      `json:"modelSettings"`
}

// handleChat implements POST /api/chat (spec §6): decodes the request,
// runs the tool invocation loop against the filtered tool catalog, and
// streams NDJSON status/log/result frames back over a chunked response.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	traceID := stream.TraceIDFromSpan(trace.SpanFromContext(r.Context()))
	pipeline := stream.New(w, traceID, s.log)

	provider, model, ok := s.resolveProvider(req.ModelSettings)
	if !ok {
		_ = pipeline.Error("no LLM provider configured", "provider "+s.defaults.Provider+" is not registered")
		return
	}

	specs := s.filteredTools(req.BlockedServers, req.EnabledTools)
	executor := loop.NewToolExecutor(s.mcp)

	accumulator := artifacts.New(pinnedKnowledgeGraph(req.PinnedArtifacts))

	sink := &pipelineLogSink{pipeline: pipeline}
	pop := s.mcp.PushLogSink(sink)
	defer pop()

	cfg := loop.Config{
		Provider:      provider,
		Model:         model,
		System:        s.defaults.System,
		Executor:      executor,
		Tools:         specs,
		MaxIterations: s.defaults.MaxIterations,
		MaxTokens:     s.defaults.MaxTokens,
		Status:        func(msg string) { _ = pipeline.Status(msg) },
		Artifacts:     accumulator,
	}
	if req.ModelSettings != nil {
		if req.ModelSettings.MaxTokens > 0 {
			cfg.MaxTokens = req.ModelSettings.MaxTokens
		}
		cfg.Temperature = req.ModelSettings.Temperature
	}

	result, err := loop.Run(r.Context(), cfg, loop.Request{
		Message: req.Message,
		History: toChatHistory(req.History),
	})
	if err != nil {
		_ = pipeline.Error(err.Error(), "")
		return
	}

	conversation, finalArtifacts := accumulator.Finalize(result.Conversation)
	_ = pipeline.Result(models.ChatResult{
		Thinking:     result.Thinking,
		Conversation: conversation,
		Artifacts:    finalArtifacts,
	})
}

func toChatHistory(entries []chatHistoryEntry) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(entries))
	for _, e := range entries {
		role := models.RoleUser
		if e.Role == string(models.RoleAssistant) {
			role = models.RoleAssistant
		}
		out = append(out, models.ChatMessage{Role: role, Content: e.Content})
	}
	return out
}

// resolveProvider picks the LLM provider and model for this request.
// modelSettings carries no provider override in the spec's request
// shape, so the server-level default provider/model always apply.
func (s *Server) resolveProvider(_ *modelSettings) (loop.LLMProvider, string, bool) {
	provider, ok := s.providers[s.defaults.Provider]
	if !ok {
		return nil, "", false
	}
	model := s.defaults.Model
	if model == "" {
		if avail := provider.Models(); len(avail) > 0 {
			model = avail[0].ID
		}
	}
	return provider, model, true
}

// filteredTools applies blockedServers and enabledTools to the host-wide
// tool catalog. A server named in blockedServers is dropped entirely.
// enabledTools, when non-nil, is an allowlist: only tools whose
// (server, original name) pair is listed survive, for every server that
// has an entry in the map; servers absent from the map are left
// unrestricted, so a client narrowing one server's tools doesn't have to
// enumerate every other server just to keep using them.
func (s *Server) filteredTools(blockedServers []string, enabledTools map[string][]string) []loop.ToolSpec {
	blocked := make(map[string]struct{}, len(blockedServers))
	for _, name := range blockedServers {
		blocked[name] = struct{}{}
	}

	var kept []mcpservice.QualifiedTool
	for _, t := range s.mcp.Tools() {
		if _, isBlocked := blocked[t.ServerName]; isBlocked {
			continue
		}
		if allowed, restricted := enabledTools[t.ServerName]; restricted {
			if !containsString(allowed, t.OriginalName) {
				continue
			}
		}
		kept = append(kept, t)
	}

	specs := make([]loop.ToolSpec, 0, len(kept))
	for _, t := range kept {
		schema := json.RawMessage(`{"type":"object"}`)
		if t.Schema != nil && len(t.Schema.Canonical) > 0 {
			schema = t.Schema.Canonical
		}
		specs = append(specs, loop.ToolSpec{Name: t.QualifiedName, Description: t.Description, Schema: schema})
	}
	return specs
}

func containsString(items []string, want string) bool {
	for _, item := range items {
		if item == want {
			return true
		}
	}
	return false
}

// pinnedKnowledgeGraph extracts the knowledge-graph artifact from a
// request's pinnedArtifacts, if any, as the Artifact Accumulator's merge
// seed (spec §4.6).
func pinnedKnowledgeGraph(pinned []models.Artifact) *models.KnowledgeGraph {
	for _, art := range pinned {
		if artifacts.NormalizeType(art.Type) != models.MediaKnowledgeGraph {
			continue
		}
		var kg models.KnowledgeGraph
		if err := json.Unmarshal([]byte(art.Content), &kg); err != nil {
			return nil
		}
		return &kg
	}
	return nil
}

// pipelineLogSink adapts the Streaming Response Pipeline to the MCP
// Service's per-request LogSink interface.
type pipelineLogSink struct {
	pipeline *stream.Pipeline
}

func (p *pipelineLogSink) HandleLog(server string, msg mcpclient.LogMessage) {
	var data any
	if len(msg.Data) > 0 {
		_ = json.Unmarshal(msg.Data, &data)
	}
	if err := p.pipeline.Log(server, models.LogLevel(msg.Level), data, ""); err != nil {
		p.pipeline.DropLogs()
	}
}

func (p *pipelineLogSink) HandleProgress(server string, notif mcpclient.ProgressNotification) {
	_ = p.pipeline.Status(server + ": " + notif.Message)
}
