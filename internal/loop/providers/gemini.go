package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"

	"github.com/haasonsaas/moc/internal/loop"
)

// GeminiProvider wraps google.golang.org/genai.
type GeminiProvider struct {
	client *genai.Client
	models []loop.Model
}

func NewGeminiProvider(ctx context.Context, apiKey string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini provider: create client: %w", err)
	}
	return &GeminiProvider{
		client: client,
		models: []loop.Model{
			{ID: "gemini-2.0-flash", ContextSize: 1_000_000},
			{ID: "gemini-1.5-pro", ContextSize: 2_000_000},
		},
	}, nil
}

func (p *GeminiProvider) Name() string      { return "gemini" }
func (p *GeminiProvider) Models() []loop.Model { return p.models }

func (p *GeminiProvider) Complete(ctx context.Context, req *loop.CompletionRequest) (<-chan *loop.CompletionChunk, error) {
	contents, err := toGeminiContents(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("gemini provider: convert messages: %w", err)
	}

	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if !req.ToolsDisabled {
		tools, err := toGeminiTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("gemini provider: convert tools: %w", err)
		}
		config.Tools = tools
	}

	ch := make(chan *loop.CompletionChunk)
	go func() {
		defer close(ch)
		callIdx := 0
		for resp, err := range p.client.Models.GenerateContentStream(ctx, req.Model, contents, config) {
			if ctx.Err() != nil {
				ch <- &loop.CompletionChunk{Error: ctx.Err()}
				return
			}
			if err != nil {
				ch <- &loop.CompletionChunk{Error: fmt.Errorf("gemini provider: stream: %w", err)}
				return
			}
			if resp == nil {
				continue
			}
			for _, candidate := range resp.Candidates {
				if candidate == nil || candidate.Content == nil {
					continue
				}
				for _, part := range candidate.Content.Parts {
					if part == nil {
						continue
					}
					if part.Text != "" {
						ch <- &loop.CompletionChunk{Text: part.Text}
					}
					if part.FunctionCall != nil {
						argsJSON, jerr := json.Marshal(part.FunctionCall.Args)
						if jerr != nil {
							argsJSON = []byte("{}")
						}
						callIdx++
						ch <- &loop.CompletionChunk{ToolCall: &loop.ToolCall{
							ID:        fmt.Sprintf("gemini-call-%d", callIdx),
							Name:      part.FunctionCall.Name,
							Arguments: argsJSON,
						}}
					}
				}
			}
		}
		ch <- &loop.CompletionChunk{Done: true}
	}()
	return ch, nil
}

// toGeminiContents converts loop messages to Gemini's Content list. Gemini
// has no dedicated tool-call-id concept on function responses, so the
// response is matched to its call by name only, which is sufficient since
// MOC executes tool calls sequentially within a turn (spec §4.4).
func toGeminiContents(messages []loop.CompletionMessage) ([]*genai.Content, error) {
	out := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		content := &genai.Content{}
		switch m.Role {
		case "user":
			content.Role = genai.RoleUser
		case "assistant":
			content.Role = genai.RoleModel
		case "tool":
			content.Role = genai.RoleUser
		default:
			content.Role = genai.RoleUser
		}

		if m.Text != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: m.Text})
		}
		for _, tc := range m.ToolCalls {
			var args map[string]any
			if err := json.Unmarshal(tc.Arguments, &args); err != nil {
				args = map[string]any{}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: args},
			})
		}
		for _, tr := range m.ToolResults {
			var response map[string]any
			if err := json.Unmarshal([]byte(tr.Text), &response); err != nil {
				response = map[string]any{"result": tr.Text, "error": tr.IsError}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{Name: toolNameForResult(messages, tr.ToolCallID), Response: response},
			})
		}

		if len(content.Parts) > 0 {
			out = append(out, content)
		}
	}
	return out, nil
}

func toolNameForResult(messages []loop.CompletionMessage, toolCallID string) string {
	for _, m := range messages {
		for _, tc := range m.ToolCalls {
			if tc.ID == toolCallID {
				return tc.Name
			}
		}
	}
	return ""
}

func toGeminiTools(tools []loop.ToolSpec) ([]*genai.Tool, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		var schema *genai.Schema
		if err := json.Unmarshal(t.Schema, &schema); err != nil {
			return nil, fmt.Errorf("tool %q: %w", t.Name, err)
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schema,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}, nil
}
