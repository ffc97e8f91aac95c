// Package providers adapts vendor LLM SDKs to loop.LLMProvider. Each
// adapter's only job is translating loop.CompletionRequest to the vendor
// call and the vendor's response back to loop.CompletionChunk — no
// tool-loop logic lives here.
package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/moc/internal/loop"
)

// AnthropicProvider wraps anthropic-sdk-go.
type AnthropicProvider struct {
	client anthropic.Client
	models []loop.Model
}

func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		models: []loop.Model{
			{ID: string(anthropic.ModelClaudeSonnet4_5), ContextSize: 200_000},
			{ID: string(anthropic.ModelClaudeOpus4_1), ContextSize: 200_000},
		},
	}
}

func (p *AnthropicProvider) Name() string      { return "anthropic" }
func (p *AnthropicProvider) Models() []loop.Model { return p.models }

func (p *AnthropicProvider) Complete(ctx context.Context, req *loop.CompletionRequest) (<-chan *loop.CompletionChunk, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokensOrDefault(req.MaxTokens)),
		System:    []anthropic.TextBlockParam{{Text: req.System}},
		Messages:  toAnthropicMessages(req.Messages),
	}
	if !req.ToolsDisabled {
		tools, err := toAnthropicTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic provider: convert tools: %w", err)
		}
		params.Tools = tools
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic provider: %w", err)
	}

	ch := make(chan *loop.CompletionChunk, len(msg.Content)+1)
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			ch <- &loop.CompletionChunk{Text: variant.Text}
		case anthropic.ToolUseBlock:
			ch <- &loop.CompletionChunk{ToolCall: &loop.ToolCall{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: json.RawMessage(variant.JSON.Input.Raw()),
			}}
		}
	}
	ch <- &loop.CompletionChunk{
		Done:         true,
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	close(ch)
	return ch, nil
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return 4096
	}
	return n
}

func toAnthropicMessages(messages []loop.CompletionMessage) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "user":
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Text)))
		case "assistant":
			blocks := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Text)}
			for _, tc := range m.ToolCalls {
				var input any
				_ = json.Unmarshal(tc.Arguments, &input)
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case "tool":
			var blocks []anthropic.ContentBlockParamUnion
			for _, tr := range m.ToolResults {
				blocks = append(blocks, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Text, tr.IsError))
			}
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

func toAnthropicTools(tools []loop.ToolSpec) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.Schema, &schema); err != nil {
			return nil, fmt.Errorf("tool %q: %w", t.Name, err)
		}
		out = append(out, anthropic.ToolUnionParamOfTool(schema, t.Name))
	}
	return out, nil
}
