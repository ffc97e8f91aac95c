package providers

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/moc/internal/loop"
)

// OpenAIProvider wraps sashabaranov/go-openai.
type OpenAIProvider struct {
	client *openai.Client
	models []loop.Model
}

func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{
		client: openai.NewClient(apiKey),
		models: []loop.Model{
			{ID: openai.GPT4o, ContextSize: 128_000},
			{ID: openai.GPT4oMini, ContextSize: 128_000},
		},
	}
}

func (p *OpenAIProvider) Name() string      { return "openai" }
func (p *OpenAIProvider) Models() []loop.Model { return p.models }

func (p *OpenAIProvider) Complete(ctx context.Context, req *loop.CompletionRequest) (<-chan *loop.CompletionChunk, error) {
	messages := toOpenAIMessages(req.System, req.Messages)

	apiReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		apiReq.MaxTokens = req.MaxTokens
	}
	if !req.ToolsDisabled {
		apiReq.Tools = toOpenAITools(req.Tools)
	}

	resp, err := p.client.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		return nil, fmt.Errorf("openai provider: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai provider: empty choices")
	}
	choice := resp.Choices[0]

	ch := make(chan *loop.CompletionChunk, len(choice.Message.ToolCalls)+2)
	if choice.Message.Content != "" {
		ch <- &loop.CompletionChunk{Text: choice.Message.Content}
	}
	for _, tc := range choice.Message.ToolCalls {
		ch <- &loop.CompletionChunk{ToolCall: &loop.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		}}
	}
	ch <- &loop.CompletionChunk{
		Done:         true,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	close(ch)
	return ch, nil
}

func toOpenAIMessages(system string, messages []loop.CompletionMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range messages {
		switch m.Role {
		case "user":
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Text})
		case "assistant":
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Text}
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				})
			}
			out = append(out, msg)
		case "tool":
			for _, tr := range m.ToolResults {
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Text,
					ToolCallID: tr.ToolCallID,
				})
			}
		}
	}
	return out
}

func toOpenAITools(tools []loop.ToolSpec) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		var params any
		_ = json.Unmarshal(t.Schema, &params)
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}
