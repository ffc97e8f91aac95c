package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/haasonsaas/moc/internal/loop"
)

// BedrockProvider wraps aws-sdk-go-v2/service/bedrockruntime, using the
// Converse API rather than ConverseStream: like the Anthropic and OpenAI
// adapters in this package it resolves one full response per call and adapts it into the
// channel contract, instead of token-by-token streaming.
type BedrockProvider struct {
	client *bedrockruntime.Client
	models []loop.Model
}

func NewBedrockProvider(ctx context.Context, region string) (*BedrockProvider, error) {
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("bedrock provider: load aws config: %w", err)
	}
	return &BedrockProvider{
		client: bedrockruntime.NewFromConfig(awsCfg),
		models: []loop.Model{
			{ID: "anthropic.claude-3-5-sonnet-20241022-v2:0", ContextSize: 200_000},
			{ID: "anthropic.claude-3-haiku-20240307-v1:0", ContextSize: 200_000},
		},
	}, nil
}

func (p *BedrockProvider) Name() string      { return "bedrock" }
func (p *BedrockProvider) Models() []loop.Model { return p.models }

func (p *BedrockProvider) Complete(ctx context.Context, req *loop.CompletionRequest) (<-chan *loop.CompletionChunk, error) {
	messages, err := toBedrockMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("bedrock provider: convert messages: %w", err)
	}

	in := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(req.Model),
		Messages: messages,
	}
	if req.System != "" {
		in.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: req.System}}
	}
	if req.MaxTokens > 0 {
		in.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(req.MaxTokens))}
	}
	if !req.ToolsDisabled {
		toolConfig, err := toBedrockToolConfig(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("bedrock provider: convert tools: %w", err)
		}
		in.ToolConfig = toolConfig
	}

	out, err := p.client.Converse(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("bedrock provider: %w", err)
	}

	ch := make(chan *loop.CompletionChunk, 4)
	if msgOutput, ok := out.Output.(*types.ConverseOutputMemberMessage); ok {
		for _, block := range msgOutput.Value.Content {
			switch variant := block.(type) {
			case *types.ContentBlockMemberText:
				ch <- &loop.CompletionChunk{Text: variant.Value}
			case *types.ContentBlockMemberToolUse:
				var raw any
				argsJSON := []byte("{}")
				if variant.Value.Input != nil {
					if uerr := variant.Value.Input.UnmarshalSmithyDocument(&raw); uerr == nil {
						if marshalled, jerr := json.Marshal(raw); jerr == nil {
							argsJSON = marshalled
						}
					}
				}
				ch <- &loop.CompletionChunk{ToolCall: &loop.ToolCall{
					ID:        aws.ToString(variant.Value.ToolUseId),
					Name:      aws.ToString(variant.Value.Name),
					Arguments: argsJSON,
				}}
			}
		}
	}

	var inputTokens, outputTokens int
	if out.Usage != nil {
		inputTokens = int(aws.ToInt32(out.Usage.InputTokens))
		outputTokens = int(aws.ToInt32(out.Usage.OutputTokens))
	}
	ch <- &loop.CompletionChunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
	close(ch)
	return ch, nil
}

func toBedrockMessages(messages []loop.CompletionMessage) ([]types.Message, error) {
	out := make([]types.Message, 0, len(messages))
	for _, m := range messages {
		var blocks []types.ContentBlock
		var role types.ConversationRole

		switch m.Role {
		case "user":
			role = types.ConversationRoleUser
			if m.Text != "" {
				blocks = append(blocks, &types.ContentBlockMemberText{Value: m.Text})
			}
		case "assistant":
			role = types.ConversationRoleAssistant
			if m.Text != "" {
				blocks = append(blocks, &types.ContentBlockMemberText{Value: m.Text})
			}
			for _, tc := range m.ToolCalls {
				var input any
				if err := json.Unmarshal(tc.Arguments, &input); err != nil {
					return nil, fmt.Errorf("tool call %q: %w", tc.ID, err)
				}
				blocks = append(blocks, &types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.Name),
					Input:     document.NewLazyDocument(input),
				}})
			}
		case "tool":
			role = types.ConversationRoleUser
			for _, tr := range m.ToolResults {
				status := types.ToolResultStatusSuccess
				if tr.IsError {
					status = types.ToolResultStatusError
				}
				blocks = append(blocks, &types.ContentBlockMemberToolResult{Value: types.ToolResultBlock{
					ToolUseId: aws.String(tr.ToolCallID),
					Status:    status,
					Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: tr.Text}},
				}})
			}
		default:
			continue
		}

		if len(blocks) > 0 {
			out = append(out, types.Message{Role: role, Content: blocks})
		}
	}
	return out, nil
}

func toBedrockToolConfig(tools []loop.ToolSpec) (*types.ToolConfiguration, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	specs := make([]types.Tool, 0, len(tools))
	for _, t := range tools {
		var schemaDoc any
		if err := json.Unmarshal(t.Schema, &schemaDoc); err != nil {
			return nil, fmt.Errorf("tool %q: %w", t.Name, err)
		}
		specs = append(specs, &types.ToolMemberToolSpec{Value: types.ToolSpecification{
			Name:        aws.String(t.Name),
			Description: aws.String(t.Description),
			InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schemaDoc)},
		}})
	}
	return &types.ToolConfiguration{Tools: specs}, nil
}
