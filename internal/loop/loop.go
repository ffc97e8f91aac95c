package loop

import (
	"context"
	"time"

	"github.com/haasonsaas/moc/pkg/models"
)

// DefaultMaxIterations is the non-formatter LLM turn cap (spec §4.4).
const DefaultMaxIterations = 15

const (
	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 4 * time.Second
	retryAttempts  = 3
)

// StatusFunc reports a human-readable progress line, typically forwarded
// to the Streaming Response Pipeline as a status frame.
type StatusFunc func(message string)

// ArtifactSink receives content parts as they are produced during the
// loop, for the Artifact Accumulator (C6) to classify and merge. It is an
// interface, not a concrete dependency on internal/artifacts, so this
// package stays free of an import on the accumulator.
type ArtifactSink interface {
	Observe(parts []models.ContentPart)
}

type noopArtifactSink struct{}

func (noopArtifactSink) Observe([]models.ContentPart) {}

// Config holds everything that does not change across the lifetime of
// one Run call.
type Config struct {
	Provider      LLMProvider
	Model         string
	System        string
	Executor      *ToolExecutor
	Tools         []ToolSpec
	MaxIterations int // 0 -> DefaultMaxIterations
	MaxTokens     int // 0 -> provider default
	Temperature   *float64
	Status        StatusFunc
	Artifacts     ArtifactSink
}

// Request is the per-call input: the new user message plus prior turns.
type Request struct {
	Message string
	History []models.ChatMessage
}

// Result is the Formatting state's assembled output.
type Result struct {
	Thinking     string
	Conversation string
	Artifacts    []models.ContentPart
}

// Run drives the full Idle -> ... -> Done/Failed state machine described
// in spec §4.4. The only error it ever returns is *Error (LLMError,
// Cancelled, or an internal invariant violation) — tool and argument
// failures never propagate out of this function; they are folded into
// the conversation and shown to the LLM to react to.
func Run(ctx context.Context, cfg Config, req Request) (*Result, error) {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	status := cfg.Status
	if status == nil {
		status = func(string) {}
	}
	artifacts := cfg.Artifacts
	if artifacts == nil {
		artifacts = noopArtifactSink{}
	}

	conversation := append([]models.ChatMessage{}, req.History...)
	conversation = append(conversation, models.ChatMessage{Role: models.RoleUser, Content: req.Message})

	tools := append([]ToolSpec{}, cfg.Tools...)
	tools = append(tools, FormatterTool())

	for iteration := 0; ; iteration++ {
		if ctx.Err() != nil {
			return nil, newError(KindCancelled, "request cancelled", ctx.Err())
		}

		forceFinal := iteration >= cfg.MaxIterations
		status("Thinking…")

		completionTools := tools
		if forceFinal {
			completionTools = nil
		}

		turn, err := callLLMWithRetry(ctx, cfg.Provider, &CompletionRequest{
			Model:         cfg.Model,
			System:        systemPromptFor(cfg.System, forceFinal),
			Messages:      toCompletionMessages(conversation),
			Tools:         completionTools,
			ToolsDisabled: forceFinal,
			MaxTokens:     cfg.MaxTokens,
			Temperature:   cfg.Temperature,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, newError(KindCancelled, "request cancelled mid-completion", ctx.Err())
			}
			return nil, newError(KindLLM, "llm completion failed after retries", err)
		}

		formatterCall, toolCalls := splitFormatterCall(turn.toolCalls)

		if formatterCall != nil {
			payload, err := DecodeFormatterPayload(formatterCall.Arguments)
			if err != nil {
				// Malformed formatter arguments are a protocol-level problem
				// with the LLM's own output, not something the user caused;
				// fall back to whatever plain text accompanied the call.
				payload = FormatterPayload{Conversation: turn.text}
			}
			parts := convertFormatterArtifacts(payload.Artifacts)
			artifacts.Observe(parts)
			return &Result{Thinking: payload.Thinking, Conversation: payload.Conversation, Artifacts: parts}, nil
		}

		if forceFinal || len(toolCalls) == 0 {
			// Iteration cap reached with no formatter call, or the model
			// replied with plain text only: both finalize on that text.
			return &Result{Conversation: turn.text}, nil
		}

		assistantMsg := models.ChatMessage{Role: models.RoleAssistant, Content: turn.text}
		for _, tc := range toolCalls {
			assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, models.ToolCall{
				ID: tc.ID, QualifiedName: tc.Name, Arguments: tc.Arguments,
			})
		}
		conversation = append(conversation, assistantMsg)

		toolMsg := models.ChatMessage{Role: models.RoleTool}
		for _, tc := range toolCalls {
			if ctx.Err() != nil {
				return nil, newError(KindCancelled, "request cancelled mid-tool-call", ctx.Err())
			}
			status("Executing " + tc.Name + "…")
			result, content := cfg.Executor.Execute(ctx, tc)
			artifacts.Observe(convertToolContent(content))
			toolMsg.ToolResults = append(toolMsg.ToolResults, models.ToolResult{
				ToolCallID: result.ToolCallID,
				Content:    []models.ContentPart{{Type: models.ContentText, Text: result.Text}},
				IsError:    result.IsError,
			})
		}
		conversation = append(conversation, toolMsg)
	}
}

// llmTurn is the accumulated view of one Complete() call's chunk stream.
type llmTurn struct {
	text      string
	toolCalls []ToolCall
}

func callLLMWithRetry(ctx context.Context, provider LLMProvider, req *CompletionRequest) (llmTurn, error) {
	var lastErr error
	delay := retryBaseDelay
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return llmTurn{}, ctx.Err()
			}
			delay *= 2
			if delay > retryMaxDelay {
				delay = retryMaxDelay
			}
		}

		turn, err := callLLMOnce(ctx, provider, req)
		if err == nil {
			return turn, nil
		}
		lastErr = err
	}
	return llmTurn{}, lastErr
}

func callLLMOnce(ctx context.Context, provider LLMProvider, req *CompletionRequest) (llmTurn, error) {
	chunks, err := provider.Complete(ctx, req)
	if err != nil {
		return llmTurn{}, err
	}

	var turn llmTurn
	for chunk := range chunks {
		if chunk.Error != nil {
			return llmTurn{}, chunk.Error
		}
		turn.text += chunk.Text
		if chunk.ToolCall != nil {
			turn.toolCalls = append(turn.toolCalls, *chunk.ToolCall)
		}
		if chunk.Done {
			break
		}
	}
	return turn, nil
}

func splitFormatterCall(calls []ToolCall) (formatter *ToolCall, rest []ToolCall) {
	for i := range calls {
		if calls[i].Name == FormatterToolName && formatter == nil {
			c := calls[i]
			formatter = &c
			continue
		}
		rest = append(rest, calls[i])
	}
	return formatter, rest
}

func systemPromptFor(base string, forceFinal bool) string {
	if !forceFinal {
		return base
	}
	return base + "\n\nYou have reached the maximum number of tool-use turns for this request. Produce a best-effort final answer using only the information already gathered; do not request any more tools."
}

func toCompletionMessages(conversation []models.ChatMessage) []CompletionMessage {
	out := make([]CompletionMessage, 0, len(conversation))
	for _, m := range conversation {
		cm := CompletionMessage{Role: string(m.Role), Text: m.Content}
		for _, tc := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, ToolCall{ID: tc.ID, Name: tc.QualifiedName, Arguments: tc.Arguments})
		}
		for _, tr := range m.ToolResults {
			cm.ToolResults = append(cm.ToolResults, ToolCallResult{ToolCallID: tr.ToolCallID, Text: tr.FirstText(), IsError: tr.IsError})
		}
		out = append(out, cm)
	}
	return out
}
