// Package loop implements C4: the multi-turn tool invocation loop driving
// an LLM through a catalog of MCP tools to a final formatted answer.
package loop

import (
	"context"
	"encoding/json"
)

// LLMProvider is the boundary between the loop and a specific vendor SDK.
// Each provider/*.go adapter implements this once per vendor.
type LLMProvider interface {
	Name() string
	Models() []Model
	// Complete issues one completion call. The returned channel is closed
	// after the terminal chunk (Done=true or Error!=nil) is delivered.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)
}

// Model describes one model a provider can target.
type Model struct {
	ID          string
	ContextSize int
}

// CompletionRequest is one LLM call: system prompt, full message history,
// and the tool catalog currently in scope (including the
// response_formatter sentinel, except on the forced-final call, which
// carries no tools).
type CompletionRequest struct {
	Model           string
	System          string
	Messages        []CompletionMessage
	Tools           []ToolSpec
	ToolsDisabled   bool // forced-final-summary call: tools omitted entirely
	MaxTokens       int
	Temperature     *float64
}

// CompletionMessage is one turn of the conversation as handed to the
// provider adapter, already translated from pkg/models.ChatMessage into
// the provider-agnostic shape every adapter converts further.
type CompletionMessage struct {
	Role        string // "user" | "assistant" | "tool"
	Text        string
	ToolCalls   []ToolCall
	ToolResults []ToolCallResult
}

// ToolCall is one tool invocation the LLM requested.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolCallResult pairs a ToolCall.ID with its outcome, round-tripped back
// to the provider in the next CompletionMessage.
type ToolCallResult struct {
	ToolCallID string
	Text       string
	IsError    bool
}

// ToolSpec is the provider-agnostic tool declaration passed with every
// completion request.
type ToolSpec struct {
	Name        string
	Description string
	Schema      json.RawMessage // canonical (ref-inlined) JSON schema
}

// CompletionChunk is one streamed unit of a completion. A call yields any
// number of text/thinking chunks, at most one ToolCall-bearing chunk
// sequence, and exactly one terminal chunk (Done or Error set).
type CompletionChunk struct {
	Text     string
	Thinking string
	ToolCall *ToolCall

	InputTokens  int
	OutputTokens int

	Done  bool
	Error error
}
