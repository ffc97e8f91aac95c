// Package models holds the shared domain types passed between the MCP
// service, the tool invocation loop, the streaming pipeline, and the
// artifact accumulator.
package models

import "encoding/json"

// Role identifies the author of a ChatMessage.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ChatMessage is one turn of the conversation, used both for the host's
// in-memory conversation window and as the wire format handed to the LLM
// provider adapters.
type ChatMessage struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// ToolCall is an LLM-requested invocation of a qualified tool.
type ToolCall struct {
	ID            string          `json:"id"`
	QualifiedName string          `json:"name"`
	Arguments     json.RawMessage `json:"arguments"`
}

// ContentPartType tags the variant held by a ContentPart.
type ContentPartType string

const (
	ContentText             ContentPartType = "text"
	ContentImage            ContentPartType = "image"
	ContentResourceRef      ContentPartType = "resource"
	ContentBinary           ContentPartType = "binary"
	ContentStructuredArtifact ContentPartType = "artifact"
)

// ContentPart is one piece of a ToolResult's content list.
type ContentPart struct {
	Type ContentPartType `json:"type"`

	// Text holds the payload for ContentText, and the human-readable
	// explanation for error results.
	Text string `json:"text,omitempty"`

	// MimeType is set for Image/Binary/StructuredArtifact parts.
	MimeType string `json:"mime_type,omitempty"`

	// Data holds base64-encoded bytes for Image/Binary parts.
	Data string `json:"data,omitempty"`

	// URI addresses a ContentResourceRef part.
	URI string `json:"uri,omitempty"`

	// ArtifactType is the declared media type for ContentStructuredArtifact
	// parts (pre-normalization), e.g. "application/knowledge-graph".
	ArtifactType string `json:"artifact_type,omitempty"`

	// Title is an optional human-readable label carried with structured
	// artifact or image parts.
	Title string `json:"title,omitempty"`

	// Language tags a source-code part paired with an image (screenshot +
	// the code that produced it), or a code artifact's language.
	Language string `json:"language,omitempty"`
}

// ToolResult is the outcome of a ToolCall. Per the MCP Service contract,
// it is never a Go error across the callTool boundary: transport and
// protocol failures are represented here with IsError=true instead.
type ToolResult struct {
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Content    []ContentPart `json:"content"`
	IsError    bool          `json:"is_error,omitempty"`
}

// FirstText returns the text of the first text content part, or "" if
// none exists.
func (r ToolResult) FirstText() string {
	for _, p := range r.Content {
		if p.Type == ContentText {
			return p.Text
		}
	}
	return ""
}
