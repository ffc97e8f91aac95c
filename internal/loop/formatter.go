package loop

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// FormatterToolName is the sentinel tool name the loop watches for to
// transition Awaiting-LLM -> Formatting.
const FormatterToolName = "response_formatter"

// FormatterArtifact is one artifact-producing content part in a final
// answer, decoded from the response_formatter tool call's arguments and
// handed to the Artifact Accumulator (C6).
type FormatterArtifact struct {
	Type     string `json:"type" jsonschema:"enum=text,enum=image,enum=structured,description=Kind of content this artifact carries."`
	MimeType string `json:"mimeType,omitempty" jsonschema:"description=Full media type, e.g. application/vnd.knowledge-graph or image/png."`
	Title    string `json:"title,omitempty"`
	Content  string `json:"content" jsonschema:"description=Text, JSON-as-string, or base64 for binary content."`
	Language string `json:"language,omitempty" jsonschema:"description=Source language, for code artifacts only."`
}

// FormatterPayload is the full argument shape of the response_formatter
// tool call: the loop's Formatting state decodes exactly this.
type FormatterPayload struct {
	Thinking     string              `json:"thinking,omitempty" jsonschema:"description=Private reasoning trace, never shown verbatim to the end user."`
	Conversation string              `json:"conversation" jsonschema:"description=The final answer text shown to the user."`
	Artifacts    []FormatterArtifact `json:"artifacts,omitempty"`
}

var formatterSchema json.RawMessage

func init() {
	reflector := &jsonschema.Reflector{ExpandedStruct: true, DoNotReference: true}
	schema := reflector.Reflect(&FormatterPayload{})
	data, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("loop: reflecting response_formatter schema: %v", err))
	}
	formatterSchema = data
}

// FormatterTool is the always-available sentinel ToolSpec appended to
// every non-final CompletionRequest's tool catalog.
func FormatterTool() ToolSpec {
	return ToolSpec{
		Name:        FormatterToolName,
		Description: "Produce the final answer to the user. Call this once you have everything you need; do not call any other tool afterward.",
		Schema:      formatterSchema,
	}
}

// DecodeFormatterPayload parses a response_formatter tool call's
// arguments. A decode failure here is a protocol-level problem with the
// LLM's output, not a tool-execution failure.
func DecodeFormatterPayload(arguments json.RawMessage) (FormatterPayload, error) {
	var payload FormatterPayload
	if err := json.Unmarshal(arguments, &payload); err != nil {
		return FormatterPayload{}, fmt.Errorf("decode response_formatter arguments: %w", err)
	}
	return payload, nil
}
