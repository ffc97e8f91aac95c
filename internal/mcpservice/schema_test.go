package mcpservice

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestCompileToolSchemaValidatesArguments(t *testing.T) {
	raw := json.RawMessage(`{
		"type": "object",
		"properties": {"query": {"type": "string"}},
		"required": ["query"]
	}`)
	schema, err := CompileToolSchema(raw)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	if err := schema.Validate(json.RawMessage(`{"query":"go modules"}`)); err != nil {
		t.Fatalf("expected valid arguments to pass, got %v", err)
	}
	if err := schema.Validate(json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected missing required field to fail validation")
	}
	if err := schema.Validate(json.RawMessage(`{"query": 5}`)); err == nil {
		t.Fatal("expected wrong type to fail validation")
	}
}

func TestCompileToolSchemaInlinesRefs(t *testing.T) {
	raw := json.RawMessage(`{
		"type": "object",
		"$defs": {
			"Point": {"type": "object", "properties": {"x": {"type": "number"}, "y": {"type": "number"}}}
		},
		"properties": {
			"origin": {"$ref": "#/$defs/Point"},
			"target": {"$ref": "#/$defs/Point"}
		}
	}`)
	schema, err := CompileToolSchema(raw)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if strings.Contains(string(schema.Canonical), "$ref") {
		t.Fatalf("canonical schema still contains $ref: %s", schema.Canonical)
	}

	var doc map[string]any
	if err := json.Unmarshal(schema.Canonical, &doc); err != nil {
		t.Fatalf("decode canonical: %v", err)
	}
	props := doc["properties"].(map[string]any)
	origin := props["origin"].(map[string]any)
	if origin["type"] != "object" {
		t.Fatalf("origin not inlined: %+v", origin)
	}
}

func TestCompileToolSchemaEmptyDefaultsToObject(t *testing.T) {
	schema, err := CompileToolSchema(nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if err := schema.Validate(json.RawMessage(`{"anything":"goes"}`)); err != nil {
		t.Fatalf("expected permissive object schema, got %v", err)
	}
}

func TestCompileToolSchemaCyclicDoesNotHang(t *testing.T) {
	raw := json.RawMessage(`{
		"$defs": {"Node": {"type": "object", "properties": {"child": {"$ref": "#/$defs/Node"}}}},
		"$ref": "#/$defs/Node"
	}`)
	if _, err := CompileToolSchema(raw); err != nil {
		t.Fatalf("compile: %v", err)
	}
}
