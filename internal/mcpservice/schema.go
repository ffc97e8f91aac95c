package mcpservice

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// CompiledSchema pairs a tool's canonicalized (ref-inlined) input schema
// document with a compiled validator built from the original.
type CompiledSchema struct {
	Canonical json.RawMessage
	validator *jsonschema.Schema
}

// Validate checks arguments (raw tool-call JSON) against the schema. A
// non-nil error here maps to ArgumentValidationError at the call site.
func (s *CompiledSchema) Validate(arguments json.RawMessage) error {
	if s == nil || s.validator == nil {
		return nil
	}
	var v any
	if len(arguments) == 0 {
		v = map[string]any{}
	} else if err := json.Unmarshal(arguments, &v); err != nil {
		return fmt.Errorf("arguments not valid json: %w", err)
	}
	if err := s.validator.Validate(v); err != nil {
		return err
	}
	return nil
}

var schemaResourceSeq int64

// CompileToolSchema compiles a tool's raw inputSchema (from MCP
// tools/list) into both a validator and a $ref/$defs-inlined canonical
// form suitable for handing to LLM providers that don't resolve internal
// references.
func CompileToolSchema(raw json.RawMessage) (*CompiledSchema, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{"type":"object"}`)
	}

	url := fmt.Sprintf("mem://tool-schema-%d.json", atomic.AddInt64(&schemaResourceSeq, 1))
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	validator, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	inlined := inlineRefs(doc, doc, map[any]bool{})
	canonical, err := json.Marshal(inlined)
	if err != nil {
		return nil, fmt.Errorf("marshal canonical schema: %w", err)
	}

	return &CompiledSchema{Canonical: canonical, validator: validator}, nil
}

// inlineRefs walks node, replacing every {"$ref": "#/..."} with a deep
// copy of the subdocument it points to within root. visited guards
// against cyclic schemas by tracking the $ref strings already being expanded
// on the current path; a cycle leaves the $ref node untouched rather than
// recursing forever.
func inlineRefs(node, root any, visited map[any]bool) any {
	switch v := node.(type) {
	case map[string]any:
		if ref, ok := v["$ref"].(string); ok && len(ref) > 0 && ref[0] == '#' {
			if visited[ref] {
				return v
			}
			target := resolvePointer(root, ref)
			if target == nil {
				return v
			}
			visited[ref] = true
			resolved := inlineRefs(deepCopy(target), root, visited)
			delete(visited, ref)
			return resolved
		}
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = inlineRefs(val, root, visited)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = inlineRefs(val, root, visited)
		}
		return out
	default:
		return v
	}
}

// resolvePointer resolves a JSON-Schema fragment pointer ("#/$defs/Foo")
// against root. Returns nil if any segment is missing.
func resolvePointer(root any, ref string) any {
	if len(ref) < 2 || ref[0] != '#' || ref[1] != '/' {
		return nil
	}
	segments := splitPointer(ref[2:])
	cur := root
	for _, seg := range segments {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		next, ok := m[seg]
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

func splitPointer(path string) []string {
	if path == "" {
		return nil
	}
	var segs []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			segs = append(segs, unescapePointerSegment(path[start:i]))
			start = i + 1
		}
	}
	segs = append(segs, unescapePointerSegment(path[start:]))
	return segs
}

func unescapePointerSegment(seg string) string {
	out := make([]byte, 0, len(seg))
	for i := 0; i < len(seg); i++ {
		if seg[i] == '~' && i+1 < len(seg) {
			switch seg[i+1] {
			case '1':
				out = append(out, '/')
				i++
				continue
			case '0':
				out = append(out, '~')
				i++
				continue
			}
		}
		out = append(out, seg[i])
	}
	return string(out)
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}
