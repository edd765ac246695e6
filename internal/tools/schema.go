package tools

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/jkaninda/agent42/internal/llm"
)

// toolDef describes one tool to the model.
type toolDef struct {
	description string
	parameters  map[string]any
}

func definitionOf(k Kind) toolDef {
	switch k {
	case KindBash:
		return toolDef{
			description: "Execute a bash command. The working directory is /workspace. Timeout: 30s.",
			parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"command": map[string]any{"type": "string", "minLength": 1, "description": "The command to run"},
				},
				"required":             []string{"command"},
				"additionalProperties": false,
			},
		}
	case KindReadFile:
		return toolDef{
			description: "Read a file from the workspace. Returns content with line numbers.",
			parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":       map[string]any{"type": "string", "minLength": 1, "description": "File path relative to /workspace"},
					"start_line": map[string]any{"type": "integer", "description": "First line to read (1-indexed)"},
					"end_line":   map[string]any{"type": "integer", "description": "Last line to read (inclusive)"},
				},
				"required":             []string{"path"},
				"additionalProperties": false,
			},
		}
	case KindWriteFile:
		return toolDef{
			description: "Create or overwrite a file in the workspace.",
			parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":    map[string]any{"type": "string", "minLength": 1, "description": "File path relative to /workspace"},
					"content": map[string]any{"type": "string", "description": "Full file content"},
				},
				"required":             []string{"path", "content"},
				"additionalProperties": false,
			},
		}
	default:
		panic(fmt.Sprintf("unhandled tool kind %d", int(k)))
	}
}

// validator checks raw JSON arguments against a compiled schema.
type validator struct {
	kind   Kind
	schema *gojsonschema.Schema
	raw    string
}

func newValidator(k Kind) (*validator, error) {
	params := definitionOf(k).parameters
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(params))
	if err != nil {
		return nil, fmt.Errorf("compiling schema for %s: %w", k, err)
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encoding schema for %s: %w", k, err)
	}
	return &validator{kind: k, schema: schema, raw: string(raw)}, nil
}

func (v *validator) validate(args string) error {
	if args == "" {
		args = "{}"
	}
	res, err := v.schema.Validate(gojsonschema.NewStringLoader(args))
	if err != nil {
		return &ValidationError{Tool: v.kind.String(), Problems: []string{"arguments are not valid JSON"}, Schema: v.raw}
	}
	if res.Valid() {
		return nil
	}
	problems := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		problems = append(problems, e.String())
	}
	return &ValidationError{Tool: v.kind.String(), Problems: problems, Schema: v.raw}
}

// Schemas returns the schemas of every tool for the provider request.
func Schemas() []llm.ToolSchema {
	out := make([]llm.ToolSchema, 0, len(Kinds))
	for _, k := range Kinds {
		s := definitionOf(k)
		out = append(out, llm.ToolSchema{Name: k.String(), Description: s.description, Parameters: s.parameters})
	}
	return out
}
