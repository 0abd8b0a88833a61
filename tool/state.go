package tool

import (
	"fmt"
	"slices"

	"github.com/hupe1980/recallmesh/core"
)

// StateField maps a tool argument to a session state key.
type StateField struct {
	Arg         string
	Key         string
	Description string
	// Missing is returned by the read tool when the key is not set.
	Missing string
}

type stateTool struct {
	name        string
	description string
	fields      []StateField
}

// NewStateTool returns a tool that writes each argument into its mapped state
// key. Keys may use scope prefixes such as "user:" so the value outlives the
// session. All arguments are required strings.
func NewStateTool(name, description string, fields ...StateField) Tool {
	return &stateTool{name: name, description: description, fields: slices.Clone(fields)}
}

func (t *stateTool) Name() string        { return t.name }
func (t *stateTool) Description() string { return t.description }

func (t *stateTool) Parameters() map[string]any {
	props := map[string]any{}
	required := make([]string, 0, len(t.fields))

	for _, f := range t.fields {
		props[f.Arg] = map[string]any{"type": "string", "description": f.Description}
		required = append(required, f.Arg)
	}

	return map[string]any{"type": "object", "properties": props, "required": required}
}

func (t *stateTool) Call(tc *core.ToolContext, args map[string]any) (any, error) {
	for _, f := range t.fields {
		v, ok := stringArg(args, f.Arg)
		if !ok {
			return nil, NewToolError(t.name, fmt.Sprintf("field '%s' must be a non-empty string", f.Arg), CodeValidation)
		}

		tc.SetState(f.Key, v)
	}

	return map[string]any{"status": "success"}, nil
}

type stateReadTool struct {
	name        string
	description string
	fields      []StateField
}

// NewStateReadTool returns a tool without arguments that reports the values
// of the mapped state keys, using StateField.Missing for unset keys.
func NewStateReadTool(name, description string, fields ...StateField) Tool {
	return &stateReadTool{name: name, description: description, fields: slices.Clone(fields)}
}

func (t *stateReadTool) Name() string        { return t.name }
func (t *stateReadTool) Description() string { return t.description }

func (t *stateReadTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *stateReadTool) Call(tc *core.ToolContext, _ map[string]any) (any, error) {
	out := map[string]any{"status": "success"}

	for _, f := range t.fields {
		if v, ok := tc.GetState(f.Key); ok {
			out[f.Arg] = v
			continue
		}

		out[f.Arg] = f.Missing
	}

	return out, nil
}
