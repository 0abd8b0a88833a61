package tool

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/hupe1980/recallmesh/core"
	"github.com/hupe1980/recallmesh/internal/util"
)

// FunctionTool exposes a plain Go function as a Tool.
//
// Arguments are validated against the JSON schema before the function runs.
// Failures are normalized to *ToolError: schema mismatches carry
// VALIDATION_ERROR, other function errors EXECUTION_ERROR, and a *ToolError
// returned by the function is forwarded unchanged.
//
// A FunctionTool has no mutable state after construction and is safe for
// concurrent use.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	schema      *gojsonschema.Schema
	schemaErr   error
	fn          func(toolCtx *core.ToolContext, args map[string]any) (any, error)
}

// NewFunctionTool constructs a FunctionTool from an explicit schema.
//
//	sumTool := NewFunctionTool(
//	  "calculate_sum",
//	  "Calculate the sum of two numbers",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "a": map[string]any{"type": "number"},
//	      "b": map[string]any{"type": "number"},
//	    },
//	    "required": []string{"a", "b"},
//	  },
//	  func(tc *core.ToolContext, args map[string]any) (any, error) {
//	    return args["a"].(float64) + args["b"].(float64), nil
//	  },
//	)
func NewFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(toolCtx *core.ToolContext, args map[string]any) (any, error),
) *FunctionTool {
	if parameters == nil {
		parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(parameters))

	return &FunctionTool{
		name:        name,
		description: description,
		parameters:  parameters,
		schema:      schema,
		schemaErr:   err,
		fn:          fn,
	}
}

// NewFunctionToolFromStruct derives the parameter schema from a struct.
func NewFunctionToolFromStruct(
	name, description string,
	structType any,
	fn func(toolCtx *core.ToolContext, args map[string]any) (any, error),
) *FunctionTool {
	return NewFunctionTool(name, description, util.CreateSchema(structType), fn)
}

// NewTypedTool derives the schema from T and decodes validated arguments
// into a T before calling fn.
func NewTypedTool[T any](name, description string, fn func(toolCtx *core.ToolContext, args T) (any, error)) *FunctionTool {
	var zero T

	return NewFunctionTool(name, description, util.CreateSchema(zero), func(tc *core.ToolContext, raw map[string]any) (any, error) {
		b, err := json.Marshal(raw)
		if err != nil {
			return nil, err
		}

		var args T
		if err := json.Unmarshal(b, &args); err != nil {
			return nil, NewToolError(name, fmt.Sprintf("decode arguments: %v", err), CodeValidation)
		}

		return fn(tc, args)
	})
}

func (t *FunctionTool) Name() string               { return t.name }
func (t *FunctionTool) Description() string        { return t.description }
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Call validates args then invokes the wrapped function.
func (t *FunctionTool) Call(toolCtx *core.ToolContext, args map[string]any) (any, error) {
	start := time.Now()

	toolCtx.LogDebug("tool.call.start", "tool", t.name, "fc_id", toolCtx.FunctionCallID())

	if err := t.validate(args); err != nil {
		toolCtx.LogWarn("tool.call.validation_failed", "tool", t.name, "error", err.Error())

		return nil, &ToolError{
			Tool:    t.name,
			Message: fmt.Sprintf("parameter validation failed: %v", err),
			Code:    CodeValidation,
		}
	}

	result, err := t.fn(toolCtx, args)
	if err != nil {
		toolCtx.LogError("tool.call.error", "tool", t.name, "error", err.Error())

		var toolErr *ToolError
		if errors.As(err, &toolErr) {
			return nil, toolErr
		}

		return nil, &ToolError{Tool: t.name, Message: err.Error(), Code: CodeExecution}
	}

	toolCtx.LogInfo("tool.call.success", "tool", t.name, "duration_ms", time.Since(start).Milliseconds())

	return result, nil
}

func (t *FunctionTool) validate(args map[string]any) error {
	if t.schemaErr != nil {
		return fmt.Errorf("invalid schema: %w", t.schemaErr)
	}

	if args == nil {
		args = map[string]any{}
	}

	result, err := t.schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}

	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}

	return errors.New(strings.Join(msgs, "; "))
}
