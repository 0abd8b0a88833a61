package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/recallmesh/core"
	"github.com/hupe1980/recallmesh/internal/testutil"
	"github.com/hupe1980/recallmesh/memory"
)

var testKey = core.SessionKey{AppName: "app", UserID: "u1", ID: "s1"}

func newToolContext(t *testing.T, optFns ...func(o *core.RunContextOptions)) *core.ToolContext {
	t.Helper()

	runCtx := core.NewRunContext(context.Background(), testKey, "run-1", append([]func(o *core.RunContextOptions){
		func(o *core.RunContextOptions) { o.Agent = core.AgentInfo{Name: "tester", Type: "model"} },
	}, optFns...)...)

	return core.NewToolContext(runCtx, "fc1")
}

func sumParams() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
			"b": map[string]any{"type": "number"},
		},
		"required": []string{"a", "b"},
	}
}

func TestFunctionTool_Success(t *testing.T) {
	sumTool := NewFunctionTool("sum", "Add numbers", sumParams(), func(_ *core.ToolContext, args map[string]any) (any, error) {
		return args["a"].(float64) + args["b"].(float64), nil
	})

	result, err := sumTool.Call(newToolContext(t), map[string]any{"a": 2.0, "b": 3.0})
	require.NoError(t, err)
	assert.Equal(t, 5.0, result)
}

func TestFunctionTool_ValidationError(t *testing.T) {
	called := false
	sumTool := NewFunctionTool("sum", "Add numbers", sumParams(), func(_ *core.ToolContext, _ map[string]any) (any, error) {
		called = true
		return nil, nil
	})

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing required", map[string]any{"a": 1.0}},
		{"wrong type", map[string]any{"a": 1.0, "b": "two"}},
		{"nil args", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sumTool.Call(newToolContext(t), tt.args)

			var toolErr *ToolError
			require.ErrorAs(t, err, &toolErr)
			assert.Equal(t, CodeValidation, toolErr.Code)
			assert.Equal(t, "sum", toolErr.Tool)
		})
	}

	assert.False(t, called)
}

func TestFunctionTool_ExecutionError(t *testing.T) {
	failing := NewFunctionTool("fail", "Always fails", nil, func(_ *core.ToolContext, _ map[string]any) (any, error) {
		return nil, errors.New("boom")
	})

	_, err := failing.Call(newToolContext(t), map[string]any{})

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeExecution, toolErr.Code)
	assert.Contains(t, toolErr.Error(), "boom")
}

func TestFunctionTool_ForwardsToolError(t *testing.T) {
	custom := NewToolError("custom", "not allowed", "FORBIDDEN")
	forwarding := NewFunctionTool("custom", "Custom error", nil, func(_ *core.ToolContext, _ map[string]any) (any, error) {
		return nil, custom
	})

	_, err := forwarding.Call(newToolContext(t), map[string]any{})
	assert.Same(t, custom, err)
}

func TestFunctionTool_InvalidSchema(t *testing.T) {
	broken := NewFunctionTool("broken", "Bad schema", map[string]any{"type": 42}, func(_ *core.ToolContext, _ map[string]any) (any, error) {
		return "unreachable", nil
	})

	_, err := broken.Call(newToolContext(t), map[string]any{})

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeValidation, toolErr.Code)
}

func TestTypedTool(t *testing.T) {
	type greetArgs struct {
		Name  string `json:"name" description:"Who to greet"`
		Times int    `json:"times,omitempty"`
	}

	greet := NewTypedTool("greet", "Greets someone", func(_ *core.ToolContext, args greetArgs) (any, error) {
		return map[string]any{"greeting": "hello " + args.Name, "times": args.Times}, nil
	})

	params := greet.Parameters()
	assert.Equal(t, "object", params["type"])

	result, err := greet.Call(newToolContext(t), map[string]any{"name": "Sam", "times": 2})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"greeting": "hello Sam", "times": 2}, result)

	_, err = greet.Call(newToolContext(t), map[string]any{})
	assert.Error(t, err)
}

func TestDefinitions(t *testing.T) {
	defs := Definitions([]Tool{NewTransferToAgentTool(), NewLoadMemoryTool(0)})
	require.Len(t, defs, 2)
	assert.Equal(t, "function", defs[0].Type)
	assert.Equal(t, TransferToAgentToolName, defs[0].Function.Name)
	assert.Equal(t, LoadMemoryToolName, defs[1].Function.Name)
	assert.NotEmpty(t, defs[1].Function.Description)
}

func TestTransferToAgentTool(t *testing.T) {
	tc := newToolContext(t)
	transfer := NewTransferToAgentTool()

	result, err := transfer.Call(tc, map[string]any{"agent": "billing"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"transferred": true, "agent": "billing"}, result)
	require.NotNil(t, tc.Actions().TransferToAgent)
	assert.Equal(t, "billing", *tc.Actions().TransferToAgent)

	_, err = transfer.Call(newToolContext(t), map[string]any{"agent": ""})

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeValidation, toolErr.Code)
}

func TestStateTools(t *testing.T) {
	fields := []StateField{
		{Arg: "user_name", Key: "user:name", Description: "The user's name", Missing: "Username not found"},
		{Arg: "country", Key: "user:country", Description: "The user's country", Missing: "Country not found"},
	}

	save := NewStateTool("save_userinfo", "Saves the user's name and country", fields...)
	read := NewStateReadTool("retrieve_userinfo", "Reads the user's name and country", fields...)

	params := save.Parameters()
	assert.ElementsMatch(t, []string{"user_name", "country"}, params["required"])

	t.Run("read before save", func(t *testing.T) {
		result, err := read.Call(newToolContext(t), nil)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"status": "success", "user_name": "Username not found", "country": "Country not found"}, result)
	})

	t.Run("save stages scoped keys", func(t *testing.T) {
		tc := newToolContext(t)

		_, err := save.Call(tc, map[string]any{"user_name": "Sam", "country": "Poland"})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"user:name": "Sam", "user:country": "Poland"}, tc.Actions().StateDelta)

		result, err := read.Call(tc, nil)
		require.NoError(t, err)
		assert.Equal(t, "Sam", result.(map[string]any)["user_name"])
	})

	t.Run("save rejects missing argument", func(t *testing.T) {
		_, err := save.Call(newToolContext(t), map[string]any{"user_name": "Sam"})
		assert.Error(t, err)
	})
}

func TestLoadMemoryTool(t *testing.T) {
	store := memory.NewInMemoryStore()

	past := testutil.NewSessionBuilder("past").
		App(testKey.AppName).
		User(testKey.UserID).
		Event(testutil.NewEventBuilder().Author("user").UserText("My favorite color is teal").Build()).
		Build()

	n, err := store.AddSession(context.Background(), past)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	tc := newToolContext(t, func(o *core.RunContextOptions) { o.MemoryStore = store })

	result, err := NewLoadMemoryTool(5).Call(tc, map[string]any{"query": "favorite color"})
	require.NoError(t, err)

	hits := result.(map[string]any)["memories"].([]MemoryHit)
	require.Len(t, hits, 1)
	assert.Equal(t, "My favorite color is teal", hits[0].Content)
	assert.Equal(t, "past", hits[0].SessionID)
	assert.Equal(t, "user", hits[0].Author)
}

func TestLoadMemoryTool_WithoutStore(t *testing.T) {
	_, err := NewLoadMemoryTool(0).Call(newToolContext(t), map[string]any{"query": "anything"})

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeExecution, toolErr.Code)
}
