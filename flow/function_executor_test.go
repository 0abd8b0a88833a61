package flow

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/recallmesh/core"
	"github.com/hupe1980/recallmesh/tool"
)

type mockTool struct {
	name     string
	delay    time.Duration
	result   any
	err      error
	panicVal any
	state    map[string]any
	transfer string
}

func (m *mockTool) Name() string               { return m.name }
func (m *mockTool) Description() string        { return "mock " + m.name }
func (m *mockTool) Parameters() map[string]any { return map[string]any{"type": "object"} }

func (m *mockTool) Call(tc *core.ToolContext, _ map[string]any) (any, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-tc.Context().Done():
			return nil, tc.Context().Err()
		}
	}

	if m.panicVal != nil {
		panic(m.panicVal)
	}

	for k, v := range m.state {
		tc.SetState(k, v)
	}

	if m.transfer != "" {
		tc.TransferToAgent(m.transfer)
	}

	return m.result, m.err
}

func requestWith(tools ...tool.Tool) *Request {
	reg := map[string]tool.Tool{}
	for _, t := range tools {
		reg[t.Name()] = t
	}

	return NewRequest(reg)
}

func TestFunctionExecutor_MergesInCallOrder(t *testing.T) {
	req := requestWith(
		&mockTool{name: "slow", delay: 30 * time.Millisecond, result: "r1", state: map[string]any{"a": 1, "shared": "slow"}},
		&mockTool{name: "fast", result: "r2", state: map[string]any{"shared": "fast"}, transfer: "next"},
	)

	calls := []core.FunctionCall{
		{ID: "fc1", Name: "slow", Arguments: "{}"},
		{ID: "fc2", Name: "fast", Arguments: ""},
	}

	ev := NewParallelFunctionExecutor(FunctionExecutorConfig{}).Execute(newRunContext("hi"), "assistant", req, calls)

	responses := ev.GetFunctionResponses()
	require.Len(t, responses, 2)
	assert.Equal(t, "fc1", responses[0].ID)
	assert.Equal(t, "r1", responses[0].Response)
	assert.Equal(t, "fc2", responses[1].ID)
	assert.Equal(t, "r2", responses[1].Response)

	assert.Equal(t, "assistant", ev.Author)
	assert.Equal(t, "run-1", ev.InvocationID)
	assert.Equal(t, map[string]any{"a": 1, "shared": "fast"}, ev.Actions.StateDelta)
	require.NotNil(t, ev.Actions.TransferToAgent)
	assert.Equal(t, "next", *ev.Actions.TransferToAgent)
}

func TestFunctionExecutor_Failures(t *testing.T) {
	req := requestWith(
		&mockTool{name: "panics", panicVal: "kaboom"},
		&mockTool{name: "fails", err: errors.New("backend down")},
	)

	calls := []core.FunctionCall{
		{ID: "1", Name: "panics", Arguments: "{}"},
		{ID: "2", Name: "fails", Arguments: "{}"},
		{ID: "3", Name: "missing", Arguments: "{}"},
		{ID: "4", Name: "fails", Arguments: "{not json"},
	}

	ev := NewParallelFunctionExecutor(FunctionExecutorConfig{MaxParallel: 2}).Execute(newRunContext("hi"), "assistant", req, calls)

	responses := ev.GetFunctionResponses()
	require.Len(t, responses, 4)
	assert.Contains(t, responses[0].Error, "kaboom")
	assert.Contains(t, responses[1].Error, "backend down")
	assert.Contains(t, responses[2].Error, "tool not found")
	assert.Contains(t, responses[3].Error, "invalid arguments")

	for _, r := range responses {
		assert.Nil(t, r.Response)
	}
}

func TestFunctionExecutor_Timeout(t *testing.T) {
	req := requestWith(&mockTool{name: "sleepy", delay: time.Second, result: "late"})

	start := time.Now()
	ev := NewParallelFunctionExecutor(FunctionExecutorConfig{Timeout: 20 * time.Millisecond}).
		Execute(newRunContext("hi"), "assistant", req, []core.FunctionCall{{ID: "1", Name: "sleepy"}})

	assert.Less(t, time.Since(start), 500*time.Millisecond)

	responses := ev.GetFunctionResponses()
	require.Len(t, responses, 1)
	assert.Contains(t, responses[0].Error, "deadline exceeded")
}

type vetoObserver struct {
	core.NopObserver
	after []string
}

func (v *vetoObserver) BeforeTool(_ *core.ToolContext, fc core.FunctionCall) error {
	if fc.Name == "blocked" {
		return errors.New("not allowed")
	}

	return nil
}

func (v *vetoObserver) AfterTool(_ *core.ToolContext, fc core.FunctionCall, _ any, _ error) {
	v.after = append(v.after, fc.Name)
}

func TestFunctionExecutor_ObserverVeto(t *testing.T) {
	blocked := &mockTool{name: "blocked", result: "should not run"}
	req := requestWith(blocked)
	obs := &vetoObserver{}

	runCtx := newRunContext("hi", func(o *core.RunContextOptions) { o.Observer = obs })

	ev := NewParallelFunctionExecutor(FunctionExecutorConfig{}).Execute(runCtx, "assistant", req, []core.FunctionCall{{ID: "1", Name: "blocked"}})

	responses := ev.GetFunctionResponses()
	require.Len(t, responses, 1)
	assert.Contains(t, responses[0].Error, "not allowed")
	assert.Empty(t, obs.after)
}
