package core

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolContext_Accessors(t *testing.T) {
	rc, _ := newTestRunContext()
	tc := NewToolContext(rc, "call-1")

	assert.Equal(t, "run-1", tc.RunID())
	assert.Equal(t, "call-1", tc.FunctionCallID())
	assert.Equal(t, "tester", tc.AgentName())
	assert.Equal(t, testKey, tc.Key())
	assert.NotNil(t, tc.Logger())
	assert.Same(t, rc, tc.RunContext())
}

func TestToolContext_StateIsLocal(t *testing.T) {
	rc, _ := newTestRunContext()
	rc.SetState("shared", "run")

	tc := NewToolContext(rc, "call-1")
	v, ok := tc.GetState("shared")
	require.True(t, ok)
	assert.Equal(t, "run", v)

	tc.SetState("shared", "tool")
	v, _ = tc.GetState("shared")
	assert.Equal(t, "tool", v)

	rv, _ := rc.GetState("shared")
	assert.Equal(t, "run", rv)
	assert.Equal(t, "tool", tc.Actions().StateDelta["shared"])
}

func TestToolContext_ConcurrentSetState(t *testing.T) {
	rc, _ := newTestRunContext()

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tc := NewToolContext(rc, "call")
			tc.SetState("k", i)
		}()
	}
	wg.Wait()

	assert.Empty(t, rc.StateDelta)
}

func TestToolContext_ApplyActions(t *testing.T) {
	rc, _ := newTestRunContext()
	tc := NewToolContext(rc, "call-1")

	tc.SetState("k", "v")
	tc.SkipSummarization()
	tc.TransferToAgent("billing")
	tc.Escalate()

	_, err := tc.SaveArtifact("out.txt", []byte("x"))
	require.NoError(t, err)

	ev := NewFunctionResponseEvent("tester", "call-1", "tool", "ok", nil)
	tc.ApplyActions(&ev)

	assert.Equal(t, "v", ev.Actions.StateDelta["k"])
	assert.Equal(t, 1, ev.Actions.ArtifactDelta["out.txt"])
	require.NotNil(t, ev.Actions.TransferToAgent)
	assert.Equal(t, "billing", *ev.Actions.TransferToAgent)
	assert.True(t, *ev.Actions.Escalate)
	assert.True(t, ev.IsFinalResponse())
}

func TestToolContext_Artifacts(t *testing.T) {
	rc, _ := newTestRunContext()
	tc := NewToolContext(rc, "call-1")

	v1, err := tc.SaveArtifact("a", []byte("one"))
	require.NoError(t, err)
	v2, err := tc.SaveArtifact("a", []byte("two"))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, []int{v1, v2})

	latest, err := tc.LoadArtifact("a", 0)
	require.NoError(t, err)
	assert.Equal(t, "two", string(latest))

	first, err := tc.LoadArtifact("a", 1)
	require.NoError(t, err)
	assert.Equal(t, "one", string(first))

	names, err := tc.ListArtifacts()
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, names)

	_, err = tc.LoadArtifact("missing", 0)
	assert.ErrorIs(t, err, ErrArtifactNotFound)
}

func TestToolContext_SearchMemoryRequiresStore(t *testing.T) {
	rc, _ := newTestRunContext()
	_, err := NewToolContext(rc, "c").SearchMemory("x", 1)
	assert.Error(t, err)
}
