package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunContext_Defaults(t *testing.T) {
	rc := NewRunContext(context.Background(), testKey, "run-1")

	assert.NotNil(t, rc.Logger())
	assert.NotNil(t, rc.Observer())
	assert.NotNil(t, rc.Session)
	assert.Equal(t, "s1", rc.SessionID())
	assert.Equal(t, -1, rc.Limiter.Remaining())
	assert.NoError(t, rc.WaitForResume())
}

func TestRunContext_StateOverlay(t *testing.T) {
	sess := NewSession(testKey)
	sess.SetState("topic", "go")
	sess.SetState("user:name", "Sam")

	rc, _ := newTestRunContext(func(o *RunContextOptions) { o.Session = sess })
	rc.SetState("topic", "rust")

	v, ok := rc.GetState("topic")
	require.True(t, ok)
	assert.Equal(t, "rust", v)

	assert.Equal(t, map[string]any{"topic": "rust", "user:name": "Sam"}, rc.State())

	sv, _ := sess.GetState("topic")
	assert.Equal(t, "go", sv, "staged values do not touch the session")
}

func TestRunContext_EmitEventMergesDeltas(t *testing.T) {
	rc, emit := newTestRunContext()
	rc.Branch = "root.child"
	rc.SetState("a", 1)
	rc.SetState("b", 2)

	version, err := rc.SaveArtifact("notes.txt", []byte("v1"))
	require.NoError(t, err)
	assert.Equal(t, 1, version)

	ev := NewMessageEvent("tester", "done")
	ev.Actions.StateDelta = map[string]any{"a": "explicit"}
	require.NoError(t, rc.EmitEvent(ev))

	got := <-emit
	assert.Equal(t, "run-1", got.InvocationID)
	assert.Equal(t, "root.child", got.Branch)
	assert.Equal(t, map[string]any{"a": "explicit", "b": 2}, got.Actions.StateDelta)
	assert.Equal(t, map[string]int{"notes.txt": 1}, got.Actions.ArtifactDelta)

	assert.Empty(t, rc.StateDelta)
	assert.Empty(t, rc.Artifacts)
}

func TestRunContext_EmitEventKeepsDeltasOffPartials(t *testing.T) {
	rc, emit := newTestRunContext()
	rc.SetState("a", 1)

	partial := true
	ev := NewMessageEvent("tester", "par")
	ev.Partial = &partial
	require.NoError(t, rc.EmitEvent(ev))

	got := <-emit
	assert.Empty(t, got.Actions.StateDelta)
	assert.Equal(t, map[string]any{"a": 1}, rc.StateDelta)

	require.NoError(t, rc.EmitEvent(NewMessageEvent("tester", "done")))

	got = <-emit
	assert.Equal(t, map[string]any{"a": 1}, got.Actions.StateDelta)
}

func TestRunContext_EmitEventHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rc := NewRunContext(ctx, testKey, "run-1", func(o *RunContextOptions) {
		o.Emit = make(chan Event)
	})

	err := rc.EmitEvent(NewMessageEvent("tester", "x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunContext_WaitForResume(t *testing.T) {
	resume := make(chan struct{}, 1)
	rc := NewRunContext(context.Background(), testKey, "run-1", func(o *RunContextOptions) {
		o.Resume = resume
	})

	go func() {
		time.Sleep(10 * time.Millisecond)
		resume <- struct{}{}
	}()

	assert.NoError(t, rc.WaitForResume())
}

func TestRunContext_CommitStateDelta(t *testing.T) {
	store := newFakeSessionStore()
	sess, err := store.Create(context.Background(), testKey)
	require.NoError(t, err)

	rc, _ := newTestRunContext(func(o *RunContextOptions) {
		o.SessionStore = store
		o.Session = sess
	})

	rc.SetState("k", "v")
	require.NoError(t, rc.CommitStateDelta())

	require.Len(t, store.applied, 1)
	assert.Equal(t, "v", store.applied[0]["k"])
	assert.Empty(t, rc.StateDelta)

	v, _ := rc.Session.GetState("k")
	assert.Equal(t, "v", v)

	require.NoError(t, rc.RefreshSession())
	v, _ = rc.Session.GetState("k")
	assert.Equal(t, "v", v)
}

func TestRunContext_CloneIsolatesBuffers(t *testing.T) {
	rc, _ := newTestRunContext()
	rc.SetState("a", 1)

	child := rc.WithBranch("root.a").WithAgent(AgentInfo{Name: "a", Type: "model"})
	child.SetState("b", 2)

	assert.Equal(t, "root.a", child.Branch)
	assert.Equal(t, "a", child.Agent.Name)
	assert.Equal(t, "tester", rc.Agent.Name)
	assert.NotContains(t, rc.StateDelta, "b")
	assert.Same(t, rc.Limiter, child.Limiter)
}

func TestRunContext_SearchMemoryScopes(t *testing.T) {
	mem := &fakeMemoryStore{records: []MemoryRecord{{Content: "likes tea"}}}
	rc, _ := newTestRunContext(func(o *RunContextOptions) { o.MemoryStore = mem })

	recs, err := rc.SearchMemory("tea", 5)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
	assert.Equal(t, MemoryQuery{AppName: "app", UserID: "u1", Query: "tea", Limit: 5}, mem.last)

	noMem, _ := newTestRunContext()
	recs, err = noMem.SearchMemory("tea", 5)
	require.NoError(t, err)
	assert.Empty(t, recs)
}
