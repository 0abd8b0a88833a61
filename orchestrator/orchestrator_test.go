package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/recallmesh/agent"
	"github.com/hupe1980/recallmesh/core"
	"github.com/hupe1980/recallmesh/memory"
	"github.com/hupe1980/recallmesh/model"
	"github.com/hupe1980/recallmesh/plugin"
	"github.com/hupe1980/recallmesh/runner"
	"github.com/hupe1980/recallmesh/session"
)

type fixture struct {
	store *session.InMemoryStore
	llm   *model.ScriptedModel
	out   *bytes.Buffer
	orch  *Orchestrator
}

func newFixture(t *testing.T, root func(llm model.Model) core.Agent, steps []model.Step, optFns ...func(o *Options)) *fixture {
	t.Helper()

	f := &fixture{
		store: session.NewInMemoryStore(),
		llm:   model.NewScriptedModel("gpt", steps...),
		out:   &bytes.Buffer{},
	}

	r := runner.New(root(f.llm), func(o *runner.Options) {
		o.SessionStore = f.store
	})

	fns := append([]func(o *Options){func(o *Options) { o.Output = f.out }}, optFns...)
	f.orch = New(r, f.store, fns...)

	return f
}

func assistant(llm model.Model) core.Agent { return agent.NewModelAgent("root", llm) }

func replies(texts ...string) []model.Step {
	steps := make([]model.Step, 0, len(texts))
	for _, text := range texts {
		steps = append(steps, model.Reply(model.TextResponse(text)))
	}

	return steps
}

func TestRunSession_NoQueries(t *testing.T) {
	f := newFixture(t, assistant, nil)

	res, err := f.orch.RunSession(context.Background(), "s1")
	require.ErrorIs(t, err, ErrNoQueries)
	assert.Empty(t, res.Turns)
	assert.Equal(t, "No queries!\n", f.out.String())

	keys, err := f.store.List(context.Background(), runner.DefaultAppName, "default")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestRunSession_ResumesExistingSession(t *testing.T) {
	f := newFixture(t, assistant, replies("Nice to meet you, Sam", "Your name is Sam"))
	ctx := context.Background()

	first, err := f.orch.RunSession(ctx, "s1", "My name is Sam")
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, core.SessionKey{AppName: runner.DefaultAppName, UserID: "default", ID: "s1"}, first.Session)

	second, err := f.orch.RunSession(ctx, "s1", "What is my name?")
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Session, second.Session)
	require.Len(t, second.Turns, 1)
	assert.Equal(t, "Your name is Sam", second.Turns[0].Final)

	reqs := f.llm.Requests()
	require.Len(t, reqs, 2)

	var history []string
	for _, c := range reqs[1].Contents {
		if text, ok := c.Text(); ok {
			history = append(history, text)
		}
	}

	assert.Equal(t, []string{"My name is Sam", "Nice to meet you, Sam", "What is my name?"}, history)

	sess, err := f.store.Get(ctx, first.Session)
	require.NoError(t, err)
	assert.Len(t, sess.GetEvents(), 4)

	assert.Contains(t, f.out.String(), "User > What is my name?\nroot > Your name is Sam\n")
}

func TestRunSession_OneFinalPerQuery(t *testing.T) {
	f := newFixture(t, assistant, replies("one", "two", "three"))

	res, err := f.orch.RunSession(context.Background(), "s1", "q1", "q2", "q3")
	require.NoError(t, err)
	require.Len(t, res.Turns, 3)

	for i, want := range []string{"one", "two", "three"} {
		turn := res.Turns[i]
		assert.Equal(t, []string{"q1", "q2", "q3"}[i], turn.Query)
		assert.Equal(t, want, turn.Final)
		assert.Equal(t, []string{want}, turn.Responses)
		assert.NotEmpty(t, turn.RunID)
		assert.Equal(t, 1, turn.Events)
	}

	assert.Equal(t,
		"\n ### Session: s1\n\nUser > q1\nroot > one\n\nUser > q2\nroot > two\n\nUser > q3\nroot > three\n",
		f.out.String())
}

func TestRunSession_NeverPrintsNone(t *testing.T) {
	f := newFixture(t, assistant, replies("None", "fine"))

	res, err := f.orch.RunSession(context.Background(), "s1", "q1", "q2")
	require.NoError(t, err)
	require.Len(t, res.Turns, 2)

	assert.Empty(t, res.Turns[0].Final)
	assert.Empty(t, res.Turns[0].Responses)
	assert.Equal(t, 1, res.Turns[0].Events)
	assert.Equal(t, "fine", res.Turns[1].Final)
	assert.NotContains(t, f.out.String(), "None")
}

func TestRunSession_ErrorsCarryQueryIndex(t *testing.T) {
	boom := errors.New("boom")
	f := newFixture(t, assistant, []model.Step{
		model.Reply(model.TextResponse("ok")),
		model.Fail(boom),
	})

	res, err := f.orch.RunSession(context.Background(), "s1", "q1", "q2", "q3")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "query 1:")
	require.Len(t, res.Turns, 1)
	assert.Len(t, f.llm.Requests(), 2)
}

func TestRunSession_RunnerRejectsRequest(t *testing.T) {
	f := newFixture(t, assistant, nil, func(o *Options) { o.AppName = "other" })

	_, err := f.orch.RunSession(context.Background(), "s1", "q1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query 0:")
	assert.Empty(t, f.llm.Requests())
}

func TestRunSession_RecallsAcrossSessions(t *testing.T) {
	mem := memory.NewInMemoryStore()
	store := session.NewInMemoryStore()
	llm := model.NewScriptedModel("gpt", replies("Nice to meet you, Sam", "You are Sam")...)

	root := agent.NewModelAgent("root", llm, func(o *agent.ModelAgentOptions) {
		o.PreloadMemory = 5
	})

	r := runner.New(root, func(o *runner.Options) {
		o.SessionStore = store
		o.MemoryStore = mem
	})

	orch := New(r, store, func(o *Options) {
		o.Output = &bytes.Buffer{}
		o.Observers = []plugin.Plugin{plugin.NewAutoMemory(mem)}
	})

	ctx := context.Background()

	_, err := orch.RunSession(ctx, "conversation-a", "My name is Sam")
	require.NoError(t, err)
	assert.Equal(t, 2, mem.Len(runner.DefaultAppName, "default"))

	res, err := orch.RunSession(ctx, "conversation-b", "What is my name?")
	require.NoError(t, err)
	assert.True(t, res.Created)

	reqs := llm.Requests()
	require.Len(t, reqs, 2)
	assert.Contains(t, reqs[1].Instructions, "<PAST_CONVERSATIONS>")
	assert.Contains(t, reqs[1].Instructions, "user: My name is Sam")

	// Re-ingesting a finished session adds nothing.
	sess, err := store.Get(ctx, orch.Key("conversation-a"))
	require.NoError(t, err)

	added, err := mem.AddSession(ctx, sess)
	require.NoError(t, err)
	assert.Zero(t, added)
}

func TestResolve_ConcurrentCallersCreateOnce(t *testing.T) {
	f := newFixture(t, assistant, nil)

	var (
		wg      sync.WaitGroup
		created atomic.Int32
	)

	for range 32 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			sess, ok, err := f.orch.Resolve(context.Background(), "shared")
			if !assert.NoError(t, err) {
				return
			}

			assert.Equal(t, "shared", sess.ID)

			if ok {
				created.Add(1)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
}

func TestResolveLegacy(t *testing.T) {
	f := newFixture(t, assistant, nil)
	ctx := context.Background()

	sess, created, err := f.orch.ResolveLegacy(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "s1", sess.ID)

	sess, created, err = f.orch.ResolveLegacy(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "s1", sess.ID)
}

func TestPrintable(t *testing.T) {
	partial := true
	text := core.NewTextContent("assistant", "hi")
	empty := core.NewTextContent("assistant", "")

	tests := []struct {
		name string
		ev   core.Event
		want string
		ok   bool
	}{
		{name: "final text", ev: core.Event{Author: "a", Content: &text}, want: "hi", ok: true},
		{name: "partial", ev: core.Event{Author: "a", Content: &text, Partial: &partial}},
		{name: "no content", ev: core.Event{Author: "a"}},
		{name: "empty text", ev: core.Event{Author: "a", Content: &empty}},
		{name: "function call", ev: core.NewFunctionCallEvent("a", "c1", "lookup", "{}")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := printable(tt.ev)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
