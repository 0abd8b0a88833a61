package flow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/recallmesh/core"
	"github.com/hupe1980/recallmesh/internal/testutil"
	"github.com/hupe1980/recallmesh/memory"
	"github.com/hupe1980/recallmesh/tool"
)

func TestInstructionsProcessor_RendersState(t *testing.T) {
	sess := testutil.NewSessionBuilder("s1").State("user:name", "Sam").Build()
	runCtx := newRunContext("hi", func(o *core.RunContextOptions) { o.Session = sess })
	runCtx.SetState("mood", "cheerful")

	agent := &testAgent{name: "assistant", instruction: "Greet {user:name} in a {mood} tone.{extra?}"}
	req := NewRequest(nil)

	require.NoError(t, NewInstructionsProcessor().ProcessRequest(runCtx, req, agent))
	assert.Equal(t, "Greet Sam in a cheerful tone.", req.Instructions)

	agent.instruction = "Use {missing}"
	assert.Error(t, NewInstructionsProcessor().ProcessRequest(runCtx, NewRequest(nil), agent))
}

func TestContentsProcessor_History(t *testing.T) {
	eb := func() *testutil.EventBuilder { return testutil.NewEventBuilder().Invocation("run-0") }

	sess := testutil.NewSessionBuilder("s1").Events(
		eb().Author("user").UserText("My name is Sam").Build(),
		eb().AssistantText("Hi Sam").Build(),
		eb().Partial(true).AssistantText("ignored partial").Build(),
		testutil.NewEventBuilder().Invocation("run-1").Author("user").UserText("What is my name?").Build(),
	).Build()

	runCtx := newRunContext("What is my name?", func(o *core.RunContextOptions) { o.Session = sess })
	req := NewRequest(nil)

	require.NoError(t, NewContentsProcessor().ProcessRequest(runCtx, req, &testAgent{}))
	require.Len(t, req.Contents, 3)

	first, _ := req.Contents[0].Text()
	assert.Equal(t, "My name is Sam", first)

	last, _ := req.Contents[2].Text()
	assert.Equal(t, "What is my name?", last)
}

func TestContentsProcessor_MaxHistory(t *testing.T) {
	b := testutil.NewSessionBuilder("s1")
	for i := 0; i < 6; i++ {
		b.Event(testutil.NewEventBuilder().Invocation("old").AssistantText("msg").Build())
	}

	runCtx := newRunContext("now", func(o *core.RunContextOptions) { o.Session = b.Build() })
	req := NewRequest(nil)

	require.NoError(t, NewContentsProcessor().ProcessRequest(runCtx, req, &testAgent{maxHistory: 2}))
	assert.Len(t, req.Contents, 3)
}

func TestContentsProcessor_BranchFilter(t *testing.T) {
	sess := testutil.NewSessionBuilder("s1").Events(
		testutil.NewEventBuilder().Invocation("run-1").Author("user").UserText("research").Build(),
		testutil.NewEventBuilder().Invocation("run-1").Branch("pipeline").AssistantText("plan").Build(),
		testutil.NewEventBuilder().Invocation("run-1").Branch("pipeline.tech").AssistantText("tech news").Build(),
		testutil.NewEventBuilder().Invocation("run-1").Branch("pipeline.health").AssistantText("health news").Build(),
	).Build()

	runCtx := newRunContext("research", func(o *core.RunContextOptions) { o.Session = sess })
	runCtx.Branch = "pipeline.tech"

	req := NewRequest(nil)
	require.NoError(t, NewContentsProcessor().ProcessRequest(runCtx, req, &testAgent{}))

	var texts []string
	for _, c := range req.Contents {
		text, _ := c.Text()
		texts = append(texts, text)
	}

	assert.Equal(t, []string{"research", "plan", "tech news"}, texts)
}

func TestContentsProcessor_Compaction(t *testing.T) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	at := func(min int) time.Time { return base.Add(time.Duration(min) * time.Minute) }

	compaction := testutil.NewEventBuilder().Author("system").At(at(5)).Build()
	compaction.Actions.Compaction = &core.EventCompaction{
		StartTime: at(0),
		EndTime:   at(3),
		Summary:   core.NewTextContent("assistant", "Summary: user is Sam."),
	}

	sess := testutil.NewSessionBuilder("s1").Events(
		testutil.NewEventBuilder().Invocation("r0").Author("user").At(at(0)).UserText("My name is Sam").Build(),
		testutil.NewEventBuilder().Invocation("r0").At(at(1)).AssistantText("Hi Sam").Build(),
		testutil.NewEventBuilder().Invocation("r1").Author("user").At(at(2)).UserText("I like tea").Build(),
		testutil.NewEventBuilder().Invocation("r1").At(at(3)).AssistantText("Noted").Build(),
		compaction,
		testutil.NewEventBuilder().Invocation("run-1").Author("user").At(at(6)).UserText("Recommend a drink").Build(),
	).Build()

	runCtx := newRunContext("Recommend a drink", func(o *core.RunContextOptions) { o.Session = sess })
	req := NewRequest(nil)

	require.NoError(t, NewContentsProcessor().ProcessRequest(runCtx, req, &testAgent{}))

	var texts []string
	for _, c := range req.Contents {
		text, _ := c.Text()
		texts = append(texts, text)
	}

	assert.Equal(t, []string{"Summary: user is Sam.", "Recommend a drink"}, texts)
}

func TestTransferToolInjector(t *testing.T) {
	agent := &testAgent{name: "root", transfer: true, subAgents: []core.Agent{stubAgent{name: "billing"}}}
	req := NewRequest(nil)
	inj := NewTransferToolInjector()

	require.NoError(t, inj.ProcessRequest(newRunContext("hi"), req, agent))
	require.NoError(t, inj.ProcessRequest(newRunContext("hi"), req, agent))

	count := 0
	for _, td := range req.Tools {
		if td.Function.Name == tool.TransferToAgentToolName {
			count++
		}
	}

	assert.Equal(t, 1, count)
	assert.Contains(t, req.Instructions, "- billing: handles billing")

	_, ok := req.Tool(tool.TransferToAgentToolName)
	assert.True(t, ok)

	disabled := NewRequest(nil)
	require.NoError(t, inj.ProcessRequest(newRunContext("hi"), disabled, &testAgent{subAgents: agent.subAgents}))
	assert.Empty(t, disabled.Tools)
}

func TestMemoryPreloadProcessor(t *testing.T) {
	store := memory.NewInMemoryStore()

	past := testutil.NewSessionBuilder("old").App(testKey.AppName).User(testKey.UserID).
		Event(testutil.NewEventBuilder().Author("user").UserText("My favorite color is teal").Build()).
		Build()

	_, err := store.AddSession(context.Background(), past)
	require.NoError(t, err)

	t.Run("hit", func(t *testing.T) {
		runCtx := newRunContext("What is my favorite color?", func(o *core.RunContextOptions) { o.MemoryStore = store })
		req := NewRequest(nil)
		req.Instructions = "Answer briefly."

		require.NoError(t, NewMemoryPreloadProcessor(3).ProcessRequest(runCtx, req, &testAgent{name: "assistant"}))
		assert.Contains(t, req.Instructions, "Answer briefly.\n\n")
		assert.Contains(t, req.Instructions, "<PAST_CONVERSATIONS>")
		assert.Contains(t, req.Instructions, "user: My favorite color is teal")
	})

	t.Run("miss", func(t *testing.T) {
		runCtx := newRunContext("quantum chromodynamics", func(o *core.RunContextOptions) { o.MemoryStore = store })
		req := NewRequest(nil)

		require.NoError(t, NewMemoryPreloadProcessor(3).ProcessRequest(runCtx, req, &testAgent{name: "assistant"}))
		assert.Empty(t, req.Instructions)
	})
}
