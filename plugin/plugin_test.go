package plugin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/recallmesh/core"
	"github.com/hupe1980/recallmesh/internal/testutil"
	"github.com/hupe1980/recallmesh/memory"
	"github.com/hupe1980/recallmesh/session"
)

type orderPlugin struct {
	Base

	log  *[]string
	veto error
}

func (o *orderPlugin) BeforeModel(*core.RunContext, core.ModelCall) error {
	*o.log = append(*o.log, "before:"+o.Name())
	return o.veto
}

func (o *orderPlugin) AfterModel(*core.RunContext, core.ModelCall, error) {
	*o.log = append(*o.log, "after:"+o.Name())
}

func newRunContext(optFns ...func(o *core.RunContextOptions)) *core.RunContext {
	key := core.SessionKey{AppName: "app", UserID: "user", ID: "s1"}
	return core.NewRunContext(context.Background(), key, "run-1", optFns...)
}

func TestManager_OrderAndVeto(t *testing.T) {
	var log []string

	veto := errors.New("quota exceeded")
	m := NewManager(
		&orderPlugin{Base: NewBase("a"), log: &log},
		&orderPlugin{Base: NewBase("b"), log: &log, veto: veto},
		&orderPlugin{Base: NewBase("c"), log: &log},
	)

	rc := newRunContext()

	err := m.BeforeModel(rc, core.ModelCall{})
	assert.ErrorIs(t, err, veto)
	assert.EqualError(t, err, "plugin b: quota exceeded")

	m.AfterModel(rc, core.ModelCall{}, nil)

	assert.Equal(t, []string{"before:a", "before:b", "after:a", "after:b", "after:c"}, log)

	p, ok := m.Get("c")
	require.True(t, ok)
	assert.Equal(t, "c", p.Name())

	m.Register(nil)
	assert.Len(t, m.Plugins(), 3)
}

func TestCountingPlugin(t *testing.T) {
	c := NewCountingPlugin()
	m := NewManager(c)

	rc := newRunContext()
	tc := core.NewToolContext(rc, "fc-1")

	require.NoError(t, m.BeforeRun(rc))
	require.NoError(t, m.BeforeAgent(rc, core.AgentInfo{Name: "root"}))
	require.NoError(t, m.BeforeAgent(rc, core.AgentInfo{Name: "child"}))
	require.NoError(t, m.BeforeModel(rc, core.ModelCall{Agent: "child"}))
	require.NoError(t, m.BeforeTool(tc, core.FunctionCall{Name: "lookup"}))
	m.OnEvent(rc, testutil.NewEventBuilder().AssistantText("hi").Build())
	m.OnEvent(rc, testutil.NewEventBuilder().Partial(true).AssistantText("h").Build())

	got := c.Counts()
	assert.Equal(t, 1, got.Runs)
	assert.Equal(t, 2, got.Agents)
	assert.Equal(t, 1, got.ModelCalls)
	assert.Equal(t, 1, got.ToolCalls)
	assert.Equal(t, 1, got.Events)
	assert.Equal(t, map[string]int{"root": 1, "child": 1}, got.PerAgent)
	assert.Equal(t, map[string]int{"lookup": 1}, got.PerTool)

	// Two plugin values never share counts.
	assert.Zero(t, NewCountingPlugin().Counts().Runs)

	c.Reset()
	assert.Zero(t, c.Counts().Agents)
}

func TestMetricsPlugin(t *testing.T) {
	m := NewMetricsPlugin()
	rc := newRunContext()

	m.AfterRun(rc, nil)
	m.AfterAgent(rc, core.AgentInfo{Name: "root", Type: "model"}, nil)
	m.AfterModel(rc, core.ModelCall{Agent: "root", Model: "gpt"}, errors.New("503"))
	m.AfterTool(core.NewToolContext(rc, "fc-1"), core.FunctionCall{Name: "lookup"}, nil, nil)
	m.OnEvent(rc, testutil.NewEventBuilder().Author("root").AssistantText("hi").Build())

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}

	for _, want := range []string{
		"recallmesh_runs_total",
		"recallmesh_agent_runs_total",
		"recallmesh_model_calls_total",
		"recallmesh_tool_calls_total",
		"recallmesh_events_total",
	} {
		assert.Truef(t, names[want], "metric %s not found", want)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `recallmesh_model_calls_total{agent="root",model="gpt",status="error"} 1`)
}

func TestLoggingPlugin(t *testing.T) {
	rec := &recordingLogger{}
	l := NewLoggingPlugin(rec)
	rc := newRunContext()

	require.NoError(t, l.BeforeRun(rc))
	l.AfterRun(rc, errors.New("boom"))
	l.OnEvent(rc, testutil.NewEventBuilder().AssistantText("hi").Build())

	assert.Equal(t, []string{"plugin.run.start", "plugin.run.failed", "plugin.event"}, rec.msgs)
	assert.NotNil(t, NewLoggingPlugin(nil))
	assert.Equal(t, "logging", l.Name())
}

type recordingLogger struct {
	msgs []string
}

func (r *recordingLogger) Debug(msg string, _ ...any) { r.msgs = append(r.msgs, msg) }
func (r *recordingLogger) Info(msg string, _ ...any)  { r.msgs = append(r.msgs, msg) }
func (r *recordingLogger) Warn(msg string, _ ...any)  { r.msgs = append(r.msgs, msg) }
func (r *recordingLogger) Error(msg string, _ ...any) { r.msgs = append(r.msgs, msg) }

func TestAutoMemory_IngestsFinishedSession(t *testing.T) {
	ctx := context.Background()
	sessions := session.NewInMemoryStore()
	mem := memory.NewInMemoryStore()

	key := core.SessionKey{AppName: "app", UserID: "user", ID: "s1"}
	_, err := sessions.Create(ctx, key)
	require.NoError(t, err)

	require.NoError(t, sessions.AppendEvent(ctx, key,
		testutil.NewEventBuilder().Author("user").UserText("My name is Sam").Build()))
	require.NoError(t, sessions.AppendEvent(ctx, key,
		testutil.NewEventBuilder().Author("greeter").AssistantText("Nice to meet you, Sam").Build()))

	rc := core.NewRunContext(ctx, key, "run-1", func(o *core.RunContextOptions) { o.SessionStore = sessions })

	auto := NewAutoMemory(mem)

	auto.AfterRun(rc, errors.New("failed run"))

	hits, err := mem.Search(ctx, core.MemoryQuery{AppName: "app", UserID: "user", Query: "name"})
	require.NoError(t, err)
	assert.Empty(t, hits, "failed runs are not ingested")

	auto.AfterRun(rc, nil)
	auto.AfterRun(rc, nil)

	hits, err = mem.Search(ctx, core.MemoryQuery{AppName: "app", UserID: "user", Query: "Sam"})
	require.NoError(t, err)
	assert.Len(t, hits, 2, "ingesting twice adds nothing")
}
