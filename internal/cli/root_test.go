package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/recallmesh/config"
	"github.com/hupe1980/recallmesh/model"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())

	var buf bytes.Buffer

	cmd := GetRootCmd()
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))

	err := cmd.Execute()

	return buf.String(), err
}

func useModel(t *testing.T, steps ...model.Step) *model.ScriptedModel {
	t.Helper()

	m := model.NewScriptedModel("scripted", steps...)
	prev := newModel
	newModel = func(*config.Config) (model.Model, error) { return m, nil }

	t.Cleanup(func() { newModel = prev })

	return m
}

func TestRootCommand(t *testing.T) {
	cmd := GetRootCmd()
	assert.Equal(t, "recallmesh", cmd.Use)

	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{"chat", "memory", "research", "compaction", "sessions"} {
		assert.True(t, names[want], "missing command %s", want)
	}

	for flag := range flagKeys {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), "missing flag %s", flag)
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "version "+GetVersion())
}

func TestChat(t *testing.T) {
	useModel(t,
		model.Reply(model.TextResponse("Hi Sam, it is Washington, D.C.")),
		model.Reply(model.TextResponse("Your name is Sam.")),
	)

	out, err := execute(t, "chat", "--session", "chat-test", "Hi, I am Sam!", "What is my name?")
	require.NoError(t, err)

	assert.Contains(t, out, "### Session: chat-test")
	assert.Contains(t, out, "User > Hi, I am Sam!")
	assert.Contains(t, out, "text_chat_bot > Hi Sam, it is Washington, D.C.")
	assert.Contains(t, out, "text_chat_bot > Your name is Sam.")
}

func TestResearch(t *testing.T) {
	m := useModel(t,
		model.Reply(model.TextResponse("report one")),
		model.Reply(model.TextResponse("report two")),
		model.Reply(model.TextResponse("report three")),
		model.Reply(model.TextResponse("the briefing")),
	)

	out, err := execute(t, "research", "--session", "research-test", "brief me")
	require.NoError(t, err)

	assert.Contains(t, out, "AggregatorAgent > the briefing")

	reqs := m.Requests()
	require.Len(t, reqs, 4)
	assert.NotContains(t, reqs[3].Instructions, "{tech_research}")
	assert.Contains(t, reqs[3].Instructions, "report")
}

func TestMemoryToolMode(t *testing.T) {
	useModel(t,
		model.Reply(model.TextResponse("Blue-green haiku")),
		model.Reply(model.CallResponse("call-1", "load_memory", `{"query":"favorite color"}`)),
		model.Reply(model.TextResponse("Your favorite color is blue-green.")),
	)

	out, err := execute(t, "memory", "--mode", "tool")
	require.NoError(t, err)

	assert.Contains(t, out, "Ingested 2 memories from conversation-01")
	assert.Contains(t, out, "memory_agent > Your favorite color is blue-green.")
}

func TestMemoryUnknownMode(t *testing.T) {
	useModel(t)

	_, err := execute(t, "memory", "--mode", "psychic")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown memory mode "psychic"`)

	// flags persist on the shared root command
	memoryMode = "auto"
}

func TestSessionsEmpty(t *testing.T) {
	useModel(t)

	out, err := execute(t, "sessions")
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions for agents/default")
}

func TestInvalidConfig(t *testing.T) {
	useModel(t)

	_, err := execute(t, "sessions", "--provider", "gemini")
	require.Error(t, err)

	require.NoError(t, rootCmd.PersistentFlags().Set("provider", "openai"))
}
