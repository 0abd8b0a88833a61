package agent

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/recallmesh/core"
	"github.com/hupe1980/recallmesh/model"
)

func newResearchPipeline(t *testing.T, failTopic string, optFns ...func(o *FanOutFanInOptions)) (*FanOutFanIn, *model.ScriptedModel) {
	t.Helper()

	var researchers []core.Agent

	for _, topic := range []string{"energy", "health", "space"} {
		step := model.Reply(model.TextResponse(topic + " findings"))
		if topic == failTopic {
			step = model.Fail(errors.New(topic + " model down"))
		}

		researchers = append(researchers, NewModelAgent(topic+"_researcher",
			model.NewScriptedModel(topic, step),
			func(o *ModelAgentOptions) { o.OutputKey = topic + "_result" },
		))
	}

	aggregatorLLM := model.NewScriptedModel("aggregator", model.Reply(model.TextResponse("report")))
	aggregator := NewModelAgent("synthesizer", aggregatorLLM, func(o *ModelAgentOptions) {
		o.Instruction = NewInstructionFromText("Energy: {energy_result}\nHealth: {health_result}\nSpace: {space_result}")
	})

	return NewFanOutFanIn("research_pipeline", NewParallelAgent("researchers", researchers), aggregator, optFns...), aggregatorLLM
}

func TestFanOutFanIn_AggregatorSeesAllSlots(t *testing.T) {
	pipeline, aggregatorLLM := newResearchPipeline(t, "")
	assert.Equal(t, []string{"energy_result", "health_result", "space_result"}, pipeline.Slots())

	h := newHarness(t, "Research")
	require.NoError(t, RunChild(h.rc, pipeline))

	events := h.finish()
	texts := finalTexts(events)
	require.Len(t, texts, 4)
	assert.Equal(t, "synthesizer: report", texts[3], "aggregator answers last")

	reqs := aggregatorLLM.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Instructions, "Energy: energy findings\nHealth: health findings\nSpace: space findings")
}

func TestFanOutFanIn_FailFastStopsBeforeAggregator(t *testing.T) {
	pipeline, aggregatorLLM := newResearchPipeline(t, "health")

	h := newHarness(t, "Research")
	err := RunChild(h.rc, pipeline)
	h.finish()

	var missing *MissingSlotsError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"health_result"}, missing.Missing)
	assert.ErrorContains(t, missing.Err, "health model down")
	assert.Empty(t, aggregatorLLM.Requests())
}

func TestFanOutFanIn_PlaceholderPolicy(t *testing.T) {
	pipeline, aggregatorLLM := newResearchPipeline(t, "space", func(o *FanOutFanInOptions) {
		o.Policy = Placeholder
	})

	h := newHarness(t, "Research")
	require.NoError(t, RunChild(h.rc, pipeline))
	h.finish()

	assert.Equal(t, "[unavailable: space_result]", h.state(t)["space_result"])

	reqs := aggregatorLLM.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Instructions, "Space: [unavailable: space_result]")
	assert.Contains(t, reqs[0].Instructions, "Energy: energy findings")
}

func TestFanOutFanIn_ExplicitSlots(t *testing.T) {
	pipeline, _ := newResearchPipeline(t, "", func(o *FanOutFanInOptions) {
		o.Slots = []string{"energy_result", "budget"}
		o.PlaceholderText = "n/a (%s)"
		o.Policy = Placeholder
	})

	h := newHarness(t, "Research")
	require.NoError(t, RunChild(h.rc, pipeline))
	h.finish()

	assert.Equal(t, "n/a (budget)", h.state(t)["budget"])
}

func TestMissingSlotsError(t *testing.T) {
	cause := errors.New("boom")
	err := &MissingSlotsError{Missing: []string{"a", "b"}, Err: cause}

	assert.EqualError(t, err, "missing slots: a, b: boom")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "placeholder", Placeholder.String())
}
