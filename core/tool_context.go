package core

import (
	"context"
	"fmt"
	"maps"

	"github.com/hupe1980/recallmesh/logging"
)

// ToolContext is the surface a tool implementation sees. It accumulates
// EventActions (state deltas, transfers, escalation, artifact versions) that
// the function executor attaches to the tool's response event.
type ToolContext struct {
	runCtx         *RunContext
	functionCallID string
	eventActions   EventActions

	*loggerAdapter
}

// NewToolContext binds a tool invocation to runCtx and functionCallID.
func NewToolContext(runCtx *RunContext, functionCallID string) *ToolContext {
	return &ToolContext{
		runCtx:         runCtx,
		functionCallID: functionCallID,
		loggerAdapter:  newLoggerAdapter(runCtx.Logger()),
	}
}

// Context returns the context associated with the tool invocation.
func (tc *ToolContext) Context() context.Context { return tc.runCtx.Context }

// Key returns the session key of the run.
func (tc *ToolContext) Key() SessionKey { return tc.runCtx.Key }

// RunID returns the run ID associated with the tool invocation.
func (tc *ToolContext) RunID() string { return tc.runCtx.RunID }

// Logger returns the logger associated with the tool invocation.
func (tc *ToolContext) Logger() logging.Logger { return tc.loggerAdapter.Logger() }

// FunctionCallID returns the function call ID associated with the tool invocation.
func (tc *ToolContext) FunctionCallID() string { return tc.functionCallID }

// AgentName returns the name of the calling agent.
func (tc *ToolContext) AgentName() string { return tc.runCtx.Agent.Name }

// GetState reads state, preferring values set by this tool call.
func (tc *ToolContext) GetState(k string) (any, bool) {
	if v, ok := tc.eventActions.StateDelta[k]; ok {
		return v, true
	}

	return tc.runCtx.GetState(k)
}

// SetState records a state change carried by the tool response event. Tool
// calls of one batch may run concurrently, so the run's own buffer is not
// touched here.
func (tc *ToolContext) SetState(k string, v any) {
	if tc.eventActions.StateDelta == nil {
		tc.eventActions.StateDelta = map[string]any{}
	}

	tc.eventActions.StateDelta[k] = v
}

// Actions returns the accumulated event actions.
func (tc *ToolContext) Actions() *EventActions { return &tc.eventActions }

// SkipSummarization makes the tool response the final response of the turn.
func (tc *ToolContext) SkipSummarization() {
	b := true
	tc.eventActions.SkipSummarization = &b
}

// TransferToAgent signals orchestration to hand off control to another agent.
func (tc *ToolContext) TransferToAgent(name string) {
	tc.eventActions.TransferToAgent = &name
	tc.LogInfo("tool.transfer.request", "from_agent", tc.AgentName(), "to_agent", name, "function_call_id", tc.functionCallID)
}

// Escalate requests escalation to the parent agent.
func (tc *ToolContext) Escalate() {
	b := true
	tc.eventActions.Escalate = &b
	tc.LogInfo("tool.escalate.request", "agent", tc.AgentName(), "function_call_id", tc.functionCallID)
}

// SaveArtifact stores data as a new version of name.
func (tc *ToolContext) SaveArtifact(name string, data []byte) (int, error) {
	if tc.runCtx.ArtifactStore == nil {
		return 0, fmt.Errorf("artifact store not configured")
	}

	version, err := tc.runCtx.ArtifactStore.Save(tc.Context(), tc.Key(), name, data)
	if err != nil {
		return 0, err
	}

	if tc.eventActions.ArtifactDelta == nil {
		tc.eventActions.ArtifactDelta = map[string]int{}
	}

	tc.eventActions.ArtifactDelta[name] = version

	return version, nil
}

// LoadArtifact returns the given version of name (0 for latest).
func (tc *ToolContext) LoadArtifact(name string, version int) ([]byte, error) {
	return tc.runCtx.LoadArtifact(name, version)
}

// ListArtifacts returns artifact names stored for the session.
func (tc *ToolContext) ListArtifacts() ([]string, error) { return tc.runCtx.ListArtifacts() }

// SearchMemory recalls records from the user's past sessions.
func (tc *ToolContext) SearchMemory(query string, limit int) ([]MemoryRecord, error) {
	if tc.runCtx.MemoryStore == nil {
		return nil, fmt.Errorf("memory store not configured")
	}

	return tc.runCtx.SearchMemory(query, limit)
}

// GetSessionHistory returns the filtered conversation history.
func (tc *ToolContext) GetSessionHistory() []Event {
	if tc.runCtx.Session == nil {
		return nil
	}

	return tc.runCtx.Session.GetConversationHistory()
}

// Observer returns the lifecycle observer of the run.
func (tc *ToolContext) Observer() Observer { return tc.runCtx.Observer() }

// RunContext returns the parent run context.
func (tc *ToolContext) RunContext() *RunContext { return tc.runCtx }

// ApplyActions merges the accumulated actions into ev.
func (tc *ToolContext) ApplyActions(ev *Event) {
	if len(tc.eventActions.StateDelta) > 0 {
		if ev.Actions.StateDelta == nil {
			ev.Actions.StateDelta = map[string]any{}
		}

		maps.Copy(ev.Actions.StateDelta, tc.eventActions.StateDelta)
	}

	if len(tc.eventActions.ArtifactDelta) > 0 {
		if ev.Actions.ArtifactDelta == nil {
			ev.Actions.ArtifactDelta = map[string]int{}
		}

		maps.Copy(ev.Actions.ArtifactDelta, tc.eventActions.ArtifactDelta)
	}

	if tc.eventActions.SkipSummarization != nil {
		ev.Actions.SkipSummarization = tc.eventActions.SkipSummarization
	}

	if tc.eventActions.TransferToAgent != nil {
		ev.Actions.TransferToAgent = tc.eventActions.TransferToAgent
		tc.LogInfo("tool.transfer.applied", "from_agent", tc.AgentName(), "to_agent", *tc.eventActions.TransferToAgent, "function_call_id", tc.functionCallID)
	}

	if tc.eventActions.Escalate != nil {
		ev.Actions.Escalate = tc.eventActions.Escalate
		tc.LogInfo("tool.escalate.applied", "agent", tc.AgentName(), "function_call_id", tc.functionCallID)
	}
}
