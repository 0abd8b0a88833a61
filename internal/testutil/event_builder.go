package testutil

import (
	"time"

	"github.com/hupe1980/recallmesh/core"
)

// EventBuilder provides a fluent helper for constructing events in tests.
//
//	ev := testutil.NewEventBuilder().Author("agent").Invocation("run-1").AssistantText("hello").Build()
type EventBuilder struct {
	author        string
	invocationID  string
	id            string
	role          string
	branch        string
	timestamp     time.Time
	textParts     []string
	funcCalls     []core.FunctionCall
	funcResponses []core.FunctionResponse
	partial       *bool
	customParts   []core.Part
	actions       core.EventActions
}

// NewEventBuilder creates a builder with default author "agent".
func NewEventBuilder() *EventBuilder { return &EventBuilder{author: "agent"} }

// Author sets the author name for the event.
func (b *EventBuilder) Author(a string) *EventBuilder { b.author = a; return b }

// Invocation sets the run ID associated with the event.
func (b *EventBuilder) Invocation(id string) *EventBuilder { b.invocationID = id; return b }

// ID overrides the generated event ID.
func (b *EventBuilder) ID(id string) *EventBuilder { b.id = id; return b }

// Branch sets the branch label.
func (b *EventBuilder) Branch(br string) *EventBuilder { b.branch = br; return b }

// At fixes the event timestamp.
func (b *EventBuilder) At(ts time.Time) *EventBuilder { b.timestamp = ts; return b }

// Partial marks the event as a streaming chunk.
func (b *EventBuilder) Partial(p bool) *EventBuilder { b.partial = &p; return b }

// UserText appends a text part and sets the role to user.
func (b *EventBuilder) UserText(t string) *EventBuilder {
	b.role = "user"
	b.textParts = append(b.textParts, t)

	return b
}

// AssistantText appends a text part and sets the role to assistant.
func (b *EventBuilder) AssistantText(t string) *EventBuilder {
	b.role = "assistant"
	b.textParts = append(b.textParts, t)

	return b
}

// AddPart appends a custom content part.
func (b *EventBuilder) AddPart(p core.Part) *EventBuilder {
	b.customParts = append(b.customParts, p)

	return b
}

// FunctionCall adds a function call part with a JSON argument string.
func (b *EventBuilder) FunctionCall(id, name, args string) *EventBuilder {
	b.funcCalls = append(b.funcCalls, core.FunctionCall{ID: id, Name: name, Arguments: args})

	return b
}

// FunctionResponse adds a function response part and sets the role to tool.
func (b *EventBuilder) FunctionResponse(id, name string, result any, err error) *EventBuilder {
	fr := core.FunctionResponse{ID: id, Name: name, Response: result}
	if err != nil {
		fr.Error = err.Error()
	}

	b.role = "tool"
	b.funcResponses = append(b.funcResponses, fr)

	return b
}

// State adds a state delta entry.
func (b *EventBuilder) State(k string, v any) *EventBuilder {
	if b.actions.StateDelta == nil {
		b.actions.StateDelta = map[string]any{}
	}

	b.actions.StateDelta[k] = v

	return b
}

// SkipSummarization sets the SkipSummarization action flag.
func (b *EventBuilder) SkipSummarization() *EventBuilder {
	t := true
	b.actions.SkipSummarization = &t

	return b
}

// Escalate sets the Escalate action flag.
func (b *EventBuilder) Escalate() *EventBuilder { t := true; b.actions.Escalate = &t; return b }

// Transfer sets the target agent for a transfer action.
func (b *EventBuilder) Transfer(to string) *EventBuilder { b.actions.TransferToAgent = &to; return b }

// Build constructs the core.Event value.
func (b *EventBuilder) Build() core.Event {
	ev := core.NewEvent(b.invocationID, b.author)
	if b.id != "" {
		ev.ID = b.id
	}

	if !b.timestamp.IsZero() {
		ev.Timestamp = b.timestamp
	}

	ev.Branch = b.branch
	ev.Partial = b.partial
	ev.Actions = b.actions

	parts := make([]core.Part, 0, len(b.textParts)+len(b.funcCalls)+len(b.funcResponses)+len(b.customParts))
	for _, t := range b.textParts {
		parts = append(parts, core.TextPart{Text: t})
	}

	for _, fc := range b.funcCalls {
		parts = append(parts, core.FunctionCallPart{FunctionCall: fc})
	}

	for _, fr := range b.funcResponses {
		parts = append(parts, core.FunctionResponsePart{FunctionResponse: fr})
	}

	parts = append(parts, b.customParts...)

	if len(parts) > 0 {
		role := b.role
		if role == "" {
			role = "assistant"
		}

		ev.Content = &core.Content{Role: role, Parts: parts}
	}

	return ev
}
