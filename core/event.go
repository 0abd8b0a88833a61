package core

import (
	"time"

	"github.com/google/uuid"
)

// EventCompaction marks an event as the summary of an earlier span of the
// session. Events with timestamps inside [StartTime, EndTime] are replaced by
// Summary when history is assembled for a model.
type EventCompaction struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Summary   Content   `json:"summary"`
}

// EventActions encodes side effects or orchestration signals attached to an
// Event. Pointer and map fields distinguish absence from zero values. The
// runner applies them before the event is persisted.
type EventActions struct {
	SkipSummarization *bool            `json:"skip_summarization,omitempty"`
	StateDelta        map[string]any   `json:"state_delta,omitempty"`
	ArtifactDelta     map[string]int   `json:"artifact_delta,omitempty"` // artifact name -> version
	TransferToAgent   *string          `json:"transfer_to_agent,omitempty"`
	Escalate          *bool            `json:"escalate,omitempty"`
	Compaction        *EventCompaction `json:"compaction,omitempty"`
}

// Event is the unit of communication between agents, the runner and
// callers. After emission it should be treated as immutable. Content may be
// nil for control or error-only events.
type Event struct {
	ID             string            `json:"id"`
	InvocationID   string            `json:"invocation_id"`
	Author         string            `json:"author"`
	Actions        EventActions      `json:"actions"`
	Branch         string            `json:"branch,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
	Content        *Content          `json:"content,omitempty"`
	Partial        *bool             `json:"partial,omitempty"`
	TurnComplete   *bool             `json:"turn_complete,omitempty"`
	ErrorCode      *string           `json:"error_code,omitempty"`
	ErrorMessage   *string           `json:"error_message,omitempty"`
	CustomMetadata map[string]string `json:"custom_metadata,omitempty"`
}

// WithoutTempState returns a copy of e whose state delta has no temp: keys.
// Stores persist this copy.
func (e Event) WithoutTempState() Event {
	e.Actions.StateDelta = PersistentDelta(e.Actions.StateDelta)
	return e
}

// NewEvent creates a bare event authored by author bound to an invocation.
func NewEvent(invocationID, author string) Event {
	return Event{
		ID:           NewID(),
		InvocationID: invocationID,
		Author:       author,
		Timestamp:    time.Now().UTC(),
	}
}

// NewMessageEvent creates an assistant message event with a single text part.
func NewMessageEvent(author, message string) Event {
	e := NewEvent("", author)
	c := NewTextContent("assistant", message)
	e.Content = &c

	return e
}

// NewUserContentEvent creates a user-authored event carrying content.
func NewUserContentEvent(invocationID string, content Content) Event {
	e := NewEvent(invocationID, "user")
	if content.Role == "" {
		content.Role = "user"
	}
	e.Content = &content

	return e
}

// NewFunctionCallEvent represents an agent requesting execution of a named function/tool.
func NewFunctionCallEvent(author, id, functionName, args string) Event {
	e := NewEvent("", author)
	e.Content = &Content{
		Role: "assistant",
		Parts: []Part{FunctionCallPart{
			FunctionCall: FunctionCall{ID: id, Name: functionName, Arguments: args},
		}},
	}

	return e
}

// NewFunctionResponseEvent records the result (or error) of a tool invocation.
func NewFunctionResponseEvent(author, id, functionName string, result any, err error) Event {
	e := NewEvent("", author)
	fr := FunctionResponse{ID: id, Name: functionName, Response: result}
	if err != nil {
		fr.Error = err.Error()
	}
	e.Content = &Content{Role: "tool", Parts: []Part{FunctionResponsePart{FunctionResponse: fr}}}

	return e
}

// NewCompactionEvent creates a system event carrying a compaction marker.
func NewCompactionEvent(invocationID string, compaction EventCompaction) Event {
	e := NewEvent(invocationID, "system")
	e.Actions.Compaction = &compaction

	return e
}

// NewID generates a new unique identifier.
func NewID() string { return uuid.NewString() }

// IsPartial reports whether this event is a streaming fragment.
func (e Event) IsPartial() bool { return e.Partial != nil && *e.Partial }

// Text returns the concatenated text parts of the event content.
func (e Event) Text() (string, bool) {
	if e.Content == nil {
		return "", false
	}

	return e.Content.Text()
}

// GetFunctionCalls returns the FunctionCall parts in order.
func (e Event) GetFunctionCalls() []FunctionCall {
	if e.Content == nil {
		return nil
	}

	var calls []FunctionCall
	for _, p := range e.Content.Parts {
		if fc, ok := p.(FunctionCallPart); ok {
			calls = append(calls, fc.FunctionCall)
		}
	}

	return calls
}

// GetFunctionResponses returns the FunctionResponse parts in order.
func (e Event) GetFunctionResponses() []FunctionResponse {
	if e.Content == nil {
		return nil
	}

	var responses []FunctionResponse
	for _, p := range e.Content.Parts {
		if fr, ok := p.(FunctionResponsePart); ok {
			responses = append(responses, fr.FunctionResponse)
		}
	}

	return responses
}

// IsFinalResponse reports whether the event ends an agent turn: not partial
// and carrying no pending function calls or responses. Tools may force a
// final response with SkipSummarization.
func (e Event) IsFinalResponse() bool {
	if e.Actions.SkipSummarization != nil && *e.Actions.SkipSummarization {
		return true
	}

	if e.Actions.Compaction != nil {
		return false
	}

	return len(e.GetFunctionCalls()) == 0 &&
		len(e.GetFunctionResponses()) == 0 &&
		!e.IsPartial()
}

// IsError reports whether the event carries error metadata.
func (e Event) IsError() bool { return e.ErrorMessage != nil }
