package core

import "fmt"

// PayloadKind enumerates the payload variants an Event can carry.
type PayloadKind int

const (
	PayloadText PayloadKind = iota
	PayloadFunctionCall
	PayloadFunctionResponse
	PayloadCompaction
)

// String returns the kind label.
func (k PayloadKind) String() string {
	switch k {
	case PayloadText:
		return "text"
	case PayloadFunctionCall:
		return "function_call"
	case PayloadFunctionResponse:
		return "function_response"
	case PayloadCompaction:
		return "compaction"
	default:
		return fmt.Sprintf("PayloadKind(%d)", int(k))
	}
}

// Payload is a closed sum type over what an event carries. Use VisitPayload
// or a type switch on the four variants below.
type Payload interface {
	Kind() PayloadKind
	isPayload()
}

// TextPayload is a text segment of the event content.
type TextPayload struct{ Text string }

// FunctionCallPayload is a tool invocation request.
type FunctionCallPayload struct{ Call FunctionCall }

// FunctionResponsePayload is a tool invocation result.
type FunctionResponsePayload struct{ Response FunctionResponse }

// CompactionPayload is the compaction marker of a summary event.
type CompactionPayload struct{ Compaction EventCompaction }

func (TextPayload) Kind() PayloadKind             { return PayloadText }
func (FunctionCallPayload) Kind() PayloadKind     { return PayloadFunctionCall }
func (FunctionResponsePayload) Kind() PayloadKind { return PayloadFunctionResponse }
func (CompactionPayload) Kind() PayloadKind       { return PayloadCompaction }

func (TextPayload) isPayload()             {}
func (FunctionCallPayload) isPayload()     {}
func (FunctionResponsePayload) isPayload() {}
func (CompactionPayload) isPayload()       {}

// Payloads returns the event payloads in content order followed by the
// compaction marker, if any. Data and file parts are not payloads.
func (e Event) Payloads() []Payload {
	var out []Payload

	if e.Content != nil {
		for _, p := range e.Content.Parts {
			switch v := p.(type) {
			case TextPart:
				out = append(out, TextPayload{Text: v.Text})
			case FunctionCallPart:
				out = append(out, FunctionCallPayload{Call: v.FunctionCall})
			case FunctionResponsePart:
				out = append(out, FunctionResponsePayload{Response: v.FunctionResponse})
			}
		}
	}

	if e.Actions.Compaction != nil {
		out = append(out, CompactionPayload{Compaction: *e.Actions.Compaction})
	}

	return out
}

// PayloadVisitor holds one handler per payload variant. Nil handlers ignore
// their variant.
type PayloadVisitor struct {
	Text             func(TextPayload)
	FunctionCall     func(FunctionCallPayload)
	FunctionResponse func(FunctionResponsePayload)
	Compaction       func(CompactionPayload)
}

// VisitPayload dispatches p to the matching handler of v.
func VisitPayload(p Payload, v PayloadVisitor) {
	switch pl := p.(type) {
	case TextPayload:
		if v.Text != nil {
			v.Text(pl)
		}
	case FunctionCallPayload:
		if v.FunctionCall != nil {
			v.FunctionCall(pl)
		}
	case FunctionResponsePayload:
		if v.FunctionResponse != nil {
			v.FunctionResponse(pl)
		}
	case CompactionPayload:
		if v.Compaction != nil {
			v.Compaction(pl)
		}
	default:
		panic(fmt.Sprintf("core: unhandled payload %T", p))
	}
}
