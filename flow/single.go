package flow

// SingleAgentFlow drives a standalone agent: instructions, history and the
// agent's own tools.
type SingleAgentFlow struct{ *BaseFlow }

// NewSingleAgentFlow creates a single-agent flow with the default processors.
func NewSingleAgentFlow(agent FlowAgent, extra ...RequestProcessor) *SingleAgentFlow {
	base := NewBaseFlow(agent)

	base.AddRequestProcessor(NewInstructionsProcessor())
	base.AddRequestProcessor(NewContentsProcessor())

	for _, p := range extra {
		base.AddRequestProcessor(p)
	}

	return &SingleAgentFlow{BaseFlow: base}
}
