package flow

// MultiAgentFlow drives an agent that may transfer control to its
// sub-agents. It adds the transfer tool on top of the single-agent defaults.
type MultiAgentFlow struct{ *BaseFlow }

// NewMultiAgentFlow creates a multi-agent flow with the default processors.
func NewMultiAgentFlow(agent FlowAgent, extra ...RequestProcessor) *MultiAgentFlow {
	base := NewBaseFlow(agent)

	base.AddRequestProcessor(NewInstructionsProcessor())
	base.AddRequestProcessor(NewContentsProcessor())
	base.AddRequestProcessor(NewTransferToolInjector())

	for _, p := range extra {
		base.AddRequestProcessor(p)
	}

	return &MultiAgentFlow{BaseFlow: base}
}
