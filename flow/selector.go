package flow

// Selector determines which flow to use based on agent capabilities.
type Selector struct{}

// NewSelector creates a new flow selector.
func NewSelector() *Selector { return &Selector{} }

// SelectFlow returns a SingleAgentFlow for agents that cannot hand off and a
// MultiAgentFlow otherwise. extra processors run after the defaults.
func (s *Selector) SelectFlow(agent FlowAgent, extra ...RequestProcessor) Flow {
	if !agent.IsTransferEnabled() || len(agent.GetSubAgents()) == 0 {
		return NewSingleAgentFlow(agent, extra...)
	}

	return NewMultiAgentFlow(agent, extra...)
}
