package core

// Agent is the unit of work driven by a Runner. Agents receive a RunContext,
// emit events through it and may compose other agents as children.
//
// Implementations must respect RunContext cancellation and emit events only
// through RunContext.EmitEvent (or the Emit channel) so the runner can persist
// them in order.
type Agent interface {
	Name() string
	Description() string
	Start(runCtx *RunContext) error
	Stop(runCtx *RunContext) error
	Run(runCtx *RunContext) error
	SetSubAgents(children ...Agent) error
	SubAgents() []Agent
	Parent() Agent
	FindAgent(name string) Agent
}

// AgentInfo carries identifying details about an agent used in contexts & events.
// Name is the external identifier; Type categorizes implementation (e.g. "model", "parallel").
type AgentInfo struct{ Name, Type string }

// Typed is implemented by agents that report a category for AgentInfo.Type.
type Typed interface {
	AgentType() string
}

// InfoOf builds the AgentInfo for a, falling back to "custom" when the agent
// does not report a type.
func InfoOf(a Agent) AgentInfo {
	info := AgentInfo{Name: a.Name(), Type: "custom"}
	if t, ok := a.(Typed); ok {
		info.Type = t.AgentType()
	}

	return info
}
