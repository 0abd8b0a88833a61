package core

// ModelCall describes a model invocation for observers.
type ModelCall struct {
	Agent    string
	Model    string
	Messages int
	Tools    int
}

// Observer receives lifecycle notifications during a run. Observers are
// explicit values injected per runner or per call, so any counters they keep
// are scoped to their own lifetime. Before* hooks may veto the operation by
// returning an error.
type Observer interface {
	BeforeRun(runCtx *RunContext) error
	AfterRun(runCtx *RunContext, runErr error)
	BeforeAgent(runCtx *RunContext, agent AgentInfo) error
	AfterAgent(runCtx *RunContext, agent AgentInfo, err error)
	BeforeModel(runCtx *RunContext, call ModelCall) error
	AfterModel(runCtx *RunContext, call ModelCall, err error)
	BeforeTool(toolCtx *ToolContext, call FunctionCall) error
	AfterTool(toolCtx *ToolContext, call FunctionCall, result any, err error)
	OnEvent(runCtx *RunContext, ev Event)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) BeforeRun(*RunContext) error                      { return nil }
func (NopObserver) AfterRun(*RunContext, error)                      {}
func (NopObserver) BeforeAgent(*RunContext, AgentInfo) error         { return nil }
func (NopObserver) AfterAgent(*RunContext, AgentInfo, error)         {}
func (NopObserver) BeforeModel(*RunContext, ModelCall) error         { return nil }
func (NopObserver) AfterModel(*RunContext, ModelCall, error)         {}
func (NopObserver) BeforeTool(*ToolContext, FunctionCall) error      { return nil }
func (NopObserver) AfterTool(*ToolContext, FunctionCall, any, error) {}
func (NopObserver) OnEvent(*RunContext, Event)                       {}
