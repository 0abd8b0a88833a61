package agent

import (
	"fmt"
	"maps"
	"slices"

	"github.com/hupe1980/recallmesh/core"
	"github.com/hupe1980/recallmesh/flow"
	"github.com/hupe1980/recallmesh/model"
	"github.com/hupe1980/recallmesh/tool"
)

// ModelAgentOptions configures a ModelAgent.
type ModelAgentOptions struct {
	Description string
	Instruction Instruction
	// EnableStreaming forwards partial model output as partial events.
	EnableStreaming bool
	// OutputKey stores the final response text in session state.
	OutputKey          string
	MaxHistoryMessages int
	// AllowTransfer exposes transfer_to_agent when the agent has sub-agents.
	AllowTransfer bool
	Tools         []tool.Tool
	// PreloadMemory > 0 injects up to that many recalled memories into the
	// instruction before every model call.
	PreloadMemory int
	Executor      flow.FunctionExecutorConfig
}

// ModelAgent answers with a language model, calling tools and handing off
// to sub-agents as the model requests.
type ModelAgent struct {
	BaseAgent

	llm                model.Model
	instruction        Instruction
	tools              map[string]tool.Tool
	enableStreaming    bool
	outputKey          string
	maxHistoryMessages int
	allowTransfer      bool
	preloadMemory      int
	executor           flow.FunctionExecutorConfig
}

// NewModelAgent creates a model-backed agent.
func NewModelAgent(name string, llm model.Model, optFns ...func(o *ModelAgentOptions)) *ModelAgent {
	opts := ModelAgentOptions{
		Instruction:   NewInstructionFromText(fmt.Sprintf("You are %s, a helpful AI assistant.", name)),
		AllowTransfer: true,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	a := &ModelAgent{
		llm:                llm,
		instruction:        opts.Instruction,
		tools:              make(map[string]tool.Tool, len(opts.Tools)),
		enableStreaming:    opts.EnableStreaming,
		outputKey:          opts.OutputKey,
		maxHistoryMessages: opts.MaxHistoryMessages,
		allowTransfer:      opts.AllowTransfer,
		preloadMemory:      opts.PreloadMemory,
		executor:           opts.Executor,
	}

	a.Init(a, name, opts.Description)

	for _, t := range opts.Tools {
		a.tools[t.Name()] = t
	}

	return a
}

// AgentType implements core.Typed.
func (a *ModelAgent) AgentType() string { return "model" }

// RegisterTools adds tools, replacing any with the same name. Not safe to
// call while the agent runs.
func (a *ModelAgent) RegisterTools(tools ...tool.Tool) {
	for _, t := range tools {
		a.tools[t.Name()] = t
	}
}

// ListTools returns the sorted names of the registered tools.
func (a *ModelAgent) ListTools() []string {
	return slices.Sorted(maps.Keys(a.tools))
}

// OutputKey returns the state key receiving the final response text.
func (a *ModelAgent) OutputKey() string { return a.outputKey }

// GetName implements flow.FlowAgent.
func (a *ModelAgent) GetName() string { return a.Name() }

// GetLLM implements flow.FlowAgent.
func (a *ModelAgent) GetLLM() model.Model { return a.llm }

// GetTools implements flow.FlowAgent.
func (a *ModelAgent) GetTools() map[string]tool.Tool { return maps.Clone(a.tools) }

// GetSubAgents implements flow.FlowAgent.
func (a *ModelAgent) GetSubAgents() []core.Agent { return a.SubAgents() }

// IsStreamingEnabled implements flow.FlowAgent.
func (a *ModelAgent) IsStreamingEnabled() bool { return a.enableStreaming }

// IsTransferEnabled implements flow.FlowAgent.
func (a *ModelAgent) IsTransferEnabled() bool { return a.allowTransfer }

// MaxHistoryMessages implements flow.FlowAgent.
func (a *ModelAgent) MaxHistoryMessages() int { return a.maxHistoryMessages }

// ResolveInstructions implements flow.FlowAgent.
func (a *ModelAgent) ResolveInstructions(runCtx *core.RunContext) (string, error) {
	return a.instruction.Resolve(runCtx)
}

func (a *ModelAgent) newFlow() flow.Flow {
	var extra []flow.RequestProcessor
	if a.preloadMemory > 0 {
		extra = append(extra, flow.NewMemoryPreloadProcessor(a.preloadMemory))
	}

	fl := flow.NewSelector().SelectFlow(a, extra...)

	if setter, ok := fl.(interface {
		SetFunctionExecutor(flow.FunctionExecutor)
	}); ok {
		setter.SetFunctionExecutor(flow.NewParallelFunctionExecutor(a.executor))
	}

	return fl
}

// Run drives one turn through the flow and forwards its events. The flow
// waits for persistence of each complete event, so Run only emits. A
// transfer requested by a tool hands the rest of the turn to the target.
func (a *ModelAgent) Run(runCtx *core.RunContext) error {
	fl := a.newFlow()

	runCtx.LogDebug("agent.flow.selected", "agent", a.Name(), "flow", fmt.Sprintf("%T", fl))

	events, errCh := fl.Execute(runCtx)

	var transfer string

	for ev := range events {
		if !ev.IsPartial() {
			a.captureOutput(&ev)

			if ev.Actions.TransferToAgent != nil {
				transfer = *ev.Actions.TransferToAgent
			}
		}

		if err := runCtx.EmitEvent(ev); err != nil {
			drainEvents(events)
			return err
		}
	}

	if err := <-errCh; err != nil {
		return err
	}

	if transfer == "" {
		return nil
	}

	return a.transferTo(runCtx, transfer)
}

func (a *ModelAgent) captureOutput(ev *core.Event) {
	if a.outputKey == "" || !ev.IsFinalResponse() {
		return
	}

	text, ok := ev.Text()
	if !ok || text == "" {
		return
	}

	if ev.Actions.StateDelta == nil {
		ev.Actions.StateDelta = map[string]any{}
	}

	ev.Actions.StateDelta[a.outputKey] = text
}

func (a *ModelAgent) transferTo(runCtx *core.RunContext, name string) error {
	target := a.FindAgent(name)
	if target == nil {
		target = Root(a).FindAgent(name)
	}

	if target == nil {
		return fmt.Errorf("agent %s: transfer target %q not found", a.Name(), name)
	}

	runCtx.LogInfo("agent.transfer", "from", a.Name(), "to", name)

	return RunChild(runCtx, target)
}

func drainEvents(ch <-chan core.Event) {
	go func() {
		for range ch {
		}
	}()
}
