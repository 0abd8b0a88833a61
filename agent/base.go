package agent

import (
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/hupe1980/recallmesh/core"
	"github.com/hupe1980/recallmesh/internal/tracing"
)

// BaseAgent bundles identity, lifecycle bookkeeping and hierarchy management.
// Embed it in a concrete agent, call Init from the constructor and supply a
// Run method to satisfy core.Agent. All exported methods are goroutine-safe.
type BaseAgent struct {
	name        string
	description string
	self        core.Agent

	mu        sync.Mutex
	active    int
	parent    core.Agent
	subAgents []core.Agent
}

// Init names the agent and binds self, the concrete agent embedding b.
// Hierarchy lookups return self so callers always get a runnable agent.
func (b *BaseAgent) Init(self core.Agent, name, description string) {
	if description == "" {
		description = fmt.Sprintf("Agent %s", name)
	}

	b.name = name
	b.description = description
	b.self = self
}

// Name returns the agent name.
func (b *BaseAgent) Name() string { return b.name }

// Description returns the agent description shown to models choosing a
// transfer target.
func (b *BaseAgent) Description() string { return b.description }

// SetDescription replaces the description.
func (b *BaseAgent) SetDescription(desc string) { b.description = desc }

// Start marks one more run of the agent as active. Agents may serve
// concurrent runs, so Start only counts.
func (b *BaseAgent) Start(_ *core.RunContext) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.active++

	return nil
}

// Stop ends one active run. It fails if no run is active.
func (b *BaseAgent) Stop(_ *core.RunContext) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active == 0 {
		return fmt.Errorf("agent %s is not running", b.name)
	}

	b.active--

	return nil
}

// Running reports whether at least one run of the agent is active.
func (b *BaseAgent) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.active > 0
}

// SetSubAgents replaces the child set and assigns this agent as parent of
// each child. A child owned by another parent or a duplicate name is
// rejected and leaves the current children untouched.
func (b *BaseAgent) SetSubAgents(children ...core.Agent) error {
	seen := make(map[string]struct{}, len(children))

	for _, child := range children {
		if _, dup := seen[child.Name()]; dup {
			return fmt.Errorf("agent %s: duplicate sub-agent %q", b.name, child.Name())
		}

		seen[child.Name()] = struct{}{}

		if p := child.Parent(); p != nil && p != b.self {
			return fmt.Errorf("agent %s: sub-agent %q already belongs to %s", b.name, child.Name(), p.Name())
		}
	}

	b.mu.Lock()
	old := b.subAgents
	b.subAgents = append([]core.Agent(nil), children...)
	b.mu.Unlock()

	for _, child := range old {
		if setter, ok := child.(interface{ setParent(core.Agent) }); ok {
			setter.setParent(nil)
		}
	}

	for _, child := range children {
		if setter, ok := child.(interface{ setParent(core.Agent) }); ok {
			setter.setParent(b.self)
		}
	}

	return nil
}

func (b *BaseAgent) setParent(p core.Agent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.parent = p
}

// Parent returns the parent agent or nil for a root.
func (b *BaseAgent) Parent() core.Agent {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.parent
}

// SubAgents returns a copy of the children.
func (b *BaseAgent) SubAgents() []core.Agent {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]core.Agent, len(b.subAgents))
	copy(out, b.subAgents)

	return out
}

// FindAgent searches the subtree rooted at this agent depth-first.
func (b *BaseAgent) FindAgent(name string) core.Agent {
	if b.name == name {
		return b.self
	}

	for _, child := range b.SubAgents() {
		if found := child.FindAgent(name); found != nil {
			return found
		}
	}

	return nil
}

// Root walks up the parent chain of a.
func Root(a core.Agent) core.Agent {
	for a.Parent() != nil {
		a = a.Parent()
	}

	return a
}

// RunChild runs child under runCtx: it switches the executing agent, brackets
// the run with Start/Stop plus the observer's agent hooks, and traces it.
// State the child staged but never emitted stays staged on runCtx.
func RunChild(runCtx *core.RunContext, child core.Agent) (err error) {
	info := core.InfoOf(child)
	childCtx := runCtx.WithAgent(info)

	spanCtx, span := tracing.StartSpan(runCtx.Context, "agent.run",
		attribute.String("agent", info.Name),
		attribute.String("agent_type", info.Type),
		attribute.String("branch", runCtx.Branch),
	)
	defer func() { tracing.End(span, err) }()

	childCtx.Context = spanCtx

	if err := runCtx.Observer().BeforeAgent(childCtx, info); err != nil {
		return fmt.Errorf("before agent %s: %w", info.Name, err)
	}

	childCtx.LogDebug("agent.run.start", "agent", info.Name, "type", info.Type, "branch", childCtx.Branch, "run_id", childCtx.RunID)

	if err := child.Start(childCtx); err != nil {
		runCtx.Observer().AfterAgent(childCtx, info, err)
		return fmt.Errorf("start agent %s: %w", info.Name, err)
	}

	err = child.Run(childCtx)

	if stopErr := child.Stop(childCtx); stopErr != nil {
		childCtx.LogWarn("agent.stop.error", "agent", info.Name, "error", stopErr)
	}

	runCtx.Observer().AfterAgent(childCtx, info, err)

	// The child started from a copy of our buffers and emitted part of them.
	runCtx.Session = childCtx.Session
	runCtx.StateDelta = childCtx.StateDelta
	runCtx.Artifacts = childCtx.Artifacts

	if err != nil {
		childCtx.LogError("agent.run.error", "agent", info.Name, "error", err)
		return err
	}

	childCtx.LogDebug("agent.run.complete", "agent", info.Name)

	return nil
}
