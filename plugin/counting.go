package plugin

import (
	"maps"
	"sync"

	"github.com/hupe1980/recallmesh/core"
)

// Counts is a snapshot of a CountingPlugin.
type Counts struct {
	Runs       int
	Agents     int
	ModelCalls int
	ToolCalls  int
	Events     int
	// PerAgent counts agent invocations by agent name.
	PerAgent map[string]int
	// PerTool counts tool invocations by tool name.
	PerTool map[string]int
}

// CountingPlugin counts invocations for as long as the plugin value lives.
// Inject a fresh one per runner or orchestrator to scope the counts.
type CountingPlugin struct {
	Base

	mu     sync.Mutex
	counts Counts
}

// NewCountingPlugin creates a counting plugin.
func NewCountingPlugin() *CountingPlugin {
	return &CountingPlugin{
		Base:   NewBase("counting"),
		counts: Counts{PerAgent: map[string]int{}, PerTool: map[string]int{}},
	}
}

// Counts returns a copy of the current counts.
func (c *CountingPlugin) Counts() Counts {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.counts
	out.PerAgent = maps.Clone(c.counts.PerAgent)
	out.PerTool = maps.Clone(c.counts.PerTool)

	return out
}

// Reset zeroes all counters.
func (c *CountingPlugin) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.counts = Counts{PerAgent: map[string]int{}, PerTool: map[string]int{}}
}

func (c *CountingPlugin) BeforeRun(*core.RunContext) error {
	c.mu.Lock()
	c.counts.Runs++
	c.mu.Unlock()

	return nil
}

func (c *CountingPlugin) BeforeAgent(_ *core.RunContext, agent core.AgentInfo) error {
	c.mu.Lock()
	c.counts.Agents++
	c.counts.PerAgent[agent.Name]++
	c.mu.Unlock()

	return nil
}

func (c *CountingPlugin) BeforeModel(*core.RunContext, core.ModelCall) error {
	c.mu.Lock()
	c.counts.ModelCalls++
	c.mu.Unlock()

	return nil
}

func (c *CountingPlugin) BeforeTool(_ *core.ToolContext, call core.FunctionCall) error {
	c.mu.Lock()
	c.counts.ToolCalls++
	c.counts.PerTool[call.Name]++
	c.mu.Unlock()

	return nil
}

func (c *CountingPlugin) OnEvent(_ *core.RunContext, ev core.Event) {
	if ev.IsPartial() {
		return
	}

	c.mu.Lock()
	c.counts.Events++
	c.mu.Unlock()
}
