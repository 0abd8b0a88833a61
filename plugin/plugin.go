// Package plugin provides lifecycle observers for runs: a Manager that fans
// hooks out in registration order, plus logging, counting, Prometheus and
// automatic memory ingestion plugins.
package plugin

import (
	"fmt"
	"sync"

	"github.com/hupe1980/recallmesh/core"
)

// Plugin is a named core.Observer. Before* hooks may veto the operation by
// returning an error.
type Plugin interface {
	core.Observer
	Name() string
}

// Base implements every hook as a no-op. Embed it and override the hooks a
// plugin needs.
type Base struct {
	core.NopObserver

	name string
}

// NewBase returns a Base reporting name.
func NewBase(name string) Base { return Base{name: name} }

// Name implements Plugin.
func (b Base) Name() string { return b.name }

type named struct {
	core.Observer

	name string
}

func (n named) Name() string { return n.name }

// Wrap turns an observer into a Plugin. Observers that already are plugins
// are returned unchanged.
func Wrap(name string, o core.Observer) Plugin {
	if p, ok := o.(Plugin); ok {
		return p
	}

	return named{Observer: o, name: name}
}

// Manager dispatches hooks to its plugins in registration order. A Before*
// hook error stops the dispatch and aborts the operation; After* hooks and
// OnEvent always reach every plugin.
type Manager struct {
	mu      sync.RWMutex
	plugins []Plugin
}

// NewManager creates a manager holding plugins.
func NewManager(plugins ...Plugin) *Manager {
	m := &Manager{}
	for _, p := range plugins {
		m.Register(p)
	}

	return m
}

// Register appends p. Nil plugins are ignored.
func (m *Manager) Register(p Plugin) {
	if p == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.plugins = append(m.plugins, p)
}

// Plugins returns the registered plugins in order.
func (m *Manager) Plugins() []Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]Plugin(nil), m.plugins...)
}

// Get returns the plugin registered under name.
func (m *Manager) Get(name string) (Plugin, bool) {
	for _, p := range m.Plugins() {
		if p.Name() == name {
			return p, true
		}
	}

	return nil, false
}

func (m *Manager) before(fn func(p Plugin) error) error {
	for _, p := range m.Plugins() {
		if err := fn(p); err != nil {
			return fmt.Errorf("plugin %s: %w", p.Name(), err)
		}
	}

	return nil
}

func (m *Manager) after(fn func(p Plugin)) {
	for _, p := range m.Plugins() {
		fn(p)
	}
}

// BeforeRun implements core.Observer.
func (m *Manager) BeforeRun(runCtx *core.RunContext) error {
	return m.before(func(p Plugin) error { return p.BeforeRun(runCtx) })
}

// AfterRun implements core.Observer.
func (m *Manager) AfterRun(runCtx *core.RunContext, runErr error) {
	m.after(func(p Plugin) { p.AfterRun(runCtx, runErr) })
}

// BeforeAgent implements core.Observer.
func (m *Manager) BeforeAgent(runCtx *core.RunContext, agent core.AgentInfo) error {
	return m.before(func(p Plugin) error { return p.BeforeAgent(runCtx, agent) })
}

// AfterAgent implements core.Observer.
func (m *Manager) AfterAgent(runCtx *core.RunContext, agent core.AgentInfo, err error) {
	m.after(func(p Plugin) { p.AfterAgent(runCtx, agent, err) })
}

// BeforeModel implements core.Observer.
func (m *Manager) BeforeModel(runCtx *core.RunContext, call core.ModelCall) error {
	return m.before(func(p Plugin) error { return p.BeforeModel(runCtx, call) })
}

// AfterModel implements core.Observer.
func (m *Manager) AfterModel(runCtx *core.RunContext, call core.ModelCall, err error) {
	m.after(func(p Plugin) { p.AfterModel(runCtx, call, err) })
}

// BeforeTool implements core.Observer.
func (m *Manager) BeforeTool(toolCtx *core.ToolContext, call core.FunctionCall) error {
	return m.before(func(p Plugin) error { return p.BeforeTool(toolCtx, call) })
}

// AfterTool implements core.Observer.
func (m *Manager) AfterTool(toolCtx *core.ToolContext, call core.FunctionCall, result any, err error) {
	m.after(func(p Plugin) { p.AfterTool(toolCtx, call, result, err) })
}

// OnEvent implements core.Observer.
func (m *Manager) OnEvent(runCtx *core.RunContext, ev core.Event) {
	m.after(func(p Plugin) { p.OnEvent(runCtx, ev) })
}
