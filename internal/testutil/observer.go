package testutil

import (
	"sync"

	"github.com/hupe1980/recallmesh/core"
)

// RecordingObserver records lifecycle hook invocations in order. Hook names
// are "before_run", "after_agent:<name>" and so on.
type RecordingObserver struct {
	core.NopObserver

	mu     sync.Mutex
	calls  []string
	events []core.Event
}

var _ core.Observer = (*RecordingObserver)(nil)

func (o *RecordingObserver) record(s string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.calls = append(o.calls, s)
}

// Calls returns a copy of the recorded hook names.
func (o *RecordingObserver) Calls() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	return append([]string(nil), o.calls...)
}

// Events returns the events passed to OnEvent.
func (o *RecordingObserver) Events() []core.Event {
	o.mu.Lock()
	defer o.mu.Unlock()

	return append([]core.Event(nil), o.events...)
}

func (o *RecordingObserver) BeforeRun(*core.RunContext) error { o.record("before_run"); return nil }

func (o *RecordingObserver) AfterRun(*core.RunContext, error) { o.record("after_run") }

func (o *RecordingObserver) BeforeAgent(_ *core.RunContext, a core.AgentInfo) error {
	o.record("before_agent:" + a.Name)

	return nil
}

func (o *RecordingObserver) AfterAgent(_ *core.RunContext, a core.AgentInfo, _ error) {
	o.record("after_agent:" + a.Name)
}

func (o *RecordingObserver) BeforeModel(_ *core.RunContext, c core.ModelCall) error {
	o.record("before_model:" + c.Agent)

	return nil
}

func (o *RecordingObserver) AfterModel(_ *core.RunContext, c core.ModelCall, _ error) {
	o.record("after_model:" + c.Agent)
}

func (o *RecordingObserver) BeforeTool(_ *core.ToolContext, call core.FunctionCall) error {
	o.record("before_tool:" + call.Name)

	return nil
}

func (o *RecordingObserver) AfterTool(_ *core.ToolContext, call core.FunctionCall, _ any, _ error) {
	o.record("after_tool:" + call.Name)
}

func (o *RecordingObserver) OnEvent(_ *core.RunContext, ev core.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.events = append(o.events, ev)
}
