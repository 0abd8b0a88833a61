package model

import (
	"context"
	"fmt"
	"sync"
)

// Step is one scripted model turn: either a response or an error.
type Step struct {
	Response Response
	Err      error
}

// Reply returns a step producing resp.
func Reply(resp Response) Step { return Step{Response: resp} }

// Fail returns a step producing err.
func Fail(err error) Step { return Step{Err: err} }

// ScriptedModel replays steps in order, one per Generate call, and records
// every request. It is safe for concurrent use.
type ScriptedModel struct {
	name string

	mu       sync.Mutex
	steps    []Step
	requests []Request
}

var _ Model = (*ScriptedModel)(nil)

// NewScriptedModel returns a model answering with steps in order. Calls
// beyond the script fail.
func NewScriptedModel(name string, steps ...Step) *ScriptedModel {
	return &ScriptedModel{name: name, steps: steps}
}

// Push appends steps to the script.
func (m *ScriptedModel) Push(steps ...Step) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.steps = append(m.steps, steps...)
}

// Requests returns a copy of the recorded requests.
func (m *ScriptedModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]Request(nil), m.requests...)
}

// Generate implements Model.
func (m *ScriptedModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)

	var (
		step Step
		ok   bool
	)

	if len(m.steps) > 0 {
		step, ok = m.steps[0], true
		m.steps = m.steps[1:]
	}
	m.mu.Unlock()

	if !ok {
		step = Fail(fmt.Errorf("scripted model %s: script exhausted after %d calls", m.name, len(m.Requests())-1))
	}

	return emit(ctx, step)
}

// Info implements Model.
func (m *ScriptedModel) Info() Info {
	return Info{Name: m.name, Provider: "scripted", SupportsTools: true}
}

// FuncModel answers each request with fn. Useful for echo style demos and
// tests that depend on the request content.
type FuncModel struct {
	name string
	fn   func(ctx context.Context, req Request) (Response, error)
}

var _ Model = (*FuncModel)(nil)

// NewFuncModel wraps fn as a Model.
func NewFuncModel(name string, fn func(ctx context.Context, req Request) (Response, error)) *FuncModel {
	return &FuncModel{name: name, fn: fn}
}

// Generate implements Model.
func (m *FuncModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	resp, err := m.fn(ctx, req)

	return emit(ctx, Step{Response: resp, Err: err})
}

// Info implements Model.
func (m *FuncModel) Info() Info {
	return Info{Name: m.name, Provider: "func", SupportsTools: true}
}

func emit(ctx context.Context, step Step) (<-chan Response, <-chan error) {
	out := make(chan Response, 1)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		if step.Err != nil {
			errCh <- step.Err
			return
		}

		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case out <- step.Response:
		}
	}()

	return out, errCh
}
