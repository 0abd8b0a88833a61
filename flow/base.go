package flow

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/hupe1980/recallmesh/core"
	"github.com/hupe1980/recallmesh/internal/tracing"
	"github.com/hupe1980/recallmesh/model"
)

// BaseFlow is a single-agent flow: request processors build the request, the
// model answers, requested tools run, and the loop repeats until the model
// produces a final response.
type BaseFlow struct {
	agent              FlowAgent
	executor           FunctionExecutor
	requestProcessors  []RequestProcessor
	responseProcessors []ResponseProcessor
}

// NewBaseFlow creates a flow without processors using the default parallel
// function executor.
func NewBaseFlow(agent FlowAgent) *BaseFlow {
	return &BaseFlow{
		agent:    agent,
		executor: NewParallelFunctionExecutor(FunctionExecutorConfig{}),
	}
}

// AddRequestProcessor appends a request processor; registration order is
// execution order.
func (f *BaseFlow) AddRequestProcessor(processor RequestProcessor) {
	f.requestProcessors = append(f.requestProcessors, processor)
}

// AddResponseProcessor appends a response processor executed for every model chunk.
func (f *BaseFlow) AddResponseProcessor(processor ResponseProcessor) {
	f.responseProcessors = append(f.responseProcessors, processor)
}

// SetFunctionExecutor replaces the executor used for tool calls.
func (f *BaseFlow) SetFunctionExecutor(executor FunctionExecutor) { f.executor = executor }

// Execute launches the flow asynchronously.
func (f *BaseFlow) Execute(runCtx *core.RunContext) (<-chan core.Event, <-chan error) {
	out := make(chan core.Event)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		for {
			last, err := f.runOnce(runCtx, out)
			if err != nil {
				errCh <- err
				return
			}

			if last == nil || !needsFollowUp(*last) {
				return
			}
		}
	}()

	return out, errCh
}

// needsFollowUp reports whether tool results must be handed back to the model.
func needsFollowUp(ev core.Event) bool {
	if len(ev.GetFunctionResponses()) == 0 {
		return false
	}

	a := ev.Actions

	return a.TransferToAgent == nil &&
		(a.Escalate == nil || !*a.Escalate) &&
		(a.SkipSummarization == nil || !*a.SkipSummarization)
}

// runOnce performs one model call plus the tool calls it requests and
// returns the last emitted event.
func (f *BaseFlow) runOnce(runCtx *core.RunContext, out chan<- core.Event) (*core.Event, error) {
	if runCtx.SessionStore != nil {
		if err := runCtx.RefreshSession(); err != nil {
			runCtx.LogWarn("flow.session.refresh_failed", "agent", f.agent.GetName(), "error", err)
		}
	}

	req := NewRequest(f.agent.GetTools())

	for _, p := range f.requestProcessors {
		if err := p.ProcessRequest(runCtx, req, f.agent); err != nil {
			return nil, fmt.Errorf("request processor %s: %w", p.Name(), err)
		}
	}

	req.Stream = f.agent.IsStreamingEnabled()

	llm := f.agent.GetLLM()
	if llm == nil {
		return nil, fmt.Errorf("agent %s has no model", f.agent.GetName())
	}

	if err := runCtx.Limiter.Acquire(); err != nil {
		return nil, err
	}

	call := core.ModelCall{
		Agent:    f.agent.GetName(),
		Model:    llm.Info().Name,
		Messages: len(req.Contents),
		Tools:    len(req.Tools),
	}

	if err := runCtx.Observer().BeforeModel(runCtx, call); err != nil {
		return nil, fmt.Errorf("before model: %w", err)
	}

	runCtx.LogDebug("flow.model.request", "agent", call.Agent, "model", call.Model, "messages", call.Messages, "tools", call.Tools)

	spanCtx, span := tracing.StartSpan(runCtx.Context, "model.generate",
		attribute.String("agent", call.Agent),
		attribute.String("model", call.Model),
		attribute.Int("messages", call.Messages),
	)

	final, err := f.generate(spanCtx, runCtx, llm, req, out)

	tracing.End(span, err)

	runCtx.Observer().AfterModel(runCtx, call, err)

	if err != nil {
		return nil, err
	}

	if final == nil {
		return nil, nil
	}

	calls := final.GetFunctionCalls()
	if len(calls) == 0 {
		return final, nil
	}

	respEv := f.executor.Execute(runCtx, f.agent.GetName(), req, calls)

	if err := f.send(runCtx, out, respEv); err != nil {
		return nil, err
	}

	return &respEv, nil
}

// generate streams the model response into events and returns the final
// (non-partial) one.
func (f *BaseFlow) generate(ctx context.Context, runCtx *core.RunContext, llm model.Model, req *Request, out chan<- core.Event) (*core.Event, error) {
	respCh, errCh := llm.Generate(ctx, req.Request)

	var final *core.Event

	for resp := range respCh {
		for _, p := range f.responseProcessors {
			if err := p.ProcessResponse(runCtx, &resp, f.agent); err != nil {
				drain(respCh)
				return nil, fmt.Errorf("response processor %s: %w", p.Name(), err)
			}
		}

		ev := f.newModelEvent(runCtx, resp)

		if err := f.send(runCtx, out, ev); err != nil {
			drain(respCh)
			return nil, err
		}

		if !ev.IsPartial() {
			final = &ev
		}
	}

	if err, ok := <-errCh; ok && err != nil {
		return nil, fmt.Errorf("model %s: %w", llm.Info().Name, err)
	}

	return final, nil
}

func (f *BaseFlow) newModelEvent(runCtx *core.RunContext, resp model.Response) core.Event {
	ev := core.NewEvent(runCtx.RunID, f.agent.GetName())
	ev.Branch = runCtx.Branch

	content := resp.Content
	if content.Role == "" {
		content.Role = "assistant"
	}

	ev.Content = &content

	partial := resp.Partial
	ev.Partial = &partial

	if !partial && len(ev.GetFunctionCalls()) == 0 {
		complete := true
		ev.TurnComplete = &complete
	}

	return ev
}

// send hands ev to the agent and, for non-partial events, waits until the
// runner has persisted it. Without a session store the event is recorded on
// the local session snapshot instead so later model calls see it.
func (f *BaseFlow) send(runCtx *core.RunContext, out chan<- core.Event, ev core.Event) error {
	select {
	case <-runCtx.Done():
		return runCtx.Err()
	case out <- ev:
	}

	if ev.IsPartial() {
		return nil
	}

	if runCtx.SessionStore == nil && runCtx.Session != nil {
		runCtx.Session.AddEvent(ev)
	}

	return runCtx.WaitForResume()
}

func drain[T any](ch <-chan T) {
	go func() {
		for range ch {
		}
	}()
}
