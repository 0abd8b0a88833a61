package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hupe1980/recallmesh/core"
	"github.com/hupe1980/recallmesh/tool"
)

// FunctionExecutor runs the function calls of one model response and returns
// a single tool-role event carrying one response part per call, in call
// order. Implementations must never panic and must honor cancellation.
type FunctionExecutor interface {
	Execute(runCtx *core.RunContext, author string, req *Request, calls []core.FunctionCall) core.Event
}

// FunctionExecutorConfig configures the default parallel executor.
type FunctionExecutorConfig struct {
	MaxParallel int           // <= 0 runs every call of a batch concurrently
	Timeout     time.Duration // per call; 0 disables
}

type parallelFunctionExecutor struct {
	cfg FunctionExecutorConfig
}

// NewParallelFunctionExecutor constructs the default executor.
func NewParallelFunctionExecutor(cfg FunctionExecutorConfig) FunctionExecutor {
	return &parallelFunctionExecutor{cfg: cfg}
}

type callOutcome struct {
	response core.FunctionResponse
	toolCtx  *core.ToolContext
}

func (e *parallelFunctionExecutor) Execute(runCtx *core.RunContext, author string, req *Request, calls []core.FunctionCall) core.Event {
	outcomes := make([]callOutcome, len(calls))

	maxPar := e.cfg.MaxParallel
	if maxPar <= 0 || maxPar > len(calls) {
		maxPar = len(calls)
	}

	start := time.Now()
	sem := make(chan struct{}, maxPar)

	var wg sync.WaitGroup

	for i, fc := range calls {
		wg.Add(1)

		sem <- struct{}{}

		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			outcomes[i] = e.executeOne(runCtx, author, req, fc)
		}()
	}

	wg.Wait()

	runCtx.LogDebug("flow.functions.batch.complete", "agent", author, "count", len(calls), "parallelism", maxPar, "duration_ms", time.Since(start).Milliseconds())

	return mergeResponses(runCtx, author, outcomes)
}

func (e *parallelFunctionExecutor) executeOne(runCtx *core.RunContext, author string, req *Request, fc core.FunctionCall) callOutcome {
	callCtx := runCtx

	if e.cfg.Timeout > 0 {
		ctx, cancel := context.WithTimeout(runCtx.Context, e.cfg.Timeout)
		defer cancel()

		callCtx = runCtx.Clone()
		callCtx.Context = ctx
	}

	toolCtx := core.NewToolContext(callCtx, fc.ID)
	observer := runCtx.Observer()

	start := time.Now()

	result, err := func() (result any, err error) {
		if err := observer.BeforeTool(toolCtx, fc); err != nil {
			return nil, fmt.Errorf("tool %s rejected: %w", fc.Name, err)
		}

		defer func() {
			if r := recover(); r != nil {
				runCtx.LogError("flow.function.panic", "agent", author, "function", fc.Name, "recover", r, "stack", string(debug.Stack()))
				err = &tool.ToolError{Tool: fc.Name, Message: fmt.Sprintf("panic: %v", r), Code: tool.CodeExecution}
			}

			observer.AfterTool(toolCtx, fc, result, err)
		}()

		return callTool(toolCtx, req, fc)
	}()

	runCtx.LogInfo("flow.function.executed", "agent", author, "function", fc.Name, "function_call_id", fc.ID, "duration_ms", time.Since(start).Milliseconds(), "error", err != nil)

	fr := core.FunctionResponse{ID: fc.ID, Name: fc.Name, Response: result}
	if err != nil {
		fr.Error = err.Error()
	}

	return callOutcome{response: fr, toolCtx: toolCtx}
}

func callTool(toolCtx *core.ToolContext, req *Request, fc core.FunctionCall) (any, error) {
	impl, ok := req.Tool(fc.Name)
	if !ok {
		return nil, &tool.ToolError{Tool: fc.Name, Message: "tool not found", Code: tool.CodeValidation}
	}

	args := map[string]any{}
	if fc.Arguments != "" {
		if err := json.Unmarshal([]byte(fc.Arguments), &args); err != nil {
			return nil, &tool.ToolError{Tool: fc.Name, Message: fmt.Sprintf("invalid arguments: %v", err), Code: tool.CodeValidation}
		}
	}

	return impl.Call(toolCtx, args)
}

// mergeResponses folds the outcomes into one event. Actions are applied in
// call order so a later call wins on conflicting state keys.
func mergeResponses(runCtx *core.RunContext, author string, outcomes []callOutcome) core.Event {
	ev := core.NewEvent(runCtx.RunID, author)
	ev.Branch = runCtx.Branch

	parts := make([]core.Part, 0, len(outcomes))
	for _, o := range outcomes {
		parts = append(parts, core.FunctionResponsePart{FunctionResponse: o.response})
		o.toolCtx.ApplyActions(&ev)
	}

	ev.Content = &core.Content{Role: "tool", Parts: parts}

	return ev
}
