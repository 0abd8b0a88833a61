// Package flow implements the request -> model -> tool loop that drives a
// model-backed agent. Flows are assembled from request processors
// (instructions, history, memory preload, transfer tool injection) and an
// executor that runs the tool calls a model asks for.
package flow

import (
	"slices"

	"github.com/hupe1980/recallmesh/core"
	"github.com/hupe1980/recallmesh/model"
	"github.com/hupe1980/recallmesh/tool"
)

// Flow runs one agent turn.
//
// Execute returns an event stream and a terminal error channel. Both are
// closed when the turn ends; the error channel carries at most one error.
// Non-partial events are persisted by the runner before the flow continues.
type Flow interface {
	Execute(runCtx *core.RunContext) (<-chan core.Event, <-chan error)
}

// FlowAgent is the view of an agent that flows need.
type FlowAgent interface {
	GetName() string
	GetLLM() model.Model
	ResolveInstructions(runCtx *core.RunContext) (string, error)
	GetTools() map[string]tool.Tool
	GetSubAgents() []core.Agent
	IsStreamingEnabled() bool
	IsTransferEnabled() bool
	// MaxHistoryMessages bounds the history sent to the model (0 = unlimited).
	MaxHistoryMessages() int
}

// Request is the model request under construction plus the tools that may
// answer its function calls.
type Request struct {
	model.Request

	tools map[string]tool.Tool
}

// NewRequest creates a request exposing tools.
func NewRequest(tools map[string]tool.Tool) *Request {
	req := &Request{tools: map[string]tool.Tool{}}

	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}

	slices.Sort(names)

	for _, name := range names {
		req.AddTool(tools[name])
	}

	return req
}

// AddTool registers t and declares it to the model. Adding a tool twice is a
// no-op.
func (r *Request) AddTool(t tool.Tool) {
	if _, ok := r.tools[t.Name()]; ok {
		return
	}

	r.tools[t.Name()] = t
	r.Tools = append(r.Tools, tool.Definition(t))
}

// Tool returns the registered tool called name.
func (r *Request) Tool(name string) (tool.Tool, bool) {
	t, ok := r.tools[name]

	return t, ok
}

// AppendInstructions adds text to the system instruction as a new paragraph.
func (r *Request) AppendInstructions(text string) {
	if text == "" {
		return
	}

	if r.Instructions != "" {
		r.Instructions += "\n\n"
	}

	r.Instructions += text
}

// RequestProcessor mutates the request before it is sent to the model.
type RequestProcessor interface {
	Name() string
	ProcessRequest(runCtx *core.RunContext, req *Request, agent FlowAgent) error
}

// ResponseProcessor inspects or rewrites each model response chunk before it
// becomes an event.
type ResponseProcessor interface {
	Name() string
	ProcessResponse(runCtx *core.RunContext, resp *model.Response, agent FlowAgent) error
}
