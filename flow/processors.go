package flow

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/hupe1980/recallmesh/core"
	"github.com/hupe1980/recallmesh/internal/util"
	"github.com/hupe1980/recallmesh/tool"
)

// InstructionsProcessor resolves the agent instruction and renders {key}
// placeholders from session state.
type InstructionsProcessor struct{}

// NewInstructionsProcessor creates a new instructions processor.
func NewInstructionsProcessor() *InstructionsProcessor { return &InstructionsProcessor{} }

func (p *InstructionsProcessor) Name() string { return "instructions" }

func (p *InstructionsProcessor) ProcessRequest(runCtx *core.RunContext, req *Request, agent FlowAgent) error {
	text, err := agent.ResolveInstructions(runCtx)
	if err != nil {
		return fmt.Errorf("resolve instruction: %w", err)
	}

	rendered, err := util.RenderInstruction(text, runCtx.State())
	if err != nil {
		return fmt.Errorf("render instruction: %w", err)
	}

	runCtx.LogDebug("flow.instruction.resolved", "agent", agent.GetName(), "length", len(rendered))

	req.AppendInstructions(rendered)

	return nil
}

// ContentsProcessor converts session history into model contents.
//
// Only events on the current branch or one of its ancestors are included, so
// parallel siblings do not see each other's turns. Spans covered by a
// compaction event are replaced by its summary.
type ContentsProcessor struct{}

// NewContentsProcessor creates a new contents processor.
func NewContentsProcessor() *ContentsProcessor { return &ContentsProcessor{} }

func (p *ContentsProcessor) Name() string { return "contents" }

func (p *ContentsProcessor) ProcessRequest(runCtx *core.RunContext, req *Request, agent FlowAgent) error {
	var history []core.Event
	if runCtx.Session != nil {
		history = runCtx.Session.GetConversationHistory()
	}

	history = compactHistory(filterBranch(history, runCtx.Branch))

	if limit := agent.MaxHistoryMessages(); limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}

	contents := make([]core.Content, 0, len(history)+1)
	seenUser := false
	runStart := -1

	for _, ev := range history {
		if ev.Actions.Compaction != nil {
			summary := ev.Actions.Compaction.Summary
			if summary.Role == "" {
				summary.Role = "assistant"
			}

			contents = append(contents, summary)

			continue
		}

		if ev.Content == nil || len(ev.Content.Parts) == 0 {
			continue
		}

		if ev.InvocationID == runCtx.RunID {
			if runStart < 0 {
				runStart = len(contents)
			}

			if ev.Author == "user" {
				seenUser = true
			}
		}

		contents = append(contents, *ev.Content)
	}

	// Without a runner the current message is not part of the history; it
	// goes in front of whatever this run produced so far.
	if !seenUser && len(runCtx.UserContent.Parts) > 0 {
		uc := runCtx.UserContent
		if uc.Role == "" {
			uc.Role = "user"
		}

		if runStart < 0 {
			runStart = len(contents)
		}

		contents = slices.Insert(contents, runStart, uc)
	}

	req.Contents = append(req.Contents, contents...)

	return nil
}

func filterBranch(events []core.Event, branch string) []core.Event {
	if branch == "" {
		return events
	}

	out := make([]core.Event, 0, len(events))

	for _, ev := range events {
		if ev.Branch == "" || ev.Branch == branch || strings.HasPrefix(branch, ev.Branch+".") {
			out = append(out, ev)
		}
	}

	return out
}

// compactHistory drops every event whose timestamp falls inside a compacted
// span. A compaction event is never covered by its own span, so an older
// compaction is dropped only when a newer one covers it.
func compactHistory(events []core.Event) []core.Event {
	type span struct {
		owner      string
		start, end time.Time
	}

	var spans []span

	for _, ev := range events {
		if c := ev.Actions.Compaction; c != nil {
			spans = append(spans, span{owner: ev.ID, start: c.StartTime, end: c.EndTime})
		}
	}

	if len(spans) == 0 {
		return events
	}

	out := make([]core.Event, 0, len(events))

	for _, ev := range events {
		covered := false

		for _, s := range spans {
			if s.owner != ev.ID && !ev.Timestamp.Before(s.start) && !ev.Timestamp.After(s.end) {
				covered = true
				break
			}
		}

		if !covered {
			out = append(out, ev)
		}
	}

	return out
}

// TransferToolInjector exposes transfer_to_agent to agents that may hand
// off to sub-agents and lists the available targets in the instruction.
type TransferToolInjector struct{}

// NewTransferToolInjector creates the transfer tool injector.
func NewTransferToolInjector() *TransferToolInjector { return &TransferToolInjector{} }

func (p *TransferToolInjector) Name() string { return "transfer_tool_injector" }

func (p *TransferToolInjector) ProcessRequest(_ *core.RunContext, req *Request, agent FlowAgent) error {
	subAgents := agent.GetSubAgents()
	if !agent.IsTransferEnabled() || len(subAgents) == 0 {
		return nil
	}

	req.AddTool(tool.NewTransferToAgentTool())

	var b strings.Builder

	b.WriteString("You can transfer the conversation to one of these agents with the transfer_to_agent tool when it is better suited to answer:\n")

	for _, sa := range subAgents {
		fmt.Fprintf(&b, "- %s: %s\n", sa.Name(), sa.Description())
	}

	req.AppendInstructions(strings.TrimRight(b.String(), "\n"))

	return nil
}
