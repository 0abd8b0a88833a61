package flow

import (
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/recallmesh/core"
)

// MemoryPreloadProcessor searches memory with the latest user message and
// adds matching records to the system instruction before generation.
type MemoryPreloadProcessor struct {
	limit int
}

// NewMemoryPreloadProcessor creates the preload processor. limit <= 0 uses
// the memory store default.
func NewMemoryPreloadProcessor(limit int) *MemoryPreloadProcessor {
	return &MemoryPreloadProcessor{limit: limit}
}

func (p *MemoryPreloadProcessor) Name() string { return "memory_preload" }

func (p *MemoryPreloadProcessor) ProcessRequest(runCtx *core.RunContext, req *Request, agent FlowAgent) error {
	query := latestUserText(runCtx)
	if query == "" {
		return nil
	}

	records, err := runCtx.SearchMemory(query, p.limit)
	if err != nil {
		return fmt.Errorf("search memory: %w", err)
	}

	runCtx.LogDebug("flow.memory.preload", "agent", agent.GetName(), "hits", len(records))

	if len(records) == 0 {
		return nil
	}

	var b strings.Builder

	b.WriteString("The following content is from your previous conversations with the user. It may be useful for answering the current query.\n")
	b.WriteString("<PAST_CONVERSATIONS>\n")

	for _, r := range records {
		fmt.Fprintf(&b, "Time: %s\n%s: %s\n", r.Timestamp.Format(time.RFC3339), r.Author, r.Content)
	}

	b.WriteString("</PAST_CONVERSATIONS>")

	req.AppendInstructions(b.String())

	return nil
}

func latestUserText(runCtx *core.RunContext) string {
	if text, ok := runCtx.UserContent.Text(); ok && text != "" {
		return text
	}

	if runCtx.Session == nil {
		return ""
	}

	history := runCtx.Session.GetConversationHistory()
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Author != "user" {
			continue
		}

		if text, ok := history[i].Text(); ok && text != "" {
			return text
		}
	}

	return ""
}
