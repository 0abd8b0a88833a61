package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/recallmesh/core"
	"github.com/hupe1980/recallmesh/model"
)

// CompactionConfig enables summarizing old invocations of a session.
// After every Interval invocations since the last compaction the runner
// summarizes them together with Overlap earlier invocations and appends the
// summary as a compaction event authored by "system".
type CompactionConfig struct {
	Interval   int
	Overlap    int
	Summarizer Summarizer
}

// Summarizer condenses a span of events into one content block.
type Summarizer interface {
	Summarize(ctx context.Context, events []core.Event) (core.Content, error)
}

// TextSummarizer joins the text of every event as "author: text" lines.
// Earlier compaction events contribute their summary text.
type TextSummarizer struct{}

// Summarize implements Summarizer.
func (TextSummarizer) Summarize(_ context.Context, events []core.Event) (core.Content, error) {
	lines := transcript(events)
	if len(lines) == 0 {
		return core.Content{}, errors.New("nothing to summarize")
	}

	return core.NewTextContent("assistant", strings.Join(lines, "\n")), nil
}

// DefaultSummaryInstruction is used by ModelSummarizer when Instruction is
// empty.
const DefaultSummaryInstruction = "Summarize the following conversation. Keep names, facts and decisions the user shared. Answer with the summary only."

// ModelSummarizer asks a model for the summary.
type ModelSummarizer struct {
	Model       model.Model
	Instruction string
}

// Summarize implements Summarizer.
func (s ModelSummarizer) Summarize(ctx context.Context, events []core.Event) (core.Content, error) {
	lines := transcript(events)
	if len(lines) == 0 {
		return core.Content{}, errors.New("nothing to summarize")
	}

	instruction := s.Instruction
	if instruction == "" {
		instruction = DefaultSummaryInstruction
	}

	respCh, errCh := s.Model.Generate(ctx, model.Request{
		Instructions: instruction,
		Contents:     []core.Content{core.NewTextContent("user", strings.Join(lines, "\n"))},
	})

	var b strings.Builder

	for resp := range respCh {
		if resp.Partial {
			continue
		}

		if text, ok := resp.Content.Text(); ok {
			b.WriteString(text)
		}
	}

	if err := <-errCh; err != nil {
		return core.Content{}, fmt.Errorf("summarize: %w", err)
	}

	summary := strings.TrimSpace(b.String())
	if summary == "" {
		return core.Content{}, errors.New("summarize: empty summary")
	}

	return core.NewTextContent("assistant", summary), nil
}

func transcript(events []core.Event) []string {
	lines := make([]string, 0, len(events))

	for _, ev := range events {
		if c := ev.Actions.Compaction; c != nil {
			if text, ok := c.Summary.Text(); ok && text != "" {
				lines = append(lines, "summary: "+text)
			}

			continue
		}

		if text, ok := ev.Text(); ok && strings.TrimSpace(text) != "" {
			lines = append(lines, ev.Author+": "+text)
		}
	}

	return lines
}

// window picks the events to summarize. It returns nil while fewer
// than Interval invocations followed the last compaction.
func (c *CompactionConfig) window(events []core.Event) []core.Event {
	var (
		lastEnd     time.Time
		invocations []string
		firstSeen   = map[string]time.Time{}
	)

	for _, ev := range events {
		if ev.IsPartial() {
			continue
		}

		if comp := ev.Actions.Compaction; comp != nil {
			if comp.EndTime.After(lastEnd) {
				lastEnd = comp.EndTime
			}

			continue
		}

		if _, ok := firstSeen[ev.InvocationID]; !ok {
			firstSeen[ev.InvocationID] = ev.Timestamp
			invocations = append(invocations, ev.InvocationID)
		}
	}

	fresh := 0

	for _, id := range invocations {
		if firstSeen[id].After(lastEnd) {
			fresh++
		}
	}

	if fresh < c.Interval {
		return nil
	}

	startIdx := len(invocations) - fresh - c.Overlap
	if startIdx < 0 {
		startIdx = 0
	}

	start := firstSeen[invocations[startIdx]]

	var window []core.Event

	for _, ev := range events {
		if ev.IsPartial() || ev.Timestamp.Before(start) {
			continue
		}

		window = append(window, ev)
	}

	return window
}

// compact appends a compaction event when the interval is reached. Failures
// are logged and never fail the run.
func (r *Runner) compact(rc *core.RunContext, out chan<- core.Event) {
	cfg := r.compaction
	if cfg.Interval <= 0 {
		return
	}

	sess, err := r.sessionStore.Get(rc.Context, rc.Key)
	if err != nil {
		rc.LogWarn("runner.compaction.load_failed", "session_id", rc.Key.ID, "error", err)
		return
	}

	window := cfg.window(sess.GetEvents())
	if len(window) == 0 {
		return
	}

	summarizer := cfg.Summarizer
	if summarizer == nil {
		summarizer = TextSummarizer{}
	}

	summary, err := summarizer.Summarize(rc.Context, window)
	if err != nil {
		rc.LogWarn("runner.compaction.summarize_failed", "session_id", rc.Key.ID, "error", err)
		return
	}

	ev := core.NewCompactionEvent(rc.RunID, core.EventCompaction{
		StartTime: window[0].Timestamp,
		EndTime:   window[len(window)-1].Timestamp,
		Summary:   summary,
	})

	if err := r.sessionStore.AppendEvent(rc.Context, rc.Key, ev); err != nil {
		rc.LogWarn("runner.compaction.persist_failed", "session_id", rc.Key.ID, "error", err)
		return
	}

	rc.Observer().OnEvent(rc, ev)

	select {
	case out <- ev:
	case <-rc.Done():
		return
	}

	rc.LogInfo("runner.compaction.complete", "session_id", rc.Key.ID, "run_id", rc.RunID, "events", len(window))
}
