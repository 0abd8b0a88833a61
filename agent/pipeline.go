package agent

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/recallmesh/core"
)

// SlotPolicy decides what a fan-out/fan-in pipeline does when a fan-out
// branch left its output slot empty.
type SlotPolicy int

const (
	// FailFast stops the pipeline before the aggregator.
	FailFast SlotPolicy = iota
	// Placeholder fills missing slots with PlaceholderText and continues.
	Placeholder
)

func (p SlotPolicy) String() string {
	switch p {
	case FailFast:
		return "fail_fast"
	case Placeholder:
		return "placeholder"
	default:
		return fmt.Sprintf("SlotPolicy(%d)", int(p))
	}
}

// DefaultPlaceholderText is formatted with the slot key.
const DefaultPlaceholderText = "[unavailable: %s]"

// MissingSlotsError reports the slots that were empty when the aggregator
// was due. Err joins the errors of the failed branches, if any.
type MissingSlotsError struct {
	Missing []string
	Err     error
}

func (e *MissingSlotsError) Error() string {
	msg := "missing slots: " + strings.Join(e.Missing, ", ")
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *MissingSlotsError) Unwrap() error { return e.Err }

// FanOutFanInOptions configures NewFanOutFanIn.
type FanOutFanInOptions struct {
	Description string
	Policy      SlotPolicy
	// PlaceholderText is a format string receiving the slot key.
	PlaceholderText string
	// Slots overrides the slots derived from the fan-out children's
	// output keys.
	Slots []string
}

// FanOutFanIn runs a parallel fan-out, a barrier and an aggregator in
// sequence. The barrier makes sure every slot is populated before the
// aggregator, whose instruction typically references the slots as {slot}.
type FanOutFanIn struct {
	BaseAgent

	fanOut     *ParallelAgent
	aggregator core.Agent
	slots      []string
	policy     SlotPolicy
	fill       string
}

// NewFanOutFanIn builds the pipeline. It panics if the agents cannot be
// adopted.
func NewFanOutFanIn(name string, fanOut *ParallelAgent, aggregator core.Agent, optFns ...func(o *FanOutFanInOptions)) *FanOutFanIn {
	opts := FanOutFanInOptions{
		Policy:          FailFast,
		PlaceholderText: DefaultPlaceholderText,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	slots := opts.Slots
	if len(slots) == 0 {
		slots = fanOut.OutputKeys()
	}

	f := &FanOutFanIn{
		fanOut:     fanOut,
		aggregator: aggregator,
		slots:      slots,
		policy:     opts.Policy,
		fill:       opts.PlaceholderText,
	}

	f.Init(f, name, opts.Description)

	if err := f.SetSubAgents(fanOut, aggregator); err != nil {
		panic(err)
	}

	return f
}

// AgentType implements core.Typed.
func (f *FanOutFanIn) AgentType() string { return "fan_out_fan_in" }

// Slots returns the state keys the barrier waits for.
func (f *FanOutFanIn) Slots() []string { return append([]string(nil), f.slots...) }

// Run executes fan-out, barrier and aggregator.
func (f *FanOutFanIn) Run(runCtx *core.RunContext) error {
	fanErr := RunChild(runCtx, f.fanOut)
	if fanErr != nil && errors.Is(fanErr, runCtx.Err()) {
		return fanErr
	}

	if err := f.barrier(runCtx, fanErr); err != nil {
		return err
	}

	if err := RunChild(runCtx, f.aggregator); err != nil {
		return fmt.Errorf("fan-in %s: aggregator %s: %w", f.Name(), f.aggregator.Name(), err)
	}

	return nil
}

// barrier reloads the session so every branch write is visible, then
// applies the slot policy.
func (f *FanOutFanIn) barrier(runCtx *core.RunContext, fanErr error) error {
	if runCtx.SessionStore != nil {
		if err := runCtx.RefreshSession(); err != nil {
			return fmt.Errorf("fan-in %s: refresh session: %w", f.Name(), err)
		}
	}

	missing := f.missingSlots(runCtx)

	if fanErr != nil {
		runCtx.LogWarn("agent.fanout.partial_failure", "agent", f.Name(), "missing", missing, "error", fanErr)
	}

	if len(missing) == 0 {
		runCtx.LogDebug("agent.barrier.ready", "agent", f.Name(), "slots", f.slots)
		return nil
	}

	if f.policy == FailFast {
		return &MissingSlotsError{Missing: missing, Err: fanErr}
	}

	delta := make(map[string]any, len(missing))
	for _, slot := range missing {
		delta[slot] = fmt.Sprintf(f.fill, slot)
	}

	ev := core.NewEvent(runCtx.RunID, f.Name())
	ev.Actions.StateDelta = delta

	if err := runCtx.EmitEvent(ev); err != nil {
		return err
	}

	if runCtx.SessionStore == nil {
		runCtx.Session.ApplyStateDelta(delta)
	}

	if err := runCtx.WaitForResume(); err != nil {
		return err
	}

	if runCtx.SessionStore != nil {
		if err := runCtx.RefreshSession(); err != nil {
			return fmt.Errorf("fan-in %s: refresh session: %w", f.Name(), err)
		}
	}

	runCtx.LogInfo("agent.barrier.placeholders", "agent", f.Name(), "slots", missing)

	return nil
}

func (f *FanOutFanIn) missingSlots(runCtx *core.RunContext) []string {
	var missing []string

	for _, slot := range f.slots {
		v, ok := runCtx.GetState(slot)
		if !ok || v == nil {
			missing = append(missing, slot)
			continue
		}

		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			missing = append(missing, slot)
		}
	}

	return missing
}
