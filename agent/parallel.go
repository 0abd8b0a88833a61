package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/recallmesh/core"
)

// ParallelAgent fans out: every child runs concurrently on its own clone of
// the run context with branch "<parent>.<child>". Children never write shared
// state directly; their deltas ride on emitted events that the runner applies
// one at a time.
type ParallelAgent struct {
	BaseAgent
}

// ParallelAgentOptions configures a ParallelAgent.
type ParallelAgentOptions struct {
	Description string
}

// NewParallelAgent creates a fan-out coordinator. It panics if the children
// cannot be adopted (duplicate names or foreign parents).
func NewParallelAgent(name string, children []core.Agent, optFns ...func(o *ParallelAgentOptions)) *ParallelAgent {
	opts := ParallelAgentOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	p := &ParallelAgent{}
	p.Init(p, name, opts.Description)

	if err := p.SetSubAgents(children...); err != nil {
		panic(err)
	}

	return p
}

// AgentType implements core.Typed.
func (p *ParallelAgent) AgentType() string { return "parallel" }

// OutputKeys lists the state keys the children write their results to.
func (p *ParallelAgent) OutputKeys() []string {
	var keys []string

	for _, child := range p.SubAgents() {
		if o, ok := child.(interface{ OutputKey() string }); ok && o.OutputKey() != "" {
			keys = append(keys, o.OutputKey())
		}
	}

	return keys
}

// Run starts all children and waits for every one of them, even after a
// failure. The returned error joins the failures of all branches.
func (p *ParallelAgent) Run(runCtx *core.RunContext) error {
	children := p.SubAgents()

	var (
		wg   sync.WaitGroup
		emit sync.Mutex
		errs = make([]error, len(children))
	)

	for i, child := range children {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if err := p.runBranch(runCtx, child, &emit); err != nil {
				errs[i] = fmt.Errorf("branch %s: %w", child.Name(), err)
			}
		}()
	}

	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		runCtx.LogWarn("agent.parallel.failed", "agent", p.Name(), "error", err)
		return err
	}

	return nil
}

// runBranch runs child behind its own emit/resume pair. Its events are
// relayed to the parent one at a time; a complete event is acknowledged to
// the child only after the parent has acknowledged it.
func (p *ParallelAgent) runBranch(runCtx *core.RunContext, child core.Agent, emitMu *sync.Mutex) error {
	ctx, cancel := context.WithCancel(runCtx.Context)
	defer cancel()

	events := make(chan core.Event)
	resume := make(chan struct{}, 1)

	branchCtx := runCtx.WithBranch(buildBranchPath(runCtx.Branch, p.Name()+"."+child.Name()))
	branchCtx.Context = ctx
	branchCtx.Emit = events
	branchCtx.Resume = resume

	done := make(chan error, 1)

	go func() {
		defer close(events)

		done <- RunChild(branchCtx, child)
	}()

	var relayErr error

	for ev := range events {
		if relayErr != nil {
			continue
		}

		if err := relay(runCtx, emitMu, ev); err != nil {
			relayErr = err
			cancel()

			continue
		}

		if !ev.IsPartial() {
			select {
			case resume <- struct{}{}:
			default:
			}
		}
	}

	if err := <-done; err != nil {
		return err
	}

	return relayErr
}

func relay(runCtx *core.RunContext, mu *sync.Mutex, ev core.Event) error {
	mu.Lock()
	defer mu.Unlock()

	select {
	case <-runCtx.Done():
		return runCtx.Err()
	case runCtx.Emit <- ev:
	}

	if ev.IsPartial() {
		return nil
	}

	return runCtx.WaitForResume()
}
