package agent

import (
	"fmt"

	"github.com/hupe1980/recallmesh/core"
)

// SequentialAgent runs its children one after another on the shared run
// context, so each child sees the state written by the ones before it.
type SequentialAgent struct {
	BaseAgent
}

// NewSequentialAgent creates a sequential coordinator. It panics if the
// children cannot be adopted (duplicate names or foreign parents).
func NewSequentialAgent(name string, children ...core.Agent) *SequentialAgent {
	s := &SequentialAgent{}
	s.Init(s, name, "")

	if err := s.SetSubAgents(children...); err != nil {
		panic(err)
	}

	return s
}

// AgentType implements core.Typed.
func (s *SequentialAgent) AgentType() string { return "sequential" }

// Run executes each child in order and stops at the first error. The
// session is reloaded before each child so it sees what earlier children
// persisted.
func (s *SequentialAgent) Run(runCtx *core.RunContext) error {
	for _, child := range s.SubAgents() {
		if runCtx.SessionStore != nil {
			if err := runCtx.RefreshSession(); err != nil {
				return fmt.Errorf("sequential %s: refresh session: %w", s.Name(), err)
			}
		}

		if err := RunChild(runCtx, child); err != nil {
			return fmt.Errorf("sequential %s: agent %s: %w", s.Name(), child.Name(), err)
		}

		if err := runCtx.Err(); err != nil {
			return err
		}
	}

	return nil
}
