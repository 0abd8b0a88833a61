package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/recallmesh/agent"
	"github.com/hupe1980/recallmesh/plugin"
	"github.com/hupe1980/recallmesh/tool"
)

var (
	memoryMode    string
	memoryFact    string
	memoryRecall  string
	memorySession string
	recallSession string
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Store a fact in one session and recall it from another",
	Long: `Tell the assistant a fact in one session, ingest that session into the
memory store and ask about the fact from a fresh session.

Modes:
  auto     sessions are ingested after every run; memories are preloaded
  tool     the session is ingested explicitly; the model calls load_memory
  preload  the session is ingested explicitly; memories are preloaded`,
	RunE: runMemory,
}

func init() {
	flags := memoryCmd.Flags()
	flags.StringVar(&memoryMode, "mode", "auto", "memory strategy (auto, tool, preload)")
	flags.StringVar(&memoryFact, "fact", "My favorite color is blue-green. Can you write a Haiku about it?", "message stored in the first session")
	flags.StringVar(&memoryRecall, "recall", "What is my favorite color?", "question asked in the second session")
	flags.StringVar(&memorySession, "session", "conversation-01", "session receiving the fact")
	flags.StringVar(&recallSession, "recall-session", "conversation-02", "session asking the question")

	rootCmd.AddCommand(memoryCmd)
}

func newMemoryAgent(a *app, mode string) (*agent.ModelAgent, error) {
	switch mode {
	case "auto", "preload":
		return agent.NewModelAgent("memory_agent", a.llm, func(o *agent.ModelAgentOptions) {
			o.Instruction = agent.NewInstructionFromText("Answer user questions in simple words. Relevant memories of past conversations are provided when available.")
			o.PreloadMemory = 5
		}), nil
	case "tool":
		return agent.NewModelAgent("memory_agent", a.llm, func(o *agent.ModelAgentOptions) {
			o.Instruction = agent.NewInstructionFromText("Answer user questions in simple words. Use load_memory if you need to recall past conversations.")
			o.Tools = []tool.Tool{tool.NewLoadMemoryTool(5)}
		}), nil
	default:
		return nil, fmt.Errorf("unknown memory mode %q (want auto, tool or preload)", mode)
	}
}

func runMemory(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	return withApp(ctx, cmd.OutOrStdout(), func(a *app) error {
		root, err := newMemoryAgent(a, memoryMode)
		if err != nil {
			return err
		}

		var observers []plugin.Plugin
		if memoryMode == "auto" {
			observers = append(observers, plugin.NewAutoMemory(a.memory))
		}

		orch := a.orchestrator(a.runner(root), observers...)

		res, err := orch.RunSession(ctx, memorySession, memoryFact)
		if err != nil {
			return err
		}

		if memoryMode != "auto" {
			sess, err := a.sessions.Get(ctx, res.Session)
			if err != nil {
				return fmt.Errorf("load session: %w", err)
			}

			added, err := a.memory.AddSession(ctx, sess)
			if err != nil {
				return fmt.Errorf("ingest session: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "\nIngested %d memories from %s\n", added, res.Session.ID)
		}

		_, err = orch.RunSession(ctx, recallSession, memoryRecall)

		return err
	})
}
