package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/recallmesh/agent"
	"github.com/hupe1980/recallmesh/core"
)

var compactionSession string

var defaultCompactionQueries = []string{
	"What is the latest news about AI in healthcare?",
	"Are there any new developments in drug discovery?",
	"Tell me more about the second development you found.",
	"Who are the main companies involved in that?",
}

var compactionCmd = &cobra.Command{
	Use:   "compaction [query...]",
	Short: "Run several turns with event compaction and show the summaries",
	Long: `Run turns in one session with event compaction enabled, then print every
compaction event stored in the session. Without --compaction-interval the
interval is 3 with an overlap of 1.`,
	RunE: runCompaction,
}

func init() {
	compactionCmd.Flags().StringVar(&compactionSession, "session", "compaction_demo", "session id")
	rootCmd.AddCommand(compactionCmd)
}

func runCompaction(cmd *cobra.Command, args []string) error {
	queries := args
	if len(queries) == 0 {
		queries = defaultCompactionQueries
	}

	if cfg.Compaction.Interval == 0 {
		cfg.Compaction.Interval = 3
		cfg.Compaction.Overlap = 1
	}

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	return withApp(ctx, out, func(a *app) error {
		root := agent.NewModelAgent("research_agent", a.llm, func(o *agent.ModelAgentOptions) {
			o.Instruction = agent.NewInstructionFromText("You are a helpful research assistant. Answer concisely.")
		})

		orch := a.orchestrator(a.runner(root))

		res, err := orch.RunSession(ctx, compactionSession, queries...)
		if err != nil {
			return err
		}

		sess, err := a.sessions.Get(ctx, res.Session)
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}

		fmt.Fprintln(out, "\n--- Searching for Compaction Summary Event ---")

		found := 0

		for _, ev := range sess.GetEvents() {
			for _, p := range ev.Payloads() {
				core.VisitPayload(p, core.PayloadVisitor{
					Compaction: func(c core.CompactionPayload) {
						found++

						summary, _ := c.Compaction.Summary.Text()
						fmt.Fprintf(out, "\nCompaction %d (%s - %s):\n%s\n",
							found, c.Compaction.StartTime.Format("15:04:05"), c.Compaction.EndTime.Format("15:04:05"), summary)
					},
				})
			}
		}

		if found == 0 {
			fmt.Fprintln(out, "\nNo compaction event found. Try more turns or a smaller --compaction-interval.")
		}

		return nil
	})
}
