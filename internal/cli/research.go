package cli

import (
	"github.com/spf13/cobra"

	"github.com/hupe1980/recallmesh/agent"
	"github.com/hupe1980/recallmesh/core"
	"github.com/hupe1980/recallmesh/model"
)

var (
	researchSession     string
	researchPlaceholder bool
)

const aggregatorInstruction = `Combine these three research findings into a single executive summary:

**Technology Trends:**
{tech_research}

**Health Breakthroughs:**
{health_research}

**Finance Innovations:**
{finance_research}

Your summary should highlight common themes, surprising connections, and the most important key takeaways from all three reports. The final summary should be around 200 words.`

var researchCmd = &cobra.Command{
	Use:   "research [query]",
	Short: "Run three researchers in parallel and aggregate their reports",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runResearch,
}

func init() {
	researchCmd.Flags().StringVar(&researchSession, "session", "research", "session id")
	researchCmd.Flags().BoolVar(&researchPlaceholder, "placeholder", false, "aggregate even if a researcher failed, using placeholder text")
	rootCmd.AddCommand(researchCmd)
}

func researcher(llm model.Model, name, outputKey, instruction string) *agent.ModelAgent {
	return agent.NewModelAgent(name, llm, func(o *agent.ModelAgentOptions) {
		o.Instruction = agent.NewInstructionFromText(instruction)
		o.OutputKey = outputKey
	})
}

// newResearchSystem builds the fan-out/fan-in briefing pipeline.
func newResearchSystem(llm model.Model, policy agent.SlotPolicy) *agent.FanOutFanIn {
	team := agent.NewParallelAgent("ParallelResearchTeam", []core.Agent{
		researcher(llm, "TechResearcher", "tech_research",
			"Research the latest AI/ML trends. Include 3 key developments, the main companies involved, and the potential impact. Keep the report very concise (100 words)."),
		researcher(llm, "HealthResearcher", "health_research",
			"Research recent medical breakthroughs. Include 3 significant advances, their practical applications, and estimated timelines. Keep the report concise (100 words)."),
		researcher(llm, "FinanceResearcher", "finance_research",
			"Research current fintech trends. Include 3 key trends, their market implications, and the future outlook. Keep the report concise (100 words)."),
	})

	aggregator := researcher(llm, "AggregatorAgent", "executive_summary", aggregatorInstruction)

	return agent.NewFanOutFanIn("ResearchSystem", team, aggregator, func(o *agent.FanOutFanInOptions) {
		o.Policy = policy
	})
}

func runResearch(cmd *cobra.Command, args []string) error {
	query := "Run the daily executive briefing on Tech, Health, and Finance"
	if len(args) == 1 {
		query = args[0]
	}

	policy := agent.FailFast
	if researchPlaceholder {
		policy = agent.Placeholder
	}

	return withApp(cmd.Context(), cmd.OutOrStdout(), func(a *app) error {
		orch := a.orchestrator(a.runner(newResearchSystem(a.llm, policy)))

		_, err := orch.RunSession(cmd.Context(), researchSession, query)

		return err
	})
}
