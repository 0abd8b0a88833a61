package cli

import (
	"github.com/spf13/cobra"

	"github.com/hupe1980/recallmesh/agent"
	"github.com/hupe1980/recallmesh/tool"
)

var chatSession string

var defaultChatQueries = []string{
	"Hi, I am Sam! What is the capital of United States?",
	"Hello! What is my name?",
}

var chatCmd = &cobra.Command{
	Use:   "chat [query...]",
	Short: "Talk to an assistant in a persistent session",
	Long: `Send queries to an assistant in one session. The assistant can store the
user's name and country in user-scoped state and read them back, so they
survive across sessions of the same user.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatSession, "session", "default", "session id")
	rootCmd.AddCommand(chatCmd)
}

func userInfoFields() []tool.StateField {
	return []tool.StateField{
		{Arg: "user_name", Key: "user:name", Description: "The user's name", Missing: "Username not found"},
		{Arg: "country", Key: "user:country", Description: "The user's country", Missing: "Country not found"},
	}
}

func newChatAgent(a *app) *agent.ModelAgent {
	return agent.NewModelAgent("text_chat_bot", a.llm, func(o *agent.ModelAgentOptions) {
		o.Description = "A text chatbot with persistent user info"
		o.Instruction = agent.NewInstructionFromText(`You are a helpful assistant.
Use save_userinfo to remember the user's name and country when they share them.
Use retrieve_userinfo to look them up when asked.`)
		o.Tools = []tool.Tool{
			tool.NewStateTool("save_userinfo", "Records the user's name and country in session state.", userInfoFields()...),
			tool.NewStateReadTool("retrieve_userinfo", "Retrieves the user's name and country from session state.", userInfoFields()...),
		}
	})
}

func runChat(cmd *cobra.Command, args []string) error {
	queries := args
	if len(queries) == 0 {
		queries = defaultChatQueries
	}

	return withApp(cmd.Context(), cmd.OutOrStdout(), func(a *app) error {
		orch := a.orchestrator(a.runner(newChatAgent(a)))

		_, err := orch.RunSession(cmd.Context(), chatSession, queries...)

		return err
	})
}
