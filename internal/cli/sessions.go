package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hupe1980/recallmesh/core"
)

var sessionsShowEvents bool

var sessionsCmd = &cobra.Command{
	Use:   "sessions [session-id...]",
	Short: "List the sessions of the configured user",
	Long: `List the sessions stored for the configured app and user. Only the sqlite
and redis backends keep sessions between invocations.`,
	RunE: runSessions,
}

func init() {
	sessionsCmd.Flags().BoolVar(&sessionsShowEvents, "events", false, "print the events of each session")
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	return withApp(ctx, out, func(a *app) error {
		keys := make([]core.SessionKey, 0, len(args))
		for _, id := range args {
			keys = append(keys, core.SessionKey{AppName: a.cfg.AppName, UserID: a.cfg.UserID, ID: id})
		}

		if len(keys) == 0 {
			var err error

			keys, err = a.sessions.List(ctx, a.cfg.AppName, a.cfg.UserID)
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
		}

		if len(keys) == 0 {
			fmt.Fprintf(out, "No sessions for %s/%s\n", a.cfg.AppName, a.cfg.UserID)
			return nil
		}

		for _, key := range keys {
			sess, err := a.sessions.Get(ctx, key)
			if err != nil {
				return fmt.Errorf("load session %s: %w", key.ID, err)
			}

			events := sess.GetEvents()
			fmt.Fprintf(out, "%s\tevents=%d\tupdated=%s\n", key.ID, len(events), sess.Updated.Format("2006-01-02 15:04:05"))

			if sessionsShowEvents {
				printEvents(out, events)
			}
		}

		return nil
	})
}

func printEvents(w io.Writer, events []core.Event) {
	for _, ev := range events {
		for _, p := range ev.Payloads() {
			core.VisitPayload(p, core.PayloadVisitor{
				Text: func(t core.TextPayload) {
					fmt.Fprintf(w, "  %s > %s\n", ev.Author, t.Text)
				},
				FunctionCall: func(c core.FunctionCallPayload) {
					fmt.Fprintf(w, "  %s > call %s(%s)\n", ev.Author, c.Call.Name, c.Call.Arguments)
				},
				FunctionResponse: func(r core.FunctionResponsePayload) {
					fmt.Fprintf(w, "  %s > result %s\n", ev.Author, r.Response.Name)
				},
				Compaction: func(c core.CompactionPayload) {
					summary, _ := c.Compaction.Summary.Text()
					fmt.Fprintf(w, "  %s > summary: %s\n", ev.Author, summary)
				},
			})
		}

		if len(ev.Actions.StateDelta) > 0 {
			fmt.Fprintf(w, "  %s > state %v\n", ev.Author, ev.Actions.StateDelta)
		}
	}
}
