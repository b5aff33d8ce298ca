package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/StrikeScan/go-pipeline/strike/session"
)

func (a *app) sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List stored sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := a.sessions.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions stored.")
				return nil
			}
			sort.Slice(sessions, func(i, j int) bool {
				return sessions[i].LastActivity.After(sessions[j].LastActivity)
			})
			for _, s := range sessions {
				sum := session.Summary(s)
				fmt.Fprintf(out, "%s  %-11s %2d/%-2d  %s\n", s.ID, sum.Status, sum.CompletedCount, sum.TotalCount, s.WebURL)
			}
			return nil
		},
	}
	cmd.AddCommand(a.sessionsDeleteCmd())
	return cmd
}

func (a *app) sessionsDeleteCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "delete [session-id]",
		Short: "Delete one session, or every session with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if all {
				if len(args) > 0 {
					return fmt.Errorf("--all does not take a session ID")
				}
				existed, err := a.sessions.DeleteAllSessions(cmd.Context())
				if err != nil {
					return err
				}
				if !existed {
					fmt.Fprintln(out, "No sessions to delete.")
					return nil
				}
				fmt.Fprintln(out, "All sessions deleted.")
				return nil
			}

			if len(args) != 1 {
				return fmt.Errorf("a session ID is required unless --all is given")
			}
			if err := a.sessions.DeleteSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(out, "Session %s deleted.\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "delete every stored session")
	return cmd
}
