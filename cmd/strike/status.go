package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/StrikeScan/go-pipeline/strike/agent"
	"github.com/StrikeScan/go-pipeline/strike/config"
	"github.com/StrikeScan/go-pipeline/strike/memory/snapshot"
	"github.com/StrikeScan/go-pipeline/strike/session"
)

func (a *app) statusCmd() *cobra.Command {
	var trend bool
	var trendLimit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show pipeline progress for the target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireTarget(); err != nil {
				return err
			}
			sessions, err := a.sessions.ListSessions(cmd.Context())
			if err != nil {
				return err
			}

			var current *session.Session
			for i := range sessions {
				s := sessions[i]
				if s.WebURL != a.cfg.WebURL || s.RepoPath != a.cfg.RepoPath {
					continue
				}
				if current == nil || s.LastActivity.After(current.LastActivity) {
					current = &sessions[i]
				}
			}
			if current == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "No sessions for this target.")
				return nil
			}

			printSession(cmd, *current)

			if trend {
				return a.printTrend(cmd, trendLimit)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&trend, "trend", false, "show the security-posture trend from recent snapshots")
	cmd.Flags().IntVar(&trendLimit, "trend-limit", 5, "number of snapshots to include in the trend")
	return cmd
}

func printSession(cmd *cobra.Command, s session.Session) {
	out := cmd.OutOrStdout()
	sum := session.Summary(s)

	fmt.Fprintf(out, "Session:  %s\n", s.ID)
	fmt.Fprintf(out, "Status:   %s (%d/%d agents, %.0f%%)\n", sum.Status, sum.CompletedCount, sum.TotalCount, sum.CompletionPercentage)
	fmt.Fprintf(out, "Activity: %s\n\n", s.LastActivity.Format("2006-01-02 15:04:05"))

	done := map[string]bool{}
	for _, name := range s.CompletedAgents {
		done[name] = true
	}
	failed := map[string]bool{}
	for _, name := range s.FailedAgents {
		failed[name] = true
	}

	for _, ag := range agent.All() {
		mark := "  "
		detail := ""
		switch {
		case done[ag.Name]:
			mark = "✅"
			if commit, ok := s.Checkpoints[ag.Name]; ok && commit != "" {
				detail = fmt.Sprintf(" @ %.12s", commit)
			}
		case failed[ag.Name]:
			mark = "❌"
		}
		fmt.Fprintf(out, "  %s %-16s %s%s\n", mark, ag.Name, ag.DisplayName, detail)
	}
}

func (a *app) printTrend(cmd *cobra.Command, limit int) error {
	hostname := config.Hostname(a.cfg.WebURL)
	repo, err := a.openMemory(hostname)
	if err != nil {
		return fmt.Errorf("open exploit memory: %w", err)
	}
	snaps, err := snapshot.NewManager(a.kv, repo).Trend(cmd.Context(), hostname, limit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(snaps) == 0 {
		fmt.Fprintln(out, "\nNo posture snapshots recorded yet.")
		return nil
	}

	fmt.Fprintf(out, "\nPosture trend (%s):\n", hostname)
	fmt.Fprintf(out, "  %-19s %6s %6s %6s %9s\n", "snapshot", "total", "open", "fixed", "verified")
	for _, snap := range snaps {
		c := snap.Counts
		fmt.Fprintf(out, "  %-19s %6d %6d %6d %9d\n", snap.SnapshotID, c.Total, c.Open, c.Fixed, c.Verified)
	}
	return nil
}
