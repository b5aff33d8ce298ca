package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/StrikeScan/go-pipeline/strike/agent"
	"github.com/StrikeScan/go-pipeline/strike/audit"
	"github.com/StrikeScan/go-pipeline/strike/checkpoint"
	"github.com/StrikeScan/go-pipeline/strike/config"
	"github.com/StrikeScan/go-pipeline/strike/queue"
	"github.com/StrikeScan/go-pipeline/strike/session"
)

// currentSession resolves the most recently active session for the
// configured target.
func (a *app) currentSession(ctx context.Context) (session.Session, error) {
	sessions, err := a.sessions.ListSessions(ctx)
	if err != nil {
		return session.Session{}, err
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
		return session.Session{}, fmt.Errorf("no session for %s: %w", a.cfg.WebURL, session.ErrNotFound)
	}
	return *current, nil
}

func (a *app) rollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <agent>",
		Short: "Restore the working tree and session state to an agent's checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agentName := args[0]
			if err := agent.Validate(agentName); err != nil {
				return err
			}
			if err := a.requireTarget(); err != nil {
				return err
			}

			s, err := a.currentSession(cmd.Context())
			if err != nil {
				return err
			}

			hostname := config.Hostname(a.cfg.WebURL)
			auditor := audit.NewSession(a.cfg.AuditRoot, hostname, s.ID)
			if a.cfg.QueueName != "" {
				auditor.WithPublisher(queue.NewAuditPublisher(a.cfg.QueueName))
			}

			ws := checkpoint.NewGitWorkspace(a.cfg.TargetRepo)
			mgr := checkpoint.NewManager(ws, a.sessions)
			updated, removed, err := mgr.RollbackToAgent(cmd.Context(), s.ID, agentName, auditor)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Rolled back to %s (checkpoint %.12s).\n", agentName, updated.Checkpoints[agentName])
			if len(removed) == 0 {
				fmt.Fprintln(out, "No later agents to unwind.")
			} else {
				fmt.Fprintf(out, "Unwound agents: %v\n", removed)
			}
			return nil
		},
	}
}

func (a *app) rerunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rerun <agent>",
		Short: "Force a fresh run of one agent, discarding its previous result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agentName := args[0]
			if err := agent.Validate(agentName); err != nil {
				return err
			}
			rc, err := a.buildRun(cmd.Context())
			if err != nil {
				return err
			}

			// Dropping the completion record also drops the checkpoint, so
			// the runner treats the agent as pending and runs it again.
			if _, err := a.sessions.MarkAgentFailed(cmd.Context(), rc.sess.ID, agentName); err != nil {
				return fmt.Errorf("reset %s for rerun: %w", agentName, err)
			}

			runErr := rc.runner.RunAgent(cmd.Context(), agentName)
			a.afterRun(cmd.Context(), rc)
			return runErr
		},
	}
}
