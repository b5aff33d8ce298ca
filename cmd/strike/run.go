package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/StrikeScan/go-pipeline/strike/audit"
	"github.com/StrikeScan/go-pipeline/strike/checkpoint"
	"github.com/StrikeScan/go-pipeline/strike/config"
	"github.com/StrikeScan/go-pipeline/strike/database"
	"github.com/StrikeScan/go-pipeline/strike/executor"
	"github.com/StrikeScan/go-pipeline/strike/memory"
	"github.com/StrikeScan/go-pipeline/strike/memory/snapshot"
	"github.com/StrikeScan/go-pipeline/strike/pipeline"
	"github.com/StrikeScan/go-pipeline/strike/queue"
	"github.com/StrikeScan/go-pipeline/strike/session"
)

// defaultAgentBinary is the external agent executor; STRIKE_AGENT_BIN
// overrides.
const defaultAgentBinary = "strike-agent"

// runContext bundles everything a pipeline invocation needs.
type runContext struct {
	hostname string
	sess     session.Session
	auditor  *audit.Session
	runner   *pipeline.Runner
}

// buildRun wires the session, audit, checkpoint and executor stack for a
// pipeline command.
func (a *app) buildRun(ctx context.Context) (*runContext, error) {
	if err := a.requireTarget(); err != nil {
		return nil, err
	}
	hostname := config.Hostname(a.cfg.WebURL)

	sess, err := a.sessions.CreateSession(ctx, a.cfg.WebURL, a.cfg.RepoPath, a.cfg.TargetRepo, a.cfg.ConfigFile)
	if err != nil {
		return nil, err
	}
	slog.Info("Using session", "session_id", sess.ID, "hostname", hostname, "completed", len(sess.CompletedAgents))

	auditor := audit.NewSession(a.cfg.AuditRoot, hostname, sess.ID)
	if a.cfg.QueueName != "" {
		auditor.WithPublisher(queue.NewAuditPublisher(a.cfg.QueueName))
	}
	if err := auditor.SetTarget(a.cfg.WebURL, a.cfg.RepoPath, a.cfg.TargetRepo, a.cfg.ConfigFile); err != nil {
		return nil, err
	}

	ws := checkpoint.NewGitWorkspace(a.cfg.TargetRepo)
	if err := ws.EnsureRepo(ctx); err != nil {
		return nil, fmt.Errorf("prepare workspace: %w", err)
	}
	ckpt := checkpoint.NewManager(ws, a.sessions)

	exec := executor.NewCommandExecutor(defaultAgentBinary, a.cfg.Model, 30*time.Minute)
	runner := pipeline.NewRunner(a.cfg, sess.ID, a.sessions, auditor, ckpt, exec)

	return &runContext{hostname: hostname, sess: sess, auditor: auditor, runner: runner}, nil
}

// afterRun ingests queued findings into exploit memory and snapshots the
// posture. Both are best effort; the pipeline result stands on its own.
func (a *app) afterRun(ctx context.Context, rc *runContext) {
	q, err := pipeline.LoadVulnQueue(a.cfg.TargetRepo)
	if err != nil {
		slog.Debug("No vuln queue deliverable to ingest", "error", err)
		return
	}

	repo, err := a.openMemory(rc.hostname)
	if err != nil {
		slog.Warn("Skipping memory ingestion", "error", err)
		return
	}
	created, merged, err := pipeline.IngestFindings(repo, rc.hostname, q)
	if err != nil {
		slog.Warn("Failed to ingest findings", "error", err)
		return
	}
	slog.Info("Findings ingested into memory", "created", created, "merged", merged)

	if _, err := snapshot.NewManager(a.kv, repo).Create(ctx, rc.hostname, "", rc.sess.ID); err != nil {
		slog.Warn("Failed to record posture snapshot", "error", err)
	}
}

func (a *app) openMemory(hostname string) (*memory.Repository, error) {
	db, err := database.Open(database.Config{Dir: a.cfg.MemoryDir}, hostname)
	if err != nil {
		return nil, err
	}
	return memory.NewRepository(db, memory.Strategy(a.cfg.DedupStrategy))
}

func (a *app) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline against the target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := a.buildRun(cmd.Context())
			if err != nil {
				return err
			}
			runErr := rc.runner.RunAll(cmd.Context())
			a.afterRun(cmd.Context(), rc)
			return runErr
		},
	}
}

func (a *app) phaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "phase <name>",
		Short: "Run the agents of one phase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := a.buildRun(cmd.Context())
			if err != nil {
				return err
			}
			runErr := rc.runner.RunPhase(cmd.Context(), args[0])
			a.afterRun(cmd.Context(), rc)
			return runErr
		},
	}
}

func (a *app) agentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agent <name>",
		Short: "Run a single agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := a.buildRun(cmd.Context())
			if err != nil {
				return err
			}
			runErr := rc.runner.RunAgent(cmd.Context(), args[0])
			a.afterRun(cmd.Context(), rc)
			return runErr
		},
	}
}

func (a *app) rangeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "range <start> <end>",
		Short: "Run a contiguous range of agents in pipeline order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := a.buildRun(cmd.Context())
			if err != nil {
				return err
			}
			runErr := rc.runner.RunRange(cmd.Context(), args[0], args[1])
			a.afterRun(cmd.Context(), rc)
			return runErr
		},
	}
}
