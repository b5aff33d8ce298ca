// Package pipeline orchestrates agents through their phases: sequential
// across phases, concurrent within a phase, one checkpoint per successful
// agent and full audit coverage for every attempt.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/StrikeScan/go-pipeline/strike/agent"
	"github.com/StrikeScan/go-pipeline/strike/audit"
	"github.com/StrikeScan/go-pipeline/strike/checkpoint"
	"github.com/StrikeScan/go-pipeline/strike/config"
	"github.com/StrikeScan/go-pipeline/strike/executor"
	"github.com/StrikeScan/go-pipeline/strike/session"
)

// PromptBuilder renders the instruction text for one agent attempt. The
// attempt number and previous error let retries carry failure context.
type PromptBuilder func(a agent.Agent, cfg config.Config, attempt int, lastErr string) string

// DefaultPromptBuilder is the built-in prompt template.
func DefaultPromptBuilder(a agent.Agent, cfg config.Config, attempt int, lastErr string) string {
	prompt := fmt.Sprintf("# %s\n\nTarget: %s\nRepository: %s\n\nPerform the %s stage of the assessment and write your deliverables under deliverables/.",
		a.DisplayName, cfg.WebURL, cfg.TargetRepo, a.DisplayName)
	if attempt > 1 && lastErr != "" {
		prompt += fmt.Sprintf("\n\nThe previous attempt failed: %s\nAddress the failure and complete the stage.", lastErr)
	}
	return prompt
}

// Runner drives agents through the attempt loop.
type Runner struct {
	cfg         config.Config
	sessions    *session.Manager
	auditor     *audit.Session
	checkpoints *checkpoint.Manager
	exec        executor.Executor
	retry       executor.RetryPolicy
	validators  *executor.ValidatorRegistry
	prompts     PromptBuilder

	sessionID string

	// sleep is injectable so retry delays are instant in tests.
	sleep func(time.Duration)
}

// NewRunner wires a runner for one session.
func NewRunner(cfg config.Config, sessionID string, sessions *session.Manager, auditor *audit.Session, checkpoints *checkpoint.Manager, exec executor.Executor) *Runner {
	return &Runner{
		cfg:         cfg,
		sessions:    sessions,
		auditor:     auditor,
		checkpoints: checkpoints,
		exec:        exec,
		retry:       executor.DefaultRetryPolicy(cfg.MaxRetries),
		validators:  executor.NewValidatorRegistry(),
		prompts:     DefaultPromptBuilder,
		sessionID:   sessionID,
		sleep:       time.Sleep,
	}
}

// WithRetryPolicy overrides the retry policy.
func (r *Runner) WithRetryPolicy(p executor.RetryPolicy) *Runner {
	r.retry = p
	return r
}

// WithValidators overrides the deliverable validator registry.
func (r *Runner) WithValidators(v *executor.ValidatorRegistry) *Runner {
	r.validators = v
	return r
}

// WithPromptBuilder overrides the prompt template.
func (r *Runner) WithPromptBuilder(b PromptBuilder) *Runner {
	r.prompts = b
	return r
}

// RunAll runs every remaining agent through the full pipeline. The session
// is marked completed or failed at the end.
func (r *Runner) RunAll(ctx context.Context) error {
	err := r.runAgents(ctx, agent.All())
	return r.finish(ctx, err)
}

// RunPhase runs the agents of one phase.
func (r *Runner) RunPhase(ctx context.Context, phase string) error {
	agents, err := agent.ValidatePhase(phase)
	if err != nil {
		return err
	}
	return r.finish(ctx, r.runAgents(ctx, agents))
}

// RunAgent runs a single agent.
func (r *Runner) RunAgent(ctx context.Context, name string) error {
	a, err := agent.Get(name)
	if err != nil {
		return err
	}
	return r.finish(ctx, r.runAgents(ctx, []agent.Agent{a}))
}

// RunRange runs the contiguous ordered slice of agents from start to end.
func (r *Runner) RunRange(ctx context.Context, start, end string) error {
	agents, err := agent.ValidateRange(start, end)
	if err != nil {
		return err
	}
	return r.finish(ctx, r.runAgents(ctx, agents))
}

// finish settles the session-level status after a run.
func (r *Runner) finish(ctx context.Context, runErr error) error {
	s, err := r.sessions.GetSession(ctx, r.sessionID)
	if err != nil {
		if runErr != nil {
			return runErr
		}
		return err
	}
	status := session.Summary(s).Status
	if _, err := r.sessions.SetStatus(ctx, r.sessionID, status); err != nil {
		slog.Warn("Failed to update session status", "error", err)
	}
	if err := r.auditor.UpdateSessionStatus(status); err != nil {
		slog.Warn("Failed to update audit status", "error", err)
	}
	return runErr
}

// runAgents executes agents grouped by phase: phases in registry order,
// agents within a phase concurrently. A phase failure stops the pipeline;
// later phases depend on earlier deliverables.
func (r *Runner) runAgents(ctx context.Context, agents []agent.Agent) error {
	byPhase := map[agent.Phase][]agent.Agent{}
	for _, a := range agents {
		byPhase[a.Phase] = append(byPhase[a.Phase], a)
	}

	for _, phase := range agent.Phases() {
		group := byPhase[phase]
		if len(group) == 0 {
			continue
		}

		pending, err := r.filterCompleted(ctx, group)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			slog.Info("Phase already complete, skipping", "phase", phase)
			continue
		}

		slog.Info("Starting phase", "phase", phase, "agents", len(pending))
		g, gctx := errgroup.WithContext(ctx)
		for _, a := range pending {
			a := a
			g.Go(func() error {
				return r.runOne(gctx, a)
			})
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("phase %s: %w", phase, err)
		}
	}
	return nil
}

// filterCompleted drops agents the session has already completed, so
// interrupted runs resume where they stopped.
func (r *Runner) filterCompleted(ctx context.Context, agents []agent.Agent) ([]agent.Agent, error) {
	s, err := r.sessions.GetSession(ctx, r.sessionID)
	if err != nil {
		return nil, err
	}
	done := map[string]bool{}
	for _, name := range s.CompletedAgents {
		done[name] = true
	}
	out := []agent.Agent{}
	for _, a := range agents {
		if done[a.Name] {
			slog.Info("Agent already completed, skipping", "agent", a.Name)
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// runOne drives the attempt loop for one agent.
func (r *Runner) runOne(ctx context.Context, a agent.Agent) error {
	s, err := r.sessions.GetSession(ctx, r.sessionID)
	if err != nil {
		return err
	}
	if err := agent.CheckPrerequisites(s.CompletedAgents, a.Name); err != nil {
		return err
	}

	var lastErr string
	for attempt := 1; ; attempt++ {
		execErr := r.runAttempt(ctx, a, attempt, lastErr)
		if execErr == nil {
			return nil
		}
		lastErr = execErr.Error()

		decision := r.retry.Decide(execErr, attempt)
		if !decision.Retry {
			if _, err := r.sessions.MarkAgentFailed(ctx, r.sessionID, a.Name); err != nil {
				slog.Warn("Failed to record agent failure", "agent", a.Name, "error", err)
			}
			return fmt.Errorf("agent %s failed after %d attempt(s): %w", a.Name, attempt, execErr)
		}
		slog.Warn("Agent attempt failed, retrying", "agent", a.Name, "attempt", attempt, "delay", decision.Delay, "error", execErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		r.sleep(decision.Delay)
	}
}

// runAttempt performs one full attempt: pre-attempt snapshot, audit open,
// execution, deliverable validation, checkpoint or discard, audit close.
func (r *Runner) runAttempt(ctx context.Context, a agent.Agent, attempt int, lastErr string) error {
	snapshot, err := r.checkpoints.PrepareAttempt(ctx, a.Name, attempt)
	if err != nil {
		return err
	}

	prompt := r.prompts(a, r.cfg, attempt, lastErr)
	if err := r.auditor.StartAgent(a.Name, attempt, prompt); err != nil {
		return err
	}

	res, execErr := r.exec.Execute(ctx, executor.Request{
		Prompt:     prompt,
		WorkingDir: r.cfg.TargetRepo,
		AgentName:  a.Name,
		SessionID:  r.sessionID,
		Hostname:   config.Hostname(r.cfg.WebURL),
		Model:      r.cfg.Model,
	})

	if execErr == nil {
		execErr = r.validators.Validate(a.Name, r.cfg.TargetRepo)
	}

	if execErr != nil {
		if err := r.checkpoints.DiscardAttempt(ctx, snapshot); err != nil {
			slog.Warn("Failed to discard attempt changes", "agent", a.Name, "error", err)
		}
		if err := r.auditor.EndAgent(a.Name, audit.EndAgentInput{
			AttemptNumber: attempt,
			DurationMS:    res.DurationMS,
			CostUSD:       res.CostUSD,
			Success:       false,
			Error:         execErr.Error(),
		}); err != nil {
			slog.Warn("Failed to record failed attempt", "agent", a.Name, "error", err)
		}
		return execErr
	}

	commit, err := r.checkpoints.CommitSuccess(ctx, r.sessionID, a.Name)
	if err != nil {
		return err
	}
	return r.auditor.EndAgent(a.Name, audit.EndAgentInput{
		AttemptNumber: attempt,
		DurationMS:    res.DurationMS,
		CostUSD:       res.CostUSD,
		Success:       true,
		Checkpoint:    commit,
	})
}
