// Package checkpoint manages git-based snapshots of the target repository.
// Every successful agent ends with a commit; rollback restores the working
// tree to a recorded commit and rewinds session bookkeeping to match.
package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
)

// Runner executes one git invocation in dir and returns combined output.
// Injectable so tests never touch a real repository.
type Runner func(ctx context.Context, dir string, args ...string) (string, error)

// execRunner shells out to the git binary.
func execRunner(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// GitWorkspace serializes git operations on one repository. Concurrent
// agents within a phase share the working tree, and git itself rejects
// concurrent index mutations, so a weighted semaphore of one gates every
// operation.
type GitWorkspace struct {
	dir string
	sem *semaphore.Weighted
	run Runner

	// lockBackoff is the initial delay when git reports a held index.lock.
	// Doubles per retry up to lockMaxBackoff.
	lockBackoff    time.Duration
	lockMaxBackoff time.Duration
	lockRetries    int
}

// NewGitWorkspace creates a workspace over the repository at dir.
func NewGitWorkspace(dir string) *GitWorkspace {
	return &GitWorkspace{
		dir:            dir,
		sem:            semaphore.NewWeighted(1),
		run:            execRunner,
		lockBackoff:    time.Second,
		lockMaxBackoff: 30 * time.Second,
		lockRetries:    5,
	}
}

// WithRunner replaces the git runner. Test hook.
func (w *GitWorkspace) WithRunner(run Runner) *GitWorkspace {
	w.run = run
	return w
}

// Dir returns the repository path.
func (w *GitWorkspace) Dir() string {
	return w.dir
}

// git acquires the workspace, runs one git command and retries while the
// repository's index.lock is held by a straggling process. Backoff follows
// the broker reconnect pattern: doubling from lockBackoff up to the cap.
func (w *GitWorkspace) git(ctx context.Context, args ...string) (string, error) {
	if err := w.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("acquire git workspace: %w", err)
	}
	defer w.sem.Release(1)

	backoff := w.lockBackoff
	var out string
	var err error
	for attempt := 0; ; attempt++ {
		out, err = w.run(ctx, w.dir, args...)
		if err == nil || !isIndexLocked(err) || attempt >= w.lockRetries {
			return out, err
		}
		slog.Warn("Git index locked, retrying", "dir", w.dir, "args", args, "backoff", backoff)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > w.lockMaxBackoff {
			backoff = w.lockMaxBackoff
		}
	}
}

func isIndexLocked(err error) bool {
	return err != nil && strings.Contains(err.Error(), "index.lock")
}

// EnsureRepo initializes the repository if dir is not one yet and makes an
// initial commit so HEAD always exists.
func (w *GitWorkspace) EnsureRepo(ctx context.Context) error {
	if _, err := w.git(ctx, "rev-parse", "--git-dir"); err == nil {
		return nil
	}
	if _, err := w.git(ctx, "init"); err != nil {
		return err
	}
	if _, err := w.git(ctx, "add", "-A"); err != nil {
		return err
	}
	if _, err := w.git(ctx, "commit", "--allow-empty", "-m", "baseline"); err != nil {
		return err
	}
	return nil
}

// Head returns the current commit hash.
func (w *GitWorkspace) Head(ctx context.Context) (string, error) {
	out, err := w.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Commit stages everything and commits with the given message, returning
// the new commit hash. A clean tree still produces a commit so every
// completed agent has a distinct checkpoint.
func (w *GitWorkspace) Commit(ctx context.Context, message string) (string, error) {
	if _, err := w.git(ctx, "add", "-A"); err != nil {
		return "", err
	}
	if _, err := w.git(ctx, "commit", "--allow-empty", "-m", message); err != nil {
		return "", err
	}
	return w.Head(ctx)
}

// Restore hard-resets the tree to commit and removes untracked files, so
// the workspace is byte-identical to the checkpoint.
func (w *GitWorkspace) Restore(ctx context.Context, commit string) error {
	if commit == "" {
		return fmt.Errorf("restore: empty commit")
	}
	if _, err := w.git(ctx, "reset", "--hard", commit); err != nil {
		return err
	}
	if _, err := w.git(ctx, "clean", "-fd"); err != nil {
		return err
	}
	return nil
}

// DiffSince returns the name-status diff from commit to the working tree.
func (w *GitWorkspace) DiffSince(ctx context.Context, commit string) (string, error) {
	out, err := w.git(ctx, "diff", "--name-status", commit)
	if err != nil {
		return "", err
	}
	return out, nil
}
