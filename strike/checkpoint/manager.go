package checkpoint

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/StrikeScan/go-pipeline/strike/session"
)

// Auditor is the audit-side rollback hook. Satisfied by audit.Session.
type Auditor interface {
	MarkMultipleRolledBack(names []string) error
}

// Manager coordinates the git workspace with session bookkeeping so the
// working tree, the session store and the audit record move together.
type Manager struct {
	ws       *GitWorkspace
	sessions *session.Manager
}

// NewManager creates a checkpoint manager.
func NewManager(ws *GitWorkspace, sessions *session.Manager) *Manager {
	return &Manager{ws: ws, sessions: sessions}
}

// Workspace exposes the underlying git workspace.
func (m *Manager) Workspace() *GitWorkspace {
	return m.ws
}

// PrepareAttempt snapshots the tree before an attempt runs and returns the
// snapshot commit. A failed attempt is discarded back to this commit, not
// to the last agent checkpoint, so concurrent agents in the same phase do
// not lose each other's uncommitted work.
func (m *Manager) PrepareAttempt(ctx context.Context, agentName string, attempt int) (string, error) {
	commit, err := m.ws.Commit(ctx, fmt.Sprintf("snapshot: %s attempt %d", agentName, attempt))
	if err != nil {
		return "", fmt.Errorf("snapshot before %s attempt %d: %w", agentName, attempt, err)
	}
	slog.Debug("Workspace snapshot taken", "agent", agentName, "attempt", attempt, "commit", commit)
	return commit, nil
}

// CommitSuccess checkpoints the tree after a successful agent and records
// the commit against the session.
func (m *Manager) CommitSuccess(ctx context.Context, sessionID, agentName string) (string, error) {
	commit, err := m.ws.Commit(ctx, fmt.Sprintf("checkpoint: %s complete", agentName))
	if err != nil {
		return "", fmt.Errorf("checkpoint commit for %s: %w", agentName, err)
	}
	if _, err := m.sessions.MarkAgentCompleted(ctx, sessionID, agentName, commit); err != nil {
		return "", err
	}
	slog.Info("Checkpoint recorded", "agent", agentName, "commit", commit)
	return commit, nil
}

// DiscardAttempt restores the tree to the attempt's snapshot, throwing
// away everything the failed attempt wrote.
func (m *Manager) DiscardAttempt(ctx context.Context, snapshot string) error {
	return m.ws.Restore(ctx, snapshot)
}

// RollbackToAgent restores the tree to the named agent's checkpoint, then
// rewinds session bookkeeping and audit status for every later agent. The
// tree is restored first: if that fails nothing else moves, and the
// reconciler keeps store and audit consistent with reality.
func (m *Manager) RollbackToAgent(ctx context.Context, sessionID, agentName string, auditor Auditor) (session.Session, []string, error) {
	s, err := m.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return session.Session{}, nil, err
	}
	commit, ok := s.Checkpoints[agentName]
	if !ok || commit == "" {
		return session.Session{}, nil, fmt.Errorf("%w for agent %q in session %s", session.ErrNoCheckpoint, agentName, sessionID)
	}

	if err := m.ws.Restore(ctx, commit); err != nil {
		return session.Session{}, nil, fmt.Errorf("restore checkpoint %s: %w", commit, err)
	}

	updated, removed, _, err := m.sessions.RollbackToAgent(ctx, sessionID, agentName)
	if err != nil {
		return session.Session{}, nil, err
	}
	if auditor != nil && len(removed) > 0 {
		if err := auditor.MarkMultipleRolledBack(removed); err != nil {
			return session.Session{}, nil, err
		}
	}
	slog.Info("Rolled back to checkpoint", "agent", agentName, "commit", commit, "removed", removed)
	return updated, removed, nil
}
