package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/StrikeScan/go-pipeline/strike/agent"
	"github.com/StrikeScan/go-pipeline/strike/store"
)

// sessionsKey is the single KV document holding every session, keyed by
// session ID.
const sessionsKey = "strike:sessions"

// ErrNotFound is returned when a session ID does not exist.
var ErrNotFound = errors.New("session not found")

// ErrNoCheckpoint is returned by RollbackToAgent when the target agent has
// no recorded checkpoint.
var ErrNoCheckpoint = errors.New("no checkpoint found")

// Manager reads and writes the session document in the key-value store.
// All mutations re-read, modify and write back the whole document under a
// single-writer mutex so concurrent agents in a phase cannot lose updates.
type Manager struct {
	mu  sync.Mutex
	kv  store.KVStore
	now func() time.Time
}

// NewManager creates a session manager over the given store.
func NewManager(kv store.KVStore) *Manager {
	return &Manager{kv: kv, now: time.Now}
}

func (m *Manager) load(ctx context.Context) (map[string]Session, error) {
	raw, err := m.kv.GetValue(ctx, sessionsKey)
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return map[string]Session{}, nil
		}
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	sessions := map[string]Session{}
	if err := json.Unmarshal([]byte(raw), &sessions); err != nil {
		return nil, fmt.Errorf("parse sessions document: %w", err)
	}
	return sessions, nil
}

func (m *Manager) save(ctx context.Context, sessions map[string]Session) error {
	data, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
	}
	if err := m.kv.SetValue(ctx, sessionsKey, string(data)); err != nil {
		return fmt.Errorf("save sessions: %w", err)
	}
	return nil
}

// CreateSession returns the existing in-progress session for the
// (webURL, repoPath) pair, or creates a new one. Completed and failed
// sessions are never reused; a new run on the same target gets a fresh ID.
func (m *Manager) CreateSession(ctx context.Context, webURL, repoPath, targetRepo, configFile string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, err := m.load(ctx)
	if err != nil {
		return Session{}, err
	}

	for _, s := range sessions {
		if s.WebURL == webURL && s.RepoPath == repoPath && s.Status == StatusInProgress {
			return s, nil
		}
	}

	now := m.now().UTC()
	s := Session{
		ID:              uuid.NewString(),
		WebURL:          webURL,
		RepoPath:        repoPath,
		TargetRepo:      targetRepo,
		ConfigFile:      configFile,
		Status:          StatusInProgress,
		CompletedAgents: []string{},
		Checkpoints:     map[string]string{},
		CreatedAt:       now,
		LastActivity:    now,
	}
	sessions[s.ID] = s
	if err := m.save(ctx, sessions); err != nil {
		return Session{}, err
	}
	return s, nil
}

// GetSession looks up a session by ID.
func (m *Manager) GetSession(ctx context.Context, id string) (Session, error) {
	sessions, err := m.load(ctx)
	if err != nil {
		return Session{}, err
	}
	s, ok := sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	return s, nil
}

// ListSessions returns every stored session.
func (m *Manager) ListSessions(ctx context.Context) ([]Session, error) {
	sessions, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Session, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s)
	}
	return out, nil
}

// PutSession writes a session verbatim. Used by the reconciler when
// rebuilding the store from audit records.
func (m *Manager) PutSession(ctx context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, err := m.load(ctx)
	if err != nil {
		return err
	}
	sessions[s.ID] = s
	return m.save(ctx, sessions)
}

// MarkAgentCompleted records a successful agent and its checkpoint. The
// agent is removed from the failed list if present. When every registered
// agent has completed, the session transitions to completed.
func (m *Manager) MarkAgentCompleted(ctx context.Context, id, agentName, checkpoint string) (Session, error) {
	return m.mutate(ctx, id, func(s *Session) error {
		if err := agent.Validate(agentName); err != nil {
			return err
		}
		s.FailedAgents = remove(s.FailedAgents, agentName)
		if !contains(s.CompletedAgents, agentName) {
			s.CompletedAgents = append(s.CompletedAgents, agentName)
		}
		agent.SortByOrder(s.CompletedAgents)
		if s.Checkpoints == nil {
			s.Checkpoints = map[string]string{}
		}
		if checkpoint != "" {
			s.Checkpoints[agentName] = checkpoint
		}
		if len(s.CompletedAgents) == agent.Total() {
			s.Status = StatusCompleted
		}
		return nil
	})
}

// MarkAgentFailed records a terminal failure for an agent. Completion and
// failure are mutually exclusive per agent.
func (m *Manager) MarkAgentFailed(ctx context.Context, id, agentName string) (Session, error) {
	return m.mutate(ctx, id, func(s *Session) error {
		if err := agent.Validate(agentName); err != nil {
			return err
		}
		s.CompletedAgents = remove(s.CompletedAgents, agentName)
		delete(s.Checkpoints, agentName)
		if !contains(s.FailedAgents, agentName) {
			s.FailedAgents = append(s.FailedAgents, agentName)
		}
		s.Status = StatusInProgress
		return nil
	})
}

// RollbackToAgent rewinds session bookkeeping to the state after agentName
// completed: agents with a higher registry order are removed from the
// completed list along with their checkpoints. It returns the updated
// session, the names removed, and the checkpoint commit to restore to.
func (m *Manager) RollbackToAgent(ctx context.Context, id, agentName string) (Session, []string, string, error) {
	target, err := agent.Get(agentName)
	if err != nil {
		return Session{}, nil, "", err
	}

	var removed []string
	var checkpoint string
	s, err := m.mutate(ctx, id, func(s *Session) error {
		commit, ok := s.Checkpoints[agentName]
		if !ok || commit == "" {
			return fmt.Errorf("%w for agent %q in session %s", ErrNoCheckpoint, agentName, s.ID)
		}
		checkpoint = commit

		kept := []string{}
		for _, name := range s.CompletedAgents {
			a, err := agent.Get(name)
			if err != nil || a.Order > target.Order {
				removed = append(removed, name)
				delete(s.Checkpoints, name)
				continue
			}
			kept = append(kept, name)
		}
		s.CompletedAgents = kept
		for _, name := range removed {
			s.FailedAgents = remove(s.FailedAgents, name)
		}
		s.Status = StatusInProgress
		return nil
	})
	if err != nil {
		return Session{}, nil, "", err
	}
	agent.SortByOrder(removed)
	return s, removed, checkpoint, nil
}

// SetStatus overrides the session-level status.
func (m *Manager) SetStatus(ctx context.Context, id, status string) (Session, error) {
	return m.mutate(ctx, id, func(s *Session) error {
		s.Status = status
		return nil
	})
}

// DeleteSession removes one session. Unknown IDs are an error.
func (m *Manager) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, err := m.load(ctx)
	if err != nil {
		return err
	}
	if _, ok := sessions[id]; !ok {
		return fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	delete(sessions, id)
	return m.save(ctx, sessions)
}

// DeleteAllSessions clears the store. Returns whether any sessions existed;
// an empty or missing store is not an error.
func (m *Manager) DeleteAllSessions(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, err := m.load(ctx)
	if err != nil {
		return false, err
	}
	existed := len(sessions) > 0
	if err := m.kv.DeleteValue(ctx, sessionsKey); err != nil && !errors.Is(err, store.ErrKeyNotFound) {
		return existed, fmt.Errorf("delete sessions: %w", err)
	}
	return existed, nil
}

// Reset discards the stored document regardless of content. Used by the
// reconciler when the document is corrupt.
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.kv.DeleteValue(ctx, sessionsKey); err != nil && !errors.Is(err, store.ErrKeyNotFound) {
		return fmt.Errorf("reset sessions: %w", err)
	}
	return nil
}

// Summary derives display-level progress from a session. A session with
// failures reports failed unless every agent has completed.
func Summary(s Session) StatusSummary {
	total := agent.Total()
	completed := len(s.CompletedAgents)
	status := s.Status
	if completed == total {
		status = StatusCompleted
	} else if len(s.FailedAgents) > 0 {
		status = StatusFailed
	}
	pct := 0.0
	if total > 0 {
		pct = float64(completed) / float64(total) * 100
	}
	return StatusSummary{
		Status:               status,
		CompletedCount:       completed,
		TotalCount:           total,
		CompletionPercentage: pct,
		FailedCount:          len(s.FailedAgents),
	}
}

// mutate loads, applies fn to the named session, stamps activity and saves.
func (m *Manager) mutate(ctx context.Context, id string, fn func(*Session) error) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, err := m.load(ctx)
	if err != nil {
		return Session{}, err
	}
	s, ok := sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	if err := fn(&s); err != nil {
		return Session{}, err
	}
	s.LastActivity = m.now().UTC()
	sessions[id] = s
	if err := m.save(ctx, sessions); err != nil {
		return Session{}, err
	}
	return s, nil
}
