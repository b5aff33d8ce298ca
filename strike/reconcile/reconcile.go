// Package reconcile rebuilds the session store from audit records on disk.
// The audit record is authoritative; the store is a cache that may be
// stale, missing or corrupt after a crash.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/StrikeScan/go-pipeline/strike/agent"
	"github.com/StrikeScan/go-pipeline/strike/audit"
	"github.com/StrikeScan/go-pipeline/strike/session"
)

// Result reports what a reconciliation pass did.
type Result struct {
	Scanned       int
	Corrected     int
	StoreWasReset bool
}

// Reconciler syncs the session store to the audit records under one root.
type Reconciler struct {
	auditRoot string
	sessions  *session.Manager
}

// New creates a reconciler over the given audit root and session manager.
func New(auditRoot string, sessions *session.Manager) *Reconciler {
	return &Reconciler{auditRoot: auditRoot, sessions: sessions}
}

// Run walks every session.json under the audit root and corrects the
// session store where it disagrees. A corrupt store document is discarded
// and rebuilt from scratch. Unreadable individual records are skipped with
// a warning; they never abort the pass.
func (r *Reconciler) Run(ctx context.Context) (Result, error) {
	var res Result

	stored, err := r.sessions.ListSessions(ctx)
	if err != nil {
		slog.Warn("Session store unreadable, rebuilding from audit records", "error", err)
		if err := r.sessions.Reset(ctx); err != nil {
			return res, err
		}
		res.StoreWasReset = true
		stored = nil
	}
	byID := make(map[string]session.Session, len(stored))
	for _, s := range stored {
		byID[s.ID] = s
	}

	records := r.collectRecords()
	for _, rec := range records {
		res.Scanned++
		want := fromAudit(rec)
		have, ok := byID[want.ID]
		if ok && equivalent(have, want) {
			continue
		}
		if ok {
			// Keep store-side bookkeeping the audit record cannot know.
			want.CreatedAt = have.CreatedAt
		}
		if err := r.sessions.PutSession(ctx, want); err != nil {
			return res, err
		}
		res.Corrected++
		slog.Debug("Reconciled session from audit record", "session_id", want.ID, "hostname", rec.Hostname)
	}
	return res, nil
}

// collectRecords loads every parseable session.json under the audit root.
func (r *Reconciler) collectRecords() []*audit.Record {
	var out []*audit.Record

	hosts, err := os.ReadDir(r.auditRoot)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Failed to read audit root", "path", r.auditRoot, "error", err)
		}
		return nil
	}
	for _, host := range hosts {
		if !host.IsDir() {
			continue
		}
		hostDir := filepath.Join(r.auditRoot, host.Name())
		sessions, err := os.ReadDir(hostDir)
		if err != nil {
			slog.Warn("Failed to read audit host dir", "path", hostDir, "error", err)
			continue
		}
		for _, sess := range sessions {
			if !sess.IsDir() {
				continue
			}
			path := audit.RecordPath(filepath.Join(hostDir, sess.Name()))
			rec, err := audit.LoadRecord(path)
			if err != nil {
				if !errors.Is(err, os.ErrNotExist) {
					slog.Warn("Skipping unreadable audit record", "path", path, "error", err)
				}
				continue
			}
			if rec.SessionID == "" {
				rec.SessionID = sess.Name()
			}
			out = append(out, rec)
		}
	}
	return out
}

// fromAudit derives the store-side session from an audit record. Only
// agents whose current status is success count as completed; failed agents
// are listed as failed; rolled-back agents appear in neither.
func fromAudit(rec *audit.Record) session.Session {
	s := session.Session{
		ID:              rec.SessionID,
		WebURL:          rec.WebURL,
		RepoPath:        rec.RepoPath,
		TargetRepo:      rec.TargetRepo,
		ConfigFile:      rec.ConfigFile,
		Status:          rec.Status,
		CompletedAgents: []string{},
		Checkpoints:     map[string]string{},
		CreatedAt:       rec.StartedAt,
		LastActivity:    rec.UpdatedAt,
	}
	if s.Status == "" {
		s.Status = session.StatusInProgress
	}
	for name, ar := range rec.Agents {
		switch ar.Status {
		case audit.AgentStatusSuccess:
			s.CompletedAgents = append(s.CompletedAgents, name)
			if ar.Checkpoint != "" {
				s.Checkpoints[name] = ar.Checkpoint
			}
		case audit.AgentStatusFailed:
			s.FailedAgents = append(s.FailedAgents, name)
		}
	}
	agent.SortByOrder(s.CompletedAgents)
	agent.SortByOrder(s.FailedAgents)
	if len(s.CompletedAgents) == agent.Total() {
		s.Status = session.StatusCompleted
	}
	return s
}

// equivalent compares the fields reconciliation is allowed to correct.
func equivalent(a, b session.Session) bool {
	if a.Status != b.Status || a.WebURL != b.WebURL || a.RepoPath != b.RepoPath {
		return false
	}
	if len(a.CompletedAgents) != len(b.CompletedAgents) || len(a.FailedAgents) != len(b.FailedAgents) {
		return false
	}
	for i := range a.CompletedAgents {
		if a.CompletedAgents[i] != b.CompletedAgents[i] {
			return false
		}
	}
	for i := range a.FailedAgents {
		if a.FailedAgents[i] != b.FailedAgents[i] {
			return false
		}
	}
	if len(a.Checkpoints) != len(b.Checkpoints) {
		return false
	}
	for k, v := range a.Checkpoints {
		if b.Checkpoints[k] != v {
			return false
		}
	}
	return true
}
