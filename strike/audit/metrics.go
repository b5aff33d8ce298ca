package audit

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/StrikeScan/go-pipeline/strike/agent"
)

// MetricsTracker aggregates per-agent attempts, phase rollups and totals in
// the canonical session.json. Every mutation is persisted atomically so the
// document survives abrupt process termination. The tracker itself is not
// goroutine safe; the Session facade serializes access.
type MetricsTracker struct {
	path   string
	record *Record
	timers map[string]time.Time
	now    func() time.Time
}

// NewMetricsTracker creates a tracker for the given session dir.
func NewMetricsTracker(sessionDir, hostname, sessionID string) *MetricsTracker {
	return &MetricsTracker{
		path:   RecordPath(sessionDir),
		timers: map[string]time.Time{},
		now:    time.Now,
		record: &Record{
			SessionID: sessionID,
			Hostname:  hostname,
			Status:    "in-progress",
			Agents:    map[string]*AgentRecord{},
			Phases:    map[string]*PhaseRollup{},
		},
	}
}

// Initialize loads an existing session.json if present, so metrics survive
// process restarts. A fresh record is created otherwise.
func (t *MetricsTracker) Initialize() error {
	existing, err := LoadRecord(t.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			t.record.StartedAt = t.now().UTC()
			t.record.UpdatedAt = t.record.StartedAt
			return t.persist()
		}
		return err
	}
	existing.SessionID = t.record.SessionID
	existing.Hostname = t.record.Hostname
	t.record = existing
	return nil
}

// SetTarget stores target identity on the record so the session store is
// fully derivable from the audit record alone.
func (t *MetricsTracker) SetTarget(webURL, repoPath, targetRepo, configFile string) error {
	t.record.WebURL = webURL
	t.record.RepoPath = repoPath
	t.record.TargetRepo = targetRepo
	t.record.ConfigFile = configFile
	t.record.UpdatedAt = t.now().UTC()
	return t.persist()
}

// StartAgent opens a timer for an attempt. It deliberately does not touch
// the persisted agents map: a crash between start and end must leave prior
// completed work intact and contribute nothing from the interrupted agent.
func (t *MetricsTracker) StartAgent(name string, attempt int) {
	t.timers[timerKey(name, attempt)] = t.now()
}

// ElapsedMS returns milliseconds since StartAgent for the attempt, or zero
// when no timer was opened.
func (t *MetricsTracker) ElapsedMS(name string, attempt int) int64 {
	start, ok := t.timers[timerKey(name, attempt)]
	if !ok {
		return 0
	}
	return t.now().Sub(start).Milliseconds()
}

// EndAgent appends the attempt record, recomputes the agent's status and
// running totals, and persists. Cost from failed attempts is retained in
// total_cost_usd; final_duration_ms reflects only the successful attempt.
func (t *MetricsTracker) EndAgent(name string, in EndAgentInput) error {
	rec := t.record.Agents[name]
	if rec == nil {
		rec = &AgentRecord{}
		t.record.Agents[name] = rec
	}

	rec.Attempts = append(rec.Attempts, AttemptRecord{
		AttemptNumber: in.AttemptNumber,
		DurationMS:    in.DurationMS,
		CostUSD:       in.CostUSD,
		Success:       in.Success,
		Error:         in.Error,
		Timestamp:     t.now().UTC(),
	})

	if in.Success {
		rec.Status = AgentStatusSuccess
		rec.FinalDurationMS = in.DurationMS
		rec.Checkpoint = in.Checkpoint
		rec.RolledBackAt = nil
	} else {
		rec.Status = AgentStatusFailed
	}

	var total float64
	for _, a := range rec.Attempts {
		total += a.CostUSD
	}
	rec.TotalCostUSD = total

	delete(t.timers, timerKey(name, in.AttemptNumber))
	t.recalculateAggregations()
	return t.persist()
}

// MarkRolledBack transitions an agent to rolled-back. Idempotent: a second
// call keeps the original timestamp and is not an error.
func (t *MetricsTracker) MarkRolledBack(name string) error {
	rec := t.record.Agents[name]
	if rec == nil {
		return fmt.Errorf("agent %q has no audit record: %w", name, agent.ErrNotFound)
	}
	if rec.Status != AgentStatusRolledBack {
		rec.Status = AgentStatusRolledBack
		ts := t.now().UTC()
		rec.RolledBackAt = &ts
	}
	t.recalculateAggregations()
	return t.persist()
}

// MarkMultipleRolledBack rolls back a set of agents in one persisted update.
func (t *MetricsTracker) MarkMultipleRolledBack(names []string) error {
	ts := t.now().UTC()
	for _, name := range names {
		rec := t.record.Agents[name]
		if rec == nil {
			continue
		}
		if rec.Status != AgentStatusRolledBack {
			rec.Status = AgentStatusRolledBack
			rec.RolledBackAt = &ts
		}
	}
	t.recalculateAggregations()
	return t.persist()
}

// SetStatus updates the session-level status and persists.
func (t *MetricsTracker) SetStatus(status string) error {
	t.record.Status = status
	return t.persist()
}

// Snapshot returns a deep copy of the current record.
func (t *MetricsTracker) Snapshot() Record {
	out := *t.record
	out.Agents = make(map[string]*AgentRecord, len(t.record.Agents))
	for name, rec := range t.record.Agents {
		cp := *rec
		cp.Attempts = append([]AttemptRecord(nil), rec.Attempts...)
		if rec.RolledBackAt != nil {
			ts := *rec.RolledBackAt
			cp.RolledBackAt = &ts
		}
		out.Agents[name] = &cp
	}
	out.Phases = make(map[string]*PhaseRollup, len(t.record.Phases))
	for phase, r := range t.record.Phases {
		cp := *r
		out.Phases[phase] = &cp
	}
	return out
}

// recalculateAggregations rebuilds phase and total rollups from attempt
// history. Only agents currently in the success state contribute; failed
// and rolled-back agents keep their attempt history but count zero.
func (t *MetricsTracker) recalculateAggregations() {
	t.record.TotalDurationMS = 0
	t.record.TotalCostUSD = 0
	t.record.Phases = map[string]*PhaseRollup{}

	for name, rec := range t.record.Agents {
		if rec.Status != AgentStatusSuccess {
			continue
		}
		phase := "unknown"
		if a, err := agent.Get(name); err == nil {
			phase = string(a.Phase)
		}
		rollup := t.record.Phases[phase]
		if rollup == nil {
			rollup = &PhaseRollup{}
			t.record.Phases[phase] = rollup
		}
		rollup.DurationMS += rec.FinalDurationMS
		rollup.CostUSD += rec.TotalCostUSD
		rollup.AgentCount++

		t.record.TotalDurationMS += rec.FinalDurationMS
		t.record.TotalCostUSD += rec.TotalCostUSD
	}
	t.record.UpdatedAt = t.now().UTC()
}

func (t *MetricsTracker) persist() error {
	return writeJSONAtomic(t.path, t.record)
}

func timerKey(name string, attempt int) string {
	return fmt.Sprintf("%s#%d", name, attempt)
}
