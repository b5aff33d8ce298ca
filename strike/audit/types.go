// Package audit is the crash-safe audit and metrics layer. The audit record
// (session.json) is the source of truth for a run: the session store is
// always rebuildable from it. Event logs are append-only JSONL streams
// flushed to stable storage on every write.
package audit

import "time"

// AgentStatus is the current audit status of one agent within a session.
type AgentStatus string

const (
	AgentStatusSuccess    AgentStatus = "success"
	AgentStatusFailed     AgentStatus = "failed"
	AgentStatusRolledBack AgentStatus = "rolled-back"
)

// AttemptRecord is one execution attempt of an agent. Attempts are append
// only: failed and rolled-back attempts are retained for forensics.
type AttemptRecord struct {
	AttemptNumber int       `json:"attempt_number"`
	DurationMS    int64     `json:"duration_ms"`
	CostUSD       float64   `json:"cost_usd"`
	Success       bool      `json:"success"`
	Error         string    `json:"error,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// AgentRecord is the full audit history of one agent in a session.
type AgentRecord struct {
	Status          AgentStatus     `json:"status"`
	Attempts        []AttemptRecord `json:"attempts"`
	FinalDurationMS int64           `json:"final_duration_ms,omitempty"`
	// TotalCostUSD sums every attempt, successful or not. Partial cost is
	// never lost.
	TotalCostUSD float64    `json:"total_cost_usd"`
	Checkpoint   string     `json:"checkpoint,omitempty"`
	RolledBackAt *time.Time `json:"rolled_back_at,omitempty"`
}

// PhaseRollup aggregates completed work within one phase.
type PhaseRollup struct {
	DurationMS int64   `json:"duration_ms"`
	CostUSD    float64 `json:"cost_usd"`
	AgentCount int     `json:"agent_count"`
}

// Record is the canonical session.json document. Aggregates count only
// agents whose current status is success.
type Record struct {
	SessionID  string    `json:"session_id"`
	Hostname   string    `json:"hostname"`
	WebURL     string    `json:"web_url,omitempty"`
	RepoPath   string    `json:"repo_path,omitempty"`
	TargetRepo string    `json:"target_repo,omitempty"`
	ConfigFile string    `json:"config_file,omitempty"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	Agents map[string]*AgentRecord `json:"agents"`

	TotalDurationMS int64                   `json:"total_duration_ms"`
	TotalCostUSD    float64                 `json:"total_cost_usd"`
	Phases          map[string]*PhaseRollup `json:"phases"`
}

// EndAgentInput carries the outcome of one attempt into the metrics tracker.
type EndAgentInput struct {
	AttemptNumber int
	DurationMS    int64
	CostUSD       float64
	Success       bool
	Error         string
	Checkpoint    string
}

// EventPublisher mirrors audit lifecycle events to an external sink (e.g. a
// message queue). Publish failures are logged, never propagated into audit
// mutations.
type EventPublisher interface {
	Publish(eventType string, payload map[string]any) error
}
