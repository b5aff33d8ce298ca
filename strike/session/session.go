// Package session tracks pipeline progress per target as a fast-lookup
// layer over the key-value store. The audit record is the source of truth;
// the reconciler can rebuild this store from audit records at any time.
package session

import (
	"time"
)

// Session lifecycle states.
const (
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Session is the per-target progress document.
type Session struct {
	ID         string `json:"id"`
	WebURL     string `json:"web_url"`
	RepoPath   string `json:"repo_path"`
	TargetRepo string `json:"target_repo,omitempty"`
	ConfigFile string `json:"config_file,omitempty"`
	Status     string `json:"status"`

	CompletedAgents []string `json:"completed_agents"`
	FailedAgents    []string `json:"failed_agents,omitempty"`
	// Checkpoints maps agent name to the commit recorded when the agent
	// completed. Entries are removed when the agent is rolled back.
	Checkpoints map[string]string `json:"checkpoints,omitempty"`

	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// StatusSummary is the derived progress view of a session.
type StatusSummary struct {
	Status               string  `json:"status"`
	CompletedCount       int     `json:"completed_count"`
	TotalCount           int     `json:"total_count"`
	CompletionPercentage float64 `json:"completion_percentage"`
	FailedCount          int     `json:"failed_count"`
}

func contains(list []string, name string) bool {
	for _, v := range list {
		if v == name {
			return true
		}
	}
	return false
}

func remove(list []string, name string) []string {
	out := list[:0]
	for _, v := range list {
		if v != name {
			out = append(out, v)
		}
	}
	return out
}
