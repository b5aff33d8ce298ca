package audit

import (
	"fmt"
	"path/filepath"
	"time"
)

// SessionDir is the audit directory for one (hostname, sessionID) pair.
func SessionDir(root, hostname, sessionID string) string {
	return filepath.Join(root, hostname, sessionID)
}

// RecordPath is the canonical session.json location inside a session dir.
func RecordPath(sessionDir string) string {
	return filepath.Join(sessionDir, "session.json")
}

// LogPath is the append-only event stream for one (agent, attempt).
func LogPath(sessionDir, agentName string, attempt int, ts time.Time) string {
	name := fmt.Sprintf("%s_attempt%d_%s.jsonl", agentName, attempt, ts.UTC().Format("20060102-150405"))
	return filepath.Join(sessionDir, "logs", name)
}

// PromptPath is the reproducibility snapshot of the agent's first-attempt
// prompt.
func PromptPath(sessionDir, agentName string) string {
	return filepath.Join(sessionDir, "prompts", agentName+".md")
}
