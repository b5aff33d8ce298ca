package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Logger is an append-only event writer for one (agent, attempt). Every
// LogEvent call is written and synced to stable storage before returning,
// so a kill -9 immediately after never loses the event.
type Logger struct {
	path string

	mu     sync.Mutex
	file   *os.File
	closed bool
}

// logEvent is the JSONL envelope of one audit event.
type logEvent struct {
	EventID   string         `json:"event_id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// NewLogger creates a logger for the given session dir, agent and attempt.
// Call Initialize before logging.
func NewLogger(sessionDir, agentName string, attempt int, now time.Time) *Logger {
	return &Logger{path: LogPath(sessionDir, agentName, attempt, now)}
}

// Initialize opens the append-only stream, creating parent directories.
func (l *Logger) Initialize() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	l.file = f
	l.closed = false
	return nil
}

// Path returns the log file location.
func (l *Logger) Path() string {
	return l.path
}

// LogEvent appends one event line and syncs it to disk. An error here means
// durability could not be guaranteed; callers should treat it as fatal to
// the attempt rather than swallow it.
func (l *Logger) LogEvent(eventType string, payload map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil || l.closed {
		return fmt.Errorf("event log %s is not open", l.path)
	}
	data, err := json.Marshal(logEvent{
		EventID:   uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync event log: %w", err)
	}
	return nil
}

// Close closes the stream. Safe to call more than once.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || l.file == nil {
		l.closed = true
		return nil
	}
	l.closed = true
	err := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("close event log: %w", err)
	}
	return nil
}

// SavePrompt snapshots the exact agent input for reproducibility. The facade
// only calls this on attempt 1 so the snapshot reflects original intent, not
// retry-mutated context.
func SavePrompt(sessionDir, agentName, prompt string) error {
	path := PromptPath(sessionDir, agentName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create prompt dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(prompt), 0o644); err != nil {
		return fmt.Errorf("write prompt snapshot: %w", err)
	}
	return nil
}
