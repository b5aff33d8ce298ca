package audit

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ErrNoActiveLogger is returned by LogEvent when no agent attempt is open.
var ErrNoActiveLogger = errors.New("no active logger")

// Session composes the event logger and metrics tracker behind a single
// mutex so concurrent agents in the same phase cannot interleave writes to
// the shared session.json.
type Session struct {
	mu sync.Mutex

	hostname  string
	sessionID string
	dir       string

	metrics *MetricsTracker
	// loggers holds the open event stream per agent; agents in the same
	// phase run concurrently, each with its own attempt log.
	loggers     map[string]*Logger
	publisher   EventPublisher
	initialized bool
	now         func() time.Time
}

// NewSession creates the audit session for one (hostname, sessionID) pair
// rooted under the given audit root.
func NewSession(root, hostname, sessionID string) *Session {
	dir := SessionDir(root, hostname, sessionID)
	return &Session{
		hostname:  hostname,
		sessionID: sessionID,
		dir:       dir,
		metrics:   NewMetricsTracker(dir, hostname, sessionID),
		loggers:   map[string]*Logger{},
		now:       time.Now,
	}
}

// WithPublisher attaches an event publisher that mirrors lifecycle events.
func (s *Session) WithPublisher(p EventPublisher) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publisher = p
	return s
}

// Dir returns the session's audit directory.
func (s *Session) Dir() string {
	return s.dir
}

// Initialize is idempotent and called lazily by every mutating operation.
func (s *Session) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initializeLocked()
}

func (s *Session) initializeLocked() error {
	if s.initialized {
		return nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}
	if err := s.metrics.Initialize(); err != nil {
		return err
	}
	s.initialized = true
	return nil
}

// SetTarget records target identity on the audit record.
func (s *Session) SetTarget(webURL, repoPath, targetRepo, configFile string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.initializeLocked(); err != nil {
		return err
	}
	return s.metrics.SetTarget(webURL, repoPath, targetRepo, configFile)
}

// StartAgent opens the attempt: event logger, metrics timer and, on the
// first attempt only, the prompt snapshot.
func (s *Session) StartAgent(agentName string, attempt int, prompt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.initializeLocked(); err != nil {
		return err
	}

	logger := NewLogger(s.dir, agentName, attempt, s.now())
	if err := logger.Initialize(); err != nil {
		return err
	}
	if prev := s.loggers[agentName]; prev != nil {
		prev.Close()
	}
	s.loggers[agentName] = logger

	if attempt == 1 && prompt != "" {
		if err := SavePrompt(s.dir, agentName, prompt); err != nil {
			return err
		}
	}

	s.metrics.StartAgent(agentName, attempt)
	s.publish("agent-started", map[string]any{
		"session_id": s.sessionID,
		"hostname":   s.hostname,
		"agent":      agentName,
		"attempt":    attempt,
	})
	return logger.LogEvent("attempt-started", map[string]any{
		"agent":   agentName,
		"attempt": attempt,
	})
}

// LogEvent proxies to the agent's open attempt logger.
func (s *Session) LogEvent(agentName, eventType string, payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	logger := s.loggers[agentName]
	if logger == nil {
		return fmt.Errorf("agent %s: %w", agentName, ErrNoActiveLogger)
	}
	return logger.LogEvent(eventType, payload)
}

// EndAgent closes the attempt: metrics update, logger close, logger release.
// Subsequent LogEvent calls fail with ErrNoActiveLogger until the next
// StartAgent.
func (s *Session) EndAgent(agentName string, in EndAgentInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.initializeLocked(); err != nil {
		return err
	}

	if logger := s.loggers[agentName]; logger != nil {
		if err := logger.LogEvent("attempt-ended", map[string]any{
			"agent":   agentName,
			"attempt": in.AttemptNumber,
			"success": in.Success,
			"error":   in.Error,
		}); err != nil {
			slog.Warn("Failed to log attempt end", "agent", agentName, "error", err)
		}
		if err := logger.Close(); err != nil {
			slog.Warn("Failed to close event log", "agent", agentName, "error", err)
		}
		delete(s.loggers, agentName)
	}

	if err := s.metrics.EndAgent(agentName, in); err != nil {
		return err
	}
	s.publish("agent-ended", map[string]any{
		"session_id": s.sessionID,
		"hostname":   s.hostname,
		"agent":      agentName,
		"attempt":    in.AttemptNumber,
		"success":    in.Success,
		"cost_usd":   in.CostUSD,
	})
	return nil
}

// ElapsedMS reports the open timer for an attempt.
func (s *Session) ElapsedMS(agentName string, attempt int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics.ElapsedMS(agentName, attempt)
}

// MarkMultipleRolledBack transitions the named agents to rolled-back.
// Idempotent per agent; safe under concurrent calls for overlapping sets.
func (s *Session) MarkMultipleRolledBack(names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.initializeLocked(); err != nil {
		return err
	}
	if err := s.metrics.MarkMultipleRolledBack(names); err != nil {
		return err
	}
	s.publish("agents-rolled-back", map[string]any{
		"session_id": s.sessionID,
		"hostname":   s.hostname,
		"agents":     names,
	})
	return nil
}

// UpdateSessionStatus sets the session-level status on the audit record.
func (s *Session) UpdateSessionStatus(status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.initializeLocked(); err != nil {
		return err
	}
	return s.metrics.SetStatus(status)
}

// Record returns a copy of the current audit record.
func (s *Session) Record() (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.initializeLocked(); err != nil {
		return Record{}, err
	}
	return s.metrics.Snapshot(), nil
}

// publish mirrors an event to the configured publisher. Failures are logged
// and never fail the audit mutation.
func (s *Session) publish(eventType string, payload map[string]any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(eventType, payload); err != nil {
		slog.Warn("Failed to publish audit event", "type", eventType, "error", err)
	}
}
