package audit

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type recordingPublisher struct {
	events []string
	fail   bool
}

func (p *recordingPublisher) Publish(eventType string, payload map[string]any) error {
	p.events = append(p.events, eventType)
	if p.fail {
		return errors.New("broker unreachable")
	}
	return nil
}

func TestSessionAttemptLifecycle(t *testing.T) {
	t.Log("\n🔄 Testing audit session attempt lifecycle...")

	root := t.TempDir()
	pub := &recordingPublisher{}
	sess := NewSession(root, "shop.example.com", "session-1").WithPublisher(pub)

	if err := sess.StartAgent("recon", 1, "recon the target"); err != nil {
		t.Fatalf("StartAgent failed: %v", err)
	}
	if err := sess.LogEvent("recon", "tool-call", map[string]any{"tool": "httpx"}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}
	if err := sess.EndAgent("recon", EndAgentInput{AttemptNumber: 1, DurationMS: 1500, CostUSD: 0.12, Success: true, Checkpoint: "abc"}); err != nil {
		t.Fatalf("EndAgent failed: %v", err)
	}

	if err := sess.LogEvent("recon", "tool-call", nil); !errors.Is(err, ErrNoActiveLogger) {
		t.Errorf("expected ErrNoActiveLogger after EndAgent, got %v", err)
	}

	rec, err := sess.Record()
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if rec.Agents["recon"] == nil || rec.Agents["recon"].Status != AgentStatusSuccess {
		t.Errorf("expected recon success in record, got %+v", rec.Agents["recon"])
	}

	if _, err := os.Stat(PromptPath(sess.Dir(), "recon")); err != nil {
		t.Errorf("expected prompt snapshot on first attempt: %v", err)
	}

	wantEvents := []string{"agent-started", "agent-ended"}
	if len(pub.events) != len(wantEvents) {
		t.Fatalf("expected %d published events, got %v", len(wantEvents), pub.events)
	}
	for i, want := range wantEvents {
		if pub.events[i] != want {
			t.Errorf("event %d: expected %q, got %q", i, want, pub.events[i])
		}
	}
}

func TestSessionPromptSnapshotOnlyFirstAttempt(t *testing.T) {
	root := t.TempDir()
	sess := NewSession(root, "shop.example.com", "session-1")

	if err := sess.StartAgent("scan", 1, "first prompt"); err != nil {
		t.Fatalf("StartAgent failed: %v", err)
	}
	if err := sess.EndAgent("scan", EndAgentInput{AttemptNumber: 1, Success: false, Error: "timeout"}); err != nil {
		t.Fatalf("EndAgent failed: %v", err)
	}
	if err := sess.StartAgent("scan", 2, "retry prompt with extra context"); err != nil {
		t.Fatalf("StartAgent retry failed: %v", err)
	}
	if err := sess.EndAgent("scan", EndAgentInput{AttemptNumber: 2, Success: true}); err != nil {
		t.Fatalf("EndAgent retry failed: %v", err)
	}

	data, err := os.ReadFile(PromptPath(sess.Dir(), "scan"))
	if err != nil {
		t.Fatalf("read prompt snapshot: %v", err)
	}
	if string(data) != "first prompt" {
		t.Errorf("retry must not overwrite the snapshot, got %q", data)
	}
}

func TestSessionPublisherFailureDoesNotFailAudit(t *testing.T) {
	root := t.TempDir()
	pub := &recordingPublisher{fail: true}
	sess := NewSession(root, "shop.example.com", "session-1").WithPublisher(pub)

	if err := sess.StartAgent("recon", 1, ""); err != nil {
		t.Fatalf("StartAgent must succeed despite publisher failure: %v", err)
	}
	if err := sess.EndAgent("recon", EndAgentInput{AttemptNumber: 1, Success: true}); err != nil {
		t.Fatalf("EndAgent must succeed despite publisher failure: %v", err)
	}
}

func TestSessionMarkMultipleRolledBack(t *testing.T) {
	root := t.TempDir()
	sess := NewSession(root, "shop.example.com", "session-1")

	for _, name := range []string{"pre-recon", "recon", "scan"} {
		if err := sess.StartAgent(name, 1, ""); err != nil {
			t.Fatalf("StartAgent(%s) failed: %v", name, err)
		}
		if err := sess.EndAgent(name, EndAgentInput{AttemptNumber: 1, DurationMS: 100, CostUSD: 0.01, Success: true}); err != nil {
			t.Fatalf("EndAgent(%s) failed: %v", name, err)
		}
	}

	// Unknown names are skipped, not errors.
	if err := sess.MarkMultipleRolledBack([]string{"recon", "scan", "never-ran"}); err != nil {
		t.Fatalf("MarkMultipleRolledBack failed: %v", err)
	}

	rec, err := sess.Record()
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if rec.Agents["pre-recon"].Status != AgentStatusSuccess {
		t.Error("pre-recon must stay successful")
	}
	for _, name := range []string{"recon", "scan"} {
		if rec.Agents[name].Status != AgentStatusRolledBack {
			t.Errorf("%s: expected rolled-back, got %q", name, rec.Agents[name].Status)
		}
	}
	if !floatEq(rec.TotalCostUSD, 0.01) {
		t.Errorf("expected totals to drop rolled-back agents, got %.2f", rec.TotalCostUSD)
	}
}

func TestSessionIndependentAgentLoggers(t *testing.T) {
	root := t.TempDir()
	sess := NewSession(root, "shop.example.com", "session-1")

	for _, name := range []string{"vuln-xss", "vuln-auth"} {
		if err := sess.StartAgent(name, 1, ""); err != nil {
			t.Fatalf("StartAgent(%s) failed: %v", name, err)
		}
	}
	if err := sess.EndAgent("vuln-xss", EndAgentInput{AttemptNumber: 1, Success: true}); err != nil {
		t.Fatalf("EndAgent failed: %v", err)
	}

	// Ending one agent must not close the other's stream.
	if err := sess.LogEvent("vuln-auth", "tool-call", nil); err != nil {
		t.Errorf("vuln-auth logger must stay open: %v", err)
	}
	if err := sess.LogEvent("vuln-xss", "tool-call", nil); !errors.Is(err, ErrNoActiveLogger) {
		t.Errorf("vuln-xss logger must be closed, got %v", err)
	}
	if err := sess.EndAgent("vuln-auth", EndAgentInput{AttemptNumber: 1, Success: true}); err != nil {
		t.Fatalf("EndAgent(vuln-auth) failed: %v", err)
	}
}

func TestSessionDirectoryLayout(t *testing.T) {
	root := t.TempDir()
	sess := NewSession(root, "shop.example.com", "session-1")
	if err := sess.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	want := filepath.Join(root, "shop.example.com", "session-1")
	if sess.Dir() != want {
		t.Errorf("expected dir %s, got %s", want, sess.Dir())
	}
	if _, err := os.Stat(filepath.Join(want, "session.json")); err != nil {
		t.Errorf("expected session.json created on Initialize: %v", err)
	}
}
