package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoggerAppendsOneLinePerEvent(t *testing.T) {
	t.Log("\n📝 Testing JSONL event stream...")

	dir := t.TempDir()
	logger := NewLogger(dir, "recon", 1, time.Date(2026, 8, 23, 10, 30, 0, 0, time.UTC))
	if err := logger.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer logger.Close()

	if !strings.Contains(logger.Path(), "recon_attempt1_20260823-103000.jsonl") {
		t.Errorf("unexpected log path: %s", logger.Path())
	}

	events := []string{"tool-call", "tool-result", "message"}
	for _, typ := range events {
		if err := logger.LogEvent(typ, map[string]any{"detail": typ}); err != nil {
			t.Fatalf("LogEvent(%s) failed: %v", typ, err)
		}
	}

	f, err := os.Open(logger.Path())
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()

	seen := map[string]bool{}
	scanner := bufio.NewScanner(f)
	lines := 0
	for scanner.Scan() {
		lines++
		var ev logEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", lines, err)
		}
		if ev.EventID == "" {
			t.Errorf("line %d missing event_id", lines)
		}
		if ev.Timestamp.IsZero() {
			t.Errorf("line %d missing timestamp", lines)
		}
		if seen[ev.EventID] {
			t.Errorf("duplicate event_id %s", ev.EventID)
		}
		seen[ev.EventID] = true
	}
	if lines != len(events) {
		t.Errorf("expected %d lines, got %d", len(events), lines)
	}
}

func TestLoggerRejectsWritesAfterClose(t *testing.T) {
	dir := t.TempDir()
	logger := NewLogger(dir, "scan", 2, time.Now())
	if err := logger.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("second Close must be a no-op, got %v", err)
	}
	if err := logger.LogEvent("message", nil); err == nil {
		t.Error("expected error logging to a closed stream")
	}
}

func TestLoggerRejectsWritesBeforeInitialize(t *testing.T) {
	logger := NewLogger(t.TempDir(), "scan", 1, time.Now())
	if err := logger.LogEvent("message", nil); err == nil {
		t.Error("expected error logging before Initialize")
	}
}

func TestSavePromptWritesSnapshot(t *testing.T) {
	dir := t.TempDir()
	if err := SavePrompt(dir, "exploit", "# Exploit\ntarget: shop.example.com"); err != nil {
		t.Fatalf("SavePrompt failed: %v", err)
	}
	data, err := os.ReadFile(PromptPath(dir, "exploit"))
	if err != nil {
		t.Fatalf("read prompt snapshot: %v", err)
	}
	if !strings.Contains(string(data), "shop.example.com") {
		t.Errorf("unexpected prompt content: %s", data)
	}
}
