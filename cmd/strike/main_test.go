package main

import (
	"testing"
	"time"

	"github.com/StrikeScan/go-pipeline/strike/config"
	"github.com/StrikeScan/go-pipeline/strike/queue"
)

func TestApplyOverridesKeepsConfigTargetRepo(t *testing.T) {
	t.Log("\n⚙️  Testing flag overrides respect the config file...")

	a := &app{repoPath: "/src/shop"}
	cfg := a.applyOverrides(config.Config{TargetRepo: "/work/shop-copy"})
	if cfg.RepoPath != "/src/shop" {
		t.Errorf("expected repo path from flag, got %q", cfg.RepoPath)
	}
	// --repo alone must not clobber a target_repo set in the config file.
	if cfg.TargetRepo != "/work/shop-copy" {
		t.Errorf("expected config target repo kept, got %q", cfg.TargetRepo)
	}
}

func TestApplyOverridesTargetRepoDefaultsToRepo(t *testing.T) {
	a := &app{repoPath: "/src/shop"}
	cfg := a.applyOverrides(config.Config{})
	if cfg.TargetRepo != "/src/shop" {
		t.Errorf("expected target repo to default to --repo, got %q", cfg.TargetRepo)
	}
}

func TestApplyOverridesTargetRepoFlagWins(t *testing.T) {
	a := &app{repoPath: "/src/shop", targetRepo: "/work/other"}
	cfg := a.applyOverrides(config.Config{TargetRepo: "/work/shop-copy"})
	if cfg.TargetRepo != "/work/other" {
		t.Errorf("expected --target-repo to win, got %q", cfg.TargetRepo)
	}
}

func TestFormatEventStableOrder(t *testing.T) {
	env := queue.Envelope{
		Type:      "agent-started",
		Timestamp: time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
		Payload:   map[string]any{"session": "s-1", "agent": "recon"},
	}
	want := "09:30:00  agent-started        agent=recon session=s-1"
	if got := formatEvent(env); got != want {
		t.Errorf("unexpected event line:\n got %q\nwant %q", got, want)
	}
}
