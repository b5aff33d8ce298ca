package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load with empty path failed: %v", err)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("expected default MaxRetries 3, got %d", cfg.MaxRetries)
	}
	if cfg.DedupStrategy != "strict" {
		t.Errorf("expected default strategy strict, got %s", cfg.DedupStrategy)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strike.yaml")
	content := "web_url: https://example.com\nrepo_path: /tmp/repo\nmax_retries: 5\ndedup_strategy: loose\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.WebURL != "https://example.com" || cfg.RepoPath != "/tmp/repo" {
		t.Errorf("target fields not loaded: %+v", cfg)
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("expected MaxRetries 5, got %d", cfg.MaxRetries)
	}
	if cfg.TargetRepo != "/tmp/repo" {
		t.Errorf("TargetRepo should default to RepoPath, got %s", cfg.TargetRepo)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestHostname(t *testing.T) {
	cases := map[string]string{
		"https://example.com":         "example.com",
		"https://Example.com:8443/x":  "example.com",
		"http://10.0.0.5:3000":        "10.0.0.5",
		"staging.internal":            "staging.internal",
		"":                            "unknown",
	}
	for in, want := range cases {
		if got := Hostname(in); got != want {
			t.Errorf("Hostname(%q) = %q, want %q", in, got, want)
		}
	}
}
