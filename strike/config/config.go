// Package config loads pipeline configuration from an optional YAML file
// with environment-variable overrides.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds everything the pipeline needs to run against one target.
type Config struct {
	WebURL       string `yaml:"web_url"`
	RepoPath     string `yaml:"repo_path"`
	TargetRepo   string `yaml:"target_repo,omitempty"`
	ConfigFile   string `yaml:"-"`
	Model        string `yaml:"model,omitempty"`
	MaxRetries   int    `yaml:"max_retries,omitempty"`
	AuditRoot    string `yaml:"audit_root,omitempty"`
	MemoryDir    string `yaml:"memory_dir,omitempty"`
	SessionsFile string `yaml:"sessions_file,omitempty"`
	QueueName    string `yaml:"queue_name,omitempty"`
	// DedupStrategy controls identity-hash strictness: strict, moderate, loose.
	DedupStrategy string `yaml:"dedup_strategy,omitempty"`
}

// Default returns the baseline configuration rooted under ~/.strike.
func Default() Config {
	root := strikeRoot()
	return Config{
		MaxRetries:    3,
		AuditRoot:     filepath.Join(root, "audits"),
		MemoryDir:     filepath.Join(root, "memory"),
		SessionsFile:  filepath.Join(root, "sessions.json"),
		DedupStrategy: "strict",
	}
}

// Load reads a YAML config file over the defaults. An empty path returns the
// defaults (with env overrides) unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
		cfg.ConfigFile = path
	}
	cfg.applyEnv()
	if cfg.TargetRepo == "" {
		cfg.TargetRepo = cfg.RepoPath
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("STRIKE_AUDIT_ROOT"); v != "" {
		c.AuditRoot = v
	}
	if v := os.Getenv("STRIKE_MEMORY_DIR"); v != "" {
		c.MemoryDir = v
	}
	if v := os.Getenv("STRIKE_SESSIONS_FILE"); v != "" {
		c.SessionsFile = v
	}
	if v := os.Getenv("STRIKE_QUEUE_NAME"); v != "" {
		c.QueueName = v
	}
}

// Hostname derives the per-target store identity from the web URL. A bare
// host (no scheme) is accepted; the port is stripped.
func Hostname(webURL string) string {
	raw := strings.TrimSpace(webURL)
	if raw == "" {
		return "unknown"
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return sanitizeHost(webURL)
	}
	return sanitizeHost(u.Hostname())
}

// sanitizeHost keeps the hostname filesystem-safe since it names audit
// directories and memory database files.
func sanitizeHost(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	replacer := strings.NewReplacer("/", "_", ":", "_", "\\", "_", " ", "_")
	return replacer.Replace(h)
}

func strikeRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".strike"
	}
	return filepath.Join(home, ".strike")
}
