// Command strike drives the assessment pipeline: phased agents with
// checkpointed progress, crash-safe auditing and persistent exploit
// memory per target.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/StrikeScan/go-pipeline/strike/config"
	"github.com/StrikeScan/go-pipeline/strike/reconcile"
	"github.com/StrikeScan/go-pipeline/strike/session"
	"github.com/StrikeScan/go-pipeline/strike/slogger"
	"github.com/StrikeScan/go-pipeline/strike/store"
)

// app carries the wired dependencies shared by every command.
type app struct {
	cfg      config.Config
	kv       store.KVStore
	sessions *session.Manager

	// flag values
	webURL     string
	repoPath   string
	targetRepo string
	configFile string
	model      string
	maxRetries int
}

func main() {
	slogger.Init()

	a := &app{}
	root := &cobra.Command{
		Use:           "strike",
		Short:         "Phased security-assessment pipeline with checkpointed progress",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initialize(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.kv != nil {
				a.kv.Close()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.webURL, "url", "", "target web URL")
	pf.StringVar(&a.repoPath, "repo", "", "target source repository path")
	pf.StringVar(&a.targetRepo, "target-repo", "", "working copy the agents operate on (defaults to --repo)")
	pf.StringVar(&a.configFile, "config", "", "YAML config file")
	pf.StringVar(&a.model, "model", "", "model override for the agent executor")
	pf.IntVar(&a.maxRetries, "max-retries", 0, "retry budget per agent (default 3)")

	root.AddCommand(
		a.runCmd(),
		a.phaseCmd(),
		a.agentCmd(),
		a.rangeCmd(),
		a.statusCmd(),
		a.rollbackCmd(),
		a.rerunCmd(),
		a.sessionsCmd(),
		a.enrichCmd(),
		a.eventsCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// initialize loads configuration, opens the session store and reconciles
// it against the audit records before any command runs.
func (a *app) initialize(ctx context.Context) error {
	cfg, err := config.Load(a.configFile)
	if err != nil {
		return err
	}
	a.cfg = a.applyOverrides(cfg)

	a.kv, err = openStore(cfg)
	if err != nil {
		return err
	}
	a.sessions = session.NewManager(a.kv)

	res, err := reconcile.New(cfg.AuditRoot, a.sessions).Run(ctx)
	if err != nil {
		return fmt.Errorf("reconcile session store: %w", err)
	}
	if res.Corrected > 0 || res.StoreWasReset {
		slog.Info("Session store reconciled", "scanned", res.Scanned, "corrected", res.Corrected, "reset", res.StoreWasReset)
	}
	return nil
}

// applyOverrides layers command-line flags over the loaded config. A flag
// left at its zero value never overrides a config-file setting, and
// --target-repo only defaults to --repo when the config carries neither.
func (a *app) applyOverrides(cfg config.Config) config.Config {
	if a.webURL != "" {
		cfg.WebURL = a.webURL
	}
	if a.repoPath != "" {
		cfg.RepoPath = a.repoPath
		if cfg.TargetRepo == "" {
			cfg.TargetRepo = a.repoPath
		}
	}
	if a.targetRepo != "" {
		cfg.TargetRepo = a.targetRepo
	}
	if a.model != "" {
		cfg.Model = a.model
	}
	if a.maxRetries > 0 {
		cfg.MaxRetries = a.maxRetries
	}
	return cfg
}

// openStore picks the KV backend: valkey when STRIKE_STORE=valkey, local
// JSON file otherwise.
func openStore(cfg config.Config) (store.KVStore, error) {
	if os.Getenv("STRIKE_STORE") == "valkey" {
		return store.NewValkeyStore()
	}
	return store.NewFileStore(cfg.SessionsFile)
}

// requireTarget fails commands that need a target with a usable message.
func (a *app) requireTarget() error {
	if a.cfg.WebURL == "" || a.cfg.RepoPath == "" {
		return fmt.Errorf("a target is required: pass --url and --repo or provide a config file")
	}
	return nil
}
