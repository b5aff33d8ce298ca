package executor

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Validator checks the deliverable an agent was required to produce in the
// working directory. A non-nil return fails the attempt with a retryable
// validation-failed error; the retry budget caps how often a flaky
// deliverable is chased.
type Validator func(workingDir string) error

// ValidatorRegistry maps agent names to deliverable validators.
type ValidatorRegistry struct {
	validators map[string]Validator
}

// NewValidatorRegistry creates an empty registry.
func NewValidatorRegistry() *ValidatorRegistry {
	return &ValidatorRegistry{validators: map[string]Validator{}}
}

// Register installs the validator for an agent, replacing any previous one.
func (r *ValidatorRegistry) Register(agentName string, v Validator) {
	r.validators[agentName] = v
}

// Validate runs the agent's validator against the working directory. An
// agent without a registered validator passes with a warning; validation is
// a guard rail, not a gate on pipeline evolution.
func (r *ValidatorRegistry) Validate(agentName, workingDir string) error {
	v, ok := r.validators[agentName]
	if !ok {
		slog.Warn("No deliverable validator registered, skipping", "agent", agentName)
		return nil
	}
	if err := v(workingDir); err != nil {
		return NewExecError(ErrorValidationFailed, fmt.Sprintf("agent %s deliverable: %v", agentName, err))
	}
	return nil
}

// RequireFile is a validator that checks a non-empty file exists at the
// given path relative to the working directory.
func RequireFile(relPath string) Validator {
	return func(workingDir string) error {
		path := filepath.Join(workingDir, relPath)
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("missing %s: %w", relPath, err)
		}
		if info.Size() == 0 {
			return fmt.Errorf("%s is empty", relPath)
		}
		return nil
	}
}
