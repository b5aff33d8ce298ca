// Package executor runs agents as external model-driven processes and
// classifies their failures so the retry policy can decide what is worth
// another attempt.
package executor

import (
	"context"
	"errors"
	"fmt"
)

// ErrorType classifies an execution failure.
type ErrorType string

const (
	ErrorRateLimit  ErrorType = "rate-limit"
	ErrorTransient  ErrorType = "transient"
	ErrorTimeout    ErrorType = "timeout"
	ErrorMaxTurns   ErrorType = "max-turns"
	ErrorAuth       ErrorType = "auth"
	ErrorPermission ErrorType = "permission"
	// ErrorValidation is input validation: unknown agent, bad arguments.
	// Rerunning the same input cannot change the outcome.
	ErrorValidation ErrorType = "validation"
	// ErrorValidationFailed is a deliverable that failed its check. The
	// agent may well produce a correct deliverable on another attempt.
	ErrorValidationFailed ErrorType = "validation-failed"
)

// ExecError is a classified execution failure. Cost spent before the
// failure is carried so the audit layer never loses partial spend.
type ExecError struct {
	Type       ErrorType
	Message    string
	Retryable  bool
	DurationMS int64
	CostUSD    float64
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NewExecError builds a classified error with retryability derived from
// the type. Auth, permission and input-validation failures are never
// retried; rerunning them burns cost without changing the outcome.
// Deliverable-validation failures stay retryable.
func NewExecError(typ ErrorType, message string) *ExecError {
	retryable := true
	switch typ {
	case ErrorAuth, ErrorPermission, ErrorValidation:
		retryable = false
	}
	return &ExecError{Type: typ, Message: message, Retryable: retryable}
}

// AsExecError unwraps an ExecError from an error chain.
func AsExecError(err error) (*ExecError, bool) {
	var ee *ExecError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

// Request describes one agent invocation.
type Request struct {
	Prompt          string
	WorkingDir      string
	ToolPermissions []string
	Context         string
	Description     string
	AgentName       string
	SessionID       string
	Hostname        string
	Model           string
}

// Result is the outcome of a completed invocation.
type Result struct {
	Success    bool
	Output     string
	DurationMS int64
	CostUSD    float64
	Turns      int
	// APIErrorDetected is set when the transcript contains provider errors
	// even though the process exited zero.
	APIErrorDetected bool
}

// Executor runs one agent attempt. Implementations must honor ctx
// cancellation and return an *ExecError for classifiable failures.
type Executor interface {
	Execute(ctx context.Context, req Request) (Result, error)
}
