package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// commandResult is the JSON document the agent binary prints as its final
// output line.
type commandResult struct {
	IsError      bool    `json:"is_error"`
	Result       string  `json:"result"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	NumTurns     int     `json:"num_turns"`
	Subtype      string  `json:"subtype"`
}

// CommandExecutor runs agents by invoking an external agent binary as a
// subprocess. The binary reads the prompt on stdin and reports outcome,
// cost and turn count as a trailing JSON line on stdout.
type CommandExecutor struct {
	Binary  string
	Model   string
	Timeout time.Duration
}

// NewCommandExecutor builds an executor for the given binary. The
// STRIKE_AGENT_BIN environment variable overrides the binary path.
func NewCommandExecutor(binary, model string, timeout time.Duration) *CommandExecutor {
	if env := os.Getenv("STRIKE_AGENT_BIN"); env != "" {
		binary = env
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &CommandExecutor{Binary: binary, Model: model, Timeout: timeout}
}

// Execute runs one attempt. Classified failures come back as *ExecError
// with duration and any cost parsed from partial output attached, so the
// audit layer can account for spend on failed attempts.
func (e *CommandExecutor) Execute(ctx context.Context, req Request) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	args := []string{"--output-format", "json"}
	if e.Model != "" {
		args = append(args, "--model", e.Model)
	}
	for _, perm := range req.ToolPermissions {
		args = append(args, "--allow-tool", perm)
	}

	cmd := exec.CommandContext(ctx, e.Binary, args...)
	cmd.Dir = req.WorkingDir
	cmd.Stdin = strings.NewReader(req.Prompt)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Debug("Executing agent", "agent", req.AgentName, "binary", e.Binary, "dir", req.WorkingDir)
	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start).Milliseconds()

	parsed, parseOK := parseTrailingJSON(stdout.String())

	if runErr != nil {
		ee := classify(ctx, runErr, stdout.String()+stderr.String())
		ee.DurationMS = elapsed
		if parseOK {
			ee.CostUSD = parsed.TotalCostUSD
		}
		return Result{DurationMS: elapsed, CostUSD: ee.CostUSD, Output: stdout.String()}, ee
	}

	if !parseOK {
		ee := NewExecError(ErrorTransient, "agent produced no parseable result document")
		ee.DurationMS = elapsed
		return Result{DurationMS: elapsed, Output: stdout.String()}, ee
	}

	res := Result{
		Success:    !parsed.IsError,
		Output:     parsed.Result,
		DurationMS: elapsed,
		CostUSD:    parsed.TotalCostUSD,
		Turns:      parsed.NumTurns,
	}

	if parsed.IsError {
		ee := classify(ctx, nil, parsed.Result+" "+parsed.Subtype)
		ee.DurationMS = elapsed
		ee.CostUSD = parsed.TotalCostUSD
		return res, ee
	}
	if containsAPIError(parsed.Result) {
		// Exit zero but the transcript carries provider errors: the
		// deliverable cannot be trusted.
		res.Success = false
		res.APIErrorDetected = true
		ee := NewExecError(ErrorTransient, "provider errors detected in transcript")
		ee.DurationMS = elapsed
		ee.CostUSD = parsed.TotalCostUSD
		return res, ee
	}
	return res, nil
}

// parseTrailingJSON finds the last line of output that parses as the
// result document.
func parseTrailingJSON(out string) (commandResult, bool) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var res commandResult
		if err := json.Unmarshal([]byte(line), &res); err == nil {
			return res, true
		}
	}
	return commandResult{}, false
}

// classify maps process failure and output text to an error type.
func classify(ctx context.Context, runErr error, output string) *ExecError {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return NewExecError(ErrorTimeout, "agent exceeded execution timeout")
	}
	lower := strings.ToLower(output)
	switch {
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "429") || strings.Contains(lower, "overloaded"):
		return NewExecError(ErrorRateLimit, firstLine(output))
	case strings.Contains(lower, "401") || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "authentication") || strings.Contains(lower, "invalid api key"):
		return NewExecError(ErrorAuth, firstLine(output))
	case strings.Contains(lower, "permission denied") || strings.Contains(lower, "not permitted"):
		return NewExecError(ErrorPermission, firstLine(output))
	case strings.Contains(lower, "max turns") || strings.Contains(lower, "error_max_turns"):
		return NewExecError(ErrorMaxTurns, firstLine(output))
	}
	msg := firstLine(output)
	if msg == "" && runErr != nil {
		msg = runErr.Error()
	}
	return NewExecError(ErrorTransient, msg)
}

func containsAPIError(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "api error") || strings.Contains(lower, "internal server error") || strings.Contains(lower, "overloaded_error")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	const max = 200
	if len(s) > max {
		s = s[:max]
	}
	return s
}

var _ Executor = (*CommandExecutor)(nil)
