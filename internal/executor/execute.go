package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/claude-harbor/agentd/internal/errors"
	"github.com/claude-harbor/agentd/internal/models"
	"github.com/claude-harbor/agentd/internal/platform"
)

// ExecuteOptions contains options for Claude execution
type ExecuteOptions struct {
	Prompt                     string
	Timeout                    time.Duration
	DangerouslySkipPermissions bool
	AllowedTools               []string
	DisallowedTools            []string
	MCPConfig                  string
	AppendSystemPrompt         string
	PermissionMode             string
	Model                      string
	FallbackModel              string
	AddDirs                    []string
	StrictMCPConfig            bool
}

// ExecuteResult contains the result of a Claude execution
type ExecuteResult struct {
	Messages      []models.ClaudeMessage
	SessionID     string
	ExitCode      int
	Stdout        string
	Stderr        string
	ExecutionTime time.Duration
}

// claudeOutput is the single JSON object the agent CLI prints to stdout on
// completion.
type claudeOutput struct {
	SessionID string                 `json:"session_id"`
	Messages  []models.ClaudeMessage `json:"messages"`
	Error     string                 `json:"error,omitempty"`
}

// stderrExcerptLimit bounds how much of stderr is attached to an
// EXECUTION_FAILED error's details.
const stderrExcerptLimit = 1024

// executeInternal runs the agent CLI to completion and parses its single
// JSON object of output.
func (ce *ClaudeExecutor) executeInternal(project *models.Project, options ExecuteOptions) (*ExecuteResult, error) {
	if project == nil {
		return nil, errors.NewValidationError("project cannot be nil")
	}

	if options.Prompt == "" {
		return nil, errors.NewValidationError("prompt cannot be empty")
	}

	messageLog := project.MessageLog

	ctx, cancel := ce.createTimeoutContext(options.Timeout)
	defer cancel()

	args := ce.buildCommandArgs(project, options)

	cmd := exec.CommandContext(ctx, ce.config.ClaudePath, args...)
	// Cancelling ctx (timeout or KillExecution) sends SIGTERM first; the
	// process is force-killed if it is still running 2s later.
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = 2 * time.Second
	cmd.Dir = project.Path
	cmd.Env = append(os.Environ(), "NO_COLOR=1")

	if err := platform.SetupProcessGroup(cmd); err != nil {
		ce.logger.Warn("Failed to setup process group", "error", err)
	}

	switch runtime.GOOS {
	case "darwin":
		platform.SetupMacOSProcess(cmd)
	case "linux":
		platform.SetupLinuxProcess(cmd)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	processInfo := &ProcessInfo{
		Cmd:       cmd,
		ProjectID: project.ID,
		StartTime: time.Now(),
		Context:   ctx,
		Cancel:    cancel,
	}

	if err := ce.registerProcess(project.ID, processInfo); err != nil {
		return nil, err
	}
	defer ce.cleanupProcess(project.ID, processInfo)

	ce.logger.Info("Starting agent execution",
		"project_id", project.ID,
		"session_id", project.SessionID,
		"prompt_length", len(options.Prompt))

	if messageLog != nil {
		userMsg := models.TimestampedMessage{
			Timestamp: time.Now(),
			Message: models.ClaudeMessage{
				Type:    "user",
				Content: json.RawMessage(fmt.Sprintf(`{"text":%q}`, options.Prompt)),
			},
			Direction: "client",
		}
		if err := messageLog.Append(userMsg); err != nil {
			ce.logger.Error("Failed to log user prompt", "error", err)
		}
	}

	startTime := time.Now()
	runErr := cmd.Run()
	executionTime := time.Since(startTime)

	stderr := stderrBuf.String()
	result := &ExecuteResult{
		Stdout:        stdoutBuf.String(),
		Stderr:        stderr,
		ExecutionTime: executionTime,
	}

	if runErr != nil {
		if processInfo.Killed.Load() {
			return result, errors.NewProcessKilledError(project.ID)
		}

		if ctx.Err() == context.DeadlineExceeded {
			return result, errors.NewExecutionTimeoutError(project.ID, options.Timeout.String())
		}

		if exitErr, ok := runErr.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
		}

		ce.logger.Error("Agent execution failed",
			"project_id", project.ID,
			"error", runErr,
			"stderr", stderr,
			"exit_code", result.ExitCode)

		return result, errors.New(errors.CodeExecutionFailed, "agent execution failed: %v", runErr).
			WithDetail("stderr", excerptStderr(stderr))
	}

	output, err := parseClaudeOutput(result.Stdout)
	if err != nil {
		ce.logger.Error("Failed to parse agent output",
			"project_id", project.ID,
			"error", err,
			"stderr", stderr)
		return result, errors.New(errors.CodeExecutionFailed, "failed to parse agent output: %v", err).
			WithDetail("stderr", excerptStderr(stderr))
	}

	if output.Error != "" {
		return result, errors.New(errors.CodeExecutionFailed, "agent reported an error: %s", output.Error).
			WithDetail("stderr", excerptStderr(stderr))
	}

	if messageLog != nil {
		for _, msg := range output.Messages {
			timestampedMsg := models.TimestampedMessage{
				Timestamp: time.Now(),
				Message:   msg,
				Direction: "claude",
			}
			if err := messageLog.Append(timestampedMsg); err != nil {
				ce.logger.Error("Failed to log agent message", "error", err, "type", msg.Type)
			}
		}
	}

	result.Messages = output.Messages
	result.SessionID = output.SessionID
	result.ExitCode = 0

	ce.logger.Info("Agent execution completed successfully",
		"project_id", project.ID,
		"session_id", result.SessionID,
		"message_count", len(result.Messages),
		"execution_time", executionTime)

	return result, nil
}

// parseClaudeOutput extracts the single JSON object from the agent's
// stdout. The CLI is sometimes preceded by banner lines on stdout, so this
// locates the first '{' through its matching closing '}' rather than
// requiring the whole stream to be valid JSON.
func parseClaudeOutput(output string) (*claudeOutput, error) {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return nil, fmt.Errorf("empty output")
	}

	start := strings.IndexByte(trimmed, '{')
	if start == -1 {
		return nil, fmt.Errorf("no JSON object found in output")
	}

	end, err := matchingBraceIndex(trimmed, start)
	if err != nil {
		return nil, err
	}

	var out claudeOutput
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("invalid JSON object: %w", err)
	}

	return &out, nil
}

// matchingBraceIndex returns the index of the '}' matching the '{' at
// start, honoring string literals and escapes so that braces inside
// message content don't confuse the scan.
func matchingBraceIndex(s string, start int) (int, error) {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}

	return 0, fmt.Errorf("unterminated JSON object")
}

// excerptStderr returns up to stderrExcerptLimit bytes of stderr for
// inclusion in an error's details.
func excerptStderr(stderr string) string {
	if len(stderr) <= stderrExcerptLimit {
		return stderr
	}
	return stderr[:stderrExcerptLimit]
}

// ExecuteWithCallback runs the agent CLI and invokes callback once for
// each message in the completed result. The agent CLI produces its output
// as a single JSON object rather than a stream, so there is no partial
// delivery: the callback fires synchronously after execution finishes.
func (ce *ClaudeExecutor) ExecuteWithCallback(
	project *models.Project,
	options ExecuteOptions,
	callback func(msg models.ClaudeMessage),
) (*ExecuteResult, error) {
	result, err := ce.executeInternal(project, options)
	if err != nil {
		return result, err
	}

	if callback != nil {
		for _, msg := range result.Messages {
			callback(msg)
		}
	}

	return result, nil
}

// buildCommandArgs builds the command line arguments for the agent CLI.
// The prompt is always the final positional argument, never sent via
// stdin, so the process can be started, registered, and awaited without a
// separate writer goroutine.
func (ce *ClaudeExecutor) buildCommandArgs(project *models.Project, options ExecuteOptions) []string {
	args := []string{}

	// Resume the existing session if one exists (Requirement 3.2)
	if project.SessionID != "" {
		args = append(args, "-c", project.SessionID)
	}

	// Non-interactive mode: print response and exit
	args = append(args, "-p")

	args = append(args, "--cwd", project.Path)

	if options.DangerouslySkipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}

	if len(options.AllowedTools) > 0 {
		args = append(args, "--allowed-tools", strings.Join(options.AllowedTools, ","))
	}

	if len(options.DisallowedTools) > 0 {
		args = append(args, "--disallowed-tools", strings.Join(options.DisallowedTools, ","))
	}

	if options.MCPConfig != "" {
		args = append(args, "--mcp-config", options.MCPConfig)
	}

	if options.AppendSystemPrompt != "" {
		args = append(args, "--append-system-prompt", options.AppendSystemPrompt)
	}

	if options.PermissionMode != "" {
		args = append(args, "--permission-mode", options.PermissionMode)
	}

	if options.Model != "" {
		args = append(args, "--model", options.Model)
	}

	if options.FallbackModel != "" {
		args = append(args, "--fallback-model", options.FallbackModel)
	}

	for _, dir := range options.AddDirs {
		args = append(args, "--add-dir", dir)
	}

	if options.StrictMCPConfig {
		args = append(args, "--strict-mcp-config")
	}

	args = append(args, "--output-format", "json")

	// The prompt is the last positional argument.
	args = append(args, options.Prompt)

	return args
}
