package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/atlas-go/atlas/llm"
)

// Dangerous command patterns that are always blocked.
var dangerousPatterns = []string{
	"rm ", "rm -", "rmdir", "unlink",
	"format", "mkfs", "dd ",
	"sudo rm", "sudo format", "sudo mkfs",
	"chmod 777", "chmod 000",
	"curl | sh", "curl | bash", "wget | sh", "wget | bash",
	"> /dev/sd", "of=/dev/sd", "of=/dev/hd",
	"mkfs.", "fdisk ",
	"dd if=", "dd of=",
}

const (
	defaultCommandTimeout = 30 * time.Second
	maxCommandTimeout     = 5 * time.Minute
	maxOutputBytes        = 1 << 20
)

// isDangerousCommand reports whether a command matches a blocked pattern.
func isDangerousCommand(command string) bool {
	cmdLower := strings.ToLower(command)
	for _, pattern := range dangerousPatterns {
		if strings.Contains(cmdLower, pattern) {
			return true
		}
	}

	// curl/wget pipelines that execute shells, even with args in between.
	if (strings.Contains(cmdLower, "curl") || strings.Contains(cmdLower, "wget")) &&
		strings.Contains(cmdLower, "|") &&
		(strings.Contains(cmdLower, "| sh") || strings.Contains(cmdLower, "| bash")) {
		return true
	}

	// Redirects to absolute paths outside temp dirs.
	if idx := strings.Index(cmdLower, "> "); idx >= 0 {
		target := strings.TrimSpace(cmdLower[idx+1:])
		if filepath.IsAbs(target) && !strings.HasPrefix(target, "/tmp/") && !strings.HasPrefix(target, "/var/tmp/") {
			return true
		}
	}

	return false
}

// validateWorkspacePath resolves a relative path against the workspace root
// and rejects anything that escapes it.
func validateWorkspacePath(workspacePath, rel string) (string, error) {
	resolved := filepath.Clean(filepath.Join(workspacePath, rel))
	if resolved != workspacePath && !strings.HasPrefix(resolved, workspacePath+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the workspace", rel)
	}
	return resolved, nil
}

// ExecuteCommandTool builds the sandboxed command execution tool, rooted at
// workspacePath. Commands matching a dangerous pattern are refused; output
// is capped and exit codes are reported in the result rather than as errors.
func ExecuteCommandTool(workspacePath string) Tool {
	return New(
		"execute_command",
		"Executes a command in the workspace and returns its output and exit code.",
		commandSchema(),
		func(ctx context.Context, args json.RawMessage, tc *Context) (*Result, error) {
			return runCommand(ctx, workspacePath, args)
		},
	)
}

// RegisterSystemTools registers the built-in system tools rooted at
// workspacePath.
func (r *Registry) RegisterSystemTools(workspacePath string) {
	r.Register(ExecuteCommandTool(workspacePath))
}

func commandSchema() llm.ToolSchema {
	return llm.ToolSchema{
		Type: "object",
		Properties: map[string]interface{}{
			"command":     map[string]interface{}{"type": "string", "description": "Command to run"},
			"args":        map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}, "description": "Command arguments"},
			"timeout":     map[string]interface{}{"type": "integer", "description": "Timeout in seconds (max 300)"},
			"working_dir": map[string]interface{}{"type": "string", "description": "Working directory relative to the workspace"},
			"stdin":       map[string]interface{}{"type": "string", "description": "Data fed to the command's stdin"},
		},
		Required: []string{"command"},
	}
}

func runCommand(ctx context.Context, workspacePath string, args json.RawMessage) (*Result, error) {
	var payload struct {
		Command    string   `json:"command"`
		Args       []string `json:"args"`
		Timeout    int      `json:"timeout"`
		WorkingDir string   `json:"working_dir"`
		Stdin      string   `json:"stdin"`
	}
	if err := json.Unmarshal(args, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
	}

	fullCommand := payload.Command
	if len(payload.Args) > 0 {
		fullCommand += " " + strings.Join(payload.Args, " ")
	}
	if isDangerousCommand(fullCommand) {
		return nil, fmt.Errorf("command blocked: %q could damage the system or delete files; use safer alternatives", fullCommand)
	}

	timeout := defaultCommandTimeout
	if payload.Timeout > 0 {
		timeout = time.Duration(payload.Timeout) * time.Second
	}
	if timeout > maxCommandTimeout {
		timeout = maxCommandTimeout
	}

	workDir := workspacePath
	if payload.WorkingDir != "" {
		validated, err := validateWorkspacePath(workspacePath, payload.WorkingDir)
		if err != nil {
			return nil, fmt.Errorf("invalid working directory: %w", err)
		}
		workDir = validated
	}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmdArgs := payload.Args
	name := payload.Command
	if len(cmdArgs) == 0 {
		// Bare command strings may carry embedded arguments.
		parts := strings.Fields(payload.Command)
		name = parts[0]
		cmdArgs = parts[1:]
	}

	cmd := exec.CommandContext(cmdCtx, name, cmdArgs...) //#nosec G204 -- intentional command execution
	cmd.Dir = workDir
	if payload.Stdin != "" {
		cmd.Stdin = strings.NewReader(payload.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if cmdCtx.Err() != nil {
		return nil, fmt.Errorf("command timed out after %s", timeout)
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("command failed: %w", err)
		}
		exitCode = exitErr.ExitCode()
	}

	return JSONResult(map[string]any{
		"command":   fullCommand,
		"exit_code": exitCode,
		"stdout":    truncateOutput(stdout.String()),
		"stderr":    truncateOutput(stderr.String()),
		"success":   exitCode == 0,
	}), nil
}

func truncateOutput(s string) string {
	if len(s) > maxOutputBytes {
		return s[:maxOutputBytes] + "\n... (truncated)"
	}
	return s
}
