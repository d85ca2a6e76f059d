package agent

import (
	"fmt"
)

// ExecutionError wraps any failure surfaced by an agent execution: handler
// errors, validation errors, and provider errors are all normalized into
// this one type, with the original cause preserved for errors.Is/As.
type ExecutionError struct {
	AgentKey string
	Err      error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("agent %s: execution failed: %v", e.AgentKey, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// ToolError wraps a failure from a single tool call that aborted the turn.
type ToolError struct {
	Tool string
	Err  error
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s: execution failed: %v", e.Tool, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ToolError) Unwrap() error {
	return e.Err
}
