// Package orcerr defines the orchestrator's typed error taxonomy
// (spec.md §7). Each kind is a dedicated Go type so callers (the HTTP
// layer, the CLI, tests) can use errors.As to recover structured
// fields instead of parsing messages.
package orcerr

import "fmt"

// WorkflowConflictError is raised when a workflow is already active in
// the given worktree. Surfaced as HTTP 409.
// Grounded on original_source/amelia/server/orchestrator/exceptions.py WorkflowConflictError.
type WorkflowConflictError struct {
	WorktreePath string
}

func (e *WorkflowConflictError) Error() string {
	return fmt.Sprintf("workflow already active in worktree: %s", e.WorktreePath)
}

// ConcurrencyLimitError is raised when the active-workflow cap is reached.
// Surfaced as HTTP 429 with Retry-After.
// Grounded on original_source/amelia/server/orchestrator/exceptions.py ConcurrencyLimitError.
type ConcurrencyLimitError struct {
	MaxConcurrent int
}

func (e *ConcurrencyLimitError) Error() string {
	return fmt.Sprintf("maximum %d concurrent workflows already running", e.MaxConcurrent)
}

// InvalidStateTransitionError is raised when a status edge is not in
// the state machine's transition matrix. Surfaced as HTTP 422.
type InvalidStateTransitionError struct {
	From, To string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s", e.From, e.To)
}

// WorkflowNotFoundError is raised when a workflow id is unknown.
// Surfaced as HTTP 404.
type WorkflowNotFoundError struct {
	WorkflowID string
}

func (e *WorkflowNotFoundError) Error() string {
	return fmt.Sprintf("workflow not found: %s", e.WorkflowID)
}

// BlockedCommandError is raised when a subprocess invocation targets a
// command on the orchestrator's deny-list.
type BlockedCommandError struct {
	Command string
}

func (e *BlockedCommandError) Error() string {
	return fmt.Sprintf("command is blocked: %s", e.Command)
}

// DangerousCommandError is raised when a command matches a known
// destructive pattern (e.g. recursive force-delete of the worktree root).
type DangerousCommandError struct {
	Command string
	Reason  string
}

func (e *DangerousCommandError) Error() string {
	return fmt.Sprintf("dangerous command %q: %s", e.Command, e.Reason)
}

// ShellInjectionError is raised when a command or argument contains
// shell metacharacters that would only have meaning if interpolated
// into a shell string (spec.md §9 "Command injection").
type ShellInjectionError struct {
	Input string
}

func (e *ShellInjectionError) Error() string {
	return fmt.Sprintf("refusing to execute input with shell metacharacters: %q", e.Input)
}

// CommandNotAllowedError is raised when a step's command is not
// resolvable on PATH, or is outside an allow-listed set for the profile.
type CommandNotAllowedError struct {
	Command string
}

func (e *CommandNotAllowedError) Error() string {
	return fmt.Sprintf("command not allowed or not found on PATH: %s", e.Command)
}

// PathTraversalError is raised when a file write would escape the
// worktree root.
type PathTraversalError struct {
	Path string
}

func (e *PathTraversalError) Error() string {
	return fmt.Sprintf("path escapes allowed root: %s", e.Path)
}

// AgenticExecutionError wraps an `error` event emitted by the driver's
// agentic execution stream (spec.md §1 ExecuteAgentic contract).
type AgenticExecutionError struct {
	Message string
}

func (e *AgenticExecutionError) Error() string {
	return fmt.Sprintf("agentic execution error: %s", e.Message)
}

// ConfigurationError is raised when an adapter's prerequisites (auth,
// env vars) are missing.
type ConfigurationError struct {
	Detail string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Detail)
}
