// Package batchexec implements the Batch Executor (spec.md §4.5): it
// runs one batch's steps in order, enforcing cascade-skip, tiered
// pre-validation, execute-with-fallbacks, and exit-code/output
// validation, grounded on
// original_source/amelia/agents/developer.py
// (validate_command_result, get_cascade_skips, _execute_step_with_fallbacks).
package batchexec

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/forgeflow/orchestrator/internal/domain"
	"github.com/forgeflow/orchestrator/internal/safeshell"
)

// SemanticValidator is the optional high-risk LLM semantic check hook
// (spec.md §4.5b: "an additional semantic check via a small LLM call
// is permitted — implementation may stub this to pass-through while
// preserving the hook"). A nil validator always passes.
type SemanticValidator func(ctx context.Context, step domain.Step) (ok bool, issue string)

// Executor runs batches of steps against a worktree.
type Executor struct {
	WorktreePath string
	Semantic     SemanticValidator
	ShellTimeout time.Duration
}

// New returns an Executor rooted at worktreePath. semantic may be nil.
func New(worktreePath string, semantic SemanticValidator) *Executor {
	return &Executor{WorktreePath: worktreePath, Semantic: semantic}
}

func (e *Executor) shellOpts() safeshell.Options {
	return safeshell.Options{Dir: e.WorktreePath, Timeout: e.ShellTimeout}
}

// ExecuteBatch runs batch.Steps in declared order, applying the
// cascade-skip check, pre-validation, and execute-with-fallbacks
// procedure. skipped is the plan-wide skipped-step-id set (read-only
// here; the blocker resolution protocol owns mutating it). resumeFrom
// carries forward StepResults already recorded for this batch on a
// blocker-recovery resume (spec.md §4.5 "Recovery from a blocker");
// pass nil for a fresh run.
func (e *Executor) ExecuteBatch(ctx context.Context, batch domain.Batch, skipped map[string]bool, resumeFrom []domain.StepResult) domain.BatchResult {
	done := make(map[string]bool, len(resumeFrom))
	results := append([]domain.StepResult{}, resumeFrom...)
	for _, r := range resumeFrom {
		done[r.StepID] = true
	}

	for _, step := range batch.Steps {
		if done[step.ID] {
			continue
		}

		if skipped[step.ID] {
			results = append(results, domain.StepResult{
				StepID: step.ID,
				Status: domain.StepSkipped,
				Error:  "step was skipped via blocker resolution",
			})
			continue
		}

		if dep, skippedDep := cascadeSkipped(step, skipped); skippedDep {
			results = append(results, domain.StepResult{
				StepID: step.ID,
				Status: domain.StepSkipped,
				Error:  fmt.Sprintf("Dependency %s was skipped", dep),
			})
			continue
		}

		if ok, issue := e.preValidate(ctx, step); !ok {
			return domain.BatchResult{
				BatchNumber:    batch.Number,
				Status:         domain.BatchBlocked,
				CompletedSteps: results,
				Blocker: &domain.BlockerReport{
					StepID:          step.ID,
					StepDescription: step.Description,
					BlockerType:     blockerTypeForValidation(step),
					ErrorMessage:    issue,
				},
			}
		}

		result := e.executeStepWithFallbacks(ctx, step)
		results = append(results, result)

		if result.Status == domain.StepFailed {
			attempted := []string{}
			if result.ExecutedCommand != "" {
				attempted = append(attempted, result.ExecutedCommand)
			}
			return domain.BatchResult{
				BatchNumber:    batch.Number,
				Status:         domain.BatchBlocked,
				CompletedSteps: results,
				Blocker: &domain.BlockerReport{
					StepID:           step.ID,
					StepDescription:  step.Description,
					BlockerType:      blockerTypeForExecution(step),
					ErrorMessage:     result.Error,
					AttemptedActions: attempted,
				},
			}
		}
	}

	return domain.BatchResult{BatchNumber: batch.Number, Status: domain.BatchComplete, CompletedSteps: results}
}

func blockerTypeForValidation(step domain.Step) domain.BlockerType {
	if step.ActionType == domain.ActionCommand || step.ActionType == domain.ActionValidation {
		return domain.BlockerValidationFailed
	}
	return domain.BlockerUnexpectedState
}

func blockerTypeForExecution(step domain.Step) domain.BlockerType {
	if step.ActionType == domain.ActionValidation {
		return domain.BlockerValidationFailed
	}
	return domain.BlockerCommandFailed
}

// cascadeSkipped reports whether step depends on a step already in
// skipped, returning the first such dependency's id.
func cascadeSkipped(step domain.Step, skipped map[string]bool) (string, bool) {
	for _, dep := range step.DependsOn {
		if skipped[dep] {
			return dep, true
		}
	}
	return "", false
}

// preValidate runs the tiered pre-validation described in spec.md
// §4.5b: filesystem checks always; an optional semantic check for
// high-risk steps only.
func (e *Executor) preValidate(ctx context.Context, step domain.Step) (bool, string) {
	if ok, issue := e.filesystemChecks(step); !ok {
		return false, issue
	}

	if step.RiskLevel != domain.RiskHigh || e.Semantic == nil {
		return true, ""
	}
	return e.Semantic(ctx, step)
}

func (e *Executor) filesystemChecks(step domain.Step) (bool, string) {
	if step.Cwd != "" {
		if info, err := os.Stat(e.abs(step.Cwd)); err != nil || !info.IsDir() {
			return false, fmt.Sprintf("Working directory does not exist: %s", step.Cwd)
		}
	}

	switch step.ActionType {
	case domain.ActionCode:
		if step.FilePath == "" {
			return true, ""
		}
		path := e.abs(step.FilePath)
		if _, err := os.Stat(path); err == nil {
			return true, ""
		}
		parent := filepath.Dir(path)
		if info, err := os.Stat(parent); err != nil || !info.IsDir() {
			return false, fmt.Sprintf("Parent directory does not exist for file: %s", step.FilePath)
		}
		return true, ""

	case domain.ActionCommand:
		if step.Command == "" {
			return true, ""
		}
		argv, err := safeshell.ParseCommand(step.Command)
		if err != nil || len(argv) == 0 {
			return false, fmt.Sprintf("Command not found: %s", step.Command)
		}
		exe := safeshell.Executable(argv)
		if _, err := exec.LookPath(exe); err != nil {
			return false, fmt.Sprintf("Command not found: %s", exe)
		}
		return true, ""

	default:
		return true, ""
	}
}

func (e *Executor) abs(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(e.WorktreePath, path)
}

// executeStepWithFallbacks runs step's action, trying each fallback
// command in turn for "command" steps (spec.md §4.5c).
func (e *Executor) executeStepWithFallbacks(ctx context.Context, step domain.Step) domain.StepResult {
	start := time.Now()

	switch step.ActionType {
	case domain.ActionCode:
		return e.executeCodeStep(ctx, step, start)
	case domain.ActionCommand:
		return e.executeCommandStep(ctx, step, start)
	case domain.ActionValidation:
		return e.executeValidationStep(ctx, step, start)
	default:
		return domain.StepResult{
			StepID:          step.ID,
			Status:          domain.StepFailed,
			Error:           fmt.Sprintf("unsupported action type: %s", step.ActionType),
			DurationSeconds: time.Since(start).Seconds(),
		}
	}
}

func (e *Executor) executeCodeStep(ctx context.Context, step domain.Step, start time.Time) domain.StepResult {
	if step.FilePath == "" || step.CodeChange == "" {
		return domain.StepResult{StepID: step.ID, Status: domain.StepFailed, Error: "code action requires file_path and code_change", DurationSeconds: time.Since(start).Seconds()}
	}

	path := e.abs(step.FilePath)
	if err := writeFileAtomic(path, step.CodeChange); err != nil {
		return domain.StepResult{StepID: step.ID, Status: domain.StepFailed, Error: err.Error(), DurationSeconds: time.Since(start).Seconds()}
	}
	output := fmt.Sprintf("Wrote code to %s", step.FilePath)

	if step.ValidationCommand != "" {
		res, err := safeshell.Run(ctx, step.ValidationCommand, e.shellOpts())
		if err != nil {
			return domain.StepResult{StepID: step.ID, Status: domain.StepFailed, Output: output, Error: fmt.Sprintf("validation failed: %s", err), ExecutedCommand: step.ValidationCommand, DurationSeconds: time.Since(start).Seconds()}
		}
		if !validateCommandResult(res.ExitCode, res.Stdout, step) {
			return domain.StepResult{StepID: step.ID, Status: domain.StepFailed, Output: output, Error: "validation command did not meet expected result", ExecutedCommand: step.ValidationCommand, DurationSeconds: time.Since(start).Seconds()}
		}
		output += "\nValidation: " + res.Stdout
	}

	return domain.StepResult{StepID: step.ID, Status: domain.StepOK, Output: output, DurationSeconds: time.Since(start).Seconds()}
}

func (e *Executor) executeCommandStep(ctx context.Context, step domain.Step, start time.Time) domain.StepResult {
	commands := append([]string{step.Command}, step.FallbackCommands...)
	var lastErr string
	var lastCmd string

	for _, cmd := range commands {
		if strings.TrimSpace(cmd) == "" {
			continue
		}
		lastCmd = cmd
		res, err := safeshell.Run(ctx, cmd, e.shellOpts())
		if err != nil {
			lastErr = err.Error()
			continue
		}
		if !validateCommandResult(res.ExitCode, res.Stdout, step) {
			lastErr = fmt.Sprintf("exit code %d did not match expectation, or output did not match pattern", res.ExitCode)
			continue
		}
		return domain.StepResult{StepID: step.ID, Status: domain.StepOK, Output: res.Stdout, ExecutedCommand: cmd, DurationSeconds: time.Since(start).Seconds()}
	}

	return domain.StepResult{StepID: step.ID, Status: domain.StepFailed, Error: lastErr, ExecutedCommand: lastCmd, DurationSeconds: time.Since(start).Seconds()}
}

func (e *Executor) executeValidationStep(ctx context.Context, step domain.Step, start time.Time) domain.StepResult {
	if step.ValidationCommand == "" {
		return domain.StepResult{StepID: step.ID, Status: domain.StepFailed, Error: "validation action requires validation_command", DurationSeconds: time.Since(start).Seconds()}
	}

	res, err := safeshell.Run(ctx, step.ValidationCommand, e.shellOpts())
	if err != nil {
		return domain.StepResult{StepID: step.ID, Status: domain.StepFailed, Error: err.Error(), ExecutedCommand: step.ValidationCommand, DurationSeconds: time.Since(start).Seconds()}
	}
	if !validateCommandResult(res.ExitCode, res.Stdout, step) {
		return domain.StepResult{StepID: step.ID, Status: domain.StepFailed, Error: "validation command did not meet expected result", ExecutedCommand: step.ValidationCommand, DurationSeconds: time.Since(start).Seconds()}
	}
	return domain.StepResult{StepID: step.ID, Status: domain.StepOK, Output: res.Stdout, ExecutedCommand: step.ValidationCommand, DurationSeconds: time.Since(start).Seconds()}
}

// validateCommandResult checks exit code first, then (if set) the
// ANSI-stripped expected_output_pattern via unanchored regex search
// (spec.md §4.5 "Validation details").
func validateCommandResult(exitCode int, stdout string, step domain.Step) bool {
	if exitCode != step.ExpectExitCode {
		return false
	}
	if step.ExpectedOutputPattern == "" {
		return true
	}
	pattern, err := regexp.Compile(step.ExpectedOutputPattern)
	if err != nil {
		return false
	}
	return pattern.MatchString(stripANSI(stdout))
}

func writeFileAtomic(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
