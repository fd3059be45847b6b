package driver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/forgeflow/orchestrator/internal/safeshell"
)

// agenticTool mirrors graph/tool.Tool's Name/Call shape but is kept local:
// the teacher's Tool interface is for HTTP-style tool specs, while an
// agentic coding session needs exactly two primitives — run a command,
// read/write a file — grounded on the same argv-only discipline
// internal/safeshell already enforces for the Batch Executor.
type agenticTool interface {
	Name() string
	Description() string
	Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}

// shellTool runs a command via internal/safeshell, rooted at cwd.
type shellTool struct {
	cwd string
}

func (t *shellTool) Name() string { return "run_command" }

func (t *shellTool) Description() string {
	return "Run a shell command in the workflow's worktree and return its combined output and exit code."
}

func (t *shellTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	command, _ := input["command"].(string)
	if command == "" {
		return nil, fmt.Errorf("run_command: missing \"command\" argument")
	}
	res, err := safeshell.Run(ctx, command, safeshell.Options{Dir: t.cwd})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"stdout":    res.Stdout,
		"exit_code": res.ExitCode,
	}, nil
}

// fileTool reads or writes a file relative to cwd. "write" truncates and
// creates parent directories; "read" returns the full file content.
type fileTool struct {
	cwd string
}

func (t *fileTool) Name() string { return "edit_file" }

func (t *fileTool) Description() string {
	return "Read or write a file in the workflow's worktree. action is \"read\" or \"write\"; path is relative to the worktree root."
}

func (t *fileTool) Call(_ context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	action, _ := input["action"].(string)
	relPath, _ := input["path"].(string)
	if relPath == "" {
		return nil, fmt.Errorf("edit_file: missing \"path\" argument")
	}
	full := filepath.Join(t.cwd, relPath)

	switch action {
	case "read":
		data, err := os.ReadFile(full)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"content": string(data)}, nil
	case "write":
		content, _ := input["content"].(string)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			return nil, err
		}
		return map[string]interface{}{"bytes_written": len(content)}, nil
	default:
		return nil, fmt.Errorf("edit_file: unknown action %q (want \"read\" or \"write\")", action)
	}
}

func defaultTools(cwd string) []agenticTool {
	return []agenticTool{&shellTool{cwd: cwd}, &fileTool{cwd: cwd}}
}
