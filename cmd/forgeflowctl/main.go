// Command forgeflowctl is the CLI collaborator for forgeflowd (spec.md
// §6): it issues HTTP calls against the orchestrator's REST surface and
// maps responses to the documented exit codes. Command-tree shape and
// error handling are grounded on tombee-conductor's internal/cli
// (root command, global flags) and internal/commands/shared
// (ExitError/HandleExitError, MakeAPIRequest).
package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		handleExitError(err)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "forgeflowctl",
		Short:         "forgeflowctl controls a forgeflowd orchestrator",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		newCreateCommand(),
		newStartCommand(),
		newStartBatchCommand(),
		newApproveCommand(),
		newRejectCommand(),
		newCancelCommand(),
		newResolveBlockerCommand(),
		newListCommand(),
		newGetCommand(),
	)
	return cmd
}

func newCreateCommand() *cobra.Command {
	var (
		issueID      string
		worktreePath string
		worktreeName string
		profile      string
		noStart      bool
		planOnly     bool
		taskTitle    string
		taskDesc     string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a workflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			wd, err := os.Getwd()
			if err != nil {
				return newNetworkError("resolve working directory", err)
			}
			if err := requireGitRepo(ctx, wd); err != nil {
				return err
			}
			if issueID == "" || worktreePath == "" {
				return newValidationError("--issue-id and --worktree-path are required", nil)
			}

			start := !noStart
			body := map[string]interface{}{
				"issue_id":      issueID,
				"worktree_path": worktreePath,
				"start":         start,
				"plan_only":     planOnly,
			}
			if worktreeName != "" {
				body["worktree_name"] = worktreeName
			}
			if profile != "" {
				body["profile"] = profile
			}
			if taskTitle != "" {
				body["task_title"] = taskTitle
			}
			if taskDesc != "" {
				body["task_description"] = taskDesc
			}

			var out json.RawMessage
			err = newAPIClient().do("POST", "/api/workflows", body, &out)
			if err != nil {
				return translateErr(err)
			}
			return printJSON(cmd, out)
		},
	}

	cmd.Flags().StringVar(&issueID, "issue-id", "", "Issue identifier")
	cmd.Flags().StringVar(&worktreePath, "worktree-path", "", "Absolute worktree path")
	cmd.Flags().StringVar(&worktreeName, "worktree-name", "", "Worktree branch/name")
	cmd.Flags().StringVar(&profile, "profile", "", "Execution profile id")
	cmd.Flags().BoolVar(&noStart, "no-start", false, "Create without launching (leave pending)")
	cmd.Flags().BoolVar(&planOnly, "plan-only", false, "Stop after the plan stage for human review")
	cmd.Flags().StringVar(&taskTitle, "task-title", "", "Task title (when no issue tracker is configured)")
	cmd.Flags().StringVar(&taskDesc, "task-description", "", "Task description")
	return cmd
}

func newStartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "start <workflow-id>",
		Short: "Transition a pending workflow to in_progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out json.RawMessage
			err := newAPIClient().do("POST", "/api/workflows/"+args[0]+"/start", nil, &out)
			if err != nil {
				return translateErr(err)
			}
			return printJSON(cmd, out)
		},
	}
}

func newStartBatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "start-batch [workflow-id...]",
		Short: "Start every named workflow, or every pending one if none are named",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{"workflow_ids": args}
			var out json.RawMessage
			err := newAPIClient().do("POST", "/api/workflows/start-batch", body, &out)
			if err != nil {
				return translateErr(err)
			}
			return printJSON(cmd, out)
		},
	}
}

func newApproveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <workflow-id>",
		Short: "Approve the blocked workflow at its current interrupt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := newAPIClient().do("POST", "/api/workflows/"+args[0]+"/approve", nil, nil)
			return translateErr(err)
		},
	}
}

func newRejectCommand() *cobra.Command {
	var feedback string
	cmd := &cobra.Command{
		Use:   "reject <workflow-id>",
		Short: "Reject the blocked workflow with feedback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{"feedback": feedback}
			err := newAPIClient().do("POST", "/api/workflows/"+args[0]+"/reject", body, nil)
			return translateErr(err)
		},
	}
	cmd.Flags().StringVar(&feedback, "feedback", "", "Rejection feedback passed back to the agent")
	return cmd
}

func newCancelCommand() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <workflow-id>",
		Short: "Cancel a running or blocked workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{"reason": reason}
			err := newAPIClient().do("POST", "/api/workflows/"+args[0]+"/cancel", body, nil)
			return translateErr(err)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Cancellation reason")
	return cmd
}

func newResolveBlockerCommand() *cobra.Command {
	var resolution string
	cmd := &cobra.Command{
		Use:   "resolve-blocker <workflow-id>",
		Short: "Resolve an outstanding blocker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if resolution == "" {
				return newValidationError("--resolution is required", nil)
			}
			body := map[string]interface{}{"resolution": resolution}
			err := newAPIClient().do("POST", "/api/workflows/"+args[0]+"/resolve-blocker", body, nil)
			return translateErr(err)
		},
	}
	cmd.Flags().StringVar(&resolution, "resolution", "", "One of the blocker's resolution options")
	return cmd
}

func newListCommand() *cobra.Command {
	var (
		status  string
		issueID string
		profile string
		active  bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/workflows"
			if active {
				path = "/api/workflows/active"
			}
			params := make(map[string]string)
			if status != "" {
				params["status"] = status
			}
			if issueID != "" {
				params["issue_id"] = issueID
			}
			if profile != "" {
				params["profile"] = profile
			}
			path += encodeQuery(params)

			var out json.RawMessage
			err := newAPIClient().do("GET", path, nil, &out)
			if err != nil {
				return translateErr(err)
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by workflow status")
	cmd.Flags().StringVar(&issueID, "issue-id", "", "Filter by issue id")
	cmd.Flags().StringVar(&profile, "profile", "", "Filter by profile id")
	cmd.Flags().BoolVar(&active, "active", false, "List only active (non-terminal) workflows")
	return cmd
}

func newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <workflow-id>",
		Short: "Show a single workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out json.RawMessage
			err := newAPIClient().do("GET", "/api/workflows/"+args[0], nil, &out)
			if err != nil {
				return translateErr(err)
			}
			return printJSON(cmd, out)
		},
	}
}

func printJSON(cmd *cobra.Command, raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), string(raw))
		return nil
	}
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
	return nil
}

func encodeQuery(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	return "?" + values.Encode()
}
