package domain

import (
	"fmt"
	"strings"
	"time"
)

// Profile names an execution profile (spec.md §3 Workflow.Profile-id),
// supplemented with the full field set from
// original_source/amelia/core/types.py Profile.
type Profile struct {
	Name           string       `json:"name"`
	Driver         DriverType   `json:"driver"`
	Tracker        TrackerType  `json:"tracker"`
	Strategy       StrategyType `json:"strategy"`
	PlanOutputDir  string       `json:"plan_output_dir"`
	Trust          TrustLevel   `json:"trust"`
	BatchCheckpoint bool        `json:"batch_checkpoint"`
}

// Validate enforces the enterprise constraint carried over from the
// original: a profile named "work" cannot pair with an API-style driver.
func (p Profile) Validate() error {
	if strings.EqualFold(p.Name, "work") && p.Driver.IsAPI() {
		return fmt.Errorf("profile 'work' cannot use API drivers (got %q): use CLI drivers for enterprise compliance", p.Driver)
	}
	return nil
}

// Issue is the external-collaborator-sourced issue record (spec.md §3,
// §1 issue-tracker adapter contract).
type Issue struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status,omitempty"`
}

// Design is the optional structured design document (spec.md §3),
// adopted verbatim from original_source/amelia/core/types.py Design.
type Design struct {
	Title           string   `json:"title"`
	Goal            string   `json:"goal"`
	Architecture    string   `json:"architecture"`
	TechStack       []string `json:"tech_stack"`
	Components      []string `json:"components"`
	DataFlow        string   `json:"data_flow,omitempty"`
	ErrorHandling   string   `json:"error_handling,omitempty"`
	TestingStrategy string   `json:"testing_strategy,omitempty"`
	RelevantFiles   []string `json:"relevant_files,omitempty"`
	Conventions     string   `json:"conventions,omitempty"`
	RawContent      string   `json:"raw_content"`
}

// Step is the smallest unit of executable work (spec.md §3).
type Step struct {
	ID                    string     `json:"id"`
	Description           string     `json:"description"`
	ActionType            ActionType `json:"action_type"`
	FilePath              string     `json:"file_path,omitempty"`
	CodeChange            string     `json:"code_change,omitempty"`
	Command               string     `json:"command,omitempty"`
	ValidationCommand     string     `json:"validation_command,omitempty"`
	FallbackCommands      []string   `json:"fallback_commands,omitempty"`
	DependsOn             []string   `json:"depends_on,omitempty"`
	RiskLevel             RiskLevel  `json:"risk_level"`
	RequiresHumanJudgment bool       `json:"requires_human_judgment"`
	ExpectExitCode        int        `json:"expect_exit_code"`
	ExpectedOutputPattern string     `json:"expected_output_pattern,omitempty"`
	Cwd                   string     `json:"cwd,omitempty"`
	IsTestStep            bool       `json:"is_test_step"`
	ValidatesStep         string     `json:"validates_step,omitempty"`
}

// Batch is a contiguous, risk-homogeneous group of Steps (spec.md §3).
type Batch struct {
	Number      int       `json:"number"`
	Steps       []Step    `json:"steps"`
	RiskSummary RiskLevel `json:"risk_summary"`
	Description string    `json:"description"`
}

// ExecutionPlan is the ordered sequence of Batches (spec.md §3).
type ExecutionPlan struct {
	Goal                string  `json:"goal"`
	Batches             []Batch `json:"batches"`
	TotalEstimatedMins  int     `json:"total_estimated_minutes"`
	TDDApproach         bool    `json:"tdd_approach"`
}

// StepResult records the outcome of executing a single Step (spec.md §4.5d).
type StepResult struct {
	StepID          string           `json:"step_id"`
	Status          StepResultStatus `json:"status"`
	Output          string           `json:"output,omitempty"`
	Error           string           `json:"error,omitempty"`
	ExecutedCommand string           `json:"executed_command,omitempty"`
	DurationSeconds float64          `json:"duration_seconds"`
}

// BlockerReport is a structured record of a step that could not proceed
// (spec.md §3, glossary "Blocker").
type BlockerReport struct {
	StepID               string      `json:"step_id"`
	StepDescription      string      `json:"step_description"`
	BlockerType          BlockerType `json:"blocker_type"`
	ErrorMessage         string      `json:"error_message"`
	AttemptedActions     []string    `json:"attempted_actions,omitempty"`
	SuggestedResolutions []string    `json:"suggested_resolutions,omitempty"`
}

// BatchResult is the append-only record of a batch execution (spec.md §3).
type BatchResult struct {
	BatchNumber    int               `json:"batch_number"`
	Status         BatchResultStatus `json:"status"`
	CompletedSteps []StepResult      `json:"completed_steps"`
	Blocker        *BlockerReport    `json:"blocker,omitempty"`
}

// BatchApproval is an append-only human decision on a batch (spec.md §3).
type BatchApproval struct {
	BatchNumber int       `json:"batch_number"`
	Approved    bool      `json:"approved"`
	Feedback    string    `json:"feedback,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// GitSnapshot records the VCS baseline captured before a batch runs
// (spec.md §3 GitSnapshotBeforeBatch, §4.7).
type GitSnapshot struct {
	HeadCommit  string   `json:"head_commit"`
	DirtyFiles  []string `json:"dirty_files"`
	StashRef    string   `json:"stash_ref,omitempty"`
}

// ReviewResult is the outcome of a reviewer driver call (spec.md §3),
// with reviewer-persona supplemented from
// original_source/amelia/core/state.py ReviewResult.
type ReviewResult struct {
	ReviewerPersona string   `json:"reviewer_persona,omitempty"`
	Approved        bool     `json:"approved"`
	Comments        []string `json:"comments"`
	Severity        Severity `json:"severity"`
}

// AgentMessage supplements ExecutionState with a transcript of driver
// exchanges, carried over from original_source/amelia/core/state.py.
type AgentMessage struct {
	Role      string        `json:"role"`
	Content   string        `json:"content"`
	ToolCalls []interface{} `json:"tool_calls,omitempty"`
}

// ExecutionState is the graph's in-memory state, serialized at every
// checkpoint (spec.md §3). Field-level merge semantics are implemented
// by Reduce in reducer.go, not by this struct's shape.
type ExecutionState struct {
	Issue  *Issue  `json:"issue,omitempty"`
	Design *Design `json:"design,omitempty"`

	Plan              *ExecutionPlan `json:"plan,omitempty"`
	CurrentBatchIndex int            `json:"current_batch_index"`

	BatchResults   []BatchResult   `json:"batch_results,omitempty"`
	BatchApprovals []BatchApproval `json:"batch_approvals,omitempty"`

	CurrentBlocker    *BlockerReport `json:"current_blocker,omitempty"`
	BlockerResolution string         `json:"blocker_resolution,omitempty"`

	SkippedStepIDs map[string]bool `json:"skipped_step_ids,omitempty"`

	DeveloperStatus  DeveloperStatus `json:"developer_status,omitempty"`
	WorkflowStatus   GraphStatus     `json:"workflow_status,omitempty"`

	GitSnapshotBeforeBatch *GitSnapshot `json:"git_snapshot_before_batch,omitempty"`

	HumanApproved *bool `json:"human_approved,omitempty"`

	LastReview         *ReviewResult `json:"last_review,omitempty"`
	ReviewIteration    int           `json:"review_iteration"`
	MaxReviewIterations int          `json:"max_review_iterations"`

	DriverSessionID string `json:"driver_session_id,omitempty"`
	AutoApprove     bool   `json:"auto_approve"`

	Profile  Profile        `json:"profile"`
	Messages []AgentMessage `json:"messages,omitempty"`

	// RejectFeedback carries the most recent rejection feedback (batch
	// or plan) for the current resume cycle; cleared by the consuming node.
	RejectFeedback string `json:"reject_feedback,omitempty"`

	// PlanExternal marks that the plan was externally supplied, routing
	// the start node directly to plan_validator (spec.md §4.4 node 1).
	PlanExternal bool `json:"plan_external"`

	// PlanOnly mirrors Workflow.PlanOnly (spec.md §6's `plan_only` create
	// param): human_approval stops the run once the plan is approved
	// instead of entering developer.
	PlanOnly bool `json:"plan_only"`

	// Clear* are transient reducer control flags, never persisted: a
	// node sets one of these on the delta it returns to tell Reduce to
	// null out the corresponding field rather than leave it untouched.
	// Reduce always resets them to false on the merged result.
	ClearBlocker           bool `json:"-"`
	ClearBlockerResolution bool `json:"-"`
	ClearHumanApproved     bool `json:"-"`
}

// Workflow is the durable record of one orchestration run (spec.md §3).
type Workflow struct {
	ID             string              `json:"id"`
	IssueID        string              `json:"issue_id"`
	WorktreePath   string              `json:"worktree_path"`
	WorktreeName   string              `json:"worktree_name,omitempty"`
	ProfileID      string              `json:"profile_id"`
	Status         WorkflowStatus      `json:"status"`
	CreatedAt      time.Time           `json:"created_at"`
	StartedAt      *time.Time          `json:"started_at,omitempty"`
	CompletedAt    *time.Time          `json:"completed_at,omitempty"`
	FailureReason  string              `json:"failure_reason,omitempty"`
	CurrentStage   string              `json:"current_stage,omitempty"`
	PlanOnly       bool                `json:"plan_only"`
	ExternalPlan   bool                `json:"external_plan"`
}

// WorkflowEvent is an immutable, append-only record in a workflow's
// event log (spec.md §3).
type WorkflowEvent struct {
	ID            string                 `json:"id"`
	WorkflowID    string                 `json:"workflow_id"`
	Sequence      int64                  `json:"sequence"`
	Timestamp     time.Time              `json:"timestamp"`
	Agent         string                 `json:"agent,omitempty"`
	EventType     EventType              `json:"event_type"`
	Level         EventLevel             `json:"level"`
	Message       string                 `json:"message"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
}

// StreamEvent is ephemeral (not persisted unless trace retention is
// enabled); spec.md §3.
type StreamEvent struct {
	Subtype    StreamSubtype `json:"subtype"`
	Content    string        `json:"content,omitempty"`
	ToolName   string        `json:"tool_name,omitempty"`
	ToolInput  string        `json:"tool_input,omitempty"`
	Agent      string        `json:"agent,omitempty"`
	WorkflowID string        `json:"workflow_id"`
	Timestamp  time.Time     `json:"timestamp"`
}

// TokenUsage is the persisted per-call token/cost record backing
// Workflow Store's usage-trend aggregation (spec.md §4.2).
type TokenUsage struct {
	WorkflowID   string    `json:"workflow_id"`
	Model        string    `json:"model"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	Timestamp    time.Time `json:"timestamp"`
}
