// Package domain defines the orchestrator's core data model: the
// durable Workflow record, the graph-carried ExecutionState, and the
// closed, wire-stable enums both depend on.
package domain

// WorkflowStatus is the persisted lifecycle status of a Workflow.
// Values are wire-stable strings (spec.md §6).
type WorkflowStatus string

const (
	StatusPending    WorkflowStatus = "pending"
	StatusInProgress WorkflowStatus = "in_progress"
	StatusBlocked    WorkflowStatus = "blocked"
	StatusCompleted  WorkflowStatus = "completed"
	StatusFailed     WorkflowStatus = "failed"
	StatusCancelled  WorkflowStatus = "cancelled"
	StatusAborted    WorkflowStatus = "aborted"
	StatusPlanning   WorkflowStatus = "planning"
)

// GraphStatus is the in-graph mirror of workflow status carried on
// ExecutionState (spec.md §3 "WorkflowStatus mirror"). It is distinct
// from WorkflowStatus: the graph only ever observes "running" or
// "aborted" from inside a node; the richer persisted enum above is the
// service layer's concern. See DESIGN.md Open Question 2 for how the
// two are reconciled.
type GraphStatus string

const (
	GraphRunning GraphStatus = "running"
	GraphAborted GraphStatus = "aborted"
)

// ActionType is the closed enum of Step.ActionType values.
type ActionType string

const (
	ActionCode       ActionType = "code"
	ActionCommand    ActionType = "command"
	ActionValidation ActionType = "validation"
	ActionManual     ActionType = "manual"
)

// RiskLevel is the closed enum used by Step.RiskLevel and Batch.RiskSummary.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// BatchSizeLimit returns the maximum number of steps a batch of the
// given risk level may hold before the plan validator splits it
// (spec.md §4.4 node 2 / §8 boundary behaviors).
func BatchSizeLimit(r RiskLevel) int {
	switch r {
	case RiskLow:
		return 5
	case RiskMedium:
		return 3
	case RiskHigh:
		return 1
	default:
		return 1
	}
}

// BatchResultStatus is the closed enum of BatchResult.Status.
type BatchResultStatus string

const (
	BatchComplete BatchResultStatus = "complete"
	BatchBlocked  BatchResultStatus = "blocked"
)

// StepResultStatus is the closed enum of StepResult.Status.
type StepResultStatus string

const (
	StepOK      StepResultStatus = "ok"
	StepFailed  StepResultStatus = "failed"
	StepSkipped StepResultStatus = "skipped"
)

// BlockerType is the closed enum of BlockerReport.BlockerType.
type BlockerType string

const (
	BlockerCommandFailed     BlockerType = "command_failed"
	BlockerValidationFailed  BlockerType = "validation_failed"
	BlockerUnexpectedState   BlockerType = "unexpected_state"
	BlockerDependencySkipped BlockerType = "dependency_skipped"
	BlockerNeedsJudgment     BlockerType = "needs_judgment"
)

// Blocker resolution sentinel values (spec.md §4.6). Any other non-empty
// string is a free-form fix instruction.
const (
	ResolutionSkip        = "skip"
	ResolutionAbort       = "abort"
	ResolutionAbortRevert = "abort_revert"
)

// DeveloperStatus is the closed enum of ExecutionState.DeveloperStatus.
type DeveloperStatus string

const (
	DeveloperExecuting     DeveloperStatus = "executing"
	DeveloperBatchComplete DeveloperStatus = "batch_complete"
	DeveloperBlocked       DeveloperStatus = "blocked"
	DeveloperAllDone       DeveloperStatus = "all_done"
)

// EventType is the closed, wire-stable enum of WorkflowEvent.EventType (spec.md §6).
type EventType string

const (
	EventWorkflowStarted   EventType = "workflow_started"
	EventWorkflowCompleted EventType = "workflow_completed"
	EventWorkflowFailed    EventType = "workflow_failed"
	EventWorkflowCancelled EventType = "workflow_cancelled"
	EventStageStarted      EventType = "stage_started"
	EventStageCompleted    EventType = "stage_completed"
	EventApprovalRequired  EventType = "approval_required"
	EventApprovalGranted   EventType = "approval_granted"
	EventApprovalRejected  EventType = "approval_rejected"
	EventFileCreated       EventType = "file_created"
	EventFileModified      EventType = "file_modified"
	EventFileDeleted       EventType = "file_deleted"
	EventReviewRequested   EventType = "review_requested"
	EventReviewCompleted   EventType = "review_completed"
	EventRevisionRequested EventType = "revision_requested"
	EventAgentMessage      EventType = "agent_message"
	EventTaskStarted       EventType = "task_started"
	EventTaskCompleted     EventType = "task_completed"
	EventTaskFailed        EventType = "task_failed"
	EventSystemError       EventType = "system_error"
	EventSystemWarning     EventType = "system_warning"
	EventStream            EventType = "stream"
)

// EventLevel is the closed enum of WorkflowEvent.Level.
type EventLevel string

const (
	LevelInfo  EventLevel = "info"
	LevelDebug EventLevel = "debug"
	LevelTrace EventLevel = "trace"
)

// DefaultLevel returns the event-level mapping mandated by spec.md §6:
// lifecycle/stage/approval/review-completed events are info; task/file/
// agent-message/warning events are debug; stream events are trace.
func DefaultLevel(t EventType) EventLevel {
	switch t {
	case EventWorkflowStarted, EventWorkflowCompleted, EventWorkflowFailed, EventWorkflowCancelled,
		EventStageStarted, EventStageCompleted,
		EventApprovalRequired, EventApprovalGranted, EventApprovalRejected,
		EventReviewCompleted:
		return LevelInfo
	case EventStream:
		return LevelTrace
	default:
		return LevelDebug
	}
}

// StreamSubtype is the closed enum of StreamEvent.Subtype (spec.md §6).
type StreamSubtype string

const (
	StreamThinking   StreamSubtype = "claude_thinking"
	StreamToolCall   StreamSubtype = "claude_tool_call"
	StreamToolResult StreamSubtype = "claude_tool_result"
	StreamAgentOut   StreamSubtype = "agent_output"
)

// TrustLevel is a profile setting controlling batch-checkpoint auto-approval
// (glossary: "Trust level").
type TrustLevel string

const (
	TrustStandard   TrustLevel = "standard"
	TrustAutonomous TrustLevel = "autonomous"
)

// DriverType, TrackerType, StrategyType are supplemented from
// original_source/amelia/core/types.py (not named by spec.md, retained
// for Profile fidelity).
type DriverType string

const (
	DriverCLIClaude DriverType = "cli:claude"
	DriverAPIOpenAI DriverType = "api:openai"
	DriverCLI       DriverType = "cli"
	DriverAPI       DriverType = "api"
)

func (d DriverType) IsAPI() bool {
	return d == DriverAPIOpenAI || d == DriverAPI
}

type TrackerType string

const (
	TrackerJira TrackerType = "jira"
	TrackerHub  TrackerType = "github"
	TrackerNone TrackerType = "none"
	TrackerNoop TrackerType = "noop"
)

type StrategyType string

const (
	StrategySingle      StrategyType = "single"
	StrategyCompetitive StrategyType = "competitive"
)

// Severity mirrors ReviewResult.Severity, supplemented from original_source.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)
