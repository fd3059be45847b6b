package domain

// Reduce merges a delta into prev following spec.md §3's field-level
// reducer rules: scalar fields replace when the delta sets them,
// append-only sequences concatenate, sets (SkippedStepIDs) union, and
// enums/optionals replace when present in the delta. It is the
// graph.Reducer[ExecutionState] bound to internal/graphdef's engine.
//
// Because a zero value and "the node didn't touch this field" are the
// same bit pattern for plain scalars, nodes that need to clear
// CurrentBlocker, BlockerResolution, or HumanApproved set the matching
// Clear* control flag on the delta instead of relying on a zero value.
// Reduce consumes those flags and always resets them to false on the
// merged result, so they never accumulate across steps.
func Reduce(prev, delta ExecutionState) ExecutionState {
	out := prev

	if delta.Issue != nil {
		out.Issue = delta.Issue
	}
	if delta.Design != nil {
		out.Design = delta.Design
	}
	if delta.Plan != nil {
		out.Plan = delta.Plan
	}
	if delta.CurrentBatchIndex != 0 {
		out.CurrentBatchIndex = delta.CurrentBatchIndex
	}

	// Append-only sequences: concatenate.
	if len(delta.BatchResults) > 0 {
		out.BatchResults = append(append([]BatchResult{}, out.BatchResults...), delta.BatchResults...)
	}
	if len(delta.BatchApprovals) > 0 {
		out.BatchApprovals = append(append([]BatchApproval{}, out.BatchApprovals...), delta.BatchApprovals...)
	}
	if len(delta.Messages) > 0 {
		out.Messages = append(append([]AgentMessage{}, out.Messages...), delta.Messages...)
	}

	if delta.ClearBlocker {
		out.CurrentBlocker = nil
	} else if delta.CurrentBlocker != nil {
		out.CurrentBlocker = delta.CurrentBlocker
	}

	if delta.ClearBlockerResolution {
		out.BlockerResolution = ""
	} else if delta.BlockerResolution != "" {
		out.BlockerResolution = delta.BlockerResolution
	}

	// SkippedStepIds: set union, never replace (spec.md §9 design note).
	if len(delta.SkippedStepIDs) > 0 {
		if out.SkippedStepIDs == nil {
			out.SkippedStepIDs = make(map[string]bool, len(delta.SkippedStepIDs))
		}
		for id := range delta.SkippedStepIDs {
			out.SkippedStepIDs[id] = true
		}
	}

	if delta.DeveloperStatus != "" {
		out.DeveloperStatus = delta.DeveloperStatus
	}
	if delta.WorkflowStatus != "" {
		out.WorkflowStatus = delta.WorkflowStatus
	}
	if delta.GitSnapshotBeforeBatch != nil {
		out.GitSnapshotBeforeBatch = delta.GitSnapshotBeforeBatch
	}

	if delta.ClearHumanApproved {
		out.HumanApproved = nil
	} else if delta.HumanApproved != nil {
		out.HumanApproved = delta.HumanApproved
	}

	if delta.LastReview != nil {
		out.LastReview = delta.LastReview
	}
	if delta.ReviewIteration != 0 {
		out.ReviewIteration = delta.ReviewIteration
	}
	if delta.MaxReviewIterations != 0 {
		out.MaxReviewIterations = delta.MaxReviewIterations
	}
	if delta.DriverSessionID != "" {
		out.DriverSessionID = delta.DriverSessionID
	}
	if delta.AutoApprove {
		out.AutoApprove = delta.AutoApprove
	}
	if delta.Profile.Name != "" {
		out.Profile = delta.Profile
	}
	if delta.RejectFeedback != "" {
		out.RejectFeedback = delta.RejectFeedback
	}
	if delta.PlanExternal {
		out.PlanExternal = delta.PlanExternal
	}
	if delta.PlanOnly {
		out.PlanOnly = delta.PlanOnly
	}

	out.ClearBlocker = false
	out.ClearBlockerResolution = false
	out.ClearHumanApproved = false

	return out
}
