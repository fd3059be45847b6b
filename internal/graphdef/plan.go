package graphdef

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/forgeflow/orchestrator/internal/domain"
)

// defaultPlanPattern is spec.md §6's "Persisted state layout" default:
// "docs/plans/{YYYY-MM-DD}-{slug(issue.id)}.md".
const defaultPlanPattern = "docs/plans/{date}-{issue_key}.md"

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// slug lowercases s and collapses every run of non-alphanumeric
// characters into a single hyphen, trimming leading/trailing hyphens.
func slug(s string) string {
	lowered := strings.ToLower(s)
	replaced := nonSlugChars.ReplaceAllString(lowered, "-")
	return strings.Trim(replaced, "-")
}

// planPath resolves profile's plan-output pattern (or the default) against
// issueID, rooted at worktreePath.
func planPath(worktreePath string, profile domain.Profile, issueID string) string {
	pattern := profile.PlanOutputDir
	if pattern == "" {
		pattern = defaultPlanPattern
	}
	rel := strings.NewReplacer(
		"{date}", time.Now().Format("2006-01-02"),
		"{issue_key}", slug(issueID),
	).Replace(pattern)
	return filepath.Join(worktreePath, rel)
}

// writePlanArtifact renders plan as a human-readable markdown summary and
// writes it to path, creating parent directories as needed. The exact
// rendering is adapter/prompt detail (spec.md §1 "Non-goals"); this is a
// minimal, stable rendering sufficient for a human reviewer to read the
// plan that human_approval is about to gate.
func writePlanArtifact(path string, plan domain.ExecutionPlan) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", plan.Goal)
	fmt.Fprintf(&b, "Estimated: %d minutes. TDD approach: %v.\n\n", plan.TotalEstimatedMins, plan.TDDApproach)
	for _, batch := range plan.Batches {
		fmt.Fprintf(&b, "## Batch %d (%s) — %s\n\n", batch.Number, batch.RiskSummary, batch.Description)
		for _, step := range batch.Steps {
			fmt.Fprintf(&b, "- [%s] `%s`: %s\n", step.ID, step.ActionType, step.Description)
		}
		b.WriteString("\n")
	}

	return os.WriteFile(path, []byte(b.String()), 0o644)
}
