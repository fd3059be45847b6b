// Package planvalidate implements the plan_validator node's checks
// (spec.md §4.4 node 2): dependency-reference existence, DAG
// acyclicity, and batch-size splitting by risk level.
//
// The cycle-detection algorithm is grounded on
// original_source/amelia/core/state.py TaskDAG.validate_task_graph,
// translated from its WHITE/GRAY/BLACK DFS coloring into Go.
package planvalidate

import (
	"fmt"

	"github.com/forgeflow/orchestrator/internal/domain"
)

// Result carries the validator's outcome: a possibly-rewritten plan
// (batches split/renumbered) plus any non-fatal warnings.
type Result struct {
	Plan     domain.ExecutionPlan
	Warnings []string
}

type color int

const (
	white color = iota
	gray
	black
)

// Validate checks dependency references and acyclicity across all
// steps in the plan (dependencies are step-ids, scoped across the
// entire plan, not just within a batch), then splits oversized batches
// per domain.BatchSizeLimit and isolates any high-risk step into its
// own batch. Returns an error naming the problem step/dependency on
// failure (spec.md §8 boundary behaviors).
func Validate(plan domain.ExecutionPlan) (Result, error) {
	allSteps := make(map[string]domain.Step)
	for _, b := range plan.Batches {
		for _, s := range b.Steps {
			allSteps[s.ID] = s
		}
	}

	for _, b := range plan.Batches {
		for _, s := range b.Steps {
			for _, dep := range s.DependsOn {
				if _, ok := allSteps[dep]; !ok {
					return Result{}, fmt.Errorf("step %q depends on unknown step %q", s.ID, dep)
				}
			}
		}
	}

	if err := detectCycle(allSteps); err != nil {
		return Result{}, err
	}

	split, warnings := splitOversizedBatches(plan.Batches)
	plan.Batches = split

	return Result{Plan: plan, Warnings: warnings}, nil
}

// detectCycle runs DFS with WHITE/GRAY/BLACK coloring over the
// dependency graph. A back edge (an edge to a GRAY node) indicates a
// cycle.
func detectCycle(steps map[string]domain.Step) error {
	colors := make(map[string]color, len(steps))
	for id := range steps {
		colors[id] = white
	}

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = gray
		for _, dep := range steps[id].DependsOn {
			if colors[dep] == gray {
				return true
			}
			if colors[dep] == white && visit(dep) {
				return true
			}
		}
		colors[id] = black
		return false
	}

	for id := range steps {
		if colors[id] == white {
			if visit(id) {
				return fmt.Errorf("cyclic dependency detected")
			}
		}
	}
	return nil
}

// splitOversizedBatches enforces per-risk batch size limits (low<=5,
// medium<=3, high=1), splitting and renumbering as needed. A
// multi-step batch containing a high-risk step is fully split: every
// step of it, high-risk or not, becomes its own single-step batch,
// preserving declared order.
func splitOversizedBatches(batches []domain.Batch) ([]domain.Batch, []string) {
	var out []domain.Batch
	var warnings []string
	number := 1

	for _, b := range batches {
		if containsHighRisk(b.Steps) {
			for _, s := range b.Steps {
				if s.RiskLevel == domain.RiskHigh {
					out = append(out, domain.Batch{Number: number, Steps: []domain.Step{s}, RiskSummary: domain.RiskHigh, Description: b.Description})
					number++
				} else {
					out = append(out, domain.Batch{Number: number, Steps: []domain.Step{s}, RiskSummary: s.RiskLevel, Description: b.Description})
					number++
				}
			}
			warnings = append(warnings, fmt.Sprintf("batch %d isolated: contains a high-risk step", b.Number))
			continue
		}

		limit := domain.BatchSizeLimit(b.RiskSummary)
		if len(b.Steps) <= limit {
			nb := b
			nb.Number = number
			out = append(out, nb)
			number++
			continue
		}

		warnings = append(warnings, fmt.Sprintf("batch %d exceeds size limit %d for risk %s: split", b.Number, limit, b.RiskSummary))
		for i := 0; i < len(b.Steps); i += limit {
			end := i + limit
			if end > len(b.Steps) {
				end = len(b.Steps)
			}
			out = append(out, domain.Batch{
				Number:      number,
				Steps:       append([]domain.Step{}, b.Steps[i:end]...),
				RiskSummary: b.RiskSummary,
				Description: b.Description,
			})
			number++
		}
	}

	return out, warnings
}

func containsHighRisk(steps []domain.Step) bool {
	if len(steps) <= 1 {
		return false
	}
	for _, s := range steps {
		if s.RiskLevel == domain.RiskHigh {
			return true
		}
	}
	return false
}
