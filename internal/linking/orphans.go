package linking

import (
	"context"
	"fmt"
	"slices"

	"github.com/ppiankov/annorepair/internal/model"
	"github.com/ppiankov/annorepair/internal/worker"
)

// minValidTargets is the number of resolvable targets a link needs to mean anything
const minValidTargets = 2

// ExistenceChecker answers whether an annotation ID still resolves
type ExistenceChecker interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// Probe is the existence result for one target ID
type Probe struct {
	Exists bool
	Err    error
}

// TargetIDs returns every distinct referenced ID in first-seen order
func TargetIDs(as []*model.Annotation) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, a := range as {
		for _, id := range a.Target.Refs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// ProbeTargets checks every distinct target once, concurrently through the runner.
// Only context cancellation fails the call; per-ID errors are kept in the probes.
func ProbeTargets(ctx context.Context, runner *worker.Runner, checker ExistenceChecker, as []*model.Annotation) (map[string]Probe, error) {
	ids := TargetIDs(as)
	results, err := worker.Map(ctx, runner, worker.Probe, ids, func(ctx context.Context, id string) Probe {
		ok, err := checker.Exists(ctx, id)
		return Probe{Exists: ok, Err: err}
	})
	if err != nil {
		return nil, err
	}

	probes := make(map[string]Probe, len(ids))
	for i, id := range ids {
		probes[id] = results[i]
	}
	return probes, nil
}

// OrphanPlan is the planned outcome for one linking annotation
type OrphanPlan struct {
	Annotation *model.Annotation
	Action     model.Action // none, update, delete or review
	Valid      []string     // resolvable targets in original order
	Orphaned   []string
	Defects    model.Defects
	Update     *model.Annotation // pruned annotation for update
	Err        error             // why the item was skipped
}

// PlanOrphan decides what to do with a linking annotation given the probe results.
// An unknown target status skips the item: nothing is deleted on a guess.
func PlanOrphan(a *model.Annotation, probes map[string]Probe) OrphanPlan {
	plan := OrphanPlan{Annotation: a, Action: model.ActionNone}
	if a.Target.Object != nil {
		// region targets are not references
		return plan
	}

	for _, id := range a.Target.Refs {
		probe, ok := probes[id]
		switch {
		case !ok:
			plan.Action = model.ActionReview
			plan.Err = fmt.Errorf("target %s was not probed", id)
			return plan
		case probe.Err != nil:
			plan.Action = model.ActionReview
			plan.Err = fmt.Errorf("probe target %s: %w", id, probe.Err)
			return plan
		case probe.Exists:
			plan.Valid = append(plan.Valid, id)
		default:
			plan.Orphaned = append(plan.Orphaned, id)
		}
	}

	if len(plan.Orphaned) > 0 {
		plan.Defects.Add(model.DefectOrphanedTargets)
	}
	if distinct(plan.Valid) < minValidTargets {
		plan.Defects.Add(model.DefectTooFewTargets)
		plan.Action = model.ActionDelete
		return plan
	}
	if len(plan.Orphaned) == 0 {
		return plan
	}

	updated := a.Clone()
	updated.Target = model.RefsTarget(plan.Valid...)
	plan.Action = model.ActionUpdate
	plan.Update = updated
	return plan
}

func distinct(ids []string) int {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	return len(slices.Compact(sorted))
}
