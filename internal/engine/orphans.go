package engine

import (
	"context"

	"github.com/ppiankov/annorepair/internal/linking"
	"github.com/ppiankov/annorepair/internal/model"
	"github.com/ppiankov/annorepair/internal/scan"
)

// orphans prunes dangling targets from linking annotations, deleting links left with fewer than two
func (p *pass) orphans(ctx context.Context) model.ScanStats {
	listed, stats := p.collect(ctx, scan.ByMotivation(model.MotivationLinking))

	probes, err := linking.ProbeTargets(ctx, p.engine.opts.Runner, p.engine.store, listed)
	if err != nil {
		p.log.Warn().Err(err).Msg("Target probing interrupted, nothing planned")
		return stats
	}

	var pending []*model.ItemResult
	for _, a := range listed {
		plan := linking.PlanOrphan(a, probes)
		if plan.Action == model.ActionNone {
			continue
		}
		item := &model.ItemResult{ID: a.ID, Action: plan.Action, Defects: plan.Defects, Before: a}
		for _, id := range plan.Orphaned {
			item.Reasons = append(item.Reasons, "orphaned target "+id)
		}
		p.add(item)

		switch plan.Action {
		case model.ActionReview:
			p.fail(item, plan.Err)
		case model.ActionUpdate:
			p.present(item, plan.Update)
			pending = append(pending, item)
		case model.ActionDelete:
			pending = append(pending, item)
		}
	}

	if !p.applying() {
		return stats
	}
	p.mutate(ctx, len(pending), func(ctx context.Context, i int) {
		item := pending[i]
		p.writeFresh(ctx, item, func(fresh *model.Annotation) (func(string) error, error) {
			plan := linking.PlanOrphan(fresh, probes)
			item.Action = plan.Action
			switch plan.Action {
			case model.ActionReview:
				return nil, plan.Err
			case model.ActionUpdate:
				return func(etag string) error {
					updated, err := p.engine.store.Update(ctx, plan.Update, etag)
					if err != nil {
						return err
					}
					item.After = updated
					return nil
				}, nil
			case model.ActionDelete:
				return func(etag string) error {
					if err := p.engine.store.Delete(ctx, item.ID, etag); err != nil {
						return err
					}
					item.DeletedIDs = []string{item.ID}
					return nil
				}, nil
			}
			item.After = nil
			return nil, nil
		})
	})
	return stats
}
