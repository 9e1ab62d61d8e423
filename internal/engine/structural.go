package engine

import (
	"context"

	"github.com/ppiankov/annorepair/internal/model"
	"github.com/ppiankov/annorepair/internal/scan"
)

// structural repairs matching annotations in place
func (p *pass) structural(ctx context.Context, filter scan.Filter) model.ScanStats {
	listed, stats := p.collect(ctx, filter)
	repairer := p.engine.opts.Repairer

	var pending []*model.ItemResult
	for _, a := range listed {
		res, err := repairer.Repair(a)
		if len(res.Defects) == 0 {
			continue
		}
		item := &model.ItemResult{ID: a.ID, Defects: res.Defects, Reasons: res.Reasons, Before: a}
		p.add(item)

		switch {
		case err != nil:
			p.fail(item, err)
		case res.Changed:
			item.Action = model.ActionUpdate
			p.present(item, res.After)
			pending = append(pending, item)
		case len(res.Review) > 0:
			item.Action = model.ActionReview
		default:
			item.Action = model.ActionNone
		}
	}

	if !p.applying() {
		return stats
	}
	p.mutate(ctx, len(pending), func(ctx context.Context, i int) {
		item := pending[i]
		p.writeFresh(ctx, item, func(fresh *model.Annotation) (func(string) error, error) {
			res, err := repairer.Repair(fresh)
			if err != nil {
				return nil, err
			}
			if !res.Changed {
				item.Action = model.ActionNone
				item.After = nil
				return nil, nil
			}
			return func(etag string) error {
				updated, err := p.engine.store.Update(ctx, res.After, etag)
				if err != nil {
					return err
				}
				item.After = updated
				return nil
			}, nil
		})
	})
	return stats
}
