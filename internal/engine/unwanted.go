package engine

import (
	"context"

	"github.com/ppiankov/annorepair/internal/model"
	"github.com/ppiankov/annorepair/internal/scan"
)

// unwanted deletes test and placeholder annotations
func (p *pass) unwanted(ctx context.Context) model.ScanStats {
	listed, stats := p.collect(ctx, scan.All)
	detector := p.engine.opts.Unwanted

	var pending []*model.ItemResult
	for _, a := range listed {
		reasons := detector.Detect(a)
		if len(reasons) == 0 {
			continue
		}
		item := &model.ItemResult{
			ID:      a.ID,
			Action:  model.ActionDelete,
			Defects: model.Defects{model.DefectUnwantedContent},
			Reasons: reasons,
			Before:  a,
		}
		p.add(item)
		pending = append(pending, item)
	}

	if !p.applying() {
		return stats
	}
	p.mutate(ctx, len(pending), func(ctx context.Context, i int) {
		item := pending[i]
		p.writeFresh(ctx, item, func(fresh *model.Annotation) (func(string) error, error) {
			if len(detector.Detect(fresh)) == 0 {
				item.Action = model.ActionNone
				return nil, nil
			}
			return func(etag string) error {
				if err := p.engine.store.Delete(ctx, item.ID, etag); err != nil {
					return err
				}
				item.DeletedIDs = []string{item.ID}
				return nil
			}, nil
		})
	})
	return stats
}
