package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/ppiankov/annorepair/internal/apperr"
	"github.com/ppiankov/annorepair/internal/linking"
	"github.com/ppiankov/annorepair/internal/model"
	"github.com/ppiankov/annorepair/internal/scan"
)

// errGroupChanged marks a duplicate group whose members no longer share a target set
var errGroupChanged = fmt.Errorf("%w: group changed since the scan", apperr.ErrConflict)

// groupWork tracks one consolidation or recreation through verify, create and delete
type groupWork struct {
	plan    linking.DuplicatePlan
	item    *model.ItemResult
	etags   map[string]string // member id -> token read during verification
	created *model.Annotation
}

// duplicates consolidates linking annotations sharing a target set and recreates defective singles.
// The replacement is always created before any original is deleted.
func (p *pass) duplicates(ctx context.Context) model.ScanStats {
	listed, stats := p.collect(ctx, scan.ByMotivation(model.MotivationLinking))

	var pending []*groupWork
	for _, plan := range p.engine.opts.Consolidator.Plan(listed) {
		if plan.Action == model.ActionNone {
			continue
		}
		item := &model.ItemResult{
			ID:      plan.Canonical.ID,
			Action:  plan.Action,
			Defects: plan.Defects,
			Before:  plan.Canonical,
		}
		if len(plan.Scores) > 0 {
			item.Score = &plan.Scores[0]
			for _, s := range plan.Scores[1:] {
				item.Reasons = append(item.Reasons, fmt.Sprintf("duplicate %s scored %.2f", s.ID, s.Total))
			}
		}
		p.add(item)

		switch plan.Action {
		case model.ActionReview:
			if plan.Err != nil {
				p.fail(item, plan.Err)
			}
		case model.ActionConsolidate, model.ActionRecreate:
			p.present(item, plan.Create)
			pending = append(pending, &groupWork{plan: plan, item: item})
		}
	}

	if !p.applying() {
		return stats
	}

	// 1. re-read every member and plan again from what the store holds now
	p.probe(ctx, len(pending), func(ctx context.Context, i int) {
		p.verifyGroup(ctx, pending[i])
	})

	// 2. create replacements
	var ready []*groupWork
	for _, w := range pending {
		if w.plan.Create != nil && w.item.Error == "" {
			ready = append(ready, w)
		}
	}
	p.createReplacements(ctx, ready)

	// 3. delete originals, only for groups whose replacement exists
	var created []*groupWork
	for _, w := range ready {
		if w.created != nil {
			created = append(created, w)
		}
	}
	p.mutate(ctx, len(created), func(ctx context.Context, i int) {
		p.deleteOriginals(ctx, created[i])
	})
	return stats
}

func (p *pass) verifyGroup(ctx context.Context, w *groupWork) {
	fresh := make([]*model.Annotation, 0, len(w.plan.Members))
	w.etags = make(map[string]string, len(w.plan.Members))
	for _, m := range w.plan.Members {
		a, err := p.engine.store.Read(ctx, m.ID)
		if errors.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err != nil {
			p.fail(w.item, err)
			w.plan.Create = nil
			return
		}
		fresh = append(fresh, a)
		w.etags[a.ID] = a.ETag
	}

	replans := p.engine.opts.Consolidator.Plan(fresh)
	switch {
	case len(fresh) == 0:
		p.fail(w.item, fmt.Errorf("%w: every member is gone", apperr.ErrNotFound))
		w.plan.Create = nil
		return
	case len(replans) != 1:
		p.fail(w.item, errGroupChanged)
		w.plan.Create = nil
		return
	}

	w.plan = replans[0]
	w.item.Action = w.plan.Action
	w.item.After = w.plan.Create
	if w.plan.Action == model.ActionReview && w.plan.Err != nil {
		p.fail(w.item, w.plan.Err)
	}
}

// createReplacements posts the replacements in batch-create sized chunks
func (p *pass) createReplacements(ctx context.Context, ready []*groupWork) {
	size := p.engine.opts.BatchSize
	for start := 0; start < len(ready); start += size {
		if ctx.Err() != nil {
			return
		}
		chunk := ready[start:min(start+size, len(ready))]

		payload := make([]*model.Annotation, len(chunk))
		for i, w := range chunk {
			payload[i] = w.plan.Create
		}
		created, err := p.engine.store.CreateBatch(ctx, payload)
		if err != nil {
			for _, w := range chunk {
				p.fail(w.item, fmt.Errorf("create replacement: %w", err))
			}
			continue
		}
		for i, w := range chunk {
			w.created = created[i]
			w.item.NewID = created[i].ID
			w.item.After = created[i]
		}
	}
}

func (p *pass) deleteOriginals(ctx context.Context, w *groupWork) {
	var errs []error
	for _, m := range w.plan.Members {
		if err := p.engine.store.Delete(ctx, m.ID, w.etags[m.ID]); err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		w.item.DeletedIDs = append(w.item.DeletedIDs, m.ID)
	}
	if len(errs) > 0 {
		// the replacement stays; the next pass consolidates it with the survivors
		p.fail(w.item, fmt.Errorf("created %s, delete originals: %w", w.created.ID, errors.Join(errs...)))
		return
	}
	w.item.Applied = true
}
