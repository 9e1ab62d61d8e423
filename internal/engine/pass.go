package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ppiankov/annorepair/internal/apperr"
	"github.com/ppiankov/annorepair/internal/model"
	"github.com/ppiankov/annorepair/internal/worker"
)

// pass holds the state of one run
type pass struct {
	engine *Engine
	kind   model.PassKind
	mode   model.RunMode
	log    zerolog.Logger

	mu    sync.Mutex
	items []*model.ItemResult
}

func (p *pass) applying() bool {
	return p.mode == model.ModeApply
}

// add registers an item in report order
func (p *pass) add(item *model.ItemResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = append(p.items, item)
}

// fail records err on the item; gone items are skipped, not failed
func (p *pass) fail(item *model.ItemResult, err error) {
	item.Error = err.Error()
	item.ErrorKind = apperr.KindOf(err)
	item.Applied = false

	var ev *zerolog.Event
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		ev = p.log.Info()
	case errors.Is(err, apperr.ErrValidationImpossible):
		item.Action = model.ActionReview
		ev = p.log.Warn()
	default:
		ev = p.log.Error()
	}
	ev.Err(err).Str("id", item.ID).Str("error_kind", string(item.ErrorKind)).Msg("Item not repaired")
}

// writeFresh re-reads the item and lets plan decide the write for that state, so a write
// never rests on a stale listing. A conflicting write is re-read and retried.
// plan returns a nil write when nothing is left to do.
func (p *pass) writeFresh(ctx context.Context, item *model.ItemResult, plan func(fresh *model.Annotation) (func(etag string) error, error)) {
	for attempt := 0; ; attempt++ {
		fresh, err := p.engine.store.Read(ctx, item.ID)
		if err != nil {
			p.fail(item, err)
			return
		}
		write, err := plan(fresh)
		if err != nil {
			p.fail(item, err)
			return
		}
		if write == nil {
			p.log.Debug().Str("id", item.ID).Msg("Nothing left to repair")
			return
		}

		err = write(fresh.ETag)
		switch {
		case err == nil:
			item.Applied = true
			return
		case errors.Is(err, apperr.ErrConflict) && attempt < p.engine.opts.ConflictRetries:
			p.log.Warn().Str("id", item.ID).Int("attempt", attempt+1).Msg("Conflict, re-reading")
			continue
		default:
			p.fail(item, err)
			return
		}
	}
}

// present strips after-states in analyze mode
func (p *pass) present(item *model.ItemResult, after *model.Annotation) {
	if p.mode != model.ModeAnalyze {
		item.After = after
	}
}

// mutate runs fn for every index through the write-sized chunks
func (p *pass) mutate(ctx context.Context, n int, fn func(ctx context.Context, i int)) {
	p.runChunked(ctx, worker.Mutate, n, fn)
}

// probe runs read-only fn for every index through the probe-sized chunks
func (p *pass) probe(ctx context.Context, n int, fn func(ctx context.Context, i int)) {
	p.runChunked(ctx, worker.Probe, n, fn)
}

func (p *pass) runChunked(ctx context.Context, kind worker.Kind, n int, fn func(ctx context.Context, i int)) {
	if err := p.engine.opts.Runner.Run(ctx, kind, n, fn); err != nil {
		p.log.Warn().Err(err).Str("kind", kind.String()).Msg("Pass interrupted")
	}
}

// report aggregates the items into counters
func (p *pass) report(stats model.ScanStats) *model.Report {
	r := &model.Report{
		Kind:   p.kind,
		Mode:   p.mode,
		DryRun: p.mode != model.ModeApply,
		Scan:   stats,
		Items:  make([]model.ItemResult, 0, len(p.items)),
	}
	r.Counters.Scanned = stats.Matched

	for _, item := range p.items {
		r.Items = append(r.Items, *item)
		tally(&r.Counters, item)
		if len(item.Defects) > 0 {
			if r.DefectCounts == nil {
				r.DefectCounts = make(map[model.Defect]int)
			}
			for _, d := range item.Defects {
				r.DefectCounts[d]++
			}
		}
	}
	return r
}

func tally(c *model.Counters, item *model.ItemResult) {
	if len(item.Defects) > 0 {
		c.Defective++
	}
	if item.Action == model.ActionReview {
		c.NeedsReview++
	}
	if item.NewID != "" {
		c.Created++
	}
	c.Deleted += len(item.DeletedIDs)
	if item.Applied {
		c.Changed++
	}

	switch item.ErrorKind {
	case "":
	case model.ErrorKindNotFound:
		c.NotFound++
		c.Skipped++
	case model.ErrorKindConflict:
		c.Conflicts++
		c.Failed++
	case model.ErrorKindUpstreamTimeout:
		c.Timeouts++
		c.Failed++
	case model.ErrorKindValidationImpossible:
		c.Skipped++
	default:
		c.Failed++
	}
}
