// Package scan walks the paged collection listing and yields annotations
// matching a client-side filter.
package scan

import (
	"context"
	"errors"
	"iter"

	"github.com/rs/zerolog"

	"github.com/ppiankov/annorepair/internal/apperr"
	"github.com/ppiankov/annorepair/internal/model"
	"github.com/ppiankov/annorepair/internal/store"
)

// Stop reasons recorded in model.ScanStats
const (
	StopEmptyPage           = "empty-page"
	StopLastPage            = "last-page"
	StopMaxPages            = "max-pages"
	StopConsecutiveFailures = "consecutive-failures"
	StopNotFound            = "not-found"
	StopCancelled           = "cancelled"
	StopConsumer            = "consumer"
)

const (
	DefaultMaxPages               = 300
	DefaultMaxConsecutiveFailures = 5
)

// PageLister fetches one page of the collection listing
type PageLister interface {
	ListPage(ctx context.Context, page int) (*store.Page, error)
}

// Filter selects annotations; it runs on every listed item
type Filter func(a *model.Annotation) bool

// All accepts every annotation
func All(*model.Annotation) bool { return true }

// ByMotivation accepts annotations whose canonical motivation is one of ms,
// so misspelled tags are matched too
func ByMotivation(ms ...model.Motivation) Filter {
	want := make(map[model.Motivation]bool, len(ms))
	for _, m := range ms {
		want[m.Canonical()] = true
	}
	return func(a *model.Annotation) bool {
		return want[a.Motivation.Canonical()]
	}
}

// Options bounds a walk
type Options struct {
	MaxPages               int
	MaxConsecutiveFailures int
}

// Scanner pages through the listing from page 0. It holds no cursor, so
// every walk starts over.
type Scanner struct {
	lister PageLister
	opts   Options
	log    zerolog.Logger
}

// New creates a scanner; zero options take the defaults
func New(lister PageLister, opts Options, log zerolog.Logger) *Scanner {
	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultMaxPages
	}
	if opts.MaxConsecutiveFailures <= 0 {
		opts.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	return &Scanner{lister: lister, opts: opts, log: log}
}

// Walk calls fn for every matching annotation until the listing ends or fn returns false.
// A failed page counts as empty; only MaxConsecutiveFailures failures in a row end the walk.
func (s *Scanner) Walk(ctx context.Context, filter Filter, fn func(a *model.Annotation) bool) model.ScanStats {
	if filter == nil {
		filter = All
	}
	var stats model.ScanStats
	failures := 0

	for page := 0; ; page++ {
		if page >= s.opts.MaxPages {
			stats.StopReason = StopMaxPages
			s.log.Warn().Int("pages", page).Msg("page ceiling reached, listing may be truncated")
			return stats
		}
		if ctx.Err() != nil {
			stats.StopReason = StopCancelled
			return stats
		}

		p, err := s.lister.ListPage(ctx, page)
		stats.Pages++
		if err != nil {
			if ctx.Err() != nil {
				stats.StopReason = StopCancelled
				return stats
			}
			if errors.Is(err, apperr.ErrNotFound) {
				stats.StopReason = StopNotFound
				return stats
			}
			stats.FailedPages++
			failures++
			s.log.Warn().Err(err).Int("page", page).Int("consecutive", failures).Msg("listing page failed, treating as empty")
			if failures >= s.opts.MaxConsecutiveFailures {
				stats.StopReason = StopConsecutiveFailures
				return stats
			}
			continue
		}
		failures = 0

		if p.Malformed > 0 {
			s.log.Warn().Int("page", page).Int("malformed", p.Malformed).Msg("skipped undecodable items")
		}
		if len(p.Items) == 0 {
			stats.StopReason = StopEmptyPage
			return stats
		}

		for _, a := range p.Items {
			stats.Seen++
			if !filter(a) {
				continue
			}
			stats.Matched++
			if !fn(a) {
				stats.StopReason = StopConsumer
				return stats
			}
		}

		if p.Continuation() == store.NoMore {
			stats.StopReason = StopLastPage
			return stats
		}
	}
}

// Scan returns the matching annotations as a lazy sequence. Each iteration re-walks from page 0.
func (s *Scanner) Scan(ctx context.Context, filter Filter) iter.Seq[*model.Annotation] {
	return func(yield func(*model.Annotation) bool) {
		s.Walk(ctx, filter, yield)
	}
}

// Collect gathers every matching annotation
func (s *Scanner) Collect(ctx context.Context, filter Filter) ([]*model.Annotation, model.ScanStats) {
	var out []*model.Annotation
	stats := s.Walk(ctx, filter, func(a *model.Annotation) bool {
		out = append(out, a)
		return true
	})
	return out, stats
}
