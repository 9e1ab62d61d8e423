// Package engine runs the analyze and repair passes over the annotation collection.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ppiankov/annorepair/internal/linking"
	"github.com/ppiankov/annorepair/internal/model"
	"github.com/ppiankov/annorepair/internal/repair"
	"github.com/ppiankov/annorepair/internal/scan"
	"github.com/ppiankov/annorepair/internal/score"
	"github.com/ppiankov/annorepair/internal/validate"
	"github.com/ppiankov/annorepair/internal/worker"
)

// Store is the part of the mutation client the passes need
type Store interface {
	scan.PageLister
	linking.ExistenceChecker
	Read(ctx context.Context, id string) (*model.Annotation, error)
	Update(ctx context.Context, a *model.Annotation, etag string) (*model.Annotation, error)
	CreateBatch(ctx context.Context, as []*model.Annotation) ([]*model.Annotation, error)
	Delete(ctx context.Context, id, etag string) error
}

// Observer receives pass and item outcomes, e.g. for metrics
type Observer interface {
	ObservePass(kind model.PassKind, mode model.RunMode, elapsed time.Duration)
	ObserveItem(kind model.PassKind, item model.ItemResult)
}

type nopObserver struct{}

func (nopObserver) ObservePass(model.PassKind, model.RunMode, time.Duration) {}
func (nopObserver) ObserveItem(model.PassKind, model.ItemResult)            {}

// Options wires the engine's collaborators
type Options struct {
	Repairer        *repair.Repairer
	Consolidator    *linking.Consolidator
	Unwanted        *validate.Unwanted
	Runner          *worker.Runner
	Scan            scan.Options
	BatchSize       int // annotations per batch-create request
	ConflictRetries int // re-read and retry a conflicting write this many times
	Observer        Observer
	Now             func() time.Time
}

// Engine runs passes against one store
type Engine struct {
	store   Store
	opts    Options
	scanner *scan.Scanner
	log     zerolog.Logger
}

// New creates an engine
func New(store Store, opts Options, log zerolog.Logger) *Engine {
	if opts.Runner == nil {
		opts.Runner = worker.NewRunner(0, 0)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.ConflictRetries < 0 {
		opts.ConflictRetries = 0
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		store:   store,
		opts:    opts,
		scanner: scan.New(store, opts.Scan, log),
		log:     log.With().Str("component", "engine").Logger(),
	}
}

// FromConfig builds the repair collaborators from the application config
func FromConfig(cfg *model.Config, store Store, observer Observer, log zerolog.Logger) (*Engine, error) {
	schema, err := validate.NewSchemaChecker()
	if err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	unwanted, err := validate.NewUnwanted(cfg.Repair.UnwantedPatterns)
	if err != nil {
		return nil, fmt.Errorf("unwanted patterns: %w", err)
	}

	repairOpts := repair.OptionsFromConfig(cfg)
	repairer := repair.New(validate.NewClassifier(schema), repairOpts)
	scorer := score.NewScorer(score.WeightsFromConfig(cfg.Scoring))

	return New(store, Options{
		Repairer:     repairer,
		Consolidator: linking.NewConsolidator(scorer, repairer, repairOpts.Actor, nil),
		Unwanted:     unwanted,
		Runner:       worker.NewRunner(cfg.Concurrency.ProbeChunk, cfg.Concurrency.MutateChunk),
		Scan: scan.Options{
			MaxPages:               cfg.Scan.MaxPages,
			MaxConsecutiveFailures: cfg.Scan.MaxConsecutiveFailures,
		},
		BatchSize:       cfg.Concurrency.CreateBatch,
		ConflictRetries: cfg.Repair.ConflictRetries,
		Observer:        observer,
	}, log), nil
}

// Analyze classifies the collection for kind and reports the planned actions without writing
func (e *Engine) Analyze(ctx context.Context, kind model.PassKind) (*model.Report, error) {
	return e.run(ctx, kind, model.ModeAnalyze)
}

// Repair plans and, unless dryRun is set, applies the pass
func (e *Engine) Repair(ctx context.Context, kind model.PassKind, dryRun bool) (*model.Report, error) {
	mode := model.ModeApply
	if dryRun {
		mode = model.ModeDryRun
	}
	return e.run(ctx, kind, mode)
}

func (e *Engine) run(ctx context.Context, kind model.PassKind, mode model.RunMode) (*model.Report, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown pass %q", kind)
	}

	started := e.opts.Now()
	log := e.log.With().Str("pass", string(kind)).Str("mode", string(mode)).Logger()
	log.Info().Msg("Pass started")

	p := &pass{engine: e, kind: kind, mode: mode, log: log}
	var stats model.ScanStats
	switch kind {
	case model.PassStructural:
		stats = p.structural(ctx, scan.All)
	case model.PassIconography:
		stats = p.structural(ctx, scan.ByMotivation(model.MotivationIconography))
	case model.PassTextspotting:
		stats = p.structural(ctx, scan.ByMotivation(model.MotivationTextspotting))
	case model.PassLinkingDuplicates:
		stats = p.duplicates(ctx)
	case model.PassLinkingOrphans:
		stats = p.orphans(ctx)
	case model.PassUnwanted:
		stats = p.unwanted(ctx)
	}

	report := p.report(stats)
	report.StartedAt = started
	report.FinishedAt = e.opts.Now()

	e.opts.Observer.ObservePass(kind, mode, report.FinishedAt.Sub(started))
	for _, item := range report.Items {
		e.opts.Observer.ObserveItem(kind, item)
	}

	log.Info().
		Int("scanned", report.Counters.Scanned).
		Int("defective", report.Counters.Defective).
		Int("changed", report.Counters.Changed).
		Int("failed", report.Counters.Failed).
		Str("stop_reason", stats.StopReason).
		Msg("Pass finished")

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// collect scans the collection; on cancellation the partial list is returned
func (p *pass) collect(ctx context.Context, filter scan.Filter) ([]*model.Annotation, model.ScanStats) {
	return p.engine.scanner.Collect(ctx, filter)
}
