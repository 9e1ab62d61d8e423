// Package repair computes corrected annotations from defective ones.
// Repairs are pure: the input is never modified and the store is never called.
package repair

import (
	"fmt"
	"time"

	"github.com/ppiankov/annorepair/internal/apperr"
	"github.com/ppiankov/annorepair/internal/model"
	"github.com/ppiankov/annorepair/internal/validate"
)

// Options configures a Repairer
type Options struct {
	Actor              *model.Agent // operator credited on bodies lacking a creator, may be nil
	PreferredGenerator string       // generator whose text is copied into human bodies
	Now                func() time.Time
}

// OptionsFromConfig builds repair options from the application config
func OptionsFromConfig(cfg *model.Config) Options {
	opts := Options{PreferredGenerator: cfg.Repair.PreferredGenerator}
	if cfg.Repair.ActorID != "" {
		opts.Actor = &model.Agent{ID: cfg.Repair.ActorID, Type: "Person", Label: cfg.Repair.ActorLabel}
	}
	return opts
}

// Result is the outcome of repairing one annotation
type Result struct {
	Before  *model.Annotation
	After   *model.Annotation // equal to Before when nothing changed
	Changed bool
	Defects model.Defects // classification of Before
	Reasons []string      // classification detail
	Review  model.Defects // defects left for a human
}

// Repairer applies the structural fixes in priority order
type Repairer struct {
	classifier *validate.Classifier
	opts       Options
}

// New creates a repairer
func New(classifier *validate.Classifier, opts Options) *Repairer {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Repairer{classifier: classifier, opts: opts}
}

// Classify exposes the classification the repairer acts on
func (r *Repairer) Classify(a *model.Annotation) validate.Result {
	return r.classifier.Classify(a)
}

// Repair computes the corrected annotation. Each step runs only when its defect was
// classified, so repairing an already repaired annotation changes nothing. An error
// matching apperr.ErrValidationImpossible means no safe fix exists; the item must be
// left untouched.
func (r *Repairer) Repair(a *model.Annotation) (Result, error) {
	classification := r.classifier.Classify(a)
	res := Result{
		Before:  a,
		After:   a,
		Defects: classification.Defects,
		Reasons: classification.Reasons,
		Review:  classification.Defects.ReviewOnly(),
	}
	defects := classification.Defects.Repairable()
	if len(defects) == 0 {
		return res, nil
	}

	out := a.Clone()
	motivation := a.Motivation.Canonical()

	// 1. canonical motivation
	if defects.Has(model.DefectMotivationTypo) {
		out.Motivation = motivation
	}

	// 2. body is always an array
	if defects.Has(model.DefectMissingBodyArray) || defects.Has(model.DefectNonArrayBody) {
		out.BodyShape = model.BodyArray
		if out.Body == nil {
			out.Body = []model.Body{}
		}
	}

	// 3. annotation-level creator moves onto a human body
	if defects.Has(model.DefectAnnotationCreatorOnGenerated) {
		r.moveCreatorToBody(a, out)
	}

	// 4. iconography keeps only bodies with human provenance
	if motivation == model.MotivationIconography &&
		(defects.Has(model.DefectEmptyTextualBody) || defects.Has(model.DefectMachineBodyOnIconography)) {
		stripUnattributedText(out)
	}

	// 5. human bodies carry creator and created
	if defects.Has(model.DefectMissingBodyProvenance) ||
		defects.Has(model.DefectIncompleteHumanEdit) ||
		defects.Has(model.DefectPointSelectorPurpose) {
		if err := r.completeBodies(a, out); err != nil {
			return res, err
		}
	}

	// 6. modified never precedes created
	clampTimestamps(out)

	// 7. fresh modified on anything that changed
	if out.Equal(a) {
		return res, nil
	}
	now := model.FormatTime(r.opts.Now())
	if model.Before(now, out.Created) {
		now = out.Created
	}
	out.Modified = now

	res.After = out
	res.Changed = true
	return res, nil
}

func (r *Repairer) moveCreatorToBody(original, out *model.Annotation) {
	creator := original.Creator.Clone()
	created, _, ok := RecoverCreated(original)
	if !ok {
		created = model.FormatTime(r.opts.Now())
	}

	var human *model.TextualBody
	for _, b := range out.TextualBodies() {
		if !b.IsMachine() {
			human = b
			break
		}
	}

	if human != nil {
		if human.IsEmpty() {
			human.Value = validate.BestMachineText(original, r.opts.PreferredGenerator)
		}
		if human.Creator == nil {
			human.Creator = creator
		}
		if human.Created == "" {
			human.Created = created
		}
	} else {
		out.Body = append(out.Body, &model.TextualBody{
			Type:     model.BodyTypeTextual,
			Value:    validate.BestMachineText(original, r.opts.PreferredGenerator),
			Format:   "text/plain",
			Purpose:  model.PurposeSupplementing,
			Creator:  creator,
			Created:  created,
			Modified: original.Modified,
		})
	}
	out.Creator = nil
}

func stripUnattributedText(out *model.Annotation) {
	kept := make([]model.Body, 0, len(out.Body))
	for _, body := range out.Body {
		if tb, ok := body.(*model.TextualBody); ok && !tb.HasHumanProvenance() {
			continue
		}
		kept = append(kept, body)
	}
	out.Body = kept
	out.BodyShape = model.BodyArray
}

// completeBodies fills provenance on human bodies, copies machine text into empty human
// edits and corrects point selector purposes
func (r *Repairer) completeBodies(original, out *model.Annotation) error {
	created, _, ok := RecoverCreated(original)
	if !ok {
		created = model.FormatTime(r.opts.Now())
	}
	creator := func() (*model.Agent, error) {
		switch {
		case original.Creator != nil:
			return original.Creator.Clone(), nil
		case r.opts.Actor != nil:
			return r.opts.Actor.Clone(), nil
		}
		return nil, fmt.Errorf("%w: body of %s has no creator and no actor is configured",
			apperr.ErrValidationImpossible, original.ID)
	}
	motivation := out.Motivation.Canonical()

	for _, body := range out.Body {
		switch b := body.(type) {
		case *model.TextualBody:
			if !validate.IsHumanOrigin(motivation, b) {
				continue
			}
			if b.IsEmpty() && motivation == model.MotivationTextspotting {
				b.Value = validate.BestMachineText(original, r.opts.PreferredGenerator)
			}
			if b.Creator == nil {
				agent, err := creator()
				if err != nil {
					return err
				}
				b.Creator = agent
			}
			if b.Created == "" {
				b.Created = created
			}
		case *model.SpecificResource:
			if motivation != model.MotivationLinking {
				continue
			}
			if b.Selector != nil && b.Selector.Type == model.SelectorTypePoint && b.Purpose == model.PurposeHighlighting {
				b.Purpose = model.PurposeSelecting
			}
			if b.Creator == nil {
				agent, err := creator()
				if err != nil {
					return err
				}
				b.Creator = agent
			}
			if b.Created == "" {
				b.Created = created
			}
		case *model.UnknownBody:
			// carried verbatim
		}
	}
	return nil
}

// clampTimestamps lifts modified to created wherever it is earlier
func clampTimestamps(out *model.Annotation) {
	if model.Before(out.Modified, out.Created) {
		out.Modified = out.Created
	}
	for _, body := range out.Body {
		switch b := body.(type) {
		case *model.TextualBody:
			if model.Before(b.Modified, b.Created) {
				b.Modified = b.Created
			}
		case *model.SpecificResource:
			if model.Before(b.Modified, b.Created) {
				b.Modified = b.Created
			}
		}
	}
}
