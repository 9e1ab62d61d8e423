// Package linking plans duplicate consolidation and orphan pruning for linking annotations.
// Planning is pure; the engine applies plans through the store.
package linking

import (
	"bytes"
	"encoding/json"
	"errors"
	"slices"
	"time"

	"github.com/ppiankov/annorepair/internal/apperr"
	"github.com/ppiankov/annorepair/internal/model"
	"github.com/ppiankov/annorepair/internal/repair"
	"github.com/ppiankov/annorepair/internal/score"
)

// Group is a set of linking annotations sharing one target set
type Group struct {
	Key     string
	Members []*model.Annotation // in listing order
}

// GroupByTargets groups annotations by their order-insensitive target key.
// Groups come out in order of first appearance.
func GroupByTargets(as []*model.Annotation) []Group {
	index := make(map[string]int)
	var groups []Group
	for _, a := range as {
		key := a.Target.Key()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{Key: key})
		}
		groups[i].Members = append(groups[i].Members, a)
	}
	return groups
}

// DuplicatePlan is the planned outcome for one group
type DuplicatePlan struct {
	Key       string
	Action    model.Action // none, consolidate, recreate or review
	Canonical *model.Annotation
	Members   []*model.Annotation // originals deleted once Create succeeded
	Scores    []model.Score       // best first
	Create    *model.Annotation   // annotation to create, nil for none and review
	Defects   model.Defects
	Err       error // why a group is left for review
}

// Consolidator plans duplicate consolidation
type Consolidator struct {
	scorer   *score.Scorer
	repairer *repair.Repairer
	actor    *model.Agent
	now      func() time.Time
}

// NewConsolidator creates a consolidator; actor may be nil, then the canonical creator is kept
func NewConsolidator(scorer *score.Scorer, repairer *repair.Repairer, actor *model.Agent, now func() time.Time) *Consolidator {
	if now == nil {
		now = time.Now
	}
	return &Consolidator{scorer: scorer, repairer: repairer, actor: actor, now: now}
}

// Plan computes one plan per target group
func (c *Consolidator) Plan(as []*model.Annotation) []DuplicatePlan {
	groups := GroupByTargets(as)
	plans := make([]DuplicatePlan, 0, len(groups))
	for _, g := range groups {
		if len(g.Members) == 1 {
			plans = append(plans, c.planSingle(g))
			continue
		}
		plans = append(plans, c.planGroup(g))
	}
	return plans
}

// planSingle recreates a defective single with its fixes applied
func (c *Consolidator) planSingle(g Group) DuplicatePlan {
	a := g.Members[0]
	plan := DuplicatePlan{Key: g.Key, Action: model.ActionNone, Canonical: a, Members: g.Members}

	res, err := c.repairer.Repair(a)
	plan.Defects = res.Defects
	switch {
	case errors.Is(err, apperr.ErrValidationImpossible):
		plan.Action = model.ActionReview
		plan.Err = err
	case err != nil:
		plan.Action = model.ActionReview
		plan.Err = err
	case res.Changed:
		plan.Action = model.ActionRecreate
		plan.Create = asNew(res.After)
	case len(res.Review) > 0:
		plan.Action = model.ActionReview
	}
	return plan
}

func (c *Consolidator) planGroup(g Group) DuplicatePlan {
	scores := c.scorer.Rank(g.Members)
	byID := make(map[string]*model.Annotation, len(g.Members))
	for _, m := range g.Members {
		byID[m.ID] = m
	}
	canonical := byID[scores[0].ID]

	// weakest first, canonical last, so the canonical wins every purpose it carries
	ordered := make([]*model.Annotation, 0, len(scores))
	for i := len(scores) - 1; i >= 0; i-- {
		ordered = append(ordered, byID[scores[i].ID])
	}

	stamp := model.FormatTime(c.now())
	merged := &model.Annotation{
		Context:    json.RawMessage(`"` + model.AnnotationContext + `"`),
		Type:       "Annotation",
		Motivation: model.MotivationLinking,
		Body:       MergeBodies(ordered),
		BodyShape:  model.BodyArray,
		Target:     model.RefsTarget(canonical.Target.Refs...),
		Creator:    c.actor.Clone(),
		Created:    stamp,
		Modified:   stamp,
		Extra:      carriedFields(canonical),
	}
	if merged.Creator == nil {
		merged.Creator = canonical.Creator.Clone()
	}

	// body fixes are best effort; a body without provenance stays for the structural pass
	if res, err := c.repairer.Repair(merged); err == nil && res.Changed {
		merged = res.After
		merged.Created, merged.Modified = stamp, stamp
	}

	defects := model.Defects{model.DefectDuplicateTargets}
	return DuplicatePlan{
		Key:       g.Key,
		Action:    model.ActionConsolidate,
		Canonical: canonical,
		Members:   g.Members,
		Scores:    scores,
		Create:    merged,
		Defects:   defects,
	}
}

// MergeBodies merges bodies of members given weakest first. A body with a purpose replaces
// the earlier body of that purpose in place; bodies without a purpose are kept once each.
func MergeBodies(ordered []*model.Annotation) []model.Body {
	out := []model.Body{}
	slot := make(map[string]int)
	var seen [][]byte

	for _, a := range ordered {
		for _, b := range a.Body {
			if p := b.BodyPurpose(); p != "" {
				if i, ok := slot[p]; ok {
					out[i] = model.CloneBody(b)
					continue
				}
				slot[p] = len(out)
				out = append(out, model.CloneBody(b))
				continue
			}
			raw, err := json.Marshal(b)
			if err != nil {
				continue
			}
			if slices.ContainsFunc(seen, func(s []byte) bool { return bytes.Equal(s, raw) }) {
				continue
			}
			seen = append(seen, raw)
			out = append(out, model.CloneBody(b))
		}
	}
	return out
}

// asNew turns a repaired annotation into a creation payload
func asNew(a *model.Annotation) *model.Annotation {
	out := a.Clone()
	out.ID = ""
	out.ETag = ""
	out.Raw = nil
	out.Target.Single = false
	return out
}

// carriedFields keeps the canonical's uninterpreted fields, minus store-managed ones
func carriedFields(a *model.Annotation) map[string]json.RawMessage {
	if len(a.Extra) == 0 {
		return nil
	}
	out := make(map[string]json.RawMessage, len(a.Extra))
	for k, v := range a.Extra {
		switch k {
		case "via", "generated", "etag":
			continue
		}
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}
