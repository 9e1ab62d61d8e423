// Package validate classifies structural defects of annotations without touching the store.
package validate

import (
	"fmt"
	"strings"

	"github.com/ppiankov/annorepair/internal/model"
)

// Result is the classification of one annotation
type Result struct {
	Defects model.Defects
	Reasons []string
}

// Defective reports whether any defect was found
func (r Result) Defective() bool {
	return len(r.Defects) > 0
}

func (r *Result) add(d model.Defect, format string, args ...any) {
	r.Defects.Add(d)
	r.Reasons = append(r.Reasons, fmt.Sprintf(format, args...))
}

// Classifier computes defect lists. It is pure, so analyze runs need no writes.
type Classifier struct {
	schema *SchemaChecker
}

// NewClassifier creates a classifier; schema may be nil to skip drift checks
func NewClassifier(schema *SchemaChecker) *Classifier {
	return &Classifier{schema: schema}
}

// Classify returns the defects of a
func (c *Classifier) Classify(a *model.Annotation) Result {
	var r Result
	motivation := a.Motivation.Canonical()

	if a.Motivation.IsMisspelled() {
		r.add(model.DefectMotivationTypo, "motivation %q should be %q", a.Motivation, motivation)
	}
	switch a.BodyShape {
	case model.BodyAbsent:
		r.add(model.DefectMissingBodyArray, "body is missing")
	case model.BodyObject:
		r.add(model.DefectNonArrayBody, "body is a bare object")
	}
	if where := impossibleTimestamps(a); where != "" {
		r.add(model.DefectImpossibleTimestamps, "modified before created on %s", where)
	}

	switch motivation {
	case model.MotivationTextspotting:
		classifyTextspotting(a, &r)
	case model.MotivationIconography:
		classifyIconography(a, &r)
	case model.MotivationLinking:
		classifyLinking(a, &r)
	}

	if c.schema != nil && len(a.Raw) > 0 {
		if err := c.schema.Check(a.Raw); err != nil {
			r.add(model.DefectSchemaViolation, "schema: %v", err)
		}
	}
	return r
}

func classifyTextspotting(a *model.Annotation, r *Result) {
	if a.Creator != nil {
		r.add(model.DefectAnnotationCreatorOnGenerated, "annotation-level creator on generated textspotting")
	}

	humans := HumanBodies(a)
	if BestMachineText(a, "") != "" {
		for _, b := range humans {
			if b.IsEmpty() {
				r.add(model.DefectIncompleteHumanEdit, "human body is empty while machine text exists")
				break
			}
		}
	}
	for _, b := range humans {
		if b.Creator == nil || b.Created == "" {
			r.add(model.DefectMissingBodyProvenance, "human body lacks creator or created")
			break
		}
	}
	if len(humans) > 1 {
		r.add(model.DefectMultipleHumanBodies, "%d human bodies", len(humans))
	}
}

func classifyIconography(a *model.Annotation, r *Result) {
	if a.Creator != nil && hasText(a) {
		r.add(model.DefectAnnotationCreatorOnGenerated, "annotation-level creator on generated iconography")
	}

	for _, b := range a.TextualBodies() {
		switch {
		case b.HasHumanProvenance():
			if b.Created == "" {
				r.add(model.DefectMissingBodyProvenance, "human body lacks created")
			}
		case b.IsEmpty():
			r.add(model.DefectEmptyTextualBody, "empty textual body without human provenance")
		default:
			r.add(model.DefectMachineBodyOnIconography, "textual body %q without human provenance", b.Value)
		}
	}
}

func classifyLinking(a *model.Annotation, r *Result) {
	for i, body := range a.Body {
		switch b := body.(type) {
		case *model.SpecificResource:
			if b.Selector != nil && b.Selector.Type == model.SelectorTypePoint && b.Purpose == model.PurposeHighlighting {
				r.add(model.DefectPointSelectorPurpose, "body %d: point selector with purpose %q", i, b.Purpose)
			}
			if b.Creator == nil || b.Created == "" {
				r.add(model.DefectMissingBodyProvenance, "body %d lacks creator or created", i)
			}
		case *model.TextualBody:
			if !b.IsMachine() && (b.Creator == nil || b.Created == "") {
				r.add(model.DefectMissingBodyProvenance, "body %d lacks creator or created", i)
			}
		}
	}
}

// IsHumanOrigin reports whether tb counts as a human edit under the rules of motivation m.
// Iconography requires explicit provenance; elsewhere any body without a generator qualifies.
func IsHumanOrigin(m model.Motivation, tb *model.TextualBody) bool {
	if m.Canonical() == model.MotivationIconography {
		return tb.HasHumanProvenance()
	}
	return !tb.IsMachine()
}

// HumanBodies returns the human-origin textual bodies of a, in order
func HumanBodies(a *model.Annotation) []*model.TextualBody {
	var out []*model.TextualBody
	for _, b := range a.TextualBodies() {
		if IsHumanOrigin(a.Motivation, b) {
			out = append(out, b)
		}
	}
	return out
}

// BestMachineText returns the text of the preferred non-human textual body: the first
// whose generator matches preferred, else the first non-empty one
func BestMachineText(a *model.Annotation, preferred string) string {
	preferred = strings.ToLower(preferred)
	first := ""
	for _, b := range a.TextualBodies() {
		if IsHumanOrigin(a.Motivation, b) || b.IsEmpty() {
			continue
		}
		if preferred != "" && b.Generator != nil &&
			(strings.Contains(strings.ToLower(b.Generator.Label), preferred) ||
				strings.Contains(strings.ToLower(b.Generator.ID), preferred)) {
			return b.Value
		}
		if first == "" {
			first = b.Value
		}
	}
	return first
}

func hasText(a *model.Annotation) bool {
	for _, b := range a.TextualBodies() {
		if !b.IsEmpty() {
			return true
		}
	}
	return false
}

// impossibleTimestamps names the first level where modified precedes created
func impossibleTimestamps(a *model.Annotation) string {
	if model.Before(a.Modified, a.Created) {
		return "annotation"
	}
	for i, body := range a.Body {
		var created, modified string
		switch b := body.(type) {
		case *model.TextualBody:
			created, modified = b.Created, b.Modified
		case *model.SpecificResource:
			created, modified = b.Created, b.Modified
		}
		if model.Before(modified, created) {
			return fmt.Sprintf("body %d", i)
		}
	}
	return ""
}
