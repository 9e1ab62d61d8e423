package model

// Defect names one structural problem found on an annotation
type Defect string

const (
	DefectMotivationTypo               Defect = "motivation-typo"                                  // recognized misspelling of a motivation
	DefectMissingBodyArray             Defect = "missing-body-array"                               // body absent
	DefectNonArrayBody                 Defect = "non-array-body"                                   // body present as a bare object
	DefectEmptyTextualBody             Defect = "empty-textual-body"                               // empty TextualBody without human provenance
	DefectMachineBodyOnIconography     Defect = "machine-textual-body-on-iconography"              // iconography text without human provenance
	DefectAnnotationCreatorOnGenerated Defect = "annotation-level-creator-on-generated-motivation" // human edit recorded at annotation level
	DefectImpossibleTimestamps         Defect = "impossible-timestamps"                            // modified earlier than created
	DefectMissingBodyProvenance        Defect = "missing-body-provenance"                          // human body lacking creator or created
	DefectIncompleteHumanEdit          Defect = "incomplete-human-edit"                            // empty human body while machine text exists
	DefectMultipleHumanBodies          Defect = "multiple-human-bodies"                            // more than one human TextualBody
	DefectPointSelectorPurpose         Defect = "pointselector-wrong-purpose"                      // PointSelector body with purpose highlighting
	DefectSchemaViolation              Defect = "schema-violation"                                 // raw item fails the structural schema
	DefectDuplicateTargets             Defect = "duplicate-linking-targets"                        // another linking annotation has the same target set
	DefectOrphanedTargets              Defect = "orphaned-targets"                                 // some targets no longer resolve
	DefectTooFewTargets                Defect = "too-few-valid-targets"                            // fewer than two targets resolve
	DefectUnwantedContent              Defect = "unwanted-content"                                 // test or placeholder data
)

// reviewOnly lists defects that have no safe automatic repair
var reviewOnly = map[Defect]bool{
	DefectMultipleHumanBodies: true,
	DefectSchemaViolation:     true,
}

// NeedsReview reports whether the defect is flagged for a human instead of repaired
func (d Defect) NeedsReview() bool {
	return reviewOnly[d]
}

// Defects is an ordered, duplicate-free defect list
type Defects []Defect

// Has reports whether d is in the list
func (ds Defects) Has(d Defect) bool {
	for _, x := range ds {
		if x == d {
			return true
		}
	}
	return false
}

// Add appends d unless already present
func (ds *Defects) Add(d Defect) {
	if !ds.Has(d) {
		*ds = append(*ds, d)
	}
}

// Repairable returns the defects that have an automatic repair
func (ds Defects) Repairable() Defects {
	var out Defects
	for _, d := range ds {
		if !d.NeedsReview() {
			out = append(out, d)
		}
	}
	return out
}

// ReviewOnly returns the defects flagged for human review
func (ds Defects) ReviewOnly() Defects {
	var out Defects
	for _, d := range ds {
		if d.NeedsReview() {
			out = append(out, d)
		}
	}
	return out
}
