package model

import "time"

// PassKind selects one repair pass
type PassKind string

const (
	PassStructural        PassKind = "structural"         // generic structural cleanup, every motivation
	PassIconography       PassKind = "iconography"        // iconography-specific repair
	PassTextspotting      PassKind = "textspotting"       // textspotting-specific repair
	PassLinkingDuplicates PassKind = "linking-duplicates" // consolidate linking annotations sharing a target set
	PassLinkingOrphans    PassKind = "linking-orphans"    // prune or delete linking annotations with dangling targets
	PassUnwanted          PassKind = "unwanted"           // delete test and placeholder data
)

// PassKinds lists every pass in the order they are usually run
var PassKinds = []PassKind{
	PassStructural,
	PassIconography,
	PassTextspotting,
	PassLinkingDuplicates,
	PassLinkingOrphans,
	PassUnwanted,
}

// Valid reports whether k names a known pass
func (k PassKind) Valid() bool {
	for _, known := range PassKinds {
		if k == known {
			return true
		}
	}
	return false
}

// RunMode distinguishes classification from planning and applying
type RunMode string

const (
	ModeAnalyze RunMode = "analyze" // classification only
	ModeDryRun  RunMode = "dry-run" // full plan with after-states, no writes
	ModeApply   RunMode = "apply"   // plan applied through the store
)

// Action is what a pass did (or would do) to one item
type Action string

const (
	ActionNone        Action = "none"        // nothing to do
	ActionUpdate      Action = "update"      // PUT in place
	ActionRecreate    Action = "recreate"    // create repaired copy, then delete original
	ActionConsolidate Action = "consolidate" // create merged annotation, then delete the group
	ActionDelete      Action = "delete"      // delete outright
	ActionReview      Action = "review"      // left untouched, flagged for a human
)

// ErrorKind is the report-facing name of an error category
type ErrorKind string

const (
	ErrorKindNotFound             ErrorKind = "not_found"
	ErrorKindConflict             ErrorKind = "conflict"
	ErrorKindUpstreamTimeout      ErrorKind = "upstream_timeout"
	ErrorKindUpstreamError        ErrorKind = "upstream_error"
	ErrorKindValidationImpossible ErrorKind = "validation_impossible"
	ErrorKindInternal             ErrorKind = "internal"
)

// Report is the outcome of one analyze or repair invocation
type Report struct {
	Kind       PassKind  `json:"kind"`
	Mode       RunMode   `json:"mode"`
	DryRun     bool      `json:"dry_run"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Scan         ScanStats      `json:"scan"`
	Counters     Counters       `json:"counters"`
	DefectCounts map[Defect]int `json:"defect_counts,omitempty"` // defect -> number of items carrying it
	Items        []ItemResult   `json:"items"`                   // only items with defects, actions or errors
}

// ScanStats summarizes how the collection was walked
type ScanStats struct {
	Pages       int    `json:"pages"`        // pages requested
	FailedPages int    `json:"failed_pages"` // pages that errored and were treated as empty
	Seen        int    `json:"seen"`         // items listed
	Matched     int    `json:"matched"`      // items passing the filter
	StopReason  string `json:"stop_reason"`  // which termination condition ended the scan
}

// Counters are the aggregate tallies of a report
type Counters struct {
	Scanned     int `json:"scanned"`
	Defective   int `json:"defective"`
	Changed     int `json:"changed"`
	Created     int `json:"created"`
	Deleted     int `json:"deleted"`
	Skipped     int `json:"skipped"`
	Failed      int `json:"failed"`
	Conflicts   int `json:"conflicts"`
	NotFound    int `json:"not_found"`
	Timeouts    int `json:"timeouts"`
	NeedsReview int `json:"needs_review"`
}

// ItemResult is the per-item entry of a report
type ItemResult struct {
	ID         string      `json:"id"`
	Action     Action      `json:"action"`
	Defects    Defects     `json:"defects,omitempty"`
	Reasons    []string    `json:"reasons,omitempty"`     // human-readable detail, e.g. matched patterns
	Before     *Annotation `json:"before,omitempty"`      // state the plan was computed from
	After      *Annotation `json:"after,omitempty"`       // planned or written state
	NewID      string      `json:"new_id,omitempty"`      // ID assigned on recreate/consolidate
	DeletedIDs []string    `json:"deleted_ids,omitempty"` // originals removed
	Score      *Score      `json:"score,omitempty"`       // duplicate selection breakdown
	Applied    bool        `json:"applied"`               // the store accepted every write
	Error      string      `json:"error,omitempty"`
	ErrorKind  ErrorKind   `json:"error_kind,omitempty"`
}

// Score is a transparent duplicate-selection score
type Score struct {
	ID      string   `json:"id"`      // annotation the score belongs to, used for tie-breaking
	Total   float64  `json:"total"`   // weighted sum of signals
	Signals []Signal `json:"signals"` // components with their inputs
}

// Signal is one weighted component of a score
type Signal struct {
	Type        SignalType     `json:"type"`
	Description string         `json:"description"`
	Value       float64        `json:"value"`          // weighted contribution to the total
	Data        map[string]any `json:"data,omitempty"` // raw inputs and formula
}

// SignalType classifies a score component
type SignalType string

const (
	SignalRecency          SignalType = "recency"           // modified or created time
	SignalBodyCount        SignalType = "body_count"        // number of bodies
	SignalPurposeDiversity SignalType = "purpose_diversity" // distinct body purposes
	SignalTargetCount      SignalType = "target_count"      // number of targets
)
