package model

import (
	"encoding/json"
	"slices"
	"sort"
	"strings"
)

// Target is either a list of referenced annotation IDs (linking) or a single
// resource object (canvas region, carried verbatim).
type Target struct {
	Refs   []string        // string or array-of-string form
	Object json.RawMessage // any other form
	Single bool            // Refs was encoded as a bare string
}

// RefsTarget builds an array-form target from IDs, preserving order
func RefsTarget(ids ...string) Target {
	return Target{Refs: slices.Clone(ids)}
}

// IsZero reports whether no target was present
func (t Target) IsZero() bool {
	return t.Refs == nil && t.Object == nil
}

// Key is the order-insensitive grouping key: sorted IDs joined by "|"
func (t Target) Key() string {
	if t.Object != nil {
		return string(t.Object)
	}
	ids := slices.Clone(t.Refs)
	sort.Strings(ids)
	return strings.Join(ids, "|")
}

// Clone returns a deep copy
func (t Target) Clone() Target {
	return Target{
		Refs:   slices.Clone(t.Refs),
		Object: cloneRaw(t.Object),
		Single: t.Single,
	}
}

// targetResource is the subset of an object target the repair rules look at
type targetResource struct {
	Created   string          `json:"created"`
	Generator *Agent          `json:"generator"`
	Source    json.RawMessage `json:"source"`
}

func (t Target) resource() targetResource {
	var res targetResource
	raw := t.Object
	if len(raw) == 0 {
		return res
	}
	if !isObject(raw) {
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err != nil || len(elems) == 0 {
			return res
		}
		raw = elems[0]
	}
	_ = json.Unmarshal(raw, &res)
	return res
}

// Created returns the target's own created timestamp, if any
func (t Target) Created() string {
	return t.resource().Created
}

// GeneratorCreated returns the created timestamp of the target's generator, if any
func (t Target) GeneratorCreated() string {
	if gen := t.resource().Generator; gen != nil {
		return gen.Created
	}
	return ""
}

// SourceLabel returns the label of the target's source object, if any
func (t Target) SourceLabel() string {
	var src struct {
		Label string `json:"label"`
	}
	raw := t.resource().Source
	if len(raw) == 0 || json.Unmarshal(raw, &src) != nil {
		return ""
	}
	return src.Label
}

func (t *Target) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*t = Target{Refs: []string{single}, Single: true}
		return nil
	}
	var refs []string
	if err := json.Unmarshal(data, &refs); err == nil {
		if refs == nil {
			refs = []string{}
		}
		*t = Target{Refs: refs}
		return nil
	}
	*t = Target{Object: cloneRaw(data)}
	return nil
}

func (t Target) MarshalJSON() ([]byte, error) {
	switch {
	case t.Object != nil:
		return t.Object, nil
	case t.Single && len(t.Refs) == 1:
		return json.Marshal(t.Refs[0])
	default:
		refs := t.Refs
		if refs == nil {
			refs = []string{}
		}
		return json.Marshal(refs)
	}
}
