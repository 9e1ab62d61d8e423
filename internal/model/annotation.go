package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// AnnotationProfile is the JSON-LD profile requested from and sent to the store
const AnnotationProfile = `application/ld+json; profile="http://www.w3.org/ns/anno.jsonld"`

// AnnotationContext is the @context stamped on annotations created by the engine
const AnnotationContext = "http://www.w3.org/ns/anno.jsonld"

// TimeLayout is the ISO-8601 layout used when stamping timestamps
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Motivation is the semantic kind tag of an annotation
type Motivation string

const (
	MotivationTextspotting Motivation = "textspotting"
	MotivationIconography  Motivation = "iconography"
	MotivationLinking      Motivation = "linking"
	MotivationCommenting   Motivation = "commenting"
	MotivationGeotagging   Motivation = "geotagging"
)

// motivationMisspellings maps recognized misspellings to their canonical tag
var motivationMisspellings = map[Motivation]Motivation{
	"iconograpy": MotivationIconography,
}

// Canonical returns the canonical form of a possibly misspelled motivation
func (m Motivation) Canonical() Motivation {
	if canonical, ok := motivationMisspellings[m]; ok {
		return canonical
	}
	return m
}

// IsMisspelled reports whether m is a recognized misspelling
func (m Motivation) IsMisspelled() bool {
	_, ok := motivationMisspellings[m]
	return ok
}

// IsMachineAttributed reports whether annotations of this kind are produced by pipelines
// and carry human edits at body level only.
func (m Motivation) IsMachineAttributed() bool {
	switch m.Canonical() {
	case MotivationTextspotting, MotivationIconography:
		return true
	}
	return false
}

// BodyShape records how the body was encoded when the annotation was read
type BodyShape int

const (
	BodyArray  BodyShape = iota // body is a JSON array
	BodyObject                  // body is a bare object
	BodyAbsent                  // body is missing or null
)

// Annotation is a W3C Web Annotation as stored in the repository.
// Fields the engine does not interpret are kept in Extra and written back unchanged.
type Annotation struct {
	Context    json.RawMessage
	ID         string
	Type       string
	Motivation Motivation
	Body       []Body
	BodyShape  BodyShape
	Target     Target
	Creator    *Agent
	Created    string
	Modified   string
	Extra      map[string]json.RawMessage

	ETag string          // concurrency token from the last read, never serialized
	Raw  json.RawMessage // representation as listed by the store, used for drift checks
}

// UnmarshalJSON decodes an annotation, tolerating drifted field shapes
func (a *Annotation) UnmarshalJSON(data []byte) error {
	fields, err := decodeObject(data)
	if err != nil {
		return fmt.Errorf("annotation: %w", err)
	}

	out := Annotation{BodyShape: BodyAbsent}
	if raw, ok := fields["@context"]; ok {
		out.Context = raw
		delete(fields, "@context")
	}
	out.ID = popString(fields, "id")
	out.Type = popString(fields, "type")
	out.Motivation = Motivation(popString(fields, "motivation"))
	out.Created = popString(fields, "created")
	out.Modified = popString(fields, "modified")

	out.Creator = popAgent(fields, "creator")

	if raw, ok := fields["body"]; ok {
		delete(fields, "body")
		bodies, shape, err := decodeBodies(raw)
		if err != nil {
			return fmt.Errorf("annotation body: %w", err)
		}
		out.Body = bodies
		out.BodyShape = shape
	}

	if raw, ok := fields["target"]; ok {
		delete(fields, "target")
		if !isNull(raw) {
			if err := json.Unmarshal(raw, &out.Target); err != nil {
				return fmt.Errorf("annotation target: %w", err)
			}
		}
	}

	if len(fields) > 0 {
		out.Extra = fields
	}
	*a = out
	return nil
}

// MarshalJSON encodes the annotation, keeping the body shape it was read with
func (a Annotation) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(a.Extra)+10)
	for k, v := range a.Extra {
		out[k] = v
	}
	if len(a.Context) > 0 {
		out["@context"] = a.Context
	}
	setString(out, "id", a.ID)
	setString(out, "type", a.Type)
	setString(out, "motivation", string(a.Motivation))
	setString(out, "created", a.Created)
	setString(out, "modified", a.Modified)
	if a.Creator != nil {
		out["creator"] = a.Creator
	}

	switch {
	case a.BodyShape == BodyObject && len(a.Body) == 1:
		out["body"] = a.Body[0]
	case a.BodyShape == BodyAbsent && len(a.Body) == 0:
	default:
		bodies := a.Body
		if bodies == nil {
			bodies = []Body{}
		}
		out["body"] = bodies
	}

	if !a.Target.IsZero() {
		out["target"] = a.Target
	}
	return json.Marshal(out)
}

// Clone returns a deep copy of the annotation
func (a *Annotation) Clone() *Annotation {
	if a == nil {
		return nil
	}
	out := *a
	out.Context = cloneRaw(a.Context)
	out.Raw = cloneRaw(a.Raw)
	out.Creator = a.Creator.Clone()
	out.Extra = cloneFields(a.Extra)
	out.Target = a.Target.Clone()
	if a.Body != nil {
		out.Body = make([]Body, len(a.Body))
		for i, b := range a.Body {
			out.Body[i] = CloneBody(b)
		}
	}
	return &out
}

// Equal reports whether two annotations serialize identically
func (a *Annotation) Equal(other *Annotation) bool {
	left, err := json.Marshal(a)
	if err != nil {
		return false
	}
	right, err := json.Marshal(other)
	if err != nil {
		return false
	}
	return bytes.Equal(left, right)
}

// StringField returns an uninterpreted top-level string field such as "label"
func (a *Annotation) StringField(key string) string {
	return rawString(a.Extra[key])
}

// TextualBodies returns the textual bodies in order
func (a *Annotation) TextualBodies() []*TextualBody {
	var out []*TextualBody
	for _, b := range a.Body {
		if tb, ok := b.(*TextualBody); ok {
			out = append(out, tb)
		}
	}
	return out
}

// ParseTime parses an ISO-8601 timestamp, reporting false when absent or malformed
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatTime formats t the way the store stamps timestamps
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Before reports whether timestamp a is strictly earlier than b; unparseable values never compare
func Before(a, b string) bool {
	ta, okA := ParseTime(a)
	tb, okB := ParseTime(b)
	return okA && okB && ta.Before(tb)
}

func decodeObject(data []byte) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage)
	}
	return fields, nil
}

// popString removes and returns a string field; non-string values stay in fields untouched
func popString(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	if isNull(raw) {
		delete(fields, key)
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	delete(fields, key)
	return s
}

func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func setString(out map[string]any, key, value string) {
	if value != "" {
		out[key] = value
	}
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneFields(fields map[string]json.RawMessage) map[string]json.RawMessage {
	if fields == nil {
		return nil
	}
	out := maps.Clone(fields)
	for k, v := range out {
		out[k] = cloneRaw(v)
	}
	return out
}
