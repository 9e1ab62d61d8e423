package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Body types as they appear in the "type" field
const (
	BodyTypeTextual          = "TextualBody"
	BodyTypeSpecificResource = "SpecificResource"
)

// Body purposes used by the repair rules
const (
	PurposeSupplementing = "supplementing"
	PurposeGeotagging    = "geotagging"
	PurposeIdentifying   = "identifying"
	PurposeSelecting     = "selecting"
	PurposeHighlighting  = "highlighting"
)

// Body is one payload of an annotation. The concrete type is one of
// *TextualBody, *SpecificResource or *UnknownBody.
type Body interface {
	BodyType() string
	BodyPurpose() string
	isBody()
}

// TextualBody carries text, attributed either to a generator (machine) or a creator (human)
type TextualBody struct {
	Type      string
	Value     string
	Format    string
	Purpose   string
	Language  string
	Generator *Agent
	Creator   *Agent
	Created   string
	Modified  string
	Extra     map[string]json.RawMessage
}

func (b *TextualBody) BodyType() string    { return BodyTypeTextual }
func (b *TextualBody) BodyPurpose() string { return b.Purpose }
func (b *TextualBody) isBody()             {}

// IsMachine reports whether the body is attributed to a generator
func (b *TextualBody) IsMachine() bool {
	return b.Generator != nil
}

// HasHumanProvenance reports whether the body names a human creator.
// A generator next to the creator does not cancel the human attribution.
func (b *TextualBody) HasHumanProvenance() bool {
	return b.Creator != nil
}

// IsEmpty reports whether the body has no meaningful text
func (b *TextualBody) IsEmpty() bool {
	return strings.TrimSpace(b.Value) == ""
}

func (b *TextualBody) UnmarshalJSON(data []byte) error {
	fields, err := decodeObject(data)
	if err != nil {
		return err
	}
	out := TextualBody{
		Type:     popString(fields, "type"),
		Value:    popString(fields, "value"),
		Format:   popString(fields, "format"),
		Purpose:  popString(fields, "purpose"),
		Language: popString(fields, "language"),
		Created:  popString(fields, "created"),
		Modified: popString(fields, "modified"),
	}
	out.Generator = popAgent(fields, "generator")
	out.Creator = popAgent(fields, "creator")
	if len(fields) > 0 {
		out.Extra = fields
	}
	*b = out
	return nil
}

func (b TextualBody) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(b.Extra)+9)
	for k, v := range b.Extra {
		out[k] = v
	}
	bodyType := b.Type
	if bodyType == "" {
		bodyType = BodyTypeTextual
	}
	out["type"] = bodyType
	out["value"] = b.Value
	setString(out, "format", b.Format)
	setString(out, "purpose", b.Purpose)
	setString(out, "language", b.Language)
	setString(out, "created", b.Created)
	setString(out, "modified", b.Modified)
	if b.Generator != nil {
		out["generator"] = b.Generator
	}
	if b.Creator != nil {
		out["creator"] = b.Creator
	}
	return json.Marshal(out)
}

// SpecificResource refers to a place description or canvas region, usually on linking annotations
type SpecificResource struct {
	Purpose  string
	Source   json.RawMessage
	Selector *Selector
	Creator  *Agent
	Created  string
	Modified string
	Extra    map[string]json.RawMessage
}

func (b *SpecificResource) BodyType() string    { return BodyTypeSpecificResource }
func (b *SpecificResource) BodyPurpose() string { return b.Purpose }
func (b *SpecificResource) isBody()             {}

// SourceFields decodes the source as a generic object; nil when it is not an object
func (b *SpecificResource) SourceFields() map[string]any {
	if len(b.Source) == 0 {
		return nil
	}
	var fields map[string]any
	if err := json.Unmarshal(b.Source, &fields); err != nil {
		return nil
	}
	return fields
}

func (b *SpecificResource) UnmarshalJSON(data []byte) error {
	fields, err := decodeObject(data)
	if err != nil {
		return err
	}
	delete(fields, "type")
	out := SpecificResource{
		Purpose:  popString(fields, "purpose"),
		Created:  popString(fields, "created"),
		Modified: popString(fields, "modified"),
	}
	if raw, ok := fields["source"]; ok {
		out.Source = raw
		delete(fields, "source")
	}
	if raw, ok := fields["selector"]; ok && !isNull(raw) && isObject(raw) {
		delete(fields, "selector")
		out.Selector = &Selector{}
		if err := json.Unmarshal(raw, out.Selector); err != nil {
			return fmt.Errorf("selector: %w", err)
		}
	}
	out.Creator = popAgent(fields, "creator")
	if len(fields) > 0 {
		out.Extra = fields
	}
	*b = out
	return nil
}

func (b SpecificResource) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(b.Extra)+7)
	for k, v := range b.Extra {
		out[k] = v
	}
	out["type"] = BodyTypeSpecificResource
	setString(out, "purpose", b.Purpose)
	setString(out, "created", b.Created)
	setString(out, "modified", b.Modified)
	if len(b.Source) > 0 {
		out["source"] = b.Source
	}
	if b.Selector != nil {
		out["selector"] = b.Selector
	}
	if b.Creator != nil {
		out["creator"] = b.Creator
	}
	return json.Marshal(out)
}

// UnknownBody keeps a body of an unrecognized type verbatim
type UnknownBody struct {
	Raw json.RawMessage
}

func (b *UnknownBody) BodyType() string {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b.Raw, &probe); err != nil {
		return ""
	}
	return probe.Type
}

func (b *UnknownBody) BodyPurpose() string {
	var probe struct {
		Purpose string `json:"purpose"`
	}
	if err := json.Unmarshal(b.Raw, &probe); err != nil {
		return ""
	}
	return probe.Purpose
}

func (b *UnknownBody) isBody() {}

func (b UnknownBody) MarshalJSON() ([]byte, error) {
	if len(b.Raw) == 0 {
		return []byte("null"), nil
	}
	return b.Raw, nil
}

// Selector locates a region, e.g. a PointSelector{x,y}
type Selector struct {
	Type  string
	Extra map[string]json.RawMessage
}

// SelectorTypePoint is the selector type used for point identifications
const SelectorTypePoint = "PointSelector"

func (s *Selector) UnmarshalJSON(data []byte) error {
	fields, err := decodeObject(data)
	if err != nil {
		return err
	}
	out := Selector{Type: popString(fields, "type")}
	if len(fields) > 0 {
		out.Extra = fields
	}
	*s = out
	return nil
}

func (s Selector) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Extra)+1)
	for k, v := range s.Extra {
		out[k] = v
	}
	setString(out, "type", s.Type)
	return json.Marshal(out)
}

// Agent identifies a human creator or a machine generator
type Agent struct {
	ID      string
	Type    string
	Label   string
	Name    string
	Created string
	Extra   map[string]json.RawMessage

	IRIOnly bool // encoded as a bare IRI string
}

func (a *Agent) UnmarshalJSON(data []byte) error {
	var iri string
	if err := json.Unmarshal(data, &iri); err == nil {
		*a = Agent{ID: iri, IRIOnly: true}
		return nil
	}
	fields, err := decodeObject(data)
	if err != nil {
		return err
	}
	out := Agent{
		ID:      popString(fields, "id"),
		Type:    popString(fields, "type"),
		Label:   popString(fields, "label"),
		Name:    popString(fields, "name"),
		Created: popString(fields, "created"),
	}
	if len(fields) > 0 {
		out.Extra = fields
	}
	*a = out
	return nil
}

func (a Agent) MarshalJSON() ([]byte, error) {
	if a.IRIOnly {
		return json.Marshal(a.ID)
	}
	out := make(map[string]any, len(a.Extra)+5)
	for k, v := range a.Extra {
		out[k] = v
	}
	setString(out, "id", a.ID)
	setString(out, "type", a.Type)
	setString(out, "label", a.Label)
	setString(out, "name", a.Name)
	setString(out, "created", a.Created)
	return json.Marshal(out)
}

// Clone returns a deep copy of the agent
func (a *Agent) Clone() *Agent {
	if a == nil {
		return nil
	}
	out := *a
	out.Extra = cloneFields(a.Extra)
	return &out
}

// DecodeBody decodes one body element into its concrete variant
func DecodeBody(raw json.RawMessage) (Body, error) {
	if !isObject(raw) {
		return &UnknownBody{Raw: cloneRaw(raw)}, nil
	}
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return &UnknownBody{Raw: cloneRaw(raw)}, nil
	}
	switch probe.Type {
	case BodyTypeTextual:
		b := &TextualBody{}
		if err := json.Unmarshal(raw, b); err != nil {
			return nil, err
		}
		return b, nil
	case BodyTypeSpecificResource:
		b := &SpecificResource{}
		if err := json.Unmarshal(raw, b); err != nil {
			return nil, err
		}
		return b, nil
	default:
		return &UnknownBody{Raw: cloneRaw(raw)}, nil
	}
}

// CloneBody returns a deep copy of a body
func CloneBody(b Body) Body {
	switch v := b.(type) {
	case *TextualBody:
		out := *v
		out.Generator = v.Generator.Clone()
		out.Creator = v.Creator.Clone()
		out.Extra = cloneFields(v.Extra)
		return &out
	case *SpecificResource:
		out := *v
		out.Source = cloneRaw(v.Source)
		out.Creator = v.Creator.Clone()
		out.Extra = cloneFields(v.Extra)
		if v.Selector != nil {
			sel := *v.Selector
			sel.Extra = cloneFields(v.Selector.Extra)
			out.Selector = &sel
		}
		return &out
	case *UnknownBody:
		return &UnknownBody{Raw: cloneRaw(v.Raw)}
	default:
		panic(fmt.Sprintf("model: unhandled body type %T", b))
	}
}

func decodeBodies(raw json.RawMessage) ([]Body, BodyShape, error) {
	if isNull(raw) {
		return nil, BodyAbsent, nil
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err == nil {
		bodies := make([]Body, 0, len(elems))
		for i, elem := range elems {
			b, err := DecodeBody(elem)
			if err != nil {
				return nil, BodyArray, fmt.Errorf("body[%d]: %w", i, err)
			}
			bodies = append(bodies, b)
		}
		return bodies, BodyArray, nil
	}
	b, err := DecodeBody(raw)
	if err != nil {
		return nil, BodyObject, err
	}
	return []Body{b}, BodyObject, nil
}

func popAgent(fields map[string]json.RawMessage, key string) *Agent {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	if isNull(raw) {
		delete(fields, key)
		return nil
	}
	agent := &Agent{}
	if err := json.Unmarshal(raw, agent); err != nil {
		// drifted shape, carried verbatim
		return nil
	}
	delete(fields, key)
	return agent
}

func isObject(raw json.RawMessage) bool {
	for _, c := range raw {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		case '{':
			return true
		default:
			return false
		}
	}
	return false
}
