package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const textspottingJSON = `{
  "@context": "http://www.w3.org/ns/anno.jsonld",
  "id": "https://store.example/w3c/maps/a1",
  "type": "Annotation",
  "motivation": "textspotting",
  "creator": {"id": "https://orcid.org/U", "type": "Person", "label": "U"},
  "created": "2024-03-01T10:00:00.000Z",
  "body": [
    {"type": "TextualBody", "value": "Kochin", "purpose": "supplementing",
     "generator": {"id": "https://hdl/MapTextPipeline", "label": "MapTextPipeline"}, "x-score": 0.93}
  ],
  "target": {"source": "https://iiif.example/canvas/1", "selector": {"type": "SvgSelector", "value": "<svg/>"},
             "generator": {"id": "g", "created": "2023-12-01T00:00:00Z"}},
  "x-pipeline": {"run": 7}
}`

func TestAnnotation_RoundTripKeepsUnknownFields(t *testing.T) {
	var a Annotation
	require.NoError(t, json.Unmarshal([]byte(textspottingJSON), &a))

	assert.Equal(t, MotivationTextspotting, a.Motivation)
	assert.Equal(t, BodyArray, a.BodyShape)
	require.Len(t, a.Body, 1)
	tb, ok := a.Body[0].(*TextualBody)
	require.True(t, ok)
	assert.True(t, tb.IsMachine())
	assert.Equal(t, "Kochin", tb.Value)
	require.NotNil(t, a.Creator)
	assert.Equal(t, "https://orcid.org/U", a.Creator.ID)
	assert.Equal(t, "2023-12-01T00:00:00Z", a.Target.GeneratorCreated())

	out, err := json.Marshal(a)
	require.NoError(t, err)
	assert.JSONEq(t, textspottingJSON, string(out))
}

func TestAnnotation_BodyShapes(t *testing.T) {
	tests := []struct {
		name  string
		input string
		shape BodyShape
		count int
	}{
		{"array", `{"id":"a","body":[]}`, BodyArray, 0},
		{"object", `{"id":"a","body":{"type":"TextualBody","value":"x"}}`, BodyObject, 1},
		{"absent", `{"id":"a"}`, BodyAbsent, 0},
		{"null", `{"id":"a","body":null}`, BodyAbsent, 0},
		{"iri", `{"id":"a","body":"https://example.org/b"}`, BodyObject, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var a Annotation
			require.NoError(t, json.Unmarshal([]byte(tt.input), &a))
			assert.Equal(t, tt.shape, a.BodyShape)
			assert.Len(t, a.Body, tt.count)

			out, err := json.Marshal(a)
			require.NoError(t, err)
			if tt.name == "null" {
				assert.JSONEq(t, `{"id":"a"}`, string(out))
				return
			}
			assert.JSONEq(t, tt.input, string(out))
		})
	}
}

func TestAnnotation_DriftedFieldsAreCarried(t *testing.T) {
	input := `{"id":"a","motivation":["linking"],"created":1700000000,"creator":[1,2]}`
	var a Annotation
	require.NoError(t, json.Unmarshal([]byte(input), &a))

	assert.Empty(t, a.Motivation)
	assert.Empty(t, a.Created)
	assert.Nil(t, a.Creator)

	out, err := json.Marshal(a)
	require.NoError(t, err)
	assert.JSONEq(t, input, string(out))
}

func TestTarget_Forms(t *testing.T) {
	var single Target
	require.NoError(t, json.Unmarshal([]byte(`"https://x/a"`), &single))
	assert.True(t, single.Single)
	assert.Equal(t, []string{"https://x/a"}, single.Refs)

	var list Target
	require.NoError(t, json.Unmarshal([]byte(`["b","a","c"]`), &list))
	assert.Equal(t, []string{"b", "a", "c"}, list.Refs)
	assert.Equal(t, "a|b|c", list.Key())

	var object Target
	require.NoError(t, json.Unmarshal([]byte(`{"source":{"label":"test location"},"created":"2024-01-01T00:00:00Z"}`), &object))
	assert.Nil(t, object.Refs)
	assert.Equal(t, "2024-01-01T00:00:00Z", object.Created())
	assert.Equal(t, "test location", object.SourceLabel())

	out, err := json.Marshal(list)
	require.NoError(t, err)
	assert.JSONEq(t, `["b","a","c"]`, string(out))
}

func TestAnnotation_CloneIsDeep(t *testing.T) {
	var a Annotation
	require.NoError(t, json.Unmarshal([]byte(textspottingJSON), &a))
	a.ETag = `"v1"`

	c := a.Clone()
	c.Body[0].(*TextualBody).Value = "changed"
	c.Creator.ID = "other"
	c.Extra["x-pipeline"] = json.RawMessage(`{}`)

	assert.Equal(t, "Kochin", a.Body[0].(*TextualBody).Value)
	assert.Equal(t, "https://orcid.org/U", a.Creator.ID)
	assert.JSONEq(t, `{"run":7}`, string(a.Extra["x-pipeline"]))
	assert.Equal(t, `"v1"`, c.ETag)
	assert.False(t, a.Equal(c))
	assert.True(t, a.Equal(a.Clone()))
}

func TestMotivation_Canonical(t *testing.T) {
	assert.Equal(t, MotivationIconography, Motivation("iconograpy").Canonical())
	assert.True(t, Motivation("iconograpy").IsMisspelled())
	assert.True(t, Motivation("iconograpy").IsMachineAttributed())
	assert.False(t, MotivationLinking.IsMachineAttributed())
	assert.Equal(t, MotivationLinking, MotivationLinking.Canonical())
}

func TestTimestamps(t *testing.T) {
	assert.True(t, Before("2024-01-01T00:00:00Z", "2024-01-02T00:00:00.000Z"))
	assert.False(t, Before("2024-01-02T00:00:00Z", "2024-01-01T00:00:00Z"))
	assert.False(t, Before("garbage", "2024-01-01T00:00:00Z"))

	ts, ok := ParseTime("2024-05-06")
	require.True(t, ok)
	assert.Equal(t, "2024-05-06T00:00:00.000Z", FormatTime(ts))
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.Validate(), "base url and container are required")

	cfg.Store.BaseURL = "https://annorepo.example.org"
	cfg.Store.Container = "maps"
	assert.NoError(t, cfg.Validate())

	cfg.Log.Level = "loud"
	assert.Error(t, cfg.Validate())
}
