package validate

import (
	"encoding/json"
	"testing"

	"github.com/ppiankov/annorepair/internal/model"
)

func decode(t *testing.T, doc string) *model.Annotation {
	t.Helper()
	a := &model.Annotation{}
	if err := json.Unmarshal([]byte(doc), a); err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	a.Raw = json.RawMessage(doc)
	return a
}

func TestClassify(t *testing.T) {
	classifier := NewClassifier(nil)

	tests := []struct {
		name    string
		doc     string
		want    []model.Defect
		notWant []model.Defect
	}{
		{
			name: "misspelled iconography with empty placeholder",
			doc:  `{"id":"a","type":"Annotation","motivation":"iconograpy","body":[{"type":"TextualBody","value":""}]}`,
			want: []model.Defect{model.DefectMotivationTypo, model.DefectEmptyTextualBody},
			notWant: []model.Defect{
				model.DefectAnnotationCreatorOnGenerated,
				model.DefectMachineBodyOnIconography,
			},
		},
		{
			name: "iconography with machine text",
			doc:  `{"id":"a","type":"Annotation","motivation":"iconography","body":[{"type":"TextualBody","value":"ship","generator":{"id":"g"}}]}`,
			want: []model.Defect{model.DefectMachineBodyOnIconography},
		},
		{
			name:    "iconography with human body is clean",
			doc:     `{"id":"a","type":"Annotation","motivation":"iconography","body":[{"type":"TextualBody","value":"ship","creator":{"id":"U"},"created":"2024-01-01T00:00:00Z"}]}`,
			notWant: []model.Defect{model.DefectMachineBodyOnIconography, model.DefectMissingBodyProvenance},
		},
		{
			name:    "iconography body edited over machine text is human",
			doc:     `{"id":"a","type":"Annotation","motivation":"iconography","body":[{"type":"TextualBody","value":"ship","generator":{"id":"g"},"creator":{"id":"U"},"created":"2024-02-01T00:00:00Z"}]}`,
			notWant: []model.Defect{model.DefectMachineBodyOnIconography, model.DefectMissingBodyProvenance},
		},
		{
			name:    "iconography creator without any text stays",
			doc:     `{"id":"a","type":"Annotation","motivation":"iconography","creator":{"id":"U"},"body":[]}`,
			notWant: []model.Defect{model.DefectAnnotationCreatorOnGenerated},
		},
		{
			name: "body absent",
			doc:  `{"id":"a","type":"Annotation","motivation":"commenting"}`,
			want: []model.Defect{model.DefectMissingBodyArray},
		},
		{
			name: "bare object body",
			doc:  `{"id":"a","type":"Annotation","motivation":"commenting","body":{"type":"TextualBody","value":"x"}}`,
			want: []model.Defect{model.DefectNonArrayBody},
		},
		{
			name: "annotation modified before created",
			doc:  `{"id":"a","type":"Annotation","motivation":"commenting","body":[],"created":"2024-02-01T00:00:00Z","modified":"2024-01-01T00:00:00Z"}`,
			want: []model.Defect{model.DefectImpossibleTimestamps},
		},
		{
			name: "body modified before created",
			doc:  `{"id":"a","type":"Annotation","motivation":"textspotting","body":[{"type":"TextualBody","value":"x","creator":{"id":"U"},"created":"2024-02-01T00:00:00Z","modified":"2024-01-01T00:00:00Z"}]}`,
			want: []model.Defect{model.DefectImpossibleTimestamps},
		},
		{
			name: "textspotting annotation-level creator",
			doc:  `{"id":"a","type":"Annotation","motivation":"textspotting","creator":{"id":"U"},"body":[{"type":"TextualBody","value":"Kochin","generator":{"id":"g"}}]}`,
			want: []model.Defect{model.DefectAnnotationCreatorOnGenerated},
		},
		{
			name: "textspotting incomplete human edit",
			doc: `{"id":"a","type":"Annotation","motivation":"textspotting","body":[
				{"type":"TextualBody","value":"Kochin","generator":{"id":"g"}},
				{"type":"TextualBody","value":"","creator":{"id":"U"},"created":"2024-01-01T00:00:00Z"}]}`,
			want: []model.Defect{model.DefectIncompleteHumanEdit},
		},
		{
			name: "textspotting human body without provenance",
			doc: `{"id":"a","type":"Annotation","motivation":"textspotting","body":[
				{"type":"TextualBody","value":"Kochin"}]}`,
			want: []model.Defect{model.DefectMissingBodyProvenance},
		},
		{
			name: "textspotting multiple human bodies",
			doc: `{"id":"a","type":"Annotation","motivation":"textspotting","body":[
				{"type":"TextualBody","value":"A","creator":{"id":"U"},"created":"2024-01-01T00:00:00Z"},
				{"type":"TextualBody","value":"B","creator":{"id":"V"},"created":"2024-01-02T00:00:00Z"}]}`,
			want: []model.Defect{model.DefectMultipleHumanBodies},
		},
		{
			name: "linking point selector highlighting",
			doc: `{"id":"a","type":"Annotation","motivation":"linking","target":["x","y"],"body":[
				{"type":"SpecificResource","purpose":"highlighting","selector":{"type":"PointSelector","x":1,"y":2},
				 "creator":{"id":"U"},"created":"2024-01-01T00:00:00Z"}]}`,
			want:    []model.Defect{model.DefectPointSelectorPurpose},
			notWant: []model.Defect{model.DefectMissingBodyProvenance},
		},
		{
			name: "linking geotag without provenance",
			doc: `{"id":"a","type":"Annotation","motivation":"linking","target":["x","y"],"body":[
				{"type":"SpecificResource","purpose":"geotagging","source":{"label":"Kochi"}}]}`,
			want: []model.Defect{model.DefectMissingBodyProvenance},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := classifier.Classify(decode(t, tt.doc))
			for _, d := range tt.want {
				if !result.Defects.Has(d) {
					t.Errorf("Expected defect %s, got %v", d, result.Defects)
				}
			}
			for _, d := range tt.notWant {
				if result.Defects.Has(d) {
					t.Errorf("Did not expect defect %s, got %v", d, result.Defects)
				}
			}
			if len(result.Reasons) < len(result.Defects) {
				t.Errorf("Expected a reason per defect, got %v", result.Reasons)
			}
		})
	}
}

func TestClassify_CleanAnnotationHasNoDefects(t *testing.T) {
	doc := `{"id":"a","type":"Annotation","motivation":"textspotting","created":"2024-01-01T00:00:00Z","body":[
		{"type":"TextualBody","value":"Kochin","generator":{"id":"g"}},
		{"type":"TextualBody","value":"Cochin","creator":{"id":"U"},"created":"2024-01-01T00:00:00Z"}],
		"target":{"source":"https://iiif.example/canvas/1"}}`
	result := NewClassifier(nil).Classify(decode(t, doc))
	if result.Defective() {
		t.Errorf("Expected no defects, got %v (%v)", result.Defects, result.Reasons)
	}
}

func TestBestMachineText(t *testing.T) {
	a := decode(t, `{"id":"a","type":"Annotation","motivation":"textspotting","body":[
		{"type":"TextualBody","value":"","generator":{"id":"g0"}},
		{"type":"TextualBody","value":"Kochn","generator":{"id":"https://hdl/MapTextPipeline","label":"MapTextPipeline"}},
		{"type":"TextualBody","value":"Kochin","generator":{"id":"https://hdl/loghi","label":"Loghi HTR"}},
		{"type":"TextualBody","value":"human","creator":{"id":"U"}}]}`)

	if got := BestMachineText(a, "loghi"); got != "Kochin" {
		t.Errorf("Expected preferred generator text, got %q", got)
	}
	if got := BestMachineText(a, ""); got != "Kochn" {
		t.Errorf("Expected first non-empty machine text, got %q", got)
	}
	if got := BestMachineText(a, "absent"); got != "Kochn" {
		t.Errorf("Expected fallback to first non-empty machine text, got %q", got)
	}
}

func TestIsHumanOrigin(t *testing.T) {
	plain := &model.TextualBody{Value: "x"}
	withCreator := &model.TextualBody{Value: "x", Creator: &model.Agent{ID: "U"}}

	if !IsHumanOrigin(model.MotivationTextspotting, plain) {
		t.Error("Textspotting body without generator should be human")
	}
	if IsHumanOrigin(model.MotivationIconography, plain) {
		t.Error("Iconography body needs a creator to be human")
	}
	if !IsHumanOrigin("iconograpy", withCreator) {
		t.Error("Misspelled iconography should follow iconography rules")
	}

	edited := &model.TextualBody{Value: "x", Generator: &model.Agent{ID: "g"}, Creator: &model.Agent{ID: "U"}}
	if !IsHumanOrigin(model.MotivationIconography, edited) {
		t.Error("Iconography body with a creator is human even when a generator is present")
	}
}

func TestClassify_SchemaViolation(t *testing.T) {
	schema, err := NewSchemaChecker()
	if err != nil {
		t.Fatalf("NewSchemaChecker failed: %v", err)
	}
	classifier := NewClassifier(schema)

	result := classifier.Classify(decode(t, `{"id":"a","type":"Annotation","motivation":["linking"],"body":[],"target":["x","y"]}`))
	if !result.Defects.Has(model.DefectSchemaViolation) {
		t.Errorf("Expected schema violation, got %v", result.Defects)
	}
	if !result.Defects.ReviewOnly().Has(model.DefectSchemaViolation) {
		t.Error("Schema violations should be review-only")
	}
}
