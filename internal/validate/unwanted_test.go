package validate

import (
	"strings"
	"testing"
)

func TestUnwanted_Detect(t *testing.T) {
	u, err := NewUnwanted(nil)
	if err != nil {
		t.Fatalf("NewUnwanted failed: %v", err)
	}

	tests := []struct {
		name   string
		doc    string
		reason string // substring expected in some reason, empty means wanted
	}{
		{
			name:   "placeholder body value",
			doc:    `{"id":"https://s/w3c/maps/1","type":"Annotation","motivation":"commenting","body":[{"type":"TextualBody","value":"Test"}]}`,
			reason: "body value",
		},
		{
			name:   "html body value",
			doc:    `{"id":"https://s/w3c/maps/1","type":"Annotation","motivation":"commenting","body":[{"type":"TextualBody","format":"text/html","value":"<p><b>test</b> data</p>"}]}`,
			reason: "body value",
		},
		{
			name: "geotag placeholder source",
			doc: `{"id":"https://s/w3c/maps/1","type":"Annotation","motivation":"linking","target":["a","b"],"body":[
				{"type":"SpecificResource","purpose":"geotagging","source":{"label":"Unknown Location","properties":{"title":"Kochi"}}}]}`,
			reason: "source label",
		},
		{
			name: "geo property",
			doc: `{"id":"https://s/w3c/maps/1","type":"Annotation","motivation":"linking","target":["a","b"],"body":[
				{"type":"SpecificResource","purpose":"geotagging","source":{"properties":{"placename":"test location"}}}]}`,
			reason: "geo placename",
		},
		{
			name: "broken coordinates",
			doc: `{"id":"https://s/w3c/maps/1","type":"Annotation","motivation":"linking","target":["a","b"],"body":[
				{"type":"SpecificResource","purpose":"geotagging","source":{"defined_by":"POINT(undefined undefined)"}}]}`,
			reason: "invalid coordinates",
		},
		{
			name:   "test creator id",
			doc:    `{"id":"https://s/w3c/maps/1","type":"Annotation","motivation":"iconography","creator":{"id":"test-user","label":"Jane"},"body":[]}`,
			reason: "creator id",
		},
		{
			name:   "body creator label",
			doc:    `{"id":"https://s/w3c/maps/1","type":"Annotation","motivation":"textspotting","body":[{"type":"TextualBody","value":"Kochin","creator":{"id":"https://orcid.org/1","label":"Test User"}}]}`,
			reason: "body creator label",
		},
		{
			name:   "test target",
			doc:    `{"id":"https://s/w3c/maps/1","type":"Annotation","motivation":"linking","target":["https://s/w3c/maps/test-1","b"],"body":[]}`,
			reason: "target",
		},
		{
			name:   "test id",
			doc:    `{"id":"https://s/w3c/maps/a-test-1","type":"Annotation","motivation":"linking","target":["a","b"],"body":[]}`,
			reason: "test annotation id",
		},
		{
			name:   "annotation label",
			doc:    `{"id":"https://s/w3c/maps/1","type":"Annotation","label":"test annotation","body":[]}`,
			reason: "annotation label",
		},
		{
			name: "real content",
			doc: `{"id":"https://s/w3c/maps/1","type":"Annotation","motivation":"linking","target":["a","b"],"body":[
				{"type":"SpecificResource","purpose":"geotagging","source":{"label":"Cochin","properties":{"title":"Kochi"}},
				 "creator":{"id":"https://orcid.org/0000-0001","label":"Jane"}}]}`,
		},
		{
			name: "contest is not test",
			doc:  `{"id":"https://s/w3c/maps/1","type":"Annotation","motivation":"commenting","body":[{"type":"TextualBody","value":"Protestant church"}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reasons := u.Detect(decode(t, tt.doc))
			if tt.reason == "" {
				if len(reasons) > 0 {
					t.Errorf("Expected wanted annotation, got %v", reasons)
				}
				return
			}
			found := false
			for _, r := range reasons {
				if strings.Contains(r, tt.reason) {
					found = true
				}
			}
			if !found {
				t.Errorf("Expected a reason containing %q, got %v", tt.reason, reasons)
			}
		})
	}
}

func TestUnwanted_ExtraPatterns(t *testing.T) {
	u, err := NewUnwanted([]string{`^lorem ipsum`})
	if err != nil {
		t.Fatalf("NewUnwanted failed: %v", err)
	}
	reasons := u.Detect(decode(t, `{"id":"https://s/w3c/maps/1","type":"Annotation","body":[{"type":"TextualBody","value":"Lorem ipsum dolor"}]}`))
	if len(reasons) != 1 {
		t.Errorf("Expected one reason, got %v", reasons)
	}

	if _, err := NewUnwanted([]string{"("}); err == nil {
		t.Error("Expected error for invalid pattern")
	}
}

func TestHTMLText(t *testing.T) {
	got := htmlText(`<p>Fort <i>Cochin</i></p><script>x()</script>`)
	if got != "Fort Cochin" {
		t.Errorf("Expected visible text, got %q", got)
	}
}
