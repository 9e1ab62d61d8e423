package validate

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/ppiankov/annorepair/internal/model"
)

// defaultUnwantedPatterns match test and placeholder content left behind by manual testing
var defaultUnwantedPatterns = []string{
	`^unknown$`,
	`^test$`,
	`^unknown location$`,
	`^test location$`,
	`^test annotation$`,
	`^test user$`,
	`^test account$`,
	`^unknown user$`,
	`test.*geotagging`,
	`test.*point`,
	`test.*data`,
	`unknown.*location`,
	`test.*location`,
	`\btest\b.*\buser\b`,
	`\bunknown\b.*\blocation\b`,
}

// geoPropertyFields are the gazetteer properties of a geotagging source checked for placeholders
var geoPropertyFields = []string{"title", "description", "name", "label", "placename"}

// coordinateFields hold serialized coordinates that break when a client wrote undefined or null
var coordinateFields = []string{"defined_by", "coordinates", "geometry"}

// testIDMarkers mark annotation IDs minted by test fixtures
var testIDMarkers = []string{"/test", "-test-", "_test_", "test.", ".test"}

// Unwanted detects test and placeholder annotations
type Unwanted struct {
	patterns []*regexp.Regexp
}

// NewUnwanted compiles the default patterns plus extra, all case-insensitive
func NewUnwanted(extra []string) (*Unwanted, error) {
	u := &Unwanted{}
	for _, p := range append(append([]string{}, defaultUnwantedPatterns...), extra...) {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("unwanted pattern %q: %w", p, err)
		}
		u.patterns = append(u.patterns, re)
	}
	return u, nil
}

// Detect returns one reason per match; no reasons means the annotation is wanted
func (u *Unwanted) Detect(a *model.Annotation) []string {
	var reasons []string
	check := func(what, text string) {
		if u.matches(text) {
			reasons = append(reasons, fmt.Sprintf("unwanted %s: %q", what, text))
		}
	}

	check("motivation", string(a.Motivation))

	for _, raw := range bodiesOf(a) {
		var body map[string]any
		if json.Unmarshal(raw, &body) != nil {
			continue
		}
		value := stringOf(body["value"])
		if strings.Contains(strings.ToLower(stringOf(body["format"])), "html") {
			value = htmlText(value)
		}
		check("body value", value)
		check("body purpose", stringOf(body["purpose"]))
		check("body label", stringOf(body["label"]))

		if stringOf(body["type"]) == model.BodyTypeSpecificResource {
			if source, ok := body["source"].(map[string]any); ok {
				check("source label", stringOf(source["label"]))
				check("source title", stringOf(source["title"]))
				if props, ok := source["properties"].(map[string]any); ok {
					for _, field := range geoPropertyFields {
						check("geo "+field, stringOf(props[field]))
					}
				}
				for _, field := range coordinateFields {
					coords := stringOf(source[field])
					if strings.Contains(coords, "undefined") || strings.Contains(coords, "null") {
						reasons = append(reasons, fmt.Sprintf("invalid coordinates in %s: %q", field, coords))
					}
				}
			}
		}

		if creator, ok := body["creator"].(map[string]any); ok {
			reasons = append(reasons, u.creatorReasons("body creator", creator)...)
		}
	}

	if a.Creator != nil {
		reasons = append(reasons, u.creatorReasons("creator", map[string]any{
			"id":    a.Creator.ID,
			"label": a.Creator.Label,
			"name":  a.Creator.Name,
		})...)
	}

	for _, ref := range a.Target.Refs {
		if strings.Contains(strings.ToLower(ref), "test") {
			reasons = append(reasons, fmt.Sprintf("unwanted target: %q", ref))
		}
	}
	check("target source label", a.Target.SourceLabel())

	id := strings.ToLower(a.ID)
	for _, marker := range testIDMarkers {
		if strings.Contains(id, marker) {
			reasons = append(reasons, fmt.Sprintf("test annotation id: %q", a.ID))
			break
		}
	}

	check("annotation label", a.StringField("label"))
	check("annotation title", a.StringField("title"))
	return reasons
}

func (u *Unwanted) creatorReasons(what string, creator map[string]any) []string {
	var reasons []string
	if label := stringOf(creator["label"]); u.matches(label) {
		reasons = append(reasons, fmt.Sprintf("unwanted %s label: %q", what, label))
	}
	if name := stringOf(creator["name"]); u.matches(name) {
		reasons = append(reasons, fmt.Sprintf("unwanted %s name: %q", what, name))
	}
	id := stringOf(creator["id"])
	if lower := strings.ToLower(id); strings.Contains(lower, "test") || strings.Contains(lower, "unknown") {
		reasons = append(reasons, fmt.Sprintf("unwanted %s id: %q", what, id))
	}
	return reasons
}

func (u *Unwanted) matches(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	for _, re := range u.patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// bodiesOf re-encodes each body so every variant is inspected through the same generic view
func bodiesOf(a *model.Annotation) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(a.Body))
	for _, b := range a.Body {
		raw, err := json.Marshal(b)
		if err != nil {
			continue
		}
		out = append(out, raw)
	}
	return out
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}

// htmlText extracts the visible text of an HTML fragment
func htmlText(fragment string) string {
	doc, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}

	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript":
				return
			}
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				buf.WriteString(text)
				buf.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.TrimSpace(buf.String())
}
