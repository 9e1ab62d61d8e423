package repair

import "github.com/ppiankov/annorepair/internal/model"

// CreatedSource extracts one candidate for an annotation's original creation time
type CreatedSource struct {
	Name    string
	Extract func(a *model.Annotation) string
}

// CreatedSources is the order in which an original creation time is recovered.
// The first present value wins; "now" is only used when all of them are empty.
var CreatedSources = []CreatedSource{
	{Name: "annotation.created", Extract: func(a *model.Annotation) string { return a.Created }},
	{Name: "target.created", Extract: func(a *model.Annotation) string { return a.Target.Created() }},
	{Name: "target.generator.created", Extract: func(a *model.Annotation) string { return a.Target.GeneratorCreated() }},
	{Name: "body.created", Extract: firstBodyCreated},
}

// RecoverCreated returns the first present creation time and the source it came from
func RecoverCreated(a *model.Annotation) (string, string, bool) {
	for _, src := range CreatedSources {
		if v := src.Extract(a); v != "" {
			return v, src.Name, true
		}
	}
	return "", "", false
}

func firstBodyCreated(a *model.Annotation) string {
	for _, body := range a.Body {
		switch b := body.(type) {
		case *model.TextualBody:
			if b.Created != "" {
				return b.Created
			}
		case *model.SpecificResource:
			if b.Created != "" {
				return b.Created
			}
		}
	}
	return ""
}
