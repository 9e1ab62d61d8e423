package store

import (
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/ppiankov/annorepair/internal/model"
)

// Continuation is the listing's hint about further pages
type Continuation int

const (
	MaybeMore Continuation = iota // neither next nor last given
	HasMore                       // a next link is present or the last page lies ahead
	NoMore                        // this is the last page
)

// Page is one page of the collection listing
type Page struct {
	Number    int
	Items     []*model.Annotation
	Next      string // next-page link, empty when absent
	LastPage  int    // page number of the last page, -1 when unknown
	Malformed int    // items that could not be decoded
}

// Continuation interprets the pagination hints of the page
func (p *Page) Continuation() Continuation {
	if p.LastPage >= 0 {
		if p.Number >= p.LastPage {
			return NoMore
		}
		return HasMore
	}
	if p.Next != "" {
		return HasMore
	}
	return MaybeMore
}

// pageDoc accepts both an AnnotationPage and a collection whose first page is embedded
type pageDoc struct {
	Items  []json.RawMessage `json:"items"`
	Next   json.RawMessage   `json:"next"`
	Last   json.RawMessage   `json:"last"`
	PartOf json.RawMessage   `json:"partOf"`
	First  json.RawMessage   `json:"first"`
}

type embeddedPage struct {
	Items []json.RawMessage `json:"items"`
	Next  json.RawMessage   `json:"next"`
}

func decodePage(number int, body []byte) (*Page, error) {
	var doc pageDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}

	items, next := doc.Items, doc.Next
	if items == nil && len(doc.First) > 0 {
		var first embeddedPage
		if err := json.Unmarshal(doc.First, &first); err == nil {
			items = first.Items
			if len(next) == 0 {
				next = first.Next
			}
		}
	}

	last := linkOf(doc.Last)
	if last == "" && len(doc.PartOf) > 0 {
		var partOf struct {
			Last json.RawMessage `json:"last"`
		}
		if json.Unmarshal(doc.PartOf, &partOf) == nil {
			last = linkOf(partOf.Last)
		}
	}

	page := &Page{
		Number:   number,
		Next:     linkOf(next),
		LastPage: pageNumberOf(last),
	}
	for _, raw := range items {
		a, err := decodeAnnotation(raw)
		if err != nil {
			page.Malformed++
			continue
		}
		page.Items = append(page.Items, a)
	}
	return page, nil
}

// linkOf reads a link given either as a string or as an object with an id
func linkOf(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		ID string `json:"id"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return obj.ID
	}
	return ""
}

// pageNumberOf extracts the page query parameter, -1 when absent
func pageNumberOf(link string) int {
	if link == "" {
		return -1
	}
	u, err := url.Parse(link)
	if err != nil {
		return -1
	}
	n, err := strconv.Atoi(u.Query().Get("page"))
	if err != nil || n < 0 {
		return -1
	}
	return n
}
