// Package testutil provides an in-memory annotation store speaking the repository's HTTP contract.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
)

// FakeStore serves GET/HEAD/PUT/DELETE with ETags and 412s, POST creation,
// batch creation and paged listing under /w3c/{container}/.
type FakeStore struct {
	t         testing.TB
	server    *httptest.Server
	container string

	mu          sync.Mutex
	order       []string
	docs        map[string]map[string]any
	etags       map[string]string
	revision    int
	pageSize    int
	failPages   map[int]int
	noHEAD      bool
	beforeWrite func(method, id string)
	requests    []string
}

// NewFakeStore starts a store closed automatically at test cleanup
func NewFakeStore(t testing.TB, container string) *FakeStore {
	t.Helper()
	s := &FakeStore{
		t:         t,
		container: container,
		docs:      make(map[string]map[string]any),
		etags:     make(map[string]string),
		pageSize:  100,
		failPages: make(map[int]int),
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.server.Close)
	return s
}

// BaseURL is the store root, without the /w3c/ prefix
func (s *FakeStore) BaseURL() string { return s.server.URL }

// Container is the container name
func (s *FakeStore) Container() string { return s.container }

// CollectionURL is {base}/w3c/{container}/
func (s *FakeStore) CollectionURL() string {
	return s.server.URL + "/w3c/" + s.container + "/"
}

// SetPageSize sets how many items one listing page holds
func (s *FakeStore) SetPageSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageSize = n
}

// FailPage makes the listing of page answer 500 for the next times requests
func (s *FakeStore) FailPage(page, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPages[page] = times
}

// DisableHEAD makes HEAD answer 405
func (s *FakeStore) DisableHEAD() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noHEAD = true
}

// OnBeforeWrite registers a hook run before each PUT or DELETE is checked; it may call Mutate
func (s *FakeStore) OnBeforeWrite(fn func(method, id string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeWrite = fn
}

// Add stores an annotation given as JSON and returns its assigned ID
func (s *FakeStore) Add(doc string) string {
	s.t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(doc), &m); err != nil {
		s.t.Fatalf("fake store: bad fixture: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(m)
}

// AddWithID stores an annotation under a chosen local name, e.g. "a1"
func (s *FakeStore) AddWithID(name, doc string) string {
	s.t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(doc), &m); err != nil {
		s.t.Fatalf("fake store: bad fixture: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.CollectionURL() + name
	m["id"] = id
	s.order = append(s.order, id)
	s.docs[id] = m
	s.bump(id)
	return id
}

// Get returns a copy of the stored document
func (s *FakeStore) Get(id string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, false
	}
	return copyDoc(doc), true
}

// ETag returns the current token of id
func (s *FakeStore) ETag(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.etags[id]
}

// Mutate changes a document as another writer would, bumping its ETag
func (s *FakeStore) Mutate(id string, fn func(doc map[string]any)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mutateLocked(id, fn)
}

// Remove deletes a document behind the engine's back
func (s *FakeStore) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)
}

// IDs lists stored IDs in insertion order
func (s *FakeStore) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.order)
}

// Len is the number of stored annotations
func (s *FakeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Requests returns "METHOD path" for every request served
func (s *FakeStore) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.requests)
}

// CountRequests counts served requests with the given method
func (s *FakeStore) CountRequests(method string) int {
	n := 0
	for _, r := range s.Requests() {
		if strings.HasPrefix(r, method+" ") {
			n++
		}
	}
	return n
}

func (s *FakeStore) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, r.Method+" "+r.URL.Path)
	hook := s.beforeWrite
	s.mu.Unlock()

	prefix := "/w3c/" + s.container
	path := strings.TrimPrefix(r.URL.Path, prefix)
	if path == r.URL.Path {
		http.NotFound(w, r)
		return
	}
	name := strings.Trim(path, "/")

	switch {
	case name == "" && r.Method == http.MethodGet:
		s.list(w, r)
	case name == "" && r.Method == http.MethodPost:
		s.create(w, r)
	case name == "batch-create" && r.Method == http.MethodPost:
		s.createBatch(w, r)
	default:
		id := s.CollectionURL() + name
		if hook != nil && (r.Method == http.MethodPut || r.Method == http.MethodDelete) {
			hook(r.Method, id)
		}
		s.resource(w, r, id)
	}
}

func (s *FakeStore) list(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 0 {
		page = 0
	}
	if remaining := s.failPages[page]; remaining > 0 {
		s.failPages[page] = remaining - 1
		http.Error(w, "listing failed", http.StatusInternalServerError)
		return
	}

	lastPage := 0
	if len(s.order) > 0 {
		lastPage = (len(s.order) - 1) / s.pageSize
	}
	start := min(page*s.pageSize, len(s.order))
	end := min(start+s.pageSize, len(s.order))
	items := make([]map[string]any, 0, end-start)
	for _, id := range s.order[start:end] {
		items = append(items, s.docs[id])
	}

	doc := map[string]any{
		"id":     s.CollectionURL() + "?page=" + strconv.Itoa(page),
		"type":   "AnnotationPage",
		"items":  items,
		"partOf": map[string]any{"last": s.CollectionURL() + "?page=" + strconv.Itoa(lastPage)},
	}
	if page < lastPage {
		doc["next"] = s.CollectionURL() + "?page=" + strconv.Itoa(page+1)
	}
	writeJSON(w, http.StatusOK, "", doc)
}

func (s *FakeStore) create(w http.ResponseWriter, r *http.Request) {
	var m map[string]any
	if err := decodeBody(r.Body, &m); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	id := s.insert(m)
	doc, etag := copyDoc(s.docs[id]), s.etags[id]
	s.mu.Unlock()

	w.Header().Set("Location", id)
	writeJSON(w, http.StatusCreated, etag, doc)
}

func (s *FakeStore) createBatch(w http.ResponseWriter, r *http.Request) {
	var ms []map[string]any
	if err := decodeBody(r.Body, &ms); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	out := make([]map[string]any, 0, len(ms))
	for _, m := range ms {
		id := s.insert(m)
		out = append(out, copyDoc(s.docs[id]))
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, "", out)
}

func (s *FakeStore) resource(w http.ResponseWriter, r *http.Request, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, exists := s.docs[id]
	switch r.Method {
	case http.MethodHead:
		if s.noHEAD {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("ETag", s.etags[id])
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		if !exists {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, s.etags[id], doc)
	case http.MethodPut:
		if !exists {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("If-Match") != s.etags[id] {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
		var m map[string]any
		if err := decodeBody(r.Body, &m); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		m["id"] = id
		s.docs[id] = m
		s.bump(id)
		writeJSON(w, http.StatusOK, s.etags[id], m)
	case http.MethodDelete:
		if !exists {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("If-Match") != s.etags[id] {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
		s.removeLocked(id)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *FakeStore) insert(m map[string]any) string {
	id := s.CollectionURL() + uuid.NewString()
	m["id"] = id
	s.order = append(s.order, id)
	s.docs[id] = m
	s.bump(id)
	return id
}

func (s *FakeStore) mutateLocked(id string, fn func(doc map[string]any)) {
	doc, ok := s.docs[id]
	if !ok {
		s.t.Errorf("fake store: mutate unknown id %s", id)
		return
	}
	fn(doc)
	s.bump(id)
}

func (s *FakeStore) removeLocked(id string) {
	delete(s.docs, id)
	delete(s.etags, id)
	s.order = slices.DeleteFunc(s.order, func(x string) bool { return x == id })
}

func (s *FakeStore) bump(id string) {
	s.revision++
	s.etags[id] = fmt.Sprintf(`"r%d"`, s.revision)
}

func decodeBody(body io.Reader, out any) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func writeJSON(w http.ResponseWriter, status int, etag string, v any) {
	w.Header().Set("Content-Type", "application/ld+json")
	if etag != "" {
		w.Header().Set("ETag", etag)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func copyDoc(doc map[string]any) map[string]any {
	data, _ := json.Marshal(doc)
	var out map[string]any
	_ = json.Unmarshal(data, &out)
	return out
}
