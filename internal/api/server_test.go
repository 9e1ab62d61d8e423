package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/annorepair/internal/apperr"
	"github.com/ppiankov/annorepair/internal/cache"
	"github.com/ppiankov/annorepair/internal/engine"
	"github.com/ppiankov/annorepair/internal/metrics"
	"github.com/ppiankov/annorepair/internal/model"
	"github.com/ppiankov/annorepair/internal/store"
	"github.com/ppiankov/annorepair/internal/testutil"
)

type call struct {
	kind   model.PassKind
	mode   model.RunMode
	dryRun bool
}

type stubRunner struct {
	mu      sync.Mutex
	calls   []call
	ctxErrs []error
	err     error
	started chan struct{}
	release chan struct{}
}

func (s *stubRunner) Analyze(_ context.Context, kind model.PassKind) (*model.Report, error) {
	s.record(call{kind: kind, mode: model.ModeAnalyze})
	if s.err != nil {
		return nil, s.err
	}
	return &model.Report{Kind: kind, Mode: model.ModeAnalyze, DryRun: true}, nil
}

func (s *stubRunner) Repair(ctx context.Context, kind model.PassKind, dryRun bool) (*model.Report, error) {
	mode := model.ModeApply
	if dryRun {
		mode = model.ModeDryRun
	}
	s.record(call{kind: kind, mode: mode, dryRun: dryRun})
	s.mu.Lock()
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	s.mu.Unlock()
	if !dryRun && s.release != nil {
		close(s.started)
		<-s.release
	}
	return &model.Report{Kind: kind, Mode: mode, DryRun: dryRun}, nil
}

func (s *stubRunner) record(c call) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)
}

func do(t *testing.T, h http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeReport(t *testing.T, w *httptest.ResponseRecorder) model.Report {
	t.Helper()
	var report model.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report), w.Body.String())
	return report
}

func TestHealthz(t *testing.T) {
	router := NewServer(&stubRunner{}, nil, "secret", zerolog.Nop()).Router()

	w := do(t, router, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestListPasses(t *testing.T) {
	router := NewServer(&stubRunner{}, nil, "", zerolog.Nop()).Router()

	w := do(t, router, http.MethodGet, "/api/passes", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp passesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, model.PassKinds, resp.Passes)
}

func TestRepair_DryRunDefaults(t *testing.T) {
	runner := &stubRunner{}
	router := NewServer(runner, nil, "", zerolog.Nop()).Router()

	w := do(t, router, http.MethodPost, "/api/passes/structural/repair", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeReport(t, w).DryRun)

	w = do(t, router, http.MethodPost, "/api/passes/linking-orphans/repair", `{"dryRun":false}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.ModeApply, decodeReport(t, w).Mode)

	w = do(t, router, http.MethodPost, "/api/passes/unwanted/repair", `{}`)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, []call{
		{kind: model.PassStructural, mode: model.ModeDryRun, dryRun: true},
		{kind: model.PassLinkingOrphans, mode: model.ModeApply},
		{kind: model.PassUnwanted, mode: model.ModeDryRun, dryRun: true},
	}, runner.calls)
}

func TestRepair_BadRequests(t *testing.T) {
	runner := &stubRunner{}
	router := NewServer(runner, nil, "", zerolog.Nop()).Router()

	w := do(t, router, http.MethodPost, "/api/passes/structural/repair", `{"dryRun":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, http.MethodPost, "/api/passes/bogus/analyze", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "unknown pass")

	assert.Empty(t, runner.calls)
}

func TestRepair_OneApplyingPassAtATime(t *testing.T) {
	runner := &stubRunner{started: make(chan struct{}), release: make(chan struct{})}
	router := NewServer(runner, nil, "", zerolog.Nop()).Router()

	first := make(chan int)
	go func() {
		first <- do(t, router, http.MethodPost, "/api/passes/structural/repair", `{"dryRun":false}`).Code
	}()

	select {
	case <-runner.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first pass never started")
	}

	w := do(t, router, http.MethodPost, "/api/passes/unwanted/repair", `{"dryRun":false}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, router, http.MethodPost, "/api/passes/unwanted/repair", `{"dryRun":true}`)
	assert.Equal(t, http.StatusOK, w.Code, "dry runs do not wait for the applying pass")

	close(runner.release)
	assert.Equal(t, http.StatusOK, <-first)
}

func TestRepair_ApplyOutlivesClientDisconnect(t *testing.T) {
	runner := &stubRunner{}
	srv := NewServer(runner, nil, "", zerolog.Nop())
	router := srv.Router()

	gone, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest(http.MethodPost, "/api/passes/linking-duplicates/repair", strings.NewReader(`{"dryRun":false}`)).WithContext(gone)
	router.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest(http.MethodPost, "/api/passes/linking-duplicates/repair", strings.NewReader(`{"dryRun":true}`)).WithContext(gone)
	router.ServeHTTP(httptest.NewRecorder(), req)

	require.Len(t, runner.ctxErrs, 2)
	assert.NoError(t, runner.ctxErrs[0], "applying pass keeps running after the client leaves")
	assert.ErrorIs(t, runner.ctxErrs[1], context.Canceled, "dry runs follow the request")
}

func TestApplyContext_StopsWithServer(t *testing.T) {
	srv := NewServer(&stubRunner{}, nil, "", zerolog.Nop())
	base, stopServer := context.WithCancel(context.Background())
	srv.base = base

	ctx, cancel := srv.applyContext(context.Background())
	defer cancel()
	require.NoError(t, ctx.Err())

	stopServer()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("applying pass context outlived the server")
	}
}

func TestAnalyze_ErrorWithoutReport(t *testing.T) {
	runner := &stubRunner{err: apperr.ErrUpstream}
	router := NewServer(runner, nil, "", zerolog.Nop()).Router()

	w := do(t, router, http.MethodPost, "/api/passes/structural/analyze", "")
	require.Equal(t, http.StatusInternalServerError, w.Code)

	var resp errResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, string(model.ErrorKindUpstreamError), resp.Kind)
}

func TestAuth(t *testing.T) {
	recorder := metrics.New()
	router := NewServer(&stubRunner{}, recorder.Handler(), "secret", zerolog.Nop()).Router()

	w := do(t, router, http.MethodGet, "/api/passes", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, router, http.MethodGet, "/api/passes", "", "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, router, http.MethodGet, "/api/passes", "", "Authorization", "Bearer secret")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServe_StopsOnCancel(t *testing.T) {
	srv := NewServer(&stubRunner{}, nil, "", zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, "127.0.0.1:0") }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServe_ListenError(t *testing.T) {
	srv := NewServer(&stubRunner{}, nil, "", zerolog.Nop())
	err := srv.Serve(context.Background(), "not-an-address")
	require.Error(t, err)
	assert.False(t, errors.Is(err, context.Canceled))
}

func TestAnalyze_AgainstStore(t *testing.T) {
	fs := testutil.NewFakeStore(t, "maps")
	fs.Add(`{"type":"Annotation","motivation":"iconograpy","body":[],"target":{"source":"https://iiif/canvas/1"}}`)
	fs.Add(`{"type":"Annotation","motivation":"textspotting","body":[{"type":"TextualBody","value":"Cochin"}],"target":{"source":"https://iiif/canvas/2"}}`)

	cfg := model.DefaultConfig()
	client := store.New(store.Options{BaseURL: fs.BaseURL(), Container: fs.Container()}, cache.NewETagCache(time.Minute))
	eng, err := engine.FromConfig(cfg, client, nil, zerolog.Nop())
	require.NoError(t, err)

	router := NewServer(eng, nil, "", zerolog.Nop()).Router()
	w := do(t, router, http.MethodPost, "/api/passes/structural/analyze", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	report := decodeReport(t, w)
	assert.Equal(t, model.ModeAnalyze, report.Mode)
	assert.Equal(t, 2, report.Counters.Scanned)
	assert.Equal(t, 1, report.DefectCounts[model.DefectMotivationTypo])
	assert.Equal(t, 0, fs.CountRequests(http.MethodPut))
}
