package scan

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/annorepair/internal/apperr"
	"github.com/ppiankov/annorepair/internal/model"
	"github.com/ppiankov/annorepair/internal/store"
	"github.com/ppiankov/annorepair/internal/testutil"
)

// scriptedLister answers pages from a table; missing pages fail
type scriptedLister struct {
	pages map[int]*store.Page
	errs  map[int]error
	calls []int
}

func (l *scriptedLister) ListPage(_ context.Context, page int) (*store.Page, error) {
	l.calls = append(l.calls, page)
	if err, ok := l.errs[page]; ok {
		return nil, err
	}
	if p, ok := l.pages[page]; ok {
		return p, nil
	}
	return nil, errors.New("no such page")
}

func pageOf(number, last int, ms ...model.Motivation) *store.Page {
	p := &store.Page{Number: number, LastPage: last}
	for i, m := range ms {
		p.Items = append(p.Items, &model.Annotation{ID: fmt.Sprintf("p%d-%d", number, i), Motivation: m})
	}
	return p
}

func TestWalk_StopsOnLastPage(t *testing.T) {
	l := &scriptedLister{pages: map[int]*store.Page{
		0: pageOf(0, 1, model.MotivationLinking, model.MotivationTextspotting),
		1: pageOf(1, 1, model.MotivationLinking),
	}}
	s := New(l, Options{}, zerolog.Nop())

	got, stats := s.Collect(context.Background(), ByMotivation(model.MotivationLinking))
	require.Len(t, got, 2)
	assert.Equal(t, "p0-0", got[0].ID)
	assert.Equal(t, "p1-0", got[1].ID)
	assert.Equal(t, StopLastPage, stats.StopReason)
	assert.Equal(t, 2, stats.Pages)
	assert.Equal(t, 3, stats.Seen)
	assert.Equal(t, 2, stats.Matched)
	assert.Equal(t, []int{0, 1}, l.calls)
}

func TestWalk_StopsOnEmptyPage(t *testing.T) {
	l := &scriptedLister{pages: map[int]*store.Page{
		0: pageOf(0, -1, model.MotivationLinking),
		1: pageOf(1, -1),
	}}
	_, stats := New(l, Options{}, zerolog.Nop()).Collect(context.Background(), All)
	assert.Equal(t, StopEmptyPage, stats.StopReason)
	assert.Equal(t, 2, stats.Pages)
}

func TestWalk_FailedPageCountsAsEmptyButContinues(t *testing.T) {
	l := &scriptedLister{
		pages: map[int]*store.Page{
			0: pageOf(0, 2, model.MotivationLinking),
			2: pageOf(2, 2, model.MotivationLinking),
		},
		errs: map[int]error{1: fmt.Errorf("list page 1: %w", apperr.ErrUpstreamTimeout)},
	}
	got, stats := New(l, Options{}, zerolog.Nop()).Collect(context.Background(), All)
	assert.Len(t, got, 2)
	assert.Equal(t, 1, stats.FailedPages)
	assert.Equal(t, StopLastPage, stats.StopReason)
}

func TestWalk_ConsecutiveFailureCeiling(t *testing.T) {
	l := &scriptedLister{pages: map[int]*store.Page{
		0: pageOf(0, -1, model.MotivationLinking),
	}}
	_, stats := New(l, Options{MaxConsecutiveFailures: 3}, zerolog.Nop()).Collect(context.Background(), All)
	assert.Equal(t, StopConsecutiveFailures, stats.StopReason)
	assert.Equal(t, 3, stats.FailedPages)
	assert.Equal(t, []int{0, 1, 2, 3}, l.calls)
}

func TestWalk_PageCeiling(t *testing.T) {
	pages := make(map[int]*store.Page)
	for i := 0; i < 10; i++ {
		pages[i] = pageOf(i, -1, model.MotivationLinking)
	}
	got, stats := New(&scriptedLister{pages: pages}, Options{MaxPages: 4}, zerolog.Nop()).Collect(context.Background(), All)
	assert.Len(t, got, 4)
	assert.Equal(t, StopMaxPages, stats.StopReason)
	assert.Equal(t, 4, stats.Pages)
}

func TestWalk_NotFoundEndsListing(t *testing.T) {
	l := &scriptedLister{
		pages: map[int]*store.Page{0: pageOf(0, -1, model.MotivationLinking)},
		errs:  map[int]error{1: &store.HTTPError{StatusCode: 404}},
	}
	_, stats := New(l, Options{}, zerolog.Nop()).Collect(context.Background(), All)
	assert.Equal(t, StopNotFound, stats.StopReason)
	assert.Zero(t, stats.FailedPages)
}

func TestWalk_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l := &scriptedLister{pages: map[int]*store.Page{0: pageOf(0, -1, model.MotivationLinking)}}
	_, stats := New(l, Options{}, zerolog.Nop()).Collect(ctx, All)
	assert.Equal(t, StopCancelled, stats.StopReason)
	assert.Empty(t, l.calls)
}

func TestScan_IsRestartableAndStopsEarly(t *testing.T) {
	l := &scriptedLister{pages: map[int]*store.Page{
		0: pageOf(0, 0, model.MotivationLinking, model.MotivationLinking, model.MotivationLinking),
	}}
	s := New(l, Options{}, zerolog.Nop())
	seq := s.Scan(context.Background(), All)

	var first []string
	for a := range seq {
		first = append(first, a.ID)
		if len(first) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"p0-0", "p0-1"}, first)

	var second []string
	for a := range seq {
		second = append(second, a.ID)
	}
	assert.Len(t, second, 3)
	assert.Equal(t, []int{0, 0}, l.calls)
}

func TestByMotivation_MatchesMisspellings(t *testing.T) {
	f := ByMotivation(model.MotivationIconography)
	assert.True(t, f(&model.Annotation{Motivation: "iconograpy"}))
	assert.True(t, f(&model.Annotation{Motivation: model.MotivationIconography}))
	assert.False(t, f(&model.Annotation{Motivation: model.MotivationTextspotting}))
}

func TestWalk_AgainstStore(t *testing.T) {
	fs := testutil.NewFakeStore(t, "maps")
	fs.SetPageSize(2)
	for i := 0; i < 5; i++ {
		fs.Add(`{"type":"Annotation","motivation":"linking","target":["a","b"],"body":[]}`)
	}
	fs.Add(`{"type":"Annotation","motivation":"textspotting","body":[]}`)
	fs.FailPage(1, 1)

	client := store.New(store.Options{BaseURL: fs.BaseURL(), Container: fs.Container(), MaxRetries: 0}, nil)
	got, stats := New(client, Options{}, zerolog.Nop()).Collect(context.Background(), ByMotivation(model.MotivationLinking))

	// page 1 failed once and was treated as empty
	assert.Len(t, got, 3)
	assert.Equal(t, 1, stats.FailedPages)
	assert.Equal(t, StopLastPage, stats.StopReason)
	assert.Equal(t, 4, stats.Seen)
}
