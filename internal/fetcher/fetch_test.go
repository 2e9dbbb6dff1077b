package fetcher

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voyagen/techtube/internal/models"
	"github.com/voyagen/techtube/internal/youtube"
)

// scriptedSearcher serves totalPages pages and fails on failAt (1-based) when set.
type scriptedSearcher struct {
	totalPages int
	failAt     int
	err        error
	tokens     []string
}

func (s *scriptedSearcher) Search(_ context.Context, _ youtube.Query, token string) (*youtube.Page, error) {
	s.tokens = append(s.tokens, token)
	n := len(s.tokens)
	if n == s.failAt {
		return nil, s.err
	}
	page := &youtube.Page{Items: []youtube.Item{{ExternalID: fmt.Sprintf("v%d", n)}}}
	if n < s.totalPages {
		page.NextPageToken = fmt.Sprintf("t%d", n+1)
	}
	return page, nil
}

type countingPacer struct {
	gates, waits int
}

func (p *countingPacer) Gate() Gate {
	p.gates++
	return p
}

func (p *countingPacer) Wait(ctx context.Context) error {
	p.waits++
	return ctx.Err()
}

var q = youtube.Query{Kind: models.SourceKindKeyword, Ref: "go"}

func collect(t *testing.T, pages *Pages) []string {
	t.Helper()
	var ids []string
	for pages.Next(context.Background()) {
		ids = append(ids, pages.Page().Items[0].ExternalID)
	}
	return ids
}

func TestPagesStopsAtLastPage(t *testing.T) {
	s := &scriptedSearcher{totalPages: 2}
	pacer := &countingPacer{}
	pages := New(s, pacer, 5).Fetch(q)

	assert.Equal(t, []string{"v1", "v2"}, collect(t, pages))
	assert.NoError(t, pages.Err())
	assert.False(t, pages.Truncated())
	assert.Equal(t, 2, pages.Index())
	assert.Equal(t, []string{"", "t2"}, s.tokens)
	assert.Equal(t, 1, pacer.gates, "one gate per query")
	assert.Equal(t, 2, pacer.waits)
}

func TestPagesStopsAtCeiling(t *testing.T) {
	s := &scriptedSearcher{totalPages: 10}
	pages := New(s, NoDelay{}, 3).Fetch(q)

	assert.Equal(t, []string{"v1", "v2", "v3"}, collect(t, pages))
	assert.NoError(t, pages.Err())
	assert.True(t, pages.Truncated())
	assert.Len(t, s.tokens, 3)
}

func TestPagesAbortOnError(t *testing.T) {
	s := &scriptedSearcher{totalPages: 5, failAt: 3, err: youtube.ErrQuotaExceeded}
	pages := New(s, NoDelay{}, 5).Fetch(q)

	assert.Equal(t, []string{"v1", "v2"}, collect(t, pages))
	require.Error(t, pages.Err())
	assert.ErrorIs(t, pages.Err(), youtube.ErrQuotaExceeded)
	assert.Contains(t, pages.Err().Error(), "page 3")
	assert.False(t, pages.Next(context.Background()), "sequence is not restartable")
	assert.Len(t, s.tokens, 3)
}

func TestPagesErrorOnFirstPage(t *testing.T) {
	s := &scriptedSearcher{totalPages: 5, failAt: 1, err: youtube.ErrTransient}
	pages := New(s, NoDelay{}, 5).Fetch(q)

	assert.Empty(t, collect(t, pages))
	assert.ErrorIs(t, pages.Err(), youtube.ErrTransient)
	assert.Equal(t, 0, pages.Index())
}

func TestPagesWaitCancelled(t *testing.T) {
	s := &scriptedSearcher{totalPages: 5}
	pages := New(s, NewRatePacer(time.Hour), 5).Fetch(q)

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, pages.Next(ctx))
	cancel()
	assert.False(t, pages.Next(ctx))
	assert.Error(t, pages.Err())
	assert.Len(t, s.tokens, 1)
}

func TestRatePacerSpacesPagesOfOneQuery(t *testing.T) {
	const delay = 60 * time.Millisecond
	s := &scriptedSearcher{totalPages: 2}
	pages := New(s, NewRatePacer(delay), 5).Fetch(q)

	start := time.Now()
	require.True(t, pages.Next(context.Background()))
	assert.Less(t, time.Since(start), delay/2, "first page is not paced")
	require.True(t, pages.Next(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), delay-10*time.Millisecond)
}

func TestRatePacerDoesNotCarryDelayAcrossQueries(t *testing.T) {
	const delay = 100 * time.Millisecond
	f := New(&scriptedSearcher{totalPages: 1}, NewRatePacer(delay), 5)

	// Several single-page queries in a row.
	for range 3 {
		assert.Len(t, collect(t, f.Fetch(q)), 1)
	}

	f.searcher = &scriptedSearcher{totalPages: 2}
	start := time.Now()
	pages := f.Fetch(q)
	require.True(t, pages.Next(context.Background()))
	assert.Less(t, time.Since(start), delay/2, "first page of a new query is not paced")
	require.True(t, pages.Next(context.Background()))
	took := time.Since(start)
	assert.GreaterOrEqual(t, took, delay-10*time.Millisecond)
	assert.Less(t, took, 2*delay-20*time.Millisecond, "continuation waits one delay, not one per earlier query")
}

func TestNoDelayHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NoDelay{}.Gate().Wait(ctx), context.Canceled)
}
