package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voyagen/techtube/internal/cache"
	"github.com/voyagen/techtube/internal/models"
	"github.com/voyagen/techtube/internal/store"
	"github.com/voyagen/techtube/internal/youtube"
)

func TestRunCycleSeedEndToEnd(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	searcher := newFakeSearcher()
	searcher.script("it", page("a", 5, "Kubernetes", "kubernetes", "Go"), page("b", 5))
	queue := &recordingQueue{}
	c := newTestCollector(t, s, searcher, Options{Queue: queue})

	sum, err := c.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, sum.FetchedPages)
	assert.Equal(t, 10, sum.IngestedCount)
	assert.Equal(t, 10, sum.NewVideoCount)
	assert.Len(t, sum.NewVideoIDs, 10)
	assert.Empty(t, sum.Errors)
	require.NotNil(t, sum.Keyword)
	assert.Equal(t, "it", sum.Keyword.Ref)
	assert.True(t, sum.Keyword.Advanced)
	assert.Nil(t, sum.Channel)

	ids, err := s.VideoIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 10)

	seed := keywordByText(t, s, "it")
	require.NotNil(t, seed)
	assert.Equal(t, testToday, seed.UpdatedDate.Format(time.DateOnly))
	assert.Equal(t, models.KeywordSourceSeed, seed.Source)

	// Tags {Kubernetes, kubernetes, Go} promote to two keywords.
	assert.Equal(t, 2, sum.PromotedCount)
	k8s := keywordByText(t, s, "kubernetes")
	require.NotNil(t, k8s)
	assert.Equal(t, "Kubernetes", k8s.Text)
	assert.Equal(t, models.KeywordSourceTag, k8s.Source)
	assert.Equal(t, "2026-03-09", k8s.UpdatedDate.Format(time.DateOnly))

	// Tag-less videos produced local-heuristic keywords, at most 5 per video, minus duplicates.
	assert.LessOrEqual(t, sum.ExtractedCount, 5*5)
	assert.Greater(t, sum.ExtractedCount, 0)

	newOnly, total, err := s.ListVideos(ctx, store.VideoFilter{NewOnly: true, Limit: 50})
	require.NoError(t, err)
	assert.Equal(t, 10, total)
	assert.Len(t, newOnly, 10)

	require.Len(t, queue.jobs, 1)
	assert.Len(t, queue.jobs[0].VideoIDs, 10)
	assert.Equal(t, sum.CycleID, queue.jobs[0].CycleID)
	assert.Same(t, sum, c.Last())
}

func TestRunCyclePartialPageResilience(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	searcher := newFakeSearcher()
	searcher.script("it", page("a", 5), page("b", 5), page("c", 5), page("d", 5), page("e", 5))
	searcher.failAt["it"] = 3
	searcher.err = youtube.ErrQuotaExceeded
	c := newTestCollector(t, s, searcher, Options{})

	sum, err := c.RunCycle(ctx)
	require.NoError(t, err, "a branch failure never fails the cycle")

	ids, err := s.VideoIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 10, "pages 1-2 stay committed")

	seed := keywordByText(t, s, "it")
	require.NotNil(t, seed)
	assert.Equal(t, "1970-01-01", seed.UpdatedDate.Format(time.DateOnly))

	require.NotNil(t, sum.Keyword)
	assert.False(t, sum.Keyword.Advanced)
	assert.Equal(t, 2, sum.Keyword.Pages)
	assert.Contains(t, sum.Keyword.Error, "page 3")
	assert.Len(t, sum.Errors, 1)
	assert.Equal(t, 10, sum.NewVideoCount)
	assert.Equal(t, []string{"keyword:it#1", "keyword:it#2", "keyword:it#3"}, searcher.calls)
}

func TestRunCycleFirstPageErrorDoesNotAdvance(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	searcher := newFakeSearcher()
	searcher.script("it", page("a", 5))
	searcher.failAt["it"] = 1
	searcher.err = youtube.ErrTransient
	c := newTestCollector(t, s, searcher, Options{})

	sum, err := c.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.FetchedPages)
	assert.False(t, sum.Keyword.Advanced)
	assert.Equal(t, "1970-01-01", keywordByText(t, s, "it").UpdatedDate.Format(time.DateOnly))
}

func TestRunCyclePageCeilingAdvances(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	searcher := newFakeSearcher()
	var pages []*youtube.Page
	for _, p := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		pages = append(pages, page(p, 1))
	}
	searcher.script("it", pages...)
	c := newTestCollector(t, s, searcher, Options{})

	sum, err := c.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, sum.FetchedPages)
	assert.True(t, sum.Keyword.Truncated)
	assert.True(t, sum.Keyword.Advanced)
	assert.Equal(t, testToday, keywordByText(t, s, "it").UpdatedDate.Format(time.DateOnly))
}

func TestSelectorPicksOldestThenInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.EnsureKeyword(ctx, "it", models.KeywordSourceSeed, day("2026-03-05")))
	_, err := s.AddKeywords(ctx, []string{"newer"}, models.KeywordSourceManual, day("2026-02-01"))
	require.NoError(t, err)
	_, err = s.AddKeywords(ctx, []string{"first", "second"}, models.KeywordSourceManual, day("2026-01-01"))
	require.NoError(t, err)

	searcher := newFakeSearcher()
	c := newTestCollector(t, s, searcher, Options{})

	order := []string{"first", "second", "newer", "it"}
	for i, want := range order {
		sum, err := c.RunCycle(ctx)
		require.NoError(t, err)
		require.NotNil(t, sum.Keyword, "cycle %d", i)
		assert.Equal(t, want, sum.Keyword.Ref, "cycle %d", i)
	}
}

func TestSelectorDailySkip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.EnsureKeyword(ctx, "it", models.KeywordSourceSeed, day(testToday)))
	ch, err := s.AddChannel(ctx, "UC1", "chan")
	require.NoError(t, err)
	require.NoError(t, s.MarkChannelCollected(ctx, ch.ID, day(testToday), false, nil))

	searcher := newFakeSearcher()
	c := newTestCollector(t, s, searcher, Options{})
	sum, err := c.RunCycle(ctx)
	require.NoError(t, err)
	assert.Nil(t, sum.Keyword)
	assert.Nil(t, sum.Channel)
	assert.Empty(t, searcher.calls)
	assert.Empty(t, sum.Errors)
}

func TestRunCycleChannelBranch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.EnsureKeyword(ctx, "it", models.KeywordSourceSeed, day(testToday)))
	_, err := s.AddChannel(ctx, "UCchan", "A channel")
	require.NoError(t, err)

	live := page("live", 2)
	live.Live = &youtube.LiveStatus{IsLive: true, VideoID: "live-1"}
	searcher := newFakeSearcher()
	searcher.script("UCchan", live)
	c := newTestCollector(t, s, searcher, Options{})

	sum, err := c.RunCycle(ctx)
	require.NoError(t, err)
	require.NotNil(t, sum.Channel)
	assert.True(t, sum.Channel.Advanced)
	require.NotNil(t, sum.Channel.Live)
	assert.True(t, *sum.Channel.Live)

	chans, err := s.ListChannels(ctx)
	require.NoError(t, err)
	require.Len(t, chans, 1)
	assert.True(t, chans[0].IsLive)
	require.NotNil(t, chans[0].LiveVideoID)
	assert.Equal(t, "live-1", *chans[0].LiveVideoID)
	assert.Equal(t, testToday, chans[0].UpdatedDate.Format(time.DateOnly))

	v, err := s.GetVideo(ctx, "live-1")
	require.NoError(t, err)
	assert.Equal(t, models.SourceKindChannel, v.SourceKind)
	assert.Equal(t, "UCchan", v.SourceRef)
}

func TestRunCyclePromotionDedup(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.AddKeywords(ctx, []string{"ai"}, models.KeywordSourceManual, day(testToday))
	require.NoError(t, err)

	searcher := newFakeSearcher()
	searcher.script("it", page("a", 1, "AI", "ai", "Cloud"))
	c := newTestCollector(t, s, searcher, Options{})

	sum, err := c.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.PromotedCount)

	list, err := s.ListKeywords(ctx)
	require.NoError(t, err)
	var texts []string
	for _, k := range list {
		texts = append(texts, k.Text)
	}
	assert.ElementsMatch(t, []string{"ai", "it", "Cloud"}, texts)
}

type failingExtractor struct{ calls int }

func (f *failingExtractor) Extract(context.Context, string, string) ([]string, error) {
	f.calls++
	return nil, errors.New("both paths down")
}

func TestRunCycleExtractionFailureIsNonFatal(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	searcher := newFakeSearcher()
	searcher.script("it", page("a", 3))
	c := newTestCollector(t, s, searcher, Options{})
	ex := &failingExtractor{}
	c.extractor = ex

	sum, err := c.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, ex.calls, "one attempt per tag-less video")
	assert.Equal(t, 0, sum.ExtractedCount)
	assert.Empty(t, sum.Errors)
	assert.Equal(t, 3, sum.NewVideoCount)
}

func TestRunCycleLockHeld(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := newTestCollector(t, s, newFakeSearcher(), Options{})

	unlock, err := s.TryLock(ctx, cycleLockName, time.Minute)
	require.NoError(t, err)

	_, err = c.RunCycle(ctx)
	assert.ErrorIs(t, err, ErrCycleInProgress)

	unlock()
	_, err = c.RunCycle(ctx)
	assert.NoError(t, err)
}

func TestRunCycleSecondRunSeesNoNewVideos(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	searcher := newFakeSearcher()
	searcher.script("it", page("a", 3))
	c := newTestCollector(t, s, searcher, Options{})

	first, err := c.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, first.NewVideoCount)

	// ResetDue dates everything yesterday, so "it" (oldest id) is collected again today.
	require.NoError(t, s.ResetDue(ctx, day(testToday)))
	second, err := c.RunCycle(ctx)
	require.NoError(t, err)
	require.NotNil(t, second.Keyword)
	assert.Equal(t, "it", second.Keyword.Ref)
	assert.Equal(t, 0, second.NewVideoCount)

	newOnly, _, err := s.ListVideos(ctx, store.VideoFilter{NewOnly: true})
	require.NoError(t, err)
	assert.Empty(t, newOnly, "new flags are replaced each cycle")
}

func TestSelectorChannelOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.EnsureKeyword(ctx, "it", models.KeywordSourceSeed, day(testToday)))

	ids := map[string]int64{}
	for _, ref := range []string{"UCrecent", "UColder", "UCnever1", "UCnever2"} {
		ch, err := s.AddChannel(ctx, ref, ref)
		require.NoError(t, err)
		ids[ref] = ch.ID
	}
	require.NoError(t, s.MarkChannelCollected(ctx, ids["UCrecent"], day("2026-03-05"), false, nil))
	require.NoError(t, s.MarkChannelCollected(ctx, ids["UColder"], day("2026-02-01"), false, nil))

	c := newTestCollector(t, s, newFakeSearcher(), Options{})
	for i, want := range []string{"UCnever1", "UCnever2", "UColder", "UCrecent"} {
		sum, err := c.RunCycle(ctx)
		require.NoError(t, err)
		require.NotNil(t, sum.Channel, "cycle %d", i)
		assert.Equal(t, want, sum.Channel.Ref, "cycle %d", i)
	}

	sum, err := c.RunCycle(ctx)
	require.NoError(t, err)
	assert.Nil(t, sum.Channel, "every channel is collected for today")
}

func TestRunCycleDeadChannelDoesNotBlockOthers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.EnsureKeyword(ctx, "it", models.KeywordSourceSeed, day(testToday)))
	_, err := s.AddChannel(ctx, "UCdead", "gone")
	require.NoError(t, err)
	_, err = s.AddChannel(ctx, "UClive", "alive")
	require.NoError(t, err)

	searcher := newFakeSearcher()
	searcher.script("UClive", page("live", 2))
	searcher.failAt["UCdead"] = 1
	searcher.err = youtube.ErrInvalidReference
	c := newTestCollector(t, s, searcher, Options{})

	first, err := c.RunCycle(ctx)
	require.NoError(t, err)
	require.NotNil(t, first.Channel)
	assert.Equal(t, "UCdead", first.Channel.Ref)
	assert.True(t, first.Channel.Advanced, "a reference that no longer resolves is dated anyway")
	assert.NotEmpty(t, first.Channel.Error)
	assert.Len(t, first.Errors, 1)

	second, err := c.RunCycle(ctx)
	require.NoError(t, err)
	require.NotNil(t, second.Channel)
	assert.Equal(t, "UClive", second.Channel.Ref)
	assert.Equal(t, 2, second.Channel.Ingested)
	assert.Equal(t, []string{"channel:UCdead#1", "channel:UClive#1"}, searcher.calls)
}

func TestRunCycleQuotaErrorKeepsChannelDue(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.EnsureKeyword(ctx, "it", models.KeywordSourceSeed, day(testToday)))
	_, err := s.AddChannel(ctx, "UCbusy", "busy")
	require.NoError(t, err)

	searcher := newFakeSearcher()
	searcher.failAt["UCbusy"] = 1
	searcher.err = youtube.ErrQuotaExceeded
	c := newTestCollector(t, s, searcher, Options{})

	sum, err := c.RunCycle(ctx)
	require.NoError(t, err)
	require.NotNil(t, sum.Channel)
	assert.False(t, sum.Channel.Advanced)

	chans, err := s.ListChannels(ctx)
	require.NoError(t, err)
	require.Len(t, chans, 1)
	assert.True(t, chans[0].UpdatedDate.Before(day(testToday)))
}

// heldLocker reports every lock as taken.
type heldLocker struct{}

func (heldLocker) TryLock(context.Context, string, time.Duration) (func(), error) {
	return nil, cache.ErrLocked
}

func TestLocksReleaseStoreLockWhenLaterLockIsHeld(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := newTestCollector(t, s, newFakeSearcher(), Options{Locker: Locks{s, heldLocker{}}})

	_, err := c.RunCycle(ctx)
	assert.ErrorIs(t, err, ErrCycleInProgress)

	unlock, err := s.TryLock(ctx, cycleLockName, time.Minute)
	require.NoError(t, err, "store lock is released when a later lock fails")
	unlock()
}

func TestLocksStoreRecordExcludesProcessWithoutRedis(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	withRedis := Locks{s, Locks{}}

	unlock, err := withRedis.TryLock(ctx, cycleLockName, time.Minute)
	require.NoError(t, err)

	plain := newTestCollector(t, s, newFakeSearcher(), Options{})
	_, err = plain.RunCycle(ctx)
	assert.ErrorIs(t, err, ErrCycleInProgress)

	unlock()
	_, err = plain.RunCycle(ctx)
	assert.NoError(t, err)
}
