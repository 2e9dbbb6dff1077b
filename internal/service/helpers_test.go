package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/voyagen/techtube/internal/cache"
	"github.com/voyagen/techtube/internal/fetcher"
	"github.com/voyagen/techtube/internal/keywords"
	"github.com/voyagen/techtube/internal/models"
	"github.com/voyagen/techtube/internal/store"
	"github.com/voyagen/techtube/internal/youtube"
)

// testNow is the collector clock in tests; its calendar day is 2026-03-10.
var testNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

const testToday = "2026-03-10"

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func newTestStore(t *testing.T) *store.SQLite {
	t.Helper()
	s, err := store.NewSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

// fakeSearcher serves scripted pages per query ref. Page tokens are "p<index>".
type fakeSearcher struct {
	mu     sync.Mutex
	pages  map[string][]*youtube.Page
	failAt map[string]int // 1-based page that fails
	err    error
	calls  []string
}

func newFakeSearcher() *fakeSearcher {
	return &fakeSearcher{pages: map[string][]*youtube.Page{}, failAt: map[string]int{}}
}

// script sets the pages for ref and links them with continuation tokens.
func (f *fakeSearcher) script(ref string, pages ...*youtube.Page) {
	for i, p := range pages {
		p.NextPageToken = ""
		if i+1 < len(pages) {
			p.NextPageToken = "p" + strconv.Itoa(i+1)
		}
	}
	f.pages[ref] = pages
}

func (f *fakeSearcher) Search(_ context.Context, q youtube.Query, token string) (*youtube.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := 0
	if token != "" {
		idx, _ = strconv.Atoi(strings.TrimPrefix(token, "p"))
	}
	f.calls = append(f.calls, fmt.Sprintf("%s#%d", q, idx+1))
	if f.failAt[q.Ref] == idx+1 {
		return nil, f.err
	}
	pages := f.pages[q.Ref]
	if idx >= len(pages) {
		return &youtube.Page{}, nil
	}
	return pages[idx], nil
}

// page builds n items with ids prefix-1..prefix-n, each carrying tags.
func page(prefix string, n int, tags ...string) *youtube.Page {
	p := &youtube.Page{}
	for i := 1; i <= n; i++ {
		p.Items = append(p.Items, youtube.Item{
			ExternalID:  fmt.Sprintf("%s-%d", prefix, i),
			ChannelID:   "UCtest",
			Title:       fmt.Sprintf("Kubernetes operator tutorial part %d", i),
			Description: "building controllers in go",
			PublishedAt: testNow.Add(-time.Duration(i) * time.Hour),
			Tags:        tags,
		})
	}
	return p
}

func newTestCollector(t *testing.T, s store.Store, searcher youtube.Searcher, opts Options) *Collector {
	t.Helper()
	if opts.Now == nil {
		opts.Now = func() time.Time { return testNow }
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	f := fetcher.New(searcher, fetcher.NoDelay{}, 5)
	return NewCollector(s, f, keywords.NewLocal(5), zerolog.Nop(), opts)
}

func keywordByText(t *testing.T, s store.Store, text string) *models.Keyword {
	t.Helper()
	list, err := s.ListKeywords(context.Background())
	require.NoError(t, err)
	for i := range list {
		if keywords.Normalize(list[i].Text) == keywords.Normalize(text) {
			return &list[i]
		}
	}
	return nil
}

type recordingQueue struct {
	jobs []cache.EmbeddingJob
}

func (q *recordingQueue) Enqueue(_ context.Context, job cache.EmbeddingJob) error {
	q.jobs = append(q.jobs, job)
	return nil
}
