package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voyagen/techtube/internal/models"
	"github.com/voyagen/techtube/internal/youtube"
)

func TestIngestPageIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := newTestCollector(t, s, newFakeSearcher(), Options{})
	q := youtube.Query{Kind: models.SourceKindKeyword, Ref: "go"}
	p := page("v", 4, "Go", "golang")

	fresh, err := c.ingestPage(ctx, q, p)
	require.NoError(t, err)
	assert.Len(t, fresh, 4)

	again, err := c.ingestPage(ctx, q, p)
	require.NoError(t, err)
	assert.Empty(t, again)

	ids, err := s.VideoIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 4)
	v, err := s.GetVideo(ctx, "v-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Go", "golang"}, v.Tags)
}

func TestIngestPageTagsImmutable(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := newTestCollector(t, s, newFakeSearcher(), Options{})
	q := youtube.Query{Kind: models.SourceKindKeyword, Ref: "go"}

	_, err := c.ingestPage(ctx, q, page("v", 1, "first"))
	require.NoError(t, err)
	_, err = c.ingestPage(ctx, q, page("v", 1, "second"))
	require.NoError(t, err)

	v, err := s.GetVideo(ctx, "v-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"first"}, v.Tags)
}

func TestNormalizePage(t *testing.T) {
	q := youtube.Query{Kind: models.SourceKindChannel, Ref: "UC1"}
	p := &youtube.Page{Items: []youtube.Item{
		{ExternalID: " a ", Title: "  Title  ", Tags: []string{" Go ", "go", "x", "", "Cloud  Native"}},
		{ExternalID: "a", Title: "duplicate"},
		{ExternalID: "   ", Title: "no id"},
		{ExternalID: "b", Title: "B"},
	}}
	got := normalizePage(q, p)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ExternalID)
	assert.Equal(t, "Title", got[0].Title)
	assert.Equal(t, []string{"Go", "Cloud Native"}, got[0].Tags)
	assert.Equal(t, models.SourceKindChannel, got[0].SourceKind)
	assert.Equal(t, "UC1", got[0].SourceRef)
	assert.Equal(t, "b", got[1].ExternalID)
	assert.Empty(t, got[1].Tags)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, []string{"v3"}, Classify([]string{"v1", "v2"}, []string{"v3", "v1", "v2"}))
	assert.Equal(t, []string{}, Classify([]string{"v1"}, []string{"v1"}))
	assert.Equal(t, []string{"a", "b"}, Classify(nil, []string{"b", "a", "b"}))
}
