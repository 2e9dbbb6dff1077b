package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voyagen/techtube/internal/cache"
	"github.com/voyagen/techtube/internal/models"
)

type fakeEmbeddingStore struct {
	videos map[string]models.Video
	stored map[string][]float32
}

func (s *fakeEmbeddingStore) VideosWithoutEmbeddings(_ context.Context, ids []string) ([]models.Video, error) {
	var out []models.Video
	for _, id := range ids {
		v, ok := s.videos[id]
		if _, done := s.stored[id]; ok && !done {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *fakeEmbeddingStore) StoreVideoEmbeddings(_ context.Context, ids []string, vecs [][]float32) error {
	for i, id := range ids {
		s.stored[id] = vecs[i]
	}
	return nil
}

func (s *fakeEmbeddingStore) SimilarVideos(context.Context, string, int) ([]models.Video, error) {
	return nil, nil
}

type fakeTextEmbedder struct {
	texts []string
	err   error
}

func (e *fakeTextEmbedder) EmbedBatch(_ context.Context, texts []string, _ string, _ int) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.texts = append(e.texts, texts...)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i)}
	}
	return out, nil
}

func newFakeEmbeddingStore() *fakeEmbeddingStore {
	return &fakeEmbeddingStore{
		videos: map[string]models.Video{
			"a": {ExternalID: "a", Title: "Intro to Go", Tags: []string{"go", "tutorial"}},
			"b": {ExternalID: "b", Title: "Rust ownership"},
		},
		stored: map[string][]float32{},
	}
}

func TestEmbedderRefresh(t *testing.T) {
	st := newFakeEmbeddingStore()
	em := &fakeTextEmbedder{}
	e := NewEmbedder(st, em, zerolog.Nop())

	n, err := e.Refresh(context.Background(), []string{"a", "b", "missing"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"Intro to Go\ngo, tutorial", "Rust ownership"}, em.texts)
	assert.Len(t, st.stored, 2)

	n, err = e.Refresh(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 0, n, "already embedded videos are skipped")
}

func TestEmbedderRefreshError(t *testing.T) {
	st := newFakeEmbeddingStore()
	e := NewEmbedder(st, &fakeTextEmbedder{err: errors.New("api down")}, zerolog.Nop())

	_, err := e.Refresh(context.Background(), []string{"a"})
	assert.ErrorContains(t, err, "api down")
	assert.Empty(t, st.stored)
}

type sliceJobs struct {
	jobs   []*cache.EmbeddingJob
	cancel context.CancelFunc
}

func (s *sliceJobs) Dequeue(ctx context.Context, _ time.Duration) (*cache.EmbeddingJob, error) {
	if len(s.jobs) == 0 {
		s.cancel()
		return nil, nil
	}
	job := s.jobs[0]
	s.jobs = s.jobs[1:]
	return job, nil
}

func TestEmbedderRunDrainsJobs(t *testing.T) {
	st := newFakeEmbeddingStore()
	e := NewEmbedder(st, &fakeTextEmbedder{}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	jobs := &sliceJobs{
		jobs:   []*cache.EmbeddingJob{{CycleID: "c1", VideoIDs: []string{"a"}}, {CycleID: "c2", VideoIDs: []string{"b"}}},
		cancel: cancel,
	}

	e.Run(ctx, jobs)
	assert.Len(t, st.stored, 2)
}
