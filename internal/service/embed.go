package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/voyagen/techtube/internal/cache"
	"github.com/voyagen/techtube/internal/embedding"
	"github.com/voyagen/techtube/internal/metrics"
	"github.com/voyagen/techtube/internal/models"
	"github.com/voyagen/techtube/internal/store"
)

// TextEmbedder turns texts into vectors. Implemented by embedding.Client.
type TextEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string, inputType string, batchSize int) ([][]float32, error)
}

// JobSource yields embedding jobs. Implemented by cache.Queue.
type JobSource interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*cache.EmbeddingJob, error)
}

// Embedder stores title embeddings for collected videos so similar videos can be looked up.
type Embedder struct {
	store    store.EmbeddingStore
	embedder TextEmbedder
	log      zerolog.Logger
}

func NewEmbedder(s store.EmbeddingStore, e TextEmbedder, logger zerolog.Logger) *Embedder {
	return &Embedder{store: s, embedder: e, log: logger.With().Str("component", "embedder").Logger()}
}

// Refresh embeds those of ids that have no embedding yet and returns how many were stored.
func (e *Embedder) Refresh(ctx context.Context, ids []string) (int, error) {
	videos, err := e.store.VideosWithoutEmbeddings(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("VideosWithoutEmbeddings: %w", err)
	}
	if len(videos) == 0 {
		return 0, nil
	}
	texts := make([]string, len(videos))
	keys := make([]string, len(videos))
	for i, v := range videos {
		texts[i] = embeddingText(v)
		keys[i] = v.ExternalID
	}
	vecs, err := e.embedder.EmbedBatch(ctx, texts, embedding.InputDocument, 0)
	if err != nil {
		return 0, fmt.Errorf("EmbedBatch: %w", err)
	}
	if err := e.store.StoreVideoEmbeddings(ctx, keys, vecs); err != nil {
		return 0, fmt.Errorf("StoreVideoEmbeddings: %w", err)
	}
	metrics.EmbeddedVideos.Add(float64(len(keys)))
	return len(keys), nil
}

// embeddingText is what gets embedded for a video: its title followed by its tags.
func embeddingText(v models.Video) string {
	if len(v.Tags) == 0 {
		return v.Title
	}
	return v.Title + "\n" + strings.Join(v.Tags, ", ")
}

// Run consumes jobs until ctx is done. Failed jobs are logged and dropped; the ids are picked
// up again only if a later job names them.
func (e *Embedder) Run(ctx context.Context, jobs JobSource) {
	e.log.Info().Msg("embedding worker started")
	for {
		if ctx.Err() != nil {
			e.log.Info().Msg("embedding worker stopping")
			return
		}
		job, err := jobs.Dequeue(ctx, 5*time.Second)
		if err != nil {
			e.log.Error().Err(err).Msg("dequeue")
			select {
			case <-ctx.Done():
			case <-time.After(2 * time.Second):
			}
			continue
		}
		if job == nil {
			continue
		}
		start := time.Now()
		n, err := e.Refresh(ctx, job.VideoIDs)
		if err != nil {
			e.log.Error().Err(err).Str("cycle_id", job.CycleID).Int("videos", len(job.VideoIDs)).Msg("embedding job failed")
			continue
		}
		e.log.Info().Str("cycle_id", job.CycleID).Int("embedded", n).Dur("took", time.Since(start)).Msg("embedding job done")
	}
}
