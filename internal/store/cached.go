package store

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/voyagen/techtube/internal/cache"
	"github.com/voyagen/techtube/internal/models"
)

// Cache TTLs for different entity types.
const (
	ttlKeywords    = 2 * time.Minute
	ttlChannels    = 2 * time.Minute
	ttlVideos      = 1 * time.Minute
	ttlSuggestions = 5 * time.Minute
)

const (
	keyKeywords    = "keywords:all"
	keyChannels    = "channels:all"
	keySuggestions = "suggestions:all"
	patternVideos  = "videos:*"
)

// CachedStore wraps a Store with a Redis caching layer.
// Display reads are served from cache when possible;
// write operations invalidate the relevant cache keys.
// Everything the collector reads (due records, keyword keys, id snapshots) bypasses the cache.
type CachedStore struct {
	Store
	cache *cache.Redis
}

// NewCachedStore creates a CachedStore that wraps inner with Redis caching.
func NewCachedStore(inner Store, c *cache.Redis) *CachedStore {
	return &CachedStore{Store: inner, cache: c}
}

// --- cached read operations ---

func (c *CachedStore) ListKeywords(ctx context.Context) ([]models.Keyword, error) {
	return cached(ctx, c, keyKeywords, ttlKeywords, func() ([]models.Keyword, error) {
		return c.Store.ListKeywords(ctx)
	})
}

func (c *CachedStore) ListChannels(ctx context.Context) ([]models.Channel, error) {
	return cached(ctx, c, keyChannels, ttlChannels, func() ([]models.Channel, error) {
		return c.Store.ListChannels(ctx)
	})
}

func (c *CachedStore) SuggestWords(ctx context.Context) ([]string, error) {
	return cached(ctx, c, keySuggestions, ttlSuggestions, func() ([]string, error) {
		return c.Store.SuggestWords(ctx)
	})
}

// videoListResult is a helper type to cache the ListVideos tuple.
type videoListResult struct {
	Videos []models.Video `json:"videos"`
	Total  int            `json:"total"`
}

func (c *CachedStore) ListVideos(ctx context.Context, filter VideoFilter) ([]models.Video, int, error) {
	key := "videos:" + filterHash(filter)
	v, err := cached(ctx, c, key, ttlVideos, func() (videoListResult, error) {
		videos, total, err := c.Store.ListVideos(ctx, filter)
		return videoListResult{Videos: videos, Total: total}, err
	})
	if err != nil {
		return nil, 0, err
	}
	return v.Videos, v.Total, nil
}

// cached serves key from Redis, falling back to load and populating the cache.
func cached[T any](ctx context.Context, c *CachedStore, key string, ttl time.Duration, load func() (T, error)) (T, error) {
	if v, err := cache.Get[T](ctx, c.cache, key); err == nil {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return v, err
	}
	if err := cache.Set(ctx, c.cache, key, v, ttl); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache: set")
	}
	return v, nil
}

// --- write operations with cache invalidation ---

func (c *CachedStore) EnsureKeyword(ctx context.Context, text string, source models.KeywordSource, updated time.Time) error {
	if err := c.Store.EnsureKeyword(ctx, text, source, updated); err != nil {
		return err
	}
	c.invalidate(ctx, keyKeywords, keySuggestions)
	return nil
}

func (c *CachedStore) MarkKeywordCollected(ctx context.Context, id int64, day time.Time) error {
	if err := c.Store.MarkKeywordCollected(ctx, id, day); err != nil {
		return err
	}
	c.invalidate(ctx, keyKeywords)
	return nil
}

func (c *CachedStore) AddKeywords(ctx context.Context, texts []string, source models.KeywordSource, updated time.Time) (int, error) {
	n, err := c.Store.AddKeywords(ctx, texts, source, updated)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.invalidate(ctx, keyKeywords, keySuggestions)
	}
	return n, nil
}

func (c *CachedStore) AddKeyword(ctx context.Context, text string, updated time.Time) (*models.Keyword, error) {
	k, err := c.Store.AddKeyword(ctx, text, updated)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, keyKeywords, keySuggestions)
	return k, nil
}

func (c *CachedStore) DeleteKeyword(ctx context.Context, text string) error {
	if err := c.Store.DeleteKeyword(ctx, text); err != nil {
		return err
	}
	c.invalidate(ctx, keyKeywords, keySuggestions)
	c.invalidatePattern(ctx, patternVideos)
	return nil
}

func (c *CachedStore) AddChannel(ctx context.Context, externalID, title string) (*models.Channel, error) {
	ch, err := c.Store.AddChannel(ctx, externalID, title)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, keyChannels)
	return ch, nil
}

func (c *CachedStore) DeleteChannel(ctx context.Context, externalID string) error {
	if err := c.Store.DeleteChannel(ctx, externalID); err != nil {
		return err
	}
	c.invalidate(ctx, keyChannels)
	return nil
}

func (c *CachedStore) MarkChannelCollected(ctx context.Context, id int64, day time.Time, isLive bool, liveVideoID *string) error {
	if err := c.Store.MarkChannelCollected(ctx, id, day, isLive, liveVideoID); err != nil {
		return err
	}
	c.invalidate(ctx, keyChannels)
	return nil
}

func (c *CachedStore) SaveVideos(ctx context.Context, videos []NewVideo) ([]models.Video, error) {
	fresh, err := c.Store.SaveVideos(ctx, videos)
	if err != nil {
		return nil, err
	}
	if len(fresh) > 0 {
		c.invalidate(ctx, keySuggestions)
		c.invalidatePattern(ctx, patternVideos)
	}
	return fresh, nil
}

func (c *CachedStore) FlagNewVideos(ctx context.Context, ids []string) error {
	if err := c.Store.FlagNewVideos(ctx, ids); err != nil {
		return err
	}
	c.invalidatePattern(ctx, patternVideos)
	return nil
}

func (c *CachedStore) SetWatchState(ctx context.Context, externalID string, state models.WatchState) error {
	if err := c.Store.SetWatchState(ctx, externalID, state); err != nil {
		return err
	}
	c.invalidatePattern(ctx, patternVideos)
	return nil
}

func (c *CachedStore) HideVideo(ctx context.Context, externalID string) error {
	if err := c.Store.HideVideo(ctx, externalID); err != nil {
		return err
	}
	c.invalidatePattern(ctx, patternVideos)
	return nil
}

func (c *CachedStore) HideVideosByTag(ctx context.Context, tag string) (int64, error) {
	n, err := c.Store.HideVideosByTag(ctx, tag)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.invalidatePattern(ctx, patternVideos)
	}
	return n, nil
}

func (c *CachedStore) ResetDue(ctx context.Context, today time.Time) error {
	if err := c.Store.ResetDue(ctx, today); err != nil {
		return err
	}
	c.invalidate(ctx, keyKeywords, keyChannels)
	return nil
}

// --- helpers ---

// invalidate deletes exact cache keys, logging any errors.
func (c *CachedStore) invalidate(ctx context.Context, keys ...string) {
	if err := cache.Del(ctx, c.cache, keys...); err != nil && !errors.Is(err, redis.Nil) {
		log.Warn().Err(err).Strs("keys", keys).Msg("cache: del")
	}
}

// invalidatePattern deletes all keys matching the given glob patterns.
func (c *CachedStore) invalidatePattern(ctx context.Context, patterns ...string) {
	for _, p := range patterns {
		if err := cache.DelPattern(ctx, c.cache, p); err != nil {
			log.Warn().Err(err).Str("pattern", p).Msg("cache: del pattern")
		}
	}
}

// filterHash produces a short deterministic hash for a VideoFilter so it
// can be used as part of a cache key.
func filterHash(f VideoFilter) string {
	raw := fmt.Sprintf("%s|%s|%v|%d|%d", f.Query, f.State, f.NewOnly, f.limit(), f.Offset)
	h := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", h[:8])
}
