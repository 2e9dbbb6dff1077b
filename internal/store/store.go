package store

import (
	"context"
	"errors"
	"time"

	"github.com/voyagen/techtube/internal/models"
)

var (
	// ErrNotFound is returned when a requested record does not exist (or nothing is due).
	ErrNotFound = errors.New("not found")
	// ErrLocked is returned by TryLock while another holder owns an unexpired lock record.
	ErrLocked = errors.New("lock is already held")
)

// Epoch is the updated_date of a keyword that has never been collected.
var Epoch = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

// Store defines persistence for keywords, channels, videos, tags and the hidden set.
// Dates (updated_date) are calendar days; only the year, month and day of the passed time are used.
type Store interface {
	// EnsureKeyword inserts the keyword if no keyword with the same normalized text exists.
	EnsureKeyword(ctx context.Context, text string, source models.KeywordSource, updated time.Time) error
	// DueKeyword returns the non-deleted keyword with the oldest updated_date strictly before today,
	// ties broken by insertion order. ErrNotFound when nothing is due.
	DueKeyword(ctx context.Context, today time.Time) (*models.Keyword, error)
	// MarkKeywordCollected sets the keyword's updated_date.
	MarkKeywordCollected(ctx context.Context, id int64, day time.Time) error
	// KeywordKeys returns the normalized text of every keyword, including soft-deleted ones.
	KeywordKeys(ctx context.Context) ([]string, error)
	// AddKeywords inserts keywords whose normalized text is not present yet; returns how many were inserted.
	AddKeywords(ctx context.Context, texts []string, source models.KeywordSource, updated time.Time) (int, error)
	// ListKeywords returns non-deleted keywords by insertion order.
	ListKeywords(ctx context.Context) ([]models.Keyword, error)
	// AddKeyword registers a manual keyword, restoring it if it was soft-deleted.
	AddKeyword(ctx context.Context, text string, updated time.Time) (*models.Keyword, error)
	// DeleteKeyword soft-deletes the keyword and hides videos whose title or tags contain it.
	DeleteKeyword(ctx context.Context, text string) error
	// SuggestWords returns keyword and tag texts, sorted and distinct.
	SuggestWords(ctx context.Context) ([]string, error)

	// AddChannel registers a channel; registering an existing channel updates its title.
	AddChannel(ctx context.Context, externalID, title string) (*models.Channel, error)
	// DeleteChannel removes the channel from selection. Collected videos stay.
	DeleteChannel(ctx context.Context, externalID string) error
	// ListChannels returns channels by insertion order.
	ListChannels(ctx context.Context) ([]models.Channel, error)
	// DueChannel is DueKeyword for channels.
	DueChannel(ctx context.Context, today time.Time) (*models.Channel, error)
	// MarkChannelCollected sets updated_date and the transient live status.
	MarkChannelCollected(ctx context.Context, id int64, day time.Time, isLive bool, liveVideoID *string) error

	// SaveVideos writes one page in a single transaction. Videos whose external id already exists are
	// skipped entirely (their tags are not touched). Returns the videos inserted by this call.
	SaveVideos(ctx context.Context, videos []NewVideo) ([]models.Video, error)
	// VideoIDs returns every stored external video id, hidden ones included.
	VideoIDs(ctx context.Context) ([]string, error)
	// FlagNewVideos replaces the set of videos flagged as new.
	FlagNewVideos(ctx context.Context, ids []string) error
	// ListVideos returns visible videos matching the filter, newest first, and the total before limit/offset.
	ListVideos(ctx context.Context, filter VideoFilter) ([]models.Video, int, error)
	// GetVideo returns a video by external id.
	GetVideo(ctx context.Context, externalID string) (*models.Video, error)
	// SetWatchState updates a video's watch state.
	SetWatchState(ctx context.Context, externalID string, state models.WatchState) error
	// HideVideo adds the video to the hidden set.
	HideVideo(ctx context.Context, externalID string) error
	// HideVideosByTag hides every video carrying the tag; returns the number of newly hidden videos.
	HideVideosByTag(ctx context.Context, tag string) (int64, error)

	// ResetDue makes every keyword and channel due again by setting updated_date to the day before today.
	ResetDue(ctx context.Context, today time.Time) error
	// TryLock acquires the named store-level lock record. Returns ErrLocked while it is held and unexpired.
	TryLock(ctx context.Context, name string, ttl time.Duration) (unlock func(), err error)

	Close()
}

// EmbeddingStore is implemented by stores that can hold title embeddings (Postgres with pgvector).
type EmbeddingStore interface {
	// VideosWithoutEmbeddings returns those of ids that have no embedding yet.
	VideosWithoutEmbeddings(ctx context.Context, ids []string) ([]models.Video, error)
	// StoreVideoEmbeddings sets embeddings for videos by external id. ids and vecs must align.
	StoreVideoEmbeddings(ctx context.Context, ids []string, vecs [][]float32) error
	// SimilarVideos returns visible videos nearest to the given video's embedding.
	SimilarVideos(ctx context.Context, externalID string, limit int) ([]models.Video, error)
}

// NewVideo is a normalized search result ready to be inserted.
type NewVideo struct {
	ExternalID  string
	ChannelID   string
	Title       string
	Description string
	PublishedAt time.Time
	SourceKind  models.SourceKind
	SourceRef   string
	Tags        []string
}

// VideoFilter holds optional filters for listing videos.
type VideoFilter struct {
	Query   string            // case-insensitive substring of title, or of a tag
	State   models.WatchState // empty = any
	NewOnly bool
	Limit   int // default 50, max 200
	Offset  int
}

func (f VideoFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return 50
	case f.Limit > 200:
		return 200
	}
	return f.Limit
}

const dateLayout = "2006-01-02"

func dateString(t time.Time) string {
	return t.Format(dateLayout)
}

func parseDate(s string) time.Time {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Epoch
	}
	return t
}

// keepAlive calls renew every third of ttl until the returned stop is called or renew reports
// that the lock record no longer belongs to this holder. A non-positive ttl is not renewed.
func keepAlive(ttl time.Duration, renew func(ctx context.Context) (held bool, err error)) (stop func()) {
	if ttl <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		tick := time.NewTicker(ttl / 3)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				held, err := renew(ctx)
				if err == nil && !held {
					return
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
