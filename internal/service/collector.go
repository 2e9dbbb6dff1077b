package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/voyagen/techtube/internal/cache"
	"github.com/voyagen/techtube/internal/fetcher"
	"github.com/voyagen/techtube/internal/keywords"
	"github.com/voyagen/techtube/internal/metrics"
	"github.com/voyagen/techtube/internal/models"
	"github.com/voyagen/techtube/internal/store"
)

// ErrCycleInProgress is returned by RunCycle when another cycle holds the lock.
var ErrCycleInProgress = errors.New("collection cycle already in progress")

// cycleLockName is the store-level mutual-exclusion record shared by every process on the same store.
const cycleLockName = "collect-cycle"

// Locker acquires named, expiring locks. Implemented by store.Store and cache.Locker.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (unlock func(), err error)
}

// Locks takes every lock in order and releases them in reverse. The first one that is
// already held makes TryLock fail, and locks taken so far are released.
type Locks []Locker

func (ls Locks) TryLock(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	unlocks := make([]func(), 0, len(ls))
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, l := range ls {
		unlock, err := l.TryLock(ctx, name, ttl)
		if err != nil {
			release()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return release, nil
}

// JobQueue receives embedding jobs for freshly collected videos. Implemented by cache.Queue.
type JobQueue interface {
	Enqueue(ctx context.Context, job cache.EmbeddingJob) error
}

// Options tunes a Collector. Zero values get defaults.
type Options struct {
	SeedKeyword string
	LockTTL     time.Duration
	Location    *time.Location   // calendar used for updated_date
	Now         func() time.Time // clock, for tests
	Locker      Locker           // defaults to the store's lock table; extra locks go after it in Locks
	Queue       JobQueue         // optional
}

// BranchResult reports the keyword or channel branch of a cycle.
type BranchResult struct {
	Ref       string `json:"ref"`
	Pages     int    `json:"pages"`
	Ingested  int    `json:"ingested"`
	Advanced  bool   `json:"advanced"`
	Truncated bool   `json:"truncated,omitempty"`
	Live      *bool  `json:"live,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Summary is the result of one cycle.
type Summary struct {
	CycleID        string        `json:"cycle_id"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at"`
	Keyword        *BranchResult `json:"keyword,omitempty"`
	Channel        *BranchResult `json:"channel,omitempty"`
	FetchedPages   int           `json:"fetched_pages"`
	IngestedCount  int           `json:"ingested_count"`
	NewVideoCount  int           `json:"new_video_count"`
	NewVideoIDs    []string      `json:"new_video_ids"`
	PromotedCount  int           `json:"promoted_count"`
	ExtractedCount int           `json:"extracted_count"`
	Errors         []string      `json:"errors"`
}

// Collector runs collection cycles: select, fetch and ingest, promote and extract, classify.
type Collector struct {
	store     store.Store
	fetcher   *fetcher.Fetcher
	extractor keywords.Extractor
	log       zerolog.Logger
	opts      Options

	running atomic.Bool
	mu      sync.Mutex
	last    *Summary
}

// NewCollector wires a Collector.
func NewCollector(s store.Store, f *fetcher.Fetcher, ex keywords.Extractor, logger zerolog.Logger, opts Options) *Collector {
	if opts.SeedKeyword == "" {
		opts.SeedKeyword = "it"
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Minute
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Locker == nil {
		opts.Locker = s
	}
	return &Collector{
		store:     s,
		fetcher:   f,
		extractor: ex,
		log:       logger.With().Str("component", "collector").Logger(),
		opts:      opts,
	}
}

// cycle is the state passed down through one run.
type cycle struct {
	id      string
	day     time.Time
	log     zerolog.Logger
	fresh   []models.Video
	summary *Summary
}

func (cy *cycle) fail(step string, err error) {
	cy.summary.Errors = append(cy.summary.Errors, fmt.Sprintf("%s: %v", step, err))
}

// Today returns the collector's current calendar day.
func (c *Collector) Today() time.Time {
	return DayOf(c.opts.Now(), c.opts.Location)
}

// DayOf returns the calendar date of t in loc, as midnight UTC.
func DayOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Running reports whether this process is currently inside RunCycle.
func (c *Collector) Running() bool {
	return c.running.Load()
}

// Last returns the summary of the most recent cycle run by this process.
func (c *Collector) Last() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// RunCycle runs one complete cycle. Branch failures are recorded in the summary and never
// abort the cycle; an error is returned only when the lock is held, the store cannot be
// prepared, or ctx is cancelled.
func (c *Collector) RunCycle(ctx context.Context) (*Summary, error) {
	started := c.opts.Now()
	cy := &cycle{
		id:  uuid.NewString(),
		day: DayOf(started, c.opts.Location),
	}
	cy.log = c.log.With().Str("cycle_id", cy.id).Logger()
	cy.summary = &Summary{CycleID: cy.id, StartedAt: started, Errors: []string{}, NewVideoIDs: []string{}}

	unlock, err := c.opts.Locker.TryLock(ctx, cycleLockName, c.opts.LockTTL)
	if errors.Is(err, store.ErrLocked) || errors.Is(err, cache.ErrLocked) {
		metrics.CyclesTotal.WithLabelValues("skipped").Inc()
		cy.log.Info().Msg("cycle skipped: another cycle holds the lock")
		return nil, ErrCycleInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("RunCycle lock: %w", err)
	}
	defer unlock()
	c.running.Store(true)
	defer c.running.Store(false)

	cy.log.Info().Str("day", cy.day.Format(time.DateOnly)).Msg("cycle started")

	if err := c.store.EnsureKeyword(ctx, c.opts.SeedKeyword, models.KeywordSourceSeed, store.Epoch); err != nil {
		return nil, fmt.Errorf("RunCycle seed: %w", err)
	}

	kw, ch := c.selectTargets(ctx, cy)

	before, err := c.store.VideoIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("RunCycle snapshot: %w", err)
	}

	if kw != nil {
		cy.summary.Keyword = c.collectKeyword(ctx, cy, kw)
	}
	if ch != nil {
		cy.summary.Channel = c.collectChannel(ctx, cy, ch)
	}

	c.promote(ctx, cy)
	c.extract(ctx, cy)
	c.classify(ctx, cy, before)
	c.enqueueEmbeddings(ctx, cy)

	cy.summary.FinishedAt = c.opts.Now()
	elapsed := cy.summary.FinishedAt.Sub(started)
	metrics.CycleDuration.Observe(elapsed.Seconds())
	outcome := "ok"
	if len(cy.summary.Errors) > 0 {
		outcome = "partial"
	}
	metrics.CyclesTotal.WithLabelValues(outcome).Inc()

	c.mu.Lock()
	c.last = cy.summary
	c.mu.Unlock()

	cy.log.Info().
		Int("pages", cy.summary.FetchedPages).
		Int("ingested", cy.summary.IngestedCount).
		Int("new", cy.summary.NewVideoCount).
		Int("promoted", cy.summary.PromotedCount).
		Int("extracted", cy.summary.ExtractedCount).
		Int("errors", len(cy.summary.Errors)).
		Dur("took", elapsed).
		Msg("cycle finished")

	if err := ctx.Err(); err != nil {
		return cy.summary, fmt.Errorf("RunCycle: %w", err)
	}
	return cy.summary, nil
}

// enqueueEmbeddings hands fresh video ids to the embedding worker, when one is configured.
func (c *Collector) enqueueEmbeddings(ctx context.Context, cy *cycle) {
	if c.opts.Queue == nil || len(cy.fresh) == 0 {
		return
	}
	ids := make([]string, len(cy.fresh))
	for i, v := range cy.fresh {
		ids[i] = v.ExternalID
	}
	if err := c.opts.Queue.Enqueue(ctx, cache.EmbeddingJob{CycleID: cy.id, VideoIDs: ids}); err != nil {
		cy.log.Warn().Err(err).Msg("enqueue embedding job")
	}
}
