package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/voyagen/techtube/internal/fetcher"
	"github.com/voyagen/techtube/internal/keywords"
	"github.com/voyagen/techtube/internal/metrics"
	"github.com/voyagen/techtube/internal/models"
	"github.com/voyagen/techtube/internal/store"
	"github.com/voyagen/techtube/internal/youtube"
)

func (c *Collector) collectKeyword(ctx context.Context, cy *cycle, kw *models.Keyword) *BranchResult {
	q := youtube.Query{Kind: models.SourceKindKeyword, Ref: kw.Text}
	return c.collect(ctx, cy, q, func(_ *youtube.LiveStatus) error {
		return c.store.MarkKeywordCollected(ctx, kw.ID, cy.day)
	})
}

func (c *Collector) collectChannel(ctx context.Context, cy *cycle, ch *models.Channel) *BranchResult {
	q := youtube.Query{Kind: models.SourceKindChannel, Ref: ch.ExternalID}
	return c.collect(ctx, cy, q, func(live *youtube.LiveStatus) error {
		isLive, liveID := false, (*string)(nil)
		if live != nil && live.IsLive {
			isLive, liveID = true, &live.VideoID
		}
		return c.store.MarkChannelCollected(ctx, ch.ID, cy.day, isLive, liveID)
	})
}

// collect pages through one query, writing each page as it arrives. The record is advanced to
// the cycle day when pagination ended cleanly (last page or page ceiling). A retryable fetch
// error (quota, transient, cancellation) leaves updated_date alone so the record is retried
// next cycle; any other fetch error advances it so a dead reference cannot monopolize
// selection. Committed pages stay in both cases.
func (c *Collector) collect(ctx context.Context, cy *cycle, q youtube.Query, advance func(*youtube.LiveStatus) error) *BranchResult {
	kind := string(q.Kind)
	log := cy.log.With().Str("kind", kind).Str("query", q.Ref).Logger()
	res := &BranchResult{Ref: q.Ref}
	var live *youtube.LiveStatus

	pages := c.fetcher.Fetch(q)
	for pages.Next(ctx) {
		page := pages.Page()
		res.Pages++
		cy.summary.FetchedPages++
		metrics.PagesFetched.WithLabelValues(kind).Inc()
		if page.Live != nil && (live == nil || page.Live.IsLive && !live.IsLive) {
			live = page.Live
		}

		fresh, err := c.ingestPage(ctx, q, page)
		if err != nil {
			log.Error().Err(err).Int("page", pages.Index()).Msg("branch aborted: page write failed")
			metrics.BranchAborts.WithLabelValues(kind, "store").Inc()
			res.Error = err.Error()
			cy.fail(kind+" "+q.Ref, err)
			return res
		}
		res.Ingested += len(fresh)
		cy.summary.IngestedCount += len(fresh)
		metrics.VideosIngested.WithLabelValues(kind).Add(float64(len(fresh)))
		cy.fresh = append(cy.fresh, fresh...)
		log.Debug().Int("page", pages.Index()).Int("items", len(page.Items)).Int("fresh", len(fresh)).Msg("page ingested")
	}
	if err := pages.Err(); err != nil {
		logAbort(log, pages, err)
		metrics.BranchAborts.WithLabelValues(kind, abortReason(err)).Inc()
		res.Error = err.Error()
		cy.fail(kind+" "+q.Ref, err)
		if retryable(err) {
			return res
		}
		if err := advance(nil); err != nil {
			log.Error().Err(err).Msg("advance updated_date")
			cy.fail(kind+" "+q.Ref, err)
			return res
		}
		res.Advanced = true
		return res
	}

	res.Truncated = pages.Truncated()
	if q.Kind == models.SourceKindChannel {
		isLive := live != nil && live.IsLive
		res.Live = &isLive
	}
	if err := advance(live); err != nil {
		log.Error().Err(err).Msg("advance updated_date")
		res.Error = err.Error()
		cy.fail(kind+" "+q.Ref, err)
		return res
	}
	res.Advanced = true
	log.Info().Int("pages", res.Pages).Int("ingested", res.Ingested).Bool("truncated", res.Truncated).Msg("branch collected")
	return res
}

func logAbort(log zerolog.Logger, pages *fetcher.Pages, err error) {
	msg := "branch aborted; updated_date not advanced"
	if !retryable(err) {
		msg = "branch aborted on a non-retryable error; updated_date advanced"
	}
	log.Warn().Err(err).Int("page", pages.Index()+1).Int("committed_pages", pages.Index()).
		Str("reason", abortReason(err)).Msg(msg)
}

// retryable reports whether a fetch error may clear up on a later cycle.
func retryable(err error) bool {
	switch abortReason(err) {
	case "quota", "transient", "cancelled":
		return true
	}
	return false
}

func abortReason(err error) string {
	switch {
	case errors.Is(err, youtube.ErrQuotaExceeded):
		return "quota"
	case errors.Is(err, youtube.ErrTransient):
		return "transient"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, youtube.ErrInvalidReference):
		return "invalid_reference"
	}
	return "other"
}

// ingestPage normalizes one page and writes it in a single transaction.
// Returns only the videos that were not stored before.
func (c *Collector) ingestPage(ctx context.Context, q youtube.Query, page *youtube.Page) ([]models.Video, error) {
	videos := normalizePage(q, page)
	if len(videos) == 0 {
		return nil, nil
	}
	fresh, err := c.store.SaveVideos(ctx, videos)
	if err != nil {
		return nil, fmt.Errorf("SaveVideos: %w", err)
	}
	return fresh, nil
}

// normalizePage trims fields, drops items without an id, keeps the first of repeated ids,
// and cleans tags (at least two characters, case-insensitively distinct).
func normalizePage(q youtube.Query, page *youtube.Page) []store.NewVideo {
	seen := make(map[string]bool, len(page.Items))
	out := make([]store.NewVideo, 0, len(page.Items))
	for _, it := range page.Items {
		id := strings.TrimSpace(it.ExternalID)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, store.NewVideo{
			ExternalID:  id,
			ChannelID:   strings.TrimSpace(it.ChannelID),
			Title:       strings.TrimSpace(it.Title),
			Description: strings.TrimSpace(it.Description),
			PublishedAt: it.PublishedAt,
			SourceKind:  q.Kind,
			SourceRef:   q.Ref,
			Tags:        normalizeTags(it.Tags),
		})
	}
	return out
}

func normalizeTags(tags []string) []string {
	set := keywords.KeySet{}
	var out []string
	for _, t := range tags {
		t = keywords.Clean(t)
		if utf8.RuneCountInString(t) < 2 {
			continue
		}
		if set.Add(t) {
			out = append(out, t)
		}
	}
	return out
}
