package service

import (
	"context"

	"github.com/voyagen/techtube/internal/metrics"
	"github.com/voyagen/techtube/internal/models"
)

// extract derives keywords for fresh videos that arrived without tags. A failed extraction
// leaves that video keyword-less and is not retried this cycle.
func (c *Collector) extract(ctx context.Context, cy *cycle) {
	if c.extractor == nil {
		return
	}
	var candidates []string
	for _, v := range cy.fresh {
		if len(v.Tags) > 0 {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		out, err := c.extractor.Extract(ctx, v.Title, v.Description)
		switch {
		case err != nil:
			metrics.Extractions.WithLabelValues("error").Inc()
			cy.log.Warn().Err(err).Str("video_id", v.ExternalID).Msg("keyword extraction failed")
			continue
		case len(out) == 0:
			metrics.Extractions.WithLabelValues("empty").Inc()
			continue
		}
		metrics.Extractions.WithLabelValues("ok").Inc()
		candidates = append(candidates, out...)
	}
	if len(candidates) == 0 {
		return
	}
	n, err := c.addNovelKeywords(ctx, cy, candidates, models.KeywordSourceExtracted)
	if err != nil {
		cy.log.Error().Err(err).Msg("store extracted keywords")
		cy.fail("extract", err)
		return
	}
	cy.summary.ExtractedCount = n
}
