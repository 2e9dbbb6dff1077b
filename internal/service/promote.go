package service

import (
	"context"
	"fmt"

	"github.com/voyagen/techtube/internal/keywords"
	"github.com/voyagen/techtube/internal/metrics"
	"github.com/voyagen/techtube/internal/models"
)

// promote turns the distinct tags of this cycle's fresh videos into keywords.
func (c *Collector) promote(ctx context.Context, cy *cycle) {
	var tags []string
	for _, v := range cy.fresh {
		tags = append(tags, v.Tags...)
	}
	if len(tags) == 0 {
		return
	}
	n, err := c.addNovelKeywords(ctx, cy, tags, models.KeywordSourceTag)
	if err != nil {
		cy.log.Error().Err(err).Msg("promote tags")
		cy.fail("promote", err)
		return
	}
	cy.summary.PromotedCount = n
	cy.log.Debug().Int("tags", len(tags)).Int("promoted", n).Msg("tags promoted")
}

// addNovelKeywords inserts the candidates that do not match any keyword case-insensitively.
// They are dated the day before the cycle so the next cycle can pick them, after any keyword
// that has waited longer.
func (c *Collector) addNovelKeywords(ctx context.Context, cy *cycle, candidates []string, source models.KeywordSource) (int, error) {
	keys, err := c.store.KeywordKeys(ctx)
	if err != nil {
		return 0, fmt.Errorf("KeywordKeys: %w", err)
	}
	novel := keywords.NewKeySet(keys...).Novel(candidates)
	if len(novel) == 0 {
		return 0, nil
	}
	n, err := c.store.AddKeywords(ctx, novel, source, cy.day.AddDate(0, 0, -1))
	if err != nil {
		return 0, fmt.Errorf("AddKeywords: %w", err)
	}
	metrics.KeywordsAdded.WithLabelValues(string(source)).Add(float64(n))
	return n, nil
}
