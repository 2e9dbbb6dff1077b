package service

import (
	"context"
	"errors"

	"github.com/voyagen/techtube/internal/models"
	"github.com/voyagen/techtube/internal/store"
)

// selectTargets picks at most one keyword and one channel: the stalest of each kind whose
// updated_date is before the cycle day. A kind with nothing due is skipped for this cycle.
func (c *Collector) selectTargets(ctx context.Context, cy *cycle) (*models.Keyword, *models.Channel) {
	kw, err := c.store.DueKeyword(ctx, cy.day)
	switch {
	case errors.Is(err, store.ErrNotFound):
		cy.log.Info().Msg("no keyword due today")
		kw = nil
	case err != nil:
		cy.log.Error().Err(err).Msg("select keyword")
		cy.fail("select keyword", err)
		kw = nil
	}

	ch, err := c.store.DueChannel(ctx, cy.day)
	switch {
	case errors.Is(err, store.ErrNotFound):
		cy.log.Info().Msg("no channel due today")
		ch = nil
	case err != nil:
		cy.log.Error().Err(err).Msg("select channel")
		cy.fail("select channel", err)
		ch = nil
	}
	return kw, ch
}
