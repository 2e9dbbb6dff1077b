package service

import (
	"context"
	"sort"
)

// Classify returns the ids in after that are not in before, sorted.
func Classify(before, after []string) []string {
	seen := make(map[string]struct{}, len(before))
	for _, id := range before {
		seen[id] = struct{}{}
	}
	out := []string{}
	for _, id := range after {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// classify diffs the pre-cycle snapshot against the store and flags the difference as new.
func (c *Collector) classify(ctx context.Context, cy *cycle, before []string) {
	after, err := c.store.VideoIDs(ctx)
	if err != nil {
		cy.log.Error().Err(err).Msg("classify snapshot")
		cy.fail("classify", err)
		return
	}
	ids := Classify(before, after)
	cy.summary.NewVideoIDs = ids
	cy.summary.NewVideoCount = len(ids)
	if err := c.store.FlagNewVideos(ctx, ids); err != nil {
		cy.log.Error().Err(err).Msg("flag new videos")
		cy.fail("classify", err)
	}
}
