package fetcher

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer hands out one Gate per query. Pages of different queries never wait on each other.
type Pacer interface {
	Gate() Gate
}

// Gate spaces the requests of a single query.
type Gate interface {
	// Wait blocks until the next request may be sent, or ctx is done.
	Wait(ctx context.Context) error
}

// RatePacer enforces a fixed delay between consecutive page requests of the same query.
type RatePacer struct {
	delay time.Duration
}

// NewRatePacer returns a pacer with the given inter-page delay. A zero delay disables pacing.
func NewRatePacer(delay time.Duration) *RatePacer {
	return &RatePacer{delay: delay}
}

// Gate returns a fresh limiter holding one token, so the first page goes out immediately.
func (p *RatePacer) Gate() Gate {
	limit := rate.Inf
	if p.delay > 0 {
		limit = rate.Every(p.delay)
	}
	return rate.NewLimiter(limit, 1)
}

// NoDelay never waits. Used in tests and one-off runs.
type NoDelay struct{}

func (NoDelay) Gate() Gate { return noWait{} }

type noWait struct{}

func (noWait) Wait(ctx context.Context) error {
	return ctx.Err()
}
