package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// CycleRunner runs one collection cycle. Implemented by Collector.
type CycleRunner interface {
	RunCycle(ctx context.Context) (*Summary, error)
}

// Scheduler is the built-in periodic trigger: one cycle on start, then one every interval.
// Overlapping triggers are serialized by the collector's lock, not by the scheduler.
type Scheduler struct {
	runner   CycleRunner
	interval time.Duration
	log      zerolog.Logger
	stopCh   chan struct{}
}

// NewScheduler creates a scheduler that ticks every interval.
func NewScheduler(runner CycleRunner, interval time.Duration, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		interval: interval,
		log:      logger.With().Str("component", "scheduler").Logger(),
		stopCh:   make(chan struct{}),
	}
}

// Start blocks, running a cycle immediately and then every interval until ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.log.Info().Dur("interval", s.interval).Msg("scheduler starting")

	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopping (context cancelled)")
			return
		case <-s.stopCh:
			s.log.Info().Msg("scheduler stopping (stop signal)")
			return
		}
	}
}

// Stop signals the scheduler to stop.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) tick(ctx context.Context) {
	_, err := s.runner.RunCycle(ctx)
	switch {
	case errors.Is(err, ErrCycleInProgress):
		s.log.Info().Msg("tick skipped: cycle in progress")
	case err != nil && ctx.Err() == nil:
		s.log.Error().Err(err).Msg("cycle failed")
	}
}
