package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRunner struct {
	calls atomic.Int32
	err   error
}

func (r *countingRunner) RunCycle(context.Context) (*Summary, error) {
	r.calls.Add(1)
	return &Summary{}, r.err
}

func TestSchedulerRunsImmediatelyThenOnInterval(t *testing.T) {
	r := &countingRunner{}
	s := NewScheduler(r, 10*time.Millisecond, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return r.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop on cancel")
	}
}

func TestSchedulerStop(t *testing.T) {
	r := &countingRunner{err: ErrCycleInProgress}
	s := NewScheduler(r, time.Hour, zerolog.Nop())
	done := make(chan struct{})
	go func() {
		s.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool { return r.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	s.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, int32(1), r.calls.Load())
}
