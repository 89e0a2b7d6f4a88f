package peloton

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock drives the scheduler without real sleeping: sleep advances
// the clock by the requested duration.
type fakeClock struct {
	current time.Time
	sleeps  []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{current: time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	return c.current
}

func (c *fakeClock) sleep(d time.Duration) {
	c.sleeps = append(c.sleeps, d)
	c.current = c.current.Add(d)
}

func newTestScheduler(interval time.Duration) (*Scheduler, *fakeClock) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	s := NewScheduler(interval, log)
	clock := newFakeClock()
	s.now = clock.now
	s.sleep = clock.sleep
	return s, clock
}

func TestNewScheduler_DefaultInterval(t *testing.T) {
	s := NewScheduler(0, logrus.New())
	assert.Equal(t, DefaultCycleInterval, s.interval)

	s = NewScheduler(30*time.Second, logrus.New())
	assert.Equal(t, 30*time.Second, s.interval)
}

func TestScheduler_Run_SingleCycle(t *testing.T) {
	s, clock := newTestScheduler(time.Second)

	cycles := 0
	err := s.Run(context.Background(), 0, func(context.Context) error {
		cycles++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, cycles)
	assert.Empty(t, clock.sleeps)
}

func TestScheduler_Run_LoopsUntilDeadline(t *testing.T) {
	s, clock := newTestScheduler(time.Minute)

	cycles := 0
	err := s.Run(context.Background(), 5*time.Minute, func(context.Context) error {
		cycles++
		return nil
	})

	require.NoError(t, err)
	// Cycles at t=0..4m, each followed by a one-minute sleep; the sleep
	// ending at t=5m hits the deadline.
	assert.Equal(t, 5, cycles)
	assert.Len(t, clock.sleeps, 5)
}

func TestScheduler_Run_PartialFailureContinues(t *testing.T) {
	s, _ := newTestScheduler(time.Minute)

	partial := NewPartialSyncFailure([]string{"ok"}, map[string]error{"bad": errors.New("boom")})
	cycles := 0
	err := s.Run(context.Background(), 2*time.Minute, func(context.Context) error {
		cycles++
		if cycles == 1 {
			return partial
		}
		return nil
	})

	// The partial failure did not stop the loop, and the last one seen is
	// reported at the end.
	assert.Greater(t, cycles, 1)
	assert.Equal(t, partial, err)
}

func TestScheduler_Run_PartialFailureSingleCycle(t *testing.T) {
	s, _ := newTestScheduler(time.Minute)

	partial := NewPartialSyncFailure(nil, map[string]error{"bad": errors.New("boom")})
	err := s.Run(context.Background(), 0, func(context.Context) error {
		return partial
	})

	assert.Equal(t, partial, err)
}

func TestScheduler_Run_HardErrorAborts(t *testing.T) {
	s, clock := newTestScheduler(time.Minute)

	hard := NewAPIError(ErrorTypeAuth, "bad credentials", nil)
	cycles := 0
	err := s.Run(context.Background(), 10*time.Minute, func(context.Context) error {
		cycles++
		return hard
	})

	assert.Equal(t, 1, cycles)
	assert.Equal(t, hard, err)
	assert.Empty(t, clock.sleeps)
}

func TestScheduler_Run_ContextCancelled(t *testing.T) {
	s, _ := newTestScheduler(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cycles := 0
	err := s.Run(ctx, 10*time.Minute, func(context.Context) error {
		cycles++
		cancel()
		return nil
	})

	// The in-flight cycle completed; the loop stopped before the next one.
	assert.Equal(t, 1, cycles)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScheduler_Run_NeverInterruptsCycle(t *testing.T) {
	s, clock := newTestScheduler(30 * time.Second)

	// Each cycle takes 45 seconds of wall clock.
	var finished int
	err := s.Run(context.Background(), 90*time.Second, func(context.Context) error {
		clock.current = clock.current.Add(45 * time.Second)
		finished++
		return nil
	})

	require.NoError(t, err)
	// The second cycle starts before the deadline and runs to completion
	// past it.
	assert.Equal(t, 2, finished)
}
