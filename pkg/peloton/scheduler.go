package peloton

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultCycleInterval is the pause between loop cycles, sized to avoid
// hammering the GraphQL endpoint during a live meeting.
const DefaultCycleInterval = 60 * time.Second

// Scheduler repeats a sync cycle for a bounded wall-clock duration.
// Cycles run strictly in sequence; the in-flight cycle always completes
// before the loop exits so the board is never left half-updated.
type Scheduler struct {
	interval time.Duration
	log      logrus.FieldLogger

	// now and sleep are replaceable for tests.
	now   func() time.Time
	sleep func(time.Duration)
}

// NewScheduler creates a scheduler pausing interval between cycles.
func NewScheduler(interval time.Duration, log logrus.FieldLogger) *Scheduler {
	if interval <= 0 {
		interval = DefaultCycleInterval
	}
	return &Scheduler{
		interval: interval,
		log:      log,
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// Run executes cycle once when loopFor is zero, otherwise repeatedly
// until loopFor has elapsed.
//
// Partial sync failures are remembered but do not stop the loop: later
// cycles get a chance to repair what an earlier one could not. Any other
// error (authentication, collection) aborts the invocation; re-running is
// the operator's call. The most recent PartialSyncFailure, if any, is
// returned once the loop finishes.
func (s *Scheduler) Run(ctx context.Context, loopFor time.Duration, cycle func(context.Context) error) error {
	deadline := s.now().Add(loopFor)
	var lastPartial error

	for {
		if err := cycle(ctx); err != nil {
			partial, ok := err.(*PartialSyncFailure)
			if !ok {
				return err
			}
			lastPartial = partial
		}

		if loopFor == 0 {
			break
		}
		if !s.now().Before(deadline) {
			s.log.Info("update loop deadline reached")
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		s.log.WithField("interval", s.interval.String()).Debug("sleeping before next cycle")
		s.sleep(s.interval)

		if !s.now().Before(deadline) {
			s.log.Info("update loop deadline reached")
			break
		}
	}

	return lastPartial
}
