// Package scheduler runs a reconciliation job on a fixed interval and on demand.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Reason says why a run was started.
type Reason string

// Run reasons
const (
	ReasonStartup Reason = "startup"
	ReasonTick    Reason = "tick"
	ReasonTrigger Reason = "trigger"
	ReasonWatch   Reason = "watch"
)

// Job is one reconciliation run.
type Job func(ctx context.Context, reason Reason) error

// Scheduler invokes a Job periodically. A failing run is logged and does
// not affect later runs. Runs never overlap.
type Scheduler struct {
	job      Job
	interval time.Duration

	mu      sync.Mutex // held for the duration of a run
	trigger chan Reason
}

// New creates a Scheduler.
func New(job Job, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Scheduler{
		job:      job,
		interval: interval,
		trigger:  make(chan Reason, 1),
	}
}

// Trigger requests an immediate run. Requests made while one is already
// pending are coalesced.
func (s *Scheduler) Trigger(reason Reason) {
	select {
	case s.trigger <- reason:
	default:
		// Already triggered
	}
}

// Run executes the job once immediately and then on every tick or
// trigger until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Info().Dur("interval", s.interval).Msg("Scheduler started")

	s.tick(ctx, ReasonStartup)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Scheduler stopping")
			return nil
		case reason := <-s.trigger:
			s.tick(ctx, reason)
		case <-ticker.C:
			s.tick(ctx, ReasonTick)
		}
	}
}

// RunOnce executes the job synchronously, waiting for any run in progress.
func (s *Scheduler) RunOnce(ctx context.Context, reason Reason) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panicked: %v", p)
		}
	}()
	return s.job(ctx, reason)
}

func (s *Scheduler) tick(ctx context.Context, reason Reason) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	if err := s.RunOnce(ctx, reason); err != nil {
		log.Error().Err(err).Str("reason", string(reason)).Dur("took", time.Since(start)).Msg("Scheduled run failed")
		return
	}
	log.Debug().Str("reason", string(reason)).Dur("took", time.Since(start)).Msg("Scheduled run completed")
}
