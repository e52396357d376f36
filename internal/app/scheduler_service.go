package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/guildsync/internal/blueprint"
	"github.com/dokzlo13/guildsync/internal/config"
	"github.com/dokzlo13/guildsync/internal/ledger"
	"github.com/dokzlo13/guildsync/internal/scheduler"
	"github.com/dokzlo13/guildsync/internal/watch"
)

// SchedulerService wraps the scheduler and related periodic tasks.
type SchedulerService struct {
	cfg       *config.Config
	Scheduler *scheduler.Scheduler
	ledger    *ledger.Ledger
	source    string

	wg sync.WaitGroup
}

// NewSchedulerService creates a new SchedulerService. The scheduler is
// only built when agent.source is set.
func NewSchedulerService(cfg *config.Config, runner *Runner, l *ledger.Ledger) *SchedulerService {
	s := &SchedulerService{
		cfg:    cfg,
		ledger: l,
		source: cfg.Agent.Source,
	}
	if s.source != "" {
		s.Scheduler = scheduler.New(runner.Job(s.source), cfg.Agent.PollInterval.Duration())
	}
	return s
}

// IsEnabled returns whether the scheduler is enabled.
func (s *SchedulerService) IsEnabled() bool {
	return s.Scheduler != nil
}

// Start begins the scheduler and related periodic tasks.
func (s *SchedulerService) Start(ctx context.Context) {
	if s.ledger != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runLedgerCleanup(ctx)
		}()
	}

	if !s.IsEnabled() {
		log.Info().Msg("No agent.source configured, scheduler is disabled")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Scheduler.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Scheduler error")
		}
	}()

	if s.cfg.Agent.Watch {
		s.startWatch(ctx)
	}
}

// Wait blocks until every goroutine started by Start has returned. A run
// in progress when ctx was cancelled finishes, ledger writes included,
// before Wait returns.
func (s *SchedulerService) Wait() {
	s.wg.Wait()
}

func (s *SchedulerService) startWatch(ctx context.Context) {
	path, ok := blueprint.LocalPath(s.source)
	if !ok {
		log.Warn().Str("source", s.source).Msg("agent.watch needs a local source, ignoring")
		return
	}
	w, err := watch.New(path, 0, func() {
		s.Scheduler.Trigger(scheduler.ReasonWatch)
	})
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("Failed to watch blueprint file")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := w.Run(ctx); err != nil {
			log.Error().Err(err).Msg("File watcher error")
		}
	}()
}

// runLedgerCleanup periodically cleans up old ledger entries.
func (s *SchedulerService) runLedgerCleanup(ctx context.Context) {
	retention := s.cfg.Ledger.Retention.Duration()
	interval := s.cfg.Ledger.CleanupInterval.Duration()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.ledger.DeleteOlderThan(retention)
			if err != nil {
				log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
			} else if deleted > 0 {
				log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old ledger entries")
			}
		}
	}
}
