package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/guildsync/internal/blueprint"
	"github.com/dokzlo13/guildsync/internal/guild"
	"github.com/dokzlo13/guildsync/internal/ledger"
	"github.com/dokzlo13/guildsync/internal/metrics"
	"github.com/dokzlo13/guildsync/internal/reconcile"
	"github.com/dokzlo13/guildsync/internal/scheduler"
)

// Runner performs fetch + reconcile runs against one guild. Applies are
// serialized, whoever starts them.
type Runner struct {
	fetcher    *blueprint.Fetcher
	guild      guild.Guild
	reconciler *reconcile.Reconciler
	ledger     *ledger.Ledger // nil when the ledger is disabled

	mu sync.Mutex
}

// NewRunner creates a Runner.
func NewRunner(fetcher *blueprint.Fetcher, g guild.Guild, rec *reconcile.Reconciler, l *ledger.Ledger) *Runner {
	return &Runner{
		fetcher:    fetcher,
		guild:      g,
		reconciler: rec,
		ledger:     l,
	}
}

// Apply fetches the blueprint from source and reconciles the guild to it.
// On error no summary is returned.
func (r *Runner) Apply(ctx context.Context, source, reason string) (reconcile.Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	runID := uuid.NewString()
	logger := log.With().Str("run_id", runID).Str("source", source).Str("reason", reason).Logger()
	start := time.Now()

	r.record(runID, ledger.EventRunStarted, source, reason, nil)
	logger.Info().Msg("Reconcile run started")

	sum, err := r.apply(ctx, source)
	took := time.Since(start)
	metrics.ObserveRun(reason, sum, err, took)

	if err != nil {
		r.record(runID, ledger.EventRunFailed, source, reason, map[string]any{
			"error":       err.Error(),
			"duration_ms": took.Milliseconds(),
		})
		logger.Error().Err(err).Dur("took", took).Msg("Reconcile run failed")
		return reconcile.Summary{}, err
	}

	r.record(runID, ledger.EventRunCompleted, source, reason, map[string]any{
		"roles_created":      sum.RolesCreated,
		"categories_created": sum.CategoriesCreated,
		"channels_created":   sum.ChannelsCreated,
		"channels_updated":   sum.ChannelsUpdated,
		"duration_ms":        took.Milliseconds(),
	})
	logger.Info().
		Int("roles_created", sum.RolesCreated).
		Int("categories_created", sum.CategoriesCreated).
		Int("channels_created", sum.ChannelsCreated).
		Int("channels_updated", sum.ChannelsUpdated).
		Dur("took", took).
		Msg("Reconcile run completed")
	return sum, nil
}

func (r *Runner) apply(ctx context.Context, source string) (reconcile.Summary, error) {
	bp, err := r.fetcher.Fetch(ctx, source)
	if err != nil {
		return reconcile.Summary{}, err
	}
	return r.reconciler.Apply(ctx, r.guild, bp)
}

// Plan fetches the blueprint from source and reports what Apply would do.
func (r *Runner) Plan(ctx context.Context, source string) ([]reconcile.PlanLine, error) {
	bp, err := r.fetcher.Fetch(ctx, source)
	if err != nil {
		return nil, err
	}
	lines, err := r.reconciler.Plan(ctx, r.guild, bp)
	if err != nil {
		return nil, err
	}
	log.Info().Str("source", source).Int("changes", len(lines)).Int("creates", reconcile.Creates(lines)).Msg("Plan computed")
	return lines, nil
}

// Job binds Apply to a fixed source for the scheduler.
func (r *Runner) Job(source string) scheduler.Job {
	return func(ctx context.Context, reason scheduler.Reason) error {
		if _, err := r.Apply(ctx, source, string(reason)); err != nil {
			return fmt.Errorf("apply %s: %w", source, err)
		}
		return nil
	}
}

func (r *Runner) record(runID string, eventType ledger.EventType, source, reason string, payload map[string]any) {
	if r.ledger == nil {
		return
	}
	if err := r.ledger.Append(runID, eventType, source, reason, payload); err != nil {
		log.Warn().Err(err).Str("run_id", runID).Str("event", string(eventType)).Msg("Failed to append ledger entry")
	}
}
