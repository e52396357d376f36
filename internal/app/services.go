package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/guildsync/internal/blueprint"
	"github.com/dokzlo13/guildsync/internal/config"
	"github.com/dokzlo13/guildsync/internal/db"
	"github.com/dokzlo13/guildsync/internal/discord"
	"github.com/dokzlo13/guildsync/internal/guild"
	"github.com/dokzlo13/guildsync/internal/ledger"
	"github.com/dokzlo13/guildsync/internal/metrics"
	"github.com/dokzlo13/guildsync/internal/reconcile"
	"github.com/dokzlo13/guildsync/internal/scheduler"
)

// connector is implemented by guild backends that need a handshake.
type connector interface {
	Connect(ctx context.Context) error
}

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB     *db.DB         // nil when the ledger is disabled
	Ledger *ledger.Ledger // nil when the ledger is disabled

	// Blueprint fetching (conditional GET cache shared by all runs)
	Cache   *blueprint.Cache
	Fetcher *blueprint.Fetcher

	// Guild backend and reconciliation
	Guild      guild.Guild
	Reconciler *reconcile.Reconciler
	Runner     *Runner

	// High-level services
	Scheduler *SchedulerService
	HTTP      *HTTPService

	cancel context.CancelFunc // stops what Start launched
}

// NewServices creates all services with proper dependency injection,
// talking to the Discord guild from the configuration.
func NewServices(cfg *config.Config) (*Services, error) {
	if err := cfg.ValidateDiscord(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	client, err := discord.New(
		cfg.Discord.Token,
		cfg.Discord.GuildID,
		cfg.Discord.Timeout.Duration(),
		cfg.Discord.RateLimitRPS,
	)
	if err != nil {
		return nil, err
	}
	return NewServicesWithGuild(cfg, client)
}

// NewServicesWithGuild creates all services around an existing guild backend.
func NewServicesWithGuild(cfg *config.Config, g guild.Guild) (*Services, error) {
	s := &Services{cfg: cfg, Guild: g}

	// Initialize database and ledger
	if cfg.Ledger.IsEnabled() {
		database, err := db.Open(cfg.Database.Path)
		if err != nil {
			return nil, err
		}
		s.DB = database
		s.Ledger = ledger.New(database.DB)
	} else {
		log.Info().Msg("Run ledger is disabled")
	}

	// Initialize blueprint fetcher (in-memory conditional GET cache shared by all runs)
	s.Cache = blueprint.NewCache()
	s.Fetcher = blueprint.NewFetcher(s.Cache, cfg.Blueprint.Timeout.Duration(),
		blueprint.WithObserver(metrics.ObserveFetch))

	// Initialize reconciler and runner
	s.Reconciler = reconcile.New(
		cfg.Agent.TeamRole,
		cfg.Agent.BotRole,
		reconcile.FixedPacer(cfg.Reconciler.Pacing.Duration()),
	)
	s.Runner = NewRunner(s.Fetcher, g, s.Reconciler, s.Ledger)

	// Initialize scheduler service
	s.Scheduler = NewSchedulerService(cfg, s.Runner, s.Ledger)

	// Initialize HTTP service
	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	s.HTTP = NewHTTPService(addr, cfg.ShutdownTimeout.Duration(), s.Runner, s.Ledger, cfg.ResolveSource(""))
	if s.Scheduler.IsEnabled() {
		s.HTTP.SetTrigger(func() { s.Scheduler.Scheduler.Trigger(scheduler.ReasonTrigger) })
	}

	return s, nil
}

// Connect performs the guild backend handshake, if it has one.
func (s *Services) Connect(ctx context.Context) error {
	if c, ok := s.Guild.(connector); ok {
		return c.Connect(ctx)
	}
	return nil
}

// Start starts all services in the correct order.
func (s *Services) Start(ctx context.Context) error {
	if err := s.Connect(ctx); err != nil {
		return err
	}

	ctx, s.cancel = context.WithCancel(ctx)

	if s.cfg.HTTP.Enabled {
		s.HTTP.Start(ctx)
	}
	s.Scheduler.Start(ctx)
	s.HTTP.SetReady(true)

	return nil
}

// Stop gracefully stops all services. It waits for background work,
// including an in-flight run and its ledger entry, before closing the
// database.
func (s *Services) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.HTTP.SetReady(false)
	s.Scheduler.Wait()
	s.HTTP.Wait()
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if c, ok := s.Guild.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close guild client")
		}
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
