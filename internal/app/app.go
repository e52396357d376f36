package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/guildsync/internal/config"
	"github.com/dokzlo13/guildsync/internal/reconcile"
)

// App is the main application container that manages all services and their lifecycle.
type App struct {
	cfg      *config.Config
	services *Services
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates a new App instance with all services initialized but not started.
func New(cfg *config.Config) (*App, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, err
	}
	return &App{cfg: cfg, services: services}, nil
}

// NewWithServices wraps already built services.
func NewWithServices(cfg *config.Config, services *Services) *App {
	return &App{cfg: cfg, services: services}
}

// Services returns the service container.
func (a *App) Services() *Services {
	return a.services
}

// Start initializes and starts all services.
// The provided context is used for cancellation.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	if err := a.services.Start(a.ctx); err != nil {
		a.cancel()
		return err
	}

	log.Info().Msg("guildsync started")
	return nil
}

// Plan runs a one-off dry run against the given (or configured) source.
func (a *App) Plan(ctx context.Context, source string) ([]reconcile.PlanLine, error) {
	if err := a.services.Connect(ctx); err != nil {
		return nil, err
	}
	return a.services.Runner.Plan(ctx, a.cfg.ResolveSource(source))
}

// Apply runs a one-off reconcile against the given (or configured) source.
func (a *App) Apply(ctx context.Context, source string) (reconcile.Summary, error) {
	if err := a.services.Connect(ctx); err != nil {
		return reconcile.Summary{}, err
	}
	return a.services.Runner.Apply(ctx, a.cfg.ResolveSource(source), "cli")
}

// Stop gracefully shuts down all services.
func (a *App) Stop() error {
	log.Info().Msg("Shutting down...")

	if a.cancel != nil {
		a.cancel()
	}

	if a.services != nil {
		return a.services.Stop()
	}

	return nil
}

// Wait blocks until the application context is cancelled.
func (a *App) Wait() {
	if a.ctx != nil {
		<-a.ctx.Done()
	}
}

// SignalContext creates a context that is cancelled when SIGINT or SIGTERM is received.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}
