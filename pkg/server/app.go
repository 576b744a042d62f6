package server

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"LendPulse/internal/service/chain"
	"LendPulse/internal/usecase"
	"LendPulse/pkg/config"
	xhttp "LendPulse/pkg/http"
	applogger "LendPulse/pkg/logger"
	"LendPulse/pkg/queue"
)

// Components are the long-lived parts the App starts and stops.
type Components struct {
	HTTP     *xhttp.Server
	Queues   *queue.Manager
	Resolver *chain.Resolver
	// Closers are closed in order after the workers stop.
	Closers []NamedCloser
}

// NamedCloser pairs a resource with the name used in shutdown logs.
type NamedCloser struct {
	Name   string
	Closer io.Closer
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg    *config.Config
	logger *applogger.Logger
	comp   Components
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, l *applogger.Logger, comp Components) *App {
	return &App{cfg: cfg, logger: l, comp: comp}
}

// Start registers the recurring schedules and starts workers and HTTP.
func (a *App) Start(ctx context.Context) error {
	if a.comp.Queues != nil {
		if err := usecase.RegisterSchedules(ctx, a.comp.Queues, usecase.Schedules{
			MarketData:   a.cfg.Schedules.MarketData,
			Health:       a.cfg.Schedules.Health,
			CacheCleanup: a.cfg.Schedules.CacheCleanup,
		}); err != nil {
			return err
		}
		if err := a.comp.Queues.Start(); err != nil {
			return err
		}
		a.logger.Info("background jobs running", applogger.Strings("queues", a.comp.Queues.Queues()))
	}

	if a.comp.HTTP != nil {
		if err := a.comp.HTTP.Start(); err != nil {
			return err
		}
	}
	return nil
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		a.logger.Error("start failed", applogger.Error(err))
		_ = a.Shutdown(ctx)
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	var httpErrs <-chan error
	if a.comp.HTTP != nil {
		httpErrs = a.comp.HTTP.Errors()
	}
	select {
	case sig := <-sigCh:
		a.logger.Info("shutdown signal received", applogger.String("signal", sig.String()))
	case runErr = <-httpErrs:
		a.logger.Error("http server terminated", applogger.Error(runErr))
	}

	return errors.Join(runErr, a.Shutdown(ctx))
}

// Shutdown stops HTTP first so no new work arrives, then drains workers and
// closes the infrastructure clients.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, a.shutdownTimeout())
	defer cancel()

	var errs []error
	if a.comp.HTTP != nil {
		if err := a.comp.HTTP.Stop(shutdownCtx); err != nil {
			a.logger.Error("http shutdown error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	if a.comp.Queues != nil {
		if err := a.comp.Queues.Stop(shutdownCtx); err != nil && !errors.Is(err, queue.ErrStopped) {
			a.logger.Warn("queue stop error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	if a.comp.Resolver != nil {
		a.comp.Resolver.Close()
	}
	for _, c := range a.comp.Closers {
		if c.Closer == nil {
			continue
		}
		if err := c.Closer.Close(); err != nil {
			a.logger.Warn("close error", applogger.String("resource", c.Name), applogger.Error(err))
			errs = append(errs, err)
		}
	}

	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeout > 0 {
		return a.cfg.Server.ShutdownTimeout
	}
	return 15 * time.Second
}
