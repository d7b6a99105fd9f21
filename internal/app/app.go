package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clinicops/authcore/internal/config"
	"github.com/clinicops/authcore/internal/observability"
	"github.com/clinicops/authcore/internal/service"
)

type App struct {
	Config          *config.Config
	Logger          *slog.Logger
	Server          *http.Server
	Scheduler       *service.CleanupScheduler
	Observability   *observability.Runtime
	ShutdownTimeout time.Duration
}

func New(cfg *config.Config, logger *slog.Logger, server *http.Server, scheduler *service.CleanupScheduler, runtime *observability.Runtime) *App {
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		Config:          cfg,
		Logger:          logger,
		Server:          server,
		Scheduler:       scheduler,
		Observability:   runtime,
		ShutdownTimeout: timeout,
	}
}

// Run serves HTTP and drives the cleanup scheduler until ctx is cancelled, then drains
// in-flight requests and flushes telemetry within ShutdownTimeout.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("http server listening", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if a.Scheduler != nil {
		g.Go(func() error {
			return a.Scheduler.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.ShutdownTimeout)
		defer cancel()
		a.Logger.Info("shutting down", "timeout", a.ShutdownTimeout.String())
		var errs []error
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := a.Observability.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("observability shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
