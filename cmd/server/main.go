package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JonMunkholm/pointsimport/internal/application"
	"github.com/JonMunkholm/pointsimport/internal/config"
	"github.com/JonMunkholm/pointsimport/internal/logging"
	"github.com/JonMunkholm/pointsimport/internal/web"
)

func main() {
	// Overload lets a local .env win over the shell environment.
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg.String())

	var opts []application.Option
	if cfg.Server.MetricsEnabled {
		opts = append(opts, application.WithRegisterer(prometheus.DefaultRegisterer))
	}

	app, err := application.New(context.Background(), cfg, opts...)
	if err != nil {
		slog.Error("failed to start import pipeline", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	server := web.NewServer(cfg, web.Deps{
		Coordinator: app.Coordinator,
		Runs:        app.Store,
		Entries:     app.Store,
		Limiter:     app.Limiter,
	})

	slog.Info("server starting",
		"addr", cfg.Server.Addr(),
		"ledger", cfg.Ledger.Backend,
		"workers", app.Coordinator.Workers(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, server, cfg.Server.ShutdownTimeout); err != nil {
		slog.Error("server stopped", "error", err)
		app.Close()
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// httpServer is the part of web.Server that serve drives.
type httpServer interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// serve runs srv until ctx is cancelled, then shuts it down. It returns only
// after Shutdown has finished draining, so callers can release the
// resources the handlers use.
func serve(ctx context.Context, srv httpServer, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	shutdownErr := srv.Shutdown(shutdownCtx)
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	if shutdownErr != nil {
		return fmt.Errorf("shutdown: %w", shutdownErr)
	}
	return nil
}
