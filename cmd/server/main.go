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

	"github.com/urfave/cli/v3"

	handler "campus-orgs-backend/api"
	"campus-orgs-backend/pkg/config"
	"campus-orgs-backend/pkg/database"
	"campus-orgs-backend/pkg/logging"
)

const VERSION = "1.0.0"

const shutdownTimeout = 10 * time.Second

var cmd = &cli.Command{
	Name:    "campus-orgs-backend",
	Usage:   "HTTP API for the campus organizations app",
	Version: VERSION,
	Flags: []cli.Flag{
		portFlag,
		logLevelFlag,
		seedFlag,
	},
	Action: serve,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := cmd.Run(ctx, os.Args)
	stop()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, c *cli.Command) error {
	logger, err := logging.Init(c.String("log-level"))
	if err != nil {
		return err
	}

	cfg := config.LoadConfig()
	cfg.LogLevel = c.String("log-level")
	if c.IsSet("port") {
		cfg.Port = c.String("port")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	backend, err := database.NewBackend(handler.BackendConfig(cfg, logger))
	if err != nil {
		return err
	}
	defer backend.Close()

	if path := c.String("seed"); path != "" {
		if err := seed(ctx, backend, path, logger); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.NewRouter(cfg, backend, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr, "backend", backend.Kind, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func seed(ctx context.Context, backend *database.Backend, path string, logger *slog.Logger) error {
	seeder, ok := backend.DB.(database.Seeder)
	if !ok {
		return fmt.Errorf("the %s backend cannot be seeded", backend.Kind)
	}

	fixture, err := database.LoadFixture(path)
	if err != nil {
		return err
	}
	if err := seeder.Seed(ctx, *fixture); err != nil {
		return fmt.Errorf("failed to seed %s: %w", path, err)
	}

	logger.Info("fixture loaded",
		"path", path,
		"organizations", len(fixture.Organizations),
		"members", len(fixture.Members),
		"posts", len(fixture.Posts),
	)
	return nil
}
