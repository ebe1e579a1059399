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

	"github.com/robfig/cron/v3"
	cli "github.com/urfave/cli/v3"

	"github.com/leadcore/intent-core/internal/config"
	"github.com/leadcore/intent-core/internal/logging"
	"github.com/leadcore/intent-core/internal/repository"
	"github.com/leadcore/intent-core/internal/telemetry"
	"github.com/leadcore/intent-core/internal/worker"
)

func main() {
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		slog.Warn("failed loading .env files", "error", err)
	}

	cmd := &cli.Command{
		Name:                  "leadcore",
		Usage:                 "Lead intent scoring, offer recommendation and workflow approval service",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "config",
				Usage:   "YAML overlay with thresholds, routes and recompute tuning",
				Sources: cli.EnvVars("LEADCORE_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			newServeCommand(),
			newRecomputeCommand(),
			newMigrateCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("leadcore failed", "error", err)
		os.Exit(1)
	}
}

// loadConfig merges environment, overlay file and command flags, then
// installs the process logger.
func loadConfig(command *cli.Command) (config.Config, *slog.Logger, error) {
	cfg := config.Load()
	if command.IsSet("log-level") {
		cfg.LogLevel = command.String("log-level")
	}
	if path := command.String("config"); path != "" {
		cfg.ConfigFile = path
	}
	if err := cfg.ApplyOverlayFile(cfg.ConfigFile); err != nil {
		return cfg, nil, err
	}
	if command.IsSet("port") {
		cfg.Port = command.String("port")
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)
	return cfg, logger, nil
}

func newServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API, the event worker and the offer recompute schedule",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "port",
				Usage:   "HTTP listen port",
				Value:   "8080",
				Sources: cli.EnvVars("PORT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg, logger, err := loadConfig(command)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if cfg.OTelEnabled {
				shutdownTelemetry, err := telemetry.Setup(ctx, cfg.OTelServiceName)
				if err != nil {
					return fmt.Errorf("failed to initialize telemetry: %w", err)
				}
				defer func() {
					flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := shutdownTelemetry(flushCtx); err != nil {
						logger.Error("failed to shutdown telemetry providers", "error", err)
					}
				}()
			}

			rt, err := buildRuntime(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			if cfg.WorkerEnabled {
				processor := worker.NewProcessor(rt.consumer, rt.publisher, rt.alerter, rt.retryPolicy, logging.WithModule("worker"))
				go processor.Start(ctx)
				logger.Info("worker enabled and started")
			} else {
				logger.Info("worker disabled by configuration")
			}

			scheduler, err := scheduleRecompute(ctx, cfg, rt)
			if err != nil {
				return err
			}
			if scheduler != nil {
				defer func() { <-scheduler.Stop().Done() }()
			}

			server := &http.Server{
				Addr:              ":" + cfg.Port,
				Handler:           rt.router(ctx, cfg),
				ReadTimeout:       10 * time.Second,
				ReadHeaderTimeout: 5 * time.Second,
				WriteTimeout:      cfg.ServerWriteTimeout(),
				IdleTimeout:       60 * time.Second,
			}

			errChan := make(chan error, 1)
			go func() {
				logger.Info("api listening", "port", cfg.Port)
				errChan <- server.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				logger.Info("shutdown signal received")
			case err := <-errChan:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server failed: %w", err)
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("graceful shutdown failed", "error", err)
			}
			rt.signals.Wait()
			rt.workflows.Wait()
			return nil
		},
	}
}

func scheduleRecompute(ctx context.Context, cfg config.Config, rt *runtime) (*cron.Cron, error) {
	if cfg.OfferRecomputeCron == "" {
		return nil, nil
	}

	logger := logging.WithModule("offer-recompute")
	scheduler := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))
	_, err := scheduler.AddFunc(cfg.OfferRecomputeCron, func() {
		summary, err := rt.offers.Recompute(ctx)
		if err != nil {
			logger.Error("scheduled offer recompute aborted", "error", err)
			return
		}
		logger.Info("scheduled offer recompute finished",
			"candidates", summary.Candidates,
			"updated", summary.Updated,
			"failed", summary.Failed,
			"duration_ms", summary.DurationMS,
		)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid offer recompute schedule %q: %w", cfg.OfferRecomputeCron, err)
	}
	scheduler.Start()
	logger.Info("offer recompute scheduled", "cron", cfg.OfferRecomputeCron)
	return scheduler, nil
}

func newRecomputeCommand() *cli.Command {
	return &cli.Command{
		Name:  "recompute-offers",
		Usage: "Recompute stored offer recommendations for recently active subscribers once",
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg, logger, err := loadConfig(command)
			if err != nil {
				return err
			}
			rt, err := buildRuntime(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			summary, err := rt.offers.Recompute(ctx)
			if err != nil {
				return err
			}
			logger.Info("offer recompute finished",
				"candidates", summary.Candidates,
				"updated", summary.Updated,
				"failed", summary.Failed,
				"duration_ms", summary.DurationMS,
			)
			return nil
		},
	}
}

func newMigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply the embedded Postgres schema",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			_, logger, err := loadConfig(command)
			if err != nil {
				return err
			}
			store, err := repository.NewPostgresStore(ctx, command.String("database-url"))
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Migrate(ctx); err != nil {
				return err
			}
			logger.Info("schema applied")
			return nil
		},
	}
}
