package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sungwon/guest-messenger/internal/app"
	"github.com/sungwon/guest-messenger/internal/config"
	"github.com/sungwon/guest-messenger/internal/logger"
)

func main() {
	configDir := flag.String("config", "config", "directory containing config.yaml")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewFromConfig(logger.Config{
		Level:     cfg.Logging.Level,
		Output:    cfg.Logging.Output,
		FilePath:  cfg.Logging.FilePath,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
	}).With().Str("service", "queue-worker").Logger()
	log.Info().Msg("starting queue worker")

	if err := run(cfg, log); err != nil {
		log.Error().Err(err).Msg("queue worker stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("queue worker stopped")
}

// run returns once the worker has shut down, after its services are closed.
func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	services, err := app.New(ctx, cfg, log, app.Options{})
	if err != nil {
		return fmt.Errorf("initialize services: %w", err)
	}
	defer services.Close()

	pool, err := services.NewWorkerPool()
	if err != nil {
		return fmt.Errorf("build worker pool: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	pool.Start(gctx)
	log.Info().
		Int("workers", cfg.Worker.Count).
		Dur("poll_interval", cfg.Worker.PollInterval).
		Int("max_attempts", cfg.Queue.MaxAttempts).
		Msg("queue worker pool started")

	g.Go(func() error {
		return services.Scheduler.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down queue worker")
		return pool.Stop()
	})

	return g.Wait()
}
