package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/garyjia/invoice-workflow/internal/config"
	"github.com/garyjia/invoice-workflow/internal/container"
	"github.com/garyjia/invoice-workflow/internal/infrastructure/worker"
	"github.com/garyjia/invoice-workflow/pkg/logger"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	configPath := flag.String("config", envOr("INVOICED_CONFIG", defaultConfigPath), "path to YAML config file")
	once := flag.Bool("once", false, "run a single overdue sweep and exit")
	flag.Parse()

	path := *configPath
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && path == defaultConfigPath {
		// defaults and environment only
		path = ""
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *once {
		// the daemon's ticker would race with the explicit run
		cfg.Sweeper.Enabled = false
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log, *once); err != nil {
		log.Error("Invoice workflow daemon exited with error", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger, once bool) error {
	log.Info("Starting invoice workflow daemon",
		zap.String("driver", cfg.Database.Driver),
		zap.Bool("sweeper_enabled", cfg.Sweeper.Enabled),
		zap.Duration("sweep_interval", cfg.Sweeper.Interval))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := container.NewContainer(cfg, log)
	if err != nil {
		return err
	}

	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return err
	}

	if once {
		timeout := cfg.Sweeper.RunTimeout
		if timeout <= 0 {
			timeout = worker.DefaultOverdueWorkerConfig().RunTimeout
		}
		sweepCtx, cancel := context.WithTimeout(ctx, timeout)
		count, sweepErr := c.Sweeper().RunNow(sweepCtx)
		cancel()
		log.Info("Overdue sweep finished", zap.Int("transitioned", count))
		return multierr.Append(sweepErr, c.Close())
	}

	<-ctx.Done()
	log.Info("Shutdown signal received")

	done := make(chan error, 1)
	go func() { done <- c.Close() }()

	select {
	case err := <-done:
		return err
	case <-time.After(30 * time.Second):
		return fmt.Errorf("shutdown timed out")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
