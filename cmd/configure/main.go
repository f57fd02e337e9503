package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"

	"github.com/openbook-dex/openbook-v2-simulation/internal/bootstrap"
	"github.com/openbook-dex/openbook-v2-simulation/internal/config"
	"github.com/openbook-dex/openbook-v2-simulation/internal/logging"
)

func main() {
	os.Exit(runMain(os.Args[1:], os.Stderr))
}

// runMain returns the process exit code. Every failure is reported on
// stderr before returning.
func runMain(args []string, stderr io.Writer) int {
	bootstrapLogger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.LoadConfigureConfig()
	if err != nil {
		bootstrapLogger.Error("failed to load config", "err", err)
		return 1
	}

	cmd := newRootCommand(&cfg, func(cfg config.ConfigureConfig) error {
		return run(cfg, bootstrapLogger)
	})
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		bootstrapLogger.Error("configure failed", "err", err)
		return 1
	}
	return 0
}

func run(cfg config.ConfigureConfig, bootstrapLogger *slog.Logger) error {
	logger, closeLogger, err := logging.New("configure", cfg.Log)
	if err != nil {
		bootstrapLogger.Error("failed to initialize logger", "err", err)
		return err
	}
	defer func() {
		if closeErr := closeLogger(); closeErr != nil {
			bootstrapLogger.Error("failed to close logger", "err", closeErr)
		}
	}()

	if source, sourceErr := config.CurrentConfigSource(); sourceErr == nil {
		logger.Info("configuration loaded", "phase", source.Phase, "path", source.Path, "loaded", source.Loaded)
	}

	svc, err := bootstrap.New(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize configure service", "err", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx); err != nil {
		logger.Error("configure exited with error", "err", err)
		return err
	}
	return nil
}
