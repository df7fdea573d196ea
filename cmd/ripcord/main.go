package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/vietddude/stylelog"

	"github.com/trungvv/ripcord/internal/control"
	"github.com/trungvv/ripcord/internal/core/config"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	isDebug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// A missing .env file is fine; settings may come from the environment.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Fall back to default logger for config load errors
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	slogLevel := slog.LevelInfo
	if *isDebug || cfg.Logging.Level == "debug" {
		slogLevel = slog.LevelDebug
	}

	// Initialize stylelog with tint.Options for level control
	stylelog.InitDefault(
		&tint.Options{
			Level:      slogLevel,
			TimeFormat: time.RFC3339,
		})
	slog.Info("Logger initialized", "level", slogLevel.String())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Supervision loop: a recovery chain may ask for a component restart,
	// in which case the whole app is rebuilt from configuration. The
	// restart budget lives in the recovery manager, not here.
	for {
		app, err := control.NewApp(cfg, control.Options{Logger: slog.Default()})
		if err != nil {
			slog.Error("Failed to initialize app", "error", err)
			os.Exit(1)
		}

		ctx, cancel := context.WithCancel(context.Background())
		runErr := make(chan error, 1)
		go func() {
			runErr <- app.Run(ctx)
		}()

		select {
		case sig := <-sigChan:
			slog.Info("Received signal, shutting down...", "signal", sig)
			cancel()
			if err := <-runErr; err != nil {
				slog.Error("Error during shutdown", "error", err)
				os.Exit(1)
			}
			slog.Info("Ripcord stopped gracefully")
			return

		case component := <-app.RestartRequests():
			slog.Warn("Recovery requested restart", "component", component)
			cancel()
			if err := <-runErr; err != nil {
				slog.Error("Error while stopping for restart", "error", err)
			}

		case err := <-runErr:
			cancel()
			if err != nil {
				slog.Error("App exited with error", "error", err)
				os.Exit(1)
			}
			return
		}
	}
}
