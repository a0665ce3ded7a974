package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/avatarvox/internal/app"
	"github.com/MrWong99/avatarvox/internal/config"
)

const shutdownTimeout = 15 * time.Second

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "avatarvox",
		Short:         "Avatar speech synthesis with remote providers and a local fallback",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override server.log_level (debug, info, warn, error)")

	cmd.AddCommand(
		serveCmd(opts),
		sayCmd(opts),
		dialogueCmd(opts),
		probeCmd(),
	)
	return cmd
}

// loadConfig reads the configuration and installs the process logger.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", o.configPath)
		}
		return nil, err
	}
	if o.logLevel != "" {
		lvl := config.LogLevel(o.logLevel)
		if !lvl.IsValid() {
			return nil, fmt.Errorf("--log-level %q is invalid", o.logLevel)
		}
		cfg.Server.LogLevel = lvl
	}
	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	return cfg, nil
}

// withApp builds the application, runs its background workers for the
// duration of fn, and shuts it down afterwards.
func (o *rootOptions) withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	providers, err := buildProviders(cfg, newProviderRegistry())
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg, providers)
	if err != nil {
		return err
	}

	workerCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- a.RunWorkers(workerCtx) }()

	runErr := fn(ctx, a)

	stop()
	if err := <-done; err != nil {
		slog.Warn("background worker error", "err", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(runErr, a.Shutdown(shutdownCtx))
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
