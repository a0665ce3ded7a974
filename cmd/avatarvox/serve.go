package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/MrWong99/avatarvox/internal/app"
	"github.com/MrWong99/avatarvox/internal/config"
	"github.com/MrWong99/avatarvox/internal/observe"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func serveCmd(root *rootOptions) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the speech HTTP and websocket API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), root, listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "override server.listen_addr")
	return cmd
}

func runServe(ctx context.Context, root *rootOptions, listen string) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Server.ListenAddr = listen
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	providers, err := buildProviders(cfg, newProviderRegistry())
	if err != nil {
		return err
	}
	printStartupSummary(cfg, len(providers.Remote))

	application, err := app.New(ctx, cfg, providers,
		app.WithMetrics(observe.DefaultMetrics()),
		app.WithMetricsHandler(promhttp.Handler()),
	)
	if err != nil {
		return fmt.Errorf("initialise application: %w", err)
	}

	slog.Info("server ready; press Ctrl+C to shut down")
	runErr := application.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	slog.Info("shutdown signal received, stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = errors.Join(runErr, application.Shutdown(shutdownCtx), otelShutdown(shutdownCtx))
	if err == nil {
		slog.Info("goodbye")
	}
	return err
}

func printStartupSummary(cfg *config.Config, remotes int) {
	w := os.Stdout
	fmt.Fprintln(w, "avatarvox "+version)
	fmt.Fprintf(w, "  listen addr      : %s\n", cfg.Server.ListenAddr)
	if remotes == 0 {
		fmt.Fprintln(w, "  remote providers : (none; local engine only)")
	}
	for i, p := range cfg.Providers.Remote {
		role := "fallback"
		if i == 0 {
			role = "primary"
		}
		model := p.Model
		if model == "" {
			model = "default model"
		}
		fmt.Fprintf(w, "  remote provider  : %s / %s (%s)\n", p.Name, model, role)
	}
	fmt.Fprintf(w, "  avatars          : %d\n", len(cfg.Avatars))
	fmt.Fprintf(w, "  cache            : %d entries, ttl %s\n", cfg.Cache.MaxEntries, cfg.Cache.TTL)
	if cfg.Cache.Redis.Addr != "" {
		fmt.Fprintf(w, "  redis            : %s\n", cfg.Cache.Redis.Addr)
	}
}
