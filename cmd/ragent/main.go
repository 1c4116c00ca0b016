package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ent0n29/ragent/internal/app"
	"github.com/ent0n29/ragent/internal/config"
	"github.com/ent0n29/ragent/internal/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ragent",
		Short:         "Retrieval-augmented NDA template assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCmd(),
		newChatCmd(),
		newQueryCmd(),
		newSessionsCmd(),
	)
	return root
}

func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("config error: %w", err)
	}
	return cfg, observability.NewLogger(cfg.LogLevel, cfg.LogFormat), nil
}

// withApp builds the full component graph, runs fn and releases it.
func withApp(ctx context.Context, fn func(*app.BuildResult) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	built, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := built.Cleanup(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("cleanup failed", "error", err)
		}
	}()
	return fn(built)
}
