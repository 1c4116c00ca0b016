package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/ragent/internal/app"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(built *app.BuildResult) error {
				return serve(cmd.Context(), built)
			})
		},
	}
}

func serve(ctx context.Context, built *app.BuildResult) error {
	cfg := built.Config
	logger := built.Logger
	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           built.API.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", "addr", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", "error", err)
			return httpServer.Close()
		}
		return nil
	})
	if built.Corpus != nil && cfg.CorpusWatch {
		g.Go(func() error {
			logger.Info("watching corpus", "chunks", built.Corpus.Size())
			if err := built.Corpus.Watch(gctx, 500*time.Millisecond); err != nil {
				logger.Warn("corpus watch stopped", "error", err)
			}
			return nil
		})
	}

	err := g.Wait()
	logger.Info("shutdown complete")
	return err
}
