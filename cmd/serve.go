package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/UnknownOlympus/cartograph/internal/api"
	"github.com/UnknownOlympus/cartograph/internal/config"
	"github.com/UnknownOlympus/cartograph/internal/queue"
	"github.com/UnknownOlympus/cartograph/internal/repository"
	"github.com/UnknownOlympus/cartograph/internal/service"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the HTTP API, the database poller and the queue consumer",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	// Create a context that will be canceled when an interrupt signal is received.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.MustLoad()
	logger := setupLogger(cfg.Env, os.Stdout)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}

	group, gctx := errgroup.WithContext(ctx)
	opts := []api.Option{api.WithMetrics(a.reg)}

	if cfg.Database.Configured() {
		dtb, dbErr := repository.NewDatabase(
			ctx, cfg.Database.Host, cfg.Database.Port, cfg.Database.User, cfg.Database.Password, cfg.Database.Name,
		)
		if dbErr != nil {
			return fmt.Errorf("failed to connect to DB: %w", dbErr)
		}
		defer dtb.Close()

		repo := repository.NewRepository(dtb, logger)
		if err = repo.EnsureSchema(ctx); err != nil {
			return err
		}
		opts = append(opts, api.WithDatabase(repo))

		if cfg.Poll.Interval > 0 {
			geoService := service.NewGeocodingService(logger, repo, a.processor(), cfg.Poll.Interval, cfg.Poll.Limit)
			group.Go(func() error {
				geoService.Run(gctx)
				return nil
			})
		}
	}

	if cfg.AMQP.URL != "" {
		conn, ch, amqpErr := queue.Dial(cfg.AMQP.URL)
		if amqpErr != nil {
			return amqpErr
		}
		defer conn.Close()

		consumer := queue.NewConsumer(logger, ch, a.runner(), cfg.AMQP.Queue, cfg.AMQP.Prefetch)
		group.Go(func() error { return consumer.Run(gctx) })
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           api.NewServer(logger, a.runner(), a.manager, opts...).Routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	group.Go(func() error {
		logger.InfoContext(gctx, "Starting API server", "port", cfg.Port)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		logger.InfoContext(ctx, "Shutdown signal received. Stopping application...")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	logger.InfoContext(ctx, "Application started. Press Ctrl+C to stop.")

	if err = group.Wait(); err != nil {
		logger.ErrorContext(ctx, "Application stopped with error", "error", err)
		return err
	}

	logger.InfoContext(ctx, "Application stopped gracefully.")
	return nil
}
