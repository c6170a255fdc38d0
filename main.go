package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"
	_ "time/tzdata"

	"lookback-cloud/config"
	"lookback-cloud/logging"
	"lookback-cloud/streams"
)

const VERSION = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "lookback: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	dotenvErr := config.LoadDotEnv()

	cfg, err := config.Load("")
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if dotenvErr != nil {
		logger.Warn().Err(dotenvErr).Msg(".env could not be parsed, using environment variables")
	}
	logger.Info().Str("version", VERSION).Msg("starting LookBack server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, err := streams.Connect(ctx, cfg.Redis.URL)
	if err != nil {
		return err
	}
	defer redisClient.Close()
	logger.Info().Msg("connected to redis")

	srv, err := newServer(cfg, redisClient, logger, serverOptions{})
	if err != nil {
		return err
	}
	if !cfg.GoogleEnabled() {
		logger.Warn().Msg("calendar oauth credentials not provided, google login and sync disabled")
	}

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := srv.queue.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("sync worker stopped")
		}
	}()

	if cfg.Sync.Enabled && cfg.GoogleEnabled() {
		if err := srv.scheduler.AddJob(cfg.Sync.WatchRenewSchedule, "watch-renew", func(ctx context.Context) error {
			renewed, err := srv.watcher.RenewExpiring(ctx, cfg.Sync.WatchRenewBefore)
			if renewed > 0 {
				logger.Info().Int("renewed", renewed).Msg("renewed calendar watch channels")
			}
			return err
		}); err != nil {
			return err
		}
		if err := srv.scheduler.Start(); err != nil {
			return err
		}
		defer func() { <-srv.scheduler.Stop().Done() }()
	}

	httpServer := &http.Server{
		Handler:      srv.routes(),
		Addr:         "0.0.0.0:" + strconv.Itoa(cfg.Server.Port),
		WriteTimeout: 180 * time.Second,
		ReadTimeout:  180 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}
	logger.Info().Msg("shutting down server")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	<-workerDone

	logger.Info().Msg("server exited")
	return nil
}
