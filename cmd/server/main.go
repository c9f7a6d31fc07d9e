package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/sudo-init-do/repairnet/internal/api"
	"github.com/sudo-init-do/repairnet/internal/config"
	"github.com/sudo-init-do/repairnet/internal/kvstore"
	"github.com/sudo-init-do/repairnet/internal/listing"
	"github.com/sudo-init-do/repairnet/internal/logging"
	"github.com/sudo-init-do/repairnet/internal/wallet"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config error: %v", err)
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)

	if err := cfg.Validate(); err != nil {
		logger.Fatalf("config error: %v", err)
	}
	if cfg.Auth.JWTSecret == "" {
		logger.Fatal("JWT_SECRET must be set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := kvstore.Open(ctx, cfg.Store, logger)
	if err != nil {
		logging.LogError(logger, "main", "kvstore.Open", "opening store", cfg.Store.Driver, err)
		os.Exit(1)
	}
	defer store.Close()

	opts := []listing.Option{
		listing.WithLogger(logger),
		listing.WithConcurrency(cfg.Listing.FetchConcurrency),
		listing.WithMaxListings(cfg.Listing.MaxListings),
	}
	if cfg.Listing.Permissive {
		opts = append(opts, listing.Permissive())
	}
	board := listing.NewBoard(listing.NewController(store, opts...), logger)

	// The server still starts when the first load fails; /listings/refresh
	// or the next write will populate the board.
	if snap, err := board.Refresh(ctx); err != nil {
		logger.WithError(err).Warn("initial listing load failed")
	} else {
		logger.WithField("listings", snap.Len()).Info("listings loaded")
	}

	srv := api.NewServer(board, wallet.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL), logger)

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("server starting")
		if err := srv.Echo.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	}
}
