package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/notesync/syncing-api/internal/auth"
	"github.com/notesync/syncing-api/internal/config"
	"github.com/notesync/syncing-api/internal/db"
	"github.com/notesync/syncing-api/internal/events"
	"github.com/notesync/syncing-api/internal/httpapi"
	"github.com/notesync/syncing-api/internal/repo"
	"github.com/notesync/syncing-api/internal/service/itemservice"
	"github.com/notesync/syncing-api/internal/sharedvault"
	"github.com/notesync/syncing-api/internal/timer"
)

func main() {
	// Configure structured logging
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "syncing-api").Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Pretty logging for local dev
	if cfg.DevMode() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	if cfg.DatabaseURL == "" {
		log.Fatal().Msg("SYNC_DATABASE_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Open(ctx, cfg.DatabaseURL, db.PoolOptions{})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	svc := itemservice.New(
		repo.NewPGItemRepository(pool),
		sharedvault.NewPGUserRepository(pool),
		events.NewPGUserEventService(pool),
		events.LogPublisher{},
		timer.NewMonotonic(),
		itemservice.Config{
			DefaultLimit:            cfg.DefaultLimit,
			MaxSyncLimit:            cfg.MaxSyncLimit,
			ContentTransferBudget:   cfg.ContentTransferBudget,
			RevisionFrequencyMicros: cfg.RevisionFrequency.Microseconds(),
			ConflictToleranceMicros: cfg.ConflictTolerance.Microseconds(),
		},
	)

	srv := &httpapi.Server{Items: svc}
	jwtCfg := auth.JWTCfg{
		HS256Secret: cfg.JWTHS256Secret,
		DevMode:     cfg.DevMode(),
	}

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Routes(jwtCfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("server exited with error")
	}
	log.Info().Msg("server stopped")
}
