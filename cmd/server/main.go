package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Simplici0/montaje/internal/config"
	"github.com/Simplici0/montaje/internal/db"
	"github.com/Simplici0/montaje/internal/migrations"
	"github.com/Simplici0/montaje/internal/observability"
	"github.com/Simplici0/montaje/internal/seed"
	"github.com/Simplici0/montaje/internal/store"
)

func main() {
	cfg := config.Load()

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck
	for _, w := range cfg.Warnings {
		logger.Warn("config", zap.String("warning", w))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer database.Close()

	if cfg.IsDev() {
		if err := migrations.Up(ctx, database, logger); err != nil {
			logger.Fatal("failed to run database migrations", zap.Error(err))
		}
		stats, err := seed.Run(ctx, database)
		if err != nil {
			logger.Fatal("failed to seed database", zap.Error(err))
		}
		logger.Info("seeded database", zap.Int("inserts", stats.Inserts), zap.Int("updates", stats.Updates))
	}

	srv := newServer(ctx, serverOptions{
		catalog:       store.NewCatalog(database),
		saved:         store.NewSessions(database),
		logger:        logger,
		debounce:      cfg.Debounce,
		decimals:      cfg.PriceDecimals,
		lookupTimeout: cfg.LookupTimeout,
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.closeAll(shutdownCtx)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", httpServer.Addr), zap.String("env", cfg.AppEnv))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(observability.RequestLogger(s.logger))

	r.Get("/presses", s.handlePresses)
	r.Post("/layout", s.handleLayout)
	r.Post("/tiers/validate", s.handleValidateTiers)

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Get("/{id}", s.handleGetSession)
		r.Patch("/{id}/fields", s.handleSetFields)
		r.Put("/{id}/tiers", s.handleSetTiers)
		r.Post("/{id}/save", s.handleSaveSession)
		r.Delete("/{id}", s.handleDeleteSession)
	})

	r.Handle("/metrics", promhttp.Handler())
	return r
}
