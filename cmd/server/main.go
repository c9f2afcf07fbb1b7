package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/uberbtc/backend/internal/api"
	"github.com/uberbtc/backend/internal/coincheck"
	"github.com/uberbtc/backend/internal/config"
	"github.com/uberbtc/backend/internal/db"
	"github.com/uberbtc/backend/internal/ledger"
	"github.com/uberbtc/backend/internal/pricecache"
)

// Main entry point: sets up database, exchange client, ledger service, and
// HTTP server.
func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := db.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer store.Close()

	client := coincheck.NewClient(cfg.ExchangeURL)

	service, err := ledger.NewService(store, client, log)
	if err != nil {
		log.Fatal("failed to create ledger service", zap.Error(err))
	}

	// Price-change figure for the website: last price against the
	// midpoint of the day's range, cached for the configured window.
	prices := pricecache.New(cfg.PriceCacheTTL(), func(ctx context.Context) (float64, error) {
		t, err := client.GetTicker(ctx, ledger.SupportedPair)
		if err != nil {
			return 0, err
		}
		mid := (t.High + t.Low) / 2
		if mid == 0 {
			return 0, nil
		}
		return (t.Last - mid) / mid * 100, nil
	})

	handler := api.NewHandler(service, client, prices, log)
	feed := api.NewTickerFeed(client, ledger.SupportedPair, log)

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "x-user-id", "x-api-key", "x-api-secret"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Get("/ws/ticker", feed.Handle)
	r.Mount("/", handler.Routes())

	go feed.Run(ctx, cfg.TickerInterval())

	srv := &http.Server{Addr: cfg.Addr, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("shutdown failed", zap.Error(err))
		}
	}()

	log.Info("starting server", zap.String("addr", cfg.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server failed", zap.Error(err))
	}
	log.Info("server stopped")
}
