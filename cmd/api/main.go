package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atharvakonge/classroom-market/internal/apperr"
	"github.com/atharvakonge/classroom-market/internal/auth"
	"github.com/atharvakonge/classroom-market/internal/cache"
	"github.com/atharvakonge/classroom-market/internal/config"
	"github.com/atharvakonge/classroom-market/internal/db"
	"github.com/atharvakonge/classroom-market/internal/handlers"
	"github.com/atharvakonge/classroom-market/internal/identity"
	"github.com/atharvakonge/classroom-market/internal/ledger"
	"github.com/atharvakonge/classroom-market/internal/logger"
	"github.com/atharvakonge/classroom-market/internal/market"
	"github.com/atharvakonge/classroom-market/internal/portfolio"
	"github.com/atharvakonge/classroom-market/internal/report"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("failed to load config")
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer store.Close()

	var rankingCache portfolio.RankingCache
	if cfg.Redis.Addr != "" {
		client, err := cache.Connect(ctx, cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, ranking cache disabled")
		} else {
			defer client.Close()
			rankingCache = cache.NewRedisCache(client, cfg.Redis.RankingTTL, log)
		}
	}

	hasher := auth.NewHasher(cfg.Auth.BcryptCost)
	hub := handlers.NewHub(log)
	identitySvc := identity.NewService(store, hasher, log)
	engine := ledger.NewEngine(store, hasher, log, ledger.WithWorkers(cfg.BatchWorkers))

	bootstrapAdmin(ctx, identitySvc, cfg.Admin, log)

	tradeProcessor := handlers.NewTradeProcessor(engine, cfg.TradeWorkers, log)
	tradeProcessor.Start()
	defer tradeProcessor.Stop()

	h := handlers.New(handlers.Deps{
		Store:     store,
		Identity:  identitySvc,
		Engine:    engine,
		Registry:  market.NewRegistry(store, hub, log),
		Portfolio: portfolio.NewService(store, rankingCache, log),
		Reports:   report.NewXLSXGenerator(log),
		Tokens:    auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		Trades:    tradeProcessor,
		Hub:       hub,
		Log:       log,
	})

	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery(), handlers.RequestLogger(log))
	h.Register(router)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("storage", cfg.Storage).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (db.Store, error) {
	if cfg.Storage == "memory" {
		log.Warn().Msg("using in-memory storage, data is lost on restart")
		return db.NewMemory(), nil
	}
	return db.OpenPostgres(ctx, cfg.Postgres, log)
}

// bootstrapAdmin creates the configured administrator on an empty database
func bootstrapAdmin(ctx context.Context, svc *identity.Service, admin config.Admin, log zerolog.Logger) {
	_, err := svc.Bootstrap(ctx, admin.Username, admin.Password)
	switch {
	case err == nil:
		log.Info().Str("username", admin.Username).Msg("administrator account created")
	case apperr.KindOf(err) == apperr.KindDuplicateUsername:
		log.Debug().Msg("administrator already exists")
	default:
		log.Error().Err(err).Msg("failed to create administrator")
	}
}
