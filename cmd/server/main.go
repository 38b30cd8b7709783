package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/folio-labs/portfolio-service/internal/analysis"
	"github.com/folio-labs/portfolio-service/internal/api"
	"github.com/folio-labs/portfolio-service/internal/auth"
	"github.com/folio-labs/portfolio-service/internal/config"
	"github.com/folio-labs/portfolio-service/internal/ledger"
	"github.com/folio-labs/portfolio-service/internal/logger"
	"github.com/folio-labs/portfolio-service/internal/marketdata"
	"github.com/folio-labs/portfolio-service/internal/metrics"
	"github.com/folio-labs/portfolio-service/internal/model"
	"github.com/folio-labs/portfolio-service/internal/portfolio"
	"github.com/folio-labs/portfolio-service/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := logger.New(logger.Config{})
		l.Fatal().Err(err).Msg("invalid configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	logger.SetGlobalLogger(log)

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("database connection failed")
		}
		cleanup = append(cleanup, pool.Close)

		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("schema migration failed")
		}
		st = pg
		log.Info().Msg("connected to PostgreSQL")

		// Wrap with Redis read-through cache for assets and asset types.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				log.Fatal().Err(err).Msg("invalid REDIS_URL")
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			log.Info().Dur("ttl", cfg.CacheTTL).Msg("Redis cache enabled")
		}
	} else {
		log.Warn().Msg("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	if err := st.EnsureAssetTypes(context.Background(), model.DefaultAssetTypes); err != nil {
		log.Fatal().Err(err).Msg("seeding asset types failed")
	}

	// --- Market data ---
	isin := marketdata.NewISINResolver(cfg.ISINLookupURL, cfg.ISINTimeout)
	market, err := marketdata.NewYahooClient(marketdata.YahooConfig{
		Timeout: cfg.MarketDataTimeout,
	}, isin, logger.Component(log, "marketdata"))
	if err != nil {
		log.Fatal().Err(err).Msg("market data client failed")
	}
	cleanup = append(cleanup, market.Close)

	// --- Services ---
	positions := ledger.New(st, logger.Component(log, "ledger"))
	analyzer := analysis.NewAnalyzer(st, market, analysis.Config{
		TickerTimeout: cfg.AnalysisTickerTimeout,
		Workers:       cfg.AnalysisWorkers,
	}, logger.Component(log, "analysis"))
	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTExpiry)
	authSvc := auth.NewService(st, tokens, logger.Component(log, "auth"))
	portfolioSvc := portfolio.NewService(st, positions, analyzer, market, logger.Component(log, "portfolio"))

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(api.AccessLog(logger.Component(log, "http")))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"portfolio-service"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	api.NewServer(authSvc, portfolioSvc, market, logger.Component(log, "api")).Mount(r)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("portfolio-service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Info().Msg("shutting down portfolio-service...")
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("portfolio-service stopped")
}
