package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stockfolio/internal/auth"
	"stockfolio/internal/cache"
	"stockfolio/internal/config"
	"stockfolio/internal/database"
	"stockfolio/internal/handlers"
	"stockfolio/internal/market"
	"stockfolio/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// store is what the services and the health check need from persistence.
type store interface {
	service.HoldingStore
	service.UserStore
	service.WishlistStore
	handlers.Pinger
}

func main() {
	logger := logrus.New()
	decimal.MarshalJSONWithoutQuotes = true

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Fatal(err)
	}
	cfg.Logger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var st store
	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn("STORE=memory: data is lost on restart")
		st = database.NewMemory()
	default:
		db, err := initDB(cfg.PostgresURL)
		if err != nil {
			logger.Fatalf("db connect failed: %v", err)
		}
		defer db.Close()
		repo := database.New(db, logger)
		if err := repo.Migrate(ctx); err != nil {
			logger.Fatalf("migrate failed: %v", err)
		}
		st = repo
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatalf("invalid REDIS_URL: %v", err)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warnf("redis ping failed, caches will miss until it recovers: %v", err)
		}
	}

	timeout := market.WithTimeout(cfg.UpstreamTimeout)
	withLog := market.WithLogger(logger)
	finnhub := market.NewFinnhub(cfg.FinnhubKey, timeout, withLog)
	alpha := market.NewAlphaVantage(cfg.AlphaVantageKey, timeout, withLog)
	providers := []market.QuoteProvider{finnhub, alpha}
	if cfg.YahooFallback {
		providers = append(providers, market.NewYahoo(timeout, withLog))
	}
	if cfg.FinnhubKey == "" && cfg.AlphaVantageKey == "" {
		logger.Warn("no FINNHUB_API_KEY or ALPHAVANTAGE_API_KEY set; quotes limited to the keyless fallback")
	}
	logos := market.NewLogos(cfg.LogoBaseURL)

	prices := service.NewPriceService(
		market.NewQuoteChain(logger, providers...),
		newCache[market.Quote](rdb, "quote:", cfg.PriceCacheTTL, logger),
		logger,
	)
	tokens := auth.NewTokens(cfg.JWTSecret, cfg.JWTTTL)

	h := handlers.NewHandler(handlers.Deps{
		Portfolio: service.NewPortfolioService(st, prices, logos, logger),
		Users:     service.NewUserService(st, tokens, logger),
		Wishlist:  service.NewWishlistService(st, prices, logos, logger),
		Markets: service.NewMarketService(service.MarketDeps{
			Search:      market.NewSearchChain(logger, logos, finnhub, alpha),
			SearchCache: newCache[[]market.SearchResult](rdb, "search:", cfg.SearchCacheTTL, logger),
			Rates:       market.NewExchangeRates(nil, timeout, withLog),
			RateCache:   newCache[service.ExchangeRate](rdb, "fx:", cfg.SearchCacheTTL, logger),
			FX:          service.FXConfig{Base: cfg.FXBase, Target: cfg.FXTarget, Fallback: cfg.FXFallbackRate},
			News:        finnhub,
			Prices:      prices,
			Logos:       logos,
		}, logger),
		Tokens: tokens,
		Store:  st,
	}, logger)

	rg := gin.Default()
	h.Register(rg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           rg,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Infof("server starting on :%s (store=%s)", cfg.Port, cfg.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
}

// newCache shares entries through Redis when it is configured and keeps them
// in process otherwise.
func newCache[V any](rdb *redis.Client, prefix string, ttl time.Duration, log *logrus.Logger) cache.Cache[V] {
	if rdb != nil {
		return cache.NewRedis[V](rdb, "stockfolio:"+prefix, ttl, log)
	}
	return cache.NewMemory[V](ttl, nil)
}

func initDB(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	return db, nil
}
