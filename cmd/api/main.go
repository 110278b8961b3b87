package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"boxrate/internal/catalog"
	"boxrate/internal/config"
	"boxrate/internal/db"
	"boxrate/internal/logger"
	"boxrate/internal/packing"
	"boxrate/internal/rate"
	"boxrate/internal/server"
	"boxrate/internal/shopify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// logger depends on config; fall back to a default one
		zap.NewExample().Fatal("failed to load config", zap.Error(err))
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		zap.NewExample().Fatal("failed to build logger", zap.Error(err))
	}
	defer func() { _ = log.Sync() }()

	boxes, err := catalog.Load(cfg.Packing.CatalogPath)
	if err != nil {
		log.Fatal("failed to load box catalog", zap.String("path", cfg.Packing.CatalogPath), zap.Error(err))
	}

	normalizer := rate.NewNormalizer(cfg.RateConfig(), log)
	gateway := rate.NewByName(cfg.Rates.Provider, cfg.ShipStationGateway(), normalizer, log)

	var cache shopify.Cache
	if addr := strings.TrimSpace(cfg.Redis.Address); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Warn("redis unreachable; dimension cache disabled", zap.String("addr", addr), zap.Error(err))
		} else {
			cache = shopify.NewRedisCache(rdb, time.Duration(cfg.Redis.TTL)*time.Second, log)
		}
		cancel()
	}

	opts := server.Options{
		Catalog:        boxes,
		Engine:         packing.NewEngine(packing.PivotPacker{}, cfg.Packing.DunnageRatio, log),
		Gateway:        gateway,
		Normalizer:     normalizer,
		FallbackBox:    cfg.FallbackBox(),
		FallbackWeight: cfg.Packing.FallbackWeight,
		MaxItems:       cfg.Packing.MaxItems,
		WebhookSecret:  cfg.Shopify.WebhookSecret,
		Currency:       cfg.Shopify.Currency,
		Logger:         log,
	}

	if strings.TrimSpace(cfg.Shopify.StoreDomain) != "" {
		opts.Lookup = shopify.NewClient(shopify.Config{
			StoreDomain: cfg.Shopify.StoreDomain,
			AccessToken: cfg.Shopify.AccessToken,
			APIVersion:  cfg.Shopify.APIVersion,
			Timeout:     config.GetDuration(cfg.Shopify.Timeout),
			Concurrency: cfg.Shopify.Concurrency,
		}, cache, log)
	} else {
		log.Warn("shopify store domain not set; cart lookups disabled")
	}

	if strings.TrimSpace(cfg.Database.URL) != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pool, err := db.NewPool(ctx, cfg.Database.URL)
		if err != nil {
			log.Fatal("failed to connect db", zap.Error(err))
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			log.Fatal("database ping failed", zap.Error(err))
		}
		store := db.NewEstimateStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			log.Fatal("failed to prepare estimates table", zap.Error(err))
		}
		cancel()
		opts.Store = store
	} else {
		log.Info("database url not set; estimates will not be persisted")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           server.New(opts),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening",
			zap.String("addr", srv.Addr),
			zap.String("rate_provider", cfg.Rates.Provider),
			zap.Int("boxes", len(boxes)),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}
