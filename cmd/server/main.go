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

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"voyapos/backend/internal/cache"
	"voyapos/backend/internal/config"
	"voyapos/backend/internal/events"
	"voyapos/backend/internal/httpapi"
	"voyapos/backend/internal/logger"
	"voyapos/backend/internal/service"
	"voyapos/backend/internal/shopify"
	"voyapos/backend/internal/store"
	"voyapos/backend/internal/store/memory"
	pgstore "voyapos/backend/internal/store/postgres"
	sqlitestore "voyapos/backend/internal/store/sqlite"
)

const redisKeyPrefix = "voyapos:"

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Environment)
	defer func() { _ = log.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal("invalid security configuration", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var closers []func() error

	repo, closeRepo, err := openRepository(ctx, cfg, log)
	if err != nil {
		log.Fatal("repository unavailable; refusing to start with in-memory fallback", zap.Error(err))
	}
	if closeRepo != nil {
		closers = append(closers, closeRepo)
	}

	cacheStore, locker, closeCache := openCache(ctx, cfg, log)
	if closeCache != nil {
		closers = append(closers, closeCache)
	}

	publisher, closePublisher := openPublisher(cfg, log)
	if closePublisher != nil {
		closers = append(closers, closePublisher)
	}

	var fetcher service.SnapshotFetcher
	if cfg.ShopifyEnabled() {
		fetcher = shopify.New(shopify.Config{
			ShopDomain:  cfg.ShopifyShopDomain,
			AccessToken: cfg.ShopifyAccessToken,
			APIVersion:  cfg.ShopifyAPIVersion,
			Timeout:     cfg.ShopifyTimeout(),
		}, log.Named("shopify"))
		log.Info("inventory snapshot source: shopify", zap.String("shop", cfg.ShopifyShopDomain))
	} else {
		log.Warn("shopify not configured; incremental and rebuild reconciliation will fail")
	}

	svc := service.New(repo, service.Options{
		Cache:             cacheStore,
		Locker:            locker,
		Publisher:         publisher,
		Fetcher:           fetcher,
		Logger:            log.Named("service"),
		CacheTTL:          cfg.CacheTTL(),
		LowStockThreshold: cfg.LowStockThreshold,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), repo, log.Named("auth"))
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, log.Named("http"))

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Rebuilds against a large catalog run inside the request.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("POS backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
	if err := closeAll(closers); err != nil {
		log.Error("close error", zap.Error(err))
	}

	log.Info("server stopped")
}

// openRepository picks postgres when DATABASE_URL is set, then sqlite when
// SQLITE_PATH is set, else the seeded in-memory store.
func openRepository(ctx context.Context, cfg config.Config, log *zap.Logger) (store.Repository, func() error, error) {
	switch {
	case cfg.DatabaseURL != "":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		log.Info("repository: postgres")
		return pg, pg.Close, nil
	case cfg.SQLitePath != "":
		lite, err := sqlitestore.New(ctx, cfg.SQLitePath, log.Named("sqlite"))
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite: %w", err)
		}
		log.Info("repository: sqlite", zap.String("path", cfg.SQLitePath))
		return lite, lite.Close, nil
	default:
		log.Info("repository: in-memory")
		return memory.NewSeeded(), nil, nil
	}
}

// openCache falls back to in-process cache and lock when redis is absent or
// unreachable. The in-process lock only covers this process.
func openCache(ctx context.Context, cfg config.Config, log *zap.Logger) (cache.Cache, cache.Locker, func() error) {
	if cfg.RedisAddr == "" {
		log.Info("cache: in-memory")
		return cache.NewMemory(), cache.NewMemoryLocker(), nil
	}

	client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	redisCache := cache.NewRedis(client, redisKeyPrefix)
	if err := redisCache.Ping(ctx); err != nil {
		log.Warn("redis unavailable, using in-memory cache", zap.Error(err))
		_ = client.Close()
		return cache.NewMemory(), cache.NewMemoryLocker(), nil
	}
	log.Info("cache: redis", zap.String("addr", cfg.RedisAddr))
	return redisCache, cache.NewRedisLocker(client, redisKeyPrefix), client.Close
}

func openPublisher(cfg config.Config, log *zap.Logger) (events.Publisher, func() error) {
	if !cfg.KafkaEnabled() {
		log.Info("events: disabled")
		return events.Noop{}, nil
	}

	publisher, err := events.NewKafkaPublisher(events.KafkaConfig{
		Brokers:        cfg.KafkaBrokers,
		ClientID:       cfg.KafkaClientID,
		Acks:           cfg.KafkaAcks,
		Retries:        cfg.KafkaRetries,
		TopicSales:     cfg.KafkaTopicSales,
		TopicInventory: cfg.KafkaTopicInventory,
	}, log.Named("events"))
	if err != nil {
		log.Warn("kafka unavailable, events disabled", zap.Error(err))
		return events.Noop{}, nil
	}
	log.Info("events: kafka", zap.Strings("brokers", cfg.KafkaBrokers))
	return publisher, publisher.Close
}

func closeAll(closers []func() error) error {
	var err error
	for i := len(closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, closers[i]())
	}
	return err
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if (cfg.ShopifyShopDomain == "") != (cfg.ShopifyAccessToken == "") {
		return fmt.Errorf("SHOPIFY_SHOP_DOMAIN and SHOPIFY_ACCESS_TOKEN must be set together")
	}
	switch cfg.KafkaAcks {
	case "0", "1", "all", "-1":
	default:
		return fmt.Errorf("KAFKA_ACKS must be one of 0, 1, all")
	}
	return nil
}
