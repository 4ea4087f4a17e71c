package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"diffgrid/internal/cache/resultcache"
	"diffgrid/internal/gateway/config"
	"diffgrid/internal/gateway/repository/blob"
)

type cacheStores struct {
	origin blob.Store
	store  blob.Store
	hot    *resultcache.CachedStore
	closer io.Closer
}

// initStores picks the cache origin: Postgres when a DSN is set, then S3,
// then a local directory, then memory. A hot LRU tier is layered on top unless disabled.
func initStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*cacheStores, error) {
	origin, closer, err := chooseOrigin(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	stores := &cacheStores{origin: origin, store: origin, closer: closer}
	if cfg.Cache.HotEntries <= 0 {
		return stores, nil
	}
	cached, err := resultcache.NewCachedStore(origin, resultcache.CacheConfig{MaxEntries: cfg.Cache.HotEntries})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize hot cache: %w", err)
	}
	logger.Info("cache store: hot tier enabled", "entries", cfg.Cache.HotEntries)
	stores.store = cached
	stores.hot = cached
	return stores, nil
}

func chooseOrigin(ctx context.Context, cfg *config.Config, logger *slog.Logger) (blob.Store, io.Closer, error) {
	if dsn := strings.TrimSpace(cfg.Cache.PostgresDSN); dsn != "" {
		pg, err := blob.OpenPostgresStore(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize postgres cache store: %w", err)
		}
		logger.Info("cache store: postgres")
		return pg, pg, nil
	}
	if cfg.Cache.CanUseS3() {
		s3Cfg := blob.S3Config{
			Endpoint:     cfg.Cache.S3.Endpoint,
			Region:       cfg.Cache.S3.Region,
			AccessKey:    cfg.Cache.S3.AccessKey,
			SecretKey:    cfg.Cache.S3.SecretKey,
			Bucket:       cfg.Cache.Bucket,
			UseSSL:       cfg.Cache.S3.UseSSL,
			CreateBucket: strings.EqualFold(cfg.Env, "local"),
		}
		s3Store, err := blob.NewS3Store(s3Cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize s3 cache store: %w", err)
		}
		logger.Info("cache store: s3", "bucket", s3Cfg.Bucket, "endpoint", s3Cfg.Endpoint)
		return s3Store, nil, nil
	}
	if dir := strings.TrimSpace(cfg.Cache.Dir); dir != "" {
		fileStore, err := blob.NewFileStore(dir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize file cache store: %w", err)
		}
		logger.Info("cache store: directory", "root", dir)
		return fileStore, nil, nil
	}
	logger.Warn("cache store: in-memory fallback, results are lost on restart")
	return blob.NewMemoryStore(), nil, nil
}
