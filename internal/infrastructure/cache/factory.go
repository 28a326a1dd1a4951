package cache

import (
	"context"
	"io"

	"github.com/erp/arledger/internal/application/report"
	"github.com/erp/arledger/internal/infrastructure/config"
	"go.uber.org/zap"
)

// BundleStore is a closable report.BundleStore
type BundleStore interface {
	report.BundleStore
	io.Closer
}

// NewBundleStore creates the configured store. When Redis is selected but
// unreachable and fallback is allowed, an in-memory store is returned.
func NewBundleStore(ctx context.Context, cfg *config.Config, logger *zap.Logger, allowFallback bool) (BundleStore, error) {
	if cfg.Cache.Backend != config.CacheRedis {
		return NewInMemoryBundleStore(cfg.Cache.TTL), nil
	}

	store, err := NewRedisBundleStore(ctx, cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB, cfg.Cache.TTL)
	if err == nil {
		logger.Info("using Redis run snapshot cache", zap.String("addr", cfg.Redis.Addr()))
		return store, nil
	}
	if !allowFallback {
		return nil, err
	}

	logger.Warn("Redis unavailable, falling back to in-memory run snapshot cache. "+
		"Table queries only see runs generated by this instance.",
		zap.Error(err),
	)
	return NewInMemoryBundleStore(cfg.Cache.TTL), nil
}
