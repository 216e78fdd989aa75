// Package bucketcfg resolves per-bucket webhook policy with a Redis
// read-through cache in front of the store, so the hot ingest path
// does not hit the database for every delivery.
package bucketcfg

import (
	"context"
	"time"

	"b2monitor/internal/models"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cacheTTL = 5 * time.Minute

// ConfigStore is the slice of the persistent store this package reads.
type ConfigStore interface {
	GetBucketConfig(ctx context.Context, bucketName string) (*models.BucketWebhookConfig, error)
}

type Resolver struct {
	store  ConfigStore
	cache  *redis.Client
	logger *zap.Logger
}

// NewResolver builds a resolver. cache may be nil, in which case every
// lookup goes to the store.
func NewResolver(store ConfigStore, cache *redis.Client, logger *zap.Logger) *Resolver {
	return &Resolver{store: store, cache: cache, logger: logger}
}

// Resolve returns the bucket's webhook config, or nil when the bucket
// has none. Cache failures fall back to the store rather than failing
// the lookup.
func (r *Resolver) Resolve(ctx context.Context, bucketName string) (*models.BucketWebhookConfig, error) {
	if r.cache == nil {
		return r.store.GetBucketConfig(ctx, bucketName)
	}

	key := "bucket_config:" + bucketName
	cached, err := r.cache.Get(ctx, key).Result()
	if err == nil {
		var cfg models.BucketWebhookConfig
		if err := json.Unmarshal([]byte(cached), &cfg); err == nil {
			return &cfg, nil
		}
		r.logger.Warn("Discarding undecodable cached bucket config",
			zap.String("bucket", bucketName))
	} else if err != redis.Nil {
		r.logger.Warn("Bucket config cache read failed, using store",
			zap.Error(err),
			zap.String("bucket", bucketName))
	}

	cfg, err := r.store.GetBucketConfig(ctx, bucketName)
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		if body, err := json.Marshal(cfg); err == nil {
			if err := r.cache.Set(ctx, key, body, cacheTTL).Err(); err != nil {
				r.logger.Debug("Bucket config cache write failed",
					zap.Error(err),
					zap.String("bucket", bucketName))
			}
		}
	}
	return cfg, nil
}

// Invalidate drops a bucket's cached config, for use after the
// configuration subsystem changes it.
func (r *Resolver) Invalidate(ctx context.Context, bucketName string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Del(ctx, "bucket_config:"+bucketName).Err(); err != nil {
		r.logger.Debug("Bucket config cache invalidation failed",
			zap.Error(err),
			zap.String("bucket", bucketName))
	}
}
