// Package data provides data access layer implementations.
// It handles the shared low-latency store (Redis) and dead-letter
// persistence (MySQL).
package data

import (
	"FuseLane/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewRedisClient,
	NewStoreClient,
	NewMySQLClient,
	NewDeadLetterRepo,
	NewBufferStateRepo,
	NewMetricsAggregateRepo,
)

// Data contains all data layer dependencies.
type Data struct {
	redisClient *redis.Client
	store       StoreClient
}

// NewData creates a new Data instance with all data layer dependencies.
// Redis connection failure does not prevent application startup
// (graceful degradation: buffering fails open, metrics flushes retry).
func NewData(_ *conf.Data, logger log.Logger, rdb *redis.Client, store StoreClient) (*Data, func(), error) {
	helper := log.NewHelper(logger)

	if rdb == nil {
		helper.Warn("Redis client is nil, buffer state and metrics aggregation will be unavailable")
	}

	d := &Data{
		redisClient: rdb,
		store:       store,
	}

	cleanup := func() {
		helper.Info("closing the data resources")
	}

	return d, cleanup, nil
}

// GetStore returns the shared low-latency store client.
func (d *Data) GetStore() StoreClient {
	return d.store
}

// GetRedisClient returns the Redis client for advanced operations.
func (d *Data) GetRedisClient() *redis.Client {
	return d.redisClient
}
