package data

import (
	"context"
	"time"

	"FuseLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// MetricsAggregateRepo implements biz.MetricsAggregateRepo on the shared
// store. Each aggregate field is a plain counter so dashboards and other
// processes can read them with simple gets.
type MetricsAggregateRepo struct {
	store  StoreClient
	logger *log.Helper
}

// NewMetricsAggregateRepo creates a new metrics aggregate repository.
func NewMetricsAggregateRepo(d *Data, logger log.Logger) *MetricsAggregateRepo {
	return &MetricsAggregateRepo{
		store:  d.GetStore(),
		logger: log.NewHelper(logger),
	}
}

// IncrementAggregate adds a flush delta to the job type's counters and
// refreshes their TTL to the trailing window length.
func (r *MetricsAggregateRepo) IncrementAggregate(ctx context.Context, jobType string, delta *model.MetricsAggregate, ttl time.Duration) error {
	fields := map[string]int64{
		"count":            delta.Count,
		"success_count":    delta.SuccessCount,
		"failure_count":    delta.FailureCount,
		"total_wait_ms":    delta.TotalWaitMs,
		"total_service_ms": delta.TotalServiceMs,
		"total_attempts":   delta.TotalAttempts,
	}

	for field, value := range fields {
		if value == 0 {
			continue
		}
		key := BuildStoreKey(StoreKeyMetrics, jobType, field)
		if _, err := r.store.Increment(ctx, key, value); err != nil {
			return err
		}
		if err := r.store.Expire(ctx, key, ttl); err != nil {
			r.logger.Warnf("Failed to set metrics TTL for %s: %v", key, err)
		}
	}

	return nil
}
