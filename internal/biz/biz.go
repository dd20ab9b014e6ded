// Package biz contains business logic layer implementations.
// This layer holds the resilience core: admission control, circuit
// breaking, dispatch, workers, metrics, and degradation handling.
package biz

import (
	"FuseLane/internal/data"

	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewRateLimiterUseCase,
	NewCircuitBreakerUseCase,
	NewDispatcherUseCase,
	NewWorkerPoolUseCase,
	NewMetricsCollectorUseCase,
	NewConcurrencyOptimizerUseCase,
	NewDeadLetterUseCase,
	NewDegradationManagerUseCase,
	NewAggregationBufferUseCase,
	// Bind data layer implementations to biz layer interfaces
	wire.Bind(new(DeadLetterRepo), new(*data.DeadLetterRepo)),
	wire.Bind(new(BufferStateRepo), new(*data.BufferStateRepo)),
	wire.Bind(new(MetricsAggregateRepo), new(*data.MetricsAggregateRepo)),
)
