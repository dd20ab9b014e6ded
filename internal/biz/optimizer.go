package biz

import (
	"context"
	"math"

	"FuseLane/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
)

// Recommendation is the optimizer's advisory sizing output for one job
// type. It is read-only reporting: pools are never resized automatically.
type Recommendation struct {
	JobType            string  `json:"job_type"`
	Tier               string  `json:"tier"`
	ArrivalRate        float64 `json:"arrival_rate_per_sec"`
	MeanServiceTimeSec float64 `json:"mean_service_time_sec"`
	CurrentConcurrency int32   `json:"current_concurrency"`
	Utilization        float64 `json:"utilization"`
	RecommendedWorkers int32   `json:"recommended_workers"`
}

// ConcurrencyOptimizerUseCase recommends worker-pool sizing from metrics
// aggregates using the utilization form of Little's Law:
// rho = lambda / (c * mu), sized so rho lands at the target utilization.
type ConcurrencyOptimizerUseCase struct {
	metrics    *MetricsCollectorUseCase
	dispatcher *DispatcherUseCase
	tiers      map[string]*conf.TierPolicy
	target     float64
	logger     *log.Helper
}

// NewConcurrencyOptimizerUseCase creates the optimizer.
func NewConcurrencyOptimizerUseCase(rc *conf.Resilience, metrics *MetricsCollectorUseCase, dispatcher *DispatcherUseCase, logger log.Logger) *ConcurrencyOptimizerUseCase {
	target := 0.7
	if rc.Metrics != nil && rc.Metrics.TargetUtilization > 0 {
		target = rc.Metrics.TargetUtilization
	}
	return &ConcurrencyOptimizerUseCase{
		metrics:    metrics,
		dispatcher: dispatcher,
		tiers:      rc.Tiers,
		target:     target,
		logger:     log.NewHelper(logger),
	}
}

// Recommend computes the sizing recommendation for one job type over the
// trailing window. Returns ok=false when the window holds no completed
// work to reason about.
func (uc *ConcurrencyOptimizerUseCase) Recommend(jobType string) (*Recommendation, bool) {
	agg := uc.metrics.Aggregate(jobType)
	if agg.Count == 0 || agg.WindowSeconds <= 0 {
		return nil, false
	}

	tier, ok := uc.dispatcher.TierFor(jobType)
	if !ok {
		return nil, false
	}

	lambda := float64(agg.Count) / agg.WindowSeconds
	meanServiceSec := float64(agg.TotalServiceMs) / float64(agg.Count) / 1000
	if meanServiceSec <= 0 {
		return nil, false
	}
	mu := 1 / meanServiceSec

	var current int32 = 1
	if tp, ok := uc.tiers[string(tier)]; ok && tp.Workers > 0 {
		current = tp.Workers
	}

	rho := lambda / (float64(current) * mu)
	recommended := int32(math.Ceil(lambda / (uc.target * mu)))
	if recommended < 1 {
		recommended = 1
	}

	return &Recommendation{
		JobType:            jobType,
		Tier:               string(tier),
		ArrivalRate:        lambda,
		MeanServiceTimeSec: meanServiceSec,
		CurrentConcurrency: current,
		Utilization:        rho,
		RecommendedWorkers: recommended,
	}, true
}

// RecommendAll computes recommendations for every routed job type.
func (uc *ConcurrencyOptimizerUseCase) RecommendAll() []*Recommendation {
	var recs []*Recommendation
	for _, jobType := range uc.dispatcher.JobTypes() {
		if rec, ok := uc.Recommend(jobType); ok {
			recs = append(recs, rec)
		}
	}
	return recs
}

// Report logs current recommendations. Called by the maintenance cron;
// this is the only action the optimizer ever takes.
func (uc *ConcurrencyOptimizerUseCase) Report(_ context.Context) {
	for _, rec := range uc.RecommendAll() {
		uc.logger.Infow("concurrency recommendation",
			"job_type", rec.JobType,
			"tier", rec.Tier,
			"arrival_rate_per_sec", rec.ArrivalRate,
			"mean_service_time_sec", rec.MeanServiceTimeSec,
			"current_workers", rec.CurrentConcurrency,
			"utilization", rec.Utilization,
			"recommended_workers", rec.RecommendedWorkers)
	}
}
