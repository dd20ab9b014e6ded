package biz

import (
	"context"
	"sync"
	"time"

	"FuseLane/internal/conf"
	"FuseLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// MetricsAggregateRepo persists flushed per-job-type aggregate deltas to
// the shared low-latency store. Defined here, implemented in data.
type MetricsAggregateRepo interface {
	IncrementAggregate(ctx context.Context, jobType string, delta *model.MetricsAggregate, ttl time.Duration) error
}

// MetricsCollectorUseCase records one immutable sample per completed or
// failed job, keeps a bounded time-ordered window per job type, and
// periodically flushes aggregate deltas to the shared store. Aggregates
// are the only cross-worker mutable state it owns; samples are written
// once and never mutated.
type MetricsCollectorUseCase struct {
	mu      sync.Mutex
	windows map[string]*sampleWindow
	pending map[string]*model.MetricsAggregate

	repo   MetricsAggregateRepo
	window time.Duration
	limit  int

	logger *log.Helper
	now    func() time.Time
}

// NewMetricsCollectorUseCase creates the collector.
func NewMetricsCollectorUseCase(rc *conf.Resilience, repo MetricsAggregateRepo, logger log.Logger) *MetricsCollectorUseCase {
	window := 5 * time.Minute
	limit := 2048
	if rc.Metrics != nil {
		if d := rc.Metrics.Window.AsDuration(); d > 0 {
			window = d
		}
		if rc.Metrics.SampleLimit > 0 {
			limit = int(rc.Metrics.SampleLimit)
		}
	}
	return &MetricsCollectorUseCase{
		windows: make(map[string]*sampleWindow),
		pending: make(map[string]*model.MetricsAggregate),
		repo:    repo,
		window:  window,
		limit:   limit,
		logger:  log.NewHelper(logger),
		now:     time.Now,
	}
}

// Record adds a terminal job sample.
func (uc *MetricsCollectorUseCase) Record(sample model.MetricsSample) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	w, ok := uc.windows[sample.JobType]
	if !ok {
		w = &sampleWindow{}
		uc.windows[sample.JobType] = w
	}
	w.add(sample, uc.limit, uc.now().Add(-uc.window))

	delta, ok := uc.pending[sample.JobType]
	if !ok {
		delta = &model.MetricsAggregate{JobType: sample.JobType}
		uc.pending[sample.JobType] = delta
	}
	accumulate(delta, sample)
}

// Aggregate computes the trailing-window aggregate for a job type from
// retained samples. WindowSeconds is the configured window length.
func (uc *MetricsCollectorUseCase) Aggregate(jobType string) *model.MetricsAggregate {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	agg := &model.MetricsAggregate{
		JobType:       jobType,
		WindowSeconds: uc.window.Seconds(),
	}
	w, ok := uc.windows[jobType]
	if !ok {
		return agg
	}
	w.prune(uc.now().Add(-uc.window))
	for _, s := range w.samples {
		accumulate(agg, s)
	}
	return agg
}

// Flush pushes accumulated aggregate deltas to the shared store and
// clears them. Called periodically by the maintenance cron. Store
// failures keep the delta for the next flush (graceful degradation).
func (uc *MetricsCollectorUseCase) Flush(ctx context.Context) error {
	uc.mu.Lock()
	pending := uc.pending
	uc.pending = make(map[string]*model.MetricsAggregate)
	uc.mu.Unlock()

	var lastErr error
	for jobType, delta := range pending {
		if err := uc.repo.IncrementAggregate(ctx, jobType, delta, uc.window); err != nil {
			uc.logger.Warnw("metrics flush failed, keeping delta for next cycle",
				"job_type", jobType,
				"error", err)
			uc.restore(jobType, delta)
			lastErr = err
		}
	}
	return lastErr
}

func (uc *MetricsCollectorUseCase) restore(jobType string, delta *model.MetricsAggregate) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	cur, ok := uc.pending[jobType]
	if !ok {
		uc.pending[jobType] = delta
		return
	}
	cur.Count += delta.Count
	cur.SuccessCount += delta.SuccessCount
	cur.FailureCount += delta.FailureCount
	cur.TotalWaitMs += delta.TotalWaitMs
	cur.TotalServiceMs += delta.TotalServiceMs
	cur.TotalAttempts += delta.TotalAttempts
}

func accumulate(agg *model.MetricsAggregate, s model.MetricsSample) {
	agg.Count++
	if s.Outcome == model.OutcomeSuccess {
		agg.SuccessCount++
	} else {
		agg.FailureCount++
	}
	agg.TotalWaitMs += s.QueueWaitMs
	agg.TotalServiceMs += s.ServiceTimeMs
	agg.TotalAttempts += int64(s.Attempts)
}

// sampleWindow is a time-ordered bounded slice of samples.
type sampleWindow struct {
	samples []model.MetricsSample
}

func (w *sampleWindow) add(s model.MetricsSample, limit int, cutoff time.Time) {
	w.prune(cutoff)
	w.samples = append(w.samples, s)
	if len(w.samples) > limit {
		w.samples = w.samples[len(w.samples)-limit:]
	}
}

func (w *sampleWindow) prune(cutoff time.Time) {
	i := 0
	for i < len(w.samples) && w.samples[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.samples = w.samples[i:]
	}
}
