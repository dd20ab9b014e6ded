package biz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"FuseLane/internal/conf"
	"FuseLane/internal/model"
	pkgerrors "FuseLane/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// rateLimitRequeueDelay is how long a job waits after a rate-limit
// denial. Denial is never terminal and does not charge an attempt.
const rateLimitRequeueDelay = 250 * time.Millisecond

// WorkerPoolUseCase runs the per-tier executor pools. Each worker pulls
// from its tier's queue, passes admission control (rate limiter, then
// circuit breaker), invokes the bound handler under a hard per-job
// deadline, and applies the retry policy on failure.
//
// It implements kratos transport.Server so the pools share the
// application lifecycle.
type WorkerPoolUseCase struct {
	dispatcher *DispatcherUseCase
	limiter    *RateLimiterUseCase
	breaker    *CircuitBreakerUseCase
	metrics    *MetricsCollectorUseCase
	deadLetter DeadLetterRepo

	tiers    map[string]*conf.TierPolicy
	retry    map[string]RetryPolicy
	policies map[string]*conf.ServicePolicy

	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Helper
	now    func() time.Time
}

// NewWorkerPoolUseCase creates the worker pools.
func NewWorkerPoolUseCase(
	rc *conf.Resilience,
	dispatcher *DispatcherUseCase,
	limiter *RateLimiterUseCase,
	breaker *CircuitBreakerUseCase,
	metrics *MetricsCollectorUseCase,
	deadLetter DeadLetterRepo,
	logger log.Logger,
) *WorkerPoolUseCase {
	retry := make(map[string]RetryPolicy, len(rc.Services))
	for name, p := range rc.Services {
		retry[name] = NewRetryPolicy(p)
	}
	return &WorkerPoolUseCase{
		dispatcher: dispatcher,
		limiter:    limiter,
		breaker:    breaker,
		metrics:    metrics,
		deadLetter: deadLetter,
		tiers:      rc.Tiers,
		retry:      retry,
		policies:   rc.Services,
		logger:     log.NewHelper(logger),
		now:        time.Now,
	}
}

// Start launches the per-tier worker goroutines and blocks until Stop.
func (uc *WorkerPoolUseCase) Start(_ context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	uc.cancel = cancel

	for _, tier := range []model.Tier{model.TierRealtime, model.TierBackground, model.TierBatch} {
		workers := int32(2)
		timeout := 60 * time.Second
		if tp, ok := uc.tiers[string(tier)]; ok {
			if tp.Workers > 0 {
				workers = tp.Workers
			}
			if d := tp.JobTimeout.AsDuration(); d > 0 {
				timeout = d
			}
		}

		uc.logger.Infow("starting worker pool",
			"tier", tier,
			"workers", workers,
			"job_timeout", timeout)

		for i := int32(0); i < workers; i++ {
			uc.wg.Add(1)
			go uc.run(runCtx, tier, timeout)
		}
	}

	<-runCtx.Done()
	return nil
}

// Stop closes the queues, cancels workers, and waits for in-flight
// handlers to finish or hit their deadline.
func (uc *WorkerPoolUseCase) Stop(ctx context.Context) error {
	uc.dispatcher.Shutdown()
	if uc.cancel != nil {
		uc.cancel()
	}

	done := make(chan struct{})
	go func() {
		uc.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is one worker's loop. Workers block only while waiting to dequeue
// or awaiting the external call; breaker and limiter locks are O(1).
func (uc *WorkerPoolUseCase) run(ctx context.Context, tier model.Tier, timeout time.Duration) {
	defer uc.wg.Done()

	queue := uc.dispatcher.queue(tier)
	for {
		job, err := queue.Pop(ctx)
		if err != nil {
			return
		}
		uc.process(ctx, job, timeout)
	}
}

// process executes one dequeued job through the full admission chain.
func (uc *WorkerPoolUseCase) process(ctx context.Context, job *model.Job, timeout time.Duration) {
	handle, ok := uc.dispatcher.Handle(job.ID)
	if !ok || handle.Status() != model.StatusPending {
		// Cancelled or already resolved between dequeue and execution.
		return
	}

	service, ok := uc.dispatcher.ServiceFor(job.Type)
	if !ok {
		uc.dispatcher.resolveJob(handle, model.StatusFailed, fmt.Errorf("job type %q lost its route", job.Type))
		return
	}

	handler, ok := uc.dispatcher.handler(job.Type)
	if !ok {
		uc.deadLetterJob(ctx, handle, job, fmt.Errorf("no handler registered for job type %q", job.Type), pkgerrors.KindClient)
		return
	}

	// Admission: global and tenant buckets must both grant. Denial
	// requeues with a short delay and does not charge an attempt.
	if !uc.limiter.TryAcquire(service, job.TenantID, 1) {
		job.NotBefore = uc.now().Add(rateLimitRequeueDelay)
		uc.dispatcher.requeue(job)
		return
	}

	queueWait := uc.now().Sub(job.NotBefore)
	if queueWait < 0 {
		queueWait = 0
	}

	start := uc.now()
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	err := uc.breaker.Execute(execCtx, service, func(c context.Context) error {
		return handler(c, job)
	})
	cancel()
	serviceTime := uc.now().Sub(start)

	if err == nil {
		uc.metrics.Record(model.MetricsSample{
			JobType:       job.Type,
			QueueWaitMs:   queueWait.Milliseconds(),
			ServiceTimeMs: serviceTime.Milliseconds(),
			Attempts:      job.Attempt + 1,
			Outcome:       model.OutcomeSuccess,
			Timestamp:     uc.now(),
		})
		uc.dispatcher.resolveJob(handle, model.StatusCompleted, nil)
		return
	}

	kind := pkgerrors.KindOf(err)

	// Breaker short-circuit: no network call happened, no attempt is
	// charged. Requeue far enough out that the probe window can open.
	if kind == pkgerrors.KindCircuitOpen {
		job.NotBefore = uc.now().Add(uc.circuitRequeueDelay(service))
		uc.dispatcher.requeue(job)
		return
	}

	job.Attempt++

	if kind.Retryable() && job.Attempt < job.MaxAttempts {
		policy := uc.retry[service]
		if delay, retry := policy.NextDelay(job.Attempt, kind, pkgerrors.RetryAfterOf(err)); retry {
			job.NotBefore = uc.now().Add(delay)
			uc.dispatcher.requeue(job)
			uc.logger.Debugw("job requeued for retry",
				"job_id", job.ID,
				"job_type", job.Type,
				"attempt", job.Attempt,
				"kind", kind.String(),
				"delay", delay)
			return
		}
	}

	uc.metrics.Record(model.MetricsSample{
		JobType:       job.Type,
		QueueWaitMs:   queueWait.Milliseconds(),
		ServiceTimeMs: serviceTime.Milliseconds(),
		Attempts:      job.Attempt,
		Outcome:       model.OutcomeFailure,
		Timestamp:     uc.now(),
	})
	uc.deadLetterJob(ctx, handle, job, err, kind)
}

// circuitRequeueDelay spaces out retries of short-circuited jobs so the
// first job back probes the half-open breaker instead of a thundering
// herd. Bounded so realtime work is not parked behind a long outage.
func (uc *WorkerPoolUseCase) circuitRequeueDelay(service string) time.Duration {
	delay := 2 * time.Second
	if p, ok := uc.policies[service]; ok {
		delay = p.ResetTimeout.AsDuration() / 4
	}
	if delay < 250*time.Millisecond {
		delay = 250 * time.Millisecond
	}
	if delay > 5*time.Second {
		delay = 5 * time.Second
	}
	return delay
}

// deadLetterJob snapshots the job into the dead-letter store with its
// classification preserved for operator triage, then resolves the handle.
func (uc *WorkerPoolUseCase) deadLetterJob(ctx context.Context, handle *JobHandle, job *model.Job, cause error, kind pkgerrors.Kind) {
	entry := &model.DeadLetterEntry{
		Job:            job.Clone(),
		LastError:      cause.Error(),
		Classification: kind.String(),
		FailedAt:       uc.now(),
	}

	if err := uc.deadLetter.Append(ctx, entry); err != nil {
		uc.logger.Errorw("failed to persist dead letter, job outcome only in logs",
			"job_id", job.ID,
			"job_type", job.Type,
			"cause", cause,
			"error", err)
	} else {
		uc.logger.Warnw("job dead-lettered",
			"job_id", job.ID,
			"job_type", job.Type,
			"attempt", job.Attempt,
			"classification", kind.String(),
			"error", cause)
	}

	uc.dispatcher.resolveJob(handle, model.StatusDeadLettered, cause)
}
