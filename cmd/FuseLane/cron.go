package main

import (
	"context"
	"time"

	"FuseLane/internal/biz"
	"FuseLane/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// MaintenanceCron runs the periodic background work: flushing metric
// aggregates to the shared store, logging concurrency recommendations,
// and watching dead-letter depth. Implements transport.Server so it
// shares the application lifecycle.
type MaintenanceCron struct {
	cron   *cron.Cron
	logger *log.Helper
}

// NewMaintenanceCron registers the maintenance jobs.
func NewMaintenanceCron(
	rc *conf.Resilience,
	metrics *biz.MetricsCollectorUseCase,
	optimizer *biz.ConcurrencyOptimizerUseCase,
	deadLetter *biz.DeadLetterUseCase,
	logger log.Logger,
) (*MaintenanceCron, error) {
	helper := log.NewHelper(logger)
	c := cron.New(cron.WithSeconds())

	flushInterval := time.Minute
	if rc.Metrics != nil && rc.Metrics.FlushInterval != nil {
		flushInterval = rc.Metrics.FlushInterval.AsDuration()
	}

	if _, err := c.AddFunc("@every "+flushInterval.String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := metrics.Flush(ctx); err != nil {
			helper.Errorw("metrics flush failed", "error", err)
		}
	}); err != nil {
		return nil, err
	}

	if _, err := c.AddFunc("@every 5m", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		optimizer.Report(ctx)
		if depth, alerting := deadLetter.CheckDepth(ctx); alerting {
			helper.Warnw("dead letter store above alert depth",
				"depth", depth,
				"alert_depth", deadLetter.AlertDepth())
		}
	}); err != nil {
		return nil, err
	}

	return &MaintenanceCron{cron: c, logger: helper}, nil
}

// Start launches the cron scheduler.
func (m *MaintenanceCron) Start(_ context.Context) error {
	m.cron.Start()
	m.logger.Info("maintenance cron started")
	return nil
}

// Stop halts the scheduler and waits for running jobs.
func (m *MaintenanceCron) Stop(ctx context.Context) error {
	stopped := m.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
