package biz

import (
	"context"
	"fmt"

	"FuseLane/internal/conf"
	"FuseLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// DeadLetterRepo defines the interface for dead-letter persistence.
// Following Kratos v2 DDD architecture, interfaces are defined in the biz
// layer; the implementation lives in data (MySQL via GORM).
type DeadLetterRepo interface {
	Append(ctx context.Context, entry *model.DeadLetterEntry) error
	Get(ctx context.Context, id int64) (*model.DeadLetterEntry, error)
	// List returns entries, newest first. jobType filters when non-empty.
	List(ctx context.Context, jobType string, limit int) ([]*model.DeadLetterEntry, error)
	Delete(ctx context.Context, id int64) error
	Count(ctx context.Context) (int64, error)
}

// DeadLetterUseCase manages the dead-letter store: append on retry
// exhaustion, manual replay, operator purge, and the depth alert.
type DeadLetterUseCase struct {
	repo       DeadLetterRepo
	dispatcher *DispatcherUseCase
	alertDepth int64
	logger     *log.Helper
}

// NewDeadLetterUseCase creates the dead letter use case.
func NewDeadLetterUseCase(rc *conf.Resilience, repo DeadLetterRepo, dispatcher *DispatcherUseCase, logger log.Logger) *DeadLetterUseCase {
	alertDepth := rc.DeadLetterAlertDepth
	if alertDepth <= 0 {
		alertDepth = 100
	}
	return &DeadLetterUseCase{
		repo:       repo,
		dispatcher: dispatcher,
		alertDepth: alertDepth,
		logger:     log.NewHelper(logger),
	}
}

// List returns dead letters, optionally filtered by job type.
func (uc *DeadLetterUseCase) List(ctx context.Context, jobType string, limit int) ([]*model.DeadLetterEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return uc.repo.List(ctx, jobType, limit)
}

// Replay re-admits a dead letter as a fresh job on its original tier with
// the attempt counter reset, then removes the entry. The replayed job
// gets a new identity so a still-cached terminal handle for the original
// ID cannot shadow it.
func (uc *DeadLetterUseCase) Replay(ctx context.Context, id int64) (*JobHandle, error) {
	entry, err := uc.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load dead letter %d: %w", id, err)
	}

	h, err := uc.dispatcher.Dispatch(ctx, entry.Job.Type, entry.Job.Payload, DispatchOptions{
		TenantID: entry.Job.TenantID,
		Priority: entry.Job.Priority,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to re-admit dead letter %d: %w", id, err)
	}

	if err := uc.repo.Delete(ctx, id); err != nil {
		// The replacement job is already admitted; a second replay would
		// duplicate the side effect, so this must be loud.
		uc.logger.Errorw("dead letter replayed but entry removal failed",
			"entry_id", id,
			"new_job_id", h.Job().ID,
			"error", err)
		return h, fmt.Errorf("replayed but failed to remove entry %d: %w", id, err)
	}

	uc.logger.Infow("dead letter replayed",
		"entry_id", id,
		"job_type", entry.Job.Type,
		"original_job_id", entry.Job.ID,
		"new_job_id", h.Job().ID)

	return h, nil
}

// Purge discards a dead letter without replay.
func (uc *DeadLetterUseCase) Purge(ctx context.Context, id int64) error {
	if err := uc.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to purge dead letter %d: %w", id, err)
	}
	uc.logger.Infow("dead letter purged", "entry_id", id)
	return nil
}

// Depth reports the current store depth.
func (uc *DeadLetterUseCase) Depth(ctx context.Context) (int64, error) {
	return uc.repo.Count(ctx)
}

// CheckDepth fires the growth alert when the store depth exceeds the
// configured threshold. Called by the maintenance cron; the alert is an
// observable, surfaced both in logs and on the status endpoint.
func (uc *DeadLetterUseCase) CheckDepth(ctx context.Context) (int64, bool) {
	depth, err := uc.repo.Count(ctx)
	if err != nil {
		uc.logger.Warnw("dead letter depth check failed", "error", err)
		return 0, false
	}
	if depth > uc.alertDepth {
		uc.logger.Errorw("dead letter depth above alert threshold",
			"depth", depth,
			"threshold", uc.alertDepth)
		return depth, true
	}
	return depth, false
}

// AlertDepth returns the configured alert threshold.
func (uc *DeadLetterUseCase) AlertDepth() int64 {
	return uc.alertDepth
}
