package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"FuseLane/internal/model"
	pkgerrors "FuseLane/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// DeadLetter is the GORM model for the dead_letters table.
type DeadLetter struct {
	ID             int64     `gorm:"primaryKey;autoIncrement"`
	JobID          string    `gorm:"size:64;uniqueIndex;not null"`
	JobType        string    `gorm:"size:128;index;not null"`
	Tier           string    `gorm:"size:16;not null"`
	TenantID       string    `gorm:"size:64;index"`
	Payload        []byte    `gorm:"type:mediumblob"`
	Priority       int       `gorm:"not null;default:0"`
	Attempt        int32     `gorm:"not null"`
	MaxAttempts    int32     `gorm:"not null"`
	LastError      string    `gorm:"type:text"`
	Classification string    `gorm:"size:32;not null"`
	JobCreatedAt   time.Time `gorm:"not null"`
	FailedAt       time.Time `gorm:"index;not null"`
	CreatedAt      time.Time
}

// TableName sets the table name.
func (DeadLetter) TableName() string {
	return "dead_letters"
}

// DeadLetterRepo implements biz.DeadLetterRepo on MySQL via GORM.
type DeadLetterRepo struct {
	db     *gorm.DB
	logger *log.Helper
}

// NewDeadLetterRepo creates a new dead letter repository and migrates the
// table.
func NewDeadLetterRepo(db *gorm.DB, logger log.Logger) (*DeadLetterRepo, error) {
	helper := log.NewHelper(logger)

	if db != nil {
		if err := db.AutoMigrate(&DeadLetter{}); err != nil {
			return nil, fmt.Errorf("failed to migrate dead_letters table: %w", err)
		}
	}

	return &DeadLetterRepo{
		db:     db,
		logger: helper,
	}, nil
}

// Append stores a dead letter. Appending the same job twice is treated as
// success: the snapshot is already preserved.
func (r *DeadLetterRepo) Append(ctx context.Context, entry *model.DeadLetterEntry) error {
	if r.db == nil {
		return fmt.Errorf("database is unavailable")
	}

	row, err := toRow(entry)
	if err != nil {
		return err
	}

	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		if pkgerrors.IsDuplicateKeyError(err) {
			r.logger.Debugw("dead letter already stored", "job_id", entry.Job.ID)
			return nil
		}
		return fmt.Errorf("failed to append dead letter: %w", err)
	}

	entry.ID = row.ID
	return nil
}

// Get loads one entry by ID.
func (r *DeadLetterRepo) Get(ctx context.Context, id int64) (*model.DeadLetterEntry, error) {
	if r.db == nil {
		return nil, fmt.Errorf("database is unavailable")
	}

	var row DeadLetter
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("dead letter not found: %d", id)
		}
		return nil, fmt.Errorf("failed to get dead letter: %w", err)
	}

	return fromRow(&row), nil
}

// List returns entries newest first, optionally filtered by job type.
func (r *DeadLetterRepo) List(ctx context.Context, jobType string, limit int) ([]*model.DeadLetterEntry, error) {
	if r.db == nil {
		return nil, fmt.Errorf("database is unavailable")
	}

	q := r.db.WithContext(ctx).Model(&DeadLetter{}).Order("failed_at DESC").Limit(limit)
	if jobType != "" {
		q = q.Where("job_type = ?", jobType)
	}

	var rows []DeadLetter
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}

	entries := make([]*model.DeadLetterEntry, 0, len(rows))
	for i := range rows {
		entries = append(entries, fromRow(&rows[i]))
	}
	return entries, nil
}

// Delete removes one entry.
func (r *DeadLetterRepo) Delete(ctx context.Context, id int64) error {
	if r.db == nil {
		return fmt.Errorf("database is unavailable")
	}

	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&DeadLetter{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete dead letter: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("dead letter not found: %d", id)
	}
	return nil
}

// Count reports the store depth.
func (r *DeadLetterRepo) Count(ctx context.Context) (int64, error) {
	if r.db == nil {
		return 0, fmt.Errorf("database is unavailable")
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&DeadLetter{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count dead letters: %w", err)
	}
	return count, nil
}

func toRow(entry *model.DeadLetterEntry) (*DeadLetter, error) {
	payload, err := json.Marshal(entry.Job.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode dead letter payload: %w", err)
	}

	return &DeadLetter{
		JobID:          entry.Job.ID,
		JobType:        entry.Job.Type,
		Tier:           string(entry.Job.Tier),
		TenantID:       entry.Job.TenantID,
		Payload:        payload,
		Priority:       entry.Job.Priority,
		Attempt:        entry.Job.Attempt,
		MaxAttempts:    entry.Job.MaxAttempts,
		LastError:      entry.LastError,
		Classification: entry.Classification,
		JobCreatedAt:   entry.Job.CreatedAt,
		FailedAt:       entry.FailedAt,
	}, nil
}

func fromRow(row *DeadLetter) *model.DeadLetterEntry {
	var payload json.RawMessage
	if len(row.Payload) > 0 {
		_ = json.Unmarshal(row.Payload, &payload)
	}

	return &model.DeadLetterEntry{
		ID: row.ID,
		Job: &model.Job{
			ID:          row.JobID,
			Type:        row.JobType,
			TenantID:    row.TenantID,
			Payload:     payload,
			Tier:        model.Tier(row.Tier),
			Priority:    row.Priority,
			Attempt:     row.Attempt,
			MaxAttempts: row.MaxAttempts,
			CreatedAt:   row.JobCreatedAt,
		},
		LastError:      row.LastError,
		Classification: row.Classification,
		FailedAt:       row.FailedAt,
	}
}
