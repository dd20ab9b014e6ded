package service

import (
	"context"
	"strconv"

	"FuseLane/internal/biz"
	"FuseLane/internal/model"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// AdminService exposes operator controls: forcing circuit breakers,
// inspecting and replaying dead letters, and reading concurrency
// recommendations.
type AdminService struct {
	breaker    *biz.CircuitBreakerUseCase
	deadLetter *biz.DeadLetterUseCase
	optimizer  *biz.ConcurrencyOptimizerUseCase
	logger     *log.Helper
}

// NewAdminService creates a new AdminService instance.
func NewAdminService(
	breaker *biz.CircuitBreakerUseCase,
	deadLetter *biz.DeadLetterUseCase,
	optimizer *biz.ConcurrencyOptimizerUseCase,
	logger log.Logger,
) *AdminService {
	return &AdminService{
		breaker:    breaker,
		deadLetter: deadLetter,
		optimizer:  optimizer,
		logger:     log.NewHelper(logger),
	}
}

// CircuitReply is the breaker snapshot after a force operation.
type CircuitReply struct {
	Circuit model.CircuitState `json:"circuit"`
}

// ForceCircuit latches a breaker open or returns it to normal operation.
// Action is "open" or "close".
func (s *AdminService) ForceCircuit(_ context.Context, serviceKey, action string) (*CircuitReply, error) {
	if serviceKey == "" {
		return nil, kerrors.BadRequest("MISSING_SERVICE", "service key is required")
	}

	switch action {
	case "open":
		s.breaker.ForceOpen(serviceKey)
	case "close":
		s.breaker.ForceClose(serviceKey)
	default:
		return nil, kerrors.BadRequest("INVALID_ACTION", "action must be open or close")
	}

	s.logger.Infow("circuit forced", "service", serviceKey, "action", action)
	return &CircuitReply{Circuit: s.breaker.State(serviceKey)}, nil
}

// DeadLetterReply is one dead letter in list responses.
type DeadLetterReply struct {
	ID             int64  `json:"id"`
	JobID          string `json:"job_id"`
	JobType        string `json:"job_type"`
	Tier           string `json:"tier"`
	TenantID       string `json:"tenant_id,omitempty"`
	Attempt        int32  `json:"attempt"`
	MaxAttempts    int32  `json:"max_attempts"`
	LastError      string `json:"last_error"`
	Classification string `json:"classification"`
	FailedAt       string `json:"failed_at"`
}

// ListDeadLettersReply carries a page of dead letters.
type ListDeadLettersReply struct {
	Entries []*DeadLetterReply `json:"entries"`
	Total   int64              `json:"total"`
}

// ListDeadLetters returns dead letters newest first, optionally filtered
// by job type.
func (s *AdminService) ListDeadLetters(ctx context.Context, jobType string, limit int) (*ListDeadLettersReply, error) {
	entries, err := s.deadLetter.List(ctx, jobType, limit)
	if err != nil {
		s.logger.Errorw("failed to list dead letters", "error", err)
		return nil, kerrors.InternalServer("DEAD_LETTER_LIST_FAILED", "failed to list dead letters")
	}

	total, err := s.deadLetter.Depth(ctx)
	if err != nil {
		s.logger.Warnw("failed to count dead letters", "error", err)
	}

	reply := &ListDeadLettersReply{
		Entries: make([]*DeadLetterReply, 0, len(entries)),
		Total:   total,
	}
	for _, e := range entries {
		reply.Entries = append(reply.Entries, deadLetterReply(e))
	}
	return reply, nil
}

// ReplayDeadLetter re-dispatches a dead letter as a fresh job and
// removes the stored entry.
func (s *AdminService) ReplayDeadLetter(ctx context.Context, id int64) (*JobReply, error) {
	handle, err := s.deadLetter.Replay(ctx, id)
	if err != nil {
		s.logger.Errorw("failed to replay dead letter", "id", id, "error", err)
		return nil, kerrors.NotFound("DEAD_LETTER_REPLAY_FAILED", err.Error())
	}
	return jobReply(handle), nil
}

// PurgeDeadLetter permanently removes a dead letter.
func (s *AdminService) PurgeDeadLetter(ctx context.Context, id int64) error {
	if err := s.deadLetter.Purge(ctx, id); err != nil {
		s.logger.Errorw("failed to purge dead letter", "id", id, "error", err)
		return kerrors.NotFound("DEAD_LETTER_PURGE_FAILED", err.Error())
	}
	return nil
}

// RecommendationsReply carries per-job-type concurrency advice.
type RecommendationsReply struct {
	Recommendations []*biz.Recommendation `json:"recommendations"`
}

// Recommendations returns worker-count advice computed from the trailing
// metrics window. Advisory only; tier sizing stays static.
func (s *AdminService) Recommendations(_ context.Context) *RecommendationsReply {
	return &RecommendationsReply{Recommendations: s.optimizer.RecommendAll()}
}

func deadLetterReply(e *model.DeadLetterEntry) *DeadLetterReply {
	return &DeadLetterReply{
		ID:             e.ID,
		JobID:          e.Job.ID,
		JobType:        e.Job.Type,
		Tier:           string(e.Job.Tier),
		TenantID:       e.Job.TenantID,
		Attempt:        e.Job.Attempt,
		MaxAttempts:    e.Job.MaxAttempts,
		LastError:      e.LastError,
		Classification: e.Classification,
		FailedAt:       e.FailedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

// ParseDeadLetterID parses the path parameter for dead letter routes.
func ParseDeadLetterID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, kerrors.BadRequest("INVALID_DEAD_LETTER_ID", "dead letter id must be a positive integer")
	}
	return id, nil
}
