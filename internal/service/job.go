package service

import (
	"context"
	"encoding/json"
	"time"

	"FuseLane/internal/biz"
	"FuseLane/internal/model"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// JobService handles job admission, lookup, and cancellation, plus the
// conversation message intake that feeds the aggregation buffer.
type JobService struct {
	dispatcher *biz.DispatcherUseCase
	buffer     *biz.AggregationBufferUseCase
	logger     *log.Helper
}

// NewJobService creates a new JobService instance.
func NewJobService(dispatcher *biz.DispatcherUseCase, buffer *biz.AggregationBufferUseCase, logger log.Logger) *JobService {
	return &JobService{
		dispatcher: dispatcher,
		buffer:     buffer,
		logger:     log.NewHelper(logger),
	}
}

// DispatchRequest admits one job.
type DispatchRequest struct {
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	TenantID       string          `json:"tenant_id,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Priority       int             `json:"priority,omitempty"`
	// DelaySeconds postpones the first execution.
	DelaySeconds int64 `json:"delay_seconds,omitempty"`
}

// JobReply describes one admitted job.
type JobReply struct {
	JobID  string `json:"job_id"`
	Type   string `json:"type"`
	Tier   string `json:"tier"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Dispatch admits a job into its routed tier. Duplicate idempotency
// keys return the already-admitted job.
func (s *JobService) Dispatch(ctx context.Context, req *DispatchRequest) (*JobReply, error) {
	if req.Type == "" {
		return nil, kerrors.BadRequest("MISSING_JOB_TYPE", "job type is required")
	}

	opts := biz.DispatchOptions{
		IdempotencyKey: req.IdempotencyKey,
		TenantID:       req.TenantID,
		Priority:       req.Priority,
	}
	if req.DelaySeconds > 0 {
		opts.NotBefore = time.Now().Add(time.Duration(req.DelaySeconds) * time.Second)
	}

	handle, err := s.dispatcher.Dispatch(ctx, req.Type, req.Payload, opts)
	if err != nil {
		s.logger.Warnw("dispatch rejected", "job_type", req.Type, "error", err)
		return nil, kerrors.BadRequest("UNKNOWN_JOB_TYPE", err.Error())
	}

	return jobReply(handle), nil
}

// GetJob returns the state of a pending or recently resolved job.
func (s *JobService) GetJob(_ context.Context, jobID string) (*JobReply, error) {
	handle, ok := s.dispatcher.Handle(jobID)
	if !ok {
		return nil, kerrors.NotFound("JOB_NOT_FOUND", "job not found: "+jobID)
	}
	return jobReply(handle), nil
}

// CancelJob removes a queued job before it starts executing.
func (s *JobService) CancelJob(_ context.Context, jobID string) (*JobReply, error) {
	if !s.dispatcher.Cancel(jobID) {
		return nil, kerrors.Conflict("JOB_NOT_CANCELLABLE", "job is not queued: "+jobID)
	}

	handle, ok := s.dispatcher.Handle(jobID)
	if !ok {
		return nil, kerrors.NotFound("JOB_NOT_FOUND", "job not found: "+jobID)
	}

	s.logger.Infow("job cancelled", "job_id", jobID)
	return jobReply(handle), nil
}

// AppendMessageRequest adds one message to a conversation buffer.
type AppendMessageRequest struct {
	TenantID string `json:"tenant_id,omitempty"`
	Text     string `json:"text"`
}

// AppendMessageReply acknowledges intake. Processing happens when the
// buffer flushes, so no job ID is available yet.
type AppendMessageReply struct {
	Accepted bool `json:"accepted"`
}

// AppendMessage buffers a conversation message for aggregation.
func (s *JobService) AppendMessage(ctx context.Context, conversationID string, req *AppendMessageRequest) (*AppendMessageReply, error) {
	if conversationID == "" {
		return nil, kerrors.BadRequest("MISSING_CONVERSATION_ID", "conversation id is required")
	}
	if req.Text == "" {
		return nil, kerrors.BadRequest("MISSING_TEXT", "message text is required")
	}

	if err := s.buffer.Append(ctx, conversationID, req.TenantID, req.Text); err != nil {
		s.logger.Errorw("failed to buffer message", "conversation_id", conversationID, "error", err)
		return nil, kerrors.InternalServer("BUFFER_FAILED", "failed to buffer message")
	}

	return &AppendMessageReply{Accepted: true}, nil
}

func jobReply(handle *biz.JobHandle) *JobReply {
	job := handle.Job()
	reply := &JobReply{
		JobID:  job.ID,
		Type:   job.Type,
		Tier:   string(job.Tier),
		Status: string(handle.Status()),
	}
	if handle.Status() != model.StatusPending && handle.Err() != nil {
		reply.Error = handle.Err().Error()
	}
	return reply
}
