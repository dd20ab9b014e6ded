package integration

import (
	"context"
	"encoding/json"
	"fmt"

	"FuseLane/internal/biz"
	"FuseLane/internal/conf"
	"FuseLane/internal/model"
	pkgerrors "FuseLane/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// Job types bound to integration handlers. Route and handler names must
// agree with the routing table in configuration.
const (
	JobIssueInvoice        = "issue_invoice"
	JobChargePayment       = "charge_payment"
	JobSendMessage         = "send_message"
	JobTranscribeAudio     = "transcribe_audio"
	JobProcessConversation = "process_conversation"
)

// Registry binds the outbound handlers to their job types at startup.
type Registry struct {
	client *Client
	cfg    *conf.Integrations
	logger *log.Helper
}

// NewRegistry creates the registry and registers every handler with the
// dispatcher. Construction fails if any job type lacks a route.
func NewRegistry(dispatcher *biz.DispatcherUseCase, client *Client, cfg *conf.Integrations, logger log.Logger) (*Registry, error) {
	r := &Registry{
		client: client,
		cfg:    cfg,
		logger: log.NewHelper(logger),
	}

	handlers := map[string]biz.HandlerFunc{
		JobIssueInvoice:        r.issueInvoice,
		JobChargePayment:       r.chargePayment,
		JobSendMessage:         r.sendMessage,
		JobTranscribeAudio:     r.transcribeAudio,
		JobProcessConversation: r.processConversation,
	}
	for jobType, fn := range handlers {
		if err := dispatcher.RegisterHandler(jobType, fn); err != nil {
			return nil, fmt.Errorf("failed to register handler for %s: %w", jobType, err)
		}
	}

	r.logger.Infow("integration handlers registered", "count", len(handlers))
	return r, nil
}

func (r *Registry) issueInvoice(ctx context.Context, job *model.Job) error {
	return r.client.PostJSON(ctx, r.cfg.InvoicingURL, job.Payload)
}

func (r *Registry) chargePayment(ctx context.Context, job *model.Job) error {
	return r.client.PostJSON(ctx, r.cfg.PaymentsURL, job.Payload)
}

func (r *Registry) sendMessage(ctx context.Context, job *model.Job) error {
	return r.client.PostJSON(ctx, r.cfg.MessagingURL, job.Payload)
}

func (r *Registry) transcribeAudio(ctx context.Context, job *model.Job) error {
	return r.client.PostJSON(ctx, r.cfg.TranscriptionURL, job.Payload)
}

// processConversation forwards an aggregated conversation window to the
// messaging service.
func (r *Registry) processConversation(ctx context.Context, job *model.Job) error {
	var payload biz.ConversationPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return pkgerrors.Client("invalid conversation payload", err)
	}
	if payload.ConversationID == "" || payload.Text == "" {
		return pkgerrors.Client("conversation payload is incomplete", nil)
	}
	return r.client.PostJSON(ctx, r.cfg.MessagingURL, job.Payload)
}
