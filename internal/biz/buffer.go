package biz

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"FuseLane/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
)

// BufferStateRepo keeps per-conversation buffer state in the shared
// low-latency store so a restart cannot double-dispatch a window.
// Defined here, implemented in data (Redis).
type BufferStateRepo interface {
	// Generation returns the conversation's current buffer generation,
	// starting at 0.
	Generation(ctx context.Context, conversationID string) (int64, error)
	// Append adds a message to the generation's buffer and returns the
	// buffer length after the append.
	Append(ctx context.Context, conversationID string, generation int64, message string, ttl time.Duration) (int64, error)
	// Drain atomically takes all buffered messages of the generation and
	// advances the conversation to the next generation.
	Drain(ctx context.Context, conversationID string, generation int64) ([]string, error)
}

// ConversationPayload is the downstream job payload produced by a flush.
type ConversationPayload struct {
	ConversationID string `json:"conversation_id"`
	TenantID       string `json:"tenant_id,omitempty"`
	Text           string `json:"text"`
	Generation     int64  `json:"generation"`
}

// AggregationBufferUseCase coalesces rapid-fire inbound messages per
// conversation into one downstream processing job. A buffer flushes when
// its window deadline passes, when a trigger word arrives, or when it
// reaches the message cap. The idempotency key derived from
// (conversation, generation) guarantees each window dispatches once.
//
// On store or dispatcher unavailability the buffer fails open: the single
// message is processed immediately rather than dropped.
type AggregationBufferUseCase struct {
	store      BufferStateRepo
	dispatcher *DispatcherUseCase

	window      time.Duration
	maxMessages int64
	triggers    map[string]bool
	jobType     string

	mu     sync.Mutex
	timers map[string]*windowTimer

	logger *log.Helper
}

// windowTimer is the armed deadline of one buffer generation. The
// generation is kept so a stale flush cannot disarm a newer window.
type windowTimer struct {
	generation int64
	timer      *time.Timer
}

// NewAggregationBufferUseCase creates the buffer.
func NewAggregationBufferUseCase(rc *conf.Resilience, store BufferStateRepo, dispatcher *DispatcherUseCase, logger log.Logger) *AggregationBufferUseCase {
	window := 8 * time.Second
	maxMessages := int64(10)
	jobType := "process_conversation"
	triggers := map[string]bool{}
	if rc.Buffer != nil {
		if d := rc.Buffer.Window.AsDuration(); d > 0 {
			window = d
		}
		if rc.Buffer.MaxMessages > 0 {
			maxMessages = int64(rc.Buffer.MaxMessages)
		}
		if rc.Buffer.JobType != "" {
			jobType = rc.Buffer.JobType
		}
		for _, t := range rc.Buffer.FlushTriggers {
			triggers[strings.ToLower(strings.TrimSpace(t))] = true
		}
	}

	return &AggregationBufferUseCase{
		store:       store,
		dispatcher:  dispatcher,
		window:      window,
		maxMessages: maxMessages,
		triggers:    triggers,
		jobType:     jobType,
		timers:      make(map[string]*windowTimer),
		logger:      log.NewHelper(logger),
	}
}

// Append records an inbound message. The first message of a generation
// arms the window deadline; a trigger word or a full buffer flushes
// immediately, bypassing the deadline.
func (uc *AggregationBufferUseCase) Append(ctx context.Context, conversationID, tenantID, message string) error {
	gen, err := uc.store.Generation(ctx, conversationID)
	if err != nil {
		uc.logger.Warnw("buffer store unavailable, failing open to immediate processing",
			"conversation_id", conversationID,
			"error", err)
		return uc.dispatchText(ctx, conversationID, tenantID, message, -1)
	}

	// TTL outlives the window so a crashed flush can still be drained by
	// the next message's trigger path.
	size, err := uc.store.Append(ctx, conversationID, gen, message, uc.window*4)
	if err != nil {
		uc.logger.Warnw("buffer append failed, failing open to immediate processing",
			"conversation_id", conversationID,
			"error", err)
		return uc.dispatchText(ctx, conversationID, tenantID, message, -1)
	}

	if size == 1 {
		uc.armTimer(conversationID, tenantID, gen)
	}

	if uc.isTrigger(message) || size >= uc.maxMessages {
		return uc.flush(ctx, conversationID, tenantID, gen)
	}
	return nil
}

// armTimer schedules the deadline flush for a generation.
func (uc *AggregationBufferUseCase) armTimer(conversationID, tenantID string, gen int64) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	if wt, ok := uc.timers[conversationID]; ok {
		wt.timer.Stop()
	}
	uc.timers[conversationID] = &windowTimer{
		generation: gen,
		timer: time.AfterFunc(uc.window, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := uc.flush(ctx, conversationID, tenantID, gen); err != nil {
				uc.logger.Errorw("deadline flush failed",
					"conversation_id", conversationID,
					"generation", gen,
					"error", err)
			}
		}),
	}
}

// flush drains the generation and dispatches one downstream job. Drain
// advances the generation, so a deadline flush racing a trigger flush
// finds an empty buffer and does nothing; the idempotency key covers the
// remaining window.
func (uc *AggregationBufferUseCase) flush(ctx context.Context, conversationID, tenantID string, gen int64) error {
	uc.disarmTimer(conversationID, gen)

	messages, err := uc.store.Drain(ctx, conversationID, gen)
	if err != nil {
		return fmt.Errorf("failed to drain buffer for conversation %s: %w", conversationID, err)
	}
	if len(messages) == 0 {
		return nil
	}

	return uc.dispatchText(ctx, conversationID, tenantID, strings.Join(messages, " "), gen)
}

// dispatchText admits the downstream processing job. gen < 0 marks a
// fail-open single message, keyed randomly since no window exists.
func (uc *AggregationBufferUseCase) dispatchText(ctx context.Context, conversationID, tenantID, text string, gen int64) error {
	payload, err := json.Marshal(&ConversationPayload{
		ConversationID: conversationID,
		TenantID:       tenantID,
		Text:           text,
		Generation:     gen,
	})
	if err != nil {
		return fmt.Errorf("failed to encode conversation payload: %w", err)
	}

	opts := DispatchOptions{TenantID: tenantID}
	if gen >= 0 {
		opts.IdempotencyKey = fmt.Sprintf("buffer:%s:%d", conversationID, gen)
	}

	if _, err := uc.dispatcher.Dispatch(ctx, uc.jobType, payload, opts); err != nil {
		return fmt.Errorf("failed to dispatch buffered conversation %s: %w", conversationID, err)
	}

	uc.logger.Debugw("conversation buffer dispatched",
		"conversation_id", conversationID,
		"generation", gen,
		"bytes", len(payload))
	return nil
}

// disarmTimer stops the armed deadline only when it belongs to gen: a
// flush of an old generation must not cancel the current window.
func (uc *AggregationBufferUseCase) disarmTimer(conversationID string, gen int64) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if wt, ok := uc.timers[conversationID]; ok && wt.generation == gen {
		wt.timer.Stop()
		delete(uc.timers, conversationID)
	}
}

func (uc *AggregationBufferUseCase) isTrigger(message string) bool {
	return uc.triggers[strings.ToLower(strings.TrimSpace(message))]
}
