package service

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"FuseLane/internal/biz"
	"FuseLane/internal/conf"
	"FuseLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"
)

var errEntryNotFound = errors.New("entry not found")

// testResilience mirrors a minimal production policy set.
func testResilience() *conf.Resilience {
	return &conf.Resilience{
		Services: map[string]*conf.ServicePolicy{
			"billing": {
				FailureThreshold: 3,
				SuccessThreshold: 2,
				ResetTimeout:     durationpb.New(30 * time.Second),
				RateCapacity:     10,
				RefillRate:       10,
				MaxAttempts:      3,
				BaseDelay:        durationpb.New(100 * time.Millisecond),
				MaxDelay:         durationpb.New(time.Second),
				Critical:         true,
			},
			"messaging": {
				FailureThreshold: 2,
				SuccessThreshold: 1,
				ResetTimeout:     durationpb.New(time.Second),
				RateCapacity:     100,
				RefillRate:       100,
				MaxAttempts:      2,
				BaseDelay:        durationpb.New(time.Millisecond),
				MaxDelay:         durationpb.New(5 * time.Millisecond),
			},
		},
		Routes: map[string]*conf.Route{
			"charge_payment":       {Tier: "background", Service: "billing"},
			"send_message":         {Tier: "realtime", Service: "messaging"},
			"process_conversation": {Tier: "realtime", Service: "messaging"},
		},
		Tiers: map[string]*conf.TierPolicy{
			"realtime":   {Workers: 2, JobTimeout: durationpb.New(2 * time.Second)},
			"background": {Workers: 1, JobTimeout: durationpb.New(2 * time.Second)},
		},
		Features: map[string]*conf.FeatureMap{
			"payments": {Services: []string{"billing"}},
			"chat":     {Services: []string{"messaging"}},
		},
		DeadLetterAlertDepth: 5,
		Buffer: &conf.BufferPolicy{
			Window:        durationpb.New(time.Minute),
			MaxMessages:   3,
			FlushTriggers: []string{"urgent"},
			JobType:       "process_conversation",
		},
		Metrics: &conf.MetricsPolicy{
			Window:            durationpb.New(10 * time.Second),
			FlushInterval:     durationpb.New(time.Second),
			SampleLimit:       100,
			TargetUtilization: 0.7,
		},
	}
}

// memDeadLetterRepo is an in-memory biz.DeadLetterRepo for service tests.
type memDeadLetterRepo struct {
	mu      sync.Mutex
	nextID  int64
	entries map[int64]*model.DeadLetterEntry
}

func newMemDeadLetterRepo() *memDeadLetterRepo {
	return &memDeadLetterRepo{entries: make(map[int64]*model.DeadLetterEntry)}
}

func (r *memDeadLetterRepo) Append(_ context.Context, entry *model.DeadLetterEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	entry.ID = r.nextID
	r.entries[entry.ID] = entry
	return nil
}

func (r *memDeadLetterRepo) Get(_ context.Context, id int64) (*model.DeadLetterEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, errEntryNotFound
	}
	return e, nil
}

func (r *memDeadLetterRepo) List(_ context.Context, jobType string, limit int) ([]*model.DeadLetterEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.DeadLetterEntry
	for _, e := range r.entries {
		if jobType != "" && e.Job.Type != jobType {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FailedAt.After(out[j].FailedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memDeadLetterRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return errEntryNotFound
	}
	delete(r.entries, id)
	return nil
}

func (r *memDeadLetterRepo) Count(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.entries)), nil
}

// memBufferStateRepo is an in-memory biz.BufferStateRepo.
type memBufferStateRepo struct {
	mu          sync.Mutex
	generations map[string]int64
	messages    map[string][]string
}

func newMemBufferStateRepo() *memBufferStateRepo {
	return &memBufferStateRepo{
		generations: make(map[string]int64),
		messages:    make(map[string][]string),
	}
}

func (r *memBufferStateRepo) key(conversationID string, gen int64) string {
	return conversationID + ":" + strconv.FormatInt(gen, 10)
}

func (r *memBufferStateRepo) Generation(_ context.Context, conversationID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generations[conversationID], nil
}

func (r *memBufferStateRepo) Append(_ context.Context, conversationID string, gen int64, message string, _ time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := r.key(conversationID, gen)
	r.messages[k] = append(r.messages[k], message)
	return int64(len(r.messages[k])), nil
}

func (r *memBufferStateRepo) Drain(_ context.Context, conversationID string, gen int64) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.generations[conversationID] != gen {
		return nil, nil
	}
	r.generations[conversationID] = gen + 1
	k := r.key(conversationID, gen)
	msgs := r.messages[k]
	delete(r.messages, k)
	return msgs, nil
}

// serviceFixture wires real use cases against in-memory repos.
type serviceFixture struct {
	rc          *conf.Resilience
	dispatcher  *biz.DispatcherUseCase
	breaker     *biz.CircuitBreakerUseCase
	limiter     *biz.RateLimiterUseCase
	degradation *biz.DegradationManagerUseCase
	deadLetter  *biz.DeadLetterUseCase
	dlRepo      *memDeadLetterRepo
	buffer      *biz.AggregationBufferUseCase
	optimizer   *biz.ConcurrencyOptimizerUseCase
	metrics     *biz.MetricsCollectorUseCase
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	rc := testResilience()
	logger := log.DefaultLogger

	dispatcher, err := biz.NewDispatcherUseCase(rc, logger)
	require.NoError(t, err)

	breaker := biz.NewCircuitBreakerUseCase(rc, logger)
	limiter := biz.NewRateLimiterUseCase(rc, logger)
	degradation := biz.NewDegradationManagerUseCase(rc, breaker, logger)
	dlRepo := newMemDeadLetterRepo()
	deadLetter := biz.NewDeadLetterUseCase(rc, dlRepo, dispatcher, logger)
	buffer := biz.NewAggregationBufferUseCase(rc, newMemBufferStateRepo(), dispatcher, logger)
	metrics := biz.NewMetricsCollectorUseCase(rc, newNoopAggregateRepo(), logger)
	optimizer := biz.NewConcurrencyOptimizerUseCase(rc, metrics, dispatcher, logger)

	return &serviceFixture{
		rc:          rc,
		dispatcher:  dispatcher,
		breaker:     breaker,
		limiter:     limiter,
		degradation: degradation,
		deadLetter:  deadLetter,
		dlRepo:      dlRepo,
		buffer:      buffer,
		optimizer:   optimizer,
		metrics:     metrics,
	}
}

// noopAggregateRepo discards flushes.
type noopAggregateRepo struct{}

func newNoopAggregateRepo() *noopAggregateRepo { return &noopAggregateRepo{} }

func (*noopAggregateRepo) IncrementAggregate(_ context.Context, _ string, _ *model.MetricsAggregate, _ time.Duration) error {
	return nil
}
