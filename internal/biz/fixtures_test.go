package biz

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"FuseLane/internal/conf"
	"FuseLane/internal/model"

	"google.golang.org/protobuf/types/known/durationpb"
)

// testResilience builds a small but complete policy set used across the
// package tests.
func testResilience() *conf.Resilience {
	return &conf.Resilience{
		Services: map[string]*conf.ServicePolicy{
			"billing": {
				FailureThreshold:   3,
				SuccessThreshold:   2,
				ResetTimeout:       durationpb.New(30 * time.Second),
				RateCapacity:       2,
				RefillRate:         1,
				TenantRateCapacity: 1,
				TenantRefillRate:   1,
				MaxAttempts:        3,
				BaseDelay:          durationpb.New(100 * time.Millisecond),
				MaxDelay:           durationpb.New(time.Second),
				Critical:           true,
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
			"batch":      {Workers: 1, JobTimeout: durationpb.New(2 * time.Second)},
		},
		Features: map[string]*conf.FeatureMap{
			"payments": {Services: []string{"billing"}},
			"chat":     {Services: []string{"messaging"}},
		},
		DeadLetterAlertDepth: 5,
		Buffer: &conf.BufferPolicy{
			Window:        durationpb.New(50 * time.Millisecond),
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

// fakeDeadLetterRepo is an in-memory DeadLetterRepo.
type fakeDeadLetterRepo struct {
	mu      sync.Mutex
	nextID  int64
	entries map[int64]*model.DeadLetterEntry
	failOn  error
}

func newFakeDeadLetterRepo() *fakeDeadLetterRepo {
	return &fakeDeadLetterRepo{entries: make(map[int64]*model.DeadLetterEntry)}
}

func (r *fakeDeadLetterRepo) Append(_ context.Context, entry *model.DeadLetterEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn != nil {
		return r.failOn
	}
	r.nextID++
	entry.ID = r.nextID
	r.entries[entry.ID] = entry
	return nil
}

func (r *fakeDeadLetterRepo) Get(_ context.Context, id int64) (*model.DeadLetterEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, errNotFound
	}
	return e, nil
}

func (r *fakeDeadLetterRepo) List(_ context.Context, jobType string, limit int) ([]*model.DeadLetterEntry, error) {
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

func (r *fakeDeadLetterRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return errNotFound
	}
	delete(r.entries, id)
	return nil
}

func (r *fakeDeadLetterRepo) Count(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.entries)), nil
}

func (r *fakeDeadLetterRepo) depth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *fakeDeadLetterRepo) first() *model.DeadLetterEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		return e
	}
	return nil
}

var (
	errNotFound  = errors.New("entry not found")
	errStoreDown = errors.New("store unavailable")
)

// fakeBufferStateRepo is an in-memory BufferStateRepo.
type fakeBufferStateRepo struct {
	mu          sync.Mutex
	generations map[string]int64
	messages    map[string][]string
	failAll     bool
}

func newFakeBufferStateRepo() *fakeBufferStateRepo {
	return &fakeBufferStateRepo{
		generations: make(map[string]int64),
		messages:    make(map[string][]string),
	}
}

func (r *fakeBufferStateRepo) key(conversationID string, gen int64) string {
	return conversationID + ":" + strconv.FormatInt(gen, 10)
}

func (r *fakeBufferStateRepo) Generation(_ context.Context, conversationID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return 0, errStoreDown
	}
	return r.generations[conversationID], nil
}

func (r *fakeBufferStateRepo) Append(_ context.Context, conversationID string, gen int64, message string, _ time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return 0, errStoreDown
	}
	k := r.key(conversationID, gen)
	r.messages[k] = append(r.messages[k], message)
	return int64(len(r.messages[k])), nil
}

func (r *fakeBufferStateRepo) Drain(_ context.Context, conversationID string, gen int64) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return nil, errStoreDown
	}
	if r.generations[conversationID] != gen {
		return nil, nil
	}
	r.generations[conversationID] = gen + 1
	k := r.key(conversationID, gen)
	msgs := r.messages[k]
	delete(r.messages, k)
	return msgs, nil
}

// fakeMetricsAggregateRepo records flushed deltas.
type fakeMetricsAggregateRepo struct {
	mu      sync.Mutex
	flushed map[string]*model.MetricsAggregate
	fail    bool
}

func newFakeMetricsAggregateRepo() *fakeMetricsAggregateRepo {
	return &fakeMetricsAggregateRepo{flushed: make(map[string]*model.MetricsAggregate)}
}

func (r *fakeMetricsAggregateRepo) IncrementAggregate(_ context.Context, jobType string, delta *model.MetricsAggregate, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errStoreDown
	}
	cur, ok := r.flushed[jobType]
	if !ok {
		cur = &model.MetricsAggregate{JobType: jobType}
		r.flushed[jobType] = cur
	}
	cur.Count += delta.Count
	cur.SuccessCount += delta.SuccessCount
	cur.FailureCount += delta.FailureCount
	cur.TotalWaitMs += delta.TotalWaitMs
	cur.TotalServiceMs += delta.TotalServiceMs
	cur.TotalAttempts += delta.TotalAttempts
	return nil
}
