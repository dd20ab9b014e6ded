package biz

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"FuseLane/internal/conf"
	"FuseLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// resolvedHandleCacheSize bounds how many terminal job handles are kept
// so that late duplicate Dispatch calls still observe the outcome.
const resolvedHandleCacheSize = 4096

// HandlerFunc is the bound handler for one job type. It receives the
// per-job deadline via ctx and must return promptly on expiry.
type HandlerFunc func(ctx context.Context, job *model.Job) error

// DispatchOptions carries optional admission parameters.
type DispatchOptions struct {
	// IdempotencyKey prevents duplicate admission. When empty a random
	// key is derived and the call is effectively always admitted.
	IdempotencyKey string
	TenantID       string
	Priority       int
	// NotBefore delays the first execution when set.
	NotBefore time.Time
}

// JobHandle is the caller's view of an admitted job. Status moves from
// pending to exactly one terminal state.
type JobHandle struct {
	mu     sync.Mutex
	job    *model.Job
	status model.JobStatus
	err    error
	done   chan struct{}
}

// Status returns the current lifecycle state.
func (h *JobHandle) Status() model.JobStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Err returns the terminal error, if any.
func (h *JobHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Job returns a snapshot of the underlying job.
func (h *JobHandle) Job() *model.Job {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.job.Clone()
}

// Done is closed when the job reaches a terminal state.
func (h *JobHandle) Done() <-chan struct{} {
	return h.done
}

func (h *JobHandle) resolve(status model.JobStatus, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status != model.StatusPending {
		return
	}
	h.status = status
	h.err = err
	close(h.done)
}

// route is a normalized routing table entry.
type route struct {
	tier        model.Tier
	service     string
	maxAttempts int32
}

// DispatcherUseCase accepts typed jobs, resolves their tier through the
// static routing table, and guarantees idempotent admission: a job ID is
// enqueued at most once while unresolved, and a duplicate Dispatch
// returns the existing handle.
type DispatcherUseCase struct {
	routes map[string]route
	queues map[model.Tier]*tierQueue

	handlersMu sync.RWMutex
	handlers   map[string]HandlerFunc

	admissionMu sync.Mutex
	pending     map[string]*JobHandle
	resolved    *lru.Cache[string, *JobHandle]

	logger *log.Helper
	now    func() time.Time
}

// NewDispatcherUseCase builds the dispatcher from the validated routing
// table. One queue per tier, created up front.
func NewDispatcherUseCase(rc *conf.Resilience, logger log.Logger) (*DispatcherUseCase, error) {
	routes := make(map[string]route, len(rc.Routes))
	for jobType, r := range rc.Routes {
		tier, ok := model.ParseTier(r.Tier)
		if !ok {
			return nil, fmt.Errorf("route %q has invalid tier %q", jobType, r.Tier)
		}
		maxAttempts := r.MaxAttempts
		if maxAttempts == 0 {
			if p, ok := rc.Services[r.Service]; ok {
				maxAttempts = p.MaxAttempts
			}
		}
		if maxAttempts <= 0 {
			return nil, fmt.Errorf("route %q has no max_attempts", jobType)
		}
		routes[jobType] = route{tier: tier, service: r.Service, maxAttempts: maxAttempts}
	}

	resolved, err := lru.New[string, *JobHandle](resolvedHandleCacheSize)
	if err != nil {
		return nil, err
	}

	return &DispatcherUseCase{
		routes: routes,
		queues: map[model.Tier]*tierQueue{
			model.TierRealtime:   newTierQueue(),
			model.TierBackground: newTierQueue(),
			model.TierBatch:      newTierQueue(),
		},
		handlers: make(map[string]HandlerFunc),
		pending:  make(map[string]*JobHandle),
		resolved: resolved,
		logger:   log.NewHelper(logger),
		now:      time.Now,
	}, nil
}

// RegisterHandler binds fn to jobType. Exactly one handler per job type.
func (uc *DispatcherUseCase) RegisterHandler(jobType string, fn HandlerFunc) error {
	if _, ok := uc.routes[jobType]; !ok {
		return fmt.Errorf("job type %q has no route", jobType)
	}

	uc.handlersMu.Lock()
	defer uc.handlersMu.Unlock()
	if _, exists := uc.handlers[jobType]; exists {
		return fmt.Errorf("handler already registered for job type %q", jobType)
	}
	uc.handlers[jobType] = fn
	return nil
}

// Dispatch admits a job. Duplicate calls with the same idempotency key
// return the existing handle: unresolved jobs are never enqueued twice,
// and recently resolved keys return the terminal handle unchanged.
func (uc *DispatcherUseCase) Dispatch(_ context.Context, jobType string, payload json.RawMessage, opts DispatchOptions) (*JobHandle, error) {
	r, ok := uc.routes[jobType]
	if !ok {
		return nil, fmt.Errorf("job type %q has no route", jobType)
	}

	id := opts.IdempotencyKey
	if id == "" {
		id = uuid.NewString()
	}

	uc.admissionMu.Lock()
	defer uc.admissionMu.Unlock()

	if h, exists := uc.pending[id]; exists {
		uc.logger.Debugw("duplicate dispatch returned existing job",
			"job_type", jobType,
			"job_id", id)
		return h, nil
	}
	if h, exists := uc.resolved.Get(id); exists {
		return h, nil
	}

	now := uc.now()
	notBefore := now
	if opts.NotBefore.After(now) {
		notBefore = opts.NotBefore
	}

	job := &model.Job{
		ID:          id,
		Type:        jobType,
		TenantID:    opts.TenantID,
		Payload:     payload,
		Tier:        r.tier,
		Priority:    opts.Priority,
		MaxAttempts: r.maxAttempts,
		CreatedAt:   now,
		NotBefore:   notBefore,
	}
	h := &JobHandle{job: job, status: model.StatusPending, done: make(chan struct{})}
	uc.pending[id] = h
	uc.queues[r.tier].Push(job)

	uc.logger.Debugw("job admitted",
		"job_type", jobType,
		"job_id", id,
		"tier", r.tier,
		"tenant_id", opts.TenantID)

	return h, nil
}

// Handle returns the handle for a job ID, pending or recently resolved.
func (uc *DispatcherUseCase) Handle(jobID string) (*JobHandle, bool) {
	uc.admissionMu.Lock()
	defer uc.admissionMu.Unlock()
	if h, ok := uc.pending[jobID]; ok {
		return h, true
	}
	return uc.resolved.Get(jobID)
}

// Cancel removes a job from its queue before it starts executing. A job
// whose handler already runs is not interrupted beyond its deadline.
func (uc *DispatcherUseCase) Cancel(jobID string) bool {
	uc.admissionMu.Lock()
	h, ok := uc.pending[jobID]
	uc.admissionMu.Unlock()
	if !ok {
		return false
	}

	job := h.Job()
	if !uc.queues[job.Tier].Remove(jobID) {
		return false
	}

	uc.resolveJob(h, model.StatusFailed, fmt.Errorf("job %s cancelled before execution", jobID))
	return true
}

// QueueDepth reports the number of queued jobs in a tier.
func (uc *DispatcherUseCase) QueueDepth(tier model.Tier) int {
	if q, ok := uc.queues[tier]; ok {
		return q.Depth()
	}
	return 0
}

// ServiceFor resolves a job type's external service key.
func (uc *DispatcherUseCase) ServiceFor(jobType string) (string, bool) {
	r, ok := uc.routes[jobType]
	if !ok {
		return "", false
	}
	return r.service, true
}

// TierFor resolves a job type's tier.
func (uc *DispatcherUseCase) TierFor(jobType string) (model.Tier, bool) {
	r, ok := uc.routes[jobType]
	if !ok {
		return "", false
	}
	return r.tier, true
}

// JobTypes lists all routed job types.
func (uc *DispatcherUseCase) JobTypes() []string {
	types := make([]string, 0, len(uc.routes))
	for t := range uc.routes {
		types = append(types, t)
	}
	return types
}

// handler looks up the bound handler for a job type.
func (uc *DispatcherUseCase) handler(jobType string) (HandlerFunc, bool) {
	uc.handlersMu.RLock()
	defer uc.handlersMu.RUnlock()
	fn, ok := uc.handlers[jobType]
	return fn, ok
}

// queue returns the tier's queue. Used by the worker pool.
func (uc *DispatcherUseCase) queue(tier model.Tier) *tierQueue {
	return uc.queues[tier]
}

// requeue reinserts a job after a backoff or admission-control delay.
func (uc *DispatcherUseCase) requeue(job *model.Job) {
	uc.queues[job.Tier].Push(job)
}

// resolveJob moves a handle from pending to the bounded resolved cache
// and marks its terminal state. Idempotency ends here: the key becomes
// admittable again once it falls out of the cache.
func (uc *DispatcherUseCase) resolveJob(h *JobHandle, status model.JobStatus, err error) {
	uc.admissionMu.Lock()
	delete(uc.pending, h.job.ID)
	uc.resolved.Add(h.job.ID, h)
	uc.admissionMu.Unlock()

	h.resolve(status, err)
}

// Shutdown closes all tier queues, releasing blocked workers.
func (uc *DispatcherUseCase) Shutdown() {
	for _, q := range uc.queues {
		q.Close()
	}
}
