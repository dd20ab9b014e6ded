package biz

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"FuseLane/internal/model"
)

// ErrQueueClosed is returned by Pop after Close.
var ErrQueueClosed = errors.New("queue closed")

// tierQueue is one tier's delay-capable priority queue. Jobs become
// eligible when their NotBefore passes; among eligible jobs, higher
// priority wins, then admission order. Requeueing with a bounded delay
// keeps the ordering monotonic so no job is starved indefinitely.
type tierQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  jobHeap
	seq    uint64
	closed bool
	now    func() time.Time
}

func newTierQueue() *tierQueue {
	q := &tierQueue{now: time.Now}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push admits a job. Safe for concurrent use.
func (q *tierQueue) Push(j *model.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.seq++
	heap.Push(&q.items, &queuedJob{job: j, seq: q.seq})
	q.cond.Broadcast()
}

// Pop blocks until a job is ready (NotBefore passed), the context is
// cancelled, or the queue is closed. Workers block here and nowhere else
// while idle.
func (q *tierQueue) Pop(ctx context.Context) (*model.Job, error) {
	// Wake waiters on cancellation so the cond loop observes ctx.
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if q.closed {
			return nil, ErrQueueClosed
		}

		if len(q.items) > 0 {
			head := q.items[0]
			wait := head.job.NotBefore.Sub(q.now())
			if wait <= 0 {
				item := heap.Pop(&q.items).(*queuedJob)
				return item.job, nil
			}
			// Head not ready: arm a wake-up for its due time. A cheaper
			// job pushed meanwhile broadcasts and re-evaluates.
			timer := time.AfterFunc(wait, func() {
				q.mu.Lock()
				q.cond.Broadcast()
				q.mu.Unlock()
			})
			q.cond.Wait()
			timer.Stop()
			continue
		}

		q.cond.Wait()
	}
}

// Remove cancels a queued job by ID before it starts executing.
func (q *tierQueue) Remove(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, item := range q.items {
		if item.job.ID == jobID {
			heap.Remove(&q.items, i)
			return true
		}
	}
	return false
}

// Depth reports the number of queued jobs.
func (q *tierQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close wakes all waiters; subsequent Pops return ErrQueueClosed.
func (q *tierQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

type queuedJob struct {
	job *model.Job
	seq uint64
}

// jobHeap orders by NotBefore, then priority (higher first), then
// admission sequence.
type jobHeap []*queuedJob

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if !a.job.NotBefore.Equal(b.job.NotBefore) {
		return a.job.NotBefore.Before(b.job.NotBefore)
	}
	if a.job.Priority != b.job.Priority {
		return a.job.Priority > b.job.Priority
	}
	return a.seq < b.seq
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(*queuedJob)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
