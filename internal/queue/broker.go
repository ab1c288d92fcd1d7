// Package queue implements the in-memory Queue Broker: a priority heap of
// ready task IDs backed by a keyed lock table of lease tokens. The broker
// itself is the source of truth for "what should run next and who currently
// holds it" — Task rows in Postgres persist state across restarts, but
// dispatch ordering and lease ownership live here, in-process, the way
// internal/runtimeutil/queueinspector.go's job-queue vocabulary (queue size,
// active, pending, retry) models a queue without delegating it to a second
// broker process.
package queue

import (
	"container/heap"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/relaycore/orchestrator/internal/domain"
)

// ErrEmpty is returned by LeaseNext when no task is ready to dispatch.
var ErrEmpty = errors.New("queue: no ready task")

// ErrFull is returned by Enqueue when the broker is at MaxDepth.
var ErrFull = errors.New("queue: at max depth")

// item is one entry in the priority heap. Lower Priority dispatches first;
// ties break on EnqueuedAt (FIFO within a priority band).
type item struct {
	taskID     domain.ID
	priority   int
	enqueuedAt time.Time
	index      int
}

type priorityHeap []*item

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].enqueuedAt.Before(h[j].enqueuedAt)
}
func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *priorityHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// lease is a held lock on a task, identified by an opaque token. ExtendLease
// and Release must present the matching token or fail with ErrLeaseLost —
// this is what lets a crashed worker's lease expire and be reclaimed without
// a second worker's heartbeat accidentally releasing it.
type lease struct {
	token    string
	deadline time.Time
}

// Broker is the in-memory priority queue plus lease/lock table described by
// the spec's Queue Broker module. One Broker instance is shared by the HTTP
// admission path (Enqueue) and the dispatcher's worker pool (LeaseNext/
// ExtendLease/Release).
type Broker struct {
	mu       sync.Mutex
	ready    priorityHeap
	leases   map[domain.ID]*lease
	queued   map[domain.ID]struct{} // tasks currently in ready (membership test)
	maxDepth int
}

// New returns an empty Broker bounded at maxDepth ready+leased tasks.
func New(maxDepth int) *Broker {
	b := &Broker{
		leases:   make(map[domain.ID]*lease),
		queued:   make(map[domain.ID]struct{}),
		maxDepth: maxDepth,
	}
	heap.Init(&b.ready)
	return b
}

// Depth returns the number of tasks currently ready or leased, i.e. the
// admission-relevant queue depth (§4.2 MAX_QUEUE_DEPTH check).
func (b *Broker) Depth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ready) + len(b.leases)
}

// MaxDepth returns the configured admission ceiling (MAX_QUEUE_DEPTH).
func (b *Broker) MaxDepth() int {
	return b.maxDepth
}

// Enqueue makes a task ready for dispatch at the given priority. Returns
// ErrFull if the broker is already at MaxDepth.
func (b *Broker) Enqueue(taskID domain.ID, priority int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, leased := b.leases[taskID]; leased {
		return nil // already running; re-enqueue is a no-op (e.g. admission retry)
	}
	if _, inReady := b.queued[taskID]; inReady {
		return nil
	}
	if len(b.ready)+len(b.leases) >= b.maxDepth {
		return ErrFull
	}

	heap.Push(&b.ready, &item{taskID: taskID, priority: priority, enqueuedAt: time.Now()})
	b.queued[taskID] = struct{}{}
	return nil
}

// LeaseNext pops the highest-priority ready task and grants it a lease
// valid until now+ttl, returning an opaque token the caller must present to
// ExtendLease/Release. Returns ErrEmpty if nothing is ready.
func (b *Broker) LeaseNext(ttl time.Duration) (domain.ID, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.ready) == 0 {
		return "", "", ErrEmpty
	}

	it := heap.Pop(&b.ready).(*item)
	delete(b.queued, it.taskID)

	token := newToken()
	b.leases[it.taskID] = &lease{token: token, deadline: time.Now().Add(ttl)}
	return it.taskID, token, nil
}

// ExtendLease pushes out the lease deadline by ttl, provided token still
// matches. This is the dispatcher worker's heartbeat call.
func (b *Broker) ExtendLease(taskID domain.ID, token string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, ok := b.leases[taskID]
	if !ok || l.token != token {
		return domain.ErrLeaseLost
	}
	l.deadline = time.Now().Add(ttl)
	return nil
}

// Release drops the lease, provided token still matches. Called on terminal
// Run completion (success or non-retryable failure).
func (b *Broker) Release(taskID domain.ID, token string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, ok := b.leases[taskID]
	if !ok || l.token != token {
		return domain.ErrLeaseLost
	}
	delete(b.leases, taskID)
	return nil
}

// Requeue releases the lease (if token matches) and re-admits the task at
// the given priority — the retry path after a retryable Handler failure.
func (b *Broker) Requeue(taskID domain.ID, token string, priority int) error {
	b.mu.Lock()
	l, ok := b.leases[taskID]
	if !ok || l.token != token {
		b.mu.Unlock()
		return domain.ErrLeaseLost
	}
	delete(b.leases, taskID)
	b.mu.Unlock()
	return b.Enqueue(taskID, priority)
}

// SweepExpiredLeases reclaims leases past their deadline, returning the
// task IDs that should be re-enqueued by the caller at priority. This is
// the lease-TTL half of the worker-crash recovery path: a worker that dies
// mid-Run leaves its lease to expire here instead of orphaning the task.
func (b *Broker) SweepExpiredLeases(now time.Time) []domain.ID {
	b.mu.Lock()
	defer b.mu.Unlock()

	var expired []domain.ID
	for taskID, l := range b.leases {
		if now.After(l.deadline) {
			expired = append(expired, taskID)
			delete(b.leases, taskID)
		}
	}
	return expired
}

// newToken returns a random 16-byte hex lease token.
func newToken() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// Sweeper periodically reclaims expired leases and re-enqueues the
// corresponding tasks via requeue, until ctx is canceled.
func Sweeper(ctx context.Context, b *Broker, interval time.Duration, requeue func(domain.ID)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, taskID := range b.SweepExpiredLeases(time.Now()) {
				requeue(taskID)
			}
		}
	}
}
