package consensus

import (
	"time"

	"github.com/cobaltchain/cobalt/types"
)

// ThrottledInvQueue is an InvQueue gated by a token bucket: the bucket starts
// at maxAtOnce tokens and refills tokensPerInterval every interval, capped at
// maxAtOnce. Dequeuing consumes one token per vector. Refill is computed
// lazily from the clock, so the queue needs no timer of its own.
//
// Enqueues beyond maxBacklog are dropped silently (the queue keeps its oldest
// entries). Not safe for concurrent use; the owner synchronizes access.
type ThrottledInvQueue struct {
	queue *InvQueue

	maxAtOnce         int
	tokensPerInterval int
	interval          time.Duration

	tokens     int
	lastRefill time.Time
	stopped    bool

	now func() time.Time // injectable for tests
}

func NewThrottledInvQueue(maxAtOnce, tokensPerInterval int, interval time.Duration, maxBacklog int) *ThrottledInvQueue {
	q := &ThrottledInvQueue{
		queue:             NewInvQueue(maxBacklog),
		maxAtOnce:         maxAtOnce,
		tokensPerInterval: tokensPerInterval,
		interval:          interval,
		tokens:            maxAtOnce,
		now:               time.Now,
	}
	q.lastRefill = q.now()
	return q
}

func (q *ThrottledInvQueue) refill() {
	if q.stopped {
		return
	}
	elapsed := q.now().Sub(q.lastRefill)
	if elapsed < q.interval {
		return
	}
	steps := int(elapsed / q.interval)
	q.tokens += steps * q.tokensPerInterval
	if q.tokens > q.maxAtOnce {
		q.tokens = q.maxAtOnce
	}
	q.lastRefill = q.lastRefill.Add(time.Duration(steps) * q.interval)
}

// Enqueue appends v unless already queued or the backlog is full.
func (q *ThrottledInvQueue) Enqueue(v types.InvVector) bool {
	if q.stopped {
		return false
	}
	return q.queue.Enqueue(v)
}

// EnqueueWithSize appends v carrying its object's serialized size.
func (q *ThrottledInvQueue) EnqueueWithSize(v types.InvVector, size int) bool {
	if q.stopped {
		return false
	}
	return q.queue.EnqueueWithSize(v, size)
}

// Remove drops v from the backlog if present.
func (q *ThrottledInvQueue) Remove(v types.InvVector) bool {
	return q.queue.Remove(v)
}

// Contains reports whether v is in the backlog.
func (q *ThrottledInvQueue) Contains(v types.InvVector) bool {
	return q.queue.Contains(v)
}

// Len returns the backlog length, ignoring tokens.
func (q *ThrottledInvQueue) Len() int {
	return q.queue.Len()
}

// IsAvailable reports whether at least one vector can be dequeued right now.
func (q *ThrottledInvQueue) IsAvailable() bool {
	return q.Available() > 0
}

// Available returns how many vectors can be dequeued right now:
// min(backlog, tokens).
func (q *ThrottledInvQueue) Available() int {
	if q.stopped {
		return 0
	}
	q.refill()
	if q.queue.Len() < q.tokens {
		return q.queue.Len()
	}
	return q.tokens
}

// Dequeue removes and returns the oldest vector, consuming one token.
func (q *ThrottledInvQueue) Dequeue() (types.InvVector, bool) {
	e, ok := q.DequeueEntry()
	return e.InvVector, ok
}

// DequeueEntry removes and returns the oldest entry with its size, consuming
// one token.
func (q *ThrottledInvQueue) DequeueEntry() (types.FreeTransactionVector, bool) {
	if q.Available() == 0 {
		return types.FreeTransactionVector{}, false
	}
	q.tokens--
	return q.queue.DequeueEntry()
}

// DequeueMulti removes and returns min(n, backlog, tokens) vectors.
func (q *ThrottledInvQueue) DequeueMulti(n int) []types.InvVector {
	if avail := q.Available(); n > avail {
		n = avail
	}
	q.tokens -= n
	return q.queue.DequeueMulti(n)
}

// Stop permanently halts token refill and drains the backlog.
func (q *ThrottledInvQueue) Stop() {
	q.stopped = true
	q.tokens = 0
	q.queue.Clear()
}
