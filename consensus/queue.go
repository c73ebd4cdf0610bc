package consensus

import (
	"container/list"

	"github.com/cobaltchain/cobalt/types"
)

// InvQueue is a FIFO of inv vectors that rejects duplicate enqueues. Entries
// optionally carry the serialized size of their object (used by the free
// relay queue's byte budget); removals key on the vector alone.
//
// A maxBacklog of 0 means unbounded; otherwise enqueues beyond the bound are
// dropped silently (the queue keeps its oldest entries).
//
// InvQueue is not safe for concurrent use; the owner synchronizes access.
type InvQueue struct {
	maxBacklog int
	elems      map[types.InvVector]*list.Element
	order      *list.List // of types.FreeTransactionVector
}

func NewInvQueue(maxBacklog int) *InvQueue {
	return &InvQueue{
		maxBacklog: maxBacklog,
		elems:      make(map[types.InvVector]*list.Element),
		order:      list.New(),
	}
}

// Enqueue appends v unless it is already queued.
func (q *InvQueue) Enqueue(v types.InvVector) bool {
	return q.EnqueueWithSize(v, 0)
}

// EnqueueWithSize appends v with its object's serialized size.
func (q *InvQueue) EnqueueWithSize(v types.InvVector, size int) bool {
	if _, ok := q.elems[v]; ok {
		return false
	}
	if q.maxBacklog > 0 && q.order.Len() >= q.maxBacklog {
		return false
	}
	q.elems[v] = q.order.PushBack(types.NewFreeTransactionVector(v, size))
	return true
}

// EnqueueAll appends the first occurrence of each vector, preserving input
// order.
func (q *InvQueue) EnqueueAll(vs []types.InvVector) {
	for _, v := range vs {
		q.Enqueue(v)
	}
}

// Dequeue removes and returns the oldest entry.
func (q *InvQueue) Dequeue() (types.InvVector, bool) {
	e, ok := q.dequeueEntry()
	return e.InvVector, ok
}

// DequeueEntry removes and returns the oldest entry with its size.
func (q *InvQueue) DequeueEntry() (types.FreeTransactionVector, bool) {
	return q.dequeueEntry()
}

func (q *InvQueue) dequeueEntry() (types.FreeTransactionVector, bool) {
	front := q.order.Front()
	if front == nil {
		return types.FreeTransactionVector{}, false
	}
	q.order.Remove(front)
	entry := front.Value.(types.FreeTransactionVector)
	delete(q.elems, entry.InvVector)
	return entry, true
}

// DequeueMulti removes and returns up to n vectors in FIFO order.
func (q *InvQueue) DequeueMulti(n int) []types.InvVector {
	if n > q.order.Len() {
		n = q.order.Len()
	}
	out := make([]types.InvVector, 0, n)
	for i := 0; i < n; i++ {
		v, _ := q.Dequeue()
		out = append(out, v)
	}
	return out
}

// Remove drops v from the queue if present.
func (q *InvQueue) Remove(v types.InvVector) bool {
	e, ok := q.elems[v]
	if !ok {
		return false
	}
	q.order.Remove(e)
	delete(q.elems, v)
	return true
}

// Contains reports whether v is queued.
func (q *InvQueue) Contains(v types.InvVector) bool {
	_, ok := q.elems[v]
	return ok
}

// Len returns the exact number of queued vectors.
func (q *InvQueue) Len() int {
	return q.order.Len()
}

// Clear drops all entries.
func (q *InvQueue) Clear() {
	q.elems = make(map[types.InvVector]*list.Element)
	q.order.Init()
}
