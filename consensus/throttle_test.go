package consensus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cobaltchain/cobalt/types"
)

// fakeClock drives the lazy token refill deterministically.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newThrottledQueue(maxAtOnce, perInterval int) (*ThrottledInvQueue, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	q := NewThrottledInvQueue(maxAtOnce, perInterval, time.Second, 0)
	q.now = clock.Now
	q.lastRefill = clock.now
	return q, clock
}

func txVectors(n int, seed byte) []types.InvVector {
	out := make([]types.InvVector, n)
	for i := 0; i < n; i++ {
		out[i] = types.NewTransactionInvVector(types.HashBytes([]byte{seed, byte(i), byte(i >> 8)}))
	}
	return out
}

func TestThrottledQueueBurstCap(t *testing.T) {
	q, _ := newThrottledQueue(100, 10)
	for _, v := range txVectors(500, 0x01) {
		q.Enqueue(v)
	}

	// the initial burst is bounded by maxAtOnce
	assert.Equal(t, 100, q.Available())
	assert.Len(t, q.DequeueMulti(500), 100)
	assert.Zero(t, q.Available())
}

func TestThrottledQueueRefill(t *testing.T) {
	q, clock := newThrottledQueue(100, 10)
	for _, v := range txVectors(200, 0x02) {
		q.Enqueue(v)
	}
	q.DequeueMulti(100)

	// no tokens before the interval elapses
	clock.advance(900 * time.Millisecond)
	require.False(t, q.IsAvailable())

	clock.advance(100 * time.Millisecond)
	assert.Equal(t, 10, q.Available())

	// per-second emission stays at the refill rate
	for i := 0; i < 5; i++ {
		assert.Len(t, q.DequeueMulti(1000), 10)
		clock.advance(time.Second)
	}

	// tokens cap at maxAtOnce while idle
	clock.advance(time.Hour)
	assert.Equal(t, 50, q.Available()) // 50 vectors left in the backlog
	assert.Equal(t, 50, len(q.DequeueMulti(1000)))
}

func TestThrottledQueueAvailableIsBacklogBounded(t *testing.T) {
	q, _ := newThrottledQueue(100, 10)
	for _, v := range txVectors(3, 0x03) {
		q.Enqueue(v)
	}

	assert.Equal(t, 3, q.Available())
}

func TestThrottledQueueDequeueConsumesToken(t *testing.T) {
	q, _ := newThrottledQueue(2, 1)
	for _, v := range txVectors(5, 0x04) {
		q.Enqueue(v)
	}

	_, ok := q.Dequeue()
	require.True(t, ok)
	_, ok = q.Dequeue()
	require.True(t, ok)

	// bucket exhausted
	_, ok = q.Dequeue()
	require.False(t, ok)
	assert.Equal(t, 3, q.Len())
}

func TestThrottledQueueStop(t *testing.T) {
	q, clock := newThrottledQueue(10, 1)
	for _, v := range txVectors(5, 0x05) {
		q.Enqueue(v)
	}

	q.Stop()

	assert.Zero(t, q.Len())
	assert.False(t, q.IsAvailable())

	// stopped for good: no refill, no enqueue
	clock.advance(time.Hour)
	assert.False(t, q.Enqueue(txVectors(1, 0x06)[0]))
	assert.Zero(t, q.Available())
}

func TestThrottledQueueBacklogDropsNewest(t *testing.T) {
	q := NewThrottledInvQueue(10, 1, time.Second, 2)
	vs := txVectors(3, 0x07)
	for _, v := range vs {
		q.Enqueue(v)
	}

	require.Equal(t, 2, q.Len())
	got := q.DequeueMulti(10)
	assert.Equal(t, vs[:2], got)
}
