package timer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryTimeoutFires(t *testing.T) {
	defer leaktest.Check(t)()

	r := NewRegistry()
	defer r.Stop()

	fired := make(chan struct{})
	r.SetTimeout("t", func() { close(fired) }, 10*time.Millisecond)
	require.True(t, r.TimeoutExists("t"))

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timeout did not fire")
	}

	// the name is released once fired
	require.Eventually(t, func() bool {
		return !r.TimeoutExists("t")
	}, time.Second, time.Millisecond)
}

func TestRegistryTimeoutReplaced(t *testing.T) {
	defer leaktest.Check(t)()

	r := NewRegistry()
	defer r.Stop()

	var first, second int32
	r.SetTimeout("t", func() { atomic.AddInt32(&first, 1) }, 20*time.Millisecond)
	r.SetTimeout("t", func() { atomic.AddInt32(&second, 1) }, 20*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&first), "replaced timer must not fire")
	assert.Equal(t, int32(1), atomic.LoadInt32(&second))
}

func TestRegistryClearTimeout(t *testing.T) {
	defer leaktest.Check(t)()

	r := NewRegistry()
	defer r.Stop()

	var fired int32
	r.SetTimeout("t", func() { atomic.AddInt32(&fired, 1) }, 20*time.Millisecond)
	r.ClearTimeout("t")
	require.False(t, r.TimeoutExists("t"))

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&fired))
}

func TestRegistryInterval(t *testing.T) {
	defer leaktest.Check(t)()

	r := NewRegistry()
	defer r.Stop()

	var ticks int32
	r.SetInterval("i", func() { atomic.AddInt32(&ticks, 1) }, 10*time.Millisecond)
	require.True(t, r.IntervalExists("i"))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&ticks) >= 3
	}, time.Second, 5*time.Millisecond)

	r.ClearInterval("i")
	require.False(t, r.IntervalExists("i"))

	n := atomic.LoadInt32(&ticks)
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, atomic.LoadInt32(&ticks), n+1, "cleared interval must stop ticking")
}

func TestRegistryStopIsTerminal(t *testing.T) {
	defer leaktest.Check(t)()

	r := NewRegistry()

	var fired int32
	r.SetTimeout("t", func() { atomic.AddInt32(&fired, 1) }, 10*time.Millisecond)
	r.SetInterval("i", func() { atomic.AddInt32(&fired, 1) }, 10*time.Millisecond)
	r.Stop()

	// new timers are refused after Stop
	r.SetTimeout("t2", func() { atomic.AddInt32(&fired, 1) }, 10*time.Millisecond)
	r.SetInterval("i2", func() { atomic.AddInt32(&fired, 1) }, 10*time.Millisecond)
	require.False(t, r.TimeoutExists("t2"))
	require.False(t, r.IntervalExists("i2"))

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&fired))
}

func TestRegistryTimeoutCanRearmItself(t *testing.T) {
	defer leaktest.Check(t)()

	r := NewRegistry()
	defer r.Stop()

	var fires int32
	var fn func()
	fn = func() {
		if atomic.AddInt32(&fires, 1) < 3 {
			r.SetTimeout("t", fn, 5*time.Millisecond)
		}
	}
	r.SetTimeout("t", fn, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&fires) == 3
	}, time.Second, time.Millisecond)
}
