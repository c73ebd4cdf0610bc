package sync

import (
	"errors"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestSynchronizerSerializesPerKey(t *testing.T) {
	s := NewSynchronizer()
	defer s.Stop()

	var mtx stdsync.Mutex
	var order []int
	var running bool

	var dones []<-chan error
	for i := 0; i < 10; i++ {
		i := i
		dones = append(dones, s.Push("key", func() error {
			mtx.Lock()
			require.False(t, running, "tasks under one key must not overlap")
			running = true
			order = append(order, i)
			mtx.Unlock()

			time.Sleep(time.Millisecond)

			mtx.Lock()
			running = false
			mtx.Unlock()
			return nil
		}))
	}
	for _, done := range dones {
		require.NoError(t, <-done)
	}

	expected := make([]int, 10)
	for i := range expected {
		expected[i] = i
	}
	assert.Equal(t, expected, order)
}

func TestSynchronizerKeysRunIndependently(t *testing.T) {
	s := NewSynchronizer()
	defer s.Stop()

	blockerStarted := make(chan struct{})
	release := make(chan struct{})
	blocked := s.Push("slow", func() error {
		close(blockerStarted)
		<-release
		return nil
	})
	<-blockerStarted

	// a task under another key completes while "slow" is stuck
	select {
	case err := <-s.Push("fast", func() error { return nil }):
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("independent key was blocked")
	}

	close(release)
	require.NoError(t, <-blocked)
}

func TestSynchronizerFailureDoesNotBlockSuccessors(t *testing.T) {
	s := NewSynchronizer()
	defer s.Stop()

	boom := errors.New("boom")
	first := s.Push("key", func() error { return boom })
	second := s.Push("key", func() error { return nil })

	require.ErrorIs(t, <-first, boom)
	require.NoError(t, <-second)
}

func TestSynchronizerClearCancelsQueuedTasks(t *testing.T) {
	s := NewSynchronizer()
	defer s.Stop()

	started := make(chan struct{})
	release := make(chan struct{})
	running := s.Push("key", func() error {
		close(started)
		<-release
		return nil
	})
	<-started

	queued := s.Push("key", func() error { return nil })
	s.Clear()
	close(release)

	// the running task settles normally, the queued one is canceled
	require.NoError(t, <-running)
	require.ErrorIs(t, <-queued, ErrCanceled)
}

func TestSynchronizerStopRejectsNewTasks(t *testing.T) {
	s := NewSynchronizer()
	s.Stop()

	require.ErrorIs(t, <-s.Push("key", func() error { return nil }), ErrCanceled)
}

func TestSynchronizerConcurrentPushes(t *testing.T) {
	s := NewSynchronizer()
	defer s.Stop()

	var count int32
	var mtx stdsync.Mutex

	var g errgroup.Group
	for i := 0; i < 32; i++ {
		g.Go(func() error {
			return <-s.Push("key", func() error {
				mtx.Lock()
				count++
				mtx.Unlock()
				return nil
			})
		})
	}
	require.NoError(t, g.Wait())
	assert.EqualValues(t, 32, count)
}
