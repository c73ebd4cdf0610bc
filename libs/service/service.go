package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cobaltchain/cobalt/libs/log"
)

var (
	// ErrAlreadyStarted is returned when somebody tries to start an already
	// running component.
	ErrAlreadyStarted = errors.New("already started")
	// ErrAlreadyStopped is returned when somebody tries to stop an already
	// stopped component.
	ErrAlreadyStopped = errors.New("already stopped")
	// ErrNotStarted is returned when somebody tries to stop a component that
	// was never started.
	ErrNotStarted = errors.New("not started")
)

type state uint8

const (
	stateIdle state = iota
	stateRunning
	stateStopped
)

// Lifecycle tracks the start/stop state of a long-lived component. The owner
// supplies its startup and teardown as callbacks; Lifecycle guarantees at most
// one successful start and at most one teardown (a failed start may be
// retried), ties teardown to context cancellation, and exposes a
// quit channel for goroutines scoped to the component's lifetime.
//
// Start and teardown are one-way: a stopped component is not restartable.
//
// Typical usage:
//
//	type Foo struct {
//		*service.Lifecycle
//		// private fields
//	}
//
//	func NewFoo(logger log.Logger) *Foo {
//		f := &Foo{}
//		f.Lifecycle = service.NewLifecycle(logger, "Foo", f.onStart, f.onStop)
//		return f
//	}
type Lifecycle struct {
	logger log.Logger
	name   string

	onStart func(context.Context) error
	onStop  func()

	mtx   sync.Mutex
	state state
	quit  chan struct{}
}

// NewLifecycle returns an idle lifecycle for the named component. Either
// callback may be nil.
func NewLifecycle(logger log.Logger, name string, onStart func(context.Context) error, onStop func()) *Lifecycle {
	return &Lifecycle{
		logger:  logger,
		name:    name,
		onStart: onStart,
		onStop:  onStop,
		quit:    make(chan struct{}),
	}
}

// Start runs the startup callback and, on success, arranges for Stop to be
// called when ctx is canceled. Starting twice, or after Stop, is an error.
// If the startup callback fails, the component returns to idle and may be
// started again.
func (l *Lifecycle) Start(ctx context.Context) error {
	l.mtx.Lock()
	switch l.state {
	case stateRunning:
		l.mtx.Unlock()
		return ErrAlreadyStarted
	case stateStopped:
		l.mtx.Unlock()
		return ErrAlreadyStopped
	}
	l.state = stateRunning
	l.mtx.Unlock()

	l.logger.Info("starting service", "service", l.name)

	if l.onStart != nil {
		if err := l.onStart(ctx); err != nil {
			l.mtx.Lock()
			l.state = stateIdle
			l.mtx.Unlock()
			return fmt.Errorf("starting %s: %w", l.name, err)
		}
	}

	go func() {
		select {
		case <-l.quit:
			// stopped explicitly
		case <-ctx.Done():
			if err := l.Stop(); err != nil && !errors.Is(err, ErrAlreadyStopped) {
				l.logger.Error("stopping service on context cancel",
					"service", l.name, "err", err)
			}
		}
	}()

	return nil
}

// Stop runs the teardown callback and releases everyone blocked in Wait or
// on Quit. It is an error to stop twice or to stop a never-started
// component.
func (l *Lifecycle) Stop() error {
	l.mtx.Lock()
	switch l.state {
	case stateIdle:
		l.mtx.Unlock()
		return ErrNotStarted
	case stateStopped:
		l.mtx.Unlock()
		return ErrAlreadyStopped
	}
	l.state = stateStopped
	l.mtx.Unlock()

	l.logger.Info("stopping service", "service", l.name)

	if l.onStop != nil {
		l.onStop()
	}
	close(l.quit)
	return nil
}

// IsRunning reports whether the component is started and not yet stopped.
func (l *Lifecycle) IsRunning() bool {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	return l.state == stateRunning
}

// Quit returns a channel that closes once the component has stopped.
// Goroutines scoped to the component select on it.
func (l *Lifecycle) Quit() <-chan struct{} { return l.quit }

// Wait blocks until the component has stopped.
func (l *Lifecycle) Wait() { <-l.quit }

// String returns the component name.
func (l *Lifecycle) String() string { return l.name }
