package dispatch

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

var ErrLoopStopped = errors.New("dispatch loop stopped")

// Executor runs work on a single logical execution context. Work posted to
// the same Executor never runs concurrently with other work posted to it.
type Executor interface {
	Post(fn func())
}

// Loop is an Executor backed by one goroutine. Orchestrators, their client
// calls and every native callback are funneled through a Loop so that none of
// them needs locking.
type Loop struct {
	log  *zap.Logger
	work chan func()
	done chan struct{}
}

func NewLoop(log *zap.Logger, bufferSize int) *Loop {
	return &Loop{
		log:  log,
		work: make(chan func(), bufferSize),
		done: make(chan struct{}),
	}
}

// Run executes posted work until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)

	for {
		select {
		case fn := <-l.work:
			l.execute(fn)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *Loop) execute(fn func()) {
	defer func() {
		if p := recover(); p != nil {
			l.log.Error("Recovered from panic in dispatched work", zap.Any("panic", p), zap.Stack("stack"))
		}
	}()

	fn()
}

// Post queues fn. It blocks while the queue is full, and drops fn once the
// loop has stopped.
func (l *Loop) Post(fn func()) {
	select {
	case l.work <- fn:
	case <-l.done:
		l.log.Debug("Dropping work posted to stopped loop")
	}
}

// Do runs fn on the loop and waits for it to complete.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}

	select {
	case l.work <- wrapped:
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Every posts fn to the loop at the given interval until ctx is done.
func (l *Loop) Every(ctx context.Context, interval time.Duration, fn func()) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				l.Post(fn)
			case <-ctx.Done():
				return
			case <-l.done:
				return
			}
		}
	}()
}
