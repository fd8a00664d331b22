// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsbridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrLoopStopped is returned when the main loop no longer accepts work.
var ErrLoopStopped = errors.New("main loop is not running")

// MainLoop is the host's single-threaded loop. RunOnLoop schedules fn to run
// on the loop and reports false when the loop does not accept work.
type MainLoop interface {
	RunOnLoop(fn func()) bool
}

// stoppable is implemented by loops that can signal they have stopped.
// Waiters use it to avoid blocking on work that will never run.
type stoppable interface {
	Done() <-chan struct{}
}

// callReply carries a host callback outcome back to the worker.
type callReply struct {
	value string
	err   error
}

// callSignal is one in-flight cross-thread callback invocation. Exactly one
// side claims it: the loop by starting the callback, or the worker by giving
// up once the loop stopped.
type callSignal struct {
	parameter string
	reply     chan callReply // single slot, written once by the loop
	claimed   atomic.Bool
}

func newCallSignal(parameter string) *callSignal {
	return &callSignal{
		parameter: parameter,
		reply:     make(chan callReply, 1),
	}
}

// serve runs on the main loop. A panicking callback is reported as an error.
// It does nothing if the worker already gave up.
func (s *callSignal) serve(cb Callback) {
	if !s.claimed.CompareAndSwap(false, true) {
		return
	}
	var r callReply
	defer func() {
		if p := recover(); p != nil {
			r = callReply{err: fmt.Errorf("panic in host callback: %v", p)}
		}
		s.reply <- r
	}()
	r.value, r.err = cb(s.parameter)
}

// abandon reports whether the worker gave up before the callback started.
func (s *callSignal) abandon() bool {
	return s.claimed.CompareAndSwap(false, true)
}

// Bridge runs callbacks issued on worker goroutines on the main loop and
// blocks the worker until the result is available.
type Bridge struct {
	loop    MainLoop
	metrics *metrics
}

// NewBridge creates a bridge that dispatches callbacks onto loop.
func NewBridge(loop MainLoop) *Bridge {
	return &Bridge{loop: loop}
}

// Wrap returns a callback that, when called from any goroutine, runs cb on
// the main loop and returns its result.
func (b *Bridge) Wrap(cb Callback) Callback {
	return func(parameter string) (string, error) {
		return b.call(cb, parameter)
	}
}

func (b *Bridge) call(cb Callback, parameter string) (string, error) {
	start := time.Now()
	sig := newCallSignal(parameter)

	if !b.loop.RunOnLoop(func() { sig.serve(cb) }) {
		b.metrics.observeCallback(start, ErrLoopStopped)
		return "", ErrLoopStopped
	}

	var r callReply
	if l, ok := b.loop.(stoppable); ok {
		select {
		case r = <-sig.reply:
		case <-l.Done():
			if sig.abandon() {
				r = callReply{err: ErrLoopStopped}
			} else {
				r = <-sig.reply // started before the loop stopped
			}
		}
	} else {
		r = <-sig.reply
	}

	b.metrics.observeCallback(start, r.err)
	return r.value, r.err
}

// QueueLoop is a MainLoop driven by the host: jobs queue up until the owning
// goroutine calls Poll or Run. Jobs run one at a time, in submission order.
type QueueLoop struct {
	jobs     chan func()
	done     chan struct{}
	stopOnce sync.Once
}

// NewQueueLoop creates a loop that buffers up to size jobs before RunOnLoop blocks.
func NewQueueLoop(size int) *QueueLoop {
	if size <= 0 {
		size = 256
	}
	return &QueueLoop{
		jobs: make(chan func(), size),
		done: make(chan struct{}),
	}
}

// RunOnLoop queues fn. It returns false once the loop is stopped.
func (l *QueueLoop) RunOnLoop(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.jobs <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Poll runs every queued job, including jobs queued while polling, and
// returns how many ran. It never blocks waiting for new jobs.
func (l *QueueLoop) Poll() int {
	n := 0
	for {
		select {
		case <-l.done:
			return n
		default:
		}
		select {
		case fn := <-l.jobs:
			fn()
			n++
		default:
			return n
		}
	}
}

// Run runs jobs until ctx is done or the loop is stopped.
func (l *QueueLoop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		case fn := <-l.jobs:
			fn()
		}
	}
}

// Stop stops the loop. Queued jobs are discarded. Safe to call multiple times.
func (l *QueueLoop) Stop() {
	l.stopOnce.Do(func() {
		close(l.done)
	})
}

// Done returns a channel that is closed when the loop is stopped.
func (l *QueueLoop) Done() <-chan struct{} {
	return l.done
}
