// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package hostmodule

import (
	"sync"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
)

// EventLoop adapts a goja_nodejs event loop to jsbridge.MainLoop.
// Host callbacks and completion handlers run on the loop's goroutine.
type EventLoop struct {
	loop     *eventloop.EventLoop
	done     chan struct{}
	stopOnce sync.Once
}

// NewEventLoop wraps loop. The loop must be started with Start, not Run,
// so that it keeps accepting work while tasks are in flight.
func NewEventLoop(loop *eventloop.EventLoop) *EventLoop {
	return &EventLoop{
		loop: loop,
		done: make(chan struct{}),
	}
}

// Loop returns the wrapped event loop.
func (l *EventLoop) Loop() *eventloop.EventLoop {
	return l.loop
}

// Start starts the wrapped loop in the background.
func (l *EventLoop) Start() {
	l.loop.Start()
}

// RunOnLoop schedules fn on the loop. It reports false once Stop was called.
func (l *EventLoop) RunOnLoop(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	return l.loop.RunOnLoop(func(*goja.Runtime) { fn() })
}

// Stop stops the wrapped loop and releases everything waiting on Done.
// It must not be called from the loop itself.
func (l *EventLoop) Stop() {
	l.stopOnce.Do(func() {
		close(l.done)
		l.loop.Stop()
	})
}

// Done is closed when Stop is called.
func (l *EventLoop) Done() <-chan struct{} {
	return l.done
}
