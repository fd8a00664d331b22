// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsbridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueLoop_Poll(t *testing.T) {
	loop := NewQueueLoop(4)
	defer loop.Stop()

	var order []int
	for i := 0; i < 3; i++ {
		i := i
		require.True(t, loop.RunOnLoop(func() { order = append(order, i) }))
	}
	require.Equal(t, 3, loop.Poll())
	require.Equal(t, []int{0, 1, 2}, order)
	require.Equal(t, 0, loop.Poll())
}

func TestQueueLoop_PollRunsNestedJobs(t *testing.T) {
	loop := NewQueueLoop(4)
	defer loop.Stop()

	ran := false
	loop.RunOnLoop(func() {
		loop.RunOnLoop(func() { ran = true })
	})
	require.Equal(t, 2, loop.Poll())
	require.True(t, ran)
}

func TestQueueLoop_Run(t *testing.T) {
	loop := NewQueueLoop(0)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	ran := make(chan struct{})
	loop.RunOnLoop(func() { close(ran) })
	require.ErrorIs(t, loop.Run(ctx), context.DeadlineExceeded)
	<-ran

	loop.Stop()
	require.NoError(t, loop.Run(context.Background()))
}

func TestQueueLoop_Stop(t *testing.T) {
	loop := NewQueueLoop(1)
	loop.Stop()
	loop.Stop()

	require.False(t, loop.RunOnLoop(func() {}))
	select {
	case <-loop.Done():
	default:
		t.Fatal("Done should be closed after Stop")
	}
}

func TestBridge_Call(t *testing.T) {
	loop := NewQueueLoop(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer loop.Stop()

	loopStarted := make(chan struct{})
	var loopGoroutine sync.WaitGroup
	loopGoroutine.Add(1)
	go func() {
		defer loopGoroutine.Done()
		close(loopStarted)
		loop.Run(ctx)
	}()
	<-loopStarted

	b := NewBridge(loop)
	cb := b.Wrap(func(p string) (string, error) { return "<" + p + ">", nil })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ret, err := cb("x")
			if err != nil || ret != "<x>" {
				t.Errorf("unexpected result %q, %v", ret, err)
			}
		}()
	}
	wg.Wait()
	cancel()
	loopGoroutine.Wait()
}

func TestBridge_CallbackError(t *testing.T) {
	loop := NewQueueLoop(4)
	defer loop.Stop()
	go loop.Run(context.Background())

	boom := errors.New("boom")
	cb := NewBridge(loop).Wrap(func(string) (string, error) { return "", boom })
	_, err := cb("")
	require.ErrorIs(t, err, boom)
}

func TestBridge_CallbackPanic(t *testing.T) {
	loop := NewQueueLoop(4)
	defer loop.Stop()
	go loop.Run(context.Background())

	cb := NewBridge(loop).Wrap(func(string) (string, error) { panic("kaput") })
	_, err := cb("")
	require.EqualError(t, err, "panic in host callback: kaput")
}

func TestBridge_LoopStopped(t *testing.T) {
	loop := NewQueueLoop(4)
	loop.Stop()

	cb := NewBridge(loop).Wrap(func(string) (string, error) { return "never", nil })
	_, err := cb("")
	require.ErrorIs(t, err, ErrLoopStopped)
}

// TestBridge_LoopStopsWhileWaiting tests that a waiting worker is released
// when the loop stops before serving its callback.
func TestBridge_LoopStopsWhileWaiting(t *testing.T) {
	loop := NewQueueLoop(4)
	cb := NewBridge(loop).Wrap(func(string) (string, error) { return "never", nil })

	errCh := make(chan error, 1)
	go func() {
		_, err := cb("")
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	loop.Stop()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrLoopStopped)
	case <-time.After(5 * time.Second):
		t.Fatal("worker still blocked after loop stopped")
	}
}

// heldLoop accepts jobs but runs them only when the test says so. Done is
// closed by stop, independently of queued jobs.
type heldLoop struct {
	jobs chan func()
	done chan struct{}
}

func newHeldLoop() *heldLoop {
	return &heldLoop{jobs: make(chan func(), 8), done: make(chan struct{})}
}

func (l *heldLoop) RunOnLoop(fn func()) bool { l.jobs <- fn; return true }
func (l *heldLoop) Done() <-chan struct{}    { return l.done }
func (l *heldLoop) stop()                    { close(l.done) }

func (l *heldLoop) next(t *testing.T) func() {
	t.Helper()
	select {
	case fn := <-l.jobs:
		return fn
	case <-time.After(5 * time.Second):
		t.Fatal("no job was scheduled")
		return nil
	}
}

func TestBridge_JobAfterLoopStopped(t *testing.T) {
	loop := newHeldLoop()
	var invoked atomic.Bool
	cb := NewBridge(loop).Wrap(func(string) (string, error) {
		invoked.Store(true)
		return "late", nil
	})

	errCh := make(chan error, 1)
	go func() {
		_, err := cb("")
		errCh <- err
	}()
	job := loop.next(t)
	loop.stop()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrLoopStopped)
	case <-time.After(5 * time.Second):
		t.Fatal("worker still blocked after loop stopped")
	}

	// A job the loop runs after the worker gave up must not call back.
	job()
	require.False(t, invoked.Load())
}

func TestBridge_LoopStopsDuringCallback(t *testing.T) {
	loop := newHeldLoop()
	entered := make(chan struct{})
	release := make(chan struct{})
	cb := NewBridge(loop).Wrap(func(p string) (string, error) {
		close(entered)
		<-release
		return p + "!", nil
	})

	type reply struct {
		value string
		err   error
	}
	replyCh := make(chan reply, 1)
	go func() {
		v, err := cb("done")
		replyCh <- reply{v, err}
	}()
	job := loop.next(t)
	go job()
	<-entered
	loop.stop()
	select {
	case <-replyCh:
		t.Fatal("worker returned while its callback was still running")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)

	select {
	case r := <-replyCh:
		require.NoError(t, r.err)
		require.Equal(t, "done!", r.value)
	case <-time.After(5 * time.Second):
		t.Fatal("worker never received the callback result")
	}
}

// funcLoop is a MainLoop without a Done channel.
type funcLoop func(fn func()) bool

func (f funcLoop) RunOnLoop(fn func()) bool { return f(fn) }

func TestBridge_PlainMainLoop(t *testing.T) {
	loop := funcLoop(func(fn func()) bool {
		go fn()
		return true
	})
	cb := NewBridge(loop).Wrap(func(p string) (string, error) { return p + p, nil })
	ret, err := cb("ab")
	require.NoError(t, err)
	require.Equal(t, "abab", ret)

	refusing := funcLoop(func(func()) bool { return false })
	_, err = NewBridge(refusing).Wrap(func(p string) (string, error) { return p, nil })("")
	require.ErrorIs(t, err, ErrLoopStopped)
}

func TestExecutionResult(t *testing.T) {
	ok := ExecutionResult{ErrorCode: CodeOK, Value: "v"}
	require.False(t, ok.HasError())
	require.NoError(t, ok.Err())

	failed := ExecutionResult{ErrorCode: CodeInvocation, Value: "TypeError: x is not a function"}
	err := failed.Err()
	require.EqualError(t, err, "TypeError: x is not a function")
	require.ErrorIs(t, err, ErrInvocation)
	require.NotErrorIs(t, err, ErrEvaluation)

	hostErr := &HostCallbackError{Name: "cb", Err: errors.New("down")}
	require.ErrorIs(t, hostErr, ErrHostCallback)
	require.EqualError(t, hostErr, `host callback "cb" failed: down`)
	require.Equal(t, "host callback", CodeHostCallback.String())
}
