// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsbridge

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"
)

// threadAction represents an action that can be performed on a thread.
type threadAction int

const (
	actionStop   threadAction = iota // Stop the thread
	actionRetire                     // Retire the thread
)

// String returns the string representation of a threadAction.
func (a threadAction) String() string {
	switch a {
	case actionStop:
		return "stop"
	case actionRetire:
		return "retire"
	default:
		return "unknown"
	}
}

// threadActionRequest represents a request to perform an action on a thread.
type threadActionRequest struct {
	action threadAction // The action to perform
	done   chan error   // Channel to signal completion and return any error
}

// thread is a worker goroutine locked to an OS thread. Each task gets its
// own VM, created and closed on this thread.
type thread struct {
	executor *Executor // Reference to the parent executor
	name     string    // Human-readable name for the thread
	threadId uint32    // Unique identifier for the thread

	taskQueue   chan *task                // Channel for receiving tasks to execute
	actionQueue chan *threadActionRequest // Channel for receiving control actions
	initCh      chan error                // Channel to signal initialization completion

	lastUsedNano int64  // Timestamp of last task execution (atomic, nanoseconds)
	taskID       uint32 // Number of tasks executed by this thread (atomic)
}

// newThread creates a new thread instance.
func newThread(executor *Executor, name string, threadId uint32) *thread {
	return &thread{
		executor:     executor,
		name:         name,
		threadId:     threadId,
		taskQueue:    make(chan *task, executor.options.queueSize),
		actionQueue:  make(chan *threadActionRequest, 1),
		initCh:       make(chan error, 1),
		lastUsedNano: time.Now().UnixNano(),
		taskID:       0,
	}
}

// getTaskCount returns the number of tasks executed by this thread (thread-safe).
func (t *thread) getTaskCount() uint32 {
	return atomic.LoadUint32(&t.taskID)
}

// getLastUsed returns the timestamp of the last task execution (thread-safe).
func (t *thread) getLastUsed() time.Time {
	return time.Unix(0, atomic.LoadInt64(&t.lastUsedNano))
}

// probeEngine builds and closes one engine so a broken factory fails the
// thread at startup instead of failing every task.
func (t *thread) probeEngine() error {
	engine, err := t.executor.engineFactory()
	if err != nil {
		return fmt.Errorf("failed to create JS engine: %w", err)
	}
	if err := engine.Close(); err != nil {
		return fmt.Errorf("failed to close JS engine: %w", err)
	}
	return nil
}

// run is the main thread loop that processes tasks and actions.
func (t *thread) run() {
	// Lock this goroutine to an OS thread for consistent execution environment
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	// Use a queue to store all pending actions
	var pendingActions []*threadActionRequest

	if err := t.probeEngine(); err != nil {
		t.initCh <- err
		close(t.initCh)
		if t.executor.logger != nil {
			t.executor.logger.Error("Failed to initialize thread",
				"thread", t.name,
				"error", err,
			)
		}
		return
	}
	t.initCh <- nil
	close(t.initCh)

	actions := t.actionQueue
	for {
		// Execute all pending actions if task queue is empty
		for len(pendingActions) > 0 && len(t.taskQueue) == 0 {
			action := pendingActions[0]
			pendingActions = pendingActions[1:]
			t.executeAction(action)
		}

		select {
		case task := <-t.taskQueue:
			if task == nil {
				return // Channel closed, exit the thread
			}
			t.executeTask(task)
			if t.reachedMaxExecutions() {
				if t.executor.logger != nil {
					t.executor.logger.Debug("Thread reached max executions, retiring",
						"thread", t.name,
						"taskCount", t.getTaskCount(),
					)
				}
				continue
			}
		case actionReq, ok := <-actions:
			if !ok {
				actions = nil // closed by requestAction; drain the task queue
				continue
			}
			// Queue all control actions, execute in order after tasks are done
			pendingActions = append(pendingActions, actionReq)
			continue
		}
	}
}

// executeAction acknowledges a stop or retire request once the task queue has drained.
func (t *thread) executeAction(req *threadActionRequest) {
	if req == nil {
		if t.executor.logger != nil {
			t.executor.logger.Error("executeAction called with nil request", "thread", t.name)
		}
		return
	}

	if t.executor.logger != nil {
		t.executor.logger.Debug("Thread action",
			"thread", t.name,
			"action", req.action.String(),
			"executions", t.getTaskCount())
	}
	req.done <- nil
}

// executeTask runs one task on a fresh VM and delivers its completion.
// The VM is closed on this thread, after the completion handler returned.
func (t *thread) executeTask(task *task) {
	var vm *VM
	result := ExecutionResult{ErrorCode: CodeInvocation, Value: "task did not run"}

	defer func() {
		if r := recover(); r != nil {
			result = ExecutionResult{
				ErrorCode: CodeInvocation,
				Value:     fmt.Sprintf("panic in thread %s: %v", t.name, r),
			}
			if t.executor.logger != nil {
				t.executor.logger.Error("Task execution panic",
					"thread", t.name,
					"task", task.id,
					"error", r)
			}
		}
		t.executor.complete(task, result)
		if vm != nil {
			if err := vm.Close(); err != nil && t.executor.logger != nil {
				t.executor.logger.Error("Failed to close VM",
					"thread", t.name,
					"task", task.id,
					"error", err)
			}
		}
		// Update thread statistics atomically
		atomic.StoreInt64(&t.lastUsedNano, time.Now().UnixNano())
		atomic.AddUint32(&t.taskID, 1)
	}()

	var err error
	vm, err = t.executor.newVM()
	if err != nil {
		result = ExecutionResult{ErrorCode: CodeInvocation, Value: err.Error()}
		return
	}

	for name, cb := range task.callbacks {
		if err := vm.RegisterCallback(name, t.executor.bridge.Wrap(cb)); err != nil {
			result = ExecutionResult{ErrorCode: CodeInvocation, Value: err.Error()}
			return
		}
	}

	result = vm.Run(task.functionName, task.parameter, task.script)
}

// stop gracefully stops the thread and closes its channels.
func (t *thread) stop() {
	t.requestAction(actionStop)
}

// retire cleans up the thread, closing its channels and releasing resources.
func (t *thread) retire() {
	t.requestAction(actionRetire)
}

// requestAction sends an action, waits for the thread to drain its queue
// and acknowledge, then closes the thread's channels.
func (t *thread) requestAction(action threadAction) {
	req := &threadActionRequest{
		action: action,
		done:   make(chan error, 1),
	}
	t.actionQueue <- req
	<-req.done
	close(t.taskQueue)
	close(t.actionQueue)
}

// reachedMaxExecutions reports whether the thread has run maxExecutions tasks.
// If so, it asks the pool to retire it and replenish. The thread keeps
// serving its queue until the pool retires it.
func (t *thread) reachedMaxExecutions() bool {
	if t.executor.options.maxExecutions > 0 && t.getTaskCount() >= t.executor.options.maxExecutions {
		t.notifyPoolReplenish()
		return true
	}
	return false
}

// notifyPoolReplenish notifies the pool to check and replenish threads if needed.
func (t *thread) notifyPoolReplenish() {
	if t.executor.pool == nil {
		return
	}
	select {
	case t.executor.pool.replenishChan <- struct{}{}:
	default:
	}
}
