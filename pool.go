// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsbridge

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// pool manages the worker threads. Submitted tasks go to an unbounded
// backlog; a dispatcher goroutine moves them into thread queues, so
// submitting never waits for a busy worker.
type pool struct {
	executor        *Executor    // Reference to the parent executor
	threads         sync.Map     // Thread ID to thread instance
	threadIds       atomic.Value // Stores *[]uint32 for round-robin selection (copy-on-write)
	threadCount     uint32       // Atomic: current number of threads in the pool
	roundRobinIndex uint32       // Current index for round-robin selection (atomic)
	threadIdCounter uint32       // Counter for generating unique thread IDs (atomic)

	queue         atomic.Pointer[backlog] // Backlog of the running pool, nil when stopped
	dispatchDone  chan struct{}           // Closed once the dispatcher drained the backlog
	stopCleanup   chan struct{}           // Closed to stop the cleanup goroutine
	replenishChan chan struct{}           // Signals that a thread wants replacing
}

// newPool creates an empty, stopped pool.
func newPool(e *Executor) *pool {
	p := &pool{
		executor:      e,
		replenishChan: make(chan struct{}, 1),
	}
	emptyIds := make([]uint32, 0)
	p.threadIds.Store(&emptyIds)
	return p
}

// start creates the minimum number of threads and the dispatcher. A pool
// may be started again after stop.
func (p *pool) start() error {
	for i := uint32(0); i < p.executor.options.minPoolSize; i++ {
		if _, err := p.createThread(); err != nil {
			p.stopThreads()
			return fmt.Errorf("failed to create thread %d: %w", i, err)
		}
	}

	q := newBacklog()
	p.dispatchDone = make(chan struct{})
	p.queue.Store(q)
	go p.dispatch(q, p.dispatchDone)

	if p.executor.options.threadTTL > 0 || p.executor.options.maxExecutions > 0 {
		p.stopCleanup = make(chan struct{})
		go p.retireThreads(p.stopCleanup)
	}

	if p.executor.logger != nil {
		p.executor.logger.Debug("Thread pool started",
			"minPoolSize", p.executor.options.minPoolSize,
			"maxPoolSize", p.executor.options.maxPoolSize,
			"queueSize", p.executor.options.queueSize,
			"threadTTL", p.executor.options.threadTTL,
			"maxExecutions", p.executor.options.maxExecutions,
			"enqueueTimeout", p.executor.options.enqueueTimeout,
			"initialThreads", atomic.LoadUint32(&p.threadCount),
		)
	}
	return nil
}

// stop refuses new tasks, lets the dispatcher hand out the backlog, then
// stops every thread once its queue has drained.
func (p *pool) stop() error {
	if q := p.queue.Swap(nil); q != nil {
		q.close()
		<-p.dispatchDone
	}
	if p.stopCleanup != nil {
		close(p.stopCleanup)
		p.stopCleanup = nil
	}
	p.stopThreads()

	if p.executor.logger != nil {
		p.executor.logger.Debug("Thread pool stopped")
	}
	return nil
}

// stopThreads stops and forgets every thread.
func (p *pool) stopThreads() {
	p.threads.Range(func(key, value any) bool {
		p.threads.Delete(key)
		value.(*thread).stop()
		return true
	})
	emptyIds := make([]uint32, 0)
	p.threadIds.Store(&emptyIds)
	atomic.StoreUint32(&p.threadCount, 0)
	p.executor.metrics.setThreads(0)
}

// addThreadToList adds a thread ID to the round-robin list using copy-on-write.
func (p *pool) addThreadToList(threadId uint32) {
	for {
		oldIdsPtr := p.threadIds.Load().(*[]uint32)
		newIds := append(append(make([]uint32, 0, len(*oldIdsPtr)+1), *oldIdsPtr...), threadId)
		if p.threadIds.CompareAndSwap(oldIdsPtr, &newIds) {
			return
		}
	}
}

// removeThreadFromList removes a thread ID from the round-robin list using copy-on-write.
func (p *pool) removeThreadFromList(threadId uint32) {
	for {
		oldIdsPtr := p.threadIds.Load().(*[]uint32)
		newIds := make([]uint32, 0, len(*oldIdsPtr))
		for _, id := range *oldIdsPtr {
			if id != threadId {
				newIds = append(newIds, id)
			}
		}
		if p.threadIds.CompareAndSwap(oldIdsPtr, &newIds) {
			return
		}
	}
}

// createThread starts a new thread unless the pool is at maxPoolSize.
func (p *pool) createThread() (*thread, error) {
	if atomic.AddUint32(&p.threadCount, 1) > p.executor.options.maxPoolSize {
		atomic.AddUint32(&p.threadCount, ^uint32(0)) // -1
		return nil, fmt.Errorf("max pool size reached")
	}

	threadId := atomic.AddUint32(&p.threadIdCounter, 1)
	t := newThread(p.executor, "thread-"+strconv.FormatUint(uint64(threadId), 10), threadId)
	go t.run()

	if err := <-t.initCh; err != nil {
		atomic.AddUint32(&p.threadCount, ^uint32(0)) // -1
		return nil, fmt.Errorf("thread initialization failed: %w", err)
	}

	p.threads.Store(threadId, t)
	p.addThreadToList(threadId)
	p.executor.metrics.setThreads(atomic.LoadUint32(&p.threadCount))
	return t, nil
}

// selectThread picks the next thread in round-robin order, skipping threads
// whose queue is above selectThreshold while a lighter one exists.
func (p *pool) selectThread() *thread {
	threadIds := *p.threadIds.Load().(*[]uint32)
	listLen := uint32(len(threadIds))
	if listLen == 0 {
		return nil
	}

	queueThreshold := int(float64(p.executor.options.queueSize) * p.executor.options.selectThreshold)
	startIndex := atomic.AddUint32(&p.roundRobinIndex, 1) % listLen
	for i := uint32(0); i < listLen; i++ {
		if t, ok := p.threads.Load(threadIds[(startIndex+i)%listLen]); ok {
			if th := t.(*thread); len(th.taskQueue) < queueThreshold {
				return th
			}
		}
	}

	if t, ok := p.threads.Load(threadIds[startIndex]); ok {
		return t.(*thread)
	}
	return nil
}

// getOrCreateThread returns a lightly loaded thread, creating one while
// below maxPoolSize when every thread is above createThreshold.
func (p *pool) getOrCreateThread() (*thread, error) {
	if t := p.selectThread(); t != nil {
		queueThreshold := int(float64(p.executor.options.queueSize) * p.executor.options.createThreshold)
		if len(t.taskQueue) < queueThreshold {
			return t, nil
		}
	}

	if current := atomic.LoadUint32(&p.threadCount); current < p.executor.options.maxPoolSize {
		if p.executor.logger != nil {
			p.executor.logger.Debug("Creating new thread due to high load",
				"currentThreads", current,
				"maxPoolSize", p.executor.options.maxPoolSize)
		}
		if t, err := p.createThread(); err == nil {
			return t, nil
		}
	}

	t := p.selectThread()
	if t == nil {
		return nil, fmt.Errorf("no available thread in pool")
	}
	return t, nil
}

// submit appends task to the backlog and returns at once.
func (p *pool) submit(task *task) error {
	q := p.queue.Load()
	if q == nil || !q.push(task) {
		return ErrNotStarted
	}
	return nil
}

// dispatch hands backlog tasks to threads in submission order until the
// backlog is closed and empty.
func (p *pool) dispatch(q *backlog, done chan struct{}) {
	defer close(done)
	for {
		task, ok := q.pop()
		if !ok {
			return
		}
		p.assign(task)
	}
}

// assign places task in a thread queue. When no thread can take it the
// failure is delivered through the task's completion handler.
func (p *pool) assign(task *task) {
	for {
		t, err := p.getOrCreateThread()
		if err != nil {
			p.executor.complete(task, ExecutionResult{
				ErrorCode: CodeInvocation,
				Value:     fmt.Sprintf("failed to get thread: %v", err),
			})
			return
		}
		if p.enqueue(t, task) {
			return
		}
	}
}

// enqueue sends task to t. It gives up, so the caller can pick another
// thread, when t was retired or its queue stayed full for enqueueTimeout.
func (p *pool) enqueue(t *thread, task *task) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false // send on a retired thread's closed queue
		}
	}()

	if timeout := p.executor.options.enqueueTimeout; timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case t.taskQueue <- task:
			return true
		case <-timer.C:
			return false
		}
	}
	t.taskQueue <- task
	return true
}

// retireThreads runs periodic cleanup, and cleanup plus replenishment when
// a thread reports it reached maxExecutions.
func (p *pool) retireThreads(stop <-chan struct{}) {
	interval := time.Minute
	if p.executor.options.threadTTL > 0 {
		interval = p.executor.options.threadTTL / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.performCleanup()
		case <-p.replenishChan:
			p.performCleanup()
			p.replenish()
		case <-stop:
			return
		}
	}
}

// retireReason reports why t should leave the pool, or "" if it should stay.
// Idle threads are only retired while the pool is above minPoolSize.
func (p *pool) retireReason(t *thread, now time.Time, threadCount uint32) string {
	opts := p.executor.options
	if opts.maxExecutions > 0 && t.getTaskCount() >= opts.maxExecutions {
		return "max executions reached"
	}
	if opts.threadTTL > 0 && now.Sub(t.getLastUsed()) > opts.threadTTL && threadCount > opts.minPoolSize {
		return "idle timeout"
	}
	return ""
}

// performCleanup removes threads that are exhausted or idle and retires
// them in the background once their queues drain.
func (p *pool) performCleanup() {
	now := time.Now()
	p.threads.Range(func(key, value any) bool {
		t := value.(*thread)
		reason := p.retireReason(t, now, atomic.LoadUint32(&p.threadCount))
		if reason == "" {
			return true
		}
		if _, loaded := p.threads.LoadAndDelete(key); !loaded {
			return true
		}
		p.removeThreadFromList(t.threadId)
		remaining := atomic.AddUint32(&p.threadCount, ^uint32(0)) // -1
		p.executor.metrics.setThreads(remaining)

		go func() {
			t.retire()
			if p.executor.logger != nil {
				p.executor.logger.Debug("Thread removed",
					"thread", t.name,
					"reason", reason,
					"executions", t.getTaskCount(),
					"remainingThreads", remaining)
			}
		}()
		return true
	})
}

// replenish creates threads until the pool is back at minPoolSize.
func (p *pool) replenish() {
	for atomic.LoadUint32(&p.threadCount) < p.executor.options.minPoolSize {
		if _, err := p.createThread(); err != nil {
			if p.executor.logger != nil {
				p.executor.logger.Error("Failed to create replenishment thread", "error", err)
			}
			return
		}
	}
}

// backlog is an unbounded FIFO of tasks with a single consumer.
type backlog struct {
	mu     sync.Mutex
	tasks  []*task
	closed bool
	notify chan struct{} // single slot, wakes the consumer
}

func newBacklog() *backlog {
	return &backlog{notify: make(chan struct{}, 1)}
}

// push appends t. It reports false once the backlog is closed.
func (b *backlog) push(t *task) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.tasks = append(b.tasks, t)
	b.mu.Unlock()
	b.wake()
	return true
}

// pop waits for the next task. It reports false when the backlog is
// closed and empty.
func (b *backlog) pop() (*task, bool) {
	for {
		b.mu.Lock()
		if len(b.tasks) > 0 {
			t := b.tasks[0]
			b.tasks[0] = nil
			b.tasks = b.tasks[1:]
			b.mu.Unlock()
			return t, true
		}
		closed := b.closed
		b.mu.Unlock()
		if closed {
			return nil, false
		}
		<-b.notify
	}
}

// close stops accepting tasks. Tasks already pushed are still popped.
func (b *backlog) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.wake()
}

func (b *backlog) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tasks)
}

func (b *backlog) wake() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}
