// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsbridge

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ErrNotStarted       = errors.New("executor is not started")
	ErrNoMainLoop       = errors.New("main loop is not configured")
	ErrInvalidCallbacks = errors.New("Error in API-definition")
)

// ExecutorOption contains configuration options for the executor
type ExecutorOption struct {
	minPoolSize     uint32        // Minimum number of threads in the pool
	maxPoolSize     uint32        // Maximum number of threads in the pool
	queueSize       uint32        // Size of the task queue per thread
	threadTTL       time.Duration // Thread time-to-live for idle cleanup
	maxExecutions   uint32        // Maximum executions per thread before cleanup
	enqueueTimeout  time.Duration // How long dispatch waits on a full thread queue
	createThreshold float64       // Queue load threshold for creating new threads (0.0-1.0)
	selectThreshold float64       // Queue load threshold for skipping busy threads (0.0-1.0)
}

// Executor runs scripts either synchronously on the caller's goroutine or
// asynchronously on a pool of worker threads. Callbacks issued by
// asynchronous runs execute on the main loop.
type Executor struct {
	options       *ExecutorOption   // Configuration options
	pool          *pool             // Thread pool
	engineFactory JsEngineFactory   // JavaScript engine factory function
	registry      *CallbackRegistry // Callback tables of live VMs
	loop          MainLoop          // Host main loop
	bridge        *Bridge           // Worker to main loop callback bridge
	metrics       *metrics          // Prometheus collectors (nil when disabled)

	initScripts atomic.Pointer[[]*JsScript] // Scripts evaluated before every run
	started     atomic.Bool
	lifecycle   sync.Mutex // Serializes Start and Stop

	logger *slog.Logger // Logger instance
}

// GetInitScripts returns the current initialization scripts (no copy, read-only)
func (e *Executor) GetInitScripts() []*JsScript {
	ptr := e.initScripts.Load()
	if ptr == nil {
		return nil
	}
	return *ptr
}

// SetInitScripts atomically replaces the initialization scripts.
// Runs that already started keep the scripts they started with.
func (e *Executor) SetInitScripts(scripts ...*JsScript) {
	if len(scripts) == 0 {
		e.initScripts.Store(nil)
		return
	}

	newScripts := make([]*JsScript, len(scripts))
	copy(newScripts, scripts)
	e.initScripts.Store(&newScripts)
}

// Registry returns the callback registry shared by the executor's VMs.
func (e *Executor) Registry() *CallbackRegistry {
	return e.registry
}

// Start initializes and starts the executor thread pool. Starting a running
// executor does nothing; a stopped executor can be started again.
func (e *Executor) Start() error {
	if e.pool == nil {
		return fmt.Errorf("thread pool is not initialized")
	}
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	if e.started.Load() {
		return nil
	}
	if err := e.pool.start(); err != nil {
		return err
	}
	e.started.Store(true)
	return nil
}

// Stop waits for queued tasks to finish and shuts down all threads.
// The main loop must keep running until Stop returns, or be stopped first.
// Stop must not be called from the main loop while runs are in flight.
func (e *Executor) Stop() error {
	if e.pool == nil {
		return fmt.Errorf("thread pool is not initialized")
	}
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	if !e.started.Swap(false) {
		return nil
	}
	return e.pool.stop()
}

// Run submits an asynchronous run of functionName and returns without waiting
// for it or for a free worker. onDone is called at most once, on the main
// loop, with the outcome; it is skipped only if the loop stops first.
// Callbacks execute on the main loop while the worker waits for them.
func (e *Executor) Run(functionName, parameter, script string, callbacks map[string]Callback, onDone DoneFunc) error {
	if e.pool == nil {
		return fmt.Errorf("thread pool is not initialized")
	}
	if e.loop == nil {
		return ErrNoMainLoop
	}
	if onDone == nil {
		return fmt.Errorf("completion handler cannot be nil")
	}
	if err := validateRun(functionName, callbacks); err != nil {
		return err
	}
	if !e.started.Load() {
		return ErrNotStarted
	}

	t := newTask(functionName, parameter, script, callbacks, onDone)
	e.metrics.taskSubmitted()
	if err := e.pool.submit(t); err != nil {
		return fmt.Errorf("failed to submit task: %w", err)
	}

	if e.logger != nil {
		e.logger.Debug("Task submitted",
			"task", t.id,
			"function", functionName,
			"callbacks", len(callbacks))
	}
	return nil
}

// complete delivers result to the task's completion handler on the main loop
// and waits until the handler returned. If the loop stops before the handler
// started, the handler is never called. Only the first call per task counts.
func (e *Executor) complete(task *task, result ExecutionResult) {
	if !task.delivered.CompareAndSwap(false, true) {
		return
	}
	hasError := result.HasError()
	defer e.metrics.taskCompleted(hasError)

	var claimed atomic.Bool
	done := make(chan struct{})
	ok := e.loop.RunOnLoop(func() {
		if !claimed.CompareAndSwap(false, true) {
			return
		}
		defer close(done)
		defer func() {
			if r := recover(); r != nil && e.logger != nil {
				e.logger.Error("Completion handler panic",
					"task", task.id,
					"error", r)
			}
		}()
		task.onDone(hasError, result.Value)
	})
	if !ok {
		if e.logger != nil {
			e.logger.Error("Main loop refused task completion", "task", task.id)
		}
		return
	}

	l, ok := e.loop.(stoppable)
	if !ok {
		<-done
		return
	}
	select {
	case <-done:
	case <-l.Done():
		if !claimed.CompareAndSwap(false, true) {
			<-done // handler already running
			return
		}
		if e.logger != nil {
			e.logger.Warn("Main loop stopped before task completion", "task", task.id)
		}
	}
}

// RunSync runs functionName on the caller's goroutine. Callbacks are called
// directly. A failed run is returned as an *ExecutionError.
func (e *Executor) RunSync(functionName, parameter, script string, callbacks map[string]Callback) (string, error) {
	if err := validateRun(functionName, callbacks); err != nil {
		return "", err
	}

	// Engines are bound to the OS thread they were created on.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	vm, err := e.newVM()
	if err != nil {
		return "", err
	}
	defer func() {
		if err := vm.Close(); err != nil && e.logger != nil {
			e.logger.Error("Failed to close VM", "context", vm.Context(), "error", err)
		}
	}()

	for name, cb := range callbacks {
		if err := vm.RegisterCallback(name, cb); err != nil {
			return "", err
		}
	}

	res := vm.Run(functionName, parameter, script)
	if err := res.Err(); err != nil {
		return "", err
	}
	return res.Value, nil
}

// newVM builds a VM on a fresh engine, bound to the executor's registry.
func (e *Executor) newVM() (*VM, error) {
	engine, err := e.engineFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create JS engine: %w", err)
	}
	vm, err := NewVM(engine, e.registry,
		WithVMLogger(e.logger),
		WithVMInitScripts(e.GetInitScripts()...),
	)
	if err != nil {
		engine.Close()
		return nil, fmt.Errorf("failed to create VM: %w", err)
	}
	return vm, nil
}

// validateRun checks the arguments shared by Run and RunSync.
func validateRun(functionName string, callbacks map[string]Callback) error {
	if functionName == "" {
		return fmt.Errorf("function name cannot be empty")
	}
	for name, cb := range callbacks {
		if name == "" || cb == nil {
			return ErrInvalidCallbacks
		}
	}
	return nil
}

// NewExecutor creates a new executor with the given options
func NewExecutor(opts ...func(*Executor)) (*Executor, error) {
	cpuCount := runtime.GOMAXPROCS(0)

	executor := &Executor{
		logger:   slog.Default(), // Default logger
		registry: NewCallbackRegistry(),
		options: &ExecutorOption{
			minPoolSize:     uint32(cpuCount),     // Default to CPU count
			maxPoolSize:     uint32(cpuCount * 2), // Default to 2x CPU count
			queueSize:       256,                  // Default queue size
			threadTTL:       0,                    // No TTL by default
			maxExecutions:   0,                    // No execution limit by default
			enqueueTimeout:  30 * time.Second,     // 30 second enqueue timeout
			createThreshold: 0.5,                  // Create new thread at 50% load
			selectThreshold: 0.75,                 // Skip thread at 75% load
		},
	}

	// Apply configuration options
	for _, opt := range opts {
		opt(executor)
	}

	// JavaScript engine factory is required
	if executor.engineFactory == nil {
		return nil, fmt.Errorf("JavaScript engine factory must be provided")
	}
	if executor.options.maxPoolSize < executor.options.minPoolSize {
		executor.options.maxPoolSize = executor.options.minPoolSize
	}

	if executor.loop != nil {
		executor.bridge = NewBridge(executor.loop)
		executor.bridge.metrics = executor.metrics
	}
	executor.pool = newPool(executor)

	return executor, nil
}

// WithJsEngine configures the JavaScript engine factory
func WithJsEngine(engineFactory JsEngineFactory) func(*Executor) {
	return func(executor *Executor) {
		executor.engineFactory = engineFactory
	}
}

// WithMainLoop configures the loop that runs callbacks and completions of
// asynchronous runs. Run fails without one.
func WithMainLoop(loop MainLoop) func(*Executor) {
	return func(executor *Executor) {
		executor.loop = loop
	}
}

// WithRegistry shares an existing callback registry with the executor.
func WithRegistry(registry *CallbackRegistry) func(*Executor) {
	return func(executor *Executor) {
		if registry != nil {
			executor.registry = registry
		}
	}
}

// WithLogger configures the logger for the executor
func WithLogger(logger *slog.Logger) func(*Executor) {
	return func(executor *Executor) {
		executor.logger = logger
	}
}

// WithMetrics registers the executor's collectors on reg.
func WithMetrics(reg prometheus.Registerer) func(*Executor) {
	return func(executor *Executor) {
		executor.metrics = newMetrics(reg)
	}
}

// WithInitScripts configures the initialization scripts
func WithInitScripts(scripts ...*JsScript) func(*Executor) {
	return func(executor *Executor) {
		if len(scripts) > 0 {
			executor.SetInitScripts(scripts...)
		}
	}
}

func WithMinPoolSize(size uint32) func(*Executor) {
	return func(executor *Executor) {
		if size > 0 {
			executor.options.minPoolSize = size
		}
	}
}

func WithMaxPoolSize(size uint32) func(*Executor) {
	return func(executor *Executor) {
		if size > 0 {
			executor.options.maxPoolSize = size
		}
	}
}

func WithQueueSize(size uint32) func(*Executor) {
	return func(executor *Executor) {
		if size > 0 {
			executor.options.queueSize = size
		}
	}
}

func WithThreadTTL(ttl time.Duration) func(*Executor) {
	return func(executor *Executor) {
		if ttl > 0 {
			executor.options.threadTTL = ttl
		}
	}
}

func WithMaxExecutions(max uint32) func(*Executor) {
	return func(executor *Executor) {
		if max > 0 {
			executor.options.maxExecutions = max
		}
	}
}

// WithEnqueueTimeout sets how long a queued task waits on a full thread queue
// before another thread is chosen. Run itself never waits.
func WithEnqueueTimeout(timeout time.Duration) func(*Executor) {
	return func(executor *Executor) {
		if timeout > 0 {
			executor.options.enqueueTimeout = timeout
		}
	}
}

func WithCreateThreshold(threshold float64) func(*Executor) {
	return func(executor *Executor) {
		if threshold > 0 && threshold <= 1.0 {
			executor.options.createThreshold = threshold
		}
	}
}

func WithSelectThreshold(threshold float64) func(*Executor) {
	return func(executor *Executor) {
		if threshold > 0 && threshold <= 1.0 {
			executor.options.selectThreshold = threshold
		}
	}
}
