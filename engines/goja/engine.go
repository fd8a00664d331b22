// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package gojaengine

import (
	"errors"
	"fmt"
	"sync/atomic"

	jsbridge "github.com/buke/js-bridge"
	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
)

var errLoopTerminated = errors.New("goja event loop is terminated")

// Engine implements the jsbridge.JsEngine interface using the Goja JS engine.
// It uses an event loop to ensure thread-safe execution of JavaScript.
type Engine struct {
	Loop   *eventloop.EventLoop // The event loop that owns and serializes access to the runtime.
	Option *EngineOption        // Engine configuration options.

	closed atomic.Bool
}

// NewFactory returns a jsbridge.JsEngineFactory for creating Goja engines.
// The factory is configured with the provided options.
func NewFactory(opts ...jsbridge.JsEngineOption) jsbridge.JsEngineFactory {
	return func() (jsbridge.JsEngine, error) {
		return newEngine(opts...)
	}
}

// newEngine creates a new Goja engine instance.
// It initializes a full-featured event loop that supports timers.
func newEngine(opts ...jsbridge.JsEngineOption) (*Engine, error) {
	// The eventloop creates its own internal goja.Runtime
	loop := eventloop.NewEventLoop()

	e := &Engine{
		Loop:   loop,
		Option: &EngineOption{}, // Initialize with default options
	}

	// Start the event loop *before* applying options
	loop.Start()

	// Apply the default FieldNameMapper first.
	// This can be overridden by user-provided options.
	WithFieldNameMapper(goja.TagFieldNameMapper("json", true))(e)

	// Apply all provided options. Each option will block until it's applied.
	for _, opt := range opts {
		if err := opt(e); err != nil {
			loop.Terminate() // Ensure loop is stopped on configuration error
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	return e, nil
}

// run executes fn on the event loop and waits for it to return.
func (e *Engine) run(fn func(vm *goja.Runtime) error) error {
	if e.closed.Load() {
		return errLoopTerminated
	}
	done := make(chan error, 1)
	if !e.Loop.RunOnLoop(func(vm *goja.Runtime) {
		done <- fn(vm)
	}) {
		return errLoopTerminated
	}
	return <-done
}

// Eval runs a script in the global scope.
func (e *Engine) Eval(script *jsbridge.JsScript) error {
	if script == nil {
		return fmt.Errorf("script cannot be nil")
	}
	return e.run(func(vm *goja.Runtime) error {
		_, err := vm.RunScript(script.FileName, script.Content)
		return err
	})
}

// Call calls the global function name with parameter as its only argument.
// The returned value is converted on the event loop and safe to use anywhere.
// A returned promise is awaited; the loop keeps running timers meanwhile.
func (e *Engine) Call(name, parameter string) (jsbridge.JsValue, error) {
	var result *value
	var settled chan settlement
	err := e.run(func(vm *goja.Runtime) error {
		fnValue := vm.Get(name)
		if fnValue == nil {
			return fmt.Errorf("ReferenceError: %s is not defined", name)
		}
		fn, ok := goja.AssertFunction(fnValue)
		if !ok {
			return fmt.Errorf("TypeError: %s is not a function", name)
		}
		ret, err := fn(goja.Undefined(), vm.ToValue(parameter))
		if err != nil {
			return err
		}
		if p, ok := ret.Export().(*goja.Promise); ok {
			settled = make(chan settlement, 1)
			return awaitPromise(vm, ret.(*goja.Object), p, settled)
		}
		result = newValue(ret)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if settled != nil {
		s := <-settled
		return s.value, s.err
	}
	return result, nil
}

// settlement is the outcome of a promise returned by an entry function.
type settlement struct {
	value *value
	err   error
}

// awaitPromise delivers the outcome of p to settled once the event loop has
// settled it. It must be called on the event loop.
func awaitPromise(vm *goja.Runtime, obj *goja.Object, p *goja.Promise, settled chan<- settlement) error {
	switch p.State() {
	case goja.PromiseStateFulfilled:
		settled <- settlement{value: newValue(p.Result())}
		return nil
	case goja.PromiseStateRejected:
		settled <- settlement{err: fmt.Errorf("%s", p.Result().String())}
		return nil
	}

	then, ok := goja.AssertFunction(obj.Get("then"))
	if !ok {
		return fmt.Errorf("promise has no then method")
	}
	onFulfilled := func(call goja.FunctionCall) goja.Value {
		settled <- settlement{value: newValue(call.Argument(0))}
		return goja.Undefined()
	}
	onRejected := func(call goja.FunctionCall) goja.Value {
		settled <- settlement{err: fmt.Errorf("%s", call.Argument(0).String())}
		return goja.Undefined()
	}
	_, err := then(obj, vm.ToValue(onFulfilled), vm.ToValue(onRejected))
	return err
}

// Define installs fn as the global function name. A host error is thrown
// into the script as a GoError.
func (e *Engine) Define(name string, fn jsbridge.HostFunc) error {
	if fn == nil {
		return fmt.Errorf("host function %s cannot be nil", name)
	}
	return e.run(func(vm *goja.Runtime) error {
		return vm.Set(name, func(call goja.FunctionCall) goja.Value {
			ret, err := fn(newValue(call.Argument(0)))
			if err != nil {
				panic(vm.NewGoError(err))
			}
			return vm.ToValue(ret)
		})
	})
}

// Close terminates the event loop and clears pending timers.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	if e.Loop != nil {
		e.Loop.Terminate()
	}
	return nil
}
