//go:build !windows

// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package v8engine

import (
	"fmt"
	"time"

	jsbridge "github.com/buke/js-bridge"
	"github.com/tommie/v8go"
)

var (
	// Make these functions variables so they can be mocked in tests.
	v8NewIsolate = v8go.NewIsolate
	v8NewContext = v8go.NewContext
	v8NewValue   = v8go.NewValue
)

// errorFactoryScript builds Error objects for host failures thrown into scripts.
const errorFactoryScript = `(function (message) { return new Error(message); })`

// Engine implements the jsbridge.JsEngine interface using the V8 engine.
// It encapsulates a V8 Isolate and Context.
type Engine struct {
	// Iso is the V8 Isolate, representing a single-threaded VM instance.
	// It is exposed publicly to allow for advanced custom options.
	Iso *v8go.Isolate

	// Ctx is the V8 Context, representing the execution environment.
	// It is exposed publicly to allow for advanced custom options.
	Ctx *v8go.Context

	// Option holds the engine-specific configurations.
	Option *EngineOption

	newError *v8go.Function
}

// NewFactory creates a new jsbridge.JsEngineFactory for the V8 engine.
func NewFactory(opts ...jsbridge.JsEngineOption) jsbridge.JsEngineFactory {
	return func() (jsbridge.JsEngine, error) {
		return newEngine(opts...)
	}
}

// newEngine creates and initializes a new V8 Engine instance.
func newEngine(opts ...jsbridge.JsEngineOption) (*Engine, error) {
	e := &Engine{
		Option: &EngineOption{},
	}

	// Apply user-provided options
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	// Create a new V8 Isolate
	iso := v8NewIsolate()
	if iso == nil {
		return nil, fmt.Errorf("failed to create v8 isolate")
	}
	e.Iso = iso

	// Create a new V8 Context
	ctx := v8NewContext(iso)
	if ctx == nil {
		iso.Dispose() // Clean up isolate if context creation fails
		return nil, fmt.Errorf("failed to create v8 context")
	}
	e.Ctx = ctx

	factory, err := ctx.RunScript(errorFactoryScript, "error_factory.js")
	if err == nil {
		e.newError, err = factory.AsFunction()
	}
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to prepare error factory: %w", err)
	}

	return e, nil
}

// Eval runs a script in the V8 context.
func (e *Engine) Eval(script *jsbridge.JsScript) error {
	if script == nil {
		return fmt.Errorf("script cannot be nil")
	}
	_, err := e.Ctx.RunScript(script.Content, script.FileName)
	return err
}

// Call calls the global function name with parameter as its only argument.
// A returned promise must settle after one microtask checkpoint.
func (e *Engine) Call(name, parameter string) (jsbridge.JsValue, error) {
	fnVal, err := e.Ctx.Global().Get(name)
	if err != nil {
		return nil, err
	}
	if fnVal.IsUndefined() {
		return nil, fmt.Errorf("ReferenceError: %s is not defined", name)
	}
	fn, err := fnVal.AsFunction()
	if err != nil {
		return nil, fmt.Errorf("TypeError: %s is not a function", name)
	}

	arg, err := v8NewValue(e.Iso, parameter)
	if err != nil {
		return nil, fmt.Errorf("failed to create v8 value: %w", err)
	}

	if e.Option.Timeout > 0 {
		timer := time.AfterFunc(e.Option.Timeout, e.Iso.TerminateExecution)
		defer timer.Stop()
	}

	ret, err := fn.Call(e.Ctx.Global(), arg)
	if err != nil {
		return nil, err
	}

	if ret.IsPromise() {
		promise, err := ret.AsPromise()
		if err != nil {
			return nil, err
		}
		if promise.State() == v8go.Pending {
			e.Ctx.PerformMicrotaskCheckpoint()
		}
		switch promise.State() {
		case v8go.Rejected:
			return nil, fmt.Errorf("%s", promise.Result().String())
		case v8go.Pending:
			return nil, fmt.Errorf("promise returned by %s did not settle", name)
		}
		ret = promise.Result()
	}

	return newValue(ret), nil
}

// Define installs fn as the global function name. A host error is thrown
// into the script as an Error.
func (e *Engine) Define(name string, fn jsbridge.HostFunc) error {
	if fn == nil {
		return fmt.Errorf("host function %s cannot be nil", name)
	}
	tmpl := v8go.NewFunctionTemplate(e.Iso, func(info *v8go.FunctionCallbackInfo) *v8go.Value {
		var arg jsbridge.JsValue = undefinedValue
		if args := info.Args(); len(args) > 0 {
			arg = newValue(args[0])
		}

		ret, err := fn(arg)
		if err != nil {
			return e.throw(err)
		}
		v, err := v8NewValue(e.Iso, ret)
		if err != nil {
			return e.throw(err)
		}
		return v
	})
	return e.Ctx.Global().Set(name, tmpl.GetFunction(e.Ctx))
}

// throw raises err in the running script as an Error.
func (e *Engine) throw(err error) *v8go.Value {
	msg, verr := v8NewValue(e.Iso, err.Error())
	if verr != nil {
		return nil
	}
	errVal, cerr := e.newError.Call(v8go.Undefined(e.Iso), msg)
	if cerr != nil {
		return e.Iso.ThrowException(msg)
	}
	return e.Iso.ThrowException(errVal)
}

// Close releases all resources associated with the V8 engine.
func (e *Engine) Close() error {
	if e.Ctx != nil {
		e.Ctx.Close()
		e.Ctx = nil
	}
	if e.Iso != nil {
		e.Iso.Dispose()
		e.Iso = nil
	}
	return nil
}
