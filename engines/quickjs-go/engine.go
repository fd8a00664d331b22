// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package quickjsengine

import (
	"fmt"

	jsbridge "github.com/buke/js-bridge"
	"github.com/buke/quickjs-go"
)

// Engine represents a QuickJS engine instance with its runtime, context, and options.
// It must be used from the OS thread that created it.
type Engine struct {
	Runtime *quickjs.Runtime // QuickJS runtime instance
	Ctx     *quickjs.Context // QuickJS context instance
	Option  *EngineOption    // Engine configuration options
}

// Eval evaluates a script in the global scope of the engine context.
func (e *Engine) Eval(script *jsbridge.JsScript) error {
	if script == nil {
		return fmt.Errorf("script cannot be nil")
	}
	ret := e.Ctx.Eval(script.Content, quickjs.EvalFileName(script.FileName))
	defer ret.Free()
	if ret.IsException() {
		return e.Ctx.Exception()
	}
	return nil
}

// Call calls the global function name with parameter as its only argument.
// A returned promise is awaited while pending jobs run.
func (e *Engine) Call(name, parameter string) (jsbridge.JsValue, error) {
	fn := e.Ctx.Globals().Get(name)
	defer fn.Free()
	if fn.IsUndefined() {
		return nil, fmt.Errorf("ReferenceError: %s is not defined", name)
	}
	if !fn.IsFunction() {
		return nil, fmt.Errorf("TypeError: %s is not a function", name)
	}

	arg := e.Ctx.NewString(parameter)
	defer arg.Free()

	ret := e.Ctx.Await(fn.Execute(e.Ctx.NewUndefined(), arg))
	defer ret.Free()
	if ret.IsException() {
		return nil, e.Ctx.Exception()
	}
	return newValue(e.Ctx, ret), nil
}

// Define installs fn as the global function name. A host error is thrown
// into the script as an Error.
func (e *Engine) Define(name string, fn jsbridge.HostFunc) error {
	if fn == nil {
		return fmt.Errorf("host function %s cannot be nil", name)
	}
	e.Ctx.Globals().Set(name, e.Ctx.NewFunction(func(ctx *quickjs.Context, this *quickjs.Value, args []*quickjs.Value) *quickjs.Value {
		var arg jsbridge.JsValue = undefinedValue
		if len(args) > 0 {
			arg = newValue(ctx, args[0])
		}
		ret, err := fn(arg)
		if err != nil {
			return ctx.ThrowError(err)
		}
		return ctx.NewString(ret)
	}))
	return nil
}

// Close releases all resources associated with the engine, including context and runtime.
func (e *Engine) Close() error {
	if e.Ctx != nil {
		e.Ctx.Close()
		e.Ctx = nil
	}
	if e.Runtime != nil {
		e.Runtime.Close()
		e.Runtime = nil
	}
	return nil
}

// newEngine creates a new QuickJS engine instance with the given options.
// It initializes the runtime, context, and applies all provided engine options.
func newEngine(options ...jsbridge.JsEngineOption) (*Engine, error) {
	rt := quickjs.NewRuntime()
	ctx := rt.NewContext()

	engine := &Engine{
		Runtime: rt,
		Ctx:     ctx,
		Option: &EngineOption{
			MemoryLimit:        0,     // Default memory limit (no limit)
			GCThreshold:        -1,    // Default GC threshold. -1 means no threshold
			Timeout:            0,     // Default timeout (no timeout)
			MaxStackSize:       0,     // Default max stack size
			CanBlock:           false, // Blocking not allowed by default
			EnableModuleImport: false, // Module import disabled by default
			Strip:              1,     // Default strip behavior
		},
	}

	for _, option := range options {
		if err := option(engine); err != nil {
			engine.Close()
			return nil, err
		}
	}

	return engine, nil
}

// NewFactory returns a JsEngineFactory that creates QuickJS engines with the given options.
func NewFactory(options ...jsbridge.JsEngineOption) jsbridge.JsEngineFactory {
	return func() (jsbridge.JsEngine, error) {
		return newEngine(options...)
	}
}
