// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

// Package hostmodule exposes an Executor to scripts running in a goja_nodejs
// host as the native module "js-bridge", with runSync and run functions.
package hostmodule

import (
	"fmt"
	"log/slog"

	jsbridge "github.com/buke/js-bridge"
	gojaengine "github.com/buke/js-bridge/engines/goja"
	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"
)

// ModuleName is the name scripts pass to require.
const ModuleName = "js-bridge"

const (
	msgWrongArgCount = "Wrong number of arguments"
	msgWrongArgs     = "Wrong arguments"
	msgAPIDefinition = "Error in API-definition"
)

// Module binds an Executor to a host event loop.
type Module struct {
	executor *jsbridge.Executor
	loop     *EventLoop
	logger   *slog.Logger
}

// New creates and starts an Executor whose main loop is loop. Scripts run on
// the goja backend unless opts select another engine.
func New(loop *EventLoop, opts ...func(*jsbridge.Executor)) (*Module, error) {
	if loop == nil {
		return nil, fmt.Errorf("event loop cannot be nil")
	}

	all := make([]func(*jsbridge.Executor), 0, len(opts)+2)
	all = append(all, jsbridge.WithJsEngine(gojaengine.NewFactory()))
	all = append(all, opts...)
	all = append(all, jsbridge.WithMainLoop(loop))

	executor, err := jsbridge.NewExecutor(all...)
	if err != nil {
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}
	if err := executor.Start(); err != nil {
		return nil, fmt.Errorf("failed to start executor: %w", err)
	}

	return &Module{
		executor: executor,
		loop:     loop,
		logger:   slog.Default(),
	}, nil
}

// Executor returns the module's executor.
func (m *Module) Executor() *jsbridge.Executor {
	return m.executor
}

// Register makes the module available to require(ModuleName).
func (m *Module) Register(registry *require.Registry) {
	registry.RegisterNativeModule(ModuleName, m.Require)
}

// Close stops the executor, waiting for runs in flight. The event loop is
// left to its owner. Close must not be called from the loop goroutine while
// runs are in flight: their callbacks and completions need the loop, so
// Close would never return. Stop the loop first, or close from another
// goroutine.
func (m *Module) Close() error {
	return m.executor.Stop()
}

// Require is the native module loader.
func (m *Module) Require(runtime *goja.Runtime, module *goja.Object) {
	exports := module.Get("exports").(*goja.Object)

	// runSync(functionName, parameter, script[, api]): string
	_ = exports.Set("runSync", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 3 {
			panic(runtime.NewTypeError(msgWrongArgCount))
		}
		fn, param, script, ok := stringArgs(call)
		if !ok {
			panic(runtime.NewTypeError(msgWrongArgs))
		}
		callbacks := apiCallbacks(runtime, call.Argument(3))

		ret, err := m.executor.RunSync(fn, param, script, callbacks)
		if err != nil {
			throwError(runtime, err.Error())
		}
		return runtime.ToValue(ret)
	})

	// run(functionName, parameter, script, api, callback(error, value)): void
	_ = exports.Set("run", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 5 {
			panic(runtime.NewTypeError(msgWrongArgCount))
		}
		fn, param, script, ok := stringArgs(call)
		if !ok {
			panic(runtime.NewTypeError(msgWrongArgs))
		}
		done, ok := goja.AssertFunction(call.Argument(4))
		if !ok {
			panic(runtime.NewTypeError(msgWrongArgs))
		}
		callbacks := apiCallbacks(runtime, call.Argument(3))

		onDone := func(hasError bool, value string) {
			if _, err := done(goja.Undefined(), runtime.ToValue(hasError), runtime.ToValue(value)); err != nil {
				m.logger.Error("Completion callback failed", "function", fn, "error", err)
			}
		}
		if err := m.executor.Run(fn, param, script, callbacks, onDone); err != nil {
			throwError(runtime, err.Error())
		}
		return goja.Undefined()
	})
}

// stringArgs returns the first three arguments if they are all strings.
func stringArgs(call goja.FunctionCall) (fn, param, script string, ok bool) {
	if fn, ok = call.Argument(0).Export().(string); !ok {
		return
	}
	if param, ok = call.Argument(1).Export().(string); !ok {
		return
	}
	script, ok = call.Argument(2).Export().(string)
	return
}

// apiCallbacks converts an object of host functions into callbacks. Anything
// other than an object means no callbacks.
func apiCallbacks(runtime *goja.Runtime, api goja.Value) map[string]jsbridge.Callback {
	obj, ok := api.(*goja.Object)
	if !ok {
		return nil
	}
	callbacks := make(map[string]jsbridge.Callback)
	for _, key := range obj.Keys() {
		fn, ok := goja.AssertFunction(obj.Get(key))
		if !ok {
			throwError(runtime, msgAPIDefinition)
		}
		callbacks[key] = func(parameter string) (string, error) {
			ret, err := fn(goja.Undefined(), runtime.ToValue(parameter))
			if err != nil {
				return "", err
			}
			return ret.String(), nil
		}
	}
	return callbacks
}

// throwError throws a plain Error with msg into the calling script.
func throwError(runtime *goja.Runtime, msg string) {
	obj, err := runtime.New(runtime.Get("Error"), runtime.ToValue(msg))
	if err != nil {
		panic(runtime.NewGoError(fmt.Errorf("%s", msg)))
	}
	panic(obj)
}
