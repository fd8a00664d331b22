// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package gojaengine

import (
	"fmt"

	jsbridge "github.com/buke/js-bridge"
	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
)

// EngineOption holds configuration for a Goja engine instance.
type EngineOption struct {
	MaxCallStackSize int
	EnableConsole    bool
	EnableRequire    bool
	FieldNameMapper  goja.FieldNameMapper
	Globals          []string // Names set with WithGlobals
}

// asEngine unwraps the concrete engine an option applies to.
func asEngine(engine jsbridge.JsEngine) (*Engine, error) {
	e, ok := engine.(*Engine)
	if !ok {
		return nil, fmt.Errorf("option requires a goja engine, got %T", engine)
	}
	return e, nil
}

// WithMaxCallStackSize sets the maximum call stack size for the runtime.
// A value of 0 or less means no limit.
func WithMaxCallStackSize(size int) jsbridge.JsEngineOption {
	return func(engine jsbridge.JsEngine) error {
		e, err := asEngine(engine)
		if err != nil {
			return err
		}
		e.Option.MaxCallStackSize = size
		return e.run(func(vm *goja.Runtime) error {
			vm.SetMaxCallStackSize(size)
			return nil
		})
	}
}

// WithEnableConsole enables the console object (console.log, etc.) in the JS runtime.
func WithEnableConsole() jsbridge.JsEngineOption {
	return func(engine jsbridge.JsEngine) error {
		e, err := asEngine(engine)
		if err != nil {
			return err
		}
		e.Option.EnableConsole = true
		return e.run(func(vm *goja.Runtime) error {
			console.Enable(vm)
			return nil
		})
	}
}

// WithRequire enables the require() function for loading CommonJS modules.
// Native modules registered globally with require.RegisterNativeModule are available.
func WithRequire() jsbridge.JsEngineOption {
	return func(engine jsbridge.JsEngine) error {
		e, err := asEngine(engine)
		if err != nil {
			return err
		}
		e.Option.EnableRequire = true
		return e.run(func(vm *goja.Runtime) error {
			new(require.Registry).Enable(vm)
			return nil
		})
	}
}

// WithFieldNameMapper sets the field name mapper for Go-to-JS struct conversions.
// This controls how Go struct field names are exposed in JavaScript.
func WithFieldNameMapper(mapper goja.FieldNameMapper) jsbridge.JsEngineOption {
	return func(engine jsbridge.JsEngine) error {
		e, err := asEngine(engine)
		if err != nil {
			return err
		}
		if mapper == nil {
			return nil
		}
		e.Option.FieldNameMapper = mapper
		return e.run(func(vm *goja.Runtime) error {
			vm.SetFieldNameMapper(mapper)
			return nil
		})
	}
}

// WithGlobals sets read-mostly host values as script globals.
func WithGlobals(globals map[string]any) jsbridge.JsEngineOption {
	return func(engine jsbridge.JsEngine) error {
		e, err := asEngine(engine)
		if err != nil {
			return err
		}
		return e.run(func(vm *goja.Runtime) error {
			for name, v := range globals {
				if err := vm.Set(name, v); err != nil {
					return fmt.Errorf("failed to set global %s: %w", name, err)
				}
				e.Option.Globals = append(e.Option.Globals, name)
			}
			return nil
		})
	}
}
