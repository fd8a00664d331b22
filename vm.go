// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsbridge

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
)

// scriptFileName is the file name reported for task scripts.
const scriptFileName = "script.js"

// vmState is the lifecycle state of a VM.
type vmState int32

const (
	stateCreated    vmState = iota // Engine attached, context not yet registered
	stateReady                     // Waiting for a run
	stateEvaluated                 // Script loaded, globals defined
	stateInvoked                   // Target function returned
	stateSerialized                // Result ready
	stateDestroyed                 // Closed, terminal
)

// String returns the string representation of a vmState.
func (s vmState) String() string {
	switch s {
	case stateCreated:
		return "created"
	case stateReady:
		return "ready"
	case stateEvaluated:
		return "evaluated"
	case stateInvoked:
		return "invoked"
	case stateSerialized:
		return "serialized"
	case stateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// VM runs scripts on one JsEngine and routes script calls of registered
// names to host callbacks through a CallbackRegistry.
//
// A VM is owned by a single goroutine. Only State may be called from others.
type VM struct {
	id          ContextID
	engine      JsEngine
	registry    *CallbackRegistry
	initScripts []*JsScript
	logger      *slog.Logger

	state   atomic.Int32
	hostErr *HostCallbackError // first host callback failure of the current run
}

// VMOption configures a VM.
type VMOption func(*VM)

// WithVMLogger sets the logger used by the VM. A nil logger disables logging.
func WithVMLogger(logger *slog.Logger) VMOption {
	return func(vm *VM) {
		vm.logger = logger
	}
}

// WithVMInitScripts sets scripts evaluated before the script of every run.
func WithVMInitScripts(scripts ...*JsScript) VMOption {
	return func(vm *VM) {
		vm.initScripts = scripts
	}
}

// NewVM wraps engine and registers a new context in registry.
// A nil registry gives the VM a private one.
func NewVM(engine JsEngine, registry *CallbackRegistry, opts ...VMOption) (*VM, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if registry == nil {
		registry = NewCallbackRegistry()
	}

	vm := &VM{
		id:       newContextID(),
		engine:   engine,
		registry: registry,
		logger:   slog.Default(),
	}
	vm.state.Store(int32(stateCreated))

	for _, opt := range opts {
		opt(vm)
	}

	registry.RegisterContext(vm.id)
	vm.setState(stateReady)
	return vm, nil
}

// Context returns the VM's registry key.
func (vm *VM) Context() ContextID {
	return vm.id
}

// State returns the current lifecycle state name.
func (vm *VM) State() string {
	return vm.getState().String()
}

func (vm *VM) getState() vmState {
	return vmState(vm.state.Load())
}

func (vm *VM) setState(s vmState) {
	vm.state.Store(int32(s))
}

// RegisterCallback exposes cb to scripts as a global function called name.
// When name is already registered the first callback is kept and cb is ignored.
func (vm *VM) RegisterCallback(name string, cb Callback) error {
	if vm.getState() == stateDestroyed {
		return fmt.Errorf("vm is closed")
	}
	if name == "" {
		return fmt.Errorf("callback name cannot be empty")
	}
	if cb == nil {
		return fmt.Errorf("callback %q cannot be nil", name)
	}

	if !vm.registry.AddCallback(vm.id, name, cb) {
		if vm.logger != nil {
			vm.logger.Warn("Callback already registered, ignoring duplicate",
				"context", vm.id,
				"callback", name)
		}
		return nil
	}

	if err := vm.engine.Define(name, vm.trampoline(name)); err != nil {
		return fmt.Errorf("failed to define callback %s: %w", name, err)
	}
	return nil
}

// trampoline builds the engine-side function for a registered name. The
// script argument is serialized like a return value before the lookup.
func (vm *VM) trampoline(name string) HostFunc {
	id := vm.id
	return func(arg JsValue) (string, error) {
		parameter, err := serializeValue(arg)
		if err != nil {
			parameter = ""
		}

		ret, err := vm.registry.Invoke(id, name, parameter)
		if err != nil {
			var hostErr *HostCallbackError
			if !errors.As(err, &hostErr) {
				hostErr = &HostCallbackError{Name: name, Err: err}
			}
			if vm.hostErr == nil {
				vm.hostErr = hostErr
			}
			return "", hostErr
		}
		return ret, nil
	}
}

// Run evaluates script, calls functionName with parameter and serializes the
// return value. Failures are reported in the result, never as a panic.
func (vm *VM) Run(functionName, parameter, script string) ExecutionResult {
	switch vm.getState() {
	case stateReady:
	case stateDestroyed:
		return ExecutionResult{ErrorCode: CodeInvocation, Value: "vm is closed"}
	default:
		return ExecutionResult{ErrorCode: CodeInvocation, Value: "vm is already running"}
	}
	defer func() {
		if vm.getState() != stateDestroyed {
			vm.setState(stateReady)
		}
	}()
	vm.hostErr = nil

	for _, s := range vm.initScripts {
		if err := vm.engine.Eval(s); err != nil {
			return vm.fail(CodeEvaluation, functionName, err)
		}
	}
	if err := vm.engine.Eval(&JsScript{Content: script, FileName: scriptFileName}); err != nil {
		return vm.fail(CodeEvaluation, functionName, err)
	}
	vm.setState(stateEvaluated)

	ret, err := vm.engine.Call(functionName, parameter)
	if err != nil {
		return vm.fail(CodeInvocation, functionName, err)
	}
	vm.setState(stateInvoked)

	value, err := serializeValue(ret)
	if err != nil {
		return vm.fail(CodeSerialization, functionName, err)
	}
	vm.setState(stateSerialized)

	return ExecutionResult{ErrorCode: CodeOK, Value: value}
}

// fail builds a failed result. It is classed as a host callback failure when
// err is, or carries the message of, the callback error seen during the run.
// A callback error the script caught does not change the classification.
func (vm *VM) fail(code ErrorCode, functionName string, err error) ExecutionResult {
	if vm.fromHostCallback(err) {
		code = CodeHostCallback
	}
	if vm.logger != nil {
		vm.logger.Debug("Script run failed",
			"context", vm.id,
			"function", functionName,
			"code", code.String(),
			"error", err)
	}
	return ExecutionResult{ErrorCode: code, Value: err.Error()}
}

func (vm *VM) fromHostCallback(err error) bool {
	if vm.hostErr == nil {
		return false
	}
	if errors.Is(err, ErrHostCallback) {
		return true
	}
	return strings.Contains(err.Error(), fmt.Sprintf("host callback %q failed", vm.hostErr.Name))
}

// Close unregisters the VM's context, then closes the engine.
// The registry entry is gone before engine memory is released.
func (vm *VM) Close() error {
	if vmState(vm.state.Swap(int32(stateDestroyed))) == stateDestroyed {
		return nil
	}
	vm.registry.UnregisterContext(vm.id)
	if err := vm.engine.Close(); err != nil {
		return fmt.Errorf("failed to close JS engine: %w", err)
	}
	return nil
}

// serializeValue renders a script value as text: primitives in their string
// form, objects as JSON, and functions, null and undefined as "".
func serializeValue(v JsValue) (string, error) {
	if v == nil {
		return "", nil
	}
	switch v.Type() {
	case TypeBoolean, TypeNumber, TypeString:
		return v.String(), nil
	case TypeObject:
		s, err := v.JSON()
		if err != nil {
			return "", fmt.Errorf("failed to encode value as JSON: %w", err)
		}
		return s, nil
	default:
		return "", nil
	}
}
