// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsbridge

import (
	"errors"
	"fmt"
)

// ErrorCode classifies the outcome of a script run.
type ErrorCode int

const (
	CodeOK            ErrorCode = iota // Run succeeded
	CodeEvaluation                     // Script failed to evaluate
	CodeInvocation                     // Target function missing, not callable, or threw
	CodeSerialization                  // Return value could not be encoded
	CodeHostCallback                   // A host callback failed during the run
)

// String returns the string representation of an ErrorCode.
func (c ErrorCode) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeEvaluation:
		return "evaluation"
	case CodeInvocation:
		return "invocation"
	case CodeSerialization:
		return "serialization"
	case CodeHostCallback:
		return "host callback"
	default:
		return "unknown"
	}
}

var (
	ErrEvaluation    = errors.New("script evaluation failed")
	ErrInvocation    = errors.New("function invocation failed")
	ErrSerialization = errors.New("result serialization failed")
	ErrHostCallback  = errors.New("host callback failed")
)

// ExecutionResult is the outcome of one run. ErrorCode zero means Value holds
// the serialized return value; otherwise Value holds the error text.
type ExecutionResult struct {
	ErrorCode ErrorCode `json:"errorCode"`
	Value     string    `json:"value"`
}

// HasError reports whether the run failed.
func (r ExecutionResult) HasError() bool {
	return r.ErrorCode != CodeOK
}

// Err converts a failed result into an *ExecutionError. It returns nil on success.
func (r ExecutionResult) Err() error {
	if !r.HasError() {
		return nil
	}
	return &ExecutionError{Code: r.ErrorCode, Message: r.Value}
}

// ExecutionError is the recoverable error form of a failed ExecutionResult.
type ExecutionError struct {
	Code    ErrorCode
	Message string
}

func (e *ExecutionError) Error() string {
	return e.Message
}

// Is matches the sentinel error for the error's code.
func (e *ExecutionError) Is(target error) bool {
	switch e.Code {
	case CodeEvaluation:
		return target == ErrEvaluation
	case CodeInvocation:
		return target == ErrInvocation
	case CodeSerialization:
		return target == ErrSerialization
	case CodeHostCallback:
		return target == ErrHostCallback
	}
	return false
}

// HostCallbackError reports a failure of a host callback invoked by a script.
type HostCallbackError struct {
	Name string // Callback name
	Err  error  // Underlying failure
}

func (e *HostCallbackError) Error() string {
	return fmt.Sprintf("host callback %q failed: %v", e.Name, e.Err)
}

func (e *HostCallbackError) Unwrap() error {
	return e.Err
}

// Is matches ErrHostCallback.
func (e *HostCallbackError) Is(target error) bool {
	return target == ErrHostCallback
}
