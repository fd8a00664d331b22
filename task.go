// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsbridge

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// DoneFunc receives the outcome of an asynchronous run. It is called once per
// submitted task, on the main loop, unless the loop stops before it can run.
type DoneFunc func(hasError bool, value string)

// task represents one asynchronous script run owned by the pool until its
// completion has been delivered.
type task struct {
	id           string              // Identifier used in logs
	functionName string              // Entry function to call
	parameter    string              // Single string argument
	script       string              // Script source
	callbacks    map[string]Callback // Host callbacks by name
	onDone       DoneFunc            // Completion handler, run on the main loop

	delivered atomic.Bool // Set once completion has been delivered
}

// newTask creates a new task. The callback table is copied so later changes
// by the caller do not leak into the run.
func newTask(functionName, parameter, script string, callbacks map[string]Callback, onDone DoneFunc) *task {
	cbs := make(map[string]Callback, len(callbacks))
	for name, cb := range callbacks {
		cbs[name] = cb
	}
	return &task{
		id:           uuid.NewString(),
		functionName: functionName,
		parameter:    parameter,
		script:       script,
		callbacks:    cbs,
		onDone:       onDone,
	}
}
