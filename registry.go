// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsbridge

import (
	"sync"
	"sync/atomic"
)

// Callback is a host function exposed to scripts under a name.
type Callback func(parameter string) (string, error)

// ContextID identifies one engine instance inside a CallbackRegistry.
// IDs are never reused within a process.
type ContextID uint64

var contextIDCounter uint64

// newContextID returns a fresh, process-unique ContextID.
func newContextID() ContextID {
	return ContextID(atomic.AddUint64(&contextIDCounter, 1))
}

// callbackTable holds the callbacks of a single context.
type callbackTable struct {
	mu        sync.RWMutex
	callbacks map[string]Callback
}

// CallbackRegistry maps execution contexts to their named callbacks.
//
// The registry lock only guards the context map. Each context has its own
// lock, and callbacks are invoked with no lock held, so a slow callback in
// one context never stalls another.
type CallbackRegistry struct {
	mu     sync.RWMutex
	tables map[ContextID]*callbackTable
}

// NewCallbackRegistry creates an empty registry.
func NewCallbackRegistry() *CallbackRegistry {
	return &CallbackRegistry{
		tables: make(map[ContextID]*callbackTable),
	}
}

// RegisterContext inserts an empty callback table for ctx if absent.
func (r *CallbackRegistry) RegisterContext(ctx ContextID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tables[ctx]; !ok {
		r.tables[ctx] = &callbackTable{callbacks: make(map[string]Callback)}
	}
}

// UnregisterContext removes ctx and its callbacks. No-op if absent.
func (r *CallbackRegistry) UnregisterContext(ctx ContextID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tables, ctx)
}

// AddCallback stores cb under name for ctx unless the name is already taken.
// It reports whether cb was stored; an unknown ctx stores nothing.
func (r *CallbackRegistry) AddCallback(ctx ContextID, name string, cb Callback) bool {
	table := r.table(ctx)
	if table == nil || cb == nil {
		return false
	}

	table.mu.Lock()
	defer table.mu.Unlock()
	if _, exists := table.callbacks[name]; exists {
		return false
	}
	table.callbacks[name] = cb
	return true
}

// Lookup returns the callback registered under name for ctx.
func (r *CallbackRegistry) Lookup(ctx ContextID, name string) (Callback, bool) {
	table := r.table(ctx)
	if table == nil {
		return nil, false
	}

	table.mu.RLock()
	defer table.mu.RUnlock()
	cb, ok := table.callbacks[name]
	return cb, ok
}

// Invoke calls the callback registered under name for ctx with parameter.
// An unknown context or name yields an empty string and no error.
func (r *CallbackRegistry) Invoke(ctx ContextID, name string, parameter string) (string, error) {
	cb, ok := r.Lookup(ctx, name)
	if !ok {
		return "", nil
	}
	return cb(parameter)
}

// Has reports whether ctx is registered.
func (r *CallbackRegistry) Has(ctx ContextID) bool {
	return r.table(ctx) != nil
}

// Len returns the number of registered contexts.
func (r *CallbackRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tables)
}

func (r *CallbackRegistry) table(ctx ContextID) *callbackTable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tables[ctx]
}
