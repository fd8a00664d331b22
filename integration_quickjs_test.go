// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsbridge_test

import (
	"testing"

	quickjsengine "github.com/buke/js-bridge/engines/quickjs-go"
)

// TestIntegration_ExecutorWithQuickJS covers RunSync with the QuickJS engine.
func TestIntegration_ExecutorWithQuickJS(t *testing.T) {
	runSyncBasics(t, quickjsengine.NewFactory())
}

// TestIntegration_ExecutorWithQuickJS_ConcurrentTasks checks that concurrent
// runs each see their own callback result.
func TestIntegration_ExecutorWithQuickJS_ConcurrentTasks(t *testing.T) {
	runConcurrentTasks(t, quickjsengine.NewFactory(
		quickjsengine.WithEnableModuleImport(true),
		quickjsengine.WithCanBlock(true),
	), 64)
}
