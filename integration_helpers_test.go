// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsbridge_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jsbridge "github.com/buke/js-bridge"
	"github.com/stretchr/testify/require"
)

// helloScript calls the host back for the name it greets.
var helloScript = &jsbridge.JsScript{
	FileName: "hello.js",
	Content:  `function hello(name) { return "Hello, " + tag(name) + "!"; }`,
}

// startLoop drives loop on its own goroutine until the test ends.
func startLoop(t *testing.T, loop *jsbridge.QueueLoop) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = loop.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		loop.Stop()
		<-stopped
	})
}

// runConcurrentTasks submits total asynchronous runs, each with its own
// callback returning a task-unique string after a short sleep, and checks
// that every completion fires exactly once with its own task's value.
func runConcurrentTasks(t *testing.T, factory jsbridge.JsEngineFactory, total int) {
	t.Helper()

	loop := jsbridge.NewQueueLoop(total)
	startLoop(t, loop)

	executor, err := jsbridge.NewExecutor(
		jsbridge.WithJsEngine(factory),
		jsbridge.WithMainLoop(loop),
		jsbridge.WithInitScripts(helloScript),
		jsbridge.WithMinPoolSize(2),
		jsbridge.WithMaxPoolSize(4),
		jsbridge.WithQueueSize(4),
	)
	require.NoError(t, err)
	require.NoError(t, executor.Start())
	defer executor.Stop()

	results := make([]string, total)
	failed := make([]bool, total)
	calls := make([]atomic.Int32, total)

	var wg sync.WaitGroup
	wg.Add(total)
	for i := 0; i < total; i++ {
		i := i
		unique := fmt.Sprintf("user-%d", i)
		callbacks := map[string]jsbridge.Callback{
			"tag": func(string) (string, error) {
				time.Sleep(time.Millisecond)
				return unique, nil
			},
		}
		err := executor.Run("hello", "ignored", "", callbacks, func(hasError bool, value string) {
			if calls[i].Add(1) == 1 {
				results[i], failed[i] = value, hasError
				wg.Done()
			}
		})
		require.NoError(t, err, "task %d", i)
	}

	waited := make(chan struct{})
	go func() {
		wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(60 * time.Second):
		t.Fatal("timed out waiting for completions")
	}

	// Give a duplicate delivery a chance to show up.
	time.Sleep(20 * time.Millisecond)
	for i := 0; i < total; i++ {
		require.Equal(t, int32(1), calls[i].Load(), "task %d completions", i)
		require.False(t, failed[i], "task %d: %s", i, results[i])
		require.Equal(t, fmt.Sprintf("Hello, user-%d!", i), results[i])
	}
}

// runSyncBasics checks the caller-thread path against a real engine.
func runSyncBasics(t *testing.T, factory jsbridge.JsEngineFactory) {
	t.Helper()

	executor, err := jsbridge.NewExecutor(
		jsbridge.WithJsEngine(factory),
		jsbridge.WithInitScripts(helloScript),
	)
	require.NoError(t, err)

	callbacks := map[string]jsbridge.Callback{
		"tag": func(p string) (string, error) { return p + "?", nil },
	}
	ret, err := executor.RunSync("hello", "World", "", callbacks)
	require.NoError(t, err)
	require.Equal(t, "Hello, World?!", ret)

	ret, err = executor.RunSync("echo", "round trip", `function echo(p) { return p; }`, nil)
	require.NoError(t, err)
	require.Equal(t, "round trip", ret)

	ret, err = executor.RunSync("obj", "", `function obj() { return {a: 1, b: "x"}; }`, nil)
	require.NoError(t, err)
	require.Equal(t, `{"a":1,"b":"x"}`, ret)

	for _, script := range []string{
		`function empty() { return undefined; }`,
		`function empty() { return null; }`,
		`function empty() { return function () {}; }`,
	} {
		ret, err = executor.RunSync("empty", "", script, nil)
		require.NoError(t, err)
		require.Equal(t, "", ret)
	}

	_, err = executor.RunSync("broken", "", `function broken( {`, nil)
	require.ErrorIs(t, err, jsbridge.ErrEvaluation)
	require.NotEmpty(t, err.Error())

	_, err = executor.RunSync("missing", "", `var x = 1;`, nil)
	require.ErrorIs(t, err, jsbridge.ErrInvocation)

	_, err = executor.RunSync("fails", "", `function fails() { return tag("x"); }`,
		map[string]jsbridge.Callback{"tag": func(string) (string, error) { return "", fmt.Errorf("host down") }})
	require.ErrorIs(t, err, jsbridge.ErrHostCallback)
	require.Contains(t, err.Error(), "host down")
}
