// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package hostmodule

import (
	"testing"
	"time"

	jsbridge "github.com/buke/js-bridge"
	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
	noderequire "github.com/dop251/goja_nodejs/require"
	"github.com/stretchr/testify/require"
)

const exclamateScript = `function test() { return exclamate('hello'); }`

type completion struct {
	hasError bool
	value    string
}

func newHost(t *testing.T) *EventLoop {
	t.Helper()
	registry := noderequire.NewRegistry()
	loop := NewEventLoop(eventloop.NewEventLoop(eventloop.WithRegistry(registry)))
	loop.Start()

	m, err := New(loop, jsbridge.WithMinPoolSize(1), jsbridge.WithMaxPoolSize(2))
	require.NoError(t, err)
	m.Register(registry)

	t.Cleanup(func() {
		m.Close()
		loop.Stop()
	})
	return loop
}

// evalOnLoop runs src on the host loop and returns its string result.
// setup, if set, runs on the loop first.
func evalOnLoop(t *testing.T, loop *EventLoop, src string, setup func(*goja.Runtime)) string {
	t.Helper()
	type outcome struct {
		value string
		err   error
	}
	ch := make(chan outcome, 1)
	require.True(t, loop.Loop().RunOnLoop(func(vm *goja.Runtime) {
		if setup != nil {
			setup(vm)
		}
		v, err := vm.RunString(src)
		if err != nil {
			ch <- outcome{err: err}
			return
		}
		ch <- outcome{value: v.String()}
	}))

	select {
	case o := <-ch:
		require.NoError(t, o.err)
		return o.value
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for the host loop")
		return ""
	}
}

func TestModule_RunSync(t *testing.T) {
	loop := newHost(t)

	got := evalOnLoop(t, loop, `
		const bridge = require("js-bridge");
		bridge.runSync("test", "", "`+exclamateScript+`", {
			exclamate: function (p) { return p + "!"; }
		});
	`, nil)
	require.Equal(t, "hello!", got)
}

func TestModule_RunSync_ObjectParameter(t *testing.T) {
	loop := newHost(t)

	got := evalOnLoop(t, loop, `
		const bridge = require("js-bridge");
		const script = "function test() { return greet({greeting: 'hey', name: 'world'}); }";
		bridge.runSync("test", "", script, {
			greet: function (p) { const o = JSON.parse(p); return o.greeting + " " + o.name + "!"; }
		});
	`, nil)
	require.Equal(t, "hey world!", got)
}

func TestModule_RunSync_FunctionParameter(t *testing.T) {
	loop := newHost(t)

	got := evalOnLoop(t, loop, `
		const bridge = require("js-bridge");
		bridge.runSync("test", "", "function test() { return greet(function () {}); }", {
			greet: function (p) { return p; }
		});
	`, nil)
	require.Equal(t, "", got)
}

func TestModule_RunSync_NoAPI(t *testing.T) {
	loop := newHost(t)

	got := evalOnLoop(t, loop, `
		require("js-bridge").runSync("echo", "round trip", "function echo(p) { return p; }");
	`, nil)
	require.Equal(t, "round trip", got)
}

func TestModule_RunSync_Errors(t *testing.T) {
	loop := newHost(t)

	tests := []struct {
		name string
		call string
		want string
	}{
		{"too few arguments", `bridge.runSync("a", "b")`, "TypeError: Wrong number of arguments"},
		{"non-string argument", `bridge.runSync(1, "b", "c")`, "TypeError: Wrong arguments"},
		{"bad api", `bridge.runSync("a", "", "function a() {}", {x: 1})`, "Error: Error in API-definition"},
		{"missing function", `bridge.runSync("nope", "", "var x = 1;")`, "Error: ReferenceError: nope is not defined"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := evalOnLoop(t, loop, `
				(function () {
					const bridge = require("js-bridge");
					try { `+tt.call+`; return "no error"; } catch (e) { return e.name + ": " + e.message; }
				})();
			`, nil)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestModule_RunSync_EvaluationError(t *testing.T) {
	loop := newHost(t)

	got := evalOnLoop(t, loop, `
		(function () {
			try { require("js-bridge").runSync("a", "", "function a( {"); return ""; }
			catch (e) { return e.message; }
		})();
	`, nil)
	require.NotEmpty(t, got)
}

// runAsync starts src on the loop; src reports through done(error, value).
func runAsync(t *testing.T, loop *EventLoop, src string) completion {
	t.Helper()
	ch := make(chan completion, 1)
	evalOnLoop(t, loop, src, func(vm *goja.Runtime) {
		_ = vm.Set("done", func(hasError bool, value string) {
			ch <- completion{hasError: hasError, value: value}
		})
	})

	select {
	case c := <-ch:
		return c
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for completion")
		return completion{}
	}
}

func TestModule_Run(t *testing.T) {
	loop := newHost(t)

	c := runAsync(t, loop, `
		require("js-bridge").run("test", "", "function test() { return exclamate('hello') + exclamate('hello'); }", {
			exclamate: function (p) { return p + "!"; }
		}, done);
	`)
	require.False(t, c.hasError, c.value)
	require.Equal(t, "hello!hello!", c.value)
}

func TestModule_Run_ScriptError(t *testing.T) {
	loop := newHost(t)

	c := runAsync(t, loop, `
		require("js-bridge").run("test", "", "function test() { throw new Error('bad'); }", {}, done);
	`)
	require.True(t, c.hasError)
	require.Contains(t, c.value, "bad")
}

func TestModule_Run_HostCallbackThrows(t *testing.T) {
	loop := newHost(t)

	c := runAsync(t, loop, `
		require("js-bridge").run("test", "", "function test() { return boom(''); }", {
			boom: function () { throw new Error("host broke"); }
		}, done);
	`)
	require.True(t, c.hasError)
	require.Contains(t, c.value, "host broke")
}

func TestModule_Run_Errors(t *testing.T) {
	loop := newHost(t)

	tests := []struct {
		name string
		call string
		want string
	}{
		{"too few arguments", `bridge.run("a", "b", "c", {})`, "TypeError: Wrong number of arguments"},
		{"callback not a function", `bridge.run("a", "b", "c", {}, 1)`, "TypeError: Wrong arguments"},
		{"non-string argument", `bridge.run("a", 2, "c", {}, function () {})`, "TypeError: Wrong arguments"},
		{"bad api", `bridge.run("a", "", "c", {x: "y"}, function () {})`, "Error: Error in API-definition"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := evalOnLoop(t, loop, `
				(function () {
					const bridge = require("js-bridge");
					try { `+tt.call+`; return "no error"; } catch (e) { return e.name + ": " + e.message; }
				})();
			`, nil)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestNew_NilLoop(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestNew_NilFactory(t *testing.T) {
	loop := NewEventLoop(eventloop.NewEventLoop())
	loop.Start()
	defer loop.Stop()

	m, err := New(loop, jsbridge.WithJsEngine(nil))
	require.Error(t, err)
	require.Nil(t, m)
}
