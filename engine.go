// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsbridge

// JsScript represents a JavaScript source to evaluate in the global scope.
type JsScript struct {
	Content  string // Script content
	FileName string // Script file name for debugging purposes
}

// ValueType classifies a script value for serialization.
type ValueType int

const (
	TypeUndefined ValueType = iota
	TypeNull
	TypeBoolean
	TypeNumber
	TypeString
	TypeObject
	TypeFunction
	TypeOther // symbols and engine-specific values
)

// String returns the string representation of a ValueType.
func (t ValueType) String() string {
	switch t {
	case TypeUndefined:
		return "undefined"
	case TypeNull:
		return "null"
	case TypeBoolean:
		return "boolean"
	case TypeNumber:
		return "number"
	case TypeString:
		return "string"
	case TypeObject:
		return "object"
	case TypeFunction:
		return "function"
	default:
		return "other"
	}
}

// JsValue is a value owned by a JsEngine. It is only valid on the goroutine
// that owns the engine and only until the call that produced it returns.
type JsValue interface {
	// Type reports the value's type.
	Type() ValueType

	// String returns the engine's string conversion of the value.
	String() string

	// JSON encodes the value with the engine's own JSON encoder.
	JSON() (string, error)
}

// HostFunc is the native side of a global function installed with Define.
// A returned error is thrown into the script.
type HostFunc func(arg JsValue) (string, error)

// JsEngine is one scripting-engine instance. Implementations are not safe
// for concurrent use; a single goroutine owns an engine for its lifetime.
type JsEngine interface {
	// Eval evaluates a script in the global scope.
	Eval(script *JsScript) error

	// Call invokes the global function name with a single string argument.
	Call(name string, parameter string) (JsValue, error)

	// Define installs a global function under name backed by fn.
	Define(name string, fn HostFunc) error

	// Close closes the engine and releases resources
	Close() error
}

// JsEngineFactory creates JavaScript engine instances
type JsEngineFactory func() (JsEngine, error)

// JsEngineOption is a function that configures a JavaScript engine
type JsEngineOption func(JsEngine) error
