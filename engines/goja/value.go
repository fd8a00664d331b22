// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package gojaengine

import (
	"math/big"

	jsbridge "github.com/buke/js-bridge"
	"github.com/dop251/goja"
)

// value is a snapshot of a goja.Value taken on the event loop.
type value struct {
	typ     jsbridge.ValueType
	str     string
	json    string
	jsonErr error
}

func (v *value) Type() jsbridge.ValueType { return v.typ }
func (v *value) String() string           { return v.str }

// JSON returns the JSON encoding of an object value.
func (v *value) JSON() (string, error) { return v.json, v.jsonErr }

// newValue classifies v and captures its string and JSON forms.
// It must be called on the event loop that owns v.
func newValue(v goja.Value) *value {
	if v == nil || goja.IsUndefined(v) {
		return &value{typ: jsbridge.TypeUndefined, str: "undefined"}
	}
	if goja.IsNull(v) {
		return &value{typ: jsbridge.TypeNull, str: "null"}
	}
	if _, ok := goja.AssertFunction(v); ok {
		return &value{typ: jsbridge.TypeFunction, str: v.String()}
	}

	switch obj := v.(type) {
	case *goja.Symbol:
		return &value{typ: jsbridge.TypeOther, str: obj.String()}
	case *goja.Object:
		out := &value{typ: jsbridge.TypeObject}
		b, err := obj.MarshalJSON()
		if err != nil {
			out.jsonErr = err
		} else {
			out.json = string(b)
			out.str = out.json
		}
		return out
	}

	switch v.Export().(type) {
	case bool:
		return &value{typ: jsbridge.TypeBoolean, str: v.String()}
	case int64, float64, *big.Int:
		return &value{typ: jsbridge.TypeNumber, str: v.String()}
	case string:
		return &value{typ: jsbridge.TypeString, str: v.String()}
	default:
		return &value{typ: jsbridge.TypeOther, str: v.String()}
	}
}
