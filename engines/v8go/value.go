//go:build !windows

// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package v8engine

import (
	"fmt"

	jsbridge "github.com/buke/js-bridge"
	"github.com/tommie/v8go"
)

// value is a snapshot of a v8go.Value.
type value struct {
	typ     jsbridge.ValueType
	str     string
	json    string
	jsonErr error
}

var undefinedValue = &value{typ: jsbridge.TypeUndefined, str: "undefined"}

func (v *value) Type() jsbridge.ValueType { return v.typ }
func (v *value) String() string           { return v.str }
func (v *value) JSON() (string, error)    { return v.json, v.jsonErr }

// newValue classifies v and captures its string and JSON forms.
func newValue(v *v8go.Value) *value {
	switch {
	case v == nil || v.IsUndefined():
		return undefinedValue
	case v.IsNull():
		return &value{typ: jsbridge.TypeNull, str: "null"}
	case v.IsBoolean():
		return &value{typ: jsbridge.TypeBoolean, str: v.String()}
	case v.IsNumber(), v.IsBigInt():
		return &value{typ: jsbridge.TypeNumber, str: v.String()}
	case v.IsString():
		return &value{typ: jsbridge.TypeString, str: v.String()}
	case v.IsFunction():
		return &value{typ: jsbridge.TypeFunction, str: v.String()}
	case v.IsSymbol():
		return &value{typ: jsbridge.TypeOther}
	case v.IsObject():
		out := &value{typ: jsbridge.TypeObject}
		b, err := v.MarshalJSON()
		switch {
		case err != nil:
			out.jsonErr = err
		case len(b) == 0:
			// v8go yields no bytes for values JSON.stringify rejects.
			out.jsonErr = fmt.Errorf("value cannot be encoded as JSON")
		default:
			out.json = string(b)
			out.str = out.json
		}
		return out
	default:
		return &value{typ: jsbridge.TypeOther, str: v.String()}
	}
}
