// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package quickjsengine

import (
	jsbridge "github.com/buke/js-bridge"
	"github.com/buke/quickjs-go"
)

// value is a snapshot of a quickjs.Value. It stays valid after the source
// value is freed.
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

// newValue classifies v and captures its string and JSON forms. v is not freed.
func newValue(ctx *quickjs.Context, v *quickjs.Value) *value {
	switch {
	case v.IsUndefined():
		return undefinedValue
	case v.IsNull():
		return &value{typ: jsbridge.TypeNull, str: "null"}
	case v.IsBool():
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
		out.json, out.jsonErr = stringify(ctx, v)
		out.str = out.json
		return out
	default:
		return &value{typ: jsbridge.TypeOther, str: v.String()}
	}
}

// stringify runs JSON.stringify on v so that a throwing conversion, such as a
// cyclic object, surfaces as an error.
func stringify(ctx *quickjs.Context, v *quickjs.Value) (string, error) {
	json := ctx.Globals().Get("JSON")
	defer json.Free()
	fn := json.Get("stringify")
	defer fn.Free()

	ret := fn.Execute(json, v)
	defer ret.Free()
	if ret.IsException() {
		return "", ctx.Exception()
	}
	if ret.IsUndefined() {
		return "", nil
	}
	return ret.String(), nil
}
