// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2025 YourCompany
//
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"fmt"
	"math"
	"reflect"
	"strconv"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/common"
)

var scalarTypes = map[string]reflect.Type{
	common.ValueTypeBool:    reflect.TypeOf(false),
	common.ValueTypeString:  reflect.TypeOf(""),
	common.ValueTypeUint8:   reflect.TypeOf(uint8(0)),
	common.ValueTypeUint16:  reflect.TypeOf(uint16(0)),
	common.ValueTypeUint32:  reflect.TypeOf(uint32(0)),
	common.ValueTypeUint64:  reflect.TypeOf(uint64(0)),
	common.ValueTypeInt8:    reflect.TypeOf(int8(0)),
	common.ValueTypeInt16:   reflect.TypeOf(int16(0)),
	common.ValueTypeInt32:   reflect.TypeOf(int32(0)),
	common.ValueTypeInt64:   reflect.TypeOf(int64(0)),
	common.ValueTypeFloat32: reflect.TypeOf(float32(0)),
	common.ValueTypeFloat64: reflect.TypeOf(float64(0)),
}

// array type -> element type
var arrayTypes = map[string]string{
	common.ValueTypeBoolArray:    common.ValueTypeBool,
	common.ValueTypeStringArray:  common.ValueTypeString,
	common.ValueTypeUint8Array:   common.ValueTypeUint8,
	common.ValueTypeUint16Array:  common.ValueTypeUint16,
	common.ValueTypeUint32Array:  common.ValueTypeUint32,
	common.ValueTypeUint64Array:  common.ValueTypeUint64,
	common.ValueTypeInt8Array:    common.ValueTypeInt8,
	common.ValueTypeInt16Array:   common.ValueTypeInt16,
	common.ValueTypeInt32Array:   common.ValueTypeInt32,
	common.ValueTypeInt64Array:   common.ValueTypeInt64,
	common.ValueTypeFloat32Array: common.ValueTypeFloat32,
	common.ValueTypeFloat64Array: common.ValueTypeFloat64,
}

// KnownType reports whether valueType is one the store can hold.
func KnownType(valueType string) bool {
	if _, ok := scalarTypes[valueType]; ok {
		return true
	}
	if _, ok := arrayTypes[valueType]; ok {
		return true
	}
	return valueType == common.ValueTypeBinary || valueType == common.ValueTypeObject
}

// Coerce converts v (as decoded from CBOR or YAML) into the Go type backing
// valueType. Strings are parsed for scalar types.
func Coerce(valueType string, v interface{}) (interface{}, error) {
	switch valueType {
	case common.ValueTypeObject:
		return v, nil
	case common.ValueTypeBinary:
		switch b := v.(type) {
		case []byte:
			return append([]byte(nil), b...), nil
		case string:
			return []byte(b), nil
		}
		return nil, fmt.Errorf("cannot use %T as %s", v, valueType)
	}
	if elem, ok := arrayTypes[valueType]; ok {
		return coerceArray(elem, v)
	}
	t, ok := scalarTypes[valueType]
	if !ok {
		return nil, fmt.Errorf("unsupported value type %q", valueType)
	}
	return coerceScalar(t, v)
}

func coerceArray(elemType string, v interface{}) (interface{}, error) {
	rv := reflect.ValueOf(v)
	if v == nil || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, fmt.Errorf("cannot use %T as %s array", v, elemType)
	}
	et := scalarTypes[elemType]
	out := reflect.MakeSlice(reflect.SliceOf(et), rv.Len(), rv.Len())
	for i := 0; i < rv.Len(); i++ {
		e, err := coerceScalar(et, rv.Index(i).Interface())
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out.Index(i).Set(reflect.ValueOf(e))
	}
	return out.Interface(), nil
}

func coerceScalar(t reflect.Type, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, fmt.Errorf("nil value for %s", t)
	}
	rv := reflect.ValueOf(v)
	switch t.Kind() {
	case reflect.Bool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			b, err := strconv.ParseBool(x)
			if err != nil {
				return nil, fmt.Errorf("parse bool from %q: %w", x, err)
			}
			return b, nil
		}
	case reflect.String:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		}
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := toInt64(rv)
		if err != nil {
			return nil, err
		}
		out := reflect.New(t).Elem()
		if out.OverflowInt(n) {
			return nil, fmt.Errorf("%d overflows %s", n, t)
		}
		out.SetInt(n)
		return out.Interface(), nil
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := toUint64(rv)
		if err != nil {
			return nil, err
		}
		out := reflect.New(t).Elem()
		if out.OverflowUint(n) {
			return nil, fmt.Errorf("%d overflows %s", n, t)
		}
		out.SetUint(n)
		return out.Interface(), nil
	case reflect.Float32, reflect.Float64:
		f, err := toFloat64(rv)
		if err != nil {
			return nil, err
		}
		if t.Kind() == reflect.Float32 {
			if !math.IsInf(f, 0) && math.Abs(f) > math.MaxFloat32 {
				return nil, fmt.Errorf("%g overflows float32", f)
			}
			return float32(f), nil
		}
		return f, nil
	}
	return nil, fmt.Errorf("cannot use %T as %s", v, t)
}

func toInt64(rv reflect.Value) (int64, error) {
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", u)
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f != math.Trunc(f) || f < math.MinInt64 || f > math.MaxInt64 {
			return 0, fmt.Errorf("%g is not an integer", f)
		}
		return int64(f), nil
	case reflect.String:
		n, err := strconv.ParseInt(rv.String(), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse integer from %q: %w", rv.String(), err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("cannot use %s as integer", rv.Type())
}

func toUint64(rv reflect.Value) (uint64, error) {
	switch rv.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := rv.Int()
		if n < 0 {
			return 0, fmt.Errorf("%d is negative", n)
		}
		return uint64(n), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f != math.Trunc(f) || f < 0 || f > math.MaxUint64 {
			return 0, fmt.Errorf("%g is not an unsigned integer", f)
		}
		return uint64(f), nil
	case reflect.String:
		n, err := strconv.ParseUint(rv.String(), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse unsigned integer from %q: %w", rv.String(), err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("cannot use %s as unsigned integer", rv.Type())
}

func toFloat64(rv reflect.Value) (float64, error) {
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	case reflect.String:
		f, err := strconv.ParseFloat(rv.String(), 64)
		if err != nil {
			return 0, fmt.Errorf("parse float from %q: %w", rv.String(), err)
		}
		return f, nil
	}
	return 0, fmt.Errorf("cannot use %s as float", rv.Type())
}

// zeroValue is the initial value for a property declared without one.
func zeroValue(valueType string) interface{} {
	switch valueType {
	case common.ValueTypeObject:
		return nil
	case common.ValueTypeBinary:
		return []byte{}
	}
	if elem, ok := arrayTypes[valueType]; ok {
		return reflect.MakeSlice(reflect.SliceOf(scalarTypes[elem]), 0, 0).Interface()
	}
	if t, ok := scalarTypes[valueType]; ok {
		return reflect.Zero(t).Interface()
	}
	return nil
}
