// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2025 YourCompany
//
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"reflect"
	"testing"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/common"
)

func TestCoerce(t *testing.T) {
	tests := []struct {
		typ  string
		in   interface{}
		want interface{}
	}{
		{common.ValueTypeBool, true, true},
		{common.ValueTypeBool, "false", false},
		{common.ValueTypeString, []byte("hi"), "hi"},
		{common.ValueTypeInt8, int64(-5), int8(-5)},
		{common.ValueTypeInt64, uint64(1 << 40), int64(1 << 40)},
		{common.ValueTypeUint32, "4000000000", uint32(4000000000)},
		{common.ValueTypeFloat32, uint64(3), float32(3)},
		{common.ValueTypeFloat64, float32(0.5), float64(0.5)},
		{common.ValueTypeBinary, "ab", []byte("ab")},
		{common.ValueTypeUint8Array, []interface{}{uint64(1), int64(2)}, []uint8{1, 2}},
		{common.ValueTypeStringArray, []interface{}{"a", "b"}, []string{"a", "b"}},
		{common.ValueTypeFloat64Array, []float64{1, 2}, []float64{1, 2}},
		{common.ValueTypeObject, map[string]interface{}{"k": 1}, map[string]interface{}{"k": 1}},
	}
	for _, tc := range tests {
		got, err := Coerce(tc.typ, tc.in)
		if err != nil {
			t.Fatalf("%s(%#v): %v", tc.typ, tc.in, err)
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("%s(%#v): got=%#v want=%#v", tc.typ, tc.in, got, tc.want)
		}
	}
}

func TestCoerceRejects(t *testing.T) {
	tests := []struct {
		typ string
		in  interface{}
	}{
		{common.ValueTypeBool, 1},
		{common.ValueTypeInt8, 128},
		{common.ValueTypeUint8, -1},
		{common.ValueTypeFloat32, 1e300},
		{common.ValueTypeInt32Array, []interface{}{"x"}},
		{common.ValueTypeString, nil},
		{"Mystery", 1},
	}
	for _, tc := range tests {
		if _, err := Coerce(tc.typ, tc.in); err == nil {
			t.Fatalf("%s(%#v): expected error", tc.typ, tc.in)
		}
	}
}
