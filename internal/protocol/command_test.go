// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2025 YourCompany
//
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"errors"
	"reflect"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func TestParse(t *testing.T) {
	set, _ := SetPropertyFrame(map[string]interface{}{"a": uint64(1)})
	inv, _ := InvokeMethodFrame(9, "x")
	watch, _ := WatchPropertyFrame(1, 2)
	rawIDs, _ := cbor.Marshal([]byte{3, 4})

	tests := []struct {
		name  string
		frame []byte
		want  Command
	}{
		{"get list", []byte{0x00}, GetPropertyList{}},
		{"get list ignores body", []byte{0x00, 0x01}, GetPropertyList{}},
		{"set", set, SetProperty{Values: map[string]interface{}{"a": uint64(1)}}},
		{"invoke", inv, InvokeMethod{ID: 9, Args: []interface{}{"x"}}},
		{"invoke no args", []byte{0x05, 0x02}, InvokeMethod{ID: 2}},
		{"watch", watch, WatchProperty{IDs: []uint8{1, 2}}},
		{"watch byte string", append([]byte{0x20}, rawIDs...), WatchProperty{IDs: []uint8{3, 4}}},
		{"heartbeat", []byte{0xFF}, Heartbeat{}},
		{"unknown", []byte{0x7F}, Unknown{Code: 0x7F}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse(tc.frame)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got=%#v want=%#v", got, tc.want)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	big, _ := cbor.Marshal([]uint64{1, 300})
	tests := []struct {
		name  string
		frame []byte
		want  error
	}{
		{"empty", nil, ErrEmptyFrame},
		{"set without body", []byte{0x10}, ErrMalformedPayload},
		{"set not a map", []byte{0x10, 0x01}, ErrMalformedPayload},
		{"invoke without id", []byte{0x05}, ErrMalformedPayload},
		{"invoke bad args", []byte{0x05, 0x01, 0xFF}, ErrMalformedPayload},
		{"watch out of range", append([]byte{0x20}, big...), ErrMalformedPayload},
		{"watch without body", []byte{0x20}, ErrMalformedPayload},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.frame)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestTagString(t *testing.T) {
	if TagWatchProperty.String() != "watch_property" {
		t.Fatalf("unexpected name %q", TagWatchProperty.String())
	}
	if Tag(0x42).String() != "unknown(0x42)" {
		t.Fatalf("unexpected name %q", Tag(0x42).String())
	}
}
