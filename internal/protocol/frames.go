// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2025 YourCompany
//
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/linjuya-lu/device_bridge_go/internal/registry"
)

var (
	// canonical encoding keeps map order stable, so the same event is
	// byte-identical on every transport and across runs
	encMode = mustEncMode()
	decMode = mustDecMode()
)

func mustEncMode() cbor.EncMode {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}

func mustDecMode() cbor.DecMode {
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}

// PropertyEntry is one value of the PropertyList map.
type PropertyEntry struct {
	ID   uint8  `cbor:"id"`
	Type string `cbor:"type"`
}

// PropertyChangeBody is the PropertyChange payload.
type PropertyChangeBody struct {
	ID    uint8       `cbor:"id"`
	Value interface{} `cbor:"value"`
}

func build(tag Tag, body []byte) []byte {
	out := make([]byte, 0, 1+len(body))
	out = append(out, byte(tag))
	return append(out, body...)
}

func buildCBOR(tag Tag, v interface{}) ([]byte, error) {
	body, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", tag, err)
	}
	return build(tag, body), nil
}

// PropertyListFrame builds the 0x80 response for the given descriptors.
func PropertyListFrame(list []registry.Descriptor) ([]byte, error) {
	m := make(map[string]PropertyEntry, len(list))
	for _, d := range list {
		m[d.Name] = PropertyEntry{ID: d.ID, Type: d.Type}
	}
	return buildCBOR(TagPropertyList, m)
}

// PropertyChangeFrame builds the 0x81 event for one property.
func PropertyChangeFrame(id uint8, value interface{}) ([]byte, error) {
	return buildCBOR(TagPropertyChange, PropertyChangeBody{ID: id, Value: value})
}

// HeartbeatFrame is the bare 0xFF frame.
func HeartbeatFrame() []byte {
	return []byte{byte(TagHeartbeat)}
}

// The builders below produce request frames, as a peer would send them.

func GetPropertyListFrame() []byte {
	return []byte{byte(TagGetPropertyList)}
}

func SetPropertyFrame(values map[string]interface{}) ([]byte, error) {
	return buildCBOR(TagSetProperty, values)
}

func InvokeMethodFrame(id uint8, args ...interface{}) ([]byte, error) {
	if len(args) == 0 {
		return []byte{byte(TagInvokeMethod), id}, nil
	}
	body, err := encMode.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", TagInvokeMethod, err)
	}
	return append([]byte{byte(TagInvokeMethod), id}, body...), nil
}

func WatchPropertyFrame(ids ...uint8) ([]byte, error) {
	nums := make([]uint64, len(ids))
	for i, id := range ids {
		nums[i] = uint64(id)
	}
	return buildCBOR(TagWatchProperty, nums)
}
