// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2025 YourCompany
//
// SPDX-License-Identifier: Apache-2.0

// Package registry defines the property/method capability the bridge exposes
// to remote peers, and provides an in-memory implementation backed by a YAML
// property sheet.
package registry

// Descriptor identifies one property. Ids are dense and stable for the
// lifetime of a loaded sheet.
type Descriptor struct {
	ID   uint8
	Name string
	Type string
}

// Handle identifies one change subscription.
type Handle uint64

// Registry is what the protocol engine needs from the property side.
// Calls are expected to be synchronous and fast.
type Registry interface {
	List() []Descriptor
	Property(id uint8) (Descriptor, bool)
	Lookup(name string) (Descriptor, bool)
	Write(name string, value interface{}) error
	// Invoke resolves id through the same table as properties.
	Invoke(id uint8, args []interface{}) error
	// Subscribe calls onChange after each write that changes the stored
	// value. A write of an equal value notifies nobody.
	Subscribe(id uint8, onChange func(value interface{})) (Handle, error)
	Unsubscribe(h Handle)
}
