// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2025 YourCompany
//
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/errors"
)

// MethodFunc runs an invocable method.
type MethodFunc func(args []interface{}) error

type property struct {
	Descriptor
	readOnly bool
	value    interface{}
}

type subscription struct {
	id       uint8
	onChange func(value interface{})
}

// Store is an in-memory Registry. Properties and methods share one dense id
// table, assigned in declaration order.
type Store struct {
	mu      sync.RWMutex
	props   map[string]*property
	methods map[string]MethodFunc
	names   []string // id -> name
	subs    map[Handle]subscription
	next    Handle
}

var _ Registry = (*Store)(nil)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		props:   make(map[string]*property),
		methods: make(map[string]MethodFunc),
		subs:    make(map[Handle]subscription),
	}
}

func (s *Store) allocID(name string) (uint8, error) {
	if len(s.names) > 0xFF {
		return 0, errors.NewCommonEdgeX(errors.KindLimitExceeded, fmt.Sprintf("id table full, cannot add %q", name), nil)
	}
	if _, dup := s.props[name]; dup {
		return 0, errors.NewCommonEdgeX(errors.KindDuplicateName, fmt.Sprintf("%q already declared", name), nil)
	}
	if _, dup := s.methods[name]; dup {
		return 0, errors.NewCommonEdgeX(errors.KindDuplicateName, fmt.Sprintf("%q already declared", name), nil)
	}
	id := uint8(len(s.names))
	s.names = append(s.names, name)
	return id, nil
}

// AddProperty declares a property. A nil initial value means the zero value
// of valueType.
func (s *Store) AddProperty(name, valueType string, initial interface{}, readOnly bool) (Descriptor, error) {
	if !KnownType(valueType) {
		return Descriptor{}, errors.NewCommonEdgeX(errors.KindContractInvalid, fmt.Sprintf("property %q: unsupported type %q", name, valueType), nil)
	}
	v := zeroValue(valueType)
	if initial != nil {
		cv, err := Coerce(valueType, initial)
		if err != nil {
			return Descriptor{}, errors.NewCommonEdgeX(errors.KindContractInvalid, fmt.Sprintf("property %q initial value", name), err)
		}
		v = cv
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.allocID(name)
	if err != nil {
		return Descriptor{}, err
	}
	p := &property{
		Descriptor: Descriptor{ID: id, Name: name, Type: valueType},
		readOnly:   readOnly,
		value:      v,
	}
	s.props[name] = p
	return p.Descriptor, nil
}

// AddMethod declares a method and returns its id.
func (s *Store) AddMethod(name string, fn MethodFunc) (uint8, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.allocID(name)
	if err != nil {
		return 0, err
	}
	s.methods[name] = fn
	return id, nil
}

// HandleMethod replaces the body of a declared method, or declares it.
func (s *Store) HandleMethod(name string, fn MethodFunc) error {
	s.mu.Lock()
	if _, ok := s.methods[name]; ok {
		s.methods[name] = fn
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	_, err := s.AddMethod(name, fn)
	return err
}

func (s *Store) List() []Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Descriptor, 0, len(s.props))
	for _, p := range s.props {
		out = append(out, p.Descriptor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Property(id uint8) (Descriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if int(id) >= len(s.names) {
		return Descriptor{}, false
	}
	p, ok := s.props[s.names[id]]
	if !ok {
		return Descriptor{}, false
	}
	return p.Descriptor, true
}

func (s *Store) Lookup(name string) (Descriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.props[name]
	if !ok {
		return Descriptor{}, false
	}
	return p.Descriptor, true
}

// Get returns the current value of a property.
func (s *Store) Get(name string) (interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.props[name]
	if !ok {
		return nil, errors.NewCommonEdgeX(errors.KindEntityDoesNotExist, fmt.Sprintf("property %q not found", name), nil)
	}
	return p.value, nil
}

// Write coerces value to the declared type and stores it. Subscribers of the
// property are called synchronously, outside the store lock, when the stored
// value actually changes.
func (s *Store) Write(name string, value interface{}) error {
	s.mu.Lock()
	p, ok := s.props[name]
	if !ok {
		s.mu.Unlock()
		return errors.NewCommonEdgeX(errors.KindEntityDoesNotExist, fmt.Sprintf("property %q not found", name), nil)
	}
	if p.readOnly {
		s.mu.Unlock()
		return errors.NewCommonEdgeX(errors.KindNotAllowed, fmt.Sprintf("property %q is read-only", name), nil)
	}
	v, err := Coerce(p.Type, value)
	if err != nil {
		s.mu.Unlock()
		return errors.NewCommonEdgeX(errors.KindContractInvalid, fmt.Sprintf("invalid %s write for %q", p.Type, name), err)
	}
	if reflect.DeepEqual(p.value, v) {
		s.mu.Unlock()
		return nil
	}
	p.value = v
	callbacks := s.callbacksLocked(p.ID)
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn(v)
	}
	return nil
}

func (s *Store) callbacksLocked(id uint8) []func(interface{}) {
	var hs []Handle
	for h, sub := range s.subs {
		if sub.id == id {
			hs = append(hs, h)
		}
	}
	// subscription order
	sort.Slice(hs, func(i, j int) bool { return hs[i] < hs[j] })
	out := make([]func(interface{}), len(hs))
	for i, h := range hs {
		out[i] = s.subs[h].onChange
	}
	return out
}

func (s *Store) Invoke(id uint8, args []interface{}) error {
	s.mu.RLock()
	var fn MethodFunc
	var name string
	if int(id) < len(s.names) {
		name = s.names[id]
		fn = s.methods[name]
	}
	s.mu.RUnlock()
	if fn == nil {
		return errors.NewCommonEdgeX(errors.KindEntityDoesNotExist, fmt.Sprintf("no method with id %d", id), nil)
	}
	if err := fn(args); err != nil {
		return errors.NewCommonEdgeX(errors.KindServerError, fmt.Sprintf("method %q failed", name), err)
	}
	return nil
}

func (s *Store) Subscribe(id uint8, onChange func(value interface{})) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(id) >= len(s.names) {
		return 0, errors.NewCommonEdgeX(errors.KindEntityDoesNotExist, fmt.Sprintf("no property with id %d", id), nil)
	}
	if _, ok := s.props[s.names[id]]; !ok {
		return 0, errors.NewCommonEdgeX(errors.KindEntityDoesNotExist, fmt.Sprintf("id %d is not a property", id), nil)
	}
	s.next++
	s.subs[s.next] = subscription{id: id, onChange: onChange}
	return s.next, nil
}

func (s *Store) Unsubscribe(h Handle) {
	s.mu.Lock()
	delete(s.subs, h)
	s.mu.Unlock()
}

// Subscribers counts live subscriptions on a property id.
func (s *Store) Subscribers(id uint8) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, sub := range s.subs {
		if sub.id == id {
			n++
		}
	}
	return n
}
