// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2025 YourCompany
//
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"sort"

	"github.com/linjuya-lu/device_bridge_go/internal/registry"
)

type watchSet struct {
	ids     map[uint8]struct{}
	handles map[uint8]registry.Handle
}

func newWatchSet() watchSet {
	return watchSet{
		ids:     make(map[uint8]struct{}),
		handles: make(map[uint8]registry.Handle),
	}
}

func (w watchSet) sortedIDs() []uint8 {
	out := make([]uint8, 0, len(w.ids))
	for id := range w.ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// clearWatch must be called with d.mu held.
func (d *Dispatcher) clearWatch() {
	for id, h := range d.watch.handles {
		d.reg.Unsubscribe(h)
		delete(d.watch.handles, id)
	}
	for id := range d.watch.ids {
		delete(d.watch.ids, id)
	}
}

// replaceWatch drops every subscription before installing the new set.
func (d *Dispatcher) replaceWatch(ids []uint8) {
	d.clearWatch()
	for _, id := range ids {
		d.watch.ids[id] = struct{}{}
		if _, live := d.watch.handles[id]; live {
			continue
		}
		if _, ok := d.reg.Property(id); !ok {
			d.lc.Debugf("watch_property: id %d has no property, recorded without subscription", id)
			continue
		}
		h, err := d.reg.Subscribe(id, d.changeHandler(id))
		if err != nil {
			d.lc.Warnf("watch_property: subscribe %d: %v", id, err)
			continue
		}
		d.watch.handles[id] = h
	}
	d.lc.Debugf("watching %v", d.watch.sortedIDs())
}

// changeHandler runs on the registry's notification path. It does not take
// d.mu, so writes made while dispatching can notify synchronously.
func (d *Dispatcher) changeHandler(id uint8) func(interface{}) {
	return func(value interface{}) {
		frame, err := PropertyChangeFrame(id, value)
		if err != nil {
			d.lc.Errorf("property change %d: %v", id, err)
			return
		}
		d.m.Change()
		d.send(frame)
	}
}
