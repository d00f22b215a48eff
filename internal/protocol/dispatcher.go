// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2025 YourCompany
//
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"errors"
	"sort"
	"sync"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"

	"github.com/linjuya-lu/device_bridge_go/internal/metrics"
	"github.com/linjuya-lu/device_bridge_go/internal/registry"
	"github.com/linjuya-lu/device_bridge_go/internal/slip"
)

// Broadcaster delivers one encoded wire frame to every open connection.
type Broadcaster interface {
	Broadcast(wire []byte)
}

// Dispatcher executes commands against a Registry. It owns the single watch
// set shared by all connections. HandleFrame calls are serialized.
type Dispatcher struct {
	reg registry.Registry
	out Broadcaster
	lc  logger.LoggingClient
	m   *metrics.Metrics

	mu    sync.Mutex
	watch watchSet
}

func NewDispatcher(reg registry.Registry, out Broadcaster, lc logger.LoggingClient, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		reg:   reg,
		out:   out,
		lc:    lc,
		m:     m,
		watch: newWatchSet(),
	}
}

// HandleFrame dispatches one decoded frame. Every failure is local: the
// command is logged and dropped.
func (d *Dispatcher) HandleFrame(frame []byte) {
	cmd, err := Parse(frame)
	if err != nil {
		d.lc.Warnf("dropping frame % X: %v", frame, err)
		if errors.Is(err, ErrEmptyFrame) {
			d.m.Dropped("empty")
		} else {
			d.m.Dropped("malformed")
		}
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch c := cmd.(type) {
	case GetPropertyList:
		d.m.Command(c.Tag().String())
		d.SendPropertyList()
	case SetProperty:
		d.m.Command(c.Tag().String())
		d.setProperties(c.Values)
	case InvokeMethod:
		d.m.Command(c.Tag().String())
		d.invoke(c)
	case WatchProperty:
		d.m.Command(c.Tag().String())
		d.replaceWatch(c.IDs)
	case Heartbeat:
		d.m.Command(c.Tag().String())
		d.lc.Trace("heartbeat received")
	case Unknown:
		d.lc.Warnf("dropping command with unknown tag 0x%02X", byte(c.Code))
		d.m.Dropped("unknown_tag")
	}
}

// SendPropertyList broadcasts the 0x80 response built from the registry.
func (d *Dispatcher) SendPropertyList() {
	frame, err := PropertyListFrame(d.reg.List())
	if err != nil {
		d.lc.Errorf("build property list: %v", err)
		return
	}
	d.send(frame)
}

func (d *Dispatcher) setProperties(values map[string]interface{}) {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := d.reg.Lookup(name); !ok {
			d.lc.Warnf("set_property: unknown property %q", name)
			d.m.Dropped("unknown_property")
			continue
		}
		if err := d.reg.Write(name, values[name]); err != nil {
			d.lc.Errorf("set_property %q: %v", name, err)
			d.m.Dropped("write_failed")
			continue
		}
		d.lc.Debugf("property updated: %s = %v", name, values[name])
	}
}

func (d *Dispatcher) invoke(c InvokeMethod) {
	args := c.Args
	// only the first argument is forwarded
	if len(args) > 1 {
		d.lc.Debugf("invoke_method %d: ignoring %d extra arguments", c.ID, len(args)-1)
		args = args[:1]
	}
	if err := d.reg.Invoke(c.ID, args); err != nil {
		d.lc.Warnf("invoke_method %d: %v", c.ID, err)
		d.m.Dropped("invoke_failed")
		return
	}
	d.lc.Debugf("method %d invoked", c.ID)
}

func (d *Dispatcher) send(frame []byte) {
	d.lc.Tracef("send %s: % X", Tag(frame[0]), frame)
	d.out.Broadcast(slip.Encode(frame))
}

// Watched returns the ids recorded by the last WatchProperty command,
// including ids that had no property to subscribe to.
func (d *Dispatcher) Watched() []uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.watch.sortedIDs()
}

// Close tears down every live subscription.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clearWatch()
}
