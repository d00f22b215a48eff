// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2025 YourCompany
//
// SPDX-License-Identifier: Apache-2.0

// Package bridge owns the transports of a device bridge: one serial line,
// a TCP server with any number of clients, and optional extra sinks. Every
// connection has its own frame decoder; every outbound frame goes to all of
// them.
package bridge

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/google/uuid"

	"github.com/linjuya-lu/device_bridge_go/internal/config"
	"github.com/linjuya-lu/device_bridge_go/internal/protocol"
	"github.com/linjuya-lu/device_bridge_go/internal/slip"
)

type Manager struct {
	id   string
	opts Options
	lc   logger.LoggingClient

	// hmu serializes frame delivery to the handler across connections.
	hmu     sync.Mutex
	handler FrameHandler

	// smu serializes serial open/close so a reopen never races a replace.
	smu sync.Mutex

	mu          sync.Mutex
	closed      bool
	serialCfg   *config.Port
	serial      *serialLink
	serialState State
	ln          net.Listener
	tcpAddr     string
	conns       map[uint64]*tcpConn
	nextConn    uint64
	sinks       []Sink
	lastErr     error

	emu       sync.Mutex
	listeners []func(Event)

	wg sync.WaitGroup
}

func NewManager(lc logger.LoggingClient, opts Options) *Manager {
	return &Manager{
		id:    uuid.NewString(),
		opts:  opts.withDefaults(),
		lc:    lc,
		conns: make(map[uint64]*tcpConn),
	}
}

// ID identifies this manager instance in logs.
func (m *Manager) ID() string { return m.id }

// SetHandler installs the consumer of decoded frames.
func (m *Manager) SetHandler(h FrameHandler) {
	m.hmu.Lock()
	m.handler = h
	m.hmu.Unlock()
}

// OnEvent registers a notification listener. Listeners run on the goroutine
// that caused the event and must not block.
func (m *Manager) OnEvent(fn func(Event)) {
	m.emu.Lock()
	m.listeners = append(m.listeners, fn)
	m.emu.Unlock()
}

func (m *Manager) emit(events ...Event) {
	if len(events) == 0 {
		return
	}
	m.emu.Lock()
	ls := append([]func(Event){}, m.listeners...)
	m.emu.Unlock()
	for _, ev := range events {
		for _, fn := range ls {
			fn(ev)
		}
	}
}

// fail records err as the last error and raises an error notification.
func (m *Manager) fail(kind Kind, err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
	m.opts.Metrics.Failure(kind.String())
	m.emit(Event{Kind: ErrorRaised, Transport: kind, Err: err})
}

func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// feed runs data through one connection's decoder and dispatches every
// completed frame.
func (m *Manager) feed(dec *slip.Decoder, kind Kind, data []byte) {
	before := dec.Discarded()
	dec.Feed(data, func(frame []byte) {
		m.opts.Metrics.Decoded(kind.String())
		m.lc.Tracef("%s frame received: % X", kind, frame)
		m.dispatch(frame)
	})
	if n := dec.Discarded() - before; n > 0 {
		m.opts.Metrics.Discarded(kind.String(), n)
		m.lc.Warnf("%s: discarded %d partial frame(s): %v", kind, n, dec.Err())
	}
}

func (m *Manager) dispatch(frame []byte) {
	m.hmu.Lock()
	defer m.hmu.Unlock()
	if m.handler == nil {
		m.lc.Debug("no frame handler installed, dropping frame")
		return
	}
	m.handler.HandleFrame(frame)
}

// Broadcast writes one wire frame to the serial line, every connected TCP
// client and every sink. Failed connections are dropped, never retried.
func (m *Manager) Broadcast(wire []byte) {
	m.mu.Lock()
	link := m.serial
	conns := m.snapshotLocked()
	sinks := append([]Sink{}, m.sinks...)
	m.mu.Unlock()

	if link != nil {
		m.writeSerial(link, wire)
	}
	for _, c := range conns {
		m.writeTCP(c, wire)
	}
	for _, s := range sinks {
		if err := s.Send(wire); err != nil {
			m.lc.Warnf("sink %s: %v", s.Name(), err)
			m.fail(MQTT, err)
			continue
		}
		m.opts.Metrics.Sent(s.Name(), len(wire))
	}
}

// AttachSink adds an outbound transport and returns the function its inbound
// side feeds received bytes to. The returned function owns a private
// decoder.
func (m *Manager) AttachSink(s Sink) func(data []byte) {
	m.mu.Lock()
	m.sinks = append(m.sinks, s)
	m.mu.Unlock()
	m.lc.Infof("sink %s attached", s.Name())

	dec := slip.NewDecoder(m.opts.MaxFrame)
	var mu sync.Mutex
	return func(data []byte) {
		mu.Lock()
		defer mu.Unlock()
		m.feed(dec, MQTT, data)
	}
}

// Tick runs one heartbeat: reopen serial if it is configured but closed,
// prune dead TCP clients, then send a heartbeat frame to TCP clients only.
func (m *Manager) Tick() {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return
	}

	m.retrySerial()
	m.prune()
	n := m.SendToTCP(slip.Encode(protocol.HeartbeatFrame()))
	m.lc.Tracef("heartbeat sent to %d client(s)", n)
}

// Run ticks every Options.Heartbeat until ctx is done, then closes the
// manager.
func (m *Manager) Run(ctx context.Context) error {
	t := time.NewTicker(m.opts.Heartbeat)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			m.Close()
			return nil
		case <-t.C:
			m.Tick()
		}
	}
}

// Close stops every transport and waits for the reader goroutines. It is
// safe to call more than once.
func (m *Manager) Close() {
	m.smu.Lock()
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.smu.Unlock()
		return
	}
	m.closed = true
	ln := m.ln
	m.ln = nil
	link := m.serial
	m.serial = nil
	m.serialState = Disconnected
	conns := m.conns
	m.conns = make(map[uint64]*tcpConn)
	m.mu.Unlock()
	m.smu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for _, c := range conns {
		c.close()
	}
	if link != nil {
		link.close()
	}
	m.wg.Wait()
	m.opts.Metrics.Clients(0)
	m.opts.Metrics.Serial(false)
	m.lc.Infof("bridge %s closed", m.id)
}
