// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2025 YourCompany
//
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/linjuya-lu/device_bridge_go/internal/config"
	"github.com/linjuya-lu/device_bridge_go/internal/serial"
	"github.com/linjuya-lu/device_bridge_go/internal/slip"
)

// maxEmptyReads is how many back-to-back empty reads returning well before
// the read timeout mark the line as hung up.
const maxEmptyReads = 8

type serialLink struct {
	port    serial.Port
	timeout time.Duration
	dec     *slip.Decoder
	done    chan struct{}
	once    sync.Once
	wmu     sync.Mutex
}

func (l *serialLink) close() {
	l.once.Do(func() {
		close(l.done)
		l.port.Close()
	})
}

func (l *serialLink) closing() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

func (l *serialLink) write(b []byte) error {
	l.wmu.Lock()
	defer l.wmu.Unlock()
	_, err := l.port.Write(b)
	return err
}

// OpenSerial remembers cfg as the serial configuration and opens it,
// replacing any open serial line. A failed open is recorded and reported;
// the heartbeat keeps retrying with the same configuration.
func (m *Manager) OpenSerial(cfg config.Port) error {
	m.smu.Lock()
	defer m.smu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	c := cfg
	m.serialCfg = &c
	old := m.serial
	m.serial = nil
	m.mu.Unlock()

	if old != nil {
		old.close()
		m.lc.Infof("serial %s replaced", old.port.Name())
	}
	return m.openSerialLocked()
}

// CloseSerial closes the serial line but keeps its configuration, so the
// next heartbeat reopens it.
func (m *Manager) CloseSerial() {
	m.smu.Lock()
	defer m.smu.Unlock()

	m.mu.Lock()
	link := m.serial
	m.serial = nil
	m.serialState = Disconnected
	m.mu.Unlock()
	if link == nil {
		return
	}
	link.close()
	m.opts.Metrics.Serial(false)
	m.lc.Infof("serial %s closed", link.port.Name())
	m.emit(Event{Kind: SerialStateChanged, Transport: Serial})
}

// ReconnectSerial closes the serial line and opens it again with the last
// configuration.
func (m *Manager) ReconnectSerial() error {
	m.smu.Lock()
	defer m.smu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.serialCfg == nil {
		m.mu.Unlock()
		return ErrSerialNotConfigured
	}
	link := m.serial
	m.serial = nil
	m.mu.Unlock()

	if link != nil {
		link.close()
	}
	return m.openSerialLocked()
}

func (m *Manager) IsSerialConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.serial != nil
}

func (m *Manager) SerialState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.serialState
}

// SendToSerial writes one wire frame to the serial line only.
func (m *Manager) SendToSerial(wire []byte) error {
	m.mu.Lock()
	link := m.serial
	m.mu.Unlock()
	if link == nil {
		return fmt.Errorf("serial: %w", ErrNotConnected)
	}
	return m.writeSerial(link, wire)
}

// retrySerial makes at most one reopen attempt when serial is configured
// but not open.
func (m *Manager) retrySerial() {
	m.smu.Lock()
	defer m.smu.Unlock()

	m.mu.Lock()
	need := !m.closed && m.serialCfg != nil && m.serial == nil
	m.mu.Unlock()
	if !need {
		return
	}
	m.opts.Metrics.Reconnect()
	if err := m.openSerialLocked(); err != nil {
		m.lc.Debugf("serial reconnect failed: %v", err)
	}
}

// openSerialLocked must be called with m.smu held.
func (m *Manager) openSerialLocked() error {
	m.mu.Lock()
	cfg := *m.serialCfg
	m.serialState = Connecting
	m.mu.Unlock()

	port, err := m.opts.Opener(cfg)
	if err != nil {
		m.mu.Lock()
		m.serialState = Disconnected
		m.mu.Unlock()
		err = fmt.Errorf("open serial %s @%d: %w", cfg.Device, cfg.Baudrate, err)
		m.lc.Errorf("%v", err)
		m.fail(Serial, err)
		return err
	}

	link := &serialLink{
		port:    port,
		timeout: cfg.ReadTimeout(),
		dec:     slip.NewDecoder(m.opts.MaxFrame),
		done:    make(chan struct{}),
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		port.Close()
		return ErrClosed
	}
	m.serial = link
	m.serialState = Connected
	m.wg.Add(1)
	m.mu.Unlock()

	m.opts.Metrics.Serial(true)
	m.lc.Infof("serial %s open at %d baud (bridge %s)", port.Name(), cfg.Baudrate, m.id)
	m.emit(Event{Kind: SerialStateChanged, Transport: Serial, Connected: true})
	// the reader starts after the open notification, so any loss follows it
	go m.readSerial(link)
	return nil
}

func (m *Manager) readSerial(l *serialLink) {
	defer m.wg.Done()
	buf := make([]byte, 4096)
	empty := 0
	for {
		start := time.Now()
		n, err := l.port.Read(buf)
		if n > 0 {
			m.feed(l.dec, Serial, buf[:n])
		}
		if l.closing() {
			return
		}
		if err != nil && !errors.Is(err, io.EOF) {
			m.serialLost(l, err)
			return
		}
		if n > 0 {
			empty = 0
			continue
		}
		// an empty read that waited out the read timeout is just an idle
		// line; a hung-up tty returns io.EOF at once, every time
		if l.timeout > 0 && time.Since(start) >= l.timeout/2 {
			empty = 0
			continue
		}
		empty++
		if empty >= maxEmptyReads {
			m.serialLost(l, fmt.Errorf("%w after %d empty reads", ErrHangup, empty))
			return
		}
	}
}

func (m *Manager) writeSerial(l *serialLink, wire []byte) error {
	if err := l.write(wire); err != nil {
		m.serialLost(l, err)
		return err
	}
	m.opts.Metrics.Sent(Serial.String(), len(wire))
	return nil
}

// serialLost tears down l after a transport failure. The configuration is
// kept, so the heartbeat will reopen the line.
func (m *Manager) serialLost(l *serialLink, err error) {
	m.mu.Lock()
	if m.serial != l {
		m.mu.Unlock()
		return
	}
	m.serial = nil
	m.serialState = Disconnected
	m.mu.Unlock()

	l.close()
	m.opts.Metrics.Serial(false)
	err = fmt.Errorf("serial %s: %w", l.port.Name(), err)
	m.lc.Errorf("%v", err)
	m.emit(
		Event{Kind: SerialStateChanged, Transport: Serial},
		Event{Kind: ConnectionLost, Transport: Serial, Err: err},
	)
	m.fail(Serial, err)
}
