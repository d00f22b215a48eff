// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2025 YourCompany
//
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/linjuya-lu/device_bridge_go/internal/config"
	"github.com/linjuya-lu/device_bridge_go/internal/slip"
)

// tcpConn is one accepted client. Its decoder is only touched by its own
// reader goroutine.
type tcpConn struct {
	id    uint64
	c     net.Conn
	dec   *slip.Decoder
	wmu   sync.Mutex
	state State // guarded by Manager.mu
	once  sync.Once
}

func (c *tcpConn) close() {
	c.once.Do(func() { c.c.Close() })
}

func (c *tcpConn) write(b []byte, timeout time.Duration) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if timeout > 0 {
		c.c.SetWriteDeadline(time.Now().Add(timeout))
	}
	_, err := c.c.Write(b)
	return err
}

// ListenTCP starts the TCP server, replacing a previous listener. addr may
// be a bare port number.
func (m *Manager) ListenTCP(addr string) error {
	addr = config.ListenAddr(addr)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	old := m.ln
	m.ln = nil
	m.tcpAddr = addr
	m.mu.Unlock()
	if old != nil {
		old.Close()
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		err = fmt.Errorf("listen %s: %w", addr, err)
		m.lc.Errorf("%v", err)
		m.fail(TCP, err)
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		ln.Close()
		return ErrClosed
	}
	m.ln = ln
	m.wg.Add(1)
	m.mu.Unlock()

	go m.acceptLoop(ln)
	m.lc.Infof("tcp server listening on %s (bridge %s)", ln.Addr(), m.id)
	return nil
}

// ReconnectTCP restarts the listener on the last address. Connected clients
// are kept.
func (m *Manager) ReconnectTCP() error {
	m.mu.Lock()
	addr := m.tcpAddr
	m.mu.Unlock()
	if addr == "" {
		return ErrTCPNotConfigured
	}
	return m.ListenTCP(addr)
}

// Addr returns the listening address, or nil when no server is running.
func (m *Manager) Addr() net.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ln == nil {
		return nil
	}
	return m.ln.Addr()
}

func (m *Manager) ConnectedClients() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

func (m *Manager) IsTCPConnected() bool {
	return m.ConnectedClients() > 0
}

// SendToTCP writes one wire frame to every connected TCP client and returns
// how many accepted it.
func (m *Manager) SendToTCP(wire []byte) int {
	m.mu.Lock()
	conns := m.snapshotLocked()
	m.mu.Unlock()

	sent := 0
	for _, c := range conns {
		if m.writeTCP(c, wire) == nil {
			sent++
		}
	}
	return sent
}

func (m *Manager) acceptLoop(ln net.Listener) {
	defer m.wg.Done()
	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			err = fmt.Errorf("accept: %w", err)
			m.lc.Warnf("%v", err)
			m.fail(TCP, err)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		m.addConn(c)
	}
}

func (m *Manager) addConn(c net.Conn) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		c.Close()
		return
	}
	m.nextConn++
	tc := &tcpConn{
		id:    m.nextConn,
		c:     c,
		dec:   slip.NewDecoder(m.opts.MaxFrame),
		state: Connected,
	}
	m.conns[tc.id] = tc
	n := len(m.conns)
	m.wg.Add(1)
	m.mu.Unlock()

	m.lc.Infof("tcp client %d connected from %s", tc.id, c.RemoteAddr())
	m.opts.Metrics.Clients(n)
	events := []Event{{Kind: ClientsChanged, Transport: TCP, Clients: n, Connected: true}}
	if n == 1 {
		events = append(events, Event{Kind: TCPStateChanged, Transport: TCP, Clients: n, Connected: true})
	}
	m.emit(events...)

	go m.readTCP(tc)
}

func (m *Manager) readTCP(c *tcpConn) {
	defer m.wg.Done()
	buf := make([]byte, 4096)
	for {
		n, err := c.c.Read(buf)
		if n > 0 {
			m.feed(c.dec, TCP, buf[:n])
		}
		if err != nil {
			m.dropConn(c, err)
			return
		}
	}
}

func (m *Manager) writeTCP(c *tcpConn, wire []byte) error {
	if err := c.write(wire, m.opts.WriteTimeout); err != nil {
		m.lc.Warnf("tcp client %d write: %v", c.id, err)
		m.opts.Metrics.Failure(TCP.String())
		m.mu.Lock()
		c.state = Disconnected
		m.mu.Unlock()
		// the reader sees the close and removes the connection
		c.close()
		return err
	}
	m.opts.Metrics.Sent(TCP.String(), len(wire))
	return nil
}

// dropConn removes c immediately on disconnect. Its decoder goes with it.
func (m *Manager) dropConn(c *tcpConn, cause error) {
	m.mu.Lock()
	if _, ok := m.conns[c.id]; !ok {
		m.mu.Unlock()
		c.close()
		return
	}
	delete(m.conns, c.id)
	c.state = Disconnected
	n := len(m.conns)
	m.mu.Unlock()

	c.close()
	m.lc.Infof("tcp client %d disconnected: %v", c.id, cause)
	m.clientsChanged(n, 1)
}

// prune removes clients that are no longer connected.
func (m *Manager) prune() {
	m.mu.Lock()
	var dead []*tcpConn
	for id, c := range m.conns {
		if c.state != Connected {
			dead = append(dead, c)
			delete(m.conns, id)
		}
	}
	n := len(m.conns)
	m.mu.Unlock()

	if len(dead) == 0 {
		return
	}
	for _, c := range dead {
		c.close()
		m.lc.Infof("tcp client %d pruned", c.id)
	}
	m.clientsChanged(n, len(dead))
}

func (m *Manager) clientsChanged(n, removed int) {
	m.opts.Metrics.Clients(n)
	events := []Event{{Kind: ClientsChanged, Transport: TCP, Clients: n, Connected: n > 0}}
	if n == 0 && removed > 0 {
		events = append(events,
			Event{Kind: TCPStateChanged, Transport: TCP},
			Event{Kind: ConnectionLost, Transport: TCP},
		)
	}
	m.emit(events...)
}

// snapshotLocked returns the live clients ordered by id.
func (m *Manager) snapshotLocked() []*tcpConn {
	out := make([]*tcpConn, 0, len(m.conns))
	for _, c := range m.conns {
		if c.state == Connected {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}
