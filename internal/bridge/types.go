// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2025 YourCompany
//
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"errors"
	"fmt"
	"time"

	"github.com/linjuya-lu/device_bridge_go/internal/metrics"
	"github.com/linjuya-lu/device_bridge_go/internal/serial"
)

var (
	ErrSerialNotConfigured = errors.New("bridge: serial port not configured")
	ErrTCPNotConfigured    = errors.New("bridge: tcp server not configured")
	ErrNotConnected        = errors.New("bridge: transport not connected")
	ErrHangup              = errors.New("bridge: serial line hung up")
	ErrClosed              = errors.New("bridge: manager closed")
)

// Kind identifies a transport.
type Kind int

const (
	Serial Kind = iota
	TCP
	MQTT
)

func (k Kind) String() string {
	switch k {
	case Serial:
		return "serial"
	case TCP:
		return "tcp"
	case MQTT:
		return "mqtt"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// State is the lifecycle of one connection. There is no reconnecting
// state: the heartbeat retries by going through Connecting again.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type EventKind int

const (
	// ClientsChanged carries the new TCP client count.
	ClientsChanged EventKind = iota
	// TCPStateChanged reports whether at least one TCP client is connected.
	TCPStateChanged
	SerialStateChanged
	// ErrorRaised carries a transport error, also kept as LastError.
	ErrorRaised
	// ConnectionLost fires when serial fails or the last TCP client leaves.
	ConnectionLost
)

func (k EventKind) String() string {
	switch k {
	case ClientsChanged:
		return "clients_changed"
	case TCPStateChanged:
		return "tcp_state_changed"
	case SerialStateChanged:
		return "serial_state_changed"
	case ErrorRaised:
		return "error"
	case ConnectionLost:
		return "connection_lost"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is a connectivity notification.
type Event struct {
	Kind      EventKind
	Transport Kind
	Clients   int
	Connected bool
	Err       error
}

// FrameHandler consumes decoded frames. Calls are serialized by the Manager.
type FrameHandler interface {
	HandleFrame(frame []byte)
}

// Sink is an extra outbound transport that receives every broadcast.
type Sink interface {
	Name() string
	Send(wire []byte) error
}

const DefaultWriteTimeout = 2 * time.Second

type Options struct {
	// Heartbeat is the tick interval used by Run. Default 5s.
	Heartbeat time.Duration
	// WriteTimeout bounds each TCP write, so a peer that stops reading is
	// dropped instead of stalling dispatch. Default 2s; negative disables it.
	WriteTimeout time.Duration
	// MaxFrame bounds every connection decoder. Zero means unbounded.
	MaxFrame int
	// Opener opens the serial port. Default serial.OpenPort.
	Opener  serial.Opener
	Metrics *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.Heartbeat <= 0 {
		o.Heartbeat = 5 * time.Second
	}
	if o.WriteTimeout == 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.Opener == nil {
		o.Opener = serial.OpenPort
	}
	return o
}
