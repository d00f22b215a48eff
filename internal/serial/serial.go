// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2025 YourCompany
//
// SPDX-License-Identifier: Apache-2.0

// Package serial gives uniform byte access to UART, RS-232 and RS-485 lines.
package serial

import (
	"errors"
	"fmt"
	"sort"

	"go.bug.st/serial/enumerator"

	"github.com/linjuya-lu/device_bridge_go/internal/config"
)

var ErrNotOpen = errors.New("serial: port not open")

// Port is a raw full-duplex serial line.
type Port interface {
	Open() error
	Close() error
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Name() string
}

// Opener creates and opens a port from its configuration.
type Opener func(cfg config.Port) (Port, error)

// NewPort builds the implementation matching cfg.Type without opening it.
func NewPort(cfg config.Port) (Port, error) {
	switch cfg.Type {
	case "", "uart", "rs232":
		return NewUARTPort(cfg), nil
	case "rs485":
		return NewRS485Port(cfg), nil
	default:
		return nil, fmt.Errorf("unknown port type %s", cfg.Type)
	}
}

// OpenPort is the default Opener.
func OpenPort(cfg config.Port) (Port, error) {
	p, err := NewPort(cfg)
	if err != nil {
		return nil, err
	}
	if err := p.Open(); err != nil {
		return nil, err
	}
	return p, nil
}

// PortInfo describes one serial device found on the host.
type PortInfo struct {
	Name    string
	USB     bool
	VID     string
	PID     string
	Serial  string
	Product string
}

var enumerate = enumerator.GetDetailedPortsList

// ListPorts returns the serial devices present on this host, sorted by name.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerate()
	if err != nil {
		return nil, fmt.Errorf("list ports: %w", err)
	}
	out := make([]PortInfo, 0, len(details))
	for _, d := range details {
		out = append(out, PortInfo{
			Name:    d.Name,
			USB:     d.IsUSB,
			VID:     d.VID,
			PID:     d.PID,
			Serial:  d.SerialNumber,
			Product: d.Product,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
