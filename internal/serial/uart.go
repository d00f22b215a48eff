// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2025 YourCompany
//
// SPDX-License-Identifier: Apache-2.0

package serial

import (
	"fmt"
	"sync/atomic"

	"github.com/linjuya-lu/device_bridge_go/internal/config"
	"github.com/tarm/serial"
)

// UARTPort is a plain full-duplex line, used for both UART and RS-232.
// Close may run while another goroutine is blocked in Read.
type UARTPort struct {
	cfg    config.Port
	handle atomic.Pointer[serial.Port]
}

func NewUARTPort(cfg config.Port) Port {
	return &UARTPort{cfg: cfg}
}

func (u *UARTPort) Open() error {
	p, err := serial.OpenPort(tarmConfig(u.cfg))
	if err != nil {
		return fmt.Errorf("open %s %s: %w", u.cfg.Type, u.cfg.Device, err)
	}
	if old := u.handle.Swap(p); old != nil {
		old.Close()
	}
	return nil
}

func (u *UARTPort) Close() error {
	if h := u.handle.Swap(nil); h != nil {
		return h.Close()
	}
	return nil
}

// Read returns (0, io.EOF) both when the read timeout expires with no data
// and when the line has been hung up. Callers tell them apart by timing.
func (u *UARTPort) Read(p []byte) (int, error) {
	h := u.handle.Load()
	if h == nil {
		return 0, ErrNotOpen
	}
	return h.Read(p)
}

func (u *UARTPort) Write(p []byte) (int, error) {
	h := u.handle.Load()
	if h == nil {
		return 0, ErrNotOpen
	}
	n, err := h.Write(p)
	if err != nil {
		return n, fmt.Errorf("write %s: %w", u.cfg.Device, err)
	}
	return n, nil
}

func (u *UARTPort) Name() string {
	if u.cfg.Name != "" {
		return u.cfg.Name
	}
	return u.cfg.Device
}

func tarmConfig(cfg config.Port) *serial.Config {
	return &serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baudrate,
		ReadTimeout: cfg.ReadTimeout(),
	}
}
