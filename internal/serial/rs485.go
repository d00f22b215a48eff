// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2025 YourCompany
//
// SPDX-License-Identifier: Apache-2.0

package serial

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linjuya-lu/device_bridge_go/internal/config"
	"github.com/tarm/serial"
)

// RS485Port is a half-duplex line. The DE/RE GPIO is held low (receive)
// and raised only for the duration of a Write.
type RS485Port struct {
	cfg    config.Port
	port   atomic.Pointer[serial.Port]
	gpioFD atomic.Pointer[os.File]
	wmu    sync.Mutex
}

func NewRS485Port(cfg config.Port) Port {
	return &RS485Port{cfg: cfg}
}

func (r *RS485Port) Open() error {
	if err := exportGPIO(r.cfg.DEPin); err != nil {
		return fmt.Errorf("export GPIO %d: %w", r.cfg.DEPin, err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := setGPIODirection(r.cfg.DEPin, "out"); err != nil {
		return fmt.Errorf("set GPIO %d direction: %w", r.cfg.DEPin, err)
	}
	f, err := openGPIOValue(r.cfg.DEPin)
	if err != nil {
		return fmt.Errorf("open GPIO %d value: %w", r.cfg.DEPin, err)
	}
	if _, err := f.WriteString("0"); err != nil {
		f.Close()
		return fmt.Errorf("init GPIO %d low: %w", r.cfg.DEPin, err)
	}
	p, err := serial.OpenPort(tarmConfig(r.cfg))
	if err != nil {
		f.Close()
		return fmt.Errorf("open rs485 %s: %w", r.cfg.Device, err)
	}
	if old := r.gpioFD.Swap(f); old != nil {
		old.Close()
	}
	if old := r.port.Swap(p); old != nil {
		old.Close()
	}
	return nil
}

func (r *RS485Port) Close() error {
	var firstErr error
	if p := r.port.Swap(nil); p != nil {
		if err := p.Close(); err != nil {
			firstErr = err
		}
	}
	r.wmu.Lock()
	defer r.wmu.Unlock()
	if f := r.gpioFD.Swap(nil); f != nil {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *RS485Port) Read(p []byte) (int, error) {
	port := r.port.Load()
	if port == nil {
		return 0, ErrNotOpen
	}
	return port.Read(p)
}

// Write drives DE high, sends p, waits for the last bit to leave the
// transceiver, then drops back to receive.
func (r *RS485Port) Write(p []byte) (int, error) {
	r.wmu.Lock()
	defer r.wmu.Unlock()
	port, de := r.port.Load(), r.gpioFD.Load()
	if port == nil || de == nil {
		return 0, ErrNotOpen
	}
	if _, err := de.WriteString("1"); err != nil {
		return 0, fmt.Errorf("GPIO DE high: %w", err)
	}
	time.Sleep(5 * time.Millisecond)

	n, err := port.Write(p)
	if err != nil {
		de.WriteString("0")
		return n, fmt.Errorf("write %s: %w", r.cfg.Device, err)
	}
	time.Sleep(txTime(n, r.cfg.Baudrate))

	if _, err := de.WriteString("0"); err != nil {
		return n, fmt.Errorf("GPIO DE low: %w", err)
	}
	return n, nil
}

func (r *RS485Port) Name() string {
	if r.cfg.Name != "" {
		return r.cfg.Name
	}
	return r.cfg.Device
}

// txTime is the time n bytes take on the wire at 10 bits per byte.
func txTime(n, baud int) time.Duration {
	if baud <= 0 {
		return 0
	}
	return time.Duration(n*10) * time.Second / time.Duration(baud)
}

// sysfs GPIO helpers
func exportGPIO(pin int) error {
	f, err := os.OpenFile("/sys/class/gpio/export", os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	_, _ = f.WriteString(fmt.Sprint(pin)) // already exported is fine
	return nil
}

func setGPIODirection(pin int, dir string) error {
	path := fmt.Sprintf("/sys/class/gpio/gpio%d/direction", pin)
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(dir)
	return err
}

func openGPIOValue(pin int) (*os.File, error) {
	path := fmt.Sprintf("/sys/class/gpio/gpio%d/value", pin)
	return os.OpenFile(path, os.O_RDWR, 0)
}
