// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2025 YourCompany
//
// SPDX-License-Identifier: Apache-2.0

package serial

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"go.bug.st/serial/enumerator"

	"github.com/linjuya-lu/device_bridge_go/internal/config"
)

func TestNewPort(t *testing.T) {
	tests := []struct {
		typ  string
		want interface{}
	}{
		{"uart", &UARTPort{}},
		{"rs232", &UARTPort{}},
		{"", &UARTPort{}},
		{"rs485", &RS485Port{}},
	}
	for _, tc := range tests {
		p, err := NewPort(config.Port{Type: tc.typ, Device: "/dev/null"})
		if err != nil {
			t.Fatalf("NewPort(%q): %v", tc.typ, err)
		}
		if reflect.TypeOf(p) != reflect.TypeOf(tc.want) {
			t.Fatalf("NewPort(%q) = %T", tc.typ, p)
		}
	}
	if _, err := NewPort(config.Port{Type: "can"}); err == nil {
		t.Fatalf("expected an error for an unknown type")
	}
}

func TestUnopenedPort(t *testing.T) {
	for _, typ := range []string{"uart", "rs485"} {
		p, _ := NewPort(config.Port{Type: typ, Device: "/dev/ttyUSB9", Name: "panel"})
		if _, err := p.Read(make([]byte, 4)); !errors.Is(err, ErrNotOpen) {
			t.Fatalf("%s read: %v", typ, err)
		}
		if _, err := p.Write([]byte{1}); !errors.Is(err, ErrNotOpen) {
			t.Fatalf("%s write: %v", typ, err)
		}
		if err := p.Close(); err != nil {
			t.Fatalf("%s close: %v", typ, err)
		}
		if p.Name() != "panel" {
			t.Fatalf("%s name: %q", typ, p.Name())
		}
	}
}

func TestOpenPortMissingDevice(t *testing.T) {
	dev := filepath.Join(t.TempDir(), "ttyUSB0")
	if _, err := OpenPort(config.Port{Type: "uart", Device: dev, Baudrate: 9600}); err == nil {
		t.Fatalf("expected an error opening %s", dev)
	}
}

func TestListPorts(t *testing.T) {
	defer func(f func() ([]*enumerator.PortDetails, error)) { enumerate = f }(enumerate)
	enumerate = func() ([]*enumerator.PortDetails, error) {
		return []*enumerator.PortDetails{
			{Name: "/dev/ttyUSB1", IsUSB: true, VID: "0403", PID: "6001", SerialNumber: "A50285BI", Product: "FT232R"},
			{Name: "/dev/ttyS0"},
			{Name: "/dev/ttyACM0", IsUSB: true, VID: "2341", PID: "0043"},
		}, nil
	}
	got, err := ListPorts()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []PortInfo{
		{Name: "/dev/ttyACM0", USB: true, VID: "2341", PID: "0043"},
		{Name: "/dev/ttyS0"},
		{Name: "/dev/ttyUSB1", USB: true, VID: "0403", PID: "6001", Serial: "A50285BI", Product: "FT232R"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}

	enumerate = func() ([]*enumerator.PortDetails, error) {
		return nil, errors.New("no sysfs")
	}
	if _, err := ListPorts(); err == nil {
		t.Fatalf("expected an enumeration error")
	}
}

func TestTxTime(t *testing.T) {
	if d := txTime(96, 9600); d != 100*time.Millisecond {
		t.Fatalf("txTime = %s", d)
	}
	if d := txTime(10, 0); d != 0 {
		t.Fatalf("txTime with no baud = %s", d)
	}
}
