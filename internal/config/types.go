// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2025 YourCompany
//
// SPDX-License-Identifier: Apache-2.0

package config

import "time"

// Port describes the serial line the bridge talks on.
type Port struct {
	Name      string `yaml:"name"`      // logical name used in logs
	Device    string `yaml:"device"`    // device node, e.g. /dev/ttyUSB0
	Type      string `yaml:"type"`      // uart/rs232/rs485
	Baudrate  int    `yaml:"baudrate"`  // line speed
	DEPin     int    `yaml:"dePin"`     // RS-485 DE/RE GPIO number
	TimeoutMs int    `yaml:"timeoutMs"` // read timeout in milliseconds
}

// Configured reports whether a serial device was selected.
func (p Port) Configured() bool {
	return p.Device != ""
}

func (p Port) ReadTimeout() time.Duration {
	return time.Duration(p.TimeoutMs) * time.Millisecond
}

// TCP configures the listening side. Addr may be a bare port number.
type TCP struct {
	Addr         string        `yaml:"addr"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
}

type Heartbeat struct {
	Interval time.Duration `yaml:"interval"`
}

// Framing bounds the per-connection decoder. Zero means unbounded.
type Framing struct {
	MaxFrameSize int `yaml:"maxFrameSize"`
}

// Protocol names the MQTT topic pair a mirror transport uses.
type Protocol struct {
	RequestTopic  string `yaml:"requestTopic"`  // peer to bridge
	ResponseTopic string `yaml:"responseTopic"` // bridge to peer
}

// MQTT configures the optional broker mirror. An empty Broker disables it.
type MQTT struct {
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"clientID"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	QoS            byte          `yaml:"qos"`
	KeepAlive      time.Duration `yaml:"keepAlive"`
	ConnectTimeout time.Duration `yaml:"connectTimeout"`
	Protocol       `yaml:",inline"`
}

func (m MQTT) Enabled() bool {
	return m.Broker != ""
}

// Metrics configures the optional /metrics endpoint. An empty Addr disables it.
type Metrics struct {
	Addr string `yaml:"addr"`
}

// Config is the whole bridge process configuration.
type Config struct {
	Serial    Port      `yaml:"Serial"`
	TCP       TCP       `yaml:"TCP"`
	Heartbeat Heartbeat `yaml:"Heartbeat"`
	Framing   Framing   `yaml:"Framing"`
	MQTT      MQTT      `yaml:"MQTT"`
	Metrics   Metrics   `yaml:"Metrics"`
	LogLevel  string    `yaml:"LogLevel"`
}
