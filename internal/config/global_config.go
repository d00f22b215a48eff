// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2025 YourCompany
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	DefaultBaudrate          = 115200
	DefaultTimeoutMs         = 100
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultWriteTimeout      = 2 * time.Second
	DefaultLogLevel          = "INFO"
	DefaultRequestTopic      = "device-bridge/request"
	DefaultResponseTopic     = "device-bridge/response"
)

// Default returns a configuration with every default filled in and no
// transport selected.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// LoadConfig reads a YAML file on top of the defaults. An empty path returns
// Default().
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	c := &Config{}
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Serial.Type == "" {
		c.Serial.Type = "uart"
	}
	if c.Serial.Baudrate == 0 {
		c.Serial.Baudrate = DefaultBaudrate
	}
	if c.Serial.TimeoutMs == 0 {
		c.Serial.TimeoutMs = DefaultTimeoutMs
	}
	if c.Serial.Name == "" {
		c.Serial.Name = c.Serial.Device
	}
	if c.TCP.WriteTimeout == 0 {
		c.TCP.WriteTimeout = DefaultWriteTimeout
	}
	if c.Heartbeat.Interval == 0 {
		c.Heartbeat.Interval = DefaultHeartbeatInterval
	}
	if c.MQTT.RequestTopic == "" {
		c.MQTT.RequestTopic = DefaultRequestTopic
	}
	if c.MQTT.ResponseTopic == "" {
		c.MQTT.ResponseTopic = DefaultResponseTopic
	}
	if c.MQTT.KeepAlive == 0 {
		c.MQTT.KeepAlive = 30 * time.Second
	}
	if c.MQTT.ConnectTimeout == 0 {
		c.MQTT.ConnectTimeout = 5 * time.Second
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

// Validate checks value ranges. It does not require a transport; that
// choice belongs to the command line.
func (c *Config) Validate() error {
	switch c.Serial.Type {
	case "uart", "rs232", "rs485":
	default:
		return fmt.Errorf("serial: unknown port type %q", c.Serial.Type)
	}
	if c.Serial.Baudrate < 0 {
		return fmt.Errorf("serial: invalid baudrate %d", c.Serial.Baudrate)
	}
	if c.Serial.TimeoutMs < 0 {
		return fmt.Errorf("serial: invalid timeoutMs %d", c.Serial.TimeoutMs)
	}
	if c.Heartbeat.Interval < 0 {
		return fmt.Errorf("heartbeat: invalid interval %s", c.Heartbeat.Interval)
	}
	if c.Framing.MaxFrameSize < 0 {
		return fmt.Errorf("framing: invalid maxFrameSize %d", c.Framing.MaxFrameSize)
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt: invalid qos %d", c.MQTT.QoS)
	}
	switch strings.ToUpper(c.LogLevel) {
	case "TRACE", "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	return nil
}

// ListenAddr turns a bare port number into ":port".
func ListenAddr(addr string) string {
	if _, err := strconv.Atoi(addr); err == nil {
		return ":" + addr
	}
	return addr
}
