// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2025 YourCompany
//
// SPDX-License-Identifier: Apache-2.0

// Package mqtt mirrors bridge traffic over an MQTT broker: every broadcast
// frame is published to a response topic, and wire bytes received on a
// request topic are decoded like any other connection.
package mqtt

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/linjuya-lu/device_bridge_go/internal/config"
)

// ClientOptions configures the broker connection.
// Broker: tcp://host:port
// ClientID: defaults to device-bridge-<uuid>
type ClientOptions struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	DefaultQos     byte
	DefaultRetain  bool
}

// OptionsFromConfig maps the MQTT config section onto ClientOptions.
func OptionsFromConfig(c config.MQTT) ClientOptions {
	return ClientOptions{
		Broker:         c.Broker,
		ClientID:       c.ClientID,
		Username:       c.Username,
		Password:       c.Password,
		KeepAlive:      c.KeepAlive,
		ConnectTimeout: c.ConnectTimeout,
		DefaultQos:     c.QoS,
	}
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.ClientID == "" {
		o.ClientID = "device-bridge-" + uuid.NewString()
	}
	if o.KeepAlive <= 0 {
		o.KeepAlive = 30 * time.Second
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 5 * time.Second
	}
	return o
}

func (o ClientOptions) pahoOptions() *paho.ClientOptions {
	p := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetKeepAlive(o.KeepAlive).
		SetConnectTimeout(o.ConnectTimeout).
		SetAutoReconnect(true).
		SetCleanSession(true)
	if o.Username != "" {
		p.SetUsername(o.Username)
	}
	if o.Password != "" {
		p.SetPassword(o.Password)
	}
	return p
}

// Client wraps a connected paho client.
type Client struct {
	inner paho.Client
	opts  ClientOptions
}

// NewClient connects to the broker and waits up to ConnectTimeout.
func NewClient(opts ClientOptions) (*Client, error) {
	opts = opts.withDefaults()
	c := &Client{opts: opts}
	c.inner = paho.NewClient(opts.pahoOptions())
	tok := c.inner.Connect()
	if !tok.WaitTimeout(opts.ConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect %s: timeout after %s", opts.Broker, opts.ConnectTimeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", opts.Broker, err)
	}
	return c, nil
}

func (c *Client) ClientID() string { return c.opts.ClientID }

// Publish sends data as one message. It waits at most ConnectTimeout so a
// stalled broker cannot hold up a broadcast.
func (c *Client) Publish(topic string, data []byte) error {
	tok := c.inner.Publish(topic, c.opts.DefaultQos, c.opts.DefaultRetain, data)
	if !tok.WaitTimeout(c.opts.ConnectTimeout) {
		return fmt.Errorf("mqtt publish %s: timeout", topic)
	}
	return tok.Error()
}

// Subscribe delivers the raw payload of every message on topic to handler.
func (c *Client) Subscribe(topic string, handler func([]byte)) error {
	tok := c.inner.Subscribe(topic, c.opts.DefaultQos, func(_ paho.Client, m paho.Message) {
		handler(m.Payload())
	})
	if !tok.WaitTimeout(c.opts.ConnectTimeout) {
		return fmt.Errorf("mqtt subscribe %s: timeout", topic)
	}
	return tok.Error()
}

func (c *Client) Disconnect(quiesce uint) {
	c.inner.Disconnect(quiesce)
}
