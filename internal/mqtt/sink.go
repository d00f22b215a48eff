// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2025 YourCompany
//
// SPDX-License-Identifier: Apache-2.0

package mqtt

import (
	"fmt"

	"github.com/linjuya-lu/device_bridge_go/internal/bridge"
	"github.com/linjuya-lu/device_bridge_go/internal/config"
)

type Publisher interface {
	Publish(topic string, data []byte) error
}

// Conn is the part of Client the mirror needs.
type Conn interface {
	Publisher
	Subscribe(topic string, handler func([]byte)) error
}

// Sink publishes every broadcast wire frame to one topic.
type Sink struct {
	pub   Publisher
	topic string
}

var _ bridge.Sink = (*Sink)(nil)

func NewSink(pub Publisher, topic string) *Sink {
	return &Sink{pub: pub, topic: topic}
}

func (s *Sink) Name() string { return "mqtt" }

func (s *Sink) Send(wire []byte) error {
	if err := s.pub.Publish(s.topic, wire); err != nil {
		return fmt.Errorf("publish %s: %w", s.topic, err)
	}
	return nil
}

// Mirror attaches conn to m: broadcasts go to ResponseTopic, and payloads on
// RequestTopic are fed to a decoder of their own.
func Mirror(m *bridge.Manager, conn Conn, topics config.Protocol) error {
	if topics.RequestTopic == "" || topics.ResponseTopic == "" {
		return fmt.Errorf("mqtt mirror: request and response topics are required")
	}
	if topics.RequestTopic == topics.ResponseTopic {
		return fmt.Errorf("mqtt mirror: request and response topic are both %q", topics.RequestTopic)
	}
	feed := m.AttachSink(NewSink(conn, topics.ResponseTopic))
	if err := conn.Subscribe(topics.RequestTopic, feed); err != nil {
		return fmt.Errorf("mqtt mirror: %w", err)
	}
	return nil
}
