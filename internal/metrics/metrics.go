// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2025 YourCompany
//
// SPDX-License-Identifier: Apache-2.0

// Package metrics holds the Prometheus collectors of the bridge.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "device_bridge"

// Metrics groups every collector. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	FramesDecoded     *prometheus.CounterVec
	FramesDiscarded   *prometheus.CounterVec
	Commands          *prometheus.CounterVec
	CommandsDropped   *prometheus.CounterVec
	FramesSent        *prometheus.CounterVec
	BytesSent         *prometheus.CounterVec
	ConnectedClients  prometheus.Gauge
	SerialConnected   prometheus.Gauge
	SerialReconnects  prometheus.Counter
	PropertyChanges   prometheus.Counter
	TransportFailures *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_decoded_total",
			Help:      "Frames completed by a connection decoder.",
		}, []string{"transport"}),
		FramesDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_discarded_total",
			Help:      "Partial frames dropped because of framing corruption.",
		}, []string{"transport"}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands dispatched, by command name.",
		}, []string{"command"}),
		CommandsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_dropped_total",
			Help:      "Commands dropped, by reason.",
		}, []string{"reason"}),
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Frames written, by transport.",
		}, []string{"transport"}),
		BytesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Wire bytes written, by transport.",
		}, []string{"transport"}),
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tcp_clients",
			Help:      "Currently connected TCP clients.",
		}),
		SerialConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "serial_connected",
			Help:      "1 while the serial port is open.",
		}),
		SerialReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "serial_reconnect_attempts_total",
			Help:      "Serial reopen attempts made by the heartbeat.",
		}),
		PropertyChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "property_changes_total",
			Help:      "PropertyChange events broadcast.",
		}),
		TransportFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_errors_total",
			Help:      "Open, listen, accept, read and write failures.",
		}, []string{"transport"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.FramesDecoded,
			m.FramesDiscarded,
			m.Commands,
			m.CommandsDropped,
			m.FramesSent,
			m.BytesSent,
			m.ConnectedClients,
			m.SerialConnected,
			m.SerialReconnects,
			m.PropertyChanges,
			m.TransportFailures,
		)
	}
	return m
}

func (m *Metrics) Decoded(transport string) {
	if m != nil {
		m.FramesDecoded.WithLabelValues(transport).Inc()
	}
}

func (m *Metrics) Discarded(transport string, n uint64) {
	if m != nil && n > 0 {
		m.FramesDiscarded.WithLabelValues(transport).Add(float64(n))
	}
}

func (m *Metrics) Command(name string) {
	if m != nil {
		m.Commands.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) Dropped(reason string) {
	if m != nil {
		m.CommandsDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Sent(transport string, n int) {
	if m != nil {
		m.FramesSent.WithLabelValues(transport).Inc()
		m.BytesSent.WithLabelValues(transport).Add(float64(n))
	}
}

func (m *Metrics) Clients(n int) {
	if m != nil {
		m.ConnectedClients.Set(float64(n))
	}
}

func (m *Metrics) Serial(open bool) {
	if m == nil {
		return
	}
	if open {
		m.SerialConnected.Set(1)
	} else {
		m.SerialConnected.Set(0)
	}
}

func (m *Metrics) Reconnect() {
	if m != nil {
		m.SerialReconnects.Inc()
	}
}

func (m *Metrics) Change() {
	if m != nil {
		m.PropertyChanges.Inc()
	}
}

func (m *Metrics) Failure(transport string) {
	if m != nil {
		m.TransportFailures.WithLabelValues(transport).Inc()
	}
}

// Serve exposes /metrics and /health on addr until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
