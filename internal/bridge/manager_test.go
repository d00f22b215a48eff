// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2025 YourCompany
//
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/linjuya-lu/device_bridge_go/internal/config"
	"github.com/linjuya-lu/device_bridge_go/internal/metrics"
	"github.com/linjuya-lu/device_bridge_go/internal/protocol"
	"github.com/linjuya-lu/device_bridge_go/internal/registry"
	"github.com/linjuya-lu/device_bridge_go/internal/serial"
	"github.com/linjuya-lu/device_bridge_go/internal/slip"
)

// fakePort is an in-memory serial line. Bytes pushed to in are returned by
// Read; everything written is kept in out.
type fakePort struct {
	name   string
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu  sync.Mutex
	out bytes.Buffer
}

func newFakePort(name string) *fakePort {
	return &fakePort{name: name, in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (p *fakePort) Open() error { return nil }

func (p *fakePort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	select {
	case data := <-p.in:
		return copy(b, data), nil
	case <-p.closed:
		return 0, io.ErrClosedPipe
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	select {
	case <-p.closed:
		return 0, io.ErrClosedPipe
	default:
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.Write(b)
}

func (p *fakePort) Name() string { return p.name }

func (p *fakePort) written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.out.Bytes()...)
}

// fakeOpener counts open attempts and hands out fakePorts.
type fakeOpener struct {
	mu    sync.Mutex
	calls []config.Port
	ports []*fakePort
	fail  error
}

func (o *fakeOpener) open(cfg config.Port) (serial.Port, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, cfg)
	if o.fail != nil {
		return nil, o.fail
	}
	p := newFakePort(cfg.Device)
	o.ports = append(o.ports, p)
	return p, nil
}

func (o *fakeOpener) attempts() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.calls)
}

func (o *fakeOpener) last() *fakePort {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ports[len(o.ports)-1]
}

func (o *fakeOpener) setFail(err error) {
	o.mu.Lock()
	o.fail = err
	o.mu.Unlock()
}

type frameLog struct {
	mu     sync.Mutex
	frames [][]byte
}

func (f *frameLog) HandleFrame(frame []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, append([]byte(nil), frame...))
}

func (f *frameLog) get() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.frames...)
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (e *eventLog) record(ev Event) {
	e.mu.Lock()
	e.events = append(e.events, ev)
	e.mu.Unlock()
}

func (e *eventLog) count(kind EventKind, transport Kind) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.events {
		if ev.Kind == kind && ev.Transport == transport {
			n++
		}
	}
	return n
}

func (e *eventLog) last(kind EventKind) (Event, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.events) - 1; i >= 0; i-- {
		if e.events[i].Kind == kind {
			return e.events[i], true
		}
	}
	return Event{}, false
}

var serialCfg = config.Port{Name: "panel", Device: "/dev/ttyUSB0", Type: "uart", Baudrate: 115200}

func newTestManager(t *testing.T) (*Manager, *fakeOpener, *eventLog) {
	t.Helper()
	op := &fakeOpener{}
	m := NewManager(logger.NewMockClient(), Options{
		Heartbeat:    time.Hour,
		WriteTimeout: time.Second,
		Opener:       op.open,
	})
	events := &eventLog{}
	m.OnEvent(events.record)
	t.Cleanup(m.Close)
	return m, op, events
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func dial(t *testing.T, m *Manager, want int) net.Conn {
	t.Helper()
	c, err := net.Dial("tcp", m.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	waitFor(t, "client registration", func() bool { return m.ConnectedClients() == want })
	return c
}

func readExactly(t *testing.T, c net.Conn, n int) []byte {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, n)
	if _, err := io.ReadFull(c, buf); err != nil {
		t.Fatalf("read %d bytes: %v", n, err)
	}
	return buf
}

func expectSilence(t *testing.T, c net.Conn) {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	buf := make([]byte, 16)
	if n, err := c.Read(buf); n > 0 {
		t.Fatalf("unexpected bytes % X (err %v)", buf[:n], err)
	}
}

const sheet = `
properties:
  - {name: speed, type: Float32}
  - {name: enabled, type: Bool}
  - {name: level, type: Int32}
`

func TestBroadcastReachesSerialAndEveryClient(t *testing.T) {
	m, op, _ := newTestManager(t)
	store, err := registry.ParseSheet([]byte(sheet))
	if err != nil {
		t.Fatalf("sheet: %v", err)
	}
	d := protocol.NewDispatcher(store, m, logger.NewMockClient(), nil)
	m.SetHandler(d)

	if err := m.OpenSerial(serialCfg); err != nil {
		t.Fatalf("open serial: %v", err)
	}
	if err := m.ListenTCP("127.0.0.1:0"); err != nil {
		t.Fatalf("listen: %v", err)
	}
	a := dial(t, m, 1)
	b := dial(t, m, 2)

	watch, _ := protocol.WatchPropertyFrame(2)
	op.last().in <- slip.Encode(watch)
	waitFor(t, "watch set", func() bool { return reflect.DeepEqual(d.Watched(), []uint8{2}) })

	if err := store.Write("level", 42); err != nil {
		t.Fatalf("write: %v", err)
	}
	change, _ := protocol.PropertyChangeFrame(2, int32(42))
	want := slip.Encode(change)

	if got := readExactly(t, a, len(want)); !bytes.Equal(got, want) {
		t.Fatalf("client a: % X, want % X", got, want)
	}
	if got := readExactly(t, b, len(want)); !bytes.Equal(got, want) {
		t.Fatalf("client b: % X, want % X", got, want)
	}
	waitFor(t, "serial output", func() bool { return len(op.last().written()) >= len(want) })
	if got := op.last().written(); !bytes.Equal(got, want) {
		t.Fatalf("serial: % X, want % X", got, want)
	}
}

func TestResponseGoesToAllPeers(t *testing.T) {
	m, op, _ := newTestManager(t)
	store, _ := registry.ParseSheet([]byte(sheet))
	m.SetHandler(protocol.NewDispatcher(store, m, logger.NewMockClient(), nil))
	m.OpenSerial(serialCfg)
	m.ListenTCP("127.0.0.1:0")
	a := dial(t, m, 1)

	// a request from the serial peer is answered on tcp as well
	op.last().in <- slip.Encode(protocol.GetPropertyListFrame())
	list, _ := protocol.PropertyListFrame(store.List())
	want := slip.Encode(list)
	if got := readExactly(t, a, len(want)); !bytes.Equal(got, want) {
		t.Fatalf("client: % X, want % X", got, want)
	}
}

func TestHeartbeatReopensSerialOncePerTick(t *testing.T) {
	m, op, events := newTestManager(t)
	if err := m.OpenSerial(serialCfg); err != nil {
		t.Fatalf("open: %v", err)
	}
	if op.attempts() != 1 {
		t.Fatalf("attempts after open: %d", op.attempts())
	}

	// connected: tick does nothing
	m.Tick()
	if op.attempts() != 1 {
		t.Fatalf("tick reopened an open port")
	}

	// the device goes away
	op.last().Close()
	waitFor(t, "serial loss", func() bool { return !m.IsSerialConnected() })
	if events.count(ConnectionLost, Serial) != 1 {
		t.Fatalf("expected a serial connection-lost event")
	}
	if m.LastError() == nil {
		t.Fatalf("serial loss not recorded")
	}

	m.Tick()
	if op.attempts() != 2 {
		t.Fatalf("expected exactly one reopen, got %d attempts", op.attempts())
	}
	if !reflect.DeepEqual(op.calls[1], serialCfg) {
		t.Fatalf("reopen used %+v", op.calls[1])
	}
	if !m.IsSerialConnected() || m.SerialState() != Connected {
		t.Fatalf("serial not reconnected")
	}

	// failing device: one attempt per tick, never more
	op.setFail(errors.New("no such device"))
	op.last().Close()
	waitFor(t, "serial loss", func() bool { return !m.IsSerialConnected() })
	for i := 0; i < 3; i++ {
		m.Tick()
	}
	if op.attempts() != 5 {
		t.Fatalf("expected 5 attempts, got %d", op.attempts())
	}
	if m.SerialState() != Disconnected {
		t.Fatalf("state after failed reopen: %s", m.SerialState())
	}
}

func TestCloseSerialKeepsConfiguration(t *testing.T) {
	m, op, events := newTestManager(t)
	m.OpenSerial(serialCfg)
	m.CloseSerial()
	if m.IsSerialConnected() {
		t.Fatalf("serial still open")
	}
	if ev, ok := events.last(SerialStateChanged); !ok || ev.Connected {
		t.Fatalf("missing serial closed event: %+v", ev)
	}
	m.Tick()
	if op.attempts() != 2 || !m.IsSerialConnected() {
		t.Fatalf("heartbeat did not reopen a closed port")
	}
}

func TestReconnectSerial(t *testing.T) {
	m, op, _ := newTestManager(t)
	if err := m.ReconnectSerial(); !errors.Is(err, ErrSerialNotConfigured) {
		t.Fatalf("expected ErrSerialNotConfigured, got %v", err)
	}
	if err := m.SendToSerial([]byte{0xC0}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	m.OpenSerial(serialCfg)
	first := op.last()
	if err := m.ReconnectSerial(); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if op.attempts() != 2 || op.last() == first {
		t.Fatalf("reconnect did not reopen")
	}
	select {
	case <-first.closed:
	default:
		t.Fatalf("old port left open")
	}
	if err := m.SendToSerial([]byte{0x01, 0xC0}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := op.last().written(); !bytes.Equal(got, []byte{0x01, 0xC0}) {
		t.Fatalf("serial got % X", got)
	}
}

func TestOpenSerialFailureIsReported(t *testing.T) {
	m, op, events := newTestManager(t)
	op.setFail(errors.New("permission denied"))
	if err := m.OpenSerial(serialCfg); err == nil {
		t.Fatalf("expected open failure")
	}
	if m.LastError() == nil || events.count(ErrorRaised, Serial) != 1 {
		t.Fatalf("failure not recorded")
	}
	op.setFail(nil)
	m.Tick()
	if !m.IsSerialConnected() {
		t.Fatalf("heartbeat did not retry the failed open")
	}
}

func TestHeartbeatGoesToTCPOnly(t *testing.T) {
	m, op, _ := newTestManager(t)
	m.OpenSerial(serialCfg)
	m.ListenTCP("127.0.0.1:0")
	c := dial(t, m, 1)

	m.Tick()
	if got := readExactly(t, c, 2); !bytes.Equal(got, []byte{0xFF, 0xC0}) {
		t.Fatalf("heartbeat wire: % X", got)
	}
	if got := op.last().written(); len(got) != 0 {
		t.Fatalf("serial received % X", got)
	}
}

func TestDisconnectAndPrune(t *testing.T) {
	m, _, events := newTestManager(t)
	m.ListenTCP("127.0.0.1:0")
	a := dial(t, m, 1)
	dial(t, m, 2)
	if !m.IsTCPConnected() || events.count(TCPStateChanged, TCP) != 1 {
		t.Fatalf("tcp state not reported")
	}

	a.Close()
	waitFor(t, "disconnect", func() bool { return m.ConnectedClients() == 1 })
	if ev, _ := events.last(ClientsChanged); ev.Clients != 1 {
		t.Fatalf("clients changed: %+v", ev)
	}

	// a client that failed a write is marked and removed by the next tick
	m.mu.Lock()
	for _, c := range m.conns {
		c.state = Disconnected
	}
	m.mu.Unlock()
	m.Tick()
	if m.ConnectedClients() != 0 || m.IsTCPConnected() {
		t.Fatalf("dead client not pruned")
	}
	if ev, _ := events.last(ClientsChanged); ev.Clients != 0 {
		t.Fatalf("clients changed: %+v", ev)
	}
	if events.count(ConnectionLost, TCP) != 1 {
		t.Fatalf("expected one tcp connection-lost event")
	}
	if ev, _ := events.last(TCPStateChanged); ev.Connected {
		t.Fatalf("tcp still reported connected")
	}

	// nothing changed: no new notification
	before := events.count(ClientsChanged, TCP)
	m.Tick()
	if events.count(ClientsChanged, TCP) != before {
		t.Fatalf("prune notified without a change")
	}
}

func TestDecodersAreIsolated(t *testing.T) {
	m, _, _ := newTestManager(t)
	log := &frameLog{}
	m.SetHandler(log)
	m.ListenTCP("127.0.0.1:0")
	a := dial(t, m, 1)
	b := dial(t, m, 2)

	wire := slip.Encode([]byte{0x10, 0xC0, 0xDB, 0x33})
	a.Write(wire[:3])
	time.Sleep(20 * time.Millisecond)
	b.Write([]byte{0x00, 0xC0})
	waitFor(t, "frame from b", func() bool { return len(log.get()) == 1 })
	if got := log.get()[0]; !bytes.Equal(got, []byte{0x00}) {
		t.Fatalf("b's frame mixed with a's bytes: % X", got)
	}

	a.Write(wire[3:])
	waitFor(t, "frame from a", func() bool { return len(log.get()) == 2 })
	if got := log.get()[1]; !bytes.Equal(got, []byte{0x10, 0xC0, 0xDB, 0x33}) {
		t.Fatalf("a's frame: % X", got)
	}
}

func TestCorruptionIsCountedPerTransport(t *testing.T) {
	reg := prometheus.NewRegistry()
	mt := metrics.New(reg)
	op := &fakeOpener{}
	m := NewManager(logger.NewMockClient(), Options{Opener: op.open, Metrics: mt})
	defer m.Close()
	log := &frameLog{}
	m.SetHandler(log)
	m.OpenSerial(serialCfg)

	op.last().in <- []byte{0x01, 0xDB, 0x02, 0x03, 0xC0}
	waitFor(t, "discard counter", func() bool {
		return testutil.ToFloat64(mt.FramesDiscarded.WithLabelValues("serial")) == 1
	})
	if got := log.get(); len(got) != 1 || !bytes.Equal(got[0], []byte{0x03}) {
		t.Fatalf("frames after corruption: %v", got)
	}
	if v := testutil.ToFloat64(mt.FramesDecoded.WithLabelValues("serial")); v != 1 {
		t.Fatalf("decoded: %v", v)
	}
}

type fakeSink struct {
	mu   sync.Mutex
	sent [][]byte
	err  error
}

func (s *fakeSink) Name() string { return "mqtt" }

func (s *fakeSink) Send(wire []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, wire)
	return nil
}

func TestSinkMirrorsTraffic(t *testing.T) {
	m, _, events := newTestManager(t)
	log := &frameLog{}
	m.SetHandler(log)
	sink := &fakeSink{}
	feed := m.AttachSink(sink)

	m.Broadcast([]byte{0x81, 0xC0})
	if len(sink.sent) != 1 || !bytes.Equal(sink.sent[0], []byte{0x81, 0xC0}) {
		t.Fatalf("sink got %v", sink.sent)
	}

	feed([]byte{0x00})
	feed([]byte{0xC0})
	if frames := log.get(); len(frames) != 1 || !bytes.Equal(frames[0], []byte{0x00}) {
		t.Fatalf("sink inbound frames: %v", frames)
	}

	sink.err = errors.New("broker gone")
	m.Broadcast([]byte{0xFF, 0xC0})
	if !errors.Is(m.LastError(), sink.err) || events.count(ErrorRaised, MQTT) != 1 {
		t.Fatalf("sink failure not recorded: %v", m.LastError())
	}
}

func TestListenFailureAndReconnectTCP(t *testing.T) {
	m, _, events := newTestManager(t)
	if err := m.ReconnectTCP(); !errors.Is(err, ErrTCPNotConfigured) {
		t.Fatalf("expected ErrTCPNotConfigured, got %v", err)
	}

	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer busy.Close()
	if err := m.ListenTCP(busy.Addr().String()); err == nil {
		t.Fatalf("expected listen failure on a busy port")
	}
	if m.LastError() == nil || events.count(ErrorRaised, TCP) != 1 {
		t.Fatalf("listen failure not recorded")
	}

	busy.Close()
	if err := m.ReconnectTCP(); err != nil {
		t.Fatalf("reconnect tcp: %v", err)
	}
	dial(t, m, 1)
}

func TestRunTicksUntilCancelled(t *testing.T) {
	op := &fakeOpener{}
	m := NewManager(logger.NewMockClient(), Options{Heartbeat: 10 * time.Millisecond, Opener: op.open})
	if err := m.ListenTCP("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	c := dial(t, m, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	if got := readExactly(t, c, 2); !bytes.Equal(got, []byte{0xFF, 0xC0}) {
		t.Fatalf("heartbeat: % X", got)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("run did not stop")
	}
	if m.Addr() != nil || m.ConnectedClients() != 0 {
		t.Fatalf("manager not closed")
	}
	if err := m.OpenSerial(serialCfg); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

// emptyPort returns (0, io.EOF) from every Read after delay, like a tty that
// is idle (delay equal to the read timeout) or hung up (no delay).
type emptyPort struct {
	delay  time.Duration
	reads  atomic.Int64
	closed chan struct{}
	once   sync.Once
}

func newEmptyPort(delay time.Duration) *emptyPort {
	return &emptyPort{delay: delay, closed: make(chan struct{})}
}

func (p *emptyPort) Open() error { return nil }

func (p *emptyPort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *emptyPort) Read(b []byte) (int, error) {
	p.reads.Add(1)
	t := time.NewTimer(p.delay)
	defer t.Stop()
	select {
	case <-p.closed:
		return 0, io.ErrClosedPipe
	case <-t.C:
		return 0, io.EOF
	}
}

func (p *emptyPort) Write(b []byte) (int, error) { return len(b), nil }
func (p *emptyPort) Name() string                { return "empty" }

func TestHungUpLineIsLost(t *testing.T) {
	p := newEmptyPort(0)
	m := NewManager(logger.NewMockClient(), Options{
		Opener: func(config.Port) (serial.Port, error) { return p, nil },
	})
	defer m.Close()
	events := &eventLog{}
	m.OnEvent(events.record)

	cfg := serialCfg
	cfg.TimeoutMs = 50
	if err := m.OpenSerial(cfg); err != nil {
		t.Fatalf("open: %v", err)
	}
	waitFor(t, "hang-up detection", func() bool { return !m.IsSerialConnected() })
	if !errors.Is(m.LastError(), ErrHangup) {
		t.Fatalf("last error: %v", m.LastError())
	}
	if events.count(ConnectionLost, Serial) != 1 {
		t.Fatalf("expected a serial connection-lost event")
	}
	if n := p.reads.Load(); n > maxEmptyReads {
		t.Fatalf("reader kept spinning: %d reads", n)
	}
}

func TestIdleLineStaysConnected(t *testing.T) {
	p := newEmptyPort(20 * time.Millisecond)
	m := NewManager(logger.NewMockClient(), Options{
		Opener: func(config.Port) (serial.Port, error) { return p, nil },
	})
	defer m.Close()

	cfg := serialCfg
	cfg.TimeoutMs = 20
	if err := m.OpenSerial(cfg); err != nil {
		t.Fatalf("open: %v", err)
	}
	time.Sleep(20 * time.Millisecond * (maxEmptyReads + 4))
	if !m.IsSerialConnected() {
		t.Fatalf("idle line treated as hung up: %v", m.LastError())
	}
	if p.reads.Load() < maxEmptyReads {
		t.Fatalf("reader did not keep polling: %d reads", p.reads.Load())
	}
}

func TestWriteTimeoutDefault(t *testing.T) {
	if m := NewManager(logger.NewMockClient(), Options{}); m.opts.WriteTimeout != DefaultWriteTimeout {
		t.Fatalf("default write timeout: %s", m.opts.WriteTimeout)
	}
	if m := NewManager(logger.NewMockClient(), Options{WriteTimeout: -1}); m.opts.WriteTimeout != -1 {
		t.Fatalf("disabled write timeout overridden: %s", m.opts.WriteTimeout)
	}
}

func TestStalledClientIsDropped(t *testing.T) {
	m := NewManager(logger.NewMockClient(), Options{WriteTimeout: 100 * time.Millisecond})
	defer m.Close()
	if err := m.ListenTCP("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	dial(t, m, 1) // never reads

	done := make(chan struct{})
	go func() {
		m.Broadcast(make([]byte, 64<<20))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("broadcast blocked on a stalled client")
	}
	waitFor(t, "stalled client removal", func() bool { return m.ConnectedClients() == 0 })
}
