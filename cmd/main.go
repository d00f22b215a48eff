// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018-2022 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/linjuya-lu/device_bridge_go/internal/bridge"
	"github.com/linjuya-lu/device_bridge_go/internal/config"
	"github.com/linjuya-lu/device_bridge_go/internal/metrics"
	"github.com/linjuya-lu/device_bridge_go/internal/mqtt"
	"github.com/linjuya-lu/device_bridge_go/internal/protocol"
	"github.com/linjuya-lu/device_bridge_go/internal/registry"
	"github.com/linjuya-lu/device_bridge_go/internal/serial"
)

const (
	serviceName string = "device-bridge"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

type cliOptions struct {
	configPath string
	sheet      string
	port       string
	baudrate   int
	baudSet    bool
	tcp        string
	logLevel   string
	listPorts  bool
}

var errUsage = errors.New("usage")

// parseArgs accepts flags before and after the sheet path.
func parseArgs(args []string, stderr io.Writer) (cliOptions, error) {
	var o cliOptions
	fs := flag.NewFlagSet(serviceName, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: %s [flags] <sheet.yaml>\n", serviceName)
		fs.PrintDefaults()
	}
	fs.StringVar(&o.configPath, "config", "", "bridge configuration file (YAML)")
	fs.StringVar(&o.port, "port", "", "serial device, e.g. /dev/ttyUSB0")
	fs.IntVar(&o.baudrate, "baudrate", config.DefaultBaudrate, "serial baud rate")
	fs.StringVar(&o.tcp, "tcp", "", "listen for TCP clients on this port or address")
	fs.StringVar(&o.logLevel, "log-level", "", "TRACE, DEBUG, INFO, WARN or ERROR")
	fs.BoolVar(&o.listPorts, "list-ports", false, "print the serial ports found and exit")

	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return o, err
		}
		if fs.NArg() == 0 {
			break
		}
		positional = append(positional, fs.Arg(0))
		args = fs.Args()[1:]
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "baudrate" {
			o.baudSet = true
		}
	})

	if o.listPorts {
		return o, nil
	}
	switch {
	case len(positional) == 0:
		return o, fmt.Errorf("%w: missing sheet path", errUsage)
	case len(positional) > 1:
		return o, fmt.Errorf("%w: unexpected arguments %v", errUsage, positional[1:])
	}
	o.sheet = positional[0]

	if o.port != "" && o.tcp != "" {
		return o, fmt.Errorf("%w: --port and --tcp are mutually exclusive", errUsage)
	}
	if o.baudSet && o.tcp != "" {
		return o, fmt.Errorf("%w: --baudrate applies to --port only", errUsage)
	}
	return o, nil
}

// apply folds the command line into cfg. A transport flag selects that
// transport alone; otherwise the file's selection stands.
func (o cliOptions) apply(cfg *config.Config) error {
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	switch {
	case o.port != "":
		cfg.Serial.Device = o.port
		if cfg.Serial.Name == "" {
			cfg.Serial.Name = o.port
		}
		cfg.TCP.Addr = ""
	case o.tcp != "":
		cfg.TCP.Addr = o.tcp
		cfg.Serial.Device = ""
	}
	if o.baudSet {
		cfg.Serial.Baudrate = o.baudrate
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if !cfg.Serial.Configured() && cfg.TCP.Addr == "" {
		return fmt.Errorf("%w: no transport selected, use --port or --tcp", errUsage)
	}
	return nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseArgs(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", serviceName, err)
		return 1
	}

	if opts.listPorts {
		ports, err := serial.ListPorts()
		if err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", serviceName, err)
			return 1
		}
		for _, p := range ports {
			if p.USB {
				fmt.Fprintf(stdout, "%s\t%s:%s\t%s\n", p.Name, p.VID, p.PID, p.Product)
				continue
			}
			fmt.Fprintln(stdout, p.Name)
		}
		return 0
	}

	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", serviceName, err)
		return 1
	}
	if err := opts.apply(cfg); err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", serviceName, err)
		return 1
	}

	lc := logger.NewClient(serviceName, cfg.LogLevel)

	store, err := registry.LoadSheet(opts.sheet)
	if err != nil {
		lc.Errorf("load sheet: %v", err)
		return 1
	}
	lc.Infof("loaded %d properties from %s", len(store.List()), opts.sheet)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, reg); err != nil {
				lc.Errorf("metrics endpoint: %v", err)
			}
		}()
	}

	mgr := bridge.NewManager(lc, bridge.Options{
		Heartbeat:    cfg.Heartbeat.Interval,
		WriteTimeout: cfg.TCP.WriteTimeout,
		MaxFrame:     cfg.Framing.MaxFrameSize,
		Metrics:      m,
	})
	d := protocol.NewDispatcher(store, mgr, lc, m)
	defer d.Close()
	mgr.SetHandler(d)
	mgr.OnEvent(logEvent(lc))

	if cfg.Serial.Configured() {
		if err := mgr.OpenSerial(cfg.Serial); err != nil {
			mgr.Close()
			return 1
		}
	}
	if cfg.TCP.Addr != "" {
		if err := mgr.ListenTCP(cfg.TCP.Addr); err != nil {
			mgr.Close()
			return 1
		}
	}
	if cfg.MQTT.Enabled() {
		client, err := mqtt.NewClient(mqtt.OptionsFromConfig(cfg.MQTT))
		if err != nil {
			lc.Errorf("%v", err)
			mgr.Close()
			return 1
		}
		defer client.Disconnect(250)
		if err := mqtt.Mirror(mgr, client, cfg.MQTT.Protocol); err != nil {
			lc.Errorf("%v", err)
			mgr.Close()
			return 1
		}
		lc.Infof("mirroring on %s as %s", cfg.MQTT.Broker, client.ClientID())
	}

	lc.Infof("%s %s running, heartbeat every %s", serviceName, mgr.ID(), cfg.Heartbeat.Interval)
	if err := mgr.Run(ctx); err != nil {
		lc.Errorf("%v", err)
		return 1
	}
	lc.Info("shutdown complete")
	return 0
}

func logEvent(lc logger.LoggingClient) func(bridge.Event) {
	return func(ev bridge.Event) {
		switch ev.Kind {
		case bridge.ClientsChanged:
			lc.Infof("tcp clients: %d", ev.Clients)
		case bridge.TCPStateChanged, bridge.SerialStateChanged:
			lc.Infof("%s connected: %t", ev.Transport, ev.Connected)
		case bridge.ConnectionLost:
			lc.Warnf("%s connection lost", ev.Transport)
		case bridge.ErrorRaised:
			lc.Debugf("%s error: %v", ev.Transport, ev.Err)
		}
	}
}
