// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2025 YourCompany
//
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v2"
)

// Sheet is the YAML description of the properties and methods a bridge
// exposes.
//
//	properties:
//	  - name: speed
//	    type: Float32
//	    value: 12.5
//	  - name: panel.title
//	    type: String
//	    readOnly: true
//	methods:
//	  - name: reset
//	    assign: {speed: 0}
//	  - name: rename
//	    argument: panel.title
type Sheet struct {
	Properties []PropertySpec `yaml:"properties"`
	Methods    []MethodSpec   `yaml:"methods"`
}

type PropertySpec struct {
	Name     string      `yaml:"name"`
	Type     string      `yaml:"type"`
	Value    interface{} `yaml:"value"`
	ReadOnly bool        `yaml:"readOnly"`
}

// MethodSpec declares a method. On invocation the first argument (if any)
// is written to Argument, then every Assign entry is written in name order.
type MethodSpec struct {
	Name     string                 `yaml:"name"`
	Argument string                 `yaml:"argument"`
	Assign   map[string]interface{} `yaml:"assign"`
}

// LoadSheet reads a sheet file and builds a Store from it.
func LoadSheet(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", path, err)
	}
	s, err := ParseSheet(data)
	if err != nil {
		return nil, fmt.Errorf("sheet %s: %w", path, err)
	}
	return s, nil
}

// ParseSheet builds a Store from YAML sheet bytes.
func ParseSheet(data []byte) (*Store, error) {
	var sh Sheet
	if err := yaml.Unmarshal(data, &sh); err != nil {
		return nil, fmt.Errorf("parse sheet: %w", err)
	}
	return sh.Build()
}

// Build declares every property, then every method, assigning ids in that
// order.
func (sh Sheet) Build() (*Store, error) {
	s := NewStore()
	for _, p := range sh.Properties {
		if p.Name == "" {
			return nil, fmt.Errorf("property without name")
		}
		if _, err := s.AddProperty(p.Name, p.Type, p.Value, p.ReadOnly); err != nil {
			return nil, err
		}
	}
	for _, m := range sh.Methods {
		if m.Name == "" {
			return nil, fmt.Errorf("method without name")
		}
		if m.Argument != "" {
			if _, ok := s.Lookup(m.Argument); !ok {
				return nil, fmt.Errorf("method %q: unknown argument property %q", m.Name, m.Argument)
			}
		}
		for name := range m.Assign {
			if _, ok := s.Lookup(name); !ok {
				return nil, fmt.Errorf("method %q: unknown assigned property %q", m.Name, name)
			}
		}
		if _, err := s.AddMethod(m.Name, m.body(s)); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (m MethodSpec) body(s *Store) MethodFunc {
	names := make([]string, 0, len(m.Assign))
	for name := range m.Assign {
		names = append(names, name)
	}
	sort.Strings(names)
	return func(args []interface{}) error {
		if m.Argument != "" && len(args) > 0 {
			if err := s.Write(m.Argument, args[0]); err != nil {
				return err
			}
		}
		for _, name := range names {
			if err := s.Write(name, m.Assign[name]); err != nil {
				return err
			}
		}
		return nil
	}
}
