// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2025 YourCompany
//
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"errors"
	"fmt"
)

// Tag is the first byte of every frame.
type Tag byte

const (
	TagGetPropertyList Tag = 0x00
	TagInvokeMethod    Tag = 0x05
	TagSetProperty     Tag = 0x10
	TagWatchProperty   Tag = 0x20
	TagPropertyList    Tag = 0x80
	TagPropertyChange  Tag = 0x81
	TagHeartbeat       Tag = 0xFF
)

func (t Tag) String() string {
	switch t {
	case TagGetPropertyList:
		return "get_property_list"
	case TagInvokeMethod:
		return "invoke_method"
	case TagSetProperty:
		return "set_property"
	case TagWatchProperty:
		return "watch_property"
	case TagPropertyList:
		return "property_list"
	case TagPropertyChange:
		return "property_change"
	case TagHeartbeat:
		return "heartbeat"
	}
	return fmt.Sprintf("unknown(0x%02X)", byte(t))
}

var (
	ErrEmptyFrame       = errors.New("protocol: empty frame")
	ErrMalformedPayload = errors.New("protocol: malformed payload")
	ErrUnknownTag       = errors.New("protocol: unknown tag")
)

// Command is one decoded request. The set of implementations is closed.
type Command interface {
	Tag() Tag
	command()
}

type GetPropertyList struct{}

type SetProperty struct {
	Values map[string]interface{}
}

type InvokeMethod struct {
	ID   uint8
	Args []interface{}
}

type WatchProperty struct {
	IDs []uint8
}

type Heartbeat struct{}

type Unknown struct {
	Code Tag
}

func (GetPropertyList) Tag() Tag { return TagGetPropertyList }
func (SetProperty) Tag() Tag     { return TagSetProperty }
func (InvokeMethod) Tag() Tag    { return TagInvokeMethod }
func (WatchProperty) Tag() Tag   { return TagWatchProperty }
func (Heartbeat) Tag() Tag       { return TagHeartbeat }
func (u Unknown) Tag() Tag       { return u.Code }

func (GetPropertyList) command() {}
func (SetProperty) command()     {}
func (InvokeMethod) command()    {}
func (WatchProperty) command()   {}
func (Heartbeat) command()       {}
func (Unknown) command()         {}

// Parse decodes one frame. Tags outside the request set come back as Unknown
// with a nil error; malformed bodies return an error wrapping
// ErrMalformedPayload.
func Parse(frame []byte) (Command, error) {
	if len(frame) == 0 {
		return nil, ErrEmptyFrame
	}
	tag, body := Tag(frame[0]), frame[1:]
	switch tag {
	case TagGetPropertyList:
		return GetPropertyList{}, nil
	case TagHeartbeat:
		return Heartbeat{}, nil
	case TagSetProperty:
		var values map[string]interface{}
		if err := decMode.Unmarshal(body, &values); err != nil {
			return nil, fmt.Errorf("%w: set_property: %v", ErrMalformedPayload, err)
		}
		return SetProperty{Values: values}, nil
	case TagInvokeMethod:
		if len(body) == 0 {
			return nil, fmt.Errorf("%w: invoke_method: missing method id", ErrMalformedPayload)
		}
		cmd := InvokeMethod{ID: body[0]}
		if len(body) > 1 {
			if err := decMode.Unmarshal(body[1:], &cmd.Args); err != nil {
				return nil, fmt.Errorf("%w: invoke_method args: %v", ErrMalformedPayload, err)
			}
		}
		return cmd, nil
	case TagWatchProperty:
		ids, err := decodeIDs(body)
		if err != nil {
			return nil, fmt.Errorf("%w: watch_property: %v", ErrMalformedPayload, err)
		}
		return WatchProperty{IDs: ids}, nil
	}
	return Unknown{Code: tag}, nil
}

// decodeIDs accepts a CBOR array of small unsigned ints, or a byte string.
func decodeIDs(body []byte) ([]uint8, error) {
	var nums []uint64
	if err := decMode.Unmarshal(body, &nums); err == nil {
		ids := make([]uint8, len(nums))
		for i, n := range nums {
			if n > 0xFF {
				return nil, fmt.Errorf("id %d out of range", n)
			}
			ids[i] = uint8(n)
		}
		return ids, nil
	}
	var raw []byte
	if err := decMode.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}
