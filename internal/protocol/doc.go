// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2025 YourCompany
//
// SPDX-License-Identifier: Apache-2.0

// Package protocol interprets decoded frames as bridge commands and builds
// the response and event frames sent back to peers.
//
// A frame is one tag byte followed by a tag-specific body. Structured bodies
// are CBOR:
//
//	0x00 GetPropertyList  -> (empty)
//	0x10 SetProperty      -> map name -> value
//	0x05 InvokeMethod     -> [method id byte][array of args]
//	0x20 WatchProperty    -> array of property ids
//	0xFF Heartbeat        -> (empty), either direction
//	0x80 PropertyList     <- map name -> {id, type}
//	0x81 PropertyChange   <- map {id, value}
//
// Outbound frames are never addressed: every frame goes to every peer.
package protocol
