// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2025 YourCompany
//
// SPDX-License-Identifier: Apache-2.0

// Package serialtest provides pseudo-terminals that stand in for serial
// devices in tests.
package serialtest
