// Copyright 2026 The Pier Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Pier's standard CBOR encoding configuration.
//
// Pier uses two serialization formats with a clear boundary:
//
//   - JSON for the daemon protocol: the length-prefixed IPC frames,
//     the socket-info discovery file, and the TOML/YAML configuration
//     surface are all text formats owned by the daemon contract.
//   - CBOR for connector-local state: the run-state file written at
//     shutdown and checked at the next startup (lib/statefile).
//
// This package provides the shared CBOR encoding and decoding modes so
// that every Pier package encodes identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes.
//
// For buffer-oriented operations (state files):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
package codec
