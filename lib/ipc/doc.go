// Copyright 2026 The Pier Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc defines the JSON message types for the connector↔daemon
// local socket protocol: the request/response envelope, connector
// events and status, chunked-payload fragments, and the daemon
// endpoint paths. Every component that touches the wire (transport,
// client, chunking, runtime) imports this package so the wire types
// are defined once rather than mirrored.
//
// All types carry json tags: the daemon protocol is JSON framed with a
// 4-byte length prefix (see lib/frame). Connector-local on-disk state
// uses CBOR instead (see lib/codec and lib/statefile).
package ipc
