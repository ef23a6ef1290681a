// Copyright 2026 The Pier Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport wraps a single local-IPC channel — a Unix domain
// socket on POSIX systems, a named pipe on Windows — with the
// length-prefixed JSON framing from lib/frame and a synchronous
// request/response cycle.
//
// A Transport is single-kind for its lifetime: New selects the
// platform implementation from the DaemonInfo's transport kind, and a
// channel never switches. Each Roundtrip sends one framed request and
// reads exactly one framed response, bounded by the configured I/O
// timeout. Failures fail that single request; reconnection policy
// belongs to lib/client.
//
// Errors are classified into categories (timeout, refused, reset,
// too-large, protocol) so callers can make retry and chunk-size
// decisions without string matching.
package transport
