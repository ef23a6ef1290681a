// Copyright 2026 The Pier Authors
// SPDX-License-Identifier: Apache-2.0

// Package discovery locates a running daemon through the per-user
// socket-info file and verifies it is actually reachable before
// handing a DaemonInfo to the transport layer.
//
// Discovery never returns errors: stale files, dead daemon processes,
// unreadable JSON, over-permissive file modes, and failed connect
// probes all collapse to "not found". Callers either get a verified,
// reachable daemon or keep waiting (WaitForDaemon) or give up. A
// socket-info file readable or writable by other users is treated as
// absent — a security hard-fail, not a reportable error.
//
// Successful discoveries are cached in memory. A cached entry is
// re-probed on every Discover call (no disk I/O on the happy path)
// and invalidated the moment the probe fails.
package discovery
