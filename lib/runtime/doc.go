// Copyright 2026 The Pier Authors
// SPDX-License-Identifier: Apache-2.0

// Package runtime orchestrates the lifecycle of a connector process:
// discover the daemon, connect and authenticate, run the
// connector-specific monitor, batch and transmit captured events, push
// periodic status, and shut down cleanly.
//
// # Lifecycle
//
// A connector moves through Stopped → Starting → Running → Stopping →
// Stopped, with Error reachable from any state on unrecoverable
// failure. Entering any new state clears a prior error. Initialize and
// Start are idempotent; a failed Start unwinds whatever it managed to
// bring up via Stop.
//
// # Threads
//
// The main goroutine owns lifecycle calls. Two background loops run
// between Start and Stop: the batch-flush loop (drain the event queue,
// transmit) and the heartbeat loop (periodic status push). The monitor
// delivers events from whatever goroutine it uses internally; the
// enqueue path is safe for that. Batch sends are serialized by the
// single flush loop — there is no concurrent-batch-send path.
//
// # Transmission fallback ladder
//
// A drained batch of one event goes out as a single send. Larger
// batches go out as one batch POST, unless the serialized batch
// crosses the chunk threshold, in which case it is split into
// checksummed fragments and sent through the chunked endpoint with
// per-fragment retries. Each tier degrades to the next on failure —
// batch → chunked → per-event — so events are never silently dropped
// and never duplicated beyond the retry.
//
// # Graceful shutdown
//
// GracefulShutdown sets a shutting-down flag (new sends become no-ops),
// waits bounded-time for in-flight sends to drain via an atomic
// active-operation counter, then performs the normal stop sequence
// regardless, reporting whether the drain completed or timed out.
package runtime
