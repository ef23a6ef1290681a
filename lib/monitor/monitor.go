// Copyright 2026 The Pier Authors
// SPDX-License-Identifier: Apache-2.0

// Package monitor defines the event-source contract a connector
// supplies to the runtime, plus two implementations: a mock for tests
// and simple connectors, and a filesystem watcher.
//
// A Monitor pushes one Event per callback invocation. The runtime
// owns queueing, batching, and transmission; monitors only detect and
// emit. The callback may be invoked from whatever goroutine the
// monitor uses internally — the runtime's enqueue path is safe for
// that.
package monitor

import (
	"time"

	"github.com/seacliff-io/pier/lib/ipc"
)

// Callback receives one captured event per invocation.
type Callback func(event ipc.Event)

// Statistics is the monitor-side counter snapshot, merged into the
// runtime's statistics accessor.
type Statistics struct {
	EventsProcessed uint64    `json:"events_processed"`
	StartTime       time.Time `json:"start_time,omitzero"`
	Running         bool      `json:"is_running"`
}

// Monitor is the connector-specific event source.
type Monitor interface {
	// Start begins detection and delivers events to callback until
	// Stop. Returns an error if detection cannot begin; the runtime
	// treats that as a lifecycle failure.
	Start(callback Callback) error

	// Stop halts detection. Idempotent. No callback invocations
	// happen after Stop returns.
	Stop() error

	// Statistics returns the monitor's counter snapshot.
	Statistics() Statistics
}
