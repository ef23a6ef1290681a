// Copyright 2026 The Pier Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"errors"
	"sync"
	"time"

	"github.com/seacliff-io/pier/lib/ipc"
)

// Mock is a hand-driven Monitor: tests and the mock connector binary
// inject events with Emit. Safe for concurrent use.
type Mock struct {
	mu        sync.Mutex
	callback  Callback
	running   bool
	processed uint64
	startTime time.Time

	// StartError, when set, is returned by Start. Lets tests exercise
	// the runtime's start-failure unwind.
	StartError error
}

// NewMock returns a stopped Mock.
func NewMock() *Mock { return &Mock{} }

// Start registers the callback and marks the monitor running.
func (m *Mock) Start(callback Callback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StartError != nil {
		return m.StartError
	}
	if m.running {
		return errors.New("monitor: already started")
	}
	m.callback = callback
	m.running = true
	m.startTime = time.Now()
	return nil
}

// Stop halts delivery. Events emitted after Stop are dropped.
func (m *Mock) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	m.callback = nil
	return nil
}

// Statistics returns the snapshot.
func (m *Mock) Statistics() Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Statistics{
		EventsProcessed: m.processed,
		StartTime:       m.startTime,
		Running:         m.running,
	}
}

// Emit delivers one event to the registered callback. Returns false
// when the monitor is not running (the event is dropped).
func (m *Mock) Emit(event ipc.Event) bool {
	m.mu.Lock()
	callback := m.callback
	if callback == nil {
		m.mu.Unlock()
		return false
	}
	m.processed++
	m.mu.Unlock()

	callback(event)
	return true
}
