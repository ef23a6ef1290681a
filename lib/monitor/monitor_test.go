// Copyright 2026 The Pier Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/seacliff-io/pier/lib/ipc"
	"github.com/seacliff-io/pier/lib/testutil"
)

func TestMockDeliversToCallback(t *testing.T) {
	mock := NewMock()
	received := make(chan ipc.Event, 1)

	if err := mock.Start(func(event ipc.Event) { received <- event }); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if !mock.Emit(ipc.Event{ConnectorID: "demo", Type: "test"}) {
		t.Fatal("Emit reported dropped while running")
	}
	event := testutil.RequireReceive(t, received, time.Second, "waiting for mock event")
	if event.Type != "test" {
		t.Fatalf("event type = %q", event.Type)
	}

	statistics := mock.Statistics()
	if statistics.EventsProcessed != 1 || !statistics.Running {
		t.Fatalf("statistics = %+v", statistics)
	}
}

func TestMockDropsAfterStop(t *testing.T) {
	mock := NewMock()
	if err := mock.Start(func(ipc.Event) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := mock.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if mock.Emit(ipc.Event{ConnectorID: "demo", Type: "test"}) {
		t.Fatal("Emit delivered after Stop")
	}
	if mock.Statistics().Running {
		t.Fatal("statistics report running after Stop")
	}
}

func TestMockDoubleStart(t *testing.T) {
	mock := NewMock()
	if err := mock.Start(func(ipc.Event) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := mock.Start(func(ipc.Event) {}); err == nil {
		t.Fatal("second Start succeeded")
	}
}

func TestFSWatchEmitsFileEvents(t *testing.T) {
	root := t.TempDir()
	watch := NewFSWatch("fs-demo", root)
	received := make(chan ipc.Event, 16)

	if err := watch.Start(func(event ipc.Event) { received <- event }); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer watch.Stop()

	path := filepath.Join(root, "captured.txt")
	if err := os.WriteFile(path, []byte("data"), 0o600); err != nil {
		t.Fatalf("writing watched file: %v", err)
	}

	event := testutil.RequireReceive(t, received, 5*time.Second, "waiting for filesystem event")
	if event.ConnectorID != "fs-demo" {
		t.Fatalf("connector id = %q", event.ConnectorID)
	}
	if event.Payload["path"] != path {
		t.Fatalf("event path = %v, want %s", event.Payload["path"], path)
	}
	if !event.Valid() {
		t.Fatal("filesystem event is not valid for transmission")
	}
}

func TestFSWatchStopIsIdempotent(t *testing.T) {
	watch := NewFSWatch("fs-demo", t.TempDir())
	if err := watch.Start(func(ipc.Event) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := watch.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := watch.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestFSWatchMissingRoot(t *testing.T) {
	watch := NewFSWatch("fs-demo", filepath.Join(t.TempDir(), "absent"))
	if err := watch.Start(func(ipc.Event) {}); err == nil {
		t.Fatal("Start on a missing root succeeded")
	}
}
