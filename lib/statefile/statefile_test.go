// Copyright 2026 The Pier Authors
// SPDX-License-Identifier: Apache-2.0

package statefile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func statePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "run-state")
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := statePath(t)
	state := State{
		ConnectorID: "demo",
		PID:         4242,
		StartedAt:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		UpdatedAt:   time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC),
		Outcome:     OutcomeClean,
		EventsSent:  17,
	}

	if err := Write(path, state); err != nil {
		t.Fatalf("Write: %v", err)
	}

	read, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if read.ConnectorID != "demo" || read.PID != 4242 || read.Outcome != OutcomeClean || read.EventsSent != 17 {
		t.Fatalf("read state = %+v", read)
	}
	if !read.StartedAt.Equal(state.StartedAt) {
		t.Fatalf("started_at = %v, want %v", read.StartedAt, state.StartedAt)
	}
}

func TestWriteCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "run-state")
	if err := Write(path, State{ConnectorID: "demo", Outcome: OutcomeRunning}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := Read(path); err != nil {
		t.Fatalf("Read after nested Write: %v", err)
	}
}

func TestWriteLeavesNoTemporaryFile(t *testing.T) {
	path := statePath(t)
	if err := Write(path, State{ConnectorID: "demo", Outcome: OutcomeRunning}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("temporary file still present (stat err %v)", err)
	}
}

func TestReadMissingFileWrapsNotExist(t *testing.T) {
	if _, err := Read(statePath(t)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Read of missing file gave %v, want os.ErrNotExist", err)
	}
}

func TestCheckCrash(t *testing.T) {
	path := statePath(t)

	// No file: no crash.
	if _, crashed := CheckCrash(path); crashed {
		t.Fatal("CheckCrash reported a crash with no state file")
	}

	// Running outcome left behind: crash.
	if err := Write(path, State{ConnectorID: "demo", Outcome: OutcomeRunning, EventsSent: 3}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	prior, crashed := CheckCrash(path)
	if !crashed {
		t.Fatal("CheckCrash did not report a crash for a running state")
	}
	if prior.EventsSent != 3 {
		t.Fatalf("prior state = %+v", prior)
	}

	// Clean outcome: no crash.
	if err := Write(path, State{ConnectorID: "demo", Outcome: OutcomeClean}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, crashed := CheckCrash(path); crashed {
		t.Fatal("CheckCrash reported a crash for a clean state")
	}

	// Corrupt file: no crash, startup must not be blocked.
	if err := os.WriteFile(path, []byte("not cbor at all"), 0o600); err != nil {
		t.Fatalf("corrupting file: %v", err)
	}
	if _, crashed := CheckCrash(path); crashed {
		t.Fatal("CheckCrash reported a crash for a corrupt state file")
	}
}

func TestClearIsIdempotent(t *testing.T) {
	path := statePath(t)
	if err := Write(path, State{ConnectorID: "demo", Outcome: OutcomeClean}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := Clear(path); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := Clear(path); err != nil {
		t.Fatalf("second Clear: %v", err)
	}
}
