// Copyright 2026 The Pier Authors
// SPDX-License-Identifier: Apache-2.0

// Package statefile provides atomic run-state file operations for
// crash detection across connector restarts. The runtime writes a
// "running" state when it starts and the final outcome when it stops;
// on the next startup, a leftover "running" state means the previous
// process died without a clean shutdown, and the runtime reports that
// to the daemon.
//
// The file is written atomically (write to a temporary file, fsync,
// rename) so readers never see a partial or corrupt state, and is
// encoded as CBOR via lib/codec like all connector-local state.
package statefile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/seacliff-io/pier/lib/codec"
)

// Outcome is how a connector run ended — or "running" while it has
// not ended yet.
type Outcome string

const (
	// OutcomeRunning: the process is (or was, if found at startup)
	// mid-run. Found at startup, it means a crash.
	OutcomeRunning Outcome = "running"

	// OutcomeClean: stop() completed, queues drained.
	OutcomeClean Outcome = "clean"

	// OutcomeTimedOut: graceful shutdown proceeded with in-flight
	// operations still pending.
	OutcomeTimedOut Outcome = "timed_out"
)

// State records one connector run.
type State struct {
	ConnectorID string    `cbor:"connector_id"`
	PID         int       `cbor:"pid"`
	StartedAt   time.Time `cbor:"started_at"`
	UpdatedAt   time.Time `cbor:"updated_at"`
	Outcome     Outcome   `cbor:"outcome"`

	EventsSent    uint64 `cbor:"events_sent"`
	EventsDropped uint64 `cbor:"events_dropped"`
	SendErrors    uint64 `cbor:"send_errors"`
}

// Write atomically writes the state file with mode 0600. The parent
// directory is created if absent.
func Write(path string, state State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	data, err := codec.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling run state: %w", err)
	}

	temporaryPath := path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating temporary state file: %w", err)
	}

	// Write, sync, close — in that order. If any step fails, remove
	// the temporary file and report the first error.
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary state file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary state file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary state file: %w", err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming state file into place: %w", err)
	}
	return nil
}

// Read reads and parses a state file. When the file does not exist,
// the returned error wraps os.ErrNotExist (testable with errors.Is).
func Read(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return State{}, err
	}

	var state State
	if err := codec.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("parsing state file %s: %w", path, err)
	}
	return state, nil
}

// CheckCrash reads the state file and reports whether the previous
// run ended without a clean shutdown. Returns the prior state and
// true when the file exists with outcome "running". A missing or
// unreadable file reports no crash — corrupt local state must never
// block startup.
func CheckCrash(path string) (State, bool) {
	state, err := Read(path)
	if err != nil {
		return State{}, false
	}
	if state.Outcome != OutcomeRunning {
		return state, false
	}
	return state, true
}

// Clear removes the state file. Idempotent: returns nil when the file
// does not exist.
func Clear(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing state file: %w", err)
	}
	return nil
}
