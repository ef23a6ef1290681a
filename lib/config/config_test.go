// Copyright 2026 The Pier Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/seacliff-io/pier/lib/ipc"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func TestLoadSettingsMissingFileGivesDefaults(t *testing.T) {
	settings, err := LoadSettings(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	defaults := DefaultSettings()
	if settings.Mode != defaults.Mode || settings.MaxBatchSize != defaults.MaxBatchSize {
		t.Fatalf("settings = %+v, want defaults", settings)
	}
}

func TestLoadSettingsParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connector.yaml")
	content := `
mode: development
batch_interval: 2s
max_batch_size: 25
chunk:
  max_chunk_size: 65536
  retry_delay: 250ms
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing settings: %v", err)
	}

	settings, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if settings.Mode != "development" {
		t.Fatalf("mode = %q", settings.Mode)
	}
	if settings.BatchInterval.Std() != 2*time.Second {
		t.Fatalf("batch_interval = %v", settings.BatchInterval.Std())
	}
	if settings.MaxBatchSize != 25 {
		t.Fatalf("max_batch_size = %d", settings.MaxBatchSize)
	}
	if settings.Chunk.MaxChunkSize != 65536 {
		t.Fatalf("chunk.max_chunk_size = %d", settings.Chunk.MaxChunkSize)
	}
	if settings.Chunk.RetryDelay.Std() != 250*time.Millisecond {
		t.Fatalf("chunk.retry_delay = %v", settings.Chunk.RetryDelay.Std())
	}
	// Unset fields keep their defaults.
	if settings.QueueCapacity != DefaultSettings().QueueCapacity {
		t.Fatalf("queue_capacity = %d, want default", settings.QueueCapacity)
	}
}

func TestLoadSettingsMalformedFileIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connector.yaml")
	if err := os.WriteFile(path, []byte("batch_interval: [nope"), 0o600); err != nil {
		t.Fatalf("writing settings: %v", err)
	}
	if _, err := LoadSettings(path); err == nil {
		t.Fatal("malformed settings file did not error")
	}
}

// fakeGetter scripts responses per path.
type fakeGetter struct {
	responses map[string]ipc.Response
	err       error
}

func (f *fakeGetter) Get(path string) (ipc.Response, error) {
	if f.err != nil {
		return ipc.Response{StatusCode: 503}, f.err
	}
	response, present := f.responses[path]
	if !present {
		return ipc.Response{StatusCode: 404, Body: "{}"}, nil
	}
	return response, nil
}

func TestSourceLoadsFromDaemon(t *testing.T) {
	getter := &fakeGetter{responses: map[string]ipc.Response{
		ipc.PathConfig: {StatusCode: 200, Body: `{"batch":{"interval":"5s","max_size":100},"enabled":true}`},
	}}
	source := NewSource(getter, "", testLogger())

	if !source.LoadFromDaemon() {
		t.Fatal("LoadFromDaemon failed against a healthy daemon")
	}
	if got := source.Value("batch.interval", ""); got != "5s" {
		t.Fatalf("batch.interval = %q", got)
	}
	if got := source.Value("batch.max_size", ""); got != "100" {
		t.Fatalf("batch.max_size = %q", got)
	}
	if got := source.Value("enabled", ""); got != "true" {
		t.Fatalf("enabled = %q", got)
	}
	if got := source.Value("absent", "fallback"); got != "fallback" {
		t.Fatalf("absent key = %q, want fallback", got)
	}
}

func TestSourceFallsBackToDefaultsEndpoint(t *testing.T) {
	getter := &fakeGetter{responses: map[string]ipc.Response{
		ipc.PathConfigDefaults: {StatusCode: 200, Body: `{"batch":{"interval":"10s"}}`},
	}}
	source := NewSource(getter, "", testLogger())

	if !source.LoadFromDaemon() {
		t.Fatal("LoadFromDaemon failed with defaults endpoint available")
	}
	if got := source.Value("batch.interval", ""); got != "10s" {
		t.Fatalf("batch.interval = %q", got)
	}
}

func TestSourceFallsBackToTOMLFile(t *testing.T) {
	fallbackPath := filepath.Join(t.TempDir(), "connector.toml")
	content := `
enabled = true

[batch]
interval = "7s"
max_size = 50
`
	if err := os.WriteFile(fallbackPath, []byte(content), 0o600); err != nil {
		t.Fatalf("writing fallback: %v", err)
	}

	getter := &fakeGetter{err: errors.New("daemon unreachable")}
	source := NewSource(getter, fallbackPath, testLogger())

	if !source.LoadFromDaemon() {
		t.Fatal("LoadFromDaemon failed with a TOML fallback present")
	}
	if got := source.Value("batch.interval", ""); got != "7s" {
		t.Fatalf("batch.interval = %q", got)
	}
	if got := source.Value("batch.max_size", ""); got != "50" {
		t.Fatalf("batch.max_size = %q", got)
	}
}

func TestSourceRetainsLastGoodValues(t *testing.T) {
	getter := &fakeGetter{responses: map[string]ipc.Response{
		ipc.PathConfig: {StatusCode: 200, Body: `{"key":"original"}`},
	}}
	source := NewSource(getter, "", testLogger())
	if !source.LoadFromDaemon() {
		t.Fatal("initial load failed")
	}

	// Daemon goes away; the refresh fails but reports loaded and the
	// old values survive.
	getter.err = errors.New("daemon unreachable")
	if !source.LoadFromDaemon() {
		t.Fatal("refresh with prior values reported not loaded")
	}
	if got := source.Value("key", ""); got != "original" {
		t.Fatalf("key = %q after failed refresh, want original", got)
	}
}

func TestSourceNothingAvailable(t *testing.T) {
	getter := &fakeGetter{err: errors.New("daemon unreachable")}
	source := NewSource(getter, "", testLogger())
	if source.LoadFromDaemon() {
		t.Fatal("LoadFromDaemon succeeded with no source available")
	}
	if source.Loaded() {
		t.Fatal("Loaded reports true with no successful tier")
	}
}
