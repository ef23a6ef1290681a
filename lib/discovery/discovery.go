// Copyright 2026 The Pier Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/seacliff-io/pier/lib/clock"
	"github.com/seacliff-io/pier/lib/ipc"
	"github.com/seacliff-io/pier/lib/transport"
)

// socketInfoFileName is the well-known file the daemon writes when it
// starts listening.
const socketInfoFileName = "daemon.json"

// InfoPath returns the per-user socket-info file path for a mode:
// <home>/.pier/<mode>/daemon.json.
func InfoPath(mode string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".pier", mode, socketInfoFileName), nil
}

// Options configures a Discovery.
type Options struct {
	// InfoPath overrides the socket-info file location. When empty,
	// the per-user path for Mode is used.
	InfoPath string

	// Mode selects the daemon instance ("production", "development",
	// ...). Default "production". Ignored when InfoPath is set.
	Mode string

	// ProbeTimeout bounds the connect-and-disconnect reachability
	// probe. Default 2s.
	ProbeTimeout time.Duration

	// Clock drives WaitForDaemon's poll loop. Default the real clock.
	Clock clock.Clock
}

const (
	defaultMode         = "production"
	defaultProbeTimeout = 2 * time.Second
)

// Discovery produces verified, reachable DaemonInfo values. Safe for
// concurrent use.
type Discovery struct {
	infoPath     string
	probeTimeout time.Duration
	clock        clock.Clock
	logger       *slog.Logger

	mu     sync.Mutex
	cached *ipc.DaemonInfo
}

// New constructs a Discovery. Returns an error only when the home
// directory cannot be resolved and no explicit InfoPath was given.
func New(options Options, logger *slog.Logger) (*Discovery, error) {
	if options.Mode == "" {
		options.Mode = defaultMode
	}
	if options.InfoPath == "" {
		path, err := InfoPath(options.Mode)
		if err != nil {
			return nil, err
		}
		options.InfoPath = path
	}
	if options.ProbeTimeout <= 0 {
		options.ProbeTimeout = defaultProbeTimeout
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	return &Discovery{
		infoPath:     options.InfoPath,
		probeTimeout: options.ProbeTimeout,
		clock:        options.Clock,
		logger:       logger,
	}, nil
}

// Discover returns a verified, reachable daemon or reports not found.
//
// A cached entry that still passes a live probe is returned without
// disk I/O. Otherwise the cache is invalidated and the socket-info
// file is re-read: permission check, JSON parse, process liveness
// check, connect probe. Only a daemon that passes the probe is cached.
func (d *Discovery) Discover(ctx context.Context) (ipc.DaemonInfo, bool) {
	d.mu.Lock()
	cached := d.cached
	d.mu.Unlock()

	if cached != nil {
		if transport.Probe(ctx, *cached, d.probeTimeout) == nil {
			return *cached, true
		}
		d.logger.Debug("cached daemon no longer reachable", "path", cached.Path)
		d.ClearCache()
	}

	info, ok := d.readInfoFile()
	if !ok {
		return ipc.DaemonInfo{}, false
	}

	if info.PID > 0 && !processAlive(info.PID) {
		d.logger.Info("socket-info file references a dead daemon, removing",
			"pid", info.PID,
			"info_path", d.infoPath,
		)
		// Best effort: the file is stale either way.
		os.Remove(d.infoPath)
		return ipc.DaemonInfo{}, false
	}

	if err := transport.Probe(ctx, info, d.probeTimeout); err != nil {
		d.logger.Debug("daemon transport probe failed",
			"kind", info.Kind,
			"path", info.Path,
			"error", err,
		)
		return ipc.DaemonInfo{}, false
	}
	info.Reachable = true

	d.mu.Lock()
	d.cached = &info
	d.mu.Unlock()
	return info, true
}

// WaitForDaemon polls Discover until a reachable daemon appears or
// timeout elapses. Blocks the calling thread in a poll/sleep loop —
// acceptable because discovery happens once at startup, off any hot
// path. Returns not found on timeout or context cancellation.
func (d *Discovery) WaitForDaemon(ctx context.Context, timeout, pollInterval time.Duration) (ipc.DaemonInfo, bool) {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	deadline := d.clock.Now().Add(timeout)

	for {
		if info, ok := d.Discover(ctx); ok {
			return info, true
		}
		if ctx.Err() != nil || !d.clock.Now().Add(pollInterval).Before(deadline) {
			return ipc.DaemonInfo{}, false
		}
		d.clock.Sleep(pollInterval)
	}
}

// ClearCache forces the next Discover to re-read the socket-info file.
func (d *Discovery) ClearCache() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}

// readInfoFile loads and validates the socket-info file. All failures
// (absent, over-permissive, malformed) report not found.
func (d *Discovery) readInfoFile() (ipc.DaemonInfo, bool) {
	fileInfo, err := os.Stat(d.infoPath)
	if err != nil {
		return ipc.DaemonInfo{}, false
	}
	if permissionsTooOpen(fileInfo) {
		d.logger.Warn("socket-info file is accessible by other users, ignoring",
			"info_path", d.infoPath,
			"mode", fileInfo.Mode().Perm().String(),
		)
		return ipc.DaemonInfo{}, false
	}

	data, err := os.ReadFile(d.infoPath)
	if err != nil {
		return ipc.DaemonInfo{}, false
	}

	var info ipc.DaemonInfo
	if err := json.Unmarshal(data, &info); err != nil {
		d.logger.Debug("socket-info file is not valid JSON",
			"info_path", d.infoPath,
			"error", err,
		)
		return ipc.DaemonInfo{}, false
	}

	if info.Path == "" {
		return ipc.DaemonInfo{}, false
	}
	if info.Kind != ipc.TransportUnixSocket && info.Kind != ipc.TransportNamedPipe {
		return ipc.DaemonInfo{}, false
	}
	return info, true
}
