// Copyright 2026 The Pier Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides the two configuration surfaces a connector
// process consumes.
//
// Settings are the connector's own static runtime knobs (batch
// interval, queue capacity, chunking policy), loaded once at startup
// from a YAML file. There is no automatic discovery: the file path is
// explicit, and a missing file yields the embedded defaults.
//
// Source is the daemon-backed configuration collaborator: current
// values from the daemon's /config endpoint, the daemon's defaults as
// a second tier, and a connector-local TOML file as the offline
// fallback. Values are flat string key/value pairs with dotted-path
// keys; the last successfully loaded set is retained in memory so a
// daemon restart does not flip values mid-run.
package config
