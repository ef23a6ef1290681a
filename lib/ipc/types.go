// Copyright 2026 The Pier Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"encoding/json"
	"time"
)

// TransportKind identifies the local IPC transport a daemon listens on.
type TransportKind string

const (
	// TransportUnixSocket is a Unix domain socket (Linux, macOS).
	TransportUnixSocket TransportKind = "unix_socket"

	// TransportNamedPipe is a Windows named pipe.
	TransportNamedPipe TransportKind = "named_pipe"
)

// Daemon endpoint paths consumed by the connector runtime. These are
// part of the daemon's API contract, defined here so call sites do not
// scatter string literals.
const (
	PathHandshake      = "/auth/handshake"
	PathEvent          = "/events"
	PathEventBatch     = "/events/batch"
	PathEventChunk     = "/events/chunk"
	PathStatus         = "/status"
	PathConfig         = "/config"
	PathConfigDefaults = "/config/defaults"
)

// DaemonInfo describes a reachable daemon instance, constructed by
// discovery from the socket-info file. Exactly one transport kind is
// in effect; Path is a socket path for unix_socket and a pipe name for
// named_pipe. A PID of 0 means the daemon's process id is unknown and
// was not liveness-checked.
type DaemonInfo struct {
	Kind TransportKind `json:"type"`
	Path string        `json:"path"`
	PID  int           `json:"pid"`

	// Reachable is derived by discovery's connect probe. Never
	// persisted; the socket-info file on disk does not carry it.
	Reachable bool `json:"-"`
}

// Request is one framed request to the daemon.
type Request struct {
	Method      string            `json:"method"`
	Path        string            `json:"path"`
	Data        any               `json:"data,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	QueryParams map[string]string `json:"query_params,omitempty"`
}

// ResponseEnvelope is the daemon's framed response shape: a status
// code and a nested result payload of any JSON type. The transport
// extracts Result and surfaces it opaquely via Response.
type ResponseEnvelope struct {
	Status int             `json:"status"`
	Result json.RawMessage `json:"result"`
}

// Response is the caller-facing outcome of one request: the daemon's
// status code plus the raw result payload as an opaque string. Every
// request produces exactly one Response or a connection-level error;
// partial responses are never surfaced.
type Response struct {
	StatusCode int
	Body       string
}

// OK reports whether the status code indicates success.
func (r Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// DecodeBody unmarshals the opaque result payload into v.
func (r Response) DecodeBody(v any) error {
	return json.Unmarshal([]byte(r.Body), v)
}

// HandshakeRequest is the body of the mandatory authentication
// request sent immediately after transport connect.
type HandshakeRequest struct {
	PID        int    `json:"pid"`
	ClientType string `json:"client_type"`
}

// Event is one captured unit of connector data. Invalid events (empty
// connector id or event type) are dropped before leaving the process,
// never transmitted.
type Event struct {
	ConnectorID string         `json:"connector_id"`
	EventID     string         `json:"event_id,omitempty"`
	Type        string         `json:"event_type"`
	Timestamp   time.Time      `json:"timestamp"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// Valid reports whether the event carries the fields required for
// transmission.
func (e Event) Valid() bool {
	return e.ConnectorID != "" && e.Type != ""
}

// EventBatch is the body of a batch submission.
type EventBatch struct {
	ConnectorID string  `json:"connector_id"`
	Events      []Event `json:"events"`
}

// Chunk is one fragment of an oversized payload. All fragments of a
// session share SessionID, TotalChunks, TotalSize, Checksum, and
// ContentEncoding; ChunkIndex values form a contiguous
// 0..TotalChunks-1 set.
type Chunk struct {
	SessionID   string `json:"session_id"`
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`

	// TotalSize is the byte length of the full serialized payload
	// (after compression, when ContentEncoding is set).
	TotalSize int `json:"total_size"`

	// Checksum is the hex-encoded BLAKE3 digest of the full
	// serialized payload, identical across all fragments of the
	// session. Integrity against corruption, not security.
	Checksum string `json:"checksum"`

	// ContentEncoding is "zstd" when the payload was compressed
	// before splitting, empty otherwise.
	ContentEncoding string `json:"content_encoding,omitempty"`

	Data string `json:"data"`
}

// RunState is the lifecycle state of a connector process.
type RunState string

const (
	StateStopped  RunState = "stopped"
	StateStarting RunState = "starting"
	StateRunning  RunState = "running"
	StateStopping RunState = "stopping"
	StateError    RunState = "error"
)

// Status is the periodic state push describing a connector to the
// daemon. The daemon is the system of record; connectors do not
// persist status locally.
type Status struct {
	ConnectorID  string   `json:"connector_id"`
	DisplayName  string   `json:"display_name"`
	Enabled      bool     `json:"enabled"`
	State        RunState `json:"state"`
	PID          int      `json:"pid"`
	ErrorMessage string   `json:"error_message,omitempty"`
	ErrorCode    string   `json:"error_code,omitempty"`

	EventsSent    uint64 `json:"events_sent"`
	EventsDropped uint64 `json:"events_dropped"`
	SendErrors    uint64 `json:"send_errors"`

	LastActivity  time.Time `json:"last_activity,omitzero"`
	LastHeartbeat time.Time `json:"last_heartbeat,omitzero"`
}
