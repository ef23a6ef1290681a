// Copyright 2026 The Pier Authors
// SPDX-License-Identifier: Apache-2.0

// Package daemontest runs an in-process fake daemon for tests: a Unix
// domain socket speaking the real length-prefixed JSON protocol, with
// per-path handlers and request recording. Transport, client, and
// runtime tests all talk to it through the production code paths.
package daemontest

import (
	"errors"
	"io"
	"net"
	"path/filepath"
	"sync"
	"testing"

	"github.com/seacliff-io/pier/lib/frame"
	"github.com/seacliff-io/pier/lib/ipc"
	"github.com/seacliff-io/pier/lib/testutil"
)

// Handler produces the response for one request path: a status code
// and a result payload (marshaled into the response envelope's result
// field).
type Handler func(request ipc.Request) (status int, result any)

// Daemon is a fake daemon listening on a Unix socket. Connections are
// persistent: each serves framed request/response cycles until the
// client disconnects.
type Daemon struct {
	socketPath string
	listener   net.Listener

	mu       sync.Mutex
	handlers map[string]Handler
	requests []ipc.Request

	connections sync.WaitGroup
}

// New starts a fake daemon on a fresh socket path. The daemon answers
// the authentication handshake with {authenticated: true} unless the
// test overrides the handler. Closed automatically when the test
// completes.
func New(t *testing.T) *Daemon {
	t.Helper()

	socketPath := filepath.Join(testutil.SocketDir(t), "daemon.sock")
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listening on %s: %v", socketPath, err)
	}

	daemon := &Daemon{
		socketPath: socketPath,
		listener:   listener,
		handlers:   make(map[string]Handler),
	}
	daemon.Handle(ipc.PathHandshake, func(ipc.Request) (int, any) {
		return 200, map[string]any{"authenticated": true}
	})

	go daemon.acceptLoop()
	t.Cleanup(daemon.Close)
	return daemon
}

// SocketPath returns the daemon's socket path.
func (d *Daemon) SocketPath() string { return d.socketPath }

// Info returns the DaemonInfo a successful discovery of this fake
// would produce.
func (d *Daemon) Info() ipc.DaemonInfo {
	return ipc.DaemonInfo{
		Kind:      ipc.TransportUnixSocket,
		Path:      d.socketPath,
		Reachable: true,
	}
}

// Handle registers (or replaces) the handler for a request path.
func (d *Daemon) Handle(path string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[path] = handler
}

// Requests returns a copy of every request received so far, in arrival
// order.
func (d *Daemon) Requests() []ipc.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	requests := make([]ipc.Request, len(d.requests))
	copy(requests, d.requests)
	return requests
}

// RequestsFor returns the received requests matching path.
func (d *Daemon) RequestsFor(path string) []ipc.Request {
	var matching []ipc.Request
	for _, request := range d.Requests() {
		if request.Path == path {
			matching = append(matching, request)
		}
	}
	return matching
}

// Close stops accepting connections and waits for active ones to
// finish. Idempotent.
func (d *Daemon) Close() {
	d.listener.Close()
	d.connections.Wait()
}

func (d *Daemon) acceptLoop() {
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			return
		}
		d.connections.Add(1)
		go func() {
			defer d.connections.Done()
			d.serve(conn)
		}()
	}
}

func (d *Daemon) serve(conn net.Conn) {
	defer conn.Close()

	for {
		var request ipc.Request
		if err := frame.ReadInto(conn, frame.MaxFrameSize, &request); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			return
		}

		d.mu.Lock()
		d.requests = append(d.requests, request)
		handler := d.handlers[request.Path]
		d.mu.Unlock()

		status, result := 404, any(map[string]any{"error": "no handler"})
		if handler != nil {
			status, result = handler(request)
		}

		if err := frame.Write(conn, map[string]any{
			"status": status,
			"result": result,
		}); err != nil {
			return
		}
	}
}
