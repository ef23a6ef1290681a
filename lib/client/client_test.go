// Copyright 2026 The Pier Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !windows

package client

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/seacliff-io/pier/lib/daemontest"
	"github.com/seacliff-io/pier/lib/ipc"
	"github.com/seacliff-io/pier/lib/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func connectedClient(t *testing.T, daemon *daemontest.Daemon) *Client {
	t.Helper()
	c, err := New(daemon.Info(), "test-connector", transport.Options{}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestConnectSendsHandshake(t *testing.T) {
	daemon := daemontest.New(t)
	connectedClient(t, daemon)

	handshakes := daemon.RequestsFor(ipc.PathHandshake)
	if len(handshakes) != 1 {
		t.Fatalf("daemon saw %d handshakes, want 1", len(handshakes))
	}
	data, ok := handshakes[0].Data.(map[string]any)
	if !ok {
		t.Fatalf("handshake data = %T", handshakes[0].Data)
	}
	if int(data["pid"].(float64)) != os.Getpid() {
		t.Fatalf("handshake pid = %v, want %d", data["pid"], os.Getpid())
	}
	if data["client_type"] != "test-connector" {
		t.Fatalf("handshake client_type = %v", data["client_type"])
	}
}

func TestHandshakeEnvelopeTolerance(t *testing.T) {
	cases := []struct {
		name   string
		result any
		accept bool
	}{
		{"flat boolean", map[string]any{"authenticated": true}, true},
		{"flat string", map[string]any{"authenticated": "true"}, true},
		{"flat false", map[string]any{"authenticated": false}, false},
		{"nested boolean", map[string]any{"success": true, "data": map[string]any{"authenticated": true}}, true},
		{"nested string", map[string]any{"success": true, "data": map[string]any{"authenticated": "true"}}, true},
		{"nested false", map[string]any{"success": true, "data": map[string]any{"authenticated": false}}, false},
		{"success false", map[string]any{"success": false, "data": map[string]any{"authenticated": true}}, false},
		{"missing authenticated", map[string]any{"success": true, "data": map[string]any{}}, false},
		{"empty object", map[string]any{}, false},
	}

	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			daemon := daemontest.New(t)
			daemon.Handle(ipc.PathHandshake, func(ipc.Request) (int, any) {
				return 200, testCase.result
			})

			c, err := New(daemon.Info(), "test-connector", transport.Options{}, testLogger())
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			t.Cleanup(func() { c.Close() })
			err = c.Connect(context.Background())

			if testCase.accept && err != nil {
				t.Fatalf("Connect rejected %v: %v", testCase.result, err)
			}
			if !testCase.accept {
				if !errors.Is(err, ErrAuthenticationFailed) {
					t.Fatalf("Connect on %v gave %v, want ErrAuthenticationFailed", testCase.result, err)
				}
				if c.Connected() {
					t.Fatal("client reports connected after rejected handshake")
				}
			}
		})
	}
}

func TestGetAndPostDelegate(t *testing.T) {
	daemon := daemontest.New(t)
	daemon.Handle("/config", func(ipc.Request) (int, any) {
		return 200, map[string]any{"batch_interval": "5s"}
	})
	daemon.Handle(ipc.PathEvent, func(request ipc.Request) (int, any) {
		return 201, nil
	})

	c := connectedClient(t, daemon)

	response, err := c.Get("/config")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if response.StatusCode != 200 {
		t.Fatalf("Get status = %d", response.StatusCode)
	}
	var config map[string]string
	if err := response.DecodeBody(&config); err != nil {
		t.Fatalf("decoding config: %v", err)
	}
	if config["batch_interval"] != "5s" {
		t.Fatalf("config = %v", config)
	}

	response, err = c.Post(ipc.PathEvent, ipc.Event{ConnectorID: "demo", Type: "test"})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if response.StatusCode != 201 {
		t.Fatalf("Post status = %d", response.StatusCode)
	}
	if got := len(daemon.RequestsFor(ipc.PathEvent)); got != 1 {
		t.Fatalf("daemon saw %d event posts, want 1", got)
	}
}

func TestRequestsWithoutConnectAreSynthetic(t *testing.T) {
	daemon := daemontest.New(t)
	c, err := New(daemon.Info(), "test-connector", transport.Options{}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	response, err := c.Get("/config")
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Get before Connect gave error %v, want ErrNotConnected", err)
	}
	if response.StatusCode != StatusConnectionError {
		t.Fatalf("synthetic status = %d, want %d", response.StatusCode, StatusConnectionError)
	}
	// Nothing reached the daemon.
	if got := len(daemon.Requests()); got != 0 {
		t.Fatalf("daemon saw %d requests, want 0", got)
	}
}

func TestTransportFailureDisconnectsAndReconnects(t *testing.T) {
	daemon := daemontest.New(t)
	daemon.Handle("/ping", func(ipc.Request) (int, any) { return 200, "pong" })

	c := connectedClient(t, daemon)

	// Kill the daemon; the in-flight request fails and the client
	// marks itself disconnected.
	daemon.Close()
	if _, err := c.Get("/ping"); err == nil {
		t.Fatal("Get against closed daemon succeeded")
	}
	if c.Connected() {
		t.Fatal("client still reports connected after transport failure")
	}

	// A new daemon on the same socket path is unlikely in tests;
	// verify the disconnected client degrades to synthetic responses.
	if _, err := c.Get("/ping"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Get after disconnect gave %v, want ErrNotConnected", err)
	}
}
