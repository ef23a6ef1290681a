// Copyright 2026 The Pier Authors
// SPDX-License-Identifier: Apache-2.0

// Package client wraps a transport channel with the mandatory
// authentication handshake and exposes GET/POST verbs over the daemon
// protocol.
//
// A client is connected or it is not; there is no unauthenticated
// mode. Connect establishes the transport and performs the
// /auth/handshake exchange — if the daemon does not affirmatively
// authenticate, the channel is torn down and no further requests are
// permitted on it. Requests on a disconnected client produce a
// synthetic connection-error response (plus a sentinel error) rather
// than a panic, so status-checking call sites degrade uniformly.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/seacliff-io/pier/lib/ipc"
	"github.com/seacliff-io/pier/lib/transport"
)

// ErrNotConnected is returned (alongside the synthetic response) when
// a request is made on a client that is not connected.
var ErrNotConnected = errors.New("client: not connected")

// ErrAuthenticationFailed is returned by Connect when the daemon does
// not authenticate the handshake.
var ErrAuthenticationFailed = errors.New("client: authentication failed")

// StatusConnectionError is the synthetic status code for requests
// that never reached the daemon.
const StatusConnectionError = 503

// Client is an authenticated request/response client over a single
// transport channel. Usage is serialized by the runtime's batch and
// heartbeat call sites; the client itself guards connection state for
// the reconnect path.
type Client struct {
	transport  transport.Transport
	clientType string
	logger     *slog.Logger

	mu        sync.Mutex
	connected bool
}

// New builds a client over the platform transport for info.
func New(info ipc.DaemonInfo, clientType string, options transport.Options, logger *slog.Logger) (*Client, error) {
	channel, err := transport.New(info, options)
	if err != nil {
		return nil, err
	}
	return NewFromTransport(channel, clientType, logger), nil
}

// NewFromTransport builds a client over an existing channel. Used by
// tests to substitute transports.
func NewFromTransport(channel transport.Transport, clientType string, logger *slog.Logger) *Client {
	if clientType == "" {
		clientType = "connector"
	}
	return &Client{
		transport:  channel,
		clientType: clientType,
		logger:     logger,
	}
}

// Connect establishes the transport and performs the authentication
// handshake. Idempotent while connected. On any failure the channel
// is closed and the client stays disconnected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	if err := c.transport.Connect(ctx); err != nil {
		return fmt.Errorf("client: connecting transport: %w", err)
	}

	response, err := c.transport.Roundtrip(ipc.Request{
		Method: "POST",
		Path:   ipc.PathHandshake,
		Data: ipc.HandshakeRequest{
			PID:        os.Getpid(),
			ClientType: c.clientType,
		},
	})
	if err != nil {
		c.transport.Close()
		return fmt.Errorf("client: handshake: %w", err)
	}

	switch parseHandshakeBody(response.Body) {
	case authAccepted:
		c.connected = true
		c.logger.Debug("authenticated with daemon", "client_type", c.clientType)
		return nil
	case authRejected:
		c.transport.Close()
		return fmt.Errorf("%w: daemon rejected handshake (status %d)", ErrAuthenticationFailed, response.StatusCode)
	default:
		c.transport.Close()
		return fmt.Errorf("%w: unrecognized handshake response %q", ErrAuthenticationFailed, response.Body)
	}
}

// Connected reports whether the client holds an authenticated channel.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Get performs a GET request on path.
func (c *Client) Get(path string) (ipc.Response, error) {
	return c.do(ipc.Request{Method: "GET", Path: path})
}

// Post performs a POST request with body as the request data.
func (c *Client) Post(path string, body any) (ipc.Response, error) {
	return c.do(ipc.Request{Method: "POST", Path: path, Data: body})
}

func (c *Client) do(request ipc.Request) (ipc.Response, error) {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()

	if !connected {
		return connectionErrorResponse(), ErrNotConnected
	}

	response, err := c.transport.Roundtrip(request)
	if err != nil {
		// A mid-request transport failure invalidates the channel:
		// the next EnsureConnected re-establishes and re-authenticates.
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		c.transport.Close()
		return connectionErrorResponse(), err
	}
	return response, nil
}

// EnsureConnected re-establishes and re-authenticates the channel if
// a previous request failed at the transport level. No-op while
// connected.
func (c *Client) EnsureConnected(ctx context.Context) error {
	return c.Connect(ctx)
}

// Close tears down the channel. The client can be reconnected later
// with Connect.
func (c *Client) Close() error {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	return c.transport.Close()
}

func connectionErrorResponse() ipc.Response {
	return ipc.Response{
		StatusCode: StatusConnectionError,
		Body:       `{"error":"connection error"}`,
	}
}

// authOutcome is the tagged result of handshake-response parsing: the
// daemon legitimately answers in two shapes, so the parse is a small
// ordered set of structural checks rather than speculative field
// access.
type authOutcome int

const (
	authAccepted authOutcome = iota
	authRejected
	authMalformed
)

// parseHandshakeBody accepts either the flat shape
//
//	{"authenticated": true}
//
// or the enveloped shape
//
//	{"success": true, "data": {"authenticated": true}}
//
// with the authenticated value as a boolean or the string "true".
// An envelope with success=false is a rejection regardless of its
// data. Anything else — including a shape with no authenticated field
// at all — is malformed, and malformed is never accepted.
func parseHandshakeBody(body string) authOutcome {
	var fields map[string]any
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return authMalformed
	}

	if value, present := fields["authenticated"]; present {
		return interpretAuthenticated(value)
	}

	success, present := fields["success"]
	if !present {
		return authMalformed
	}
	if accepted, ok := success.(bool); !ok || !accepted {
		return authRejected
	}
	data, ok := fields["data"].(map[string]any)
	if !ok {
		return authMalformed
	}
	value, present := data["authenticated"]
	if !present {
		return authMalformed
	}
	return interpretAuthenticated(value)
}

func interpretAuthenticated(value any) authOutcome {
	switch v := value.(type) {
	case bool:
		if v {
			return authAccepted
		}
		return authRejected
	case string:
		if v == "true" {
			return authAccepted
		}
		return authRejected
	default:
		return authMalformed
	}
}
