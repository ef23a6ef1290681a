// Copyright 2026 The Pier Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/seacliff-io/pier/lib/frame"
	"github.com/seacliff-io/pier/lib/ipc"
)

// Transport is a single connected request/response channel to the
// daemon. Implementations are not safe for concurrent Roundtrip calls
// from multiple goroutines making independent requests; the runtime
// serializes usage through its batch and heartbeat call sites.
type Transport interface {
	// Connect establishes the channel. Bounded by the configured
	// connect timeout and by ctx.
	Connect(ctx context.Context) error

	// Roundtrip sends one framed request and reads one framed
	// response. Every call produces exactly one Response or an
	// error; partial responses are never surfaced.
	Roundtrip(request ipc.Request) (ipc.Response, error)

	// Close tears down the channel. Idempotent, and safe to call
	// while a Roundtrip is in flight: the pending I/O fails instead
	// of running out its deadline.
	Close() error
}

// Options configures channel construction.
type Options struct {
	// ConnectTimeout bounds Connect. Default 5s.
	ConnectTimeout time.Duration

	// IOTimeout bounds each Roundtrip's send and receive phases
	// together. Default 30s.
	IOTimeout time.Duration

	// MaxFrameSize bounds the declared length of a received frame.
	// Default frame.MaxFrameSize.
	MaxFrameSize uint32
}

const (
	defaultConnectTimeout = 5 * time.Second
	defaultIOTimeout      = 30 * time.Second
)

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	if o.IOTimeout <= 0 {
		o.IOTimeout = defaultIOTimeout
	}
	if o.MaxFrameSize == 0 {
		o.MaxFrameSize = frame.MaxFrameSize
	}
	return o
}

// New returns the platform transport for the daemon's kind. Returns an
// error when the kind is not supported on this platform (a named-pipe
// daemon on POSIX, a unix-socket daemon on Windows).
func New(info ipc.DaemonInfo, options Options) (Transport, error) {
	options = options.withDefaults()
	dial, err := dialerFor(info)
	if err != nil {
		return nil, err
	}
	return &channel{
		dial:    dial,
		options: options,
	}, nil
}

// Probe performs a lightweight connect-and-disconnect on the daemon's
// transport. Used by discovery to derive the reachability flag without
// exchanging any messages.
func Probe(ctx context.Context, info ipc.DaemonInfo, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	dial, err := dialerFor(info)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := dial(ctx)
	if err != nil {
		return classify("connect", err)
	}
	return conn.Close()
}

// dialFunc opens the platform-specific connection. Selected once at
// construction; a channel is single-transport for its lifetime.
type dialFunc func(ctx context.Context) (net.Conn, error)

// channel is the shared request/response cycle over any dialFunc. The
// platform variants differ only in how the net.Conn is opened.
//
// mu serializes Connect and Roundtrip. The connection itself lives
// behind connMu so Close never queues behind an in-flight Roundtrip:
// closing the net.Conn directly fails the pending read.
type channel struct {
	dial    dialFunc
	options Options

	mu sync.Mutex

	connMu sync.Mutex
	conn   net.Conn
}

// current returns the live connection, or nil before Connect and
// after Close.
func (c *channel) current() net.Conn {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn
}

func (c *channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current() != nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.options.ConnectTimeout)
	defer cancel()

	conn, err := c.dial(ctx)
	if err != nil {
		return classify("connect", err)
	}
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	return nil
}

func (c *channel) Roundtrip(request ipc.Request) (ipc.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn := c.current()
	if conn == nil {
		return ipc.Response{}, &Error{Op: "send", Category: CategoryClosed, Err: errNotConnected}
	}

	deadline := time.Now().Add(c.options.IOTimeout)
	if err := conn.SetDeadline(deadline); err != nil {
		return ipc.Response{}, classify("send", err)
	}

	if err := frame.Write(conn, request); err != nil {
		return ipc.Response{}, classify("send", err)
	}

	var envelope ipc.ResponseEnvelope
	if err := frame.ReadInto(conn, c.options.MaxFrameSize, &envelope); err != nil {
		return ipc.Response{}, classify("receive", err)
	}

	return ipc.Response{
		StatusCode: envelope.Status,
		Body:       extractResult(envelope.Result),
	}, nil
}

func (c *channel) Close() error {
	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil && err != io.EOF {
		return fmt.Errorf("closing transport: %w", err)
	}
	return nil
}

// extractResult surfaces the nested result payload as an opaque
// string. A JSON string result is unquoted; objects, arrays, and
// other primitives keep their JSON text verbatim.
func extractResult(result json.RawMessage) string {
	if len(result) == 0 {
		return ""
	}
	if result[0] == '"' {
		var s string
		if err := json.Unmarshal(result, &s); err == nil {
			return s
		}
	}
	return string(result)
}
