// Copyright 2026 The Pier Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/seacliff-io/pier/lib/frame"
)

// Category classifies a transport failure for retry and chunk-size
// decisions.
type Category string

const (
	// CategoryTimeout: connect or I/O deadline exceeded.
	CategoryTimeout Category = "timeout"

	// CategoryRefused: nothing is listening at the socket or pipe.
	CategoryRefused Category = "refused"

	// CategoryReset: the peer dropped the connection mid-exchange.
	CategoryReset Category = "reset"

	// CategoryTooLarge: a frame exceeded the size limit on either
	// side of the exchange.
	CategoryTooLarge Category = "too_large"

	// CategoryClosed: the channel was used before Connect or after
	// Close.
	CategoryClosed Category = "closed"

	// CategoryProtocol: framing or JSON errors — the bytes arrived
	// but were not a valid message.
	CategoryProtocol Category = "protocol"
)

var errNotConnected = errors.New("transport not connected")

// Error is a classified transport failure.
type Error struct {
	// Op is the phase that failed: "connect", "send", or "receive".
	Op string

	Category Category
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport %s (%s): %v", e.Op, e.Category, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsResourceError reports whether err indicates a resource or size
// problem (timeout, size limit) — the error class that triggers the
// chunk manager's adaptive shrink. Connection-identity failures
// (refused, reset) do not shrink: a smaller chunk would not have
// helped.
func IsResourceError(err error) bool {
	var transportError *Error
	if !errors.As(err, &transportError) {
		return false
	}
	return transportError.Category == CategoryTimeout || transportError.Category == CategoryTooLarge
}

// classify wraps err in an *Error with the category derived from the
// underlying failure.
func classify(op string, err error) *Error {
	category := CategoryProtocol

	var netError net.Error
	switch {
	case errors.As(err, &netError) && netError.Timeout():
		category = CategoryTimeout
	case errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ENOENT):
		category = CategoryRefused
	case errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed):
		category = CategoryReset
	case errors.Is(err, frame.ErrFrameTooLarge):
		category = CategoryTooLarge
	}

	return &Error{Op: op, Category: category, Err: err}
}
