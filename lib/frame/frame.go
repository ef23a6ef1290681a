// Copyright 2026 The Pier Authors
// SPDX-License-Identifier: Apache-2.0

// Package frame implements the IPC wire framing: every message is a
// 4-byte big-endian unsigned length prefix followed by exactly that
// many bytes of UTF-8 JSON. The reader consumes the prefix fully
// before the body and reads exactly the declared number of body bytes,
// looping on short reads. Early EOF, a zero-length frame, or any I/O
// error is a hard failure for that message — retry policy belongs to
// the caller, not this layer.
package frame

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize is the default upper bound on a single frame body.
// 16 MB is far above any single batch the runtime produces (oversized
// batches are chunked well below this), so hitting it indicates a
// corrupt or hostile peer rather than a legitimate message.
const MaxFrameSize = 16 * 1024 * 1024

// ErrFrameTooLarge is returned when a frame's declared length exceeds
// the reader's maximum.
var ErrFrameTooLarge = errors.New("frame: declared length exceeds maximum")

// ErrEmptyFrame is returned when a frame declares a zero-length body.
// The protocol has no empty messages; a zero prefix means the stream
// is corrupt.
var ErrEmptyFrame = errors.New("frame: zero-length frame")

// Write marshals v to JSON and writes it to w as one length-prefixed
// frame.
func Write(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("frame: marshaling message: %w", err)
	}
	return WriteRaw(w, body)
}

// WriteRaw writes pre-serialized body bytes to w as one
// length-prefixed frame.
func WriteRaw(w io.Writer, body []byte) error {
	if len(body) == 0 {
		return ErrEmptyFrame
	}
	if len(body) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(body)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("frame: writing length prefix: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("frame: writing body: %w", err)
	}
	return nil
}

// Read reads one frame from r and returns the body bytes. maxSize
// bounds the declared body length; pass MaxFrameSize unless the
// caller has a tighter bound.
//
// The length prefix is read fully before the body, and the body is
// read with io.ReadFull so partial OS-level deliveries are reassembled
// into exactly the declared byte count.
func Read(r io.Reader, maxSize uint32) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("frame: short read on length prefix: %w", err)
		}
		return nil, fmt.Errorf("frame: reading length prefix: %w", err)
	}

	length := binary.BigEndian.Uint32(prefix[:])
	if length == 0 {
		return nil, ErrEmptyFrame
	}
	if length > maxSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, length, maxSize)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("frame: reading %d-byte body: %w", length, err)
	}
	return body, nil
}

// ReadInto reads one frame from r and unmarshals its JSON body into v.
func ReadInto(r io.Reader, maxSize uint32, v any) error {
	body, err := Read(r, maxSize)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("frame: unmarshaling message: %w", err)
	}
	return nil
}
