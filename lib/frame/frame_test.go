// Copyright 2026 The Pier Authors
// SPDX-License-Identifier: Apache-2.0

package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	var buffer bytes.Buffer
	message := map[string]any{"method": "POST", "path": "/events"}

	if err := Write(&buffer, message); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var decoded map[string]any
	if err := ReadInto(&buffer, MaxFrameSize, &decoded); err != nil {
		t.Fatalf("ReadInto: %v", err)
	}
	if decoded["method"] != "POST" || decoded["path"] != "/events" {
		t.Fatalf("round trip gave %v", decoded)
	}
}

func TestWritePrefixIsBigEndianLength(t *testing.T) {
	var buffer bytes.Buffer
	body := []byte(`{"a":1}`)
	if err := WriteRaw(&buffer, body); err != nil {
		t.Fatalf("WriteRaw: %v", err)
	}

	raw := buffer.Bytes()
	if len(raw) != 4+len(body) {
		t.Fatalf("frame is %d bytes, want %d", len(raw), 4+len(body))
	}
	if got := binary.BigEndian.Uint32(raw[:4]); got != uint32(len(body)) {
		t.Fatalf("length prefix = %d, want %d", got, len(body))
	}
	if !bytes.Equal(raw[4:], body) {
		t.Fatalf("frame body = %q, want %q", raw[4:], body)
	}
}

// drip delivers at most one byte per Read call, simulating an OS
// stream that fragments every message.
type drip struct {
	reader io.Reader
}

func (d drip) Read(p []byte) (int, error) {
	if len(p) > 1 {
		p = p[:1]
	}
	return d.reader.Read(p)
}

func TestReadReassemblesPartialDelivery(t *testing.T) {
	var buffer bytes.Buffer
	body := []byte(`{"data":"` + strings.Repeat("x", 300) + `"}`)
	if err := WriteRaw(&buffer, body); err != nil {
		t.Fatalf("WriteRaw: %v", err)
	}

	got, err := Read(drip{&buffer}, MaxFrameSize)
	if err != nil {
		t.Fatalf("Read over 1-byte deliveries: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("Read gave %d bytes, want %d identical bytes", len(got), len(body))
	}
}

func TestReadRejectsZeroLengthFrame(t *testing.T) {
	if _, err := Read(bytes.NewReader([]byte{0, 0, 0, 0}), MaxFrameSize); !errors.Is(err, ErrEmptyFrame) {
		t.Fatalf("zero-length frame gave %v, want ErrEmptyFrame", err)
	}
}

func TestReadRejectsOversizedFrame(t *testing.T) {
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], 1024)
	if _, err := Read(bytes.NewReader(prefix[:]), 512); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("oversized frame gave %v, want ErrFrameTooLarge", err)
	}
}

func TestReadFailsOnTruncatedBody(t *testing.T) {
	var buffer bytes.Buffer
	if err := WriteRaw(&buffer, []byte(`{"a":1}`)); err != nil {
		t.Fatalf("WriteRaw: %v", err)
	}
	truncated := buffer.Bytes()[:buffer.Len()-3]

	if _, err := Read(bytes.NewReader(truncated), MaxFrameSize); err == nil {
		t.Fatal("truncated body read succeeded, want error")
	}
}

func TestReadFailsOnTruncatedPrefix(t *testing.T) {
	if _, err := Read(bytes.NewReader([]byte{0, 0}), MaxFrameSize); err == nil {
		t.Fatal("truncated prefix read succeeded, want error")
	}
}

func TestWriteRejectsEmptyBody(t *testing.T) {
	if err := WriteRaw(io.Discard, nil); !errors.Is(err, ErrEmptyFrame) {
		t.Fatalf("empty body write gave %v, want ErrEmptyFrame", err)
	}
}
