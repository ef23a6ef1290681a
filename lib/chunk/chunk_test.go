// Copyright 2026 The Pier Authors
// SPDX-License-Identifier: Apache-2.0

package chunk

import (
	"bytes"
	"errors"
	"log/slog"
	"math/rand"
	"os"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// testManager uses a tiny chunk size so multi-fragment sessions are
// cheap to produce, and disables compression unless a test opts in.
func testManager() *Manager {
	return NewManager(Config{
		MaxChunkSize:      64,
		MinChunkSize:      16,
		CompressThreshold: -1,
	}, testLogger())
}

func randomPayload(t *testing.T, n int) []byte {
	t.Helper()
	payload := make([]byte, n)
	source := rand.New(rand.NewSource(int64(n)))
	if _, err := source.Read(payload); err != nil {
		t.Fatalf("generating payload: %v", err)
	}
	return payload
}

func TestSplitReassembleRoundTrip(t *testing.T) {
	manager := testManager()

	// 0 bytes through several multiples of the chunk size, including
	// exact-boundary sizes.
	for _, size := range []int{0, 1, 15, 63, 64, 65, 128, 129, 200, 64 * 5, 64*5 + 1} {
		payload := randomPayload(t, size)
		chunks := manager.Split(payload)

		reassembled, err := manager.Reassemble(chunks)
		if err != nil {
			t.Fatalf("size %d: Reassemble: %v", size, err)
		}
		if !bytes.Equal(reassembled, payload) {
			t.Fatalf("size %d: reassembled payload differs from original", size)
		}
	}
}

func TestSplitStampsSessionMetadata(t *testing.T) {
	manager := testManager()
	payload := randomPayload(t, 200)
	chunks := manager.Split(payload)

	if len(chunks) != 4 {
		t.Fatalf("200 bytes at chunk size 64 gave %d fragments, want 4", len(chunks))
	}
	head := chunks[0]
	for i, c := range chunks {
		if c.ChunkIndex != i {
			t.Fatalf("fragment %d has index %d", i, c.ChunkIndex)
		}
		if c.SessionID != head.SessionID || c.TotalChunks != 4 ||
			c.TotalSize != 200 || c.Checksum != head.Checksum {
			t.Fatalf("fragment %d disagrees with session metadata: %+v", i, c)
		}
	}
	if head.SessionID == "" || head.Checksum == "" {
		t.Fatal("session id and checksum must be populated")
	}
}

func TestSplitSessionsAreDistinct(t *testing.T) {
	manager := testManager()
	a := manager.Split([]byte("same payload"))
	b := manager.Split([]byte("same payload"))
	if a[0].SessionID == b[0].SessionID {
		t.Fatal("two Split calls produced the same session id")
	}
	if a[0].Checksum != b[0].Checksum {
		t.Fatal("same payload must produce the same checksum")
	}
}

func TestReassembleRejectsTamperedFragment(t *testing.T) {
	manager := testManager()
	chunks := manager.Split(randomPayload(t, 250))

	// Flip one byte in a middle fragment.
	data := []byte(chunks[2].Data)
	data[5] ^= 0xFF
	chunks[2].Data = string(data)

	if _, err := manager.Reassemble(chunks); !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("tampered fragment gave %v, want ErrChecksumMismatch", err)
	}
}

func TestReassembleRejectsMissingFragment(t *testing.T) {
	manager := testManager()
	chunks := manager.Split(randomPayload(t, 250))

	short := chunks[:len(chunks)-1]
	if _, err := manager.Reassemble(short); !errors.Is(err, ErrCountMismatch) {
		t.Fatalf("missing fragment gave %v, want ErrCountMismatch", err)
	}
}

func TestReassembleRejectsDuplicateIndex(t *testing.T) {
	manager := testManager()
	chunks := manager.Split(randomPayload(t, 250))

	// Replace the last fragment with a copy of the first: the count
	// still matches but index 0 appears twice.
	chunks[len(chunks)-1] = chunks[0]
	if _, err := manager.Reassemble(chunks); !errors.Is(err, ErrIndexInvalid) {
		t.Fatalf("duplicate index gave %v, want ErrIndexInvalid", err)
	}
}

func TestReassembleRejectsForeignFragment(t *testing.T) {
	manager := testManager()
	chunks := manager.Split(randomPayload(t, 250))
	other := manager.Split(randomPayload(t, 250))

	chunks[1] = other[1]
	if _, err := manager.Reassemble(chunks); !errors.Is(err, ErrSessionMismatch) {
		t.Fatalf("foreign fragment gave %v, want ErrSessionMismatch", err)
	}
}

func TestReassembleRejectsEmptySet(t *testing.T) {
	if _, err := testManager().Reassemble(nil); !errors.Is(err, ErrNoChunks) {
		t.Fatalf("empty set gave %v, want ErrNoChunks", err)
	}
}

func TestReassembleOutOfOrderFragments(t *testing.T) {
	manager := testManager()
	payload := randomPayload(t, 250)
	chunks := manager.Split(payload)

	// Reverse delivery order; reassembly sorts by index.
	for i, j := 0, len(chunks)-1; i < j; i, j = i+1, j-1 {
		chunks[i], chunks[j] = chunks[j], chunks[i]
	}

	reassembled, err := manager.Reassemble(chunks)
	if err != nil {
		t.Fatalf("Reassemble out-of-order: %v", err)
	}
	if !bytes.Equal(reassembled, payload) {
		t.Fatal("out-of-order reassembly differs from original")
	}
}

func TestShrinkIsMonotonicAndFloored(t *testing.T) {
	manager := NewManager(Config{
		MaxChunkSize:      1000,
		MinChunkSize:      100,
		ShrinkFactor:      0.5,
		CompressThreshold: -1,
	}, testLogger())

	previous := manager.ChunkSize()
	if previous != 1000 {
		t.Fatalf("initial chunk size = %d, want 1000", previous)
	}

	for i := 0; i < 10; i++ {
		manager.Shrink()
		current := manager.ChunkSize()
		if current > previous {
			t.Fatalf("chunk size grew from %d to %d", previous, current)
		}
		if current < 100 {
			t.Fatalf("chunk size %d fell below the floor", current)
		}
		previous = current
	}
	if previous != 100 {
		t.Fatalf("chunk size after repeated shrinks = %d, want floor 100", previous)
	}
}

func TestShrunkSizeAppliesToLaterSplits(t *testing.T) {
	manager := NewManager(Config{
		MaxChunkSize:      100,
		MinChunkSize:      10,
		ShrinkFactor:      0.5,
		CompressThreshold: -1,
	}, testLogger())

	payload := randomPayload(t, 100)
	if chunks := manager.Split(payload); len(chunks) != 1 {
		t.Fatalf("pre-shrink split gave %d fragments, want 1", len(chunks))
	}

	manager.Shrink()
	if chunks := manager.Split(payload); len(chunks) != 2 {
		t.Fatalf("post-shrink split gave %d fragments, want 2", len(chunks))
	}
}

func TestCompressedRoundTrip(t *testing.T) {
	manager := NewManager(Config{
		MaxChunkSize:      1024,
		MinChunkSize:      64,
		CompressThreshold: 512,
	}, testLogger())

	// Repetitive payload well above the threshold so compression
	// engages and actually reduces the fragment count.
	payload := bytes.Repeat([]byte("event payload "), 4096)
	chunks := manager.Split(payload)

	if chunks[0].ContentEncoding != "zstd" {
		t.Fatalf("content encoding = %q, want zstd", chunks[0].ContentEncoding)
	}
	if chunks[0].TotalSize >= len(payload) {
		t.Fatalf("compressed size %d not smaller than original %d", chunks[0].TotalSize, len(payload))
	}

	reassembled, err := manager.Reassemble(chunks)
	if err != nil {
		t.Fatalf("Reassemble compressed session: %v", err)
	}
	if !bytes.Equal(reassembled, payload) {
		t.Fatal("compressed round trip differs from original")
	}
}

func TestSmallPayloadSkipsCompression(t *testing.T) {
	manager := NewManager(Config{
		MaxChunkSize:      1024,
		MinChunkSize:      64,
		CompressThreshold: 512,
	}, testLogger())

	chunks := manager.Split([]byte("small"))
	if chunks[0].ContentEncoding != "" {
		t.Fatalf("small payload has encoding %q, want none", chunks[0].ContentEncoding)
	}
}
