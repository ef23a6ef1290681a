// Copyright 2026 The Pier Authors
// SPDX-License-Identifier: Apache-2.0

package chunk

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/seacliff-io/pier/lib/ipc"
)

// Reassembly failure modes. All of them invalidate the entire session;
// callers never receive partial output.
var (
	ErrNoChunks         = errors.New("chunk: empty fragment set")
	ErrSessionMismatch  = errors.New("chunk: fragments from different sessions")
	ErrCountMismatch    = errors.New("chunk: fragment count does not match declared total")
	ErrIndexInvalid     = errors.New("chunk: fragment index out of range or duplicated")
	ErrSizeMismatch     = errors.New("chunk: reassembled size does not match declared total")
	ErrChecksumMismatch = errors.New("chunk: reassembled checksum does not match declared checksum")
)

// Config is the chunking policy. The zero value of any field is
// replaced by its default at Manager construction; Config is immutable
// afterwards except for the Manager's live chunk size.
type Config struct {
	// MaxChunkSize is the initial (and largest) fragment size in
	// bytes. Default 256 KB.
	MaxChunkSize int

	// MinChunkSize is the floor for adaptive shrinking. Default 16 KB.
	MinChunkSize int

	// MaxRetries is the number of re-sends after a failed fragment
	// transmission. Zero uses the default (3); negative disables
	// retries.
	MaxRetries int

	// RetryDelay is the fixed pause between fragment transmission
	// attempts. Default 500ms.
	RetryDelay time.Duration

	// ShrinkFactor is the multiplier applied to the live chunk size
	// on a resource-class transmission failure. Default 0.5.
	ShrinkFactor float64

	// CompressThreshold is the payload size in bytes at which the
	// payload is zstd-compressed before splitting. Zero uses the
	// default (1 MB); negative disables compression.
	CompressThreshold int
}

const (
	defaultMaxChunkSize      = 256 * 1024
	defaultMinChunkSize      = 16 * 1024
	defaultMaxRetries        = 3
	defaultRetryDelay        = 500 * time.Millisecond
	defaultShrinkFactor      = 0.5
	defaultCompressThreshold = 1024 * 1024
)

func (c Config) withDefaults() Config {
	if c.MaxChunkSize <= 0 {
		c.MaxChunkSize = defaultMaxChunkSize
	}
	if c.MinChunkSize <= 0 {
		c.MinChunkSize = defaultMinChunkSize
	}
	if c.MinChunkSize > c.MaxChunkSize {
		c.MinChunkSize = c.MaxChunkSize
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	if c.ShrinkFactor <= 0 || c.ShrinkFactor >= 1 {
		c.ShrinkFactor = defaultShrinkFactor
	}
	if c.CompressThreshold == 0 {
		c.CompressThreshold = defaultCompressThreshold
	}
	return c
}

// zstdEncoder and zstdDecoder are shared across Managers. EncodeAll
// and DecodeAll are safe for concurrent use.
var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// Manager splits payloads into fragments and reassembles candidate
// fragment sets. Safe for concurrent use; the live chunk size is the
// only mutable state.
type Manager struct {
	config Config
	logger *slog.Logger

	mu               sync.Mutex
	currentChunkSize int
}

// NewManager returns a Manager with the given policy. Zero-valued
// Config fields take their defaults.
func NewManager(config Config, logger *slog.Logger) *Manager {
	config = config.withDefaults()
	return &Manager{
		config:           config,
		logger:           logger,
		currentChunkSize: config.MaxChunkSize,
	}
}

// Config returns the Manager's effective policy (defaults applied).
func (m *Manager) Config() Config { return m.config }

// ChunkSize returns the live fragment size. Starts at MaxChunkSize
// and only ever shrinks.
func (m *Manager) ChunkSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentChunkSize
}

// Shrink reduces the live chunk size by the configured factor, floored
// at MinChunkSize. Called by the transmitting side when a fragment
// send fails with a resource- or size-class error. The reduction is
// sticky for the life of the Manager; nothing grows it back.
func (m *Manager) Shrink() {
	m.mu.Lock()
	defer m.mu.Unlock()

	previous := m.currentChunkSize
	shrunk := int(float64(m.currentChunkSize) * m.config.ShrinkFactor)
	if shrunk < m.config.MinChunkSize {
		shrunk = m.config.MinChunkSize
	}
	m.currentChunkSize = shrunk

	if shrunk != previous {
		m.logger.Info("chunk size reduced after transport pressure",
			"previous", previous,
			"current", shrunk,
		)
	}
}

// Split divides payload into ordered fragments of at most the live
// chunk size, all stamped with one fresh session id, the total
// fragment count, the total serialized size, and the checksum of the
// whole serialized payload.
//
// Payloads at or above the compression threshold are zstd-compressed
// and base64-encoded first; the checksum and total size then cover the
// encoded form, and every fragment carries ContentEncoding "zstd" so
// reassembly reverses both steps.
//
// A zero-length payload yields a single empty fragment so the session
// still round-trips (the receiving side reconstructs an empty
// payload, checksum-verified like any other).
func (m *Manager) Split(payload []byte) []ipc.Chunk {
	encoding := ""
	if m.config.CompressThreshold > 0 && len(payload) >= m.config.CompressThreshold {
		compressed := zstdEncoder.EncodeAll(payload, nil)
		payload = []byte(base64.StdEncoding.EncodeToString(compressed))
		encoding = "zstd"
	}

	digest := blake3.Sum256(payload)
	checksum := hex.EncodeToString(digest[:])
	size := m.ChunkSize()

	totalChunks := (len(payload) + size - 1) / size
	if totalChunks == 0 {
		totalChunks = 1
	}

	sessionID := uuid.NewString()
	chunks := make([]ipc.Chunk, 0, totalChunks)
	for index := 0; index < totalChunks; index++ {
		start := index * size
		end := start + size
		if end > len(payload) {
			end = len(payload)
		}
		chunks = append(chunks, ipc.Chunk{
			SessionID:       sessionID,
			ChunkIndex:      index,
			TotalChunks:     totalChunks,
			TotalSize:       len(payload),
			Checksum:        checksum,
			ContentEncoding: encoding,
			Data:            string(payload[start:end]),
		})
	}
	return chunks
}

// Reassemble validates chunks as a complete session and reconstructs
// the original payload. Validation covers cross-fragment consistency
// (session id, total count, total size, checksum, content encoding),
// exact fragment count, and a gap-free, duplicate-free index set.
// After concatenation the checksum of the whole is verified against
// the declared checksum. Any failure returns a nil payload and an
// error; partial reconstructions are never returned.
func (m *Manager) Reassemble(chunks []ipc.Chunk) ([]byte, error) {
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}

	head := chunks[0]
	if head.TotalChunks != len(chunks) {
		return nil, fmt.Errorf("%w: have %d, declared %d", ErrCountMismatch, len(chunks), head.TotalChunks)
	}

	seen := make(map[int]bool, len(chunks))
	for _, c := range chunks {
		if c.SessionID != head.SessionID ||
			c.TotalChunks != head.TotalChunks ||
			c.TotalSize != head.TotalSize ||
			c.Checksum != head.Checksum ||
			c.ContentEncoding != head.ContentEncoding {
			return nil, ErrSessionMismatch
		}
		if c.ChunkIndex < 0 || c.ChunkIndex >= head.TotalChunks || seen[c.ChunkIndex] {
			return nil, fmt.Errorf("%w: index %d", ErrIndexInvalid, c.ChunkIndex)
		}
		seen[c.ChunkIndex] = true
	}

	ordered := make([]ipc.Chunk, len(chunks))
	copy(ordered, chunks)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].ChunkIndex < ordered[j].ChunkIndex
	})

	assembled := make([]byte, 0, head.TotalSize)
	for _, c := range ordered {
		assembled = append(assembled, c.Data...)
	}

	if len(assembled) != head.TotalSize {
		return nil, fmt.Errorf("%w: have %d bytes, declared %d", ErrSizeMismatch, len(assembled), head.TotalSize)
	}

	digest := blake3.Sum256(assembled)
	if hex.EncodeToString(digest[:]) != head.Checksum {
		return nil, ErrChecksumMismatch
	}

	if head.ContentEncoding == "zstd" {
		compressed, err := base64.StdEncoding.DecodeString(string(assembled))
		if err != nil {
			return nil, fmt.Errorf("chunk: decoding compressed payload: %w", err)
		}
		payload, err := zstdDecoder.DecodeAll(compressed, nil)
		if err != nil {
			return nil, fmt.Errorf("chunk: decompressing payload: %w", err)
		}
		return payload, nil
	}

	return assembled, nil
}
