// Copyright 2026 The Pier Authors
// SPDX-License-Identifier: Apache-2.0

// Package chunk splits oversized payloads into checksummed, ordered
// fragments and reassembles them exactly once. It is independent of
// the transport: the runtime decides when a payload is too large for a
// single frame, asks the Manager to split it, transmits the fragments
// itself, and the receiving side validates the full set before any
// byte of the reconstruction is trusted.
//
// Integrity is all-or-nothing. A checksum mismatch, a missing or
// duplicated fragment index, or any cross-fragment disagreement fails
// the entire reassembly; partial output is never returned.
//
// The Manager also owns the live chunk size. Transmission failures
// that look like resource or size problems shrink it multiplicatively
// (floored at the configured minimum) for the rest of the Manager's
// life; it never grows back.
package chunk
