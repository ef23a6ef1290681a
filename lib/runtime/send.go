// Copyright 2026 The Pier Authors
// SPDX-License-Identifier: Apache-2.0

package runtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/seacliff-io/pier/lib/ipc"
	"github.com/seacliff-io/pier/lib/transport"
)

// enqueue is the monitor callback: stamp missing identity fields and
// append to the bounded queue. At capacity the oldest event is
// dropped so the queue tracks the freshest activity.
func (r *Runtime) enqueue(event ipc.Event) {
	if event.ConnectorID == "" {
		event.ConnectorID = r.definition.ConnectorID
	}
	if !event.Valid() {
		r.logger.Debug("dropping invalid event", "event_type", event.Type)
		r.countDropped(1)
		return
	}
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = r.clock.Now()
	}

	r.queueMu.Lock()
	droppedOldest := false
	if len(r.queue) >= r.settings.QueueCapacity {
		r.queue = r.queue[1:]
		droppedOldest = true
	}
	r.queue = append(r.queue, event)
	r.queueMu.Unlock()
	if droppedOldest {
		r.countDropped(1)
	}
}

// drain removes and returns up to max queued events in FIFO order.
// max <= 0 drains everything.
func (r *Runtime) drain(max int) []ipc.Event {
	r.queueMu.Lock()
	defer r.queueMu.Unlock()

	n := len(r.queue)
	if n == 0 {
		return nil
	}
	if max > 0 && n > max {
		n = max
	}
	drained := make([]ipc.Event, n)
	copy(drained, r.queue[:n])
	r.queue = append(r.queue[:0], r.queue[n:]...)
	return drained
}

// QueueDepth returns the number of events awaiting transmission.
func (r *Runtime) QueueDepth() int {
	r.queueMu.Lock()
	defer r.queueMu.Unlock()
	return len(r.queue)
}

// SendEvent transmits a single event immediately, outside the batch
// cadence. During graceful shutdown it is a no-op. Transmission
// failures are absorbed into the error counters, not returned.
func (r *Runtime) SendEvent(event ipc.Event) {
	if r.shuttingDown.Load() {
		return
	}
	if event.ConnectorID == "" {
		event.ConnectorID = r.definition.ConnectorID
	}
	if !event.Valid() {
		r.countDropped(1)
		return
	}
	r.activeOperations.Add(1)
	defer r.activeOperations.Add(-1)
	r.sendSingle(event)
}

// SendBatchEvents transmits events immediately as one batch, with the
// same fallback ladder as the periodic flush. No-op during graceful
// shutdown.
func (r *Runtime) SendBatchEvents(events []ipc.Event) {
	if r.shuttingDown.Load() || len(events) == 0 {
		return
	}
	r.transmit(events)
}

// flushOnce is one cycle of the batch loop: drain up to maxBatchSize
// and transmit. While shutting down the queue is left intact for the
// final flush.
func (r *Runtime) flushOnce() {
	if r.shuttingDown.Load() {
		return
	}
	events := r.drain(r.settings.MaxBatchSize)
	if len(events) == 0 {
		return
	}
	r.transmit(events)
}

// finalFlush empties the queue on the way down: one batch attempt,
// then per-event for whatever the batch could not carry.
func (r *Runtime) finalFlush() {
	events := r.drain(0)
	if len(events) == 0 {
		return
	}
	r.logger.Info("flushing queued events before shutdown", "count", len(events))
	r.transmit(events)
}

// transmit sends a drained set of events: a single send for one
// event, a batch for several, the chunked path for a batch whose
// serialized form crosses the threshold. Each tier falls back to the
// next on failure — batch, chunked, per-event — so a failure never
// silently discards the set.
func (r *Runtime) transmit(events []ipc.Event) {
	r.activeOperations.Add(1)
	defer r.activeOperations.Add(-1)

	if len(events) == 1 {
		r.sendSingle(events[0])
		return
	}

	batch := ipc.EventBatch{ConnectorID: r.definition.ConnectorID, Events: events}
	payload, err := json.Marshal(batch)
	if err != nil {
		// An unserializable payload value poisons the whole batch;
		// per-event sends isolate it to the offending event.
		r.logger.Warn("batch serialization failed, sending per-event", "error", err)
		r.sendEach(events)
		return
	}

	if len(payload) > r.settings.ChunkThreshold {
		if err := r.sendChunked(payload); err != nil {
			r.logger.Warn("chunked transmission failed, sending per-event",
				"error", err, "events", len(events))
			r.recordSendError(err)
			r.sendEach(events)
			return
		}
		r.recordSent(uint64(len(events)))
		return
	}

	sender := r.currentSender()
	if sender == nil {
		r.countDropped(uint64(len(events)))
		return
	}
	response, err := sender.Post(ipc.PathEventBatch, json.RawMessage(payload))
	if err != nil || !response.OK() {
		if err == nil {
			err = fmt.Errorf("daemon rejected batch: status %d", response.StatusCode)
		}
		r.logger.Warn("batch send failed, sending per-event",
			"error", err, "events", len(events))
		r.recordSendError(err)
		r.sendEach(events)
		return
	}
	r.recordSent(uint64(len(events)))
}

// sendSingle posts one event. Reports success; failure is absorbed
// into the counters and an error status push.
func (r *Runtime) sendSingle(event ipc.Event) bool {
	sender := r.currentSender()
	if sender == nil {
		r.countDropped(1)
		return false
	}
	response, err := sender.Post(ipc.PathEvent, event)
	if err != nil || !response.OK() {
		if err == nil {
			err = fmt.Errorf("daemon rejected event: status %d", response.StatusCode)
		}
		r.logger.Warn("event send failed", "event_id", event.EventID, "error", err)
		r.recordSendError(err)
		return false
	}
	r.recordSent(1)
	return true
}

// sendEach is the final fallback tier: each event of a failed batch
// goes out individually, exactly once.
func (r *Runtime) sendEach(events []ipc.Event) {
	for _, event := range events {
		r.sendSingle(event)
	}
}

// sendChunked splits an oversized serialized batch into checksummed
// fragments and posts them in index order. Each fragment gets
// maxRetries+1 attempts with a fixed delay; a fragment that exhausts
// its attempts fails the session, and a resource-class final error
// shrinks the fragment size for subsequent sessions.
func (r *Runtime) sendChunked(payload []byte) error {
	chunks := r.chunker.Split(payload)
	attempts := r.chunker.Config().MaxRetries + 1
	delay := r.chunker.Config().RetryDelay

	r.logger.Debug("sending chunked batch",
		"session", chunks[0].SessionID,
		"chunks", len(chunks),
		"chunk_size", r.chunker.ChunkSize())

	for _, fragment := range chunks {
		var lastErr error
		sent := false
		for attempt := 0; attempt < attempts; attempt++ {
			if attempt > 0 {
				r.clock.Sleep(delay)
			}
			sender := r.currentSender()
			if sender == nil {
				return errors.New("connection released during chunked send")
			}
			response, err := sender.Post(ipc.PathEventChunk, fragment)
			if err == nil && response.OK() {
				sent = true
				break
			}
			if err == nil {
				err = fmt.Errorf("chunk %d rejected: %w",
					fragment.ChunkIndex, &daemonStatusError{status: response.StatusCode})
			}
			lastErr = err
		}
		if !sent {
			if r.isResourceFailure(lastErr) {
				r.chunker.Shrink()
			}
			return fmt.Errorf("chunk %d/%d of session %s: %w",
				fragment.ChunkIndex, fragment.TotalChunks, fragment.SessionID, lastErr)
		}
	}
	return nil
}

// statusIndicatesResource reports daemon status codes that mean the
// payload was too big or the daemon is out of capacity: shrinking
// future fragments may help.
func statusIndicatesResource(status int) bool {
	switch status {
	case 408, 413, 507:
		return true
	}
	return false
}

func (r *Runtime) isResourceFailure(err error) bool {
	if transport.IsResourceError(err) {
		return true
	}
	var responseErr *daemonStatusError
	if errors.As(err, &responseErr) {
		return statusIndicatesResource(responseErr.status)
	}
	return false
}

type daemonStatusError struct {
	status int
}

func (e *daemonStatusError) Error() string {
	return fmt.Sprintf("daemon status %d", e.status)
}
