// Copyright 2026 The Pier Authors
// SPDX-License-Identifier: Apache-2.0

package runtime

import (
	"os"
	"time"

	"github.com/seacliff-io/pier/lib/ipc"
)

// Statistics merges the runtime's counters with the monitor's.
type Statistics struct {
	State ipc.RunState `json:"state"`

	EventsSent    uint64 `json:"events_sent"`
	EventsDropped uint64 `json:"events_dropped"`
	SendErrors    uint64 `json:"send_errors"`
	QueueDepth    int    `json:"queue_depth"`

	// EventsProcessed and MonitorRunning come from the monitor.
	EventsProcessed uint64 `json:"events_processed"`
	MonitorRunning  bool   `json:"monitor_running"`

	StartedAt     time.Time `json:"started_at,omitzero"`
	LastActivity  time.Time `json:"last_activity,omitzero"`
	LastHeartbeat time.Time `json:"last_heartbeat,omitzero"`
}

// Statistics returns a consistent snapshot. Safe from any goroutine.
func (r *Runtime) Statistics() Statistics {
	statistics := Statistics{
		State:      r.State(),
		QueueDepth: r.QueueDepth(),
	}

	r.statsMu.Lock()
	statistics.EventsSent = r.eventsSent
	statistics.EventsDropped = r.eventsDropped
	statistics.SendErrors = r.sendErrors
	statistics.StartedAt = r.startedAt
	statistics.LastActivity = r.lastActivity
	statistics.LastHeartbeat = r.lastHeartbeat
	r.statsMu.Unlock()

	if mon := r.currentMonitor(); mon != nil {
		monitorStats := mon.Statistics()
		statistics.EventsProcessed = monitorStats.EventsProcessed
		statistics.MonitorRunning = monitorStats.Running
	}
	return statistics
}

func (r *Runtime) recordSent(n uint64) {
	now := r.clock.Now()
	r.statsMu.Lock()
	r.eventsSent += n
	r.lastActivity = now
	r.lastSendError = nil
	r.statsMu.Unlock()
}

// recordSendError counts a top-level transmission failure and pushes
// a status update so the daemon sees a degraded-but-alive connector.
func (r *Runtime) recordSendError(err error) {
	r.statsMu.Lock()
	r.sendErrors++
	r.lastSendError = err
	r.statsMu.Unlock()
	r.pushStatus()
}

func (r *Runtime) countDropped(n uint64) {
	r.statsMu.Lock()
	r.eventsDropped += n
	r.statsMu.Unlock()
}

// heartbeat is one cycle of the heartbeat loop. Gated: if a status
// push already went out recently (start, an error report), this cycle
// is a no-op rather than a redundant push.
func (r *Runtime) heartbeat() {
	minGap := r.settings.HeartbeatInterval.Std() / 2
	now := r.clock.Now()

	r.statsMu.Lock()
	recent := !r.lastHeartbeat.IsZero() && now.Sub(r.lastHeartbeat) < minGap
	r.statsMu.Unlock()
	if recent {
		return
	}
	r.pushStatus()
}

// snapshotStatus assembles the daemon-facing status payload.
func (r *Runtime) snapshotStatus() ipc.Status {
	status := ipc.Status{
		ConnectorID: r.definition.ConnectorID,
		DisplayName: r.definition.DisplayName,
		Enabled:     true,
		PID:         os.Getpid(),
	}

	r.stateMu.Lock()
	status.State = r.state
	status.ErrorMessage = r.errorMessage
	status.ErrorCode = r.errorCode
	r.stateMu.Unlock()

	r.statsMu.Lock()
	status.EventsSent = r.eventsSent
	status.EventsDropped = r.eventsDropped
	status.SendErrors = r.sendErrors
	status.LastActivity = r.lastActivity
	status.LastHeartbeat = r.lastHeartbeat
	if status.ErrorCode == "" && r.lastSendError != nil {
		// The process keeps running through send failures; the daemon
		// still gets to see them.
		status.ErrorCode = "send_failed"
		status.ErrorMessage = r.lastSendError.Error()
	}
	r.statsMu.Unlock()
	return status
}

// pushStatus sends the current status to the daemon and records the
// push time for the heartbeat gate. Best-effort: failures are logged,
// never counted as send errors (that would recurse).
func (r *Runtime) pushStatus() {
	sender := r.currentSender()
	if sender == nil {
		return
	}

	status := r.snapshotStatus()
	now := r.clock.Now()
	r.statsMu.Lock()
	r.lastHeartbeat = now
	r.statsMu.Unlock()
	status.LastHeartbeat = now

	if response, err := sender.Post(ipc.PathStatus, status); err != nil || !response.OK() {
		r.logger.Debug("status push failed", "error", err, "status", response.StatusCode)
	}
}
