// Copyright 2026 The Pier Authors
// SPDX-License-Identifier: Apache-2.0

package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seacliff-io/pier/lib/chunk"
	"github.com/seacliff-io/pier/lib/client"
	"github.com/seacliff-io/pier/lib/clock"
	"github.com/seacliff-io/pier/lib/config"
	"github.com/seacliff-io/pier/lib/discovery"
	"github.com/seacliff-io/pier/lib/ipc"
	"github.com/seacliff-io/pier/lib/monitor"
	"github.com/seacliff-io/pier/lib/statefile"
	"github.com/seacliff-io/pier/lib/transport"
)

// ErrNotInitialized is returned by Start on a runtime whose Initialize
// has not succeeded (or that has been stopped since).
var ErrNotInitialized = errors.New("runtime: not initialized")

// Sender is the slice of the daemon client the runtime uses. Satisfied
// by *client.Client; narrowed to an interface so tests can substitute
// a fake without a live daemon.
type Sender interface {
	Connect(ctx context.Context) error
	Get(path string) (ipc.Response, error)
	Post(path string, body any) (ipc.Response, error)
	Close() error
}

// Hooks are the connector-specific lifecycle extension points. All
// three are invoked on the goroutine driving the lifecycle call. An
// OnInitialize or OnStart error aborts that phase; OnStop errors are
// logged and otherwise ignored so teardown always completes.
type Hooks interface {
	OnInitialize(ctx context.Context) error
	OnStart(ctx context.Context) error
	OnStop(ctx context.Context) error
}

// NopHooks implements Hooks with no-ops, for embedding.
type NopHooks struct{}

func (NopHooks) OnInitialize(context.Context) error { return nil }
func (NopHooks) OnStart(context.Context) error      { return nil }
func (NopHooks) OnStop(context.Context) error       { return nil }

// Definition is the connector-specific half of a runtime: identity,
// the monitor factory, and optional hooks and local file paths.
type Definition struct {
	// ConnectorID identifies this connector to the daemon. Required.
	ConnectorID string

	// DisplayName is the human-readable name carried in status
	// pushes. Defaults to ConnectorID.
	DisplayName string

	// NewMonitor constructs the connector's event source during
	// Initialize, after daemon configuration has been loaded.
	// Required.
	NewMonitor func(source *config.Source) (monitor.Monitor, error)

	// Hooks are optional lifecycle extension points.
	Hooks Hooks

	// StatePath, when set, is where the run-state file lives. The
	// runtime writes it at start and stop and checks it during
	// Initialize to detect a crash of the previous run.
	StatePath string

	// ConfigPath, when set, is the local TOML fallback read when the
	// daemon is unreachable for configuration.
	ConfigPath string
}

// Options carry the runtime's injectable collaborators. The zero
// value gives production behavior: real clock, real discovery for the
// configured mode, a real authenticated client.
type Options struct {
	// Discovery overrides daemon discovery. When nil, a Discovery for
	// the settings' mode is constructed.
	Discovery *discovery.Discovery

	// NewSender overrides client construction, for tests.
	NewSender func(info ipc.DaemonInfo) (Sender, error)

	// Transport tunes the real client's transport when NewSender is
	// not set.
	Transport transport.Options

	// Clock drives the batch, heartbeat, and shutdown-drain loops.
	// Default the real clock.
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Runtime orchestrates one connector process: discovery, the
// authenticated client, the monitor, batching, heartbeats, and
// shutdown. Lifecycle methods (Initialize, Start, Stop,
// GracefulShutdown) are meant to be driven from one goroutine; the
// event and statistics paths are safe from any goroutine.
type Runtime struct {
	definition Definition
	settings   config.Settings

	discovery *discovery.Discovery
	newSender func(info ipc.DaemonInfo) (Sender, error)
	clock     clock.Clock
	logger    *slog.Logger
	chunker   *chunk.Manager

	// lifecycleMu serializes Initialize/Start/Stop.
	lifecycleMu sync.Mutex
	initialized bool
	running     bool
	source      *config.Source
	stop        chan struct{}
	loops       sync.WaitGroup

	// stateMu guards the lifecycle state plus the sender and monitor
	// references, which the background loops and Statistics read
	// concurrently with teardown.
	stateMu      sync.Mutex
	state        ipc.RunState
	errorMessage string
	errorCode    string
	sender       Sender
	monitor      monitor.Monitor

	queueMu sync.Mutex
	queue   []ipc.Event

	statsMu       sync.Mutex
	eventsSent    uint64
	eventsDropped uint64
	sendErrors    uint64
	lastSendError error
	startedAt     time.Time
	lastActivity  time.Time
	lastHeartbeat time.Time

	shuttingDown     atomic.Bool
	activeOperations atomic.Int64
}

// New builds a runtime from a connector definition and static
// settings. Unset settings fields take their defaults.
func New(definition Definition, settings config.Settings, options Options) (*Runtime, error) {
	if definition.ConnectorID == "" {
		return nil, errors.New("runtime: definition needs a connector id")
	}
	if definition.NewMonitor == nil {
		return nil, errors.New("runtime: definition needs a monitor factory")
	}
	if definition.DisplayName == "" {
		definition.DisplayName = definition.ConnectorID
	}
	if definition.Hooks == nil {
		definition.Hooks = NopHooks{}
	}

	defaults := config.DefaultSettings()
	if settings.Mode == "" {
		settings.Mode = defaults.Mode
	}
	if settings.DaemonTimeout <= 0 {
		settings.DaemonTimeout = defaults.DaemonTimeout
	}
	if settings.PollInterval <= 0 {
		settings.PollInterval = defaults.PollInterval
	}
	if settings.BatchInterval <= 0 {
		settings.BatchInterval = defaults.BatchInterval
	}
	if settings.MaxBatchSize <= 0 {
		settings.MaxBatchSize = defaults.MaxBatchSize
	}
	if settings.QueueCapacity <= 0 {
		settings.QueueCapacity = defaults.QueueCapacity
	}
	if settings.HeartbeatInterval <= 0 {
		settings.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if settings.ChunkThreshold <= 0 {
		settings.ChunkThreshold = defaults.ChunkThreshold
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("connector", definition.ConnectorID)

	clk := options.Clock
	if clk == nil {
		clk = clock.Real()
	}

	disc := options.Discovery
	if disc == nil {
		built, err := discovery.New(discovery.Options{Mode: settings.Mode, Clock: clk}, logger)
		if err != nil {
			return nil, fmt.Errorf("building discovery: %w", err)
		}
		disc = built
	}

	runtime := &Runtime{
		definition: definition,
		settings:   settings,
		discovery:  disc,
		clock:      clk,
		logger:     logger,
		state:      ipc.StateStopped,
		chunker: chunk.NewManager(chunk.Config{
			MaxChunkSize: settings.Chunk.MaxChunkSize,
			MinChunkSize: settings.Chunk.MinChunkSize,
			MaxRetries:   settings.Chunk.MaxRetries,
			RetryDelay:   settings.Chunk.RetryDelay.Std(),
			ShrinkFactor: settings.Chunk.ShrinkFactor,
		}, logger),
	}

	runtime.newSender = options.NewSender
	if runtime.newSender == nil {
		runtime.newSender = func(info ipc.DaemonInfo) (Sender, error) {
			return client.New(info, definition.ConnectorID, options.Transport, logger)
		}
	}
	return runtime, nil
}

// State returns the current lifecycle state.
func (r *Runtime) State() ipc.RunState {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.state
}

// LastError returns the error code and message recorded by the most
// recent failed transition, or empty strings outside the Error state.
func (r *Runtime) LastError() (code, message string) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.errorCode, r.errorMessage
}

// setState enters a new lifecycle state, clearing any prior error.
func (r *Runtime) setState(state ipc.RunState) {
	r.stateMu.Lock()
	r.state = state
	r.errorMessage = ""
	r.errorCode = ""
	r.stateMu.Unlock()
}

// currentSender returns the live sender, or nil once teardown has
// released it. Loops abandoned by a timed-out join see nil and no-op.
func (r *Runtime) currentSender() Sender {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.sender
}

func (r *Runtime) currentMonitor() monitor.Monitor {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.monitor
}

func (r *Runtime) setError(code string, err error) {
	r.stateMu.Lock()
	r.state = ipc.StateError
	r.errorCode = code
	r.errorMessage = err.Error()
	r.stateMu.Unlock()
	r.logger.Error("connector entering error state", "code", code, "error", err)
}

// Initialize discovers the daemon, connects and authenticates,
// loads configuration, and constructs the monitor. Idempotent: a
// second call on an initialized runtime is a no-op. Any step failing
// puts the runtime in the Error state and leaves it uninitialized.
// A daemonTimeout of zero uses the settings value.
func (r *Runtime) Initialize(ctx context.Context, daemonTimeout time.Duration) error {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	if r.initialized {
		return nil
	}
	if daemonTimeout <= 0 {
		daemonTimeout = r.settings.DaemonTimeout.Std()
	}

	var crashed *statefile.State
	if r.definition.StatePath != "" {
		if previous, crash := statefile.CheckCrash(r.definition.StatePath); crash {
			crashed = &previous
			r.logger.Warn("previous run did not shut down cleanly",
				"previous_pid", previous.PID,
				"events_sent", previous.EventsSent,
				"events_dropped", previous.EventsDropped)
		}
	}

	info, ok := r.discovery.WaitForDaemon(ctx, daemonTimeout, r.settings.PollInterval.Std())
	if !ok {
		err := fmt.Errorf("no reachable daemon within %s", daemonTimeout)
		r.setError("daemon_not_found", err)
		return err
	}

	sender, err := r.newSender(info)
	if err != nil {
		r.setError("client_setup_failed", err)
		return err
	}
	if err := sender.Connect(ctx); err != nil {
		sender.Close()
		code := "connect_failed"
		if errors.Is(err, client.ErrAuthenticationFailed) {
			code = "authentication_failed"
		}
		r.setError(code, err)
		return err
	}

	// Daemon config is best-effort: the daemon was reachable for IPC
	// a moment ago, but the config endpoint failing independently
	// must not abort initialization. The source falls back to the
	// local file and embedded defaults.
	source := config.NewSource(sender, r.definition.ConfigPath, r.logger)
	if !source.LoadFromDaemon() {
		r.logger.Warn("daemon configuration unavailable, using fallbacks")
	}

	mon, err := r.definition.NewMonitor(source)
	if err != nil {
		sender.Close()
		r.setError("monitor_setup_failed", err)
		return err
	}

	if err := r.definition.Hooks.OnInitialize(ctx); err != nil {
		sender.Close()
		r.setError("initialize_hook_failed", err)
		return err
	}

	r.stateMu.Lock()
	r.sender = sender
	r.monitor = mon
	r.stateMu.Unlock()
	r.source = source
	r.initialized = true
	r.setState(ipc.StateStopped)

	if crashed != nil {
		r.reportCrash(*crashed)
	}
	return nil
}

// reportCrash tells the daemon the previous run ended without a clean
// shutdown. Best-effort: a failed push is logged and forgotten.
func (r *Runtime) reportCrash(previous statefile.State) {
	status := r.snapshotStatus()
	status.ErrorCode = "previous_run_crashed"
	status.ErrorMessage = fmt.Sprintf("previous run (pid %d) ended without clean shutdown", previous.PID)
	if response, err := r.currentSender().Post(ipc.PathStatus, status); err != nil || !response.OK() {
		r.logger.Debug("crash report push failed", "error", err, "status", response.StatusCode)
	}
}

// Start begins event capture and transmission. Requires a successful
// Initialize; idempotent while running. A monitor or OnStart failure
// unwinds whatever was started and reports the Error state.
func (r *Runtime) Start(ctx context.Context) error {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	if !r.initialized {
		return ErrNotInitialized
	}
	if r.running {
		return nil
	}

	r.setState(ipc.StateStarting)
	now := r.clock.Now()
	r.statsMu.Lock()
	r.startedAt = now
	r.statsMu.Unlock()

	if err := r.currentMonitor().Start(r.enqueue); err != nil {
		r.setError("monitor_start_failed", err)
		return err
	}

	r.stop = make(chan struct{})
	r.loops.Add(2)
	go r.batchLoop(r.stop)
	go r.heartbeatLoop(r.stop)

	if err := r.definition.Hooks.OnStart(ctx); err != nil {
		r.stopLocked(ctx, statefile.OutcomeClean, loopJoinTimeout)
		r.setError("start_hook_failed", err)
		return err
	}

	r.running = true
	r.setState(ipc.StateRunning)
	r.writeStateFile(statefile.OutcomeRunning)
	r.pushStatus()
	r.logger.Info("connector running",
		"batch_interval", r.settings.BatchInterval.Std(),
		"heartbeat_interval", r.settings.HeartbeatInterval.Std())
	return nil
}

// loopJoinTimeout bounds how long teardown waits for the batch and
// heartbeat goroutines. A send wedged inside a loop must not wedge
// Stop with it.
const loopJoinTimeout = 10 * time.Second

// Stop tears the connector down: monitor first (no new events), then
// the stop hook, then the background loops, then a final flush of
// whatever the queue still holds. After Stop the runtime must be
// initialized again before another Start.
func (r *Runtime) Stop(ctx context.Context) error {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	if !r.initialized && r.State() == ipc.StateStopped {
		return nil
	}
	r.stopLocked(ctx, statefile.OutcomeClean, loopJoinTimeout)
	return nil
}

// GracefulShutdown is the cooperative-cancellation path: new sends
// become no-ops, in-flight sends get up to timeout to drain, then the
// normal stop sequence runs regardless. The returned outcome reports
// whether the drain completed.
func (r *Runtime) GracefulShutdown(ctx context.Context, timeout time.Duration) statefile.Outcome {
	r.shuttingDown.Store(true)
	outcome := statefile.OutcomeClean
	if !r.waitForOperations(timeout) {
		outcome = statefile.OutcomeTimedOut
		r.logger.Warn("in-flight sends did not drain, proceeding with shutdown",
			"timeout", timeout, "active", r.activeOperations.Load())
	}

	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	joinTimeout := loopJoinTimeout
	if outcome == statefile.OutcomeTimedOut {
		// A wedged send means a wedged loop; don't wait for it again.
		joinTimeout = 0
	}
	r.stopLocked(ctx, outcome, joinTimeout)
	return outcome
}

// waitForOperations polls the active-operation counter with a fixed
// sleep step until it reaches zero or the bound elapses.
func (r *Runtime) waitForOperations(timeout time.Duration) bool {
	const step = 10 * time.Millisecond
	deadline := r.clock.Now().Add(timeout)
	for r.activeOperations.Load() != 0 {
		if !r.clock.Now().Before(deadline) {
			return false
		}
		r.clock.Sleep(step)
	}
	return true
}

// stopLocked runs the teardown sequence. Caller holds lifecycleMu.
// Safe to call on a partially-started runtime: every step tolerates
// its collaborator being absent.
func (r *Runtime) stopLocked(ctx context.Context, outcome statefile.Outcome, joinTimeout time.Duration) {
	r.setState(ipc.StateStopping)

	if mon := r.currentMonitor(); mon != nil {
		if err := mon.Stop(); err != nil {
			r.logger.Warn("monitor stop failed", "error", err)
		}
	}
	if err := r.definition.Hooks.OnStop(ctx); err != nil {
		r.logger.Warn("stop hook failed", "error", err)
	}

	if r.stop != nil {
		close(r.stop)
		if !r.joinLoops(joinTimeout) {
			r.logger.Warn("background loops did not exit, abandoning them")
		}
		r.stop = nil
	}

	// A timed-out drain means the connection is wedged: skip the
	// final flush and status push, which would wedge teardown too.
	if outcome != statefile.OutcomeTimedOut {
		r.finalFlush()
	}

	r.running = false
	r.setState(ipc.StateStopped)
	if outcome != statefile.OutcomeTimedOut && r.currentSender() != nil {
		r.pushStatus()
	}
	r.writeStateFile(outcome)

	r.stateMu.Lock()
	sender := r.sender
	r.sender = nil
	r.stateMu.Unlock()
	if sender != nil {
		sender.Close()
	}
	r.initialized = false

	// The shutdown gate belongs to the run it ended. Cleared here so a
	// re-initialized runtime transmits again.
	r.shuttingDown.Store(false)

	statistics := r.Statistics()
	r.logger.Info("connector stopped",
		"outcome", string(outcome),
		"events_sent", statistics.EventsSent,
		"events_dropped", statistics.EventsDropped,
		"send_errors", statistics.SendErrors,
		"events_processed", statistics.EventsProcessed)
}

// joinLoops waits for the batch and heartbeat goroutines, bounded by
// timeout. A zero timeout skips the wait entirely.
func (r *Runtime) joinLoops(timeout time.Duration) bool {
	if timeout <= 0 {
		return false
	}
	done := make(chan struct{})
	go func() {
		r.loops.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-r.clock.After(timeout):
		return false
	}
}

func (r *Runtime) writeStateFile(outcome statefile.Outcome) {
	if r.definition.StatePath == "" {
		return
	}
	r.statsMu.Lock()
	state := statefile.State{
		ConnectorID:   r.definition.ConnectorID,
		PID:           os.Getpid(),
		StartedAt:     r.startedAt,
		UpdatedAt:     r.clock.Now(),
		Outcome:       outcome,
		EventsSent:    r.eventsSent,
		EventsDropped: r.eventsDropped,
		SendErrors:    r.sendErrors,
	}
	r.statsMu.Unlock()
	if err := statefile.Write(r.definition.StatePath, state); err != nil {
		r.logger.Warn("run-state file write failed", "path", r.definition.StatePath, "error", err)
	}
}

func (r *Runtime) batchLoop(stop <-chan struct{}) {
	defer r.loops.Done()
	ticker := r.clock.NewTicker(r.settings.BatchInterval.Std())
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.flushOnce()
		}
	}
}

func (r *Runtime) heartbeatLoop(stop <-chan struct{}) {
	defer r.loops.Done()
	ticker := r.clock.NewTicker(r.settings.HeartbeatInterval.Std())
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.heartbeat()
		}
	}
}
