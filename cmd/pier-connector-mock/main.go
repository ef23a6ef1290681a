// Copyright 2026 The Pier Authors
// SPDX-License-Identifier: Apache-2.0

// Pier-connector-mock is a hand-driven connector for exercising a
// pierd daemon. It discovers the daemon, authenticates, and then
// turns every line read from stdin into one event: a line of JSON
// becomes the event payload as-is, anything else is wrapped as
// {"line": <text>}. SIGINT/SIGTERM triggers a graceful shutdown that
// flushes queued events before exiting.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/seacliff-io/pier/lib/config"
	"github.com/seacliff-io/pier/lib/ipc"
	"github.com/seacliff-io/pier/lib/monitor"
	"github.com/seacliff-io/pier/lib/process"
	"github.com/seacliff-io/pier/lib/runtime"
	"github.com/seacliff-io/pier/lib/statefile"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		settingsPath    string
		mode            string
		connectorID     string
		statePath       string
		configPath      string
		daemonTimeout   time.Duration
		shutdownTimeout time.Duration
		logLevel        string
	)

	flags := pflag.NewFlagSet("pier-connector-mock", pflag.ContinueOnError)
	flags.StringVar(&settingsPath, "settings", "", "path to the YAML settings file")
	flags.StringVar(&mode, "mode", "", "daemon mode to discover (overrides settings)")
	flags.StringVar(&connectorID, "connector-id", "mock", "connector identity reported to the daemon")
	flags.StringVar(&statePath, "state-file", "", "run-state file for crash detection (disabled when empty)")
	flags.StringVar(&configPath, "config-fallback", "", "local TOML config read when the daemon config endpoint is unavailable")
	flags.DurationVar(&daemonTimeout, "daemon-timeout", 0, "how long to wait for a reachable daemon (0: settings value)")
	flags.DurationVar(&shutdownTimeout, "shutdown-timeout", 5*time.Second, "bound on draining in-flight sends at shutdown")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(logLevel),
	}))
	slog.SetDefault(logger)

	settings, err := config.LoadSettings(settingsPath)
	if err != nil {
		return err
	}
	if mode != "" {
		settings.Mode = mode
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mock := monitor.NewMock()
	connector, err := runtime.New(runtime.Definition{
		ConnectorID: connectorID,
		DisplayName: "Mock Connector",
		NewMonitor: func(*config.Source) (monitor.Monitor, error) {
			return mock, nil
		},
		StatePath:  statePath,
		ConfigPath: configPath,
	}, settings, runtime.Options{Logger: logger})
	if err != nil {
		return err
	}

	if err := connector.Initialize(ctx, daemonTimeout); err != nil {
		return fmt.Errorf("initializing connector: %w", err)
	}
	if err := connector.Start(ctx); err != nil {
		return fmt.Errorf("starting connector: %w", err)
	}

	go injectFromStdin(mock, logger)

	<-ctx.Done()
	logger.Info("shutdown signal received")
	if outcome := connector.GracefulShutdown(context.Background(), shutdownTimeout); outcome == statefile.OutcomeTimedOut {
		logger.Warn("shutdown timed out with sends in flight")
	}
	return nil
}

// injectFromStdin emits one event per stdin line until EOF.
func injectFromStdin(mock *monitor.Mock, logger *slog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		event := ipc.Event{Type: "mock_event"}
		var payload map[string]any
		if err := json.Unmarshal([]byte(line), &payload); err == nil {
			event.Payload = payload
		} else {
			event.Payload = map[string]any{"line": line}
		}
		if !mock.Emit(event) {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("stdin read failed", "error", err)
	}
}

func parseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
