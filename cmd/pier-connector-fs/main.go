// Copyright 2026 The Pier Authors
// SPDX-License-Identifier: Apache-2.0

// Pier-connector-fs watches a directory tree and reports filesystem
// changes (creates, writes, renames, removals) to the local pierd
// daemon as events. New subdirectories are picked up as they appear.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/seacliff-io/pier/lib/config"
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
		watchRoot       string
		settingsPath    string
		mode            string
		connectorID     string
		statePath       string
		configPath      string
		daemonTimeout   time.Duration
		shutdownTimeout time.Duration
		logLevel        string
	)

	flags := pflag.NewFlagSet("pier-connector-fs", pflag.ContinueOnError)
	flags.StringVar(&watchRoot, "watch", "", "directory tree to watch (required)")
	flags.StringVar(&settingsPath, "settings", "", "path to the YAML settings file")
	flags.StringVar(&mode, "mode", "", "daemon mode to discover (overrides settings)")
	flags.StringVar(&connectorID, "connector-id", "filesystem", "connector identity reported to the daemon")
	flags.StringVar(&statePath, "state-file", "", "run-state file for crash detection (disabled when empty)")
	flags.StringVar(&configPath, "config-fallback", "", "local TOML config read when the daemon config endpoint is unavailable")
	flags.DurationVar(&daemonTimeout, "daemon-timeout", 0, "how long to wait for a reachable daemon (0: settings value)")
	flags.DurationVar(&shutdownTimeout, "shutdown-timeout", 5*time.Second, "bound on draining in-flight sends at shutdown")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	if watchRoot == "" {
		return fmt.Errorf("--watch is required")
	}
	if info, err := os.Stat(watchRoot); err != nil {
		return fmt.Errorf("watch root: %w", err)
	} else if !info.IsDir() {
		return fmt.Errorf("watch root %s is not a directory", watchRoot)
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

	connector, err := runtime.New(runtime.Definition{
		ConnectorID: connectorID,
		DisplayName: "Filesystem Connector",
		NewMonitor: func(*config.Source) (monitor.Monitor, error) {
			return monitor.NewFSWatch(connectorID, watchRoot), nil
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
	logger.Info("watching for filesystem changes", "root", watchRoot)

	<-ctx.Done()
	logger.Info("shutdown signal received")
	if outcome := connector.GracefulShutdown(context.Background(), shutdownTimeout); outcome == statefile.OutcomeTimedOut {
		logger.Warn("shutdown timed out with sends in flight")
	}
	return nil
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
