// Copyright 2026 The Pier Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "5s" or "250ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Settings are the connector process's static runtime knobs, loaded
// from a YAML file at startup.
type Settings struct {
	// Mode selects the daemon instance to discover ("production",
	// "development", ...).
	Mode string `yaml:"mode"`

	// DaemonTimeout bounds the initial wait for a reachable daemon.
	DaemonTimeout Duration `yaml:"daemon_timeout"`

	// PollInterval is the discovery re-check cadence while waiting.
	PollInterval Duration `yaml:"poll_interval"`

	// BatchInterval is the batch-flush loop period.
	BatchInterval Duration `yaml:"batch_interval"`

	// MaxBatchSize caps the events drained per flush cycle.
	MaxBatchSize int `yaml:"max_batch_size"`

	// QueueCapacity bounds the in-memory event queue. At capacity the
	// oldest event is dropped and counted.
	QueueCapacity int `yaml:"queue_capacity"`

	// HeartbeatInterval is the liveness-push period.
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`

	// ChunkThreshold is the serialized batch size above which
	// transmission goes through the chunked path.
	ChunkThreshold int `yaml:"chunk_threshold"`

	Chunk ChunkSettings `yaml:"chunk"`
}

// ChunkSettings mirrors the chunk manager's policy knobs.
type ChunkSettings struct {
	MaxChunkSize int      `yaml:"max_chunk_size"`
	MinChunkSize int      `yaml:"min_chunk_size"`
	MaxRetries   int      `yaml:"max_retries"`
	RetryDelay   Duration `yaml:"retry_delay"`
	ShrinkFactor float64  `yaml:"shrink_factor"`
}

// DefaultSettings returns the embedded defaults used when no settings
// file exists.
func DefaultSettings() Settings {
	return Settings{
		Mode:              "production",
		DaemonTimeout:     Duration(30 * time.Second),
		PollInterval:      Duration(time.Second),
		BatchInterval:     Duration(5 * time.Second),
		MaxBatchSize:      100,
		QueueCapacity:     10000,
		HeartbeatInterval: Duration(30 * time.Second),
		ChunkThreshold:    512 * 1024,
	}
}

// LoadSettings reads a YAML settings file, applying defaults for
// absent fields. A missing file is not an error: the defaults are
// returned as-is. A present-but-malformed file is an error — silently
// running with defaults against an operator's explicit configuration
// would hide the mistake.
func LoadSettings(path string) (Settings, error) {
	settings := DefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return settings, fmt.Errorf("reading settings file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &settings); err != nil {
		return settings, fmt.Errorf("parsing settings file %s: %w", path, err)
	}
	if settings.Mode == "" {
		settings.Mode = "production"
	}
	return settings, nil
}
