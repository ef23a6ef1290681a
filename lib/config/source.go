// Copyright 2026 The Pier Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/seacliff-io/pier/lib/ipc"
)

// Getter is the slice of the client the Source needs. Satisfied by
// *client.Client.
type Getter interface {
	Get(path string) (ipc.Response, error)
}

// Source serves flat key/value configuration with a three-tier load
// order: the daemon's current config, the daemon's defaults, and a
// connector-local TOML file for when the daemon is unreachable.
// Nested tables flatten to dotted keys ("batch.interval"); values are
// stringified.
type Source struct {
	getter       Getter
	fallbackPath string
	logger       *slog.Logger

	mu     sync.Mutex
	values map[string]string
	loaded bool
}

// NewSource builds a Source. fallbackPath may be empty to disable the
// local-file tier.
func NewSource(getter Getter, fallbackPath string, logger *slog.Logger) *Source {
	return &Source{
		getter:       getter,
		fallbackPath: fallbackPath,
		logger:       logger,
		values:       make(map[string]string),
	}
}

// LoadFromDaemon refreshes the value set and reports whether any tier
// succeeded. A failed refresh keeps the previous values: the last
// good configuration outlives a daemon restart.
func (s *Source) LoadFromDaemon() bool {
	for _, path := range []string{ipc.PathConfig, ipc.PathConfigDefaults} {
		values, err := s.fetch(path)
		if err != nil {
			s.logger.Debug("config fetch failed", "path", path, "error", err)
			continue
		}
		s.replace(values)
		return true
	}

	if s.fallbackPath != "" {
		values, err := loadTOML(s.fallbackPath)
		if err != nil {
			s.logger.Warn("config fallback file unusable",
				"fallback_path", s.fallbackPath,
				"error", err,
			)
		} else {
			s.logger.Info("using local config fallback", "fallback_path", s.fallbackPath)
			s.replace(values)
			return true
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// Value returns the configured value for key, or fallback when the
// key is absent.
func (s *Source) Value(key, fallback string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if value, present := s.values[key]; present {
		return value
	}
	return fallback
}

// Loaded reports whether any tier has ever succeeded.
func (s *Source) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

func (s *Source) replace(values map[string]string) {
	s.mu.Lock()
	s.values = values
	s.loaded = true
	s.mu.Unlock()
}

func (s *Source) fetch(path string) (map[string]string, error) {
	response, err := s.getter.Get(path)
	if err != nil {
		return nil, err
	}
	if !response.OK() {
		return nil, fmt.Errorf("daemon returned status %d", response.StatusCode)
	}

	var nested map[string]any
	if err := response.DecodeBody(&nested); err != nil {
		return nil, fmt.Errorf("decoding config payload: %w", err)
	}

	values := make(map[string]string)
	flatten("", nested, values)
	return values, nil
}

func loadTOML(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var nested map[string]any
	if err := toml.Unmarshal(data, &nested); err != nil {
		return nil, fmt.Errorf("parsing TOML: %w", err)
	}

	values := make(map[string]string)
	flatten("", nested, values)
	return values, nil
}

// flatten converts nested maps into dotted-key string pairs. Scalars
// are stringified with %v; slices keep their Go formatting — config
// consumers treat everything as strings.
func flatten(prefix string, nested map[string]any, into map[string]string) {
	for key, value := range nested {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if child, ok := value.(map[string]any); ok {
			flatten(path, child, into)
			continue
		}
		into[path] = fmt.Sprintf("%v", value)
	}
}
