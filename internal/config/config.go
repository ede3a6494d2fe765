// Package config provides configuration management for the authentication
// daemon: the TOML configuration file shape, environment-derived listener
// descriptors, and validation.
package config

import (
	"errors"
	"fmt"
	"time"
)

// ListenerKind distinguishes the client-protocol channel from the
// privileged master-protocol channel (spec.md §3, "Listener").
type ListenerKind string

const (
	// KindClient serves the SASL client protocol (AUTH/CONT/CANCEL).
	KindClient ListenerKind = "CLIENT"
	// KindMaster serves the privileged master protocol (USER lookups).
	KindMaster ListenerKind = "MASTER"
)

// ListenerConfig describes one listener socket, whether created by this
// process (standalone/env-derived) or inherited from a supervisor.
type ListenerConfig struct {
	Path  string       `toml:"path"`
	Kind  ListenerKind `toml:"kind"`
	Mode  string       `toml:"mode"`  // octal string, e.g. "0600"
	User  string       `toml:"user"`  // owning user after chown
	Group string       `toml:"group"` // owning group after chown
}

// PassdbConfig describes one configured passdb instance. Backend is an
// opaque name resolved against the passdb registry (spec.md §4.5); Args is
// backend-private configuration (e.g. a file path or DSN).
type PassdbConfig struct {
	Backend string            `toml:"backend"`
	Args    map[string]string `toml:"args"`
}

// WorkerConfig controls the worker subprocess pool (spec.md §4.5).
type WorkerConfig struct {
	Count          int    `toml:"count"`           // 0-30, default 3; 0 starts no worker pool
	MaxPending     int    `toml:"max_pending"`     // pool-wide bound on in-flight requests, default 100
	RequestTimeout string `toml:"request_timeout"` // default "30s"
}

// FailureDelayConfig controls the failure-delay queue (spec.md §4.4).
type FailureDelayConfig struct {
	Delay string `toml:"delay"` // default "2s"
}

// TimeoutsConfig defines per-connection timeouts (spec.md §4.4, §5).
type TimeoutsConfig struct {
	Inactivity string `toml:"inactivity"` // default "60s"
}

// RestrictAccessConfig describes the target unprivileged identity and
// optional chroot applied after all privileged resources are opened
// (spec.md §4.1).
type RestrictAccessConfig struct {
	UID         string   `toml:"uid"`
	GID         string   `toml:"gid"`
	Chroot      string   `toml:"chroot"`
	ExtraGroups []string `toml:"extra_groups"`
	KeepEnv     []string `toml:"keep_env"`
}

// MetricsConfig holds configuration for Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Path    string `toml:"path"`
}

// Config is the top-level daemon configuration.
type Config struct {
	LogLevel       string               `toml:"log_level"`
	Listeners      []ListenerConfig     `toml:"listeners"`
	Passdbs        []PassdbConfig       `toml:"passdb"`
	Worker         WorkerConfig         `toml:"worker"`
	FailureDelay   FailureDelayConfig   `toml:"failure_delay"`
	Timeouts       TimeoutsConfig       `toml:"timeouts"`
	RestrictAccess RestrictAccessConfig `toml:"restrict_access"`
	Metrics        MetricsConfig        `toml:"metrics"`
}

// Default returns a Config with sensible default values.
func Default() Config {
	return Config{
		LogLevel: "info",
		Worker: WorkerConfig{
			Count:          3,
			MaxPending:     100,
			RequestTimeout: "30s",
		},
		FailureDelay: FailureDelayConfig{Delay: "2s"},
		Timeouts:     TimeoutsConfig{Inactivity: "60s"},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9111",
			Path:    "/metrics",
		},
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if len(c.Listeners) == 0 {
		return errors.New("at least one listener is required")
	}

	haveClient := false
	for i, l := range c.Listeners {
		if l.Path == "" {
			return fmt.Errorf("listener %d: path is required", i)
		}
		switch l.Kind {
		case KindClient:
			haveClient = true
		case KindMaster:
		default:
			return fmt.Errorf("listener %d: invalid kind %q", i, l.Kind)
		}
	}
	if !haveClient {
		return errors.New("at least one CLIENT listener is required")
	}

	if c.Worker.Count < 0 || c.Worker.Count > 30 {
		return fmt.Errorf("worker count must be between 0 and 30, got %d", c.Worker.Count)
	}
	if c.Worker.MaxPending <= 0 {
		return errors.New("worker max_pending must be positive")
	}
	if _, err := c.Worker.requestTimeout(); err != nil {
		return fmt.Errorf("invalid worker request_timeout: %w", err)
	}
	if _, err := c.FailureDelay.failureDelay(); err != nil {
		return fmt.Errorf("invalid failure_delay.delay: %w", err)
	}
	if _, err := c.Timeouts.inactivityTimeout(); err != nil {
		return fmt.Errorf("invalid timeouts.inactivity: %w", err)
	}

	if c.Metrics.Enabled {
		if c.Metrics.Address == "" {
			return errors.New("metrics address is required when metrics are enabled")
		}
		if c.Metrics.Path == "" {
			return errors.New("metrics path is required when metrics are enabled")
		}
	}

	return nil
}

// requestTimeout parses RequestTimeout, defaulting to 30s (spec.md §5).
func (w *WorkerConfig) requestTimeout() (time.Duration, error) {
	if w.RequestTimeout == "" {
		return 30 * time.Second, nil
	}
	return time.ParseDuration(w.RequestTimeout)
}

// RequestTimeoutDuration is the public accessor; invalid values fall back to 30s.
func (w *WorkerConfig) RequestTimeoutDuration() time.Duration {
	d, err := w.requestTimeout()
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// failureDelay parses Delay, defaulting to 2s (spec.md §4.4).
func (f *FailureDelayConfig) failureDelay() (time.Duration, error) {
	if f.Delay == "" {
		return 2 * time.Second, nil
	}
	return time.ParseDuration(f.Delay)
}

// Duration is the public accessor; invalid values fall back to 2s.
func (f *FailureDelayConfig) Duration() time.Duration {
	d, err := f.failureDelay()
	if err != nil {
		return 2 * time.Second
	}
	return d
}

// inactivityTimeout parses Inactivity, defaulting to 60s (spec.md §4.4).
func (t *TimeoutsConfig) inactivityTimeout() (time.Duration, error) {
	if t.Inactivity == "" {
		return 60 * time.Second, nil
	}
	return time.ParseDuration(t.Inactivity)
}

// InactivityTimeout is the public accessor; invalid values fall back to 60s.
func (t *TimeoutsConfig) InactivityTimeout() time.Duration {
	d, err := t.inactivityTimeout()
	if err != nil {
		return 60 * time.Second
	}
	return d
}
