// VeloSync - Unattended Peloton to Garmin Connect Workout Sync
// Copyright 2026 J. Crawford (jcrawford)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jcrawford/velosync

package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	if err := c.validatePeloton(); err != nil {
		return err
	}
	if err := c.validateGarmin(); err != nil {
		return err
	}
	if err := c.validateSync(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePeloton() error {
	if c.Peloton.URL == "" {
		return fmt.Errorf("PELOTON_URL must not be empty")
	}
	if !strings.HasPrefix(c.Peloton.URL, "http://") && !strings.HasPrefix(c.Peloton.URL, "https://") {
		return fmt.Errorf("PELOTON_URL must start with http:// or https://")
	}
	if c.Peloton.RequestsPerSecond <= 0 {
		return fmt.Errorf("PELOTON_REQUESTS_PER_SECOND must be positive")
	}
	return nil
}

func (c *Config) validateGarmin() error {
	for name, u := range map[string]string{
		"GARMIN_SSO_BASE_URL": c.Garmin.SSOBaseURL,
		"GARMIN_API_BASE_URL": c.Garmin.APIBaseURL,
		"GARMIN_CONSUMER_URL": c.Garmin.ConsumerURL,
	} {
		if u == "" {
			return fmt.Errorf("%s must not be empty", name)
		}
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("%s must start with http:// or https://", name)
		}
	}
	if c.Garmin.UserAgent == "" {
		return fmt.Errorf("GARMIN_USER_AGENT must not be empty")
	}
	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.Interval < time.Minute {
		return fmt.Errorf("SYNC_INTERVAL must be at least 1m, got %s", c.Sync.Interval)
	}
	if c.Sync.PollSlice <= 0 {
		return fmt.Errorf("SYNC_POLL_SLICE must be positive")
	}
	if c.Sync.WorkoutCount < 0 {
		return fmt.Errorf("SYNC_WORKOUT_COUNT must not be negative")
	}
	if c.Sync.WorkingDir == "" {
		return fmt.Errorf("SYNC_WORKING_DIR must not be empty")
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("SERVER_TIMEOUT must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "disabled":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of trace|debug|info|warn|error|fatal, got %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
