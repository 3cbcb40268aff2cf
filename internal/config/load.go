package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load merges Baseline() defaults + optional lcc.yaml + LCC_* env overrides,
// then validates the result. Env overrides win over the file so a deployment
// can pin a single knob without editing the config.
func Load() (*Config, error) {
	return LoadFrom("lcc.yaml")
}

// LoadFrom is Load with an explicit config file path. A missing file is not
// an error; a malformed one is.
func LoadFrom(path string) (*Config, error) {
	cfg := Baseline()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies LCC_* environment variables to the config.
func applyEnvOverrides(cfg *Config) {
	// Server
	if val := os.Getenv("LCC_ADDR"); val != "" {
		cfg.Server.Addr = val
	}

	// Telemetry sampling
	if val := os.Getenv("LCC_TIMING_SAMPLE_INTERVAL"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			cfg.Timing.SampleInterval = duration
		}
	}
	if val := os.Getenv("LCC_TIMING_TELEMETRY_FAILURE_THRESHOLD"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Timing.TelemetryFailureThreshold = n
		}
	}

	// Command timeouts
	if val := os.Getenv("LCC_TIMING_COMMAND_DESTRUCTIVE"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			cfg.Timing.CommandTimeoutDestructive = duration
		}
	}
	if val := os.Getenv("LCC_TIMING_COMMAND_RETRYABLE"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			cfg.Timing.CommandTimeoutRetryable = duration
		}
	}
	if val := os.Getenv("LCC_TIMING_COMMAND_QUERY"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			cfg.Timing.CommandTimeoutQuery = duration
		}
	}

	// Acknowledgement tracking
	if val := os.Getenv("LCC_TIMING_ACK_POLL_INTERVAL"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			cfg.Timing.AckPollInterval = duration
		}
	}
	if val := os.Getenv("LCC_TIMING_ACK_TIMEOUT"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			cfg.Timing.AckTimeout = duration
		}
	}

	// Dispatch retry defaults
	if val := os.Getenv("LCC_TIMING_DISPATCH_MAX_ATTEMPTS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Timing.DispatchMaxAttempts = n
		}
	}
	if val := os.Getenv("LCC_TIMING_DISPATCH_BACKOFF_INITIAL"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			cfg.Timing.DispatchBackoffInitial = duration
		}
	}
	if val := os.Getenv("LCC_TIMING_DISPATCH_BACKOFF_FACTOR"); val != "" {
		if factor, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Timing.DispatchBackoffFactor = factor
		}
	}
	if val := os.Getenv("LCC_TIMING_DISPATCH_BACKOFF_MAX"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			cfg.Timing.DispatchBackoffMax = duration
		}
	}

	// Stream buffering and liveness
	if val := os.Getenv("LCC_TIMING_EVENT_BUFFER_SIZE"); val != "" {
		if size, err := strconv.Atoi(val); err == nil {
			cfg.Timing.EventBufferSize = size
		}
	}
	if val := os.Getenv("LCC_TIMING_HEARTBEAT_INTERVAL"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			cfg.Timing.HeartbeatInterval = duration
		}
	}
	if val := os.Getenv("LCC_TIMING_HEARTBEAT_JITTER"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			cfg.Timing.HeartbeatJitter = duration
		}
	}

	// Storage and audit
	if val := os.Getenv("LCC_DB_PATH"); val != "" {
		cfg.Storage.Path = val
	}
	if val := os.Getenv("LCC_AUDIT_DIR"); val != "" {
		cfg.Audit.Dir = val
	}

	// Auth: the secret is env-only so it never lands in a config file.
	if val := os.Getenv("LCC_AUTH_SECRET"); val != "" {
		cfg.Auth.SecretKey = val
		cfg.Auth.Enabled = true
	}
	if val := os.Getenv("LCC_AUTH_ALGORITHM"); val != "" {
		cfg.Auth.Algorithm = val
	}
	if val := os.Getenv("LCC_AUTH_PUBLIC_KEY_PEM"); val != "" {
		cfg.Auth.PublicKeyPEM = val
		cfg.Auth.Enabled = true
	}
}

// GetEnvVar returns the value of an environment variable with a default.
func GetEnvVar(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvDuration returns an environment variable as a duration with a default.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
