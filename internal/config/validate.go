package config

import (
	"fmt"
)

// Validate enforces configuration invariants before the container starts.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validateTiming(&cfg.Timing); err != nil {
		return fmt.Errorf("timing validation failed: %w", err)
	}
	if err := validateServer(&cfg.Server); err != nil {
		return fmt.Errorf("server validation failed: %w", err)
	}
	if err := validateAuth(&cfg.Auth); err != nil {
		return fmt.Errorf("auth validation failed: %w", err)
	}

	if cfg.Storage.Path == "" {
		return fmt.Errorf("storage path must not be empty")
	}

	return nil
}

// validateTiming validates sampling, dispatch and stream timing parameters.
func validateTiming(t *TimingConfig) error {
	if t.SampleInterval <= 0 {
		return fmt.Errorf("sample interval must be positive, got %v", t.SampleInterval)
	}
	if t.TelemetryFailureThreshold < 1 {
		return fmt.Errorf("telemetry failure threshold must be at least 1, got %d", t.TelemetryFailureThreshold)
	}

	if t.CommandTimeoutDestructive <= 0 {
		return fmt.Errorf("destructive command timeout must be positive, got %v", t.CommandTimeoutDestructive)
	}
	if t.CommandTimeoutRetryable <= 0 {
		return fmt.Errorf("retryable command timeout must be positive, got %v", t.CommandTimeoutRetryable)
	}
	if t.CommandTimeoutQuery <= 0 {
		return fmt.Errorf("query timeout must be positive, got %v", t.CommandTimeoutQuery)
	}

	if t.AckPollInterval <= 0 {
		return fmt.Errorf("ack poll interval must be positive, got %v", t.AckPollInterval)
	}
	if t.AckTimeout < t.AckPollInterval {
		return fmt.Errorf("ack timeout %v must be at least the poll interval %v", t.AckTimeout, t.AckPollInterval)
	}

	if t.DispatchMaxAttempts < 1 {
		return fmt.Errorf("dispatch max attempts must be at least 1, got %d", t.DispatchMaxAttempts)
	}
	if t.DispatchBackoffInitial <= 0 {
		return fmt.Errorf("dispatch backoff initial must be positive, got %v", t.DispatchBackoffInitial)
	}
	if t.DispatchBackoffFactor < 1.0 {
		return fmt.Errorf("dispatch backoff factor must be at least 1.0, got %v", t.DispatchBackoffFactor)
	}
	if t.DispatchBackoffMax < t.DispatchBackoffInitial {
		return fmt.Errorf("dispatch backoff max %v must be at least the initial %v", t.DispatchBackoffMax, t.DispatchBackoffInitial)
	}

	if t.EventBufferSize < 1 {
		return fmt.Errorf("event buffer size must be at least 1, got %d", t.EventBufferSize)
	}
	if t.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %v", t.HeartbeatInterval)
	}
	// Jitter above half the interval makes the heartbeat useless as a
	// liveness signal.
	if t.HeartbeatJitter < 0 || t.HeartbeatJitter > t.HeartbeatInterval/2 {
		return fmt.Errorf("heartbeat jitter must be within [0, interval/2], got %v", t.HeartbeatJitter)
	}

	return nil
}

// validateServer validates HTTP server parameters.
func validateServer(s *ServerConfig) error {
	if s.Addr == "" {
		return fmt.Errorf("server addr must not be empty")
	}
	if s.ReadTimeout <= 0 || s.WriteTimeout <= 0 || s.IdleTimeout <= 0 {
		return fmt.Errorf("server timeouts must be positive")
	}
	return nil
}

// validateAuth validates JWT verification parameters.
func validateAuth(a *AuthConfig) error {
	if !a.Enabled {
		return nil
	}
	switch a.Algorithm {
	case "HS256":
		if a.SecretKey == "" {
			return fmt.Errorf("HS256 requires LCC_AUTH_SECRET")
		}
	case "RS256":
		if a.PublicKeyPEM == "" {
			return fmt.Errorf("RS256 requires a public key PEM")
		}
	default:
		return fmt.Errorf("unsupported auth algorithm %q", a.Algorithm)
	}
	return nil
}
