package config

import "time"

// Config is the full container configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Timing  TimingConfig  `yaml:"timing"`
	Storage StorageConfig `yaml:"storage"`
	Audit   AuditConfig   `yaml:"audit"`
	Auth    AuthConfig    `yaml:"auth"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// StorageConfig holds the mission event store parameters.
type StorageConfig struct {
	// Path is the SQLite database file; ":memory:" is accepted for tests.
	Path string `yaml:"path"`
}

// AuditConfig holds operator audit log parameters.
type AuditConfig struct {
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// AuthConfig holds JWT verification parameters. When Enabled is false the
// API runs open, for bench use only.
type AuthConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Algorithm    string `yaml:"algorithm"` // "RS256" or "HS256"
	SecretKey    string `yaml:"-"`         // HS256 only, env LCC_AUTH_SECRET
	PublicKeyPEM string `yaml:"publicKeyPEM"`
}

// TimingConfig holds every cadence, timeout, and threshold the orchestrator
// core uses. Plans may override dispatch retry parameters per command.
type TimingConfig struct {
	// Telemetry sampling
	SampleInterval            time.Duration `yaml:"sampleInterval"`
	TelemetryFailureThreshold int           `yaml:"telemetryFailureThreshold"`

	// Command timeout classes
	CommandTimeoutDestructive time.Duration `yaml:"commandTimeoutDestructive"`
	CommandTimeoutRetryable   time.Duration `yaml:"commandTimeoutRetryable"`
	CommandTimeoutQuery       time.Duration `yaml:"commandTimeoutQuery"`

	// Acknowledgement tracking
	AckPollInterval time.Duration `yaml:"ackPollInterval"`
	AckTimeout      time.Duration `yaml:"ackTimeout"`

	// Dispatch retry defaults (per-command plan policy takes precedence)
	DispatchMaxAttempts    int           `yaml:"dispatchMaxAttempts"`
	DispatchBackoffInitial time.Duration `yaml:"dispatchBackoffInitial"`
	DispatchBackoffFactor  float64       `yaml:"dispatchBackoffFactor"`
	DispatchBackoffMax     time.Duration `yaml:"dispatchBackoffMax"`

	// SSE stream buffering and liveness
	EventBufferSize   int           `yaml:"eventBufferSize"`
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	HeartbeatJitter   time.Duration `yaml:"heartbeatJitter"`
}

// Baseline returns the default configuration. The 1s sample interval is the
// analog cadence the launch sequence is tuned for.
func Baseline() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8000",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Timing: TimingConfig{
			SampleInterval:            1 * time.Second,
			TelemetryFailureThreshold: 3,

			CommandTimeoutDestructive: 5 * time.Second,
			CommandTimeoutRetryable:   3 * time.Second,
			CommandTimeoutQuery:       2 * time.Second,

			AckPollInterval: 500 * time.Millisecond,
			AckTimeout:      10 * time.Second,

			DispatchMaxAttempts:    3,
			DispatchBackoffInitial: 200 * time.Millisecond,
			DispatchBackoffFactor:  2.0,
			DispatchBackoffMax:     2 * time.Second,

			EventBufferSize:   100,
			HeartbeatInterval: 15 * time.Second,
			HeartbeatJitter:   2 * time.Second,
		},
		Storage: StorageConfig{
			Path: "lcc.db",
		},
		Audit: AuditConfig{
			Dir:        "logs",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Auth: AuthConfig{
			Enabled:   false,
			Algorithm: "HS256",
		},
	}
}
