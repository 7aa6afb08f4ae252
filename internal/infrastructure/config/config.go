// Package config provides 12-factor configuration management for procwire.
//
// Configuration is loaded from environment variables with sensible defaults.
//
// Configuration Sections:
//   - Agent: control socket settings for the syscall agent
//   - Wire: framing limits and compression threshold
//   - Logging: log level and output format
//   - Metrics: Prometheus metrics namespace and enablement
//
// Environment Variables:
//   - PROCWIRE_CONTROL_FD, PROCWIRE_SHUTDOWN_TIMEOUT
//   - PROCWIRE_MAX_FRAME, PROCWIRE_COMPRESS_THRESHOLD
//   - LOG_LEVEL, LOG_DEV
//   - METRICS_ENABLED, METRICS_NAMESPACE
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all procwire configuration.
type Config struct {
	Agent   AgentConfig
	Wire    WireConfig
	Logging LogConfig
	Metrics MetricsConfig
}

// AgentConfig holds syscall-agent process configuration.
type AgentConfig struct {
	// ControlFD is the inherited descriptor the agent serves requests on.
	ControlFD       int           `envconfig:"PROCWIRE_CONTROL_FD" default:"3"`
	ShutdownTimeout time.Duration `envconfig:"PROCWIRE_SHUTDOWN_TIMEOUT" default:"5s"`
}

// WireConfig holds control-protocol framing configuration.
type WireConfig struct {
	// MaxFrame is the largest accepted frame body in bytes.
	MaxFrame int `envconfig:"PROCWIRE_MAX_FRAME" default:"1048576"`
	// CompressThreshold is the body size above which frames are
	// snappy-compressed. Zero disables compression.
	CompressThreshold int `envconfig:"PROCWIRE_COMPRESS_THRESHOLD" default:"4096"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled   bool   `envconfig:"METRICS_ENABLED" default:"false"`
	Namespace string `envconfig:"METRICS_NAMESPACE" default:"procwire"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			ControlFD:       3,
			ShutdownTimeout: 5 * time.Second,
		},
		Wire: WireConfig{
			MaxFrame:          1 << 20,
			CompressThreshold: 4096,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Namespace: "procwire",
		},
	}
}
