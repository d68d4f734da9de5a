// Package config provides configuration types for tapgate.
//
// The configuration covers the decision engine (listen addresses, the
// interceptor chain), the intercept client (decision timeout, overflow
// policy) and the built-in API adapters. Every value can come from
// tapgate.yaml or from TAPGATE_* environment variables.
package config

import (
	"time"

	"github.com/Sentinel-Gate/tapgate/internal/domain/adapter"
)

// Config is the top-level configuration for tapgate.
type Config struct {
	// Log configures the process logger.
	Log LogConfig `yaml:"log" mapstructure:"log"`

	// Engine configures the decision engine listeners.
	Engine EngineConfig `yaml:"engine" mapstructure:"engine"`

	// Intercept configures how hooked calls wait for decisions.
	Intercept InterceptConfig `yaml:"intercept" mapstructure:"intercept"`

	// Telemetry enables OpenTelemetry stdout exporters.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`

	// Adapters configures the built-in API adapters by tag. An adapter not
	// listed is not installed; an empty map installs all of them.
	Adapters map[string]AdapterConfig `yaml:"adapters" mapstructure:"adapters" validate:"dive"`

	// Interceptors is the engine's interceptor chain, applied in order.
	Interceptors []InterceptorConfig `yaml:"interceptors" mapstructure:"interceptors" validate:"dive"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Default: "info".
	Level string `yaml:"level" mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	// Debug forces debug level.
	Debug bool `yaml:"debug" mapstructure:"debug"`
}

// EngineConfig configures the engine listeners.
type EngineConfig struct {
	// Addr is where instrumented processes connect. Default: "127.0.0.1:27042".
	Addr string `yaml:"addr" mapstructure:"addr" validate:"required,hostname_port"`
	// MetricsAddr serves /health, /metrics and /stats. Empty disables it.
	// Default: "127.0.0.1:9464".
	MetricsAddr string `yaml:"metrics_addr" mapstructure:"metrics_addr" validate:"omitempty,hostname_port"`
}

// InterceptConfig configures the intercept client.
type InterceptConfig struct {
	// Timeout bounds the wait for a decision; the original bytes are used
	// when it expires. "0s" waits forever. Default: "30s".
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"required,duration"`
	// Overflow is "truncate" or "reject". Default: "truncate".
	Overflow string `yaml:"overflow" mapstructure:"overflow" validate:"required,oneof=truncate reject"`
}

// TimeoutDuration returns the parsed timeout. Validate guarantees it parses.
func (c InterceptConfig) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	return d
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	// Enabled installs SDK providers writing spans and metrics to stdout.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// AdapterConfig configures one built-in adapter.
type AdapterConfig struct {
	// Enabled defaults to true when omitted.
	Enabled *bool `yaml:"enabled,omitempty" mapstructure:"enabled"`
	// Libs overrides the adapter's default library names.
	Libs []string `yaml:"libs,omitempty" mapstructure:"libs" validate:"omitempty,dive,required"`
	// Functions disables individual functions by mapping them to false.
	Functions map[string]bool `yaml:"functions,omitempty" mapstructure:"functions"`
}

// IsEnabled reports whether the adapter should be installed.
func (a AdapterConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// InterceptorConfig is one entry of the interceptor chain.
type InterceptorConfig struct {
	// Type is a registered interceptor type (log, debug, rules, capture, proxifier, petep).
	Type string `yaml:"type" mapstructure:"type" validate:"required,interceptor_type"`
	// Config holds type-specific settings. Unknown keys are rejected when
	// the chain is built.
	Config map[string]any `yaml:"config,omitempty" mapstructure:"config"`
}

// SetDefaults applies default values for optional fields.
func (c *Config) SetDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Engine.Addr == "" {
		c.Engine.Addr = "127.0.0.1:27042"
	}
	if c.Intercept.Timeout == "" {
		c.Intercept.Timeout = "30s"
	}
	if c.Intercept.Overflow == "" {
		c.Intercept.Overflow = "truncate"
	}
	if len(c.Adapters) == 0 {
		c.Adapters = make(map[string]AdapterConfig, len(adapter.Catalog))
		for _, tag := range adapter.Tags() {
			c.Adapters[tag] = AdapterConfig{}
		}
	}
	if len(c.Interceptors) == 0 {
		c.Interceptors = []InterceptorConfig{{Type: "log"}}
	}
}

// Default returns a configuration holding only defaults, with the metrics
// endpoint enabled.
func Default() *Config {
	cfg := &Config{Engine: EngineConfig{MetricsAddr: DefaultMetricsAddr}}
	cfg.SetDefaults()
	return cfg
}

// LogLevel returns the effective log level name.
func (c *Config) LogLevel() string {
	if c.Log.Debug {
		return "debug"
	}
	return c.Log.Level
}
