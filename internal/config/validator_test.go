package config

import (
	"strings"
	"testing"
)

// minimalValidConfig returns a minimal valid Config for testing.
func minimalValidConfig() *Config {
	return &Config{
		Log:          LogConfig{Level: "info"},
		Engine:       EngineConfig{Addr: "127.0.0.1:27042"},
		Intercept:    InterceptConfig{Timeout: "30s", Overflow: "truncate"},
		Adapters:     map[string]AdapterConfig{"libc": {}},
		Interceptors: []InterceptorConfig{{Type: "log"}},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_ZeroConfig(t *testing.T) {
	t.Parallel()

	// Simulate "tapgate serve" with no config file at all.
	cfg := &Config{}
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() zero-config unexpected error: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing engine addr",
			mutate:  func(c *Config) { c.Engine.Addr = "" },
			wantErr: "Config.Engine.Addr is required",
		},
		{
			name:    "engine addr without port",
			mutate:  func(c *Config) { c.Engine.Addr = "localhost" },
			wantErr: "Config.Engine.Addr must be a valid host:port",
		},
		{
			name:    "bad metrics addr",
			mutate:  func(c *Config) { c.Engine.MetricsAddr = "nope" },
			wantErr: "Config.Engine.MetricsAddr must be a valid host:port",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "trace" },
			wantErr: "Config.Log.Level must be one of: debug info warn error",
		},
		{
			name:    "unparseable timeout",
			mutate:  func(c *Config) { c.Intercept.Timeout = "soon" },
			wantErr: "Config.Intercept.Timeout must be a non-negative duration",
		},
		{
			name:    "negative timeout",
			mutate:  func(c *Config) { c.Intercept.Timeout = "-1s" },
			wantErr: "Config.Intercept.Timeout must be a non-negative duration",
		},
		{
			name:    "bad overflow policy",
			mutate:  func(c *Config) { c.Intercept.Overflow = "grow" },
			wantErr: "Config.Intercept.Overflow must be one of: truncate reject",
		},
		{
			name:    "unknown interceptor",
			mutate:  func(c *Config) { c.Interceptors = []InterceptorConfig{{Type: "mangle"}} },
			wantErr: "Config.Interceptors[0].Type must be one of: capture, debug, log, petep, proxifier, rules",
		},
		{
			name:    "missing interceptor type",
			mutate:  func(c *Config) { c.Interceptors = []InterceptorConfig{{}} },
			wantErr: "Config.Interceptors[0].Type is required",
		},
		{
			name:    "unknown adapter",
			mutate:  func(c *Config) { c.Adapters["nss"] = AdapterConfig{} },
			wantErr: "adapters.nss: unknown adapter",
		},
		{
			name: "unknown function",
			mutate: func(c *Config) {
				c.Adapters["libc"] = AdapterConfig{Functions: map[string]bool{"sendmsg": false}}
			},
			wantErr: "adapters.libc.functions.sendmsg: unknown function",
		},
		{
			name: "empty lib name",
			mutate: func(c *Config) {
				c.Adapters["libc"] = AdapterConfig{Libs: []string{""}}
			},
			wantErr: "is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := minimalValidConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() should fail")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidate_FunctionNamesIgnoreCase(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Adapters = map[string]AdapterConfig{
		"openssl": {Functions: map[string]bool{"ssl_write": false, "SSL_read": true}},
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_ZeroTimeoutAllowed(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Intercept.Timeout = "0s"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}
