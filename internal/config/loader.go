package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// DefaultMetricsAddr is the ops endpoint address used when the config does
// not set engine.metrics_addr. Setting it to "" disables the endpoint.
const DefaultMetricsAddr = "127.0.0.1:9464"

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for tapgate.yaml/.yml in standard locations.
// The search requires an explicit YAML extension so the tapgate binary in the
// working directory is never picked up as a config file.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// ReadInConfig then returns ConfigFileNotFoundError, which callers ignore.
		viper.SetConfigName("tapgate")
		viper.SetConfigType("yaml")
	}

	viper.SetDefault("engine.metrics_addr", DefaultMetricsAddr)

	// Environment variable support: TAPGATE_ENGINE_ADDR
	viper.SetEnvPrefix("TAPGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".tapgate"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "tapgate"))
		}
	} else {
		paths = append(paths, "/etc/tapgate")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for tapgate.yaml or .yml.
// Returns the full path of the first match, or empty string if none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "tapgate"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds the scalar config keys for environment variable support.
// Example: TAPGATE_INTERCEPT_TIMEOUT overrides intercept.timeout
func bindNestedEnvKeys() {
	_ = viper.BindEnv("log.level")
	_ = viper.BindEnv("log.debug")

	_ = viper.BindEnv("engine.addr")
	_ = viper.BindEnv("engine.metrics_addr")

	_ = viper.BindEnv("intercept.timeout")
	_ = viper.BindEnv("intercept.overflow")

	_ = viper.BindEnv("telemetry.enabled")

	// adapters and interceptors are nested collections; use the config file.
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, validates, and returns the Config.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT validate. Callers apply CLI flag overrides first.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found: continue with env vars only
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
