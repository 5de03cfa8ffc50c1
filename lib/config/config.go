// Package config reads bootstrapper settings from the environment and an
// optional YAML file. Environment values always win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Environment variable names.
const (
	EnvWorkerRuntime  = "FUNCTIONS_WORKER_RUNTIME"
	EnvInProc8Enabled = "FUNCTIONS_INPROC_NET8_ENABLED"
	EnvLogLevel       = "NETHOST_LOG_LEVEL"
	EnvLogFile        = "NETHOST_LOG_FILE"
	EnvMetricsAddr    = "NETHOST_METRICS_ADDR"
	EnvPreloadWait    = "NETHOST_PRELOAD_WAIT"
	EnvPreloadDir     = "NETHOST_PRELOAD_DIR"
	EnvConfigFile     = "NETHOST_CONFIG_FILE"
)

const defaultPreloadWait = 2 * time.Second

// Config holds everything the bootstrapper and the native host read at startup.
// It is computed once and never mutated afterwards.
type Config struct {
	// WorkerRuntime is the worker runtime family ("dotnet", "dotnet-isolated").
	WorkerRuntime string `yaml:"worker_runtime"`

	// InProc8Enabled selects the newer in-process runtime for the "dotnet" family.
	InProc8Enabled bool `yaml:"inproc8_enabled"`

	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`

	// PreloadWait bounds how long launch waits for the page-cache preload.
	PreloadWait time.Duration `yaml:"preload_wait"`

	// PreloadDir is the shared framework directory to preload from, for a
	// dotnet install outside the default location. Empty means the default.
	PreloadDir string `yaml:"preload_dir"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Log:         LogConfig{Level: "info"},
		PreloadWait: defaultPreloadWait,
	}
}

// Lookup matches os.LookupEnv.
type Lookup func(key string) (string, bool)

// Load builds a Config from the process environment.
func Load() (Config, error) {
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from lookup, reading the YAML file named by
// NETHOST_CONFIG_FILE first when it is set.
func FromLookup(lookup Lookup) (Config, error) {
	cfg := Default()

	if path, ok := lookup(EnvConfigFile); ok && path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}

	if v, ok := lookup(EnvWorkerRuntime); ok {
		cfg.WorkerRuntime = v
	}
	if v, ok := lookup(EnvInProc8Enabled); ok {
		// Only the literal "1" enables it.
		cfg.InProc8Enabled = v == "1"
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Log.Level = v
	}
	if v, ok := lookup(EnvLogFile); ok {
		cfg.Log.File = v
	}
	if v, ok := lookup(EnvMetricsAddr); ok {
		cfg.Metrics.Addr = v
	}
	if v, ok := lookup(EnvPreloadWait); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", EnvPreloadWait, v, err)
		}
		cfg.PreloadWait = d
	}
	if v, ok := lookup(EnvPreloadDir); ok {
		cfg.PreloadDir = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// Validate checks values that cannot be corrected silently.
func (c Config) Validate() error {
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	if c.PreloadWait < 0 {
		return errors.New("preload wait must not be negative")
	}
	return nil
}

// LogLevel parses Log.Level.
func (c Config) LogLevel() (zapcore.Level, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(c.Log.Level))
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q: %w", c.Log.Level, err)
	}
	return level, nil
}
