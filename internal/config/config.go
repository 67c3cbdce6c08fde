package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CurrentVersion is the configuration schema version written by Init.
const CurrentVersion = "1.0"

// Config is the livedocs runtime configuration.
type Config struct {
	Version     string            `yaml:"version"`
	Runtime     RuntimeConfig     `yaml:"runtime"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Sandbox     SandboxConfig     `yaml:"sandbox"`
	Editor      EditorConfig      `yaml:"editor"`
	Reconnect   ReconnectConfig   `yaml:"reconnect"`
	SendRate    SendRateConfig    `yaml:"send_rate"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// RuntimeConfig holds the page-level settings read once at startup.
type RuntimeConfig struct {
	Endpoint  string        `yaml:"endpoint"`  // shared connection endpoint; empty derives ws://<host>/ws
	Host      string        `yaml:"host"`      // host used to derive the default endpoint
	Transport TransportKind `yaml:"transport"` // websocket|nats
	Debug     bool          `yaml:"debug"`
	Disabled  bool          `yaml:"disabled"` // suppresses all initialization
}

// PersistenceConfig selects and tunes the edited-code store.
type PersistenceConfig struct {
	Backend       PersistenceBackend `yaml:"backend"` // memory|sqlite|nats
	Path          string             `yaml:"path"`    // sqlite database path
	NATSURL       string             `yaml:"nats_url"`
	Bucket        string             `yaml:"bucket"`
	SaveDebounce  time.Duration      `yaml:"save_debounce"`
	PruneAfter    time.Duration      `yaml:"prune_after"`    // 0 disables the janitor
	PruneInterval time.Duration      `yaml:"prune_interval"` // how often the janitor runs
}

// SandboxConfig tunes local execution.
type SandboxConfig struct {
	Timeout        time.Duration             `yaml:"timeout"`
	MaxOutputBytes int                       `yaml:"max_output_bytes"`
	WorkDir        string                    `yaml:"work_dir"`
	Languages      map[string]LanguageConfig `yaml:"languages"`
	Wasm           WasmConfig                `yaml:"wasm"`
}

// LanguageConfig describes how the process runtime executes one language.
// When File is set the source is written to a file with that name and its path
// replaces the literal "{file}" in Build and Command; otherwise the source is piped on stdin.
type LanguageConfig struct {
	Build   []string `yaml:"build,omitempty"`
	Command []string `yaml:"command"`
	File    string   `yaml:"file,omitempty"`
}

// WasmConfig configures the compile-to-WASI runtime.
type WasmConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Compiler  string   `yaml:"compiler"` // tinygo binary
	Languages []string `yaml:"languages"`
}

// EditorConfig controls the editing surface.
type EditorConfig struct {
	Surface    EditorSurface `yaml:"surface"` // buffer|file
	ScratchDir string        `yaml:"scratch_dir"`
	Debounce   time.Duration `yaml:"debounce"`
	Trailing   *bool         `yaml:"trailing,omitempty"`
}

// ReconnectConfig configures the shared connection backoff.
type ReconnectConfig struct {
	Backoff    RetryBackoffMode `yaml:"backoff"`
	Initial    time.Duration    `yaml:"initial"`
	Max        time.Duration    `yaml:"max"`
	MaxRetries int              `yaml:"max_retries"`
}

// SendRateConfig limits outbound envelopes on the shared connection.
type SendRateConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// DiagnosticsConfig exposes read-only inspection endpoints.
type DiagnosticsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`
}

// Load reads a configuration file, then applies .env files, environment overrides,
// enum checks, normalization, defaults and validation, in that order.
// A missing file is not an error: every setting is optional.
func Load(configPath string) (*Config, error) {
	loadEnvFiles()

	cfg := &Config{}
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
				return nil, fmt.Errorf("failed to unmarshal config: %w", err)
			}
		case os.IsNotExist(err):
			// fall through to defaults
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	if err := checkEnums(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	normalize(cfg)
	applyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Default returns a fully defaulted configuration without reading any file or environment.
func Default() *Config {
	cfg := &Config{}
	normalize(cfg)
	applyDefaults(cfg)
	return cfg
}

// Init writes an example configuration file.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	example := Default()
	example.Runtime.Endpoint = "ws://localhost:8080/ws"
	example.Persistence.Backend = PersistenceSQLite
	example.Persistence.Path = "./livedocs.db"
	example.Diagnostics.Enabled = true

	data, err := yaml.Marshal(example)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
