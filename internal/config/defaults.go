package config

import (
	"os"
	"path/filepath"
	"time"
)

// Default values. The reconnect policy is exponential with a cap because the
// connection has no other recovery path once the backend goes away.
const (
	DefaultHost            = "localhost:8080"
	DefaultSaveDebounce    = 500 * time.Millisecond
	DefaultPruneInterval   = time.Hour
	DefaultSandboxTimeout  = 10 * time.Second
	DefaultMaxOutputBytes  = 1 << 20
	DefaultEditorDebounce  = 300 * time.Millisecond
	DefaultReconnectStart  = time.Second
	DefaultReconnectMax    = 30 * time.Second
	DefaultReconnectTries  = 8
	DefaultSendPerSecond   = 50
	DefaultSendBurst       = 20
	DefaultDiagnosticsAddr = "127.0.0.1:9464"
	DefaultBucket          = "livedocs_edits"
	DefaultWasmCompiler    = "tinygo"
)

// DefaultLanguages is the process runtime language table.
func DefaultLanguages() map[string]LanguageConfig {
	return map[string]LanguageConfig{
		"python": {Command: []string{"python3", "-"}},
		"sh":     {Command: []string{"sh", "-s"}},
		"bash":   {Command: []string{"bash", "-s"}},
		"node":   {Command: []string{"node", "-"}},
		"go": {
			File:    "main.go",
			Build:   []string{"go", "build", "-o", "prog", "{file}"},
			Command: []string{"./prog"},
		},
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Version == "" {
		cfg.Version = CurrentVersion
	}

	rt := &cfg.Runtime
	if rt.Host == "" {
		rt.Host = DefaultHost
	}
	if rt.Transport == "" {
		rt.Transport = TransportWebSocket
	}

	p := &cfg.Persistence
	if p.Backend == "" {
		p.Backend = PersistenceMemory
	}
	if p.Backend == PersistenceSQLite && p.Path == "" {
		p.Path = filepath.Join(os.TempDir(), "livedocs.db")
	}
	if p.Bucket == "" {
		p.Bucket = DefaultBucket
	}
	if p.SaveDebounce <= 0 {
		p.SaveDebounce = DefaultSaveDebounce
	}
	if p.PruneInterval <= 0 {
		p.PruneInterval = DefaultPruneInterval
	}

	s := &cfg.Sandbox
	if s.Timeout <= 0 {
		s.Timeout = DefaultSandboxTimeout
	}
	if s.MaxOutputBytes <= 0 {
		s.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if s.Languages == nil {
		s.Languages = DefaultLanguages()
	}
	if s.Wasm.Compiler == "" {
		s.Wasm.Compiler = DefaultWasmCompiler
	}
	if len(s.Wasm.Languages) == 0 {
		s.Wasm.Languages = []string{"tinygo", "wasm"}
	}

	e := &cfg.Editor
	if e.Surface == "" {
		e.Surface = SurfaceBuffer
	}
	if e.Surface == SurfaceFile && e.ScratchDir == "" {
		e.ScratchDir = filepath.Join(os.TempDir(), "livedocs-scratch")
	}
	if e.Debounce <= 0 {
		e.Debounce = DefaultEditorDebounce
	}
	if e.Trailing == nil {
		trailing := true
		e.Trailing = &trailing
	}

	r := &cfg.Reconnect
	if r.Backoff == "" {
		r.Backoff = RetryBackoffExponential
	}
	if r.Initial <= 0 {
		r.Initial = DefaultReconnectStart
	}
	if r.Max <= 0 {
		r.Max = DefaultReconnectMax
	}
	if r.MaxRetries == 0 {
		r.MaxRetries = DefaultReconnectTries
	}

	if cfg.SendRate.PerSecond <= 0 {
		cfg.SendRate.PerSecond = DefaultSendPerSecond
	}
	if cfg.SendRate.Burst <= 0 {
		cfg.SendRate.Burst = DefaultSendBurst
	}

	if cfg.Diagnostics.Addr == "" {
		cfg.Diagnostics.Addr = DefaultDiagnosticsAddr
	}
}

// ResolvedEndpoint returns the configured endpoint or derives ws://<host>/ws.
func (c *Config) ResolvedEndpoint() string {
	if c.Runtime.Endpoint != "" {
		return c.Runtime.Endpoint
	}
	return "ws://" + c.Runtime.Host + "/ws"
}
