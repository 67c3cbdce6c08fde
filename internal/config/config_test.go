package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "livedocs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	require.Equal(t, CurrentVersion, cfg.Version)
	require.Equal(t, TransportWebSocket, cfg.Runtime.Transport)
	require.Equal(t, PersistenceMemory, cfg.Persistence.Backend)
	require.Equal(t, DefaultSandboxTimeout, cfg.Sandbox.Timeout)
	require.Equal(t, RetryBackoffExponential, cfg.Reconnect.Backoff)
	require.Equal(t, DefaultReconnectTries, cfg.Reconnect.MaxRetries)
	require.True(t, *cfg.Editor.Trailing)
	require.Equal(t, "ws://localhost:8080/ws", cfg.ResolvedEndpoint())
	require.Contains(t, cfg.Sandbox.Languages, "python")
}

func TestLoadParsesYAMLAndNormalizes(t *testing.T) {
	path := writeConfig(t, `
runtime:
  endpoint: nats://127.0.0.1:4222/livedocs.page
  transport: NATS
persistence:
  backend: SQLite
  path: /tmp/edits.db
  save_debounce: 250ms
sandbox:
  timeout: 2s
reconnect:
  backoff: Linear
  initial: 100ms
  max: 1s
  max_retries: 3
logging:
  level: WARNING
  format: JSON
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, TransportNATS, cfg.Runtime.Transport)
	require.Equal(t, PersistenceSQLite, cfg.Persistence.Backend)
	require.Equal(t, 250*time.Millisecond, cfg.Persistence.SaveDebounce)
	require.Equal(t, 2*time.Second, cfg.Sandbox.Timeout)
	require.Equal(t, RetryBackoffLinear, cfg.Reconnect.Backoff)
	require.Equal(t, 3, cfg.Reconnect.MaxRetries)
	require.Equal(t, LogLevelWarn, cfg.Logging.Level)
	require.Equal(t, LogFormatJSON, cfg.Logging.Format)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv(EnvEndpoint, "wss://docs.example.com/ws")
	t.Setenv(EnvDebug, "true")
	t.Setenv(EnvDisable, "1")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "wss://docs.example.com/ws", cfg.ResolvedEndpoint())
	require.True(t, cfg.Runtime.Debug)
	require.True(t, cfg.Runtime.Disabled)
	require.Equal(t, LogLevelDebug, cfg.Logging.Level)
	require.True(t, DisabledByEnv())
}

func TestDisableSwitchIgnoresGarbage(t *testing.T) {
	t.Setenv(EnvDisable, "maybe")
	require.False(t, DisabledByEnv())
}

func TestValidateRejectsMismatchedEndpoint(t *testing.T) {
	path := writeConfig(t, `
runtime:
  endpoint: http://localhost/ws
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "ws://")
}

func TestValidateRejectsNATSPersistenceWithoutURL(t *testing.T) {
	cfg := Default()
	cfg.Persistence.Backend = PersistenceNATS
	require.Error(t, Validate(cfg))

	cfg.Persistence.NATSURL = "nats://127.0.0.1:4222"
	require.NoError(t, Validate(cfg))
}

func TestValidateLanguageTable(t *testing.T) {
	cfg := Default()
	cfg.Sandbox.Languages = map[string]LanguageConfig{"bad": {Command: []string{"run", "{file}"}}}
	require.Error(t, Validate(cfg))

	cfg.Sandbox.Languages = map[string]LanguageConfig{"empty": {}}
	require.Error(t, Validate(cfg))
}

func TestInitWritesLoadableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "livedocs.yaml")
	require.NoError(t, Init(path, false))
	require.Error(t, Init(path, false), "second init without force must fail")
	require.NoError(t, Init(path, true))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, PersistenceSQLite, cfg.Persistence.Backend)
	require.True(t, cfg.Diagnostics.Enabled)
}

func TestLoadRejectsUnknownEnumValues(t *testing.T) {
	path := writeConfig(t, `
persistence:
  backend: postgres
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid persistence backend")
}

func TestNormalizersAcceptAliases(t *testing.T) {
	require.Equal(t, TransportWebSocket, NormalizeTransport(" WS "))
	require.Equal(t, PersistenceNATS, NormalizePersistence("kv"))
	require.Equal(t, SurfaceBuffer, NormalizeSurface("memory"))
	require.Equal(t, LogLevelWarn, NormalizeLogLevel("warning"))
	require.Equal(t, LogLevelInfo, NormalizeLogLevel("chatty"))
	require.Empty(t, NormalizeRetryBackoff("jittered"))
}
