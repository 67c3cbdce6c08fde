package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables recognised by Load.
const (
	EnvEndpoint    = "LIVEDOCS_ENDPOINT"
	EnvDebug       = "LIVEDOCS_DEBUG"
	EnvDisable     = "LIVEDOCS_DISABLE_AUTO_INIT"
	EnvTransport   = "LIVEDOCS_TRANSPORT"
	EnvPersistence = "LIVEDOCS_PERSISTENCE"
	EnvLogLevel    = "LIVEDOCS_LOG_LEVEL"
)

// envFiles are tried in order; existing process variables are never overwritten.
var envFiles = []string{".env", ".env.local"}

func loadEnvFiles() {
	for _, path := range envFiles {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		_ = godotenv.Load(path)
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvEndpoint); v != "" {
		cfg.Runtime.Endpoint = v
	}
	if v, ok := envBool(EnvDebug); ok {
		cfg.Runtime.Debug = v
	}
	if v, ok := envBool(EnvDisable); ok {
		cfg.Runtime.Disabled = v
	}
	if v := os.Getenv(EnvTransport); v != "" {
		cfg.Runtime.Transport = TransportKind(v)
	}
	if v := os.Getenv(EnvPersistence); v != "" {
		cfg.Persistence.Backend = PersistenceBackend(v)
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = LogLevel(v)
	}
}

// DisabledByEnv reports whether the process-wide disable switch is set.
func DisabledByEnv() bool {
	v, ok := envBool(EnvDisable)
	return ok && v
}

func envBool(key string) (bool, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return false, false
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, false
	}
	return v, true
}
