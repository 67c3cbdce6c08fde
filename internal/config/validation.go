package config

import (
	"fmt"
	"net/url"
	"strings"

	"git.home.luguber.info/inful/livedocs/internal/foundation/errors"
)

// Validate checks cross-field invariants after defaults were applied.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.ConfigError("configuration is nil").Build()
	}

	if ep := cfg.Runtime.Endpoint; ep != "" {
		u, err := url.Parse(ep)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.ConfigError("invalid endpoint").WithContext("endpoint", ep).Build()
		}
		switch cfg.Runtime.Transport {
		case TransportWebSocket:
			if u.Scheme != "ws" && u.Scheme != "wss" {
				return errors.ConfigError("websocket transport requires a ws:// or wss:// endpoint").
					WithContext("endpoint", ep).Build()
			}
		case TransportNATS:
			if u.Scheme != "nats" && u.Scheme != "tls" {
				return errors.ConfigError("nats transport requires a nats:// endpoint").
					WithContext("endpoint", ep).Build()
			}
		}
	}

	if cfg.Persistence.Backend == PersistenceNATS && cfg.Persistence.NATSURL == "" {
		return errors.ConfigError("nats persistence requires persistence.nats_url").Build()
	}
	if cfg.Persistence.PruneAfter < 0 {
		return errors.ConfigError("persistence.prune_after cannot be negative").Build()
	}

	for name, lang := range cfg.Sandbox.Languages {
		if len(lang.Command) == 0 {
			return errors.ConfigError(fmt.Sprintf("sandbox language %q has no command", name)).Build()
		}
		if lang.File == "" && usesFilePlaceholder(lang) {
			return errors.ConfigError(fmt.Sprintf("sandbox language %q uses {file} without file", name)).Build()
		}
	}

	if cfg.Reconnect.MaxRetries < 0 {
		return errors.ConfigError("reconnect.max_retries cannot be negative").Build()
	}
	if cfg.Reconnect.Initial > cfg.Reconnect.Max {
		return errors.ConfigError("reconnect.initial exceeds reconnect.max").Build()
	}
	return nil
}

func usesFilePlaceholder(lang LanguageConfig) bool {
	for _, part := range append(append([]string{}, lang.Build...), lang.Command...) {
		if strings.Contains(part, "{file}") {
			return true
		}
	}
	return false
}
