package config

// checkEnums rejects enum-like values that no alias matches. Empty values are
// left for applyDefaults.
func checkEnums(cfg *Config) error {
	checks := []struct {
		raw   string
		parse func(string) error
	}{
		{string(cfg.Runtime.Transport), func(s string) error { _, err := transports.Parse(s); return err }},
		{string(cfg.Persistence.Backend), func(s string) error { _, err := backends.Parse(s); return err }},
		{string(cfg.Editor.Surface), func(s string) error { _, err := surfaces.Parse(s); return err }},
		{string(cfg.Reconnect.Backoff), func(s string) error { _, err := backoffModes.Parse(s); return err }},
		{string(cfg.Logging.Level), func(s string) error { _, err := logLevels.Parse(s); return err }},
		{string(cfg.Logging.Format), func(s string) error { _, err := logFormats.Parse(s); return err }},
	}
	for _, c := range checks {
		if c.raw == "" {
			continue
		}
		if err := c.parse(c.raw); err != nil {
			return err
		}
	}
	return nil
}

// normalize canonicalizes enum-like values. Unknown values become empty so that
// applyDefaults can fill them and Validate does not have to second-guess casing.
func normalize(cfg *Config) {
	cfg.Runtime.Transport = NormalizeTransport(string(cfg.Runtime.Transport))
	cfg.Persistence.Backend = NormalizePersistence(string(cfg.Persistence.Backend))
	cfg.Editor.Surface = NormalizeSurface(string(cfg.Editor.Surface))
	cfg.Reconnect.Backoff = NormalizeRetryBackoff(string(cfg.Reconnect.Backoff))
	cfg.Logging.Level = NormalizeLogLevel(string(cfg.Logging.Level))
	cfg.Logging.Format = NormalizeLogFormat(string(cfg.Logging.Format))
	if cfg.Runtime.Debug {
		cfg.Logging.Level = LogLevelDebug
	}
}
