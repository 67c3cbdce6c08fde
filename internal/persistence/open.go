package persistence

import (
	"context"

	"git.home.luguber.info/inful/livedocs/internal/config"
	ferrors "git.home.luguber.info/inful/livedocs/internal/foundation/errors"
)

// Open builds the store selected by cfg.
func Open(ctx context.Context, cfg config.PersistenceConfig) (Store, error) {
	switch cfg.Backend {
	case config.PersistenceMemory, "":
		return NewMemoryStore(), nil
	case config.PersistenceSQLite:
		return NewSQLiteStore(cfg.Path)
	case config.PersistenceNATS:
		return NewKVStore(ctx, cfg.NATSURL, cfg.Bucket)
	default:
		return nil, ferrors.ConfigError("unknown persistence backend").
			WithContext("backend", string(cfg.Backend)).Build()
	}
}
