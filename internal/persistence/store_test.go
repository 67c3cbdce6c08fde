package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/livedocs/internal/config"
	ferrors "git.home.luguber.info/inful/livedocs/internal/foundation/errors"
	"git.home.luguber.info/inful/livedocs/internal/metrics"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	sqliteStore, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqliteStore.Close() })

	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqliteStore,
	}
	if url := os.Getenv("LIVEDOCS_TEST_NATS_URL"); url != "" {
		kv, err := NewKVStore(t.Context(), url, "livedocs_test_"+time.Now().Format("150405"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = kv.Close() })
		stores["nats"] = kv
	}
	return stores
}

func TestStoreRoundTrip(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			code := "print('héllo')\n\tindented\r\n"
			require.NoError(t, s.Save(ctx, "/guide/intro", "hello", code, "fp1"))

			rec, ok, err := s.Load(ctx, "/guide/intro", "hello")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, code, rec.Code)
			require.Equal(t, "fp1", rec.Fingerprint)
			require.False(t, rec.SavedAt.IsZero())
		})
	}
}

func TestStoreSaveOverwrites(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			require.NoError(t, s.Save(ctx, "p", "b", "v1", ""))
			require.NoError(t, s.Save(ctx, "p", "b", "v2", ""))

			recs, err := s.List(ctx, "p")
			require.NoError(t, err)
			require.Len(t, recs, 1)
			require.Equal(t, "v2", recs[0].Code)
		})
	}
}

func TestStoreLoadMissing(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := s.Load(t.Context(), "p", "absent")
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestStoreListDeletePrune(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			require.NoError(t, s.Save(ctx, "p1", "b", "x", ""))
			require.NoError(t, s.Save(ctx, "p1", "a", "y", ""))
			require.NoError(t, s.Save(ctx, "p2", "a", "z", ""))

			recs, err := s.List(ctx, "p1")
			require.NoError(t, err)
			require.Len(t, recs, 2)
			require.Equal(t, "a", recs[0].BlockID)
			require.Equal(t, "b", recs[1].BlockID)

			require.NoError(t, s.Delete(ctx, "p1", "a"))
			require.NoError(t, s.Delete(ctx, "p1", "a"))
			_, ok, err := s.Load(ctx, "p1", "a")
			require.NoError(t, err)
			require.False(t, ok)

			n, err := s.Prune(ctx, time.Now().Add(-time.Hour))
			require.NoError(t, err)
			require.Zero(t, n)

			n, err = s.Prune(ctx, time.Now().Add(time.Hour))
			require.NoError(t, err)
			require.Equal(t, 2, n)
		})
	}
}

func TestStoreRejectsEmptyKeys(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			err := s.Save(t.Context(), "", "b", "x", "")
			require.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))
			_, _, err = s.Load(t.Context(), "p", "")
			require.Error(t, err)
		})
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edits.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(t.Context(), "p", "b", "kept", ""))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()
	rec, ok, err := s.Load(t.Context(), "p", "b")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "kept", rec.Code)
}

func TestInstrumentedCountsSaves(t *testing.T) {
	rec := metrics.NewCountingRecorder()
	s := WithMetrics(NewMemoryStore(), rec)

	require.NoError(t, s.Save(t.Context(), "p", "b", "x", ""))
	require.Error(t, s.Save(t.Context(), "p", "", "x", ""))
	require.Equal(t, 1, rec.Saves(true))
	require.Equal(t, 1, rec.Saves(false))
}

func TestOpenSelectsBackend(t *testing.T) {
	s, err := Open(context.Background(), config.PersistenceConfig{Backend: config.PersistenceMemory})
	require.NoError(t, err)
	require.IsType(t, &MemoryStore{}, s)

	s, err = Open(context.Background(), config.PersistenceConfig{
		Backend: config.PersistenceSQLite,
		Path:    filepath.Join(t.TempDir(), "x.db"),
	})
	require.NoError(t, err)
	require.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(context.Background(), config.PersistenceConfig{Backend: "redis"})
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
}

func TestKVKeyEncoding(t *testing.T) {
	k := kvKey("/docs/a b?.html", "block one")
	require.Regexp(t, `^[-_=.A-Za-z0-9]+$`, k)
	require.Contains(t, k, kvPrefix("/docs/a b?.html"))
	require.NotEqual(t, kvKey("p", "ab"), kvKey("pa", "b"))
}
