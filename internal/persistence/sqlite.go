package persistence

import (
	"context"
	"database/sql"
	"sync"
	"time"

	ferrors "git.home.luguber.info/inful/livedocs/internal/foundation/errors"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens (and migrates) a SQLite store.
// Use ":memory:" for an in-memory database, or a file path for persistent storage.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryPersistence, "open sqlite database").
			WithContext("path", dbPath).Build()
	}
	// A :memory: database exists per connection.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, ferrors.WrapError(err, ferrors.CategoryPersistence, "initialize schema").
			WithContext("path", dbPath).Build()
	}

	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS block_edits (
		page_key TEXT NOT NULL,
		block_id TEXT NOT NULL,
		code TEXT NOT NULL,
		fingerprint TEXT NOT NULL DEFAULT '',
		saved_at INTEGER NOT NULL,
		PRIMARY KEY (page_key, block_id)
	);
	CREATE INDEX IF NOT EXISTS idx_block_edits_saved_at ON block_edits(saved_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Save(ctx context.Context, pageKey, blockID, code, fingerprint string) error {
	if err := validateKey(pageKey, blockID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO block_edits (page_key, block_id, code, fingerprint, saved_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(page_key, block_id) DO UPDATE SET
			code = excluded.code,
			fingerprint = excluded.fingerprint,
			saved_at = excluded.saved_at`,
		pageKey, blockID, code, fingerprint, time.Now().UnixNano(),
	)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryPersistence, "save block edit").
			WithContext("page_key", pageKey).WithContext("block_id", blockID).Build()
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, pageKey, blockID string) (Record, bool, error) {
	if err := validateKey(pageKey, blockID); err != nil {
		return Record{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT page_key, block_id, code, fingerprint, saved_at FROM block_edits WHERE page_key = ? AND block_id = ?",
		pageKey, blockID,
	)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, ferrors.WrapError(err, ferrors.CategoryPersistence, "load block edit").
			WithContext("page_key", pageKey).WithContext("block_id", blockID).Build()
	}
	return rec, true, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, pageKey, blockID string) error {
	if err := validateKey(pageKey, blockID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM block_edits WHERE page_key = ? AND block_id = ?", pageKey, blockID); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryPersistence, "delete block edit").Build()
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, pageKey string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT page_key, block_id, code, fingerprint, saved_at FROM block_edits WHERE page_key = ? ORDER BY block_id",
		pageKey,
	)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryPersistence, "query block edits").Build()
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryPersistence, "scan block edit").Build()
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryPersistence, "iterate block edits").Build()
	}
	return out, nil
}

func (s *SQLiteStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM block_edits WHERE saved_at < ?", cutoff.UnixNano())
	if err != nil {
		return 0, ferrors.WrapError(err, ferrors.CategoryPersistence, "prune block edits").Build()
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var savedAt int64
	if err := row.Scan(&rec.PageKey, &rec.BlockID, &rec.Code, &rec.Fingerprint, &savedAt); err != nil {
		return Record{}, err
	}
	rec.SavedAt = time.Unix(0, savedAt).UTC()
	return rec, nil
}
