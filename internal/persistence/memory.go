package persistence

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

type recordKey struct {
	page  string
	block string
}

// MemoryStore keeps records for the lifetime of the process.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[recordKey]Record
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[recordKey]Record), now: time.Now}
}

func (m *MemoryStore) Save(ctx context.Context, pageKey, blockID, code, fingerprint string) error {
	if err := validateKey(pageKey, blockID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[recordKey{pageKey, blockID}] = Record{
		PageKey:     pageKey,
		BlockID:     blockID,
		Code:        code,
		Fingerprint: fingerprint,
		SavedAt:     m.now().UTC(),
	}
	return nil
}

func (m *MemoryStore) Load(_ context.Context, pageKey, blockID string) (Record, bool, error) {
	if err := validateKey(pageKey, blockID); err != nil {
		return Record{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[recordKey{pageKey, blockID}]
	return rec, ok, nil
}

func (m *MemoryStore) Delete(_ context.Context, pageKey, blockID string) error {
	if err := validateKey(pageKey, blockID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, recordKey{pageKey, blockID})
	return nil
}

func (m *MemoryStore) List(_ context.Context, pageKey string) ([]Record, error) {
	m.mu.RLock()
	out := make([]Record, 0)
	for k, rec := range m.records {
		if k.page == pageKey {
			out = append(out, rec)
		}
	}
	m.mu.RUnlock()
	sortRecords(out)
	return out, nil
}

func (m *MemoryStore) Prune(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, rec := range m.records {
		if rec.SavedAt.Before(cutoff) {
			delete(m.records, k)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Close() error { return nil }

func sortRecords(recs []Record) {
	slices.SortFunc(recs, func(a, b Record) int { return strings.Compare(a.BlockID, b.BlockID) })
}
