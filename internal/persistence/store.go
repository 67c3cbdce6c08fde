// Package persistence stores user-edited block code keyed by page and block.
//
// The page's embedded source is always the fallback: a missing record, or one
// whose fingerprint no longer matches the page source, is ignored by callers.
package persistence

import (
	"context"
	"time"

	ferrors "git.home.luguber.info/inful/livedocs/internal/foundation/errors"
	"git.home.luguber.info/inful/livedocs/internal/metrics"
)

// Record is one persisted edit. A later save for the same (PageKey, BlockID) overwrites it.
type Record struct {
	PageKey     string    `json:"page_key"`
	BlockID     string    `json:"block_id"`
	Code        string    `json:"code"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	SavedAt     time.Time `json:"saved_at"`
}

// Store is the persistence contract shared by every backend.
// Saves are debounced by callers, not by the store.
type Store interface {
	Save(ctx context.Context, pageKey, blockID, code, fingerprint string) error
	Load(ctx context.Context, pageKey, blockID string) (Record, bool, error)
	Delete(ctx context.Context, pageKey, blockID string) error
	List(ctx context.Context, pageKey string) ([]Record, error)
	// Prune removes records saved before cutoff and returns how many were removed.
	Prune(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}

func validateKey(pageKey, blockID string) error {
	if pageKey == "" {
		return ferrors.ValidationError("page key is required").Build()
	}
	if blockID == "" {
		return ferrors.ValidationError("block id is required").WithContext("page_key", pageKey).Build()
	}
	return nil
}

// Instrumented wraps a Store and counts saves by result.
type Instrumented struct {
	Store
	recorder metrics.Recorder
}

// WithMetrics returns s wrapped so every Save is reported to r.
func WithMetrics(s Store, r metrics.Recorder) *Instrumented {
	return &Instrumented{Store: s, recorder: metrics.OrNoop(r)}
}

// Save forwards to the wrapped store and records the result.
func (i *Instrumented) Save(ctx context.Context, pageKey, blockID, code, fingerprint string) error {
	err := i.Store.Save(ctx, pageKey, blockID, code, fingerprint)
	i.recorder.IncPersistenceSave(err == nil)
	return err
}
