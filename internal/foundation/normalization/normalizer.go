// Package normalization maps free-form configuration strings onto typed enums.
package normalization

import (
	"sort"
	"strings"

	ferrors "git.home.luguber.info/inful/livedocs/internal/foundation/errors"
)

// Enum normalizes raw strings to values of T. Keys are matched case-insensitively
// after trimming, so aliases are simply additional keys.
type Enum[T comparable] struct {
	name     string
	values   map[string]T
	fallback T
	keys     []string
}

// New creates an Enum. fallback is returned by Normalize for unknown input.
func New[T comparable](name string, values map[string]T, fallback T) *Enum[T] {
	e := &Enum[T]{
		name:     name,
		values:   make(map[string]T, len(values)),
		fallback: fallback,
		keys:     make([]string, 0, len(values)),
	}
	for k, v := range values {
		key := clean(k)
		e.values[key] = v
		e.keys = append(e.keys, key)
	}
	sort.Strings(e.keys)
	return e
}

// Normalize returns the value for raw, or the fallback.
func (e *Enum[T]) Normalize(raw string) T {
	if v, ok := e.values[clean(raw)]; ok {
		return v
	}
	return e.fallback
}

// Parse returns the value for raw or a validation error listing the accepted keys.
func (e *Enum[T]) Parse(raw string) (T, error) {
	if v, ok := e.values[clean(raw)]; ok {
		return v, nil
	}
	var zero T
	return zero, ferrors.ValidationError("invalid "+e.name).
		WithContext("value", raw).
		WithContext("valid", strings.Join(e.keys, ", ")).
		Build()
}

// Valid reports whether v is one of the enum's values.
func (e *Enum[T]) Valid(v T) bool {
	for _, known := range e.values {
		if known == v {
			return true
		}
	}
	return false
}

// Keys returns the accepted spellings, sorted.
func (e *Enum[T]) Keys() []string {
	return append([]string(nil), e.keys...)
}

func clean(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
