package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyComponent  = "component"
	KeyBlockID    = "block_id"
	KeyBlockKind  = "block_kind"
	KeyAction     = "action"
	KeyPageKey    = "page_key"
	KeyPhase      = "phase"
	KeyGeneration = "generation"
	KeyLanguage   = "language"
	KeyRuntime    = "runtime"
	KeyOutcome    = "outcome"
	KeyEndpoint   = "endpoint"
	KeySession    = "session_id"
	KeyAttempt    = "attempt"
	KeyDurationMS = "duration_ms"
	KeyPath       = "path"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Component(name string) slog.Attr { return slog.String(KeyComponent, name) }
func BlockID(id string) slog.Attr     { return slog.String(KeyBlockID, id) }
func BlockKind(k string) slog.Attr    { return slog.String(KeyBlockKind, k) }
func Action(a string) slog.Attr       { return slog.String(KeyAction, a) }
func PageKey(k string) slog.Attr      { return slog.String(KeyPageKey, k) }
func Phase(p string) slog.Attr        { return slog.String(KeyPhase, p) }
func Generation(g uint64) slog.Attr   { return slog.Uint64(KeyGeneration, g) }
func Language(l string) slog.Attr     { return slog.String(KeyLanguage, l) }
func Runtime(r string) slog.Attr      { return slog.String(KeyRuntime, r) }
func Outcome(o string) slog.Attr      { return slog.String(KeyOutcome, o) }
func Endpoint(e string) slog.Attr     { return slog.String(KeyEndpoint, e) }
func Session(id string) slog.Attr     { return slog.String(KeySession, id) }
func Attempt(n int) slog.Attr         { return slog.Int(KeyAttempt, n) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
