package block

import "strings"

// Kind is the closed set of block variants.
type Kind string

const (
	KindStatic      Kind = "static"      // display only
	KindServer      Kind = "server"      // edited locally, run by the backend
	KindInteractive Kind = "interactive" // state owned by the backend, user events sent upstream
	KindSandbox     Kind = "sandbox"     // edited and run locally
)

// ParseKind resolves a marker value to a Kind. The legacy names "lvt" and
// "wasm" map to interactive and sandbox.
func ParseKind(raw string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "static":
		return KindStatic, true
	case "server":
		return KindServer, true
	case "interactive", "lvt":
		return KindInteractive, true
	case "sandbox", "wasm":
		return KindSandbox, true
	default:
		return "", false
	}
}

// NeedsConnection reports whether the kind requires the shared connection.
func (k Kind) NeedsConnection() bool { return k == KindServer || k == KindInteractive }

// HasEditor reports whether the kind carries an editing surface.
func (k Kind) HasEditor() bool { return k == KindServer || k == KindSandbox }

// Runnable reports whether Run is accepted for the kind.
func (k Kind) Runnable() bool { return k == KindServer || k == KindSandbox }
