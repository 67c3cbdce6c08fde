package config

import "git.home.luguber.info/inful/livedocs/internal/foundation/normalization"

// TransportKind selects the shared connection implementation.
type TransportKind string

const (
	TransportWebSocket TransportKind = "websocket"
	TransportNATS      TransportKind = "nats"
)

// PersistenceBackend selects the edited-code store.
type PersistenceBackend string

const (
	PersistenceMemory PersistenceBackend = "memory"
	PersistenceSQLite PersistenceBackend = "sqlite"
	PersistenceNATS   PersistenceBackend = "nats"
)

// EditorSurface selects the editing surface implementation.
type EditorSurface string

const (
	SurfaceBuffer EditorSurface = "buffer"
	SurfaceFile   EditorSurface = "file"
)

var (
	transports = normalization.New("transport", map[string]TransportKind{
		"websocket": TransportWebSocket,
		"ws":        TransportWebSocket,
		"nats":      TransportNATS,
	}, "")
	backends = normalization.New("persistence backend", map[string]PersistenceBackend{
		"memory":  PersistenceMemory,
		"mem":     PersistenceMemory,
		"sqlite":  PersistenceSQLite,
		"sqlite3": PersistenceSQLite,
		"nats":    PersistenceNATS,
		"kv":      PersistenceNATS,
	}, "")
	surfaces = normalization.New("editor surface", map[string]EditorSurface{
		"buffer": SurfaceBuffer,
		"memory": SurfaceBuffer,
		"file":   SurfaceFile,
	}, "")
)

// NormalizeTransport case-folds a transport name; unknown values return "".
func NormalizeTransport(raw string) TransportKind { return transports.Normalize(raw) }

// NormalizePersistence case-folds a backend name; unknown values return "".
func NormalizePersistence(raw string) PersistenceBackend { return backends.Normalize(raw) }

// NormalizeSurface case-folds an editor surface name; unknown values return "".
func NormalizeSurface(raw string) EditorSurface { return surfaces.Normalize(raw) }
