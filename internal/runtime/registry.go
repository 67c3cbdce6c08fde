package runtime

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"

	ferrors "git.home.luguber.info/inful/livedocs/internal/foundation/errors"
)

// Well-known registry handle names.
const (
	HandleClient      = "client"
	HandleNavigation  = "navigation"
	HandleSearch      = "search"
	HandleCodeCopy    = "codecopy"
	HandleDiagnostics = "diagnostics"
)

// Stopper is implemented by handles that need a context to shut down.
type Stopper interface {
	Stop(ctx context.Context) error
}

// Registry holds the named handles of one process: the orchestrator under
// "client" plus any page collaborators. It is created once at startup and torn
// down explicitly.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]any
	order   []string
	down    bool
}

// ErrTornDown is returned by Set after Teardown.
var ErrTornDown = ferrors.RuntimeError("registry torn down").Build()

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]any)}
}

// Set stores a handle under name, replacing an earlier one.
func (r *Registry) Set(name string, handle any) error {
	if name == "" || handle == nil {
		return ferrors.ValidationError("registry handle needs a name and a value").Build()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return ErrTornDown
	}
	if _, ok := r.handles[name]; !ok {
		r.order = append(r.order, name)
	}
	r.handles[name] = handle
	return nil
}

// Get returns the handle stored under name.
func (r *Registry) Get(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[name]
	return h, ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handles))
	for n := range r.handles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Teardown stops handles in reverse registration order and empties the
// registry. Handles implementing Stopper or io.Closer are shut down; all
// errors are joined. Later calls do nothing.
func (r *Registry) Teardown(ctx context.Context) error {
	r.mu.Lock()
	if r.down {
		r.mu.Unlock()
		return nil
	}
	r.down = true
	order := r.order
	handles := r.handles
	r.order = nil
	r.handles = make(map[string]any)
	r.mu.Unlock()

	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		switch h := handles[order[i]].(type) {
		case Stopper:
			if err := h.Stop(ctx); err != nil {
				errs = append(errs, err)
			}
		case io.Closer:
			if err := h.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
