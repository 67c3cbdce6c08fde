// Package editor adapts an editing surface to the block runtime.
//
// A Surface is the third-party editing component (an in-memory buffer, or a
// scratch file the user edits in their own editor). The Editor wraps a Surface,
// coalesces change notifications with a debounce policy, and guarantees Destroy
// runs once.
package editor

import (
	"context"
	"sync"

	"git.home.luguber.info/inful/livedocs/internal/debounce"
	ferrors "git.home.luguber.info/inful/livedocs/internal/foundation/errors"
)

// Adapter is the editing contract a Block depends on.
type Adapter interface {
	Value() string
	SetValue(code string)
	OnChange(fn func(code string))
	SetReadOnly(readonly bool)
	Focus()
	Layout()
	Destroy()
}

// Surface is an editing component. Watch reports user edits only; SetValue must
// not trigger the watch callback.
type Surface interface {
	Value() string
	SetValue(code string)
	SetReadOnly(readonly bool)
	Focus()
	Layout()
	Watch(fn func(code string))
	Close() error
}

// Options describe the surface to create for one block.
type Options struct {
	BlockID  string
	Language string
	Initial  string
	Readonly bool
}

// Loader creates surfaces. Implementations may block while loading their backing component.
type Loader interface {
	Load(ctx context.Context, opts Options) (Surface, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, opts Options) (Surface, error)

func (f LoaderFunc) Load(ctx context.Context, opts Options) (Surface, error) { return f(ctx, opts) }

// Lazy returns a Loader that runs setup once, on the first Load, before creating
// surfaces with factory. A setup failure is remembered and returned by every Load.
func Lazy(setup func(ctx context.Context) error, factory func(opts Options) (Surface, error)) Loader {
	var once sync.Once
	var setupErr error
	return LoaderFunc(func(ctx context.Context, opts Options) (Surface, error) {
		once.Do(func() {
			if setup != nil {
				setupErr = setup(ctx)
			}
		})
		if setupErr != nil {
			return nil, ferrors.WrapError(setupErr, ferrors.CategoryEditor, "editor surface unavailable").
				UserAction().Build()
		}
		return factory(opts)
	})
}

// Editor implements Adapter on top of a Surface.
type Editor struct {
	surface   Surface
	debouncer *debounce.Debouncer[string]

	mu       sync.RWMutex
	onChange func(string)

	destroyOnce sync.Once
}

// Open loads a surface through loader and wraps it. Change callbacks are
// coalesced according to policy and delivered asynchronously.
func Open(ctx context.Context, loader Loader, opts Options, policy debounce.Policy) (*Editor, error) {
	if loader == nil {
		return nil, ferrors.EditorError("no editor loader configured").WithContext("block_id", opts.BlockID).Build()
	}
	surface, err := loader.Load(ctx, opts)
	if err != nil {
		if ferrors.IsClassified(err) {
			return nil, err
		}
		return nil, ferrors.WrapError(err, ferrors.CategoryEditor, "load editor surface").
			UserAction().WithContext("block_id", opts.BlockID).Build()
	}

	e := &Editor{surface: surface}
	e.debouncer = debounce.New(policy, e.emit)
	surface.Watch(e.debouncer.Trigger)
	return e, nil
}

func (e *Editor) emit(code string) {
	e.mu.RLock()
	fn := e.onChange
	e.mu.RUnlock()
	if fn != nil {
		fn(code)
	}
}

func (e *Editor) Value() string        { return e.surface.Value() }
func (e *Editor) SetValue(code string) { e.surface.SetValue(code) }
func (e *Editor) SetReadOnly(ro bool)  { e.surface.SetReadOnly(ro) }
func (e *Editor) Focus()               { e.surface.Focus() }
func (e *Editor) Layout()              { e.surface.Layout() }
func (e *Editor) Surface() Surface     { return e.surface }
func (e *Editor) FlushChange() bool    { return e.debouncer.Flush() }

// OnChange sets the single change callback, replacing any earlier one.
func (e *Editor) OnChange(fn func(code string)) {
	e.mu.Lock()
	e.onChange = fn
	e.mu.Unlock()
}

// Destroy drops pending changes and releases the surface. Later calls do nothing.
func (e *Editor) Destroy() {
	e.destroyOnce.Do(func() {
		e.debouncer.Stop()
		_ = e.surface.Close()
	})
}
