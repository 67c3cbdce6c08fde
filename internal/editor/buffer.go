package editor

import "sync"

// BufferSurface is an in-memory Surface. Type simulates a user edit.
type BufferSurface struct {
	mu       sync.RWMutex
	value    string
	readonly bool
	focused  bool
	layouts  int
	closed   bool
	watch    func(string)
}

// NewBufferSurface returns a surface holding initial.
func NewBufferSurface(initial string, readonly bool) *BufferSurface {
	return &BufferSurface{value: initial, readonly: readonly}
}

// BufferLoader creates a BufferSurface per block.
func BufferLoader() Loader {
	return Lazy(nil, func(opts Options) (Surface, error) {
		return NewBufferSurface(opts.Initial, opts.Readonly), nil
	})
}

func (b *BufferSurface) Value() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.value
}

func (b *BufferSurface) SetValue(code string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.value = code
}

// Type replaces the content as a user would and notifies the watcher.
// Edits to a read-only or closed buffer are ignored and Type returns false.
func (b *BufferSurface) Type(code string) bool {
	b.mu.Lock()
	if b.readonly || b.closed {
		b.mu.Unlock()
		return false
	}
	b.value = code
	fn := b.watch
	b.mu.Unlock()
	if fn != nil {
		fn(code)
	}
	return true
}

func (b *BufferSurface) SetReadOnly(readonly bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readonly = readonly
}

// ReadOnly reports the current read-only flag.
func (b *BufferSurface) ReadOnly() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.readonly
}

func (b *BufferSurface) Focus() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.focused = true
}

func (b *BufferSurface) Layout() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.layouts++
}

func (b *BufferSurface) Watch(fn func(string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.watch = fn
}

func (b *BufferSurface) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.watch = nil
	return nil
}

// Closed reports whether Close has been called.
func (b *BufferSurface) Closed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}
