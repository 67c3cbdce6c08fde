package editor

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	ferrors "git.home.luguber.info/inful/livedocs/internal/foundation/errors"
	"git.home.luguber.info/inful/livedocs/internal/logfields"
)

var extensions = map[string]string{
	"go":         ".go",
	"python":     ".py",
	"py":         ".py",
	"sh":         ".sh",
	"bash":       ".sh",
	"node":       ".js",
	"javascript": ".js",
	"js":         ".js",
	"ruby":       ".rb",
	"sql":        ".sql",
}

// ScratchPath returns the scratch file used for blockID in dir.
func ScratchPath(dir, blockID, language string) string {
	ext, ok := extensions[strings.ToLower(language)]
	if !ok {
		ext = ".txt"
	}
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, blockID)
	return filepath.Join(dir, safe+ext)
}

// FileSurface backs a block with a scratch file the user edits in their own
// editor. Writes to the file are picked up with fsnotify.
type FileSurface struct {
	path    string
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	mu       sync.Mutex
	last     string // content last written or observed; events matching it are ignored
	watch    func(string)
	readonly bool

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// FileLoader creates FileSurfaces under dir. The directory is created on the first Load.
func FileLoader(dir string, logger *slog.Logger) Loader {
	return Lazy(
		func(context.Context) error { return os.MkdirAll(dir, 0o750) },
		func(opts Options) (Surface, error) { return NewFileSurface(ScratchPath(dir, opts.BlockID, opts.Language), opts, logger) },
	)
}

// NewFileSurface writes opts.Initial to path and starts watching it.
func NewFileSurface(path string, opts Options, logger *slog.Logger) (*FileSurface, error) {
	if logger == nil {
		logger = slog.Default()
	}
	path = filepath.Clean(path)
	if err := writeScratch(path, opts.Initial, opts.Readonly); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryEditor, "write scratch file").
			WithContext("path", path).Build()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryEditor, "create file watcher").Build()
	}
	// Watch the directory: editors often replace files instead of writing in place.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, ferrors.WrapError(err, ferrors.CategoryEditor, "watch scratch directory").
			WithContext("path", path).Build()
	}

	fs := &FileSurface{
		path:     path,
		watcher:  watcher,
		logger:   logger.With(logfields.Component("editor"), logfields.BlockID(opts.BlockID)),
		last:     opts.Initial,
		readonly: opts.Readonly,
		done:     make(chan struct{}),
	}
	fs.wg.Add(1)
	go fs.loop()
	return fs, nil
}

func writeScratch(path, content string, readonly bool) error {
	mode := os.FileMode(0o600)
	if _, err := os.Stat(path); err == nil {
		if err := os.Chmod(path, 0o600); err != nil {
			return err
		}
	}
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		return err
	}
	if readonly {
		return os.Chmod(path, 0o400)
	}
	return nil
}

func (f *FileSurface) loop() {
	defer f.wg.Done()
	for {
		select {
		case <-f.done:
			return
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != f.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				f.reload()
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.Warn("Scratch file watcher error", logfields.Error(err))
		}
	}
}

func (f *FileSurface) reload() {
	data, err := os.ReadFile(f.path)
	if err != nil {
		f.logger.Debug("Scratch file not readable", logfields.Path(f.path), logfields.Error(err))
		return
	}
	code := string(data)

	f.mu.Lock()
	if code == f.last || f.readonly {
		f.mu.Unlock()
		return
	}
	f.last = code
	fn := f.watch
	f.mu.Unlock()

	if fn != nil {
		fn(code)
	}
}

// Path returns the scratch file path.
func (f *FileSurface) Path() string { return f.path }

func (f *FileSurface) Value() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func (f *FileSurface) SetValue(code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = code
	if err := writeScratch(f.path, code, f.readonly); err != nil {
		f.logger.Warn("Failed to write scratch file", logfields.Path(f.path), logfields.Error(err))
	}
}

func (f *FileSurface) SetReadOnly(readonly bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readonly = readonly
	mode := os.FileMode(0o600)
	if readonly {
		mode = 0o400
	}
	if err := os.Chmod(f.path, mode); err != nil {
		f.logger.Warn("Failed to change scratch file mode", logfields.Path(f.path), logfields.Error(err))
	}
}

// Focus logs the scratch path so the user knows which file to open.
func (f *FileSurface) Focus() {
	f.logger.Info("Edit block in your editor", logfields.Path(f.path))
}

func (f *FileSurface) Layout() {}

func (f *FileSurface) Watch(fn func(string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watch = fn
}

// Close stops watching. The scratch file is left in place so edits survive.
func (f *FileSurface) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		err = f.watcher.Close()
		f.wg.Wait()
	})
	return err
}
