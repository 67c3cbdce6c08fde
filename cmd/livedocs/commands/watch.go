package commands

import (
	"context"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/livedocs/internal/debounce"
	ferrors "git.home.luguber.info/inful/livedocs/internal/foundation/errors"
	"git.home.luguber.info/inful/livedocs/internal/logfields"
	"git.home.luguber.info/inful/livedocs/internal/page"
)

// WatchCmd implements the 'watch' command.
type WatchCmd struct {
	Page        string        `arg:"" help:"HTML or Markdown page to serve and watch." type:"existingfile"`
	Key         string        `help:"Page key used for persistence (defaults to the page path)."`
	Diagnostics string        `name:"diagnostics" help:"Diagnostics listen address; overrides the config and enables the server."`
	Settle      time.Duration `help:"Quiet period after the last write before re-discovery." default:"200ms"`
}

func (w *WatchCmd) Run(g *Global, root *CLI) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sess, err := openSession(ctx, g, root, w.Page, w.Key, w.Diagnostics)
	if err != nil {
		return err
	}
	key := sess.orch.PageKey()

	pw, err := watchPage(w.Page, w.Settle, g.Logger, func() {
		p, err := page.LoadFile(w.Page, key)
		if err != nil {
			g.Logger.Warn("Page reload failed", logfields.Path(w.Page), logfields.Error(err))
			return
		}
		if err := sess.orch.DiscoverBlocks(ctx, p); err != nil {
			g.Logger.Warn("Re-discovery failed", logfields.Path(w.Page), logfields.Error(err))
			return
		}
		g.Logger.Info("Page re-discovered", logfields.Path(w.Page), slog.Int("blocks", len(p.Blocks)))
	})
	if err != nil {
		_ = sess.close()
		return err
	}
	defer pw.Close()

	return sess.wait(ctx)
}

// pageWatcher calls onChange once per burst of writes to a single file.
type pageWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	pending *debounce.Debouncer[struct{}]
	logger  *slog.Logger
	done    chan struct{}
	stopped chan struct{}
}

// watchPage watches the directory holding path so editors that replace the
// file by rename are still seen.
func watchPage(path string, settle time.Duration, logger *slog.Logger, onChange func()) (*pageWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryValidation, "invalid page path").Build()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryRuntime, "failed to create file watcher").Build()
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return nil, ferrors.WrapError(err, ferrors.CategoryRuntime, "failed to watch page directory").
			WithContext("path", abs).
			Build()
	}
	pw := &pageWatcher{
		path:    abs,
		watcher: watcher,
		pending: debounce.New(debounce.Policy{Interval: settle, Trailing: true}, func(struct{}) { onChange() }),
		logger:  logger,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go pw.loop()
	return pw, nil
}

func (pw *pageWatcher) loop() {
	defer close(pw.stopped)
	for {
		select {
		case <-pw.done:
			return
		case event, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != pw.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				pw.pending.Trigger(struct{}{})
			}
		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			pw.logger.Warn("Page watcher error", logfields.Error(err))
		}
	}
}

// Close stops watching and drops any pending change.
func (pw *pageWatcher) Close() {
	select {
	case <-pw.done:
		return
	default:
	}
	close(pw.done)
	_ = pw.watcher.Close()
	<-pw.stopped
	pw.pending.Stop()
}
