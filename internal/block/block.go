// Package block implements the per-block lifecycle state machine.
//
// A Block is created at discovery and moves through
//
//	Discovered -> Registered -> {Idle, Connected} -> Executing -> Idle | Error -> Disposed
//
// one legal step per event. The Block owns its state; callers see copies through
// Snapshot. Failures are contained: block methods log and return errors, they
// never affect other blocks.
package block

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"git.home.luguber.info/inful/livedocs/internal/debounce"
	"git.home.luguber.info/inful/livedocs/internal/editor"
	"git.home.luguber.info/inful/livedocs/internal/events"
	ferrors "git.home.luguber.info/inful/livedocs/internal/foundation/errors"
	"git.home.luguber.info/inful/livedocs/internal/logfields"
	"git.home.luguber.info/inful/livedocs/internal/metrics"
	"git.home.luguber.info/inful/livedocs/internal/output"
	"git.home.luguber.info/inful/livedocs/internal/persistence"
	"git.home.luguber.info/inful/livedocs/internal/protocol"
	"git.home.luguber.info/inful/livedocs/internal/router"
	"git.home.luguber.info/inful/livedocs/internal/sandbox"
)

// Metadata is fixed at discovery.
type Metadata struct {
	ID       string `json:"id"`
	Kind     Kind   `json:"kind"`
	Language string `json:"language,omitempty"`
	Readonly bool   `json:"readonly,omitempty"`
	Source   string `json:"source,omitempty"` // embedded original code; the persistence fallback
	AutoRun  bool   `json:"autorun,omitempty"`
}

// State is the mutable runtime state of a block.
type State struct {
	Phase       Phase           `json:"phase"`
	Code        string          `json:"code"`
	Dirty       bool            `json:"dirty"`
	SavePending bool            `json:"save_pending,omitempty"` // an edit waits for its debounced save
	Generation  uint64          `json:"generation"`
	LastResult  *sandbox.Result `json:"last_result,omitempty"`
	Remote      json.RawMessage `json:"remote,omitempty"` // last server state sync (interactive)
	Err         string          `json:"error,omitempty"`
}

// Registrar binds block handlers to inbound envelopes.
type Registrar interface {
	Register(blockID string, handler router.Handler) error
	Unregister(blockID string)
}

// Sender sends envelopes on the shared connection.
type Sender interface {
	SendEnvelope(ctx context.Context, env protocol.Envelope) error
}

// Deps are the collaborators a block may use. Which ones are required depends on the kind.
type Deps struct {
	PageKey      string
	Router       Registrar
	Sender       Sender
	Store        persistence.Store
	SavePolicy   debounce.Policy
	EditorLoader editor.Loader
	EditorPolicy debounce.Policy
	Runtime      sandbox.Runtime
	Sandbox      sandbox.ExecutorOptions // BlockID, OnChunk and Logger are set by the block
	// ServerTimeout bounds a server run awaiting its result.
	ServerTimeout time.Duration
	Bus           *events.Bus
	Logger        *slog.Logger
	Recorder      metrics.Recorder
}

var (
	// ErrDisposed is returned for operations on a disposed block.
	ErrDisposed = ferrors.RuntimeError("block disposed").Build()
	// ErrNotRunnable is returned by Run for kinds without a runner.
	ErrNotRunnable = ferrors.ValidationError("block kind does not run code").Build()
	// ErrNotConnected is returned when a connection-backed operation has no connection.
	ErrNotConnected = ferrors.TransportError("shared connection not established").Build()
)

// Block is one discovered code block.
type Block struct {
	meta   Metadata
	deps   Deps
	logger *slog.Logger
	panel  *output.Panel

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       State
	connected   bool
	editor      editor.Adapter
	executor    *sandbox.Executor
	saver       *debounce.Debouncer[string]
	serverTimer *time.Timer
	disposeOnce sync.Once
}

// New creates a block in the Discovered phase holding its embedded source.
func New(meta Metadata, deps Deps) (*Block, error) {
	if meta.ID == "" {
		return nil, ferrors.ValidationError("block id is required").Build()
	}
	if _, ok := ParseKind(string(meta.Kind)); !ok {
		return nil, ferrors.ValidationError("unknown block kind").
			WithContext("block_id", meta.ID).WithContext("kind", string(meta.Kind)).Build()
	}
	if deps.ServerTimeout <= 0 {
		deps.ServerTimeout = sandbox.DefaultTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	deps.Recorder = metrics.OrNoop(deps.Recorder)

	b := &Block{
		meta:   meta,
		deps:   deps,
		logger: logger.With(logfields.Component("block"), logfields.BlockID(meta.ID), logfields.BlockKind(string(meta.Kind))),
		panel:  output.NewPanel(),
		state:  State{Phase: PhaseDiscovered, Code: meta.Source},
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())
	return b, nil
}

// ID returns the block id.
func (b *Block) ID() string { return b.meta.ID }

// Metadata returns the immutable discovery metadata.
func (b *Block) Metadata() Metadata { return b.meta }

// Panel returns the block's output surface.
func (b *Block) Panel() *output.Panel { return b.panel }

// Editor returns the editing surface, or nil for kinds without one or before Attach.
func (b *Block) Editor() editor.Adapter {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.editor
}

// Snapshot returns a copy of the current state.
func (b *Block) Snapshot() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.state
	if b.saver != nil {
		s.SavePending = b.saver.Pending()
	}
	if s.LastResult != nil {
		r := *s.LastResult
		r.Output = append([]string(nil), r.Output...)
		s.LastResult = &r
	}
	s.Remote = append(json.RawMessage(nil), s.Remote...)
	return s
}

// Phase returns the current phase.
func (b *Block) Phase() Phase {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.Phase
}

// transitionLocked moves to next if legal. b.mu must be held.
func (b *Block) transitionLocked(next Phase) bool {
	from := b.state.Phase
	if from == next && next != PhaseExecuting {
		return true
	}
	if !CanTransition(from, next) {
		b.logger.Warn("Ignoring illegal phase transition",
			slog.String("from", string(from)), slog.String("to", string(next)))
		return false
	}
	b.state.Phase = next
	b.logger.Debug("Phase changed", slog.String("from", string(from)), logfields.Phase(string(next)))
	b.deps.Bus.Notify(events.PhaseChanged{BlockID: b.meta.ID, From: string(from), To: string(next), At: time.Now()})
	return true
}

// failLocked moves the block to Error with err recorded. b.mu must be held.
func (b *Block) failLocked(err error) {
	b.state.Err = err.Error()
	if b.transitionLocked(PhaseError) {
		b.logger.Error("Block failed", logfields.Error(err))
	}
}

// Attach moves Discovered -> Registered: loads the editor, prepares the
// executor and binds the router handler as the kind requires. An editor or
// runtime that cannot be set up moves the block to Error.
func (b *Block) Attach(ctx context.Context) error {
	b.mu.Lock()
	if b.state.Phase != PhaseDiscovered {
		phase := b.state.Phase
		b.mu.Unlock()
		if phase == PhaseDisposed {
			return ErrDisposed
		}
		return nil
	}
	b.mu.Unlock()

	var ed *editor.Editor
	if b.meta.Kind.HasEditor() {
		var err error
		ed, err = editor.Open(ctx, b.deps.EditorLoader, editor.Options{
			BlockID:  b.meta.ID,
			Language: b.meta.Language,
			Initial:  b.meta.Source,
			Readonly: b.meta.Readonly,
		}, b.deps.EditorPolicy)
		if err != nil {
			b.mu.Lock()
			b.failLocked(err)
			b.mu.Unlock()
			return err
		}
	}

	var exec *sandbox.Executor
	if b.meta.Kind == KindSandbox {
		if b.deps.Runtime == nil {
			err := ferrors.SandboxError("no sandbox runtime configured").WithContext("block_id", b.meta.ID).Build()
			if ed != nil {
				ed.Destroy()
			}
			b.mu.Lock()
			b.failLocked(err)
			b.mu.Unlock()
			return err
		}
		opts := b.deps.Sandbox
		opts.BlockID = b.meta.ID
		opts.Logger = b.logger
		opts.Recorder = b.deps.Recorder
		opts.OnChunk = b.onLocalChunk
		exec = sandbox.NewExecutor(b.deps.Runtime, opts)
	}

	if b.meta.Kind.NeedsConnection() && b.deps.Router != nil {
		if err := b.deps.Router.Register(b.meta.ID, b.handle); err != nil {
			if ed != nil {
				ed.Destroy()
			}
			b.mu.Lock()
			b.failLocked(err)
			b.mu.Unlock()
			return err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state.Phase == PhaseDisposed {
		if ed != nil {
			ed.Destroy()
		}
		if exec != nil {
			exec.Close()
		}
		return ErrDisposed
	}
	if ed != nil {
		b.editor = ed
		ed.OnChange(b.Edit)
	}
	b.executor = exec
	if b.meta.Kind.HasEditor() && b.deps.Store != nil {
		b.saver = debounce.New(b.deps.SavePolicy, b.save)
	}
	b.transitionLocked(PhaseRegistered)
	return nil
}

// Restore loads persisted code into the editor when the record still matches
// the embedded source, then moves local kinds to Idle. Connection kinds stay
// Registered until OnConnected.
func (b *Block) Restore(ctx context.Context) error {
	b.mu.Lock()
	if b.state.Phase != PhaseRegistered {
		b.mu.Unlock()
		return nil
	}
	ed := b.editor
	b.mu.Unlock()

	if ed != nil && b.deps.Store != nil && b.deps.PageKey != "" {
		rec, ok, err := b.deps.Store.Load(ctx, b.deps.PageKey, b.meta.ID)
		switch {
		case err != nil:
			b.logger.Warn("Failed to load persisted code; using embedded source", logfields.Error(err))
		case ok && !persistence.Matches(rec, b.meta.Source):
			b.logger.Info("Persisted code is stale; embedded source changed")
		case ok:
			ed.SetValue(rec.Code)
			b.mu.Lock()
			b.state.Code = rec.Code
			b.mu.Unlock()
			b.logger.Debug("Restored persisted code", logfields.PageKey(b.deps.PageKey))
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.meta.Kind.NeedsConnection() && b.state.Phase == PhaseRegistered {
		b.transitionLocked(PhaseIdle)
	}
	return nil
}

// Bind registers the block's envelope handler again. Attach binds once; a
// router cleared for a new connection needs every live block rebound.
func (b *Block) Bind() error {
	if !b.meta.Kind.NeedsConnection() || b.deps.Router == nil {
		return nil
	}
	b.mu.Lock()
	phase := b.state.Phase
	b.mu.Unlock()
	switch phase {
	case PhaseDisposed, PhaseError, PhaseDiscovered:
		return nil
	}
	return b.deps.Router.Register(b.meta.ID, b.handle)
}

// OnConnected announces the block on a (re)established connection. It does not
// touch the router; see Bind. Server blocks become Connected immediately;
// interactive blocks on their first state sync.
func (b *Block) OnConnected(ctx context.Context) error {
	if !b.meta.Kind.NeedsConnection() {
		return nil
	}

	b.mu.Lock()
	switch b.state.Phase {
	case PhaseDisposed, PhaseError, PhaseDiscovered:
		b.mu.Unlock()
		return nil
	}
	b.connected = true
	if b.state.Phase == PhaseExecuting {
		// the run in flight died with the old connection
		b.abortServerRunLocked("connection reset during run")
	}
	code := b.state.Code
	b.mu.Unlock()

	env, err := protocol.NewEnvelope(b.meta.ID, protocol.ActionInit, protocol.InitPayload{
		Kind:     string(b.meta.Kind),
		Language: b.meta.Language,
		Code:     code,
	})
	if err != nil {
		return err
	}
	if err := b.send(ctx, env); err != nil {
		b.logger.Warn("Failed to announce block", logfields.Error(err))
		return err
	}

	if b.meta.Kind == KindServer {
		b.mu.Lock()
		if b.state.Phase == PhaseRegistered || b.state.Phase == PhaseIdle {
			b.transitionLocked(PhaseConnected)
		}
		b.mu.Unlock()
	}
	return nil
}

// OnDisconnected records that the shared connection dropped. Handlers stay registered.
func (b *Block) OnDisconnected() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	if b.meta.Kind == KindServer && b.state.Phase == PhaseConnected {
		b.transitionLocked(PhaseIdle)
	}
}

// Fail moves the block to Error from outside, for infrastructure failures
// such as a connection that could not be established.
func (b *Block) Fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state.Phase == PhaseDisposed {
		return
	}
	if b.serverTimer != nil {
		b.serverTimer.Stop()
		b.serverTimer = nil
	}
	b.failLocked(err)
}

// Connected reports whether the block currently has a connection.
func (b *Block) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *Block) send(ctx context.Context, env protocol.Envelope) error {
	if b.deps.Sender == nil {
		return ErrNotConnected.WithContext("block_id", b.meta.ID)
	}
	return b.deps.Sender.SendEnvelope(ctx, env)
}

// Edit records new code from the editor: it marks the block dirty, schedules a
// debounced save, and runs the block when auto-run is set.
func (b *Block) Edit(code string) {
	if !b.meta.Kind.HasEditor() || b.meta.Readonly {
		return
	}
	b.mu.Lock()
	if b.state.Phase == PhaseDisposed || b.state.Phase == PhaseError {
		b.mu.Unlock()
		return
	}
	b.state.Code = code
	b.state.Dirty = true
	saver := b.saver
	b.mu.Unlock()

	if saver != nil {
		saver.Trigger(code)
	}
	if b.meta.AutoRun {
		if err := b.Run(b.ctx); err != nil {
			b.logger.Debug("Auto-run skipped", logfields.Error(err))
		}
	}
}

func (b *Block) save(code string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := b.deps.Store.Save(ctx, b.deps.PageKey, b.meta.ID, code, persistence.Fingerprint(b.meta.Source))
	if err != nil {
		b.logger.Warn("Failed to persist code", logfields.PageKey(b.deps.PageKey), logfields.Error(err))
		return
	}
	b.mu.Lock()
	if b.state.Code == code {
		b.state.Dirty = false
	}
	b.mu.Unlock()
}

// changeFlusher is implemented by editors that debounce change notifications.
type changeFlusher interface {
	FlushChange() bool
}

// Dispose tears the block down. It is terminal: later events are ignored.
// A change still inside the editor's debounce window is applied first, and
// the pending save is flushed before the editor is destroyed.
func (b *Block) Dispose() {
	b.disposeOnce.Do(func() {
		if f, ok := b.Editor().(changeFlusher); ok {
			f.FlushChange()
		}

		b.mu.Lock()
		b.transitionLocked(PhaseDisposed)
		b.connected = false
		ed := b.editor
		exec := b.executor
		saver := b.saver
		if b.serverTimer != nil {
			b.serverTimer.Stop()
			b.serverTimer = nil
		}
		b.mu.Unlock()

		b.cancel()
		if exec != nil {
			exec.Close()
		}
		if b.meta.Kind.NeedsConnection() && b.deps.Router != nil {
			b.deps.Router.Unregister(b.meta.ID)
		}
		if saver != nil {
			saver.Flush()
			saver.Stop()
		}
		if ed != nil {
			ed.Destroy()
		}
		b.logger.Debug("Block disposed")
	})
}
