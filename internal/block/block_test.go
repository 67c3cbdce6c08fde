package block

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/livedocs/internal/debounce"
	"git.home.luguber.info/inful/livedocs/internal/editor"
	"git.home.luguber.info/inful/livedocs/internal/events"
	"git.home.luguber.info/inful/livedocs/internal/metrics"
	"git.home.luguber.info/inful/livedocs/internal/persistence"
	"git.home.luguber.info/inful/livedocs/internal/protocol"
	"git.home.luguber.info/inful/livedocs/internal/router"
	"git.home.luguber.info/inful/livedocs/internal/sandbox"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []protocol.Envelope
	err  error
}

func (s *recordingSender) SendEnvelope(_ context.Context, env protocol.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, env)
	return nil
}

func (s *recordingSender) actions() []protocol.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Action, 0, len(s.sent))
	for _, e := range s.sent {
		out = append(out, e.Action)
	}
	return out
}

func (s *recordingSender) last() protocol.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[len(s.sent)-1]
}

// scriptRuntime treats the code as a tiny script: "print(1/0)" fails at run
// time, "syntax(" fails to compile, "block" waits for cancellation, anything
// else is echoed.
type scriptRuntime struct{}

func (scriptRuntime) Name() string               { return "script" }
func (scriptRuntime) Init(context.Context) error { return nil }

func (scriptRuntime) Run(ctx context.Context, req sandbox.Request, out io.Writer) error {
	switch req.Code {
	case "print(1/0)":
		fmt.Fprintln(out, "Traceback (most recent call last):")
		return &sandbox.RunError{ExitCode: 1, Message: "ZeroDivisionError: division by zero"}
	case "syntax(":
		return &sandbox.CompileError{Language: req.Language, Message: "unexpected EOF"}
	case "block":
		<-ctx.Done()
		return ctx.Err()
	default:
		fmt.Fprintln(out, req.Code)
		return nil
	}
}

var debounceHour = debounce.Policy{Interval: time.Hour, Trailing: true}

type harness struct {
	router *router.Router
	rec    *metrics.CountingRecorder
	sender *recordingSender
	store  *persistence.MemoryStore
	bus    *events.Bus
}

func newHarness() *harness {
	bus := events.NewBus()
	rec := metrics.NewCountingRecorder()
	return &harness{
		router: router.New(router.Options{Bus: bus, Recorder: rec}),
		rec:    rec,
		sender: &recordingSender{},
		store:  persistence.NewMemoryStore(),
		bus:    bus,
	}
}

func (h *harness) deps() Deps {
	return Deps{
		PageKey:       "/guide/",
		Router:        h.router,
		Sender:        h.sender,
		Store:         h.store,
		EditorLoader:  editor.BufferLoader(),
		Runtime:       scriptRuntime{},
		ServerTimeout: 5 * time.Second,
		Bus:           h.bus,
	}
}

func (h *harness) block(t *testing.T, meta Metadata) *Block {
	t.Helper()
	b, err := New(meta, h.deps())
	require.NoError(t, err)
	t.Cleanup(b.Dispose)
	require.NoError(t, b.Attach(t.Context()))
	require.NoError(t, b.Restore(t.Context()))
	return b
}

func (h *harness) deliver(t *testing.T, blockID string, p protocol.Payload) router.Outcome {
	t.Helper()
	env, err := protocol.NewEnvelope(blockID, p.Action(), p)
	require.NoError(t, err)
	return h.router.Route(env)
}

func surfaceOf(t *testing.T, b *Block) *editor.BufferSurface {
	t.Helper()
	ed, ok := b.Editor().(*editor.Editor)
	require.True(t, ok)
	s, ok := ed.Surface().(*editor.BufferSurface)
	require.True(t, ok)
	return s
}

func waitPhase(t *testing.T, b *Block, want Phase) {
	t.Helper()
	require.Eventually(t, func() bool { return b.Phase() == want }, 5*time.Second, 5*time.Millisecond,
		"phase stayed %s, want %s", b.Phase(), want)
}

func TestNewRejectsInvalidMetadata(t *testing.T) {
	_, err := New(Metadata{Kind: KindStatic}, Deps{})
	require.Error(t, err)

	_, err = New(Metadata{ID: "x", Kind: "mystery"}, Deps{})
	require.Error(t, err)
}

func TestStaticBlockIsIdleAndDoesNotRun(t *testing.T) {
	h := newHarness()
	b := h.block(t, Metadata{ID: "s1", Kind: KindStatic, Source: "ls"})

	require.Equal(t, PhaseIdle, b.Phase())
	require.Nil(t, b.Editor())
	require.Zero(t, h.router.Len())

	err := b.Run(t.Context())
	require.ErrorIs(t, err, ErrNotRunnable)
	require.Equal(t, PhaseIdle, b.Phase())
}

func TestSandboxRuntimeErrorReturnsToIdle(t *testing.T) {
	h := newHarness()
	finished, cancel := events.Subscribe[events.ExecutionFinished](h.bus, 4)
	defer cancel()

	b := h.block(t, Metadata{ID: "py", Kind: KindSandbox, Language: "python", Source: "print(1/0)"})
	require.Equal(t, PhaseIdle, b.Phase())

	require.NoError(t, b.Run(t.Context()))

	select {
	case evt := <-finished:
		require.Equal(t, "py", evt.BlockID)
		require.Equal(t, string(sandbox.OutcomeRuntimeError), evt.Outcome)
	case <-time.After(5 * time.Second):
		t.Fatal("no ExecutionFinished event")
	}

	waitPhase(t, b, PhaseIdle)
	st := b.Snapshot()
	require.NotNil(t, st.LastResult)
	require.Equal(t, sandbox.OutcomeRuntimeError, st.LastResult.Outcome)
	require.Contains(t, st.LastResult.Diagnostic, "ZeroDivisionError")
	require.Empty(t, st.Err)
	require.Contains(t, b.Panel().Text(), "Traceback")
}

func TestSandboxCompileErrorReturnsToIdle(t *testing.T) {
	h := newHarness()
	b := h.block(t, Metadata{ID: "go", Kind: KindSandbox, Language: "go", Source: "syntax("})

	require.NoError(t, b.Run(t.Context()))
	require.Eventually(t, func() bool {
		st := b.Snapshot()
		return st.LastResult != nil && st.Phase == PhaseIdle
	}, 5*time.Second, 5*time.Millisecond)
	require.Equal(t, sandbox.OutcomeCompileError, b.Snapshot().LastResult.Outcome)
}

func TestSandboxRerunSupersedesInFlightRun(t *testing.T) {
	h := newHarness()
	b := h.block(t, Metadata{ID: "sb", Kind: KindSandbox, Language: "python", Source: "block"})

	require.NoError(t, b.Run(t.Context()))
	require.Equal(t, PhaseExecuting, b.Phase())

	surfaceOf(t, b).Type("print('second')")
	require.NoError(t, b.Run(t.Context()))

	require.Eventually(t, func() bool {
		st := b.Snapshot()
		return st.Phase == PhaseIdle && st.LastResult != nil
	}, 5*time.Second, 5*time.Millisecond)

	st := b.Snapshot()
	require.Equal(t, uint64(2), st.Generation)
	require.Equal(t, uint64(2), st.LastResult.Generation)
	require.Equal(t, sandbox.OutcomeSuccess, st.LastResult.Outcome)
	require.Equal(t, []string{"print('second')"}, st.LastResult.Output)
}

func TestSandboxWithoutRuntimeFailsAttach(t *testing.T) {
	h := newHarness()
	deps := h.deps()
	deps.Runtime = nil
	b, err := New(Metadata{ID: "sb", Kind: KindSandbox, Language: "python"}, deps)
	require.NoError(t, err)
	defer b.Dispose()

	require.Error(t, b.Attach(t.Context()))
	require.Equal(t, PhaseError, b.Phase())
	require.NotEmpty(t, b.Snapshot().Err)
}

func TestServerBlockLifecycle(t *testing.T) {
	h := newHarness()
	b := h.block(t, Metadata{ID: "srv", Kind: KindServer, Language: "go", Source: "fmt.Println(1)"})
	require.Equal(t, PhaseRegistered, b.Phase())
	require.Equal(t, []string{"srv"}, h.router.RegisteredBlocks())

	err := b.Run(t.Context())
	require.ErrorIs(t, err, ErrNotConnected)
	require.Equal(t, PhaseRegistered, b.Phase())

	require.NoError(t, b.OnConnected(t.Context()))
	require.Equal(t, PhaseConnected, b.Phase())
	require.Equal(t, []protocol.Action{protocol.ActionInit}, h.sender.actions())

	require.NoError(t, b.Run(t.Context()))
	require.Equal(t, PhaseExecuting, b.Phase())
	run := h.sender.last()
	require.Equal(t, protocol.ActionRun, run.Action)
	p, err := protocol.DecodePayload(run)
	require.NoError(t, err)
	require.Equal(t, uint64(1), p.(protocol.RunPayload).Generation)
	require.Equal(t, "fmt.Println(1)", p.(protocol.RunPayload).Code)

	require.Equal(t, router.Delivered, h.deliver(t, "srv", protocol.OutputPayload{Generation: 1, Chunk: "1"}))
	require.Equal(t, []string{"1"}, b.Panel().Chunks())

	require.Equal(t, router.Delivered, h.deliver(t, "srv", protocol.ResultPayload{Generation: 1, Success: true, Output: []string{"1"}}))
	require.Equal(t, PhaseIdle, b.Phase())
	require.Equal(t, sandbox.OutcomeSuccess, b.Snapshot().LastResult.Outcome)

	b.OnDisconnected()
	require.False(t, b.Connected())
	require.ErrorIs(t, b.Run(t.Context()), ErrNotConnected)
}

func TestServerStaleResultIsDiscarded(t *testing.T) {
	h := newHarness()
	b := h.block(t, Metadata{ID: "srv", Kind: KindServer, Language: "go", Source: "x"})
	require.NoError(t, b.OnConnected(t.Context()))

	require.NoError(t, b.Run(t.Context()))
	require.NoError(t, b.Run(t.Context()))
	require.Equal(t, uint64(2), b.Snapshot().Generation)

	h.deliver(t, "srv", protocol.ResultPayload{Generation: 1, Success: false, Error: "old"})
	require.Equal(t, PhaseExecuting, b.Phase())
	require.Nil(t, b.Snapshot().LastResult)

	// untagged answers cannot be matched to a run
	h.deliver(t, "srv", protocol.OutputPayload{Chunk: "late"})
	h.deliver(t, "srv", protocol.ResultPayload{Success: true})
	require.Equal(t, PhaseExecuting, b.Phase())
	require.Nil(t, b.Snapshot().LastResult)
	require.Empty(t, b.Panel().Chunks())

	h.deliver(t, "srv", protocol.ResultPayload{Generation: 2, Success: false, Kind: "compile", Error: "bad"})
	require.Equal(t, PhaseIdle, b.Phase())
	require.Equal(t, sandbox.OutcomeCompileError, b.Snapshot().LastResult.Outcome)
}

func TestServerRunTimesOut(t *testing.T) {
	h := newHarness()
	deps := h.deps()
	deps.ServerTimeout = 20 * time.Millisecond
	b, err := New(Metadata{ID: "srv", Kind: KindServer, Source: "x"}, deps)
	require.NoError(t, err)
	defer b.Dispose()
	require.NoError(t, b.Attach(t.Context()))
	require.NoError(t, b.OnConnected(t.Context()))

	require.NoError(t, b.Run(t.Context()))
	waitPhase(t, b, PhaseIdle)
	res := b.Snapshot().LastResult
	require.NotNil(t, res)
	require.Equal(t, sandbox.OutcomeRuntimeError, res.Outcome)
	require.Contains(t, res.Diagnostic, "timeout")
}

func TestServerSendFailureReturnsToIdle(t *testing.T) {
	h := newHarness()
	b := h.block(t, Metadata{ID: "srv", Kind: KindServer, Source: "x"})
	require.NoError(t, b.OnConnected(t.Context()))

	h.sender.mu.Lock()
	h.sender.err = errors.New("broken pipe")
	h.sender.mu.Unlock()

	require.Error(t, b.Run(t.Context()))
	require.Equal(t, PhaseIdle, b.Phase())
	require.Equal(t, sandbox.OutcomeInfrastructure, b.Snapshot().LastResult.Outcome)
}

func TestReconnectAbortsServerRun(t *testing.T) {
	h := newHarness()
	b := h.block(t, Metadata{ID: "srv", Kind: KindServer, Source: "x"})
	require.NoError(t, b.OnConnected(t.Context()))
	require.NoError(t, b.Run(t.Context()))

	b.OnDisconnected()
	require.NoError(t, b.OnConnected(t.Context()))

	require.Equal(t, PhaseConnected, b.Phase())
	require.Equal(t, sandbox.OutcomeCanceled, b.Snapshot().LastResult.Outcome)
}

func TestFatalServerErrorMovesToError(t *testing.T) {
	h := newHarness()
	b := h.block(t, Metadata{ID: "srv", Kind: KindServer, Source: "x"})
	require.NoError(t, b.OnConnected(t.Context()))

	h.deliver(t, "srv", protocol.ErrorPayload{Message: "session expired", Fatal: true})
	require.Equal(t, PhaseError, b.Phase())
	require.Contains(t, b.Snapshot().Err, "session expired")
	require.Error(t, b.Run(t.Context()))
}

func TestInteractiveBlockConnectsOnFirstStateSync(t *testing.T) {
	h := newHarness()
	b := h.block(t, Metadata{ID: "counter", Kind: KindInteractive})
	require.Nil(t, b.Editor())
	require.ErrorIs(t, b.Run(t.Context()), ErrNotRunnable)

	require.NoError(t, b.OnConnected(t.Context()))
	require.Equal(t, PhaseRegistered, b.Phase())
	require.ErrorIs(t, b.SendEvent(t.Context(), "inc", nil), ErrNotConnected)

	h.deliver(t, "counter", protocol.StatePayload{State: []byte(`{"count":1}`)})
	require.Equal(t, PhaseConnected, b.Phase())
	require.JSONEq(t, `{"count":1}`, string(b.Snapshot().Remote))

	require.NoError(t, b.SendEvent(t.Context(), "inc", []byte(`1`)))
	evt := h.sender.last()
	require.Equal(t, protocol.ActionEvent, evt.Action)
}

func TestStateSyncUpdatesEditor(t *testing.T) {
	h := newHarness()
	b := h.block(t, Metadata{ID: "srv", Kind: KindServer, Source: "a"})
	code := "b"
	h.deliver(t, "srv", protocol.StatePayload{Code: &code})

	require.Equal(t, "b", b.Snapshot().Code)
	require.Equal(t, "b", b.Editor().Value())
}

func TestEditPersistsAndRestoreMatchesFingerprint(t *testing.T) {
	h := newHarness()
	b := h.block(t, Metadata{ID: "ed", Kind: KindSandbox, Language: "python", Source: "print(1)"})

	require.True(t, surfaceOf(t, b).Type("print(2)"))
	require.Equal(t, "print(2)", b.Snapshot().Code)

	rec, ok, err := h.store.Load(t.Context(), "/guide/", "ed")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "print(2)", rec.Code)
	require.False(t, b.Snapshot().Dirty)

	again := h.block(t, Metadata{ID: "ed", Kind: KindSandbox, Language: "python", Source: "print(1)"})
	require.Equal(t, "print(2)", again.Snapshot().Code)
	require.Equal(t, "print(2)", again.Editor().Value())

	changed := h.block(t, Metadata{ID: "ed", Kind: KindSandbox, Language: "python", Source: "print(10)"})
	require.Equal(t, "print(10)", changed.Snapshot().Code)
}

func TestReadonlyBlockIgnoresEdits(t *testing.T) {
	h := newHarness()
	b := h.block(t, Metadata{ID: "ro", Kind: KindSandbox, Language: "python", Source: "x", Readonly: true})

	require.False(t, surfaceOf(t, b).Type("y"))
	b.Edit("y")
	require.Equal(t, "x", b.Snapshot().Code)
}

func TestDisposeFlushesPendingSaveAndIsTerminal(t *testing.T) {
	h := newHarness()
	deps := h.deps()
	deps.SavePolicy = debounceHour
	b, err := New(Metadata{ID: "d", Kind: KindServer, Source: "a"}, deps)
	require.NoError(t, err)
	require.NoError(t, b.Attach(t.Context()))
	require.NoError(t, b.Restore(t.Context()))

	b.Edit("pending")
	require.True(t, b.Snapshot().SavePending)
	_, ok, err := h.store.Load(t.Context(), "/guide/", "d")
	require.NoError(t, err)
	require.False(t, ok)

	b.Dispose()
	b.Dispose()

	rec, ok, err := h.store.Load(t.Context(), "/guide/", "d")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "pending", rec.Code)

	require.Equal(t, PhaseDisposed, b.Phase())
	require.Zero(t, h.router.Len())
	require.ErrorIs(t, b.Run(t.Context()), ErrDisposed)
	require.NoError(t, b.OnConnected(t.Context()))
	require.Equal(t, PhaseDisposed, b.Phase())
	require.True(t, surfaceOf(t, b).Closed())
}

func TestPhaseEventsArePublished(t *testing.T) {
	h := newHarness()
	ch, cancel := events.Subscribe[events.PhaseChanged](h.bus, 16)
	defer cancel()

	b := h.block(t, Metadata{ID: "st", Kind: KindStatic})
	b.Dispose()

	var got []string
	for len(got) < 3 {
		select {
		case evt := <-ch:
			got = append(got, evt.To)
		case <-time.After(time.Second):
			t.Fatalf("phase events: %v", got)
		}
	}
	require.Equal(t, []string{"registered", "idle", "disposed"}, got)
}

func TestTransitionTable(t *testing.T) {
	require.True(t, CanTransition(PhaseDiscovered, PhaseRegistered))
	require.True(t, CanTransition(PhaseExecuting, PhaseExecuting))
	require.False(t, CanTransition(PhaseDiscovered, PhaseExecuting))
	require.False(t, CanTransition(PhaseError, PhaseIdle))
	require.False(t, CanTransition(PhaseDisposed, PhaseIdle))
	require.True(t, PhaseDisposed.Terminal())

	for _, raw := range []string{"lvt", "WASM", " server "} {
		_, ok := ParseKind(raw)
		require.True(t, ok, raw)
	}
	_, ok := ParseKind("python")
	require.False(t, ok)
}

func TestFailMovesToErrorAndStopsRuns(t *testing.T) {
	h := newHarness()
	b := h.block(t, Metadata{ID: "srv", Kind: KindServer, Source: "x"})

	b.Fail(errors.New("dial refused"))
	require.Equal(t, PhaseError, b.Phase())
	require.Contains(t, b.Snapshot().Err, "dial refused")

	b.Dispose()
	b.Fail(errors.New("late"))
	require.Equal(t, PhaseDisposed, b.Phase())
}

func TestDisposeAppliesEditStillInEditorWindow(t *testing.T) {
	h := newHarness()
	deps := h.deps()
	deps.EditorPolicy = debounceHour
	deps.SavePolicy = debounceHour
	b, err := New(Metadata{ID: "typed", Kind: KindSandbox, Language: "sh", Source: "echo a"}, deps)
	require.NoError(t, err)
	require.NoError(t, b.Attach(t.Context()))
	require.NoError(t, b.Restore(t.Context()))

	require.True(t, surfaceOf(t, b).Type("echo edited"))
	require.Equal(t, "echo a", b.Snapshot().Code)

	b.Dispose()

	rec, ok, err := h.store.Load(t.Context(), "/guide/", "typed")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "echo edited", rec.Code)
}

func TestOnConnectedLeavesHandlerBinding(t *testing.T) {
	h := newHarness()
	b := h.block(t, Metadata{ID: "srv", Kind: KindServer, Source: "x"})
	state := protocol.StatePayload{State: []byte(`{}`)}

	require.NoError(t, b.OnConnected(t.Context()))
	require.NoError(t, b.OnConnected(t.Context()))
	require.Zero(t, h.rec.Overwrites())

	h.router.Clear()
	require.Equal(t, router.NoHandler, h.deliver(t, "srv", state))
	require.NoError(t, b.Bind())
	require.Equal(t, router.Delivered, h.deliver(t, "srv", state))
	require.Zero(t, h.rec.Overwrites())

	b.Dispose()
	require.NoError(t, b.Bind())
	require.Zero(t, h.router.Len())
}
