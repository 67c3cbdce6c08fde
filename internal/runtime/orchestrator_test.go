package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/livedocs/internal/block"
	"git.home.luguber.info/inful/livedocs/internal/config"
	"git.home.luguber.info/inful/livedocs/internal/metrics"
	"git.home.luguber.info/inful/livedocs/internal/page"
	"git.home.luguber.info/inful/livedocs/internal/persistence"
	"git.home.luguber.info/inful/livedocs/internal/protocol"
	"git.home.luguber.info/inful/livedocs/internal/retry"
	"git.home.luguber.info/inful/livedocs/internal/sandbox"
	"git.home.luguber.info/inful/livedocs/internal/transport"
)

// backend is an in-memory server end of the shared connection.
type backend struct {
	mu    sync.Mutex
	conns []*memConn
	dials int
	fail  bool
}

func (b *backend) Dial(context.Context, string) (transport.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dials++
	if b.fail {
		return nil, errors.New("connection refused")
	}
	c := &memConn{in: make(chan []byte, 32), out: make(chan []byte, 32), closed: make(chan struct{})}
	b.conns = append(b.conns, c)
	return c, nil
}

func (b *backend) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

func (b *backend) current() *memConn {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conns[len(b.conns)-1]
}

type memConn struct {
	in, out chan []byte
	once    sync.Once
	closed  chan struct{}
}

func (c *memConn) Send(ctx context.Context, msg []byte) error {
	select {
	case c.out <- msg:
		return nil
	case <-c.closed:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *memConn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case m := <-c.in:
		return m, nil
	case <-c.closed:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *memConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *memConn) push(t *testing.T, blockID string, p protocol.Payload) {
	t.Helper()
	env, err := protocol.NewEnvelope(blockID, p.Action(), p)
	require.NoError(t, err)
	data, err := protocol.Encode(env)
	require.NoError(t, err)
	c.in <- data
}

func (c *memConn) next(t *testing.T) protocol.Envelope {
	t.Helper()
	select {
	case raw := <-c.out:
		env, err := protocol.Decode(raw)
		require.NoError(t, err)
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("no outbound envelope")
		return protocol.Envelope{}
	}
}

type echoRuntime struct{}

func (echoRuntime) Name() string               { return "echo" }
func (echoRuntime) Init(context.Context) error { return nil }
func (echoRuntime) Run(_ context.Context, req sandbox.Request, out io.Writer) error {
	if strings.Contains(req.Code, "1/0") {
		return &sandbox.RunError{ExitCode: 1, Message: "ZeroDivisionError"}
	}
	_, err := fmt.Fprintln(out, req.Code)
	return err
}

const mixedPage = `<html><head><meta name="livedocs-ws-url" content="ws://backend/ws"></head><body>
<pre data-block-id="intro" data-block-type="static">ls</pre>
<pre data-block-id="calc" data-block-type="server" data-language="go">fmt.Println(1)</pre>
<div data-block-id="counter" data-block-type="interactive"></div>
<pre data-block-id="local" data-block-type="sandbox" data-language="python">print(1/0)</pre>
</body></html>`

const localPage = `<pre data-block-id="intro" data-block-type="static">ls</pre>
<pre data-block-id="local" data-block-type="sandbox" data-language="python">print(2)</pre>`

func parse(t *testing.T, src string) *page.Page {
	t.Helper()
	p, err := page.ParseHTML(strings.NewReader(src), "/guide/")
	require.NoError(t, err)
	return p
}

func newOrchestrator(t *testing.T, be *backend, rec metrics.Recorder) *Orchestrator {
	t.Helper()
	o, err := New(Options{
		Endpoint: "ws://default/ws",
		Dialer:   be,
		Retry:    retry.NewPolicy(config.RetryBackoffFixed, time.Millisecond, time.Millisecond, 3),
		Store:    persistence.NewMemoryStore(),
		Runtime:  echoRuntime{},
		Recorder: rec,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Stop(context.Background()) })
	return o
}

func TestLocalOnlyPageNeverDials(t *testing.T) {
	be := &backend{}
	o := newOrchestrator(t, be, nil)

	require.NoError(t, o.DiscoverBlocks(t.Context(), parse(t, localPage)))
	require.NoError(t, o.Start(t.Context()))

	require.Zero(t, be.Dials())
	require.False(t, o.Dialed())
	require.Equal(t, []string{"intro", "local"}, o.BlockIDs())

	b, ok := o.Block("local")
	require.True(t, ok)
	require.Equal(t, block.PhaseIdle, b.Phase())
}

func TestStartConnectsAndAnnouncesBlocks(t *testing.T) {
	be := &backend{}
	rec := metrics.NewCountingRecorder()
	o := newOrchestrator(t, be, rec)

	require.NoError(t, o.DiscoverBlocks(t.Context(), parse(t, mixedPage)))
	require.Equal(t, "ws://backend/ws", o.Endpoint())
	require.NoError(t, o.Start(t.Context()))

	require.Equal(t, 1, be.Dials())
	require.True(t, o.Connected())
	require.Equal(t, 4, rec.ActiveBlocks())

	conn := be.current()
	announced := map[string]protocol.Action{}
	for range 2 {
		env := conn.next(t)
		announced[env.BlockID] = env.Action
	}
	require.Equal(t, map[string]protocol.Action{"calc": protocol.ActionInit, "counter": protocol.ActionInit}, announced)

	calc, _ := o.Block("calc")
	require.Equal(t, block.PhaseConnected, calc.Phase())
	counter, _ := o.Block("counter")
	require.Equal(t, block.PhaseRegistered, counter.Phase())

	conn.push(t, "counter", protocol.StatePayload{State: []byte(`{"n":1}`)})
	require.Eventually(t, func() bool { return counter.Phase() == block.PhaseConnected }, 2*time.Second, time.Millisecond)

	require.Equal(t, []string{"calc", "counter"}, o.Router().RegisteredBlocks())
	require.Zero(t, rec.Overwrites())
}

func TestServerRunRoundTrip(t *testing.T) {
	be := &backend{}
	o := newOrchestrator(t, be, nil)
	require.NoError(t, o.DiscoverBlocks(t.Context(), parse(t, mixedPage)))
	require.NoError(t, o.Start(t.Context()))
	conn := be.current()
	conn.next(t)
	conn.next(t)

	calc, _ := o.Block("calc")
	require.NoError(t, calc.Run(t.Context()))
	run := conn.next(t)
	require.Equal(t, protocol.ActionRun, run.Action)

	conn.push(t, "calc", protocol.ResultPayload{Generation: 1, Success: true, Output: []string{"1"}})
	require.Eventually(t, func() bool { return calc.Phase() == block.PhaseIdle }, 2*time.Second, time.Millisecond)
	require.Equal(t, []string{"1"}, calc.Snapshot().LastResult.Output)
}

func TestSandboxRuntimeFailureStaysIdle(t *testing.T) {
	be := &backend{}
	o := newOrchestrator(t, be, nil)
	require.NoError(t, o.DiscoverBlocks(t.Context(), parse(t, mixedPage)))
	require.NoError(t, o.Start(t.Context()))

	local, _ := o.Block("local")
	require.NoError(t, local.Run(t.Context()))
	require.Eventually(t, func() bool {
		st := local.Snapshot()
		return st.Phase == block.PhaseIdle && st.LastResult != nil
	}, 2*time.Second, time.Millisecond)
	st := local.Snapshot()
	require.Equal(t, sandbox.OutcomeRuntimeError, st.LastResult.Outcome)
	require.NotEmpty(t, st.LastResult.Diagnostic)
}

func TestDiscoverBlocksIsIdempotent(t *testing.T) {
	be := &backend{}
	rec := metrics.NewCountingRecorder()
	o := newOrchestrator(t, be, rec)
	p := parse(t, mixedPage)

	require.NoError(t, o.DiscoverBlocks(t.Context(), p))
	require.NoError(t, o.Start(t.Context()))
	first := o.BlockIDs()
	oldCalc, _ := o.Block("calc")

	require.NoError(t, o.DiscoverBlocks(t.Context(), p))
	require.Equal(t, first, o.BlockIDs())
	require.Equal(t, []string{"calc", "counter"}, o.Router().RegisteredBlocks())
	require.Zero(t, rec.Overwrites())
	require.Equal(t, block.PhaseDisposed, oldCalc.Phase())

	newCalc, _ := o.Block("calc")
	require.NotSame(t, oldCalc, newCalc)
	require.Equal(t, block.PhaseConnected, newCalc.Phase())
	require.Equal(t, 1, be.Dials())

	require.NoError(t, o.DiscoverBlocks(t.Context(), parse(t, localPage)))
	require.Equal(t, []string{"intro", "local"}, o.BlockIDs())
	require.Empty(t, o.Router().RegisteredBlocks())
}

func TestReconnectResyncsBlocks(t *testing.T) {
	be := &backend{}
	rec := metrics.NewCountingRecorder()
	o := newOrchestrator(t, be, rec)
	require.NoError(t, o.DiscoverBlocks(t.Context(), parse(t, mixedPage)))
	require.NoError(t, o.Start(t.Context()))
	first := be.current()
	first.next(t)
	first.next(t)

	_ = first.Close()
	require.Eventually(t, func() bool { return be.Dials() == 2 && o.Connected() }, 2*time.Second, time.Millisecond)

	second := be.current()
	ids := map[string]bool{}
	for range 2 {
		env := second.next(t)
		require.Equal(t, protocol.ActionInit, env.Action)
		ids[env.BlockID] = true
	}
	require.Equal(t, map[string]bool{"calc": true, "counter": true}, ids)
	require.Zero(t, rec.Overwrites())
	require.Equal(t, []string{"calc", "counter"}, o.Router().RegisteredBlocks())
}

func TestConnectionFailureFailsOnlyConnectionBlocks(t *testing.T) {
	be := &backend{fail: true}
	o := newOrchestrator(t, be, nil)
	require.NoError(t, o.DiscoverBlocks(t.Context(), parse(t, mixedPage)))

	require.Error(t, o.Start(t.Context()))
	require.Equal(t, 4, be.Dials())

	calc, _ := o.Block("calc")
	require.Equal(t, block.PhaseError, calc.Phase())
	local, _ := o.Block("local")
	require.Equal(t, block.PhaseIdle, local.Phase())
}

func TestDisabledStartWiresNothing(t *testing.T) {
	be := &backend{}
	o, err := New(Options{Endpoint: "ws://x/ws", Dialer: be, Disabled: true})
	require.NoError(t, err)
	defer o.Stop(context.Background())

	require.NoError(t, o.DiscoverBlocks(t.Context(), parse(t, mixedPage)))
	require.NoError(t, o.Start(t.Context()))
	require.Zero(t, be.Dials())
	calc, _ := o.Block("calc")
	require.Equal(t, block.PhaseDiscovered, calc.Phase())
	require.Empty(t, o.Router().RegisteredBlocks())
}

func TestStopIsTerminalAndIdempotent(t *testing.T) {
	be := &backend{}
	o := newOrchestrator(t, be, nil)
	require.NoError(t, o.DiscoverBlocks(t.Context(), parse(t, mixedPage)))
	require.NoError(t, o.Start(t.Context()))
	calc, _ := o.Block("calc")

	stopped := false
	o.OnStop(func(context.Context) error {
		stopped = true
		return nil
	})
	require.NoError(t, o.Stop(t.Context()))
	require.NoError(t, o.Stop(t.Context()))

	require.True(t, stopped)
	require.Equal(t, block.PhaseDisposed, calc.Phase())
	require.Empty(t, o.BlockIDs())
	require.Empty(t, o.Router().RegisteredBlocks())
	require.False(t, o.Connected())
	require.Error(t, o.Start(t.Context()))
	require.Error(t, o.DiscoverBlocks(t.Context(), parse(t, localPage)))
}

func TestAssembleFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Persistence.Backend = config.PersistenceSQLite
	cfg.Persistence.Path = ":memory:"
	cfg.Persistence.PruneAfter = time.Hour
	be := &backend{}
	reg := NewRegistry()

	o, err := Assemble(t.Context(), cfg, Env{Dialer: be, Runtime: echoRuntime{}, Registry: reg, SessionID: "s-1"})
	require.NoError(t, err)

	h, ok := reg.Get(HandleClient)
	require.True(t, ok)
	require.Same(t, o, h)
	require.Equal(t, "ws://localhost:8080/ws", o.Endpoint())

	require.NoError(t, o.DiscoverBlocks(t.Context(), parse(t, localPage)))
	require.NoError(t, o.Start(t.Context()))
	require.Zero(t, be.Dials())

	require.NoError(t, reg.Teardown(t.Context()))
	require.Empty(t, o.BlockIDs())
}

func TestPageDebugFlagEnablesDebugRouting(t *testing.T) {
	o := newOrchestrator(t, &backend{}, nil)
	require.False(t, o.Debug())

	debugPage := `<html><head><meta name="livedocs-debug" content="true"></head><body>` + localPage + `</body></html>`
	require.NoError(t, o.DiscoverBlocks(t.Context(), parse(t, debugPage)))
	require.True(t, o.Debug())
	require.True(t, o.Router().Debug())

	require.NoError(t, o.DiscoverBlocks(t.Context(), parse(t, localPage)))
	require.False(t, o.Debug())

	configured, err := New(Options{Debug: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = configured.Stop(context.Background()) })
	require.NoError(t, configured.DiscoverBlocks(t.Context(), parse(t, localPage)))
	require.True(t, configured.Debug())
}
