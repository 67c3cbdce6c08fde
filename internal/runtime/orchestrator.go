package runtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"git.home.luguber.info/inful/livedocs/internal/block"
	"git.home.luguber.info/inful/livedocs/internal/debounce"
	"git.home.luguber.info/inful/livedocs/internal/editor"
	"git.home.luguber.info/inful/livedocs/internal/events"
	ferrors "git.home.luguber.info/inful/livedocs/internal/foundation/errors"
	"git.home.luguber.info/inful/livedocs/internal/logfields"
	"git.home.luguber.info/inful/livedocs/internal/metrics"
	"git.home.luguber.info/inful/livedocs/internal/page"
	"git.home.luguber.info/inful/livedocs/internal/persistence"
	"git.home.luguber.info/inful/livedocs/internal/protocol"
	"git.home.luguber.info/inful/livedocs/internal/retry"
	"git.home.luguber.info/inful/livedocs/internal/router"
	"git.home.luguber.info/inful/livedocs/internal/sandbox"
	"git.home.luguber.info/inful/livedocs/internal/transport"
)

// Options configure an Orchestrator. Zero values are usable: no store, buffer
// editors, and no sandbox runtime.
type Options struct {
	// Endpoint of the shared connection. A page's livedocs-ws-url meta tag takes precedence.
	Endpoint string
	// Disabled suppresses all wiring in Start.
	Disabled bool
	// Debug enables per-envelope routing logs. A page's livedocs-debug flag can also enable it.
	Debug bool

	Dialer    transport.Dialer
	Retry     retry.Policy
	SendRate  rate.Limit
	SendBurst int
	SessionID string

	Store        persistence.Store
	Janitor      *persistence.Janitor
	SavePolicy   debounce.Policy
	EditorLoader editor.Loader
	EditorPolicy debounce.Policy

	Runtime       sandbox.Runtime
	Sandbox       sandbox.ExecutorOptions
	ServerTimeout time.Duration

	Logger   *slog.Logger
	Recorder metrics.Recorder
	Bus      *events.Bus
	Registry *Registry
}

// Orchestrator owns the blocks of one page and the shared connection.
type Orchestrator struct {
	opts   Options
	logger *slog.Logger
	rec    metrics.Recorder
	bus    *events.Bus
	router *router.Router

	mu       sync.RWMutex
	pageKey  string
	endpoint string
	blocks   map[string]*block.Block
	order    []string
	client   *transport.Client
	started  bool
	stopped  bool
	janitor  bool
	// closers run after everything else on Stop, in order.
	closers []func(context.Context) error
}

// New creates an orchestrator. It registers itself as the registry's client handle.
func New(opts Options) (*Orchestrator, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Bus == nil {
		opts.Bus = events.NewBus()
	}
	if opts.EditorLoader == nil {
		opts.EditorLoader = editor.BufferLoader()
	}
	if opts.Retry.Initial <= 0 {
		opts.Retry = retry.DefaultPolicy()
	}
	rec := metrics.OrNoop(opts.Recorder)
	o := &Orchestrator{
		opts:     opts,
		logger:   logger.With(logfields.Component("runtime")),
		rec:      rec,
		bus:      opts.Bus,
		endpoint: opts.Endpoint,
		blocks:   make(map[string]*block.Block),
		router: router.New(router.Options{
			Logger:   logger,
			Recorder: rec,
			Bus:      opts.Bus,
			Debug:    opts.Debug,
		}),
	}
	if opts.SessionID != "" {
		o.logger = o.logger.With(logfields.Session(opts.SessionID))
	}
	if opts.Registry != nil {
		if err := opts.Registry.Set(HandleClient, o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// Router returns the envelope router shared by all blocks.
func (o *Orchestrator) Router() *router.Router { return o.router }

// Bus returns the event bus.
func (o *Orchestrator) Bus() *events.Bus { return o.bus }

// PageKey returns the key of the last discovered page.
func (o *Orchestrator) PageKey() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.pageKey
}

// Endpoint returns the endpoint the shared connection uses.
func (o *Orchestrator) Endpoint() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.endpoint
}

// DiscoverBlocks instantiates a block for every marker on p. It is idempotent:
// a block whose id is discovered again is disposed and replaced, and blocks no
// longer on the page are disposed. When the orchestrator is already started,
// new blocks are brought up immediately.
func (o *Orchestrator) DiscoverBlocks(ctx context.Context, p *page.Page) error {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return ferrors.RuntimeError("orchestrator stopped").Build()
	}
	o.pageKey = p.Key
	if p.Config.Endpoint != "" && o.client == nil {
		o.endpoint = p.Config.Endpoint
	}
	// a page can turn debugging on; it cannot turn off the configured setting
	o.router.SetDebug(o.opts.Debug || p.Config.Debug)

	var stale []*block.Block
	for _, id := range o.order {
		if b, ok := o.blocks[id]; ok {
			stale = append(stale, b)
		}
	}

	fresh := make([]*block.Block, 0, len(p.Blocks))
	blocks := make(map[string]*block.Block, len(p.Blocks))
	order := make([]string, 0, len(p.Blocks))
	for _, meta := range p.Blocks {
		b, err := block.New(meta, o.blockDeps(p.Key))
		if err != nil {
			o.logger.Warn("Skipping invalid block", logfields.BlockID(meta.ID), logfields.Error(err))
			continue
		}
		blocks[meta.ID] = b
		order = append(order, meta.ID)
		fresh = append(fresh, b)
	}
	o.blocks = blocks
	o.order = order
	started := o.started
	o.mu.Unlock()

	// dispose before attaching so an old block cannot unregister its successor
	for _, b := range stale {
		b.Dispose()
	}
	for _, id := range p.Duplicates {
		o.logger.Warn("Duplicate block id on page; later marker wins", logfields.BlockID(id))
		o.bus.Notify(events.AnomalyReported{BlockID: id, Kind: "duplicate_block_id", Detail: p.Key})
	}
	for _, s := range p.Skipped {
		o.logger.Warn("Ignoring block marker", logfields.BlockID(s.ID), slog.String("reason", s.Reason))
	}
	for _, w := range p.Warnings {
		o.logger.Warn("Page warning", logfields.PageKey(p.Key), slog.String("detail", w))
	}
	o.rec.SetActiveBlocks(len(fresh))
	o.logger.Info("Blocks discovered", logfields.PageKey(p.Key), slog.Int("blocks", len(fresh)))

	if !started {
		return nil
	}
	o.bringUp(ctx, fresh)
	if o.Connected() {
		for _, b := range fresh {
			o.announce(ctx, b)
		}
	}
	return o.ensureConnection(ctx)
}

func (o *Orchestrator) blockDeps(pageKey string) block.Deps {
	return block.Deps{
		PageKey:       pageKey,
		Router:        o.router,
		Sender:        o,
		Store:         o.opts.Store,
		SavePolicy:    o.opts.SavePolicy,
		EditorLoader:  o.opts.EditorLoader,
		EditorPolicy:  o.opts.EditorPolicy,
		Runtime:       o.opts.Runtime,
		Sandbox:       o.opts.Sandbox,
		ServerTimeout: o.opts.ServerTimeout,
		Bus:           o.bus,
		Logger:        o.opts.Logger,
		Recorder:      o.rec,
	}
}

// Start attaches and restores every block, then opens the shared connection
// when a block needs one. With the disable switch set nothing is wired.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.opts.Disabled {
		o.logger.Info("Auto-initialization disabled")
		return nil
	}
	o.mu.Lock()
	switch {
	case o.stopped:
		o.mu.Unlock()
		return ferrors.RuntimeError("orchestrator stopped").Build()
	case o.started:
		o.mu.Unlock()
		return nil
	}
	o.started = true
	o.janitor = o.opts.Janitor != nil
	blocks := o.snapshotLocked()
	o.mu.Unlock()

	if o.janitor {
		o.opts.Janitor.Start()
	}
	o.bringUp(ctx, blocks)
	return o.ensureConnection(ctx)
}

func (o *Orchestrator) bringUp(ctx context.Context, blocks []*block.Block) {
	for _, b := range blocks {
		if err := b.Attach(ctx); err != nil {
			o.logger.Warn("Block failed to attach", logfields.BlockID(b.ID()), logfields.Error(err))
			continue
		}
		if err := b.Restore(ctx); err != nil {
			o.logger.Warn("Block failed to restore", logfields.BlockID(b.ID()), logfields.Error(err))
		}
	}
}

func (o *Orchestrator) needsConnection() []*block.Block {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []*block.Block
	for _, id := range o.order {
		if b := o.blocks[id]; b.Metadata().Kind.NeedsConnection() {
			out = append(out, b)
		}
	}
	return out
}

// ensureConnection dials when a connection-backed block exists and no client does.
func (o *Orchestrator) ensureConnection(ctx context.Context) error {
	if len(o.needsConnection()) == 0 {
		return nil
	}
	o.mu.Lock()
	if o.client != nil || o.stopped {
		o.mu.Unlock()
		return nil
	}
	if o.opts.Dialer == nil {
		o.mu.Unlock()
		err := ferrors.ConfigError("page needs a connection but no dialer is configured").Build()
		o.failConnectionBlocks(err)
		return err
	}
	client, err := transport.NewClient(transport.ClientOptions{
		Endpoint:     o.endpoint,
		Dialer:       o.opts.Dialer,
		Handler:      o.handleMessage,
		Retry:        o.opts.Retry,
		SendRate:     o.opts.SendRate,
		SendBurst:    o.opts.SendBurst,
		OnConnect:    o.onConnect,
		OnDisconnect: o.onDisconnect,
		SessionID:    o.opts.SessionID,
		Logger:       o.opts.Logger,
		Recorder:     o.rec,
		Bus:          o.bus,
	})
	if err != nil {
		o.mu.Unlock()
		o.failConnectionBlocks(err)
		return err
	}
	o.client = client
	o.mu.Unlock()

	if err := client.Connect(ctx); err != nil {
		o.logger.Error("Shared connection could not be established", logfields.Error(err))
		o.failConnectionBlocks(err)
		return err
	}
	go o.watch(client)
	return nil
}

// watch fails connection-backed blocks when the client gives up reconnecting.
func (o *Orchestrator) watch(c *transport.Client) {
	<-c.Done()
	if err := c.Err(); err != nil {
		o.failConnectionBlocks(err)
	}
}

func (o *Orchestrator) failConnectionBlocks(err error) {
	for _, b := range o.needsConnection() {
		b.Fail(err)
	}
}

func (o *Orchestrator) handleMessage(msg []byte) {
	o.router.Route(msg)
}

// onConnect rebinds and announces every connection-backed block. The router
// is cleared first so rebinding does not count as overwriting.
func (o *Orchestrator) onConnect(ctx context.Context, attempt int) {
	o.router.Clear()
	for _, b := range o.needsConnection() {
		if err := b.Bind(); err != nil {
			o.logger.Warn("Block failed to rebind", logfields.BlockID(b.ID()), logfields.Error(err))
			continue
		}
		o.announce(ctx, b)
	}
	o.logger.Debug("Blocks resynced", logfields.Attempt(attempt))
}

func (o *Orchestrator) announce(ctx context.Context, b *block.Block) {
	if !b.Metadata().Kind.NeedsConnection() {
		return
	}
	if err := b.OnConnected(ctx); err != nil {
		o.logger.Warn("Block failed to resync", logfields.BlockID(b.ID()), logfields.Error(err))
	}
}

func (o *Orchestrator) onDisconnect(error) {
	for _, b := range o.needsConnection() {
		b.OnDisconnected()
	}
}

// SendEnvelope sends env on the shared connection.
func (o *Orchestrator) SendEnvelope(ctx context.Context, env protocol.Envelope) error {
	o.mu.RLock()
	c := o.client
	o.mu.RUnlock()
	if c == nil {
		return transport.ErrNotConnected
	}
	return c.SendEnvelope(ctx, env)
}

// Connected reports whether the shared connection is up.
func (o *Orchestrator) Connected() bool {
	o.mu.RLock()
	c := o.client
	o.mu.RUnlock()
	return c != nil && c.Connected()
}

// Debug reports whether debug routing is on, from the options or the page.
func (o *Orchestrator) Debug() bool { return o.router.Debug() }

// Dialed reports whether a shared connection was ever attempted.
func (o *Orchestrator) Dialed() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.client != nil
}

// Block returns the block with the given id.
func (o *Orchestrator) Block(id string) (*block.Block, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	b, ok := o.blocks[id]
	return b, ok
}

// BlockIDs returns block ids in page order.
func (o *Orchestrator) BlockIDs() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]string(nil), o.order...)
}

func (o *Orchestrator) snapshotLocked() []*block.Block {
	out := make([]*block.Block, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, o.blocks[id])
	}
	return out
}

// OnStop registers fn to run at the end of Stop.
func (o *Orchestrator) OnStop(fn func(context.Context) error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closers = append(o.closers, fn)
}

// Stop disposes every block, clears the router, closes the connection, stops
// the janitor and closes the event bus. Safe to call twice.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return nil
	}
	o.stopped = true
	blocks := o.snapshotLocked()
	client := o.client
	closers := o.closers
	janitor := o.janitor
	o.blocks = make(map[string]*block.Block)
	o.order = nil
	o.mu.Unlock()

	for _, b := range blocks {
		b.Dispose()
	}
	o.router.Clear()
	if client != nil {
		if err := client.Close(); err != nil {
			o.logger.Warn("Failed to close shared connection", logfields.Endpoint(o.Endpoint()), logfields.Error(err))
		}
	}
	var first error
	if janitor {
		if err := o.opts.Janitor.Stop(); err != nil {
			first = err
		}
	}
	for _, fn := range closers {
		if err := fn(ctx); err != nil && first == nil {
			first = err
		}
	}
	o.rec.SetActiveBlocks(0)
	o.bus.Close()
	o.logger.Info("Runtime stopped", slog.Int("blocks", len(blocks)))
	return first
}
