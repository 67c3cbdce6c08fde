package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"git.home.luguber.info/inful/livedocs/internal/events"
	ferrors "git.home.luguber.info/inful/livedocs/internal/foundation/errors"
	"git.home.luguber.info/inful/livedocs/internal/logfields"
	"git.home.luguber.info/inful/livedocs/internal/metrics"
	"git.home.luguber.info/inful/livedocs/internal/protocol"
	"git.home.luguber.info/inful/livedocs/internal/retry"
)

// MessageHandler receives every inbound message in arrival order.
type MessageHandler func(msg []byte)

// ClientOptions configure a Client.
type ClientOptions struct {
	Endpoint string
	Dialer   Dialer
	Handler  MessageHandler
	Retry    retry.Policy
	// SendRate limits outbound messages; zero disables limiting.
	SendRate  rate.Limit
	SendBurst int
	// OnConnect runs on the read goroutine after every (re)connect and before
	// any inbound message is handled. attempt is 0 for the first connection.
	OnConnect func(ctx context.Context, attempt int)
	// OnDisconnect runs when an established connection drops.
	OnDisconnect func(err error)
	SessionID    string
	Logger       *slog.Logger
	Recorder     metrics.Recorder
	Bus          *events.Bus
}

// Client owns the shared connection: it dials with backoff, runs the read
// loop, and reconnects after a drop until the retry budget is spent.
type Client struct {
	opts    ClientOptions
	logger  *slog.Logger
	rec     metrics.Recorder
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.RWMutex
	conn    Conn
	started bool
	closed  bool
	err     error
}

// NewClient validates options and returns an unconnected client.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Endpoint == "" {
		return nil, ferrors.ConfigError("transport endpoint is required").Build()
	}
	if opts.Dialer == nil {
		return nil, ferrors.ConfigError("transport dialer is required").Build()
	}
	if opts.Handler == nil {
		return nil, ferrors.ConfigError("transport message handler is required").Build()
	}
	if opts.Retry.Initial <= 0 {
		opts.Retry = retry.DefaultPolicy()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		opts:   opts,
		logger: logger.With(logfields.Component("transport"), logfields.Endpoint(opts.Endpoint)),
		rec:    metrics.OrNoop(opts.Recorder),
		done:   make(chan struct{}),
	}
	if opts.SessionID != "" {
		c.logger = c.logger.With(logfields.Session(opts.SessionID))
	}
	if opts.SendRate > 0 {
		burst := opts.SendBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(opts.SendRate, burst)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c, nil
}

// Connect establishes the first connection, retrying per policy, then starts
// the read loop. It returns the last dial error when the budget is spent.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.started:
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	conn, attempt, err := c.dial(ctx, 0)
	if err != nil {
		c.finish(err)
		return err
	}
	c.established(conn, attempt)
	go c.loop(conn)
	return nil
}

// dial tries until success, budget exhaustion, or cancellation. retries counts
// failures already spent.
func (c *Client) dial(ctx context.Context, retries int) (Conn, int, error) {
	ctx, cancel := mergeCancel(ctx, c.ctx)
	defer cancel()

	for {
		if retries > 0 {
			c.rec.IncReconnectAttempt()
		}
		conn, err := c.opts.Dialer.Dial(ctx, c.opts.Endpoint)
		if err == nil {
			return conn, retries, nil
		}
		if ctx.Err() != nil {
			return nil, retries, ctx.Err()
		}
		retries++
		if c.opts.Retry.Exhausted(retries) {
			c.logger.Error("Giving up on connection", logfields.Attempt(retries), logfields.Error(err))
			return nil, retries, ferrors.WrapError(err, ferrors.CategoryTransport, "connection retries exhausted").
				WithContext("endpoint", c.opts.Endpoint).WithContext("attempts", retries).Build()
		}
		c.logger.Warn("Dial failed; backing off",
			logfields.Attempt(retries),
			slog.Duration("delay", c.opts.Retry.Delay(retries)),
			logfields.Error(err))
		if err := c.opts.Retry.Wait(ctx, retries); err != nil {
			return nil, retries, err
		}
	}
}

func (c *Client) established(conn Conn, attempt int) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	c.rec.SetConnected(true)
	c.logger.Info("Connected", logfields.Attempt(attempt))
	c.opts.Bus.Notify(events.Connected{Endpoint: c.opts.Endpoint, Attempt: attempt, At: time.Now()})
	if c.opts.OnConnect != nil {
		c.opts.OnConnect(c.ctx, attempt)
	}
}

func (c *Client) loop(conn Conn) {
	for {
		err := c.read(conn)
		c.dropped(conn, err)
		if c.ctx.Err() != nil {
			c.finish(nil)
			return
		}
		next, attempt, err := c.dial(c.ctx, 1)
		if err != nil {
			c.finish(err)
			return
		}
		conn = next
		c.established(conn, attempt)
	}
}

func (c *Client) read(conn Conn) error {
	for {
		msg, err := conn.Receive(c.ctx)
		if err != nil {
			return err
		}
		c.opts.Handler(msg)
	}
}

func (c *Client) dropped(conn Conn, err error) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()

	c.rec.SetConnected(false)
	if c.ctx.Err() != nil {
		return
	}
	reason := "connection lost"
	if err != nil {
		reason = err.Error()
	}
	c.logger.Warn("Disconnected", slog.String("reason", reason))
	c.opts.Bus.Notify(events.Disconnected{Endpoint: c.opts.Endpoint, Reason: reason, At: time.Now()})
	if c.opts.OnDisconnect != nil {
		c.opts.OnDisconnect(err)
	}
}

func (c *Client) finish(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	close(c.done)
}

// Send writes one message on the current connection, waiting for the rate limiter.
func (c *Client) Send(ctx context.Context, msg []byte) error {
	c.mu.RLock()
	conn, closed := c.conn, c.closed
	c.mu.RUnlock()
	switch {
	case closed:
		return ErrClosed
	case conn == nil:
		return ErrNotConnected
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryTransport, "send rate limit wait aborted").Build()
		}
	}
	return conn.Send(ctx, msg)
}

// SendEnvelope encodes and sends env.
func (c *Client) SendEnvelope(ctx context.Context, env protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	return c.Send(ctx, data)
}

// Connected reports whether a connection is currently established.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// Done is closed when the client stops for good: after Close or when
// reconnecting gave up.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns why the client stopped; nil after a clean Close.
func (c *Client) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Close stops the read loop and closes the connection. Safe to call twice.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	started := c.started
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		_ = conn.Close()
	}
	if started {
		<-c.done
	} else {
		close(c.done)
	}
	c.rec.SetConnected(false)
	return nil
}

// mergeCancel returns a context canceled when either parent is.
func mergeCancel(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
