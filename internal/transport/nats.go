package transport

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	ferrors "git.home.luguber.info/inful/livedocs/internal/foundation/errors"
)

// DefaultSubjectPrefix is used when a nats:// endpoint has no path.
const DefaultSubjectPrefix = "livedocs"

// NATSDialer connects over NATS. The endpoint path is the subject prefix:
// nats://host:4222/docs.session publishes on docs.session.up and receives on
// docs.session.down.
type NATSDialer struct {
	Name    string
	Options []nats.Option
}

// Subjects splits a nats endpoint into the server URL and the up/down subjects.
func Subjects(endpoint string) (server, up, down string, err error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return "", "", "", ferrors.ConfigError("invalid nats endpoint").WithContext("endpoint", endpoint).Build()
	}
	prefix := strings.Trim(u.Path, "/")
	prefix = strings.ReplaceAll(prefix, "/", ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	u.Path = ""
	return u.String(), prefix + ".up", prefix + ".down", nil
}

func (d *NATSDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	server, up, down, err := Subjects(endpoint)
	if err != nil {
		return nil, err
	}

	c := &natsConn{up: up, msgs: make(chan *nats.Msg, 256), done: make(chan struct{})}
	opts := append([]nats.Option{
		// reconnects are driven by the client so blocks can resync
		nats.NoReconnect(),
		nats.ClosedHandler(func(*nats.Conn) { c.markDone() }),
		nats.DisconnectErrHandler(func(*nats.Conn, error) { c.markDone() }),
	}, d.Options...)
	if d.Name != "" {
		opts = append(opts, nats.Name(d.Name))
	}
	if deadline, ok := ctx.Deadline(); ok {
		opts = append(opts, nats.Timeout(time.Until(deadline)))
	}

	nc, err := nats.Connect(server, opts...)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryTransport, "failed to connect to NATS").
			Retryable().WithContext("endpoint", server).Build()
	}
	sub, err := nc.ChanSubscribe(down, c.msgs)
	if err != nil {
		nc.Close()
		return nil, ferrors.WrapError(err, ferrors.CategoryTransport, "failed to subscribe").
			WithContext("subject", down).Build()
	}
	c.nc, c.sub = nc, sub
	return c, nil
}

type natsConn struct {
	nc   *nats.Conn
	sub  *nats.Subscription
	up   string
	msgs chan *nats.Msg

	doneOnce sync.Once
	done     chan struct{}
}

func (c *natsConn) markDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *natsConn) Send(_ context.Context, msg []byte) error {
	if err := c.nc.Publish(c.up, msg); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryTransport, "nats publish failed").
			WithContext("subject", c.up).Build()
	}
	return nil
}

func (c *natsConn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case m := <-c.msgs:
		return m.Data, nil
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *natsConn) Close() error {
	if c.sub != nil {
		_ = c.sub.Unsubscribe()
	}
	c.nc.Close()
	c.markDone()
	return nil
}
