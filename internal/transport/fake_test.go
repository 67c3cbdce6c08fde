package transport

import (
	"context"
	"errors"
	"sync"
)

// pipeConn is an in-memory Conn. The test side pushes inbound messages with
// deliver and reads outbound ones from sent.
type pipeConn struct {
	in   chan []byte
	sent chan []byte

	once   sync.Once
	closed chan struct{}
}

func newPipeConn() *pipeConn {
	return &pipeConn{in: make(chan []byte, 16), sent: make(chan []byte, 16), closed: make(chan struct{})}
}

func (p *pipeConn) deliver(msg string) { p.in <- []byte(msg) }

// drop simulates the remote side going away.
func (p *pipeConn) drop() { _ = p.Close() }

func (p *pipeConn) Send(ctx context.Context, msg []byte) error {
	select {
	case <-p.closed:
		return ErrClosed
	case p.sent <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeConn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-p.in:
		return msg, nil
	case <-p.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeConn) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

// scriptDialer hands out queued connections; a nil entry is a failed dial.
type scriptDialer struct {
	mu    sync.Mutex
	queue []*pipeConn
	dials int
}

func (d *scriptDialer) push(conns ...*pipeConn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = append(d.queue, conns...)
}

func (d *scriptDialer) Dial(context.Context, string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.queue) == 0 {
		return nil, errors.New("connection refused")
	}
	c := d.queue[0]
	d.queue = d.queue[1:]
	if c == nil {
		return nil, errors.New("connection refused")
	}
	return c, nil
}

func (d *scriptDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}
