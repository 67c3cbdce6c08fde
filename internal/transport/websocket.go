package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	ferrors "git.home.luguber.info/inful/livedocs/internal/foundation/errors"
)

// SessionHeader carries the client session id on the WebSocket handshake.
const SessionHeader = "X-Livedocs-Session"

// WebSocketDialer dials ws:// and wss:// endpoints.
type WebSocketDialer struct {
	SessionID        string
	HandshakeTimeout time.Duration
	Header           http.Header
}

func (d *WebSocketDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	if dialer.HandshakeTimeout <= 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}
	header := http.Header{}
	for k, v := range d.Header {
		header[k] = append([]string(nil), v...)
	}
	if d.SessionID != "" {
		header.Set(SessionHeader, d.SessionID)
	}

	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		b := ferrors.WrapError(err, ferrors.CategoryTransport, "websocket dial failed").
			Retryable().WithContext("endpoint", endpoint)
		if resp != nil {
			b = b.WithContext("status", resp.StatusCode)
		}
		return nil, b.Build()
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *wsConn) Send(ctx context.Context, msg []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline, _ := ctx.Deadline()
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryTransport, "websocket write failed").Build()
	}
	return nil
}

func (c *wsConn) Receive(ctx context.Context) ([]byte, error) {
	// unblock ReadMessage when ctx ends
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		kind, msg, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, ferrors.WrapError(err, ferrors.CategoryTransport, "websocket read failed").Build()
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return msg, nil
		}
	}
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
