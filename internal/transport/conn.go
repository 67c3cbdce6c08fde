// Package transport provides the single shared bidirectional connection that
// every connection-backed block multiplexes over.
package transport

import (
	"context"
	"strings"

	"git.home.luguber.info/inful/livedocs/internal/config"
	ferrors "git.home.luguber.info/inful/livedocs/internal/foundation/errors"
)

// Conn is one established connection carrying whole messages.
type Conn interface {
	Send(ctx context.Context, msg []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer establishes connections to an endpoint.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, endpoint string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, endpoint string) (Conn, error) { return f(ctx, endpoint) }

var (
	// ErrClosed is returned by operations on a closed connection or client.
	ErrClosed = ferrors.TransportError("connection closed").Build()
	// ErrNotConnected is returned by Send while no connection is established.
	ErrNotConnected = ferrors.TransportError("shared connection not established").Build()
)

// NewDialer returns the dialer for a configured transport kind. The session id
// identifies this client to the backend.
func NewDialer(kind config.TransportKind, sessionID string) Dialer {
	switch kind {
	case config.TransportNATS:
		return &NATSDialer{Name: "livedocs-" + sessionID}
	default:
		return &WebSocketDialer{SessionID: sessionID}
	}
}

// DialerFor picks a dialer from the endpoint scheme.
func DialerFor(endpoint, sessionID string) Dialer {
	if strings.HasPrefix(endpoint, "nats://") || strings.HasPrefix(endpoint, "tls://") {
		return NewDialer(config.TransportNATS, sessionID)
	}
	return NewDialer(config.TransportWebSocket, sessionID)
}
