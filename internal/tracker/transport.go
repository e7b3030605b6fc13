package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const closeWriteTimeout = time.Second

// Conn is the message-stream connection a session owns. *websocket.Conn
// satisfies it.
type Conn interface {
	WriteJSON(v any) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// controlWriter is implemented by connections that can send a close frame
// before tearing down the socket.
type controlWriter interface {
	WriteControl(messageType int, data []byte, deadline time.Time) error
}

// Dialer opens a Conn to an address.
type Dialer interface {
	Dial(ctx context.Context, address string) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, address string) (Conn, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, address string) (Conn, error) {
	return f(ctx, address)
}

// WebsocketDialer dials ws:// and wss:// addresses with gorilla/websocket.
type WebsocketDialer struct {
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	// Header is sent with the handshake (cookies, auth).
	Header http.Header
}

// Dial implements Dialer.
func (d WebsocketDialer) Dial(ctx context.Context, address string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, address, d.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close() //nolint:errcheck // handshake body is not needed
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", address, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return conn, nil
}

// closeConn sends a normal-closure frame when the connection supports it and
// then closes the socket.
func closeConn(conn Conn) error {
	if cw, ok := conn.(controlWriter); ok {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		// A failed close frame still leaves the socket to close below.
		_ = cw.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
	}
	if err := conn.Close(); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return fmt.Errorf("close connection: %w", err)
	}
	return nil
}
