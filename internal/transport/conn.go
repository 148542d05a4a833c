package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the minimal connection surface the session needs. Production wraps
// a gorilla websocket; tests script frames through an in-memory fake.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// Dialer opens a Conn to the dialogue service.
type Dialer interface {
	Dial(ctx context.Context, rawURL string, header http.Header) (Conn, error)
}

// WebsocketDialer dials the service over a gorilla websocket.
type WebsocketDialer struct {
	dialer *websocket.Dialer
}

func NewWebsocketDialer() *WebsocketDialer {
	return &WebsocketDialer{
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1 << 16,
			WriteBufferSize:  1 << 16,
		},
	}
}

func (d *WebsocketDialer) Dial(ctx context.Context, rawURL string, header http.Header) (Conn, error) {
	c, resp, err := d.dialer.DialContext(ctx, rawURL, header)
	if err != nil {
		return nil, fmt.Errorf("dial dialogue websocket: %w", err)
	}
	logID := ""
	if resp != nil {
		logID = resp.Header.Get("X-Tt-Logid")
	}
	return &wsConn{c: c, logID: logID}, nil
}

type wsConn struct {
	c     *websocket.Conn
	logID string
}

func (w *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := w.c.ReadMessage()
	return data, err
}

func (w *wsConn) WriteMessage(data []byte) error {
	return w.c.WriteMessage(websocket.BinaryMessage, data)
}

func (w *wsConn) SetReadDeadline(t time.Time) error { return w.c.SetReadDeadline(t) }

func (w *wsConn) Close() error { return w.c.Close() }

// LogID exposes the service-assigned request trace id from the handshake.
func (w *wsConn) LogID() string { return w.logID }
