package dbsock

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// GorillaDialer dials with github.com/gorilla/websocket
type GorillaDialer struct {
	// Dialer to use. websocket.DefaultDialer when nil.
	Dialer *websocket.Dialer

	// Extra handshake headers
	Header http.Header
}

func (d GorillaDialer) Dial(ctx context.Context, url string) (Transport, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: websocket.DefaultDialer.HandshakeTimeout,
			TLSClientConfig:  tlsConfig(),
		}
	}
	header := d.Header
	if header == nil {
		header = http.Header{}
	}
	if header.Get("Origin") == "" {
		header.Set("Origin", originFor(url))
	}
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return &gorillaTransport{conn: conn}, nil
}

// How long Close waits to send the close frame
const closeWriteTimeout = time.Second

type gorillaTransport struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

func (t *gorillaTransport) ReadMessage() ([]byte, error) {
	_, b, err := t.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
			errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	return b, nil
}

func (t *gorillaTransport) WriteMessage(b []byte) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, b)
}

// Close sends a close frame and closes the connection. WriteControl may run concurrently
// with a pending WriteMessage, so Close never waits on a stalled writer.
func (t *gorillaTransport) Close() error {
	t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeWriteTimeout))
	return t.conn.Close()
}
