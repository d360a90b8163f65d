package dbsock

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/net/websocket"
)

// Path the server endpoint is mounted at
const DefaultPath = "/Server"

// Transport is an ordered, message-oriented connection.
// ReadMessage returns io.EOF once the peer closed the connection cleanly.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(b []byte) error
	Close() error
}

// Dialer opens a Transport to a WebSocket URL
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// EndpointURL returns the WebSocket URL of the server endpoint on host
func EndpointURL(host string, secure bool) string {
	scheme := "ws"
	if secure {
		scheme = "wss"
	}
	return scheme + "://" + host + DefaultPath
}

// originFor derives the Origin header for a WebSocket URL
func originFor(wsurl string) string {
	u, err := url.Parse(wsurl)
	if err != nil || u.Host == "" {
		return "http://localhost/"
	}
	scheme := "http"
	if strings.EqualFold(u.Scheme, "wss") {
		scheme = "https"
	}
	return scheme + "://" + u.Host + "/"
}

// -----------------------------------------------------------------------------------------------

// WebSocketDialer dials with golang.org/x/net/websocket. It is the default Dialer.
type WebSocketDialer struct {
	// Origin header. Derived from the URL when empty.
	Origin string
}

func (d WebSocketDialer) Dial(ctx context.Context, wsurl string) (Transport, error) {
	origin := d.Origin
	if origin == "" {
		origin = originFor(wsurl)
	}
	cfg, err := websocket.NewConfig(wsurl, origin)
	if err != nil {
		return nil, err
	}
	cfg.TlsConfig = tlsConfig()
	ws, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, err
	}
	return newWebSocketTransport(ws), nil
}

type webSocketTransport struct {
	ws  *websocket.Conn
	wmu sync.Mutex // guards writes on ws
}

func newWebSocketTransport(ws *websocket.Conn) *webSocketTransport {
	ws.PayloadType = websocket.TextFrame
	return &webSocketTransport{ws: ws}
}

func (t *webSocketTransport) ReadMessage() ([]byte, error) {
	var b []byte
	if err := websocket.Message.Receive(t.ws, &b); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	return b, nil
}

func (t *webSocketTransport) WriteMessage(b []byte) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	return websocket.Message.Send(t.ws, string(b))
}

func (t *webSocketTransport) Close() error {
	return t.ws.Close()
}
