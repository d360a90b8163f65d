package dbsock_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/fridgeinv/dbsock"
	"github.com/fridgeinv/dbsock/internal/inventory"
)

func startServer(t *testing.T, codec dbsock.MessageCodec, configure ...func(*dbsock.Server)) (*dbsock.Server, string) {
	t.Helper()
	srv := dbsock.NewServer(codec, zerolog.Nop())
	inventory.New().Register(srv)
	for _, fn := range configure {
		fn(srv)
	}
	mux := http.NewServeMux()
	mux.Handle(dbsock.DefaultPath, srv)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http") + dbsock.DefaultPath
}

func dial(t *testing.T, url string, h *dbsock.Handlers, opts ...dbsock.Option) *dbsock.Conn {
	t.Helper()
	opts = append([]dbsock.Option{dbsock.WithLogger(zerolog.Nop())}, opts...)
	c := dbsock.NewConn(url, h, opts...)
	opened := make(chan struct{})
	errc := make(chan error, 1)
	require.NoError(t, c.Connect(context.Background(),
		func(*dbsock.Conn) { close(opened) },
		nil,
		func(_ *dbsock.Conn, err error) { errc <- err }))
	select {
	case <-opened:
	case err := <-errc:
		t.Fatalf("connect: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out connecting to %s", url)
	}
	t.Cleanup(func() {
		c.Close()
		<-c.Done()
	})
	return c
}

func request(t *testing.T, c *dbsock.Conn, command string, fields *dbsock.Fields) (*dbsock.Fields, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.Request(ctx, command, fields)
}

func TestServerRoundTrip(t *testing.T) {
	codecs := map[string]dbsock.MessageCodec{"text": dbsock.TextCodec{}, "json": dbsock.JSONCodec{}}
	dialers := map[string]dbsock.Dialer{"xnet": dbsock.WebSocketDialer{}, "gorilla": dbsock.GorillaDialer{}}
	for codecName, codec := range codecs {
		for dialerName, dialer := range dialers {
			codec, dialer := codec, dialer
			t.Run(codecName+"/"+dialerName, func(t *testing.T) {
				_, url := startServer(t, codec)
				c := dial(t, url, dbsock.NewHandlers(), dbsock.WithCodec(codec), dbsock.WithDialer(dialer))

				f, err := request(t, c, dbsock.CommandCreateStore, dbsock.NewFields().Set("name", dbsock.Text("Kroger")))
				require.NoError(t, err)
				require.Equal(t, "1", f.Text("id"))
				require.Equal(t, "Kroger", f.Text("name"))
				require.False(t, f.Has(dbsock.FieldRequestSeq))
				require.False(t, f.Has(dbsock.FieldErrorInd))

				f, err = request(t, c, dbsock.CommandGetAllStore, nil)
				require.NoError(t, err)
				require.Equal(t, "1", f.Text("count"))
				require.Equal(t, "Kroger", f.Text("name.0"))

				_, err = request(t, c, dbsock.CommandCreateStore, dbsock.NewFields().Set("name", dbsock.Text("kroger")))
				var res *dbsock.Response
				require.True(t, errors.As(err, &res), "got %v", err)
				require.Contains(t, res.Error(), "already exists")

				_, err = request(t, c, "bogus", nil)
				require.EqualError(t, err, "Unknown command: 'bogus'")
			})
		}
	}
}

func TestServerInventoryItems(t *testing.T) {
	_, url := startServer(t, dbsock.TextCodec{})
	c := dial(t, url, dbsock.NewHandlers())

	lastAdded := time.Date(2024, 3, 5, 7, 9, 3, 0, time.Local)
	item := inventory.NewItem("Milk", lastAdded).Fields().
		Set("quantity", dbsock.Text("2.5")).
		Set("shelf", dbsock.Text("Fridge")).
		Set("store", dbsock.Text("Kroger"))
	_, err := request(t, c, dbsock.CommandCreateStore, dbsock.NewFields().Set("name", dbsock.Text("Kroger")))
	require.NoError(t, err)
	f, err := request(t, c, dbsock.CommandCreateInventoryItem, item)
	require.NoError(t, err)
	require.Equal(t, "1", f.Text("id"))

	f, err = request(t, c, dbsock.CommandGetAllShelf, nil)
	require.NoError(t, err)
	require.Equal(t, "1", f.Text("count"))
	require.Equal(t, "Fridge", f.Text("name.0"))

	f, err = request(t, c, dbsock.CommandGetAllShelfInvItem, dbsock.NewFields().Set("name", dbsock.Text("Fridge")))
	require.NoError(t, err)
	require.Equal(t, "Milk", f.Text("name.0"))
	require.Equal(t, "2.5", f.Text("quantity.0"))
	v, _ := f.Get("lastAdded.0")
	got, ok := v.Time()
	require.True(t, ok)
	require.True(t, got.Equal(lastAdded))

	f, err = request(t, c, dbsock.CommandGetStoreData, dbsock.NewFields().Set("name", dbsock.Text("Kroger")))
	require.NoError(t, err)
	require.Equal(t, "1", f.Text("count"))
	require.Equal(t, "Milk", f.Text("name.0"))

	f, err = request(t, c, dbsock.CommandNextSurrogateKey, dbsock.NewFields().Set("type", dbsock.Text(inventory.KindStore)))
	require.NoError(t, err)
	require.Equal(t, "2", f.Text("key"))
}

func TestServerBroadcast(t *testing.T) {
	srv, url := startServer(t, dbsock.TextCodec{})

	var mu sync.Mutex
	var originPushes []string
	originHandlers := dbsock.NewHandlers()
	originHandlers.SetHandler("", func(_ *dbsock.Conn, command string, _ *dbsock.Fields) {
		mu.Lock()
		defer mu.Unlock()
		originPushes = append(originPushes, command)
	})
	origin := dial(t, url, originHandlers)

	pushes := make(chan *dbsock.Fields, 4)
	watcherHandlers := dbsock.NewHandlers()
	watcherHandlers.SetHandler(dbsock.CommandCreateStore, func(_ *dbsock.Conn, _ string, f *dbsock.Fields) {
		pushes <- f
	})
	dial(t, url, watcherHandlers)
	require.Eventually(t, func() bool { return srv.Peers() == 2 }, 5*time.Second, 10*time.Millisecond)

	_, err := request(t, origin, dbsock.CommandCreateStore, dbsock.NewFields().Set("name", dbsock.Text("Aldi")))
	require.NoError(t, err)

	select {
	case f := <-pushes:
		require.Equal(t, "Aldi", f.Text("name"))
		require.Equal(t, "1", f.Text("id"))
		require.Equal(t, dbsock.CommandCreateStore, f.Text(dbsock.FieldCommand))
		require.False(t, f.Has(dbsock.FieldRequestSeq))
	case <-time.After(5 * time.Second):
		t.Fatalf("no push received")
	}

	// Failures are not broadcast
	_, err = request(t, origin, dbsock.CommandCreateStore, dbsock.NewFields().Set("name", dbsock.Text("Aldi")))
	require.Error(t, err)
	_, err = request(t, origin, dbsock.CommandGetAllStore, nil)
	require.NoError(t, err)
	select {
	case f := <-pushes:
		t.Errorf("unexpected push %v", f.Map())
	default:
	}

	mu.Lock()
	defer mu.Unlock()
	require.Empty(t, originPushes)
}

func TestServerMissingSequence(t *testing.T) {
	_, url := startServer(t, dbsock.TextCodec{})
	ws, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://localhost/"}})
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("get_all_shelf?command=get_all_shelf")))
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := ws.ReadMessage()
	require.NoError(t, err)

	m, err := dbsock.TextCodec{}.Decode(msg)
	require.NoError(t, err)
	require.Equal(t, dbsock.CommandResponse, m.Command)
	require.False(t, m.Fields.Has(dbsock.FieldRequestSeq))
	require.Equal(t, "true", m.Fields.Text(dbsock.FieldErrorInd))
	require.Equal(t, "ERROR: No request sequence", m.Fields.Text(dbsock.FieldErrorMsg))
}

func TestServerClosesClient(t *testing.T) {
	peers := make(chan *dbsock.Peer, 1)
	_, url := startServer(t, dbsock.TextCodec{}, func(s *dbsock.Server) {
		s.AcceptHandler = func(p *dbsock.Peer) { peers <- p }
	})

	c := dbsock.NewConn(url, dbsock.NewHandlers(), dbsock.WithLogger(zerolog.Nop()))
	closed := make(chan struct{})
	errc := make(chan error, 1)
	require.NoError(t, c.Connect(context.Background(), nil,
		func(*dbsock.Conn) { close(closed) },
		func(_ *dbsock.Conn, err error) { errc <- err }))

	var p *dbsock.Peer
	select {
	case p = <-peers:
	case <-time.After(5 * time.Second):
		t.Fatalf("peer not accepted")
	}
	p.Close()

	select {
	case <-closed:
	case err := <-errc:
		t.Fatalf("expected a clean close, got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatalf("client not closed")
	}
	require.False(t, c.IsConnected())
}
