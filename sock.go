package dbsock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
)

var (
	ErrAlreadyInitialized = errors.New("socket already initialized")
	ErrNotOpen            = errors.New("cannot close an unopened socket")
	ErrNotConnected       = errors.New("not connected")
	ErrConnectionClosed   = errors.New("connection closed")
)

// State of a Conn. A Conn moves forward only: Unopened, Connecting, Open, Closed.
type State int32

const (
	StateUnopened State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// Option configures a Conn
type Option func(*Conn)

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Conn) { c.logger = logger }
}

// WithCodec selects the wire format. TextCodec is the default.
func WithCodec(codec Codec) Option {
	return func(c *Conn) { c.codec = codec }
}

// WithDialer selects the transport. WebSocketDialer is the default.
func WithDialer(d Dialer) Option {
	return func(c *Conn) { c.dialer = d }
}

func WithCollector(collector Collector) Option {
	return func(c *Conn) {
		if collector == nil {
			collector = NoopCollector()
		}
		c.metrics = collector
	}
}

// WithFailPendingOnClose makes the connection invoke the failure continuation of every
// outstanding request with error_msg "connection closed" when it closes. Without it,
// outstanding requests are abandoned and their continuations never run.
func WithFailPendingOnClose() Option {
	return func(c *Conn) { c.failPendingOnClose = true }
}

// Conn multiplexes requests and push messages over one connection to a server.
// A Conn is used once; create a new one to reconnect.
//
// All continuations and push handlers run on the connection's read goroutine, one message at
// a time, and never from within the call that sent the request.
type Conn struct {
	// Handlers for push messages. Connections created with a nil registry use DefaultHandlers.
	Handlers *Handlers

	// Associate some application-specific data with this connection
	UserData interface{}

	url                string
	codec              Codec
	dialer             Dialer
	logger             zerolog.Logger
	metrics            Collector
	failPendingOnClose bool

	mu         sync.Mutex // guards the fields below
	state      State
	transport  Transport
	cancelDial context.CancelFunc
	nextSeq    uint64
	onConnect  func(*Conn)
	onClose    func(*Conn)
	onError    func(*Conn, error)

	// sendMu serializes SendRequest so requests reach the wire in sequence order and
	// none is registered after finish has drained the table
	sendMu     sync.Mutex
	pending    pendingTable
	finishOnce sync.Once
	done       chan struct{}
}

// NewConn creates an unopened connection to the WebSocket endpoint at url
func NewConn(url string, h *Handlers, opts ...Option) *Conn {
	if h == nil {
		h = DefaultHandlers
	}
	c := &Conn{
		Handlers: h,
		url:      url,
		codec:    TextCodec{},
		dialer:   WebSocketDialer{},
		logger:   DefaultLogger(),
		metrics:  NoopCollector(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("url", url).Logger()
	return c
}

func (c *Conn) URL() string { return c.url }

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the connection is open
func (c *Conn) IsConnected() bool {
	return c.State() == StateOpen
}

// Done is closed after the connection has closed and onClose or onError has returned
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Pending returns the number of requests awaiting a response
func (c *Conn) Pending() int {
	return c.pending.len()
}

// ----------------------------------------------------------------------------------------------

// Connect starts opening the connection and returns without waiting for it.
// onConnect is called once the connection is open. When the connection ends, onClose is called
// if it ended cleanly (by Close or by the server) and onError otherwise, including when dialing
// fails. Any callback may be nil.
//
// Returns ErrAlreadyInitialized if Connect was called before on c.
func (c *Conn) Connect(ctx context.Context, onConnect, onClose func(*Conn), onError func(*Conn, error)) error {
	c.mu.Lock()
	if c.state != StateUnopened {
		c.mu.Unlock()
		return ErrAlreadyInitialized
	}
	c.state = StateConnecting
	c.onConnect = onConnect
	c.onClose = onClose
	c.onError = onError
	dialCtx, cancel := context.WithCancel(ctx)
	c.cancelDial = cancel
	c.mu.Unlock()

	c.logger.Debug().Msg("initialized socket")
	go c.dial(dialCtx)
	return nil
}

func (c *Conn) dial(ctx context.Context) {
	t, err := c.dialer.Dial(ctx, c.url)

	c.mu.Lock()
	c.cancelDial()
	c.cancelDial = nil
	if c.state == StateClosed {
		// Close was called while dialing
		c.mu.Unlock()
		if t != nil {
			t.Close()
		}
		c.finish(nil)
		return
	}
	if err != nil {
		c.state = StateClosed
		c.mu.Unlock()
		c.finish(fmt.Errorf("dial %s: %w", c.url, err))
		return
	}
	c.transport = t
	c.state = StateOpen
	onConnect := c.onConnect
	c.mu.Unlock()

	c.logger.Info().Msg("opened connection")
	if onConnect != nil {
		c.invoke("onConnect", func() { onConnect(c) })
	}
	c.read(t)
}

// Close closes the connection. onClose is called once the transport has shut down.
// Returns ErrNotOpen unless the connection is connecting or open.
func (c *Conn) Close() error {
	c.mu.Lock()
	switch c.state {
	case StateConnecting:
		c.state = StateClosed
		cancel := c.cancelDial
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return nil
	case StateOpen:
		c.state = StateClosed
		t := c.transport
		c.mu.Unlock()
		return t.Close()
	}
	c.mu.Unlock()
	return ErrNotOpen
}

// finish runs the close transition exactly once. err is nil for a clean close.
func (c *Conn) finish(err error) {
	c.finishOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		c.transport = nil
		onClose, onError := c.onClose, c.onError
		c.mu.Unlock()

		if c.failPendingOnClose {
			c.sendMu.Lock()
			abandoned := c.pending.drain()
			c.sendMu.Unlock()
			for _, p := range abandoned {
				fields := NewFields().Set(FieldErrorMsg, Text(ErrConnectionClosed.Error()))
				c.invoke("onFailure", func() { p.onFailure(fields) })
			}
		}
		c.metrics.SetPending(c.pending.len())

		if err != nil {
			c.logger.Error().Err(err).Msg("encountered error on connection")
			if onError != nil {
				c.invoke("onError", func() { onError(c, err) })
			}
		} else {
			c.logger.Info().Msg("closed connection")
			if onClose != nil {
				c.invoke("onClose", func() { onClose(c) })
			}
		}
		close(c.done)
	})
}

// invoke runs a caller-supplied function. A panic is logged and does not reach the transport.
func (c *Conn) invoke(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Str("callback", what).Msg("callback panicked")
		}
	}()
	fn()
}

// ----------------------------------------------------------------------------------------------

// SendRequest sends command with fields and returns the request's sequence id.
// Exactly one of onSuccess and onFailure is called later, once a response with the same id
// arrives: onSuccess when the server reports error_ind=false, onFailure otherwise.
// A nil continuation logs the response instead.
//
// Returns ErrNotConnected unless the connection is open.
func (c *Conn) SendRequest(command string, fields *Fields, onSuccess, onFailure ResponseFunc) (uint64, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return 0, ErrNotConnected
	}
	t := c.transport
	seq := c.nextSeq
	c.nextSeq++
	c.mu.Unlock()

	if onSuccess == nil {
		onSuccess = unhandledResponse(c.logger, seq)
	}
	if onFailure == nil {
		onFailure = unhandledResponse(c.logger, seq)
	}
	c.pending.add(pendingRequest{seq: seq, onSuccess: onSuccess, onFailure: onFailure})

	buf, err := c.codec.Encode(seq, command, fields)
	if err == nil {
		c.logger.Debug().Uint64("request_seq", seq).Bytes("message", buf).Msg("sending")
		err = t.WriteMessage(buf)
	}
	if err != nil {
		c.pending.take(seq)
		return seq, fmt.Errorf("send %s: %w", command, err)
	}
	c.metrics.IncRequestSent(command)
	c.metrics.SetPending(c.pending.len())
	return seq, nil
}

// Request sends command and waits for its response. A failure reported by the server is
// returned as *Response. Cancelling ctx stops the wait but not the request: a late response
// is dropped.
//
// Request must not be called from a continuation or push handler. Those run on the read
// goroutine, which is the only one that can deliver the response, so the call would wait
// until ctx ends. Use SendRequest there.
func (c *Conn) Request(ctx context.Context, command string, fields *Fields) (*Fields, error) {
	reschan := make(chan *Response, 1)
	seq, err := c.SendRequest(command, fields,
		func(f *Fields) { reschan <- &Response{Fields: f} },
		func(f *Fields) { reschan <- &Response{Failed: true, Fields: f} })
	if err != nil {
		return nil, err
	}

	var res *Response
	select {
	case res = <-reschan:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		select {
		case res = <-reschan:
		default:
			return nil, ErrConnectionClosed
		}
	}
	res.Seq = seq
	if res.IsError() {
		return nil, res
	}
	return res.Fields, nil
}

// ----------------------------------------------------------------------------------------------

// read dispatches inbound messages until the transport ends
func (c *Conn) read(t Transport) {
	for {
		buf, err := t.ReadMessage()
		if err != nil {
			c.mu.Lock()
			local := c.state == StateClosed
			c.mu.Unlock()
			t.Close()
			if local || errors.Is(err, io.EOF) {
				c.finish(nil)
			} else {
				c.finish(err)
			}
			return
		}
		c.dispatch(buf)
	}
}

func (c *Conn) dispatch(buf []byte) {
	m, err := c.codec.Decode(buf)
	if err != nil {
		c.logger.Warn().Err(err).Bytes("message", buf).Msg("dropping undecodable message")
		c.metrics.IncDropped(DropMalformed)
		return
	}
	c.logger.Debug().
		Str("command", m.Command).
		Interface("fields", m.Fields.Map()).
		Msg("received message")

	if m.Command == CommandResponse {
		c.resolve(m)
		return
	}

	if handler := c.Handlers.FindHandler(m.Command); handler != nil {
		c.metrics.IncPush(m.Command)
		c.invoke("push "+m.Command, func() { handler(c, m.Command, m.Fields) })
		return
	}

	c.logger.Warn().
		Str("command", m.Command).
		Interface("fields", m.Fields.Map()).
		Msg("unrecognized command")
	c.metrics.IncDropped(DropUnknownCommand)
}

func (c *Conn) resolve(m *Message) {
	v, ok := m.Fields.Get(FieldRequestSeq)
	if !ok {
		c.logger.Warn().Interface("fields", m.Fields.Map()).Msg("received response with undefined request_seq")
		c.metrics.IncDropped(DropMissingSeq)
		return
	}
	seq, err := strconv.ParseUint(v.String(), 10, 64)
	if err != nil {
		c.logger.Warn().Str("request_seq", v.String()).Msg("received response with invalid request_seq")
		c.metrics.IncDropped(DropMissingSeq)
		return
	}

	p, ok := c.pending.take(seq)
	if !ok {
		// Late or duplicate response
		c.logger.Debug().Uint64("request_seq", seq).Msg("ignoring response to unknown request")
		c.metrics.IncDropped(DropUnknownSeq)
		return
	}
	c.metrics.SetPending(c.pending.len())

	fields := responseFields(m)
	if m.Fields.Text(FieldErrorInd) == "false" {
		c.metrics.IncResponse("success")
		c.invoke("onSuccess", func() { p.onSuccess(fields) })
	} else {
		c.metrics.IncResponse("failure")
		c.invoke("onFailure", func() { p.onFailure(fields) })
	}
}
