package dbsock

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/net/websocket"
)

// CommandFunc handles one request on the server. The returned fields are added to the
// response; a non-nil error turns it into a failure with error_msg set to err.Error().
type CommandFunc func(p *Peer, fields *Fields) (*Fields, error)

// Peer is a client connected to a Server
type Peer struct {
	ID uint64

	// Associate some application-specific data with this peer
	UserData interface{}

	t Transport
}

func (p *Peer) send(buf []byte) error {
	return p.t.WriteMessage(buf)
}

// Close disconnects the peer
func (p *Peer) Close() error {
	return p.t.Close()
}

// Server accepts WebSocket connections and answers requests with command handlers.
// Every request gets exactly one "response" message echoing its request_seq.
type Server struct {
	// Function to be invoked after a peer has connected, before any of its messages are read
	AcceptHandler func(*Peer)

	codec  MessageCodec
	logger zerolog.Logger

	handlersMu sync.RWMutex
	handlers   map[string]CommandFunc
	broadcast  map[string]bool

	peersMu sync.RWMutex
	peers   map[*Peer]struct{}
	nextID  uint64
}

// NewServer creates a server speaking codec (TextCodec if nil)
func NewServer(codec MessageCodec, logger zerolog.Logger) *Server {
	if codec == nil {
		codec = TextCodec{}
	}
	return &Server{
		codec:     codec,
		logger:    logger.With().Str("component", "server").Logger(),
		handlers:  make(map[string]CommandFunc),
		broadcast: make(map[string]bool),
		peers:     make(map[*Peer]struct{}),
	}
}

// HandleCommand registers fn for requests with command, replacing any earlier handler
func (s *Server) HandleCommand(command string, fn CommandFunc) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers[command] = fn
}

// Broadcast marks commands whose successful results are pushed to all other peers
func (s *Server) Broadcast(commands ...string) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	for _, c := range commands {
		s.broadcast[c] = true
	}
}

func (s *Server) findHandler(command string) (CommandFunc, bool) {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	return s.handlers[command], s.broadcast[command]
}

// Peers returns the number of connected peers
func (s *Server) Peers() int {
	s.peersMu.RLock()
	defer s.peersMu.RUnlock()
	return len(s.peers)
}

// ServeHTTP upgrades the request to a WebSocket connection. Any origin is accepted.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws := websocket.Server{
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler:   s.serve,
	}
	ws.ServeHTTP(w, r)
}

func (s *Server) serve(ws *websocket.Conn) {
	p := &Peer{ID: atomic.AddUint64(&s.nextID, 1), t: newWebSocketTransport(ws)}
	s.peersMu.Lock()
	s.peers[p] = struct{}{}
	s.peersMu.Unlock()
	defer func() {
		s.peersMu.Lock()
		delete(s.peers, p)
		s.peersMu.Unlock()
		p.t.Close()
		s.logger.Debug().Uint64("peer", p.ID).Msg("closed session")
	}()

	s.logger.Debug().Uint64("peer", p.ID).Msg("opened session")
	if s.AcceptHandler != nil {
		s.AcceptHandler(p)
	}

	for {
		buf, err := p.t.ReadMessage()
		if err != nil {
			return
		}
		if err := s.handle(p, buf); err != nil {
			s.logger.Error().Err(err).Uint64("peer", p.ID).Msg("write failed")
			return
		}
	}
}

func (s *Server) handle(p *Peer, buf []byte) error {
	req, err := s.codec.Decode(buf)
	if err != nil {
		s.logger.Warn().Err(err).Uint64("peer", p.ID).Msg("dropping undecodable request")
		return nil
	}
	s.logger.Debug().
		Uint64("peer", p.ID).
		Str("command", req.Command).
		Interface("fields", req.Fields.Map()).
		Msg("received message")

	fn, broadcast := s.findHandler(req.Command)
	var out *Fields
	var herr error
	if fn == nil {
		herr = fmt.Errorf("Unknown command: '%s'", req.Command)
	} else {
		out, herr = s.call(fn, p, req.Fields)
	}

	res := NewFields().Set(FieldCommand, Text(CommandResponse))
	seq, hasSeq := req.Fields.Get(FieldRequestSeq)
	if hasSeq {
		res.Set(FieldRequestSeq, seq)
	}
	res.Set(FieldErrorInd, Boolean(herr != nil || !hasSeq))
	req.Fields.Range(func(k string, v Value) bool {
		if k != FieldCommand && k != FieldRequestSeq && k != FieldErrorInd {
			res.Set(k, v)
		}
		return true
	})
	out.Range(func(k string, v Value) bool {
		res.Set(k, v)
		return true
	})
	switch {
	case herr != nil:
		res.Set(FieldErrorMsg, Text(herr.Error()))
	case !hasSeq:
		res.Set(FieldErrorMsg, Text("ERROR: No request sequence"))
	}

	rbuf, err := s.codec.EncodeMessage(&Message{Command: CommandResponse, Fields: res})
	if err != nil {
		return err
	}
	if err := p.send(rbuf); err != nil {
		return err
	}

	if herr == nil && hasSeq && broadcast {
		push := res.Clone()
		push.Delete(FieldRequestSeq)
		push.Set(FieldCommand, Text(req.Command))
		s.Push(req.Command, push, p)
	}
	return nil
}

// call runs fn, turning a panic into an error
func (s *Server) call(fn CommandFunc, p *Peer, fields *Fields) (out *Fields, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	return fn(p, fields)
}

// Push sends a message with command and fields to every peer except `except` (which may be nil)
func (s *Server) Push(command string, fields *Fields, except *Peer) {
	buf, err := s.codec.EncodeMessage(&Message{Command: command, Fields: fields})
	if err != nil {
		s.logger.Error().Err(err).Str("command", command).Msg("encode push")
		return
	}
	s.peersMu.RLock()
	peers := make([]*Peer, 0, len(s.peers))
	for p := range s.peers {
		if p != except {
			peers = append(peers, p)
		}
	}
	s.peersMu.RUnlock()
	for _, p := range peers {
		if err := p.send(buf); err != nil {
			s.logger.Warn().Err(err).Uint64("peer", p.ID).Msg("push failed")
		}
	}
}
