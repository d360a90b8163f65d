package dbsock

import "sync"

// PushHandler handles a server-initiated message
type PushHandler func(c *Conn, command string, fields *Fields)

type pushHandlerMap map[string]PushHandler

// Handlers maps push commands to their handler. A registry outlives the connections using it,
// so handlers stay in place across reconnects.
type Handlers struct {
	mu       sync.RWMutex
	handlers pushHandlerMap
	fallback PushHandler
}

func NewHandlers() *Handlers {
	return &Handlers{handlers: make(pushHandlerMap)}
}

// DefaultHandlers is used by connections created with a nil registry
var DefaultHandlers = NewHandlers()

// SetHandler registers fn for push messages with command on DefaultHandlers
func SetHandler(command string, fn PushHandler) {
	DefaultHandlers.SetHandler(command, fn)
}

// SetHandler registers fn for push messages with command, replacing any earlier handler.
// If command is empty, fn handles every push command without a specific handler.
// A nil fn removes the registration.
func (h *Handlers) SetHandler(command string, fn PushHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(command) == 0 {
		h.fallback = fn
		return
	}
	if fn == nil {
		delete(h.handlers, command)
		return
	}
	if h.handlers == nil {
		h.handlers = make(pushHandlerMap)
	}
	h.handlers[command] = fn
}

// FindHandler looks up the handler for command. Returns nil if not found.
func (h *Handlers) FindHandler(command string) PushHandler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if fn := h.handlers[command]; fn != nil {
		return fn
	}
	return h.fallback
}
