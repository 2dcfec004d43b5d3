package server

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/gorilla/websocket"
)

// HandlerFunc handles one websocket request from a client connection.
type HandlerFunc func(ctx context.Context, conn *Conn, req WebsocketRequest) error

// WebSocketHandlerFunc takes over a whole connection when its matcher accepts
// the request. It returns false to fall back to default handling.
type WebSocketHandlerFunc func(w http.ResponseWriter, r *http.Request) bool

// HandlerServer is the surface handlers use to register message routes,
// connection takeovers and background work.
type HandlerServer interface {
	// Handle registers a handler function for a specific message type
	Handle(messageType string, handler HandlerFunc) error

	// HandleWebSocket registers a handler that intercepts matching
	// connections before normal message routing.
	HandleWebSocket(matcher func(r *http.Request) bool, handler WebSocketHandlerFunc)

	// StartLifecycle registers a function to be called when the server starts
	StartLifecycle(start func(ctx context.Context))

	// Broadcast sends a message to every connected client
	Broadcast(msg *WebsocketMessage)
}

// ServerHandler is implemented by components that plug into the server.
type ServerHandler interface {
	Register(server HandlerServer)
}

type wsHandlerEntry struct {
	matcher func(r *http.Request) bool
	handler WebSocketHandlerFunc
}

// HandlerRegistry routes websocket messages by type. It is safe for
// concurrent use.
type HandlerRegistry struct {
	handlers          map[string]HandlerFunc
	wsHandlers        []wsHandlerEntry
	lifecycleStarters []func(ctx context.Context)
	mu                sync.RWMutex
}

// NewHandlerRegistry creates a new handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[string]HandlerFunc),
	}
}

// Handle registers a handler for messageType. Registering the same type
// twice is an error.
func (r *HandlerRegistry) Handle(messageType string, handler HandlerFunc) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}
	if messageType == "" {
		return fmt.Errorf("message type cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[messageType]; exists {
		return fmt.Errorf("handler for message type '%s' already registered", messageType)
	}
	r.handlers[messageType] = handler
	return nil
}

// RegisterLifecycle registers a function to be called when the server starts.
func (r *HandlerRegistry) RegisterLifecycle(start func(ctx context.Context)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lifecycleStarters = append(r.lifecycleStarters, start)
}

// HandleWebSocket registers a connection takeover with its matcher.
func (r *HandlerRegistry) HandleWebSocket(matcher func(r *http.Request) bool, handler WebSocketHandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wsHandlers = append(r.wsHandlers, wsHandlerEntry{matcher: matcher, handler: handler})
}

// TryCustomWebSocketHandler hands the request to the first matching takeover.
// It reports whether the connection was handled.
func (r *HandlerRegistry) TryCustomWebSocketHandler(w http.ResponseWriter, req *http.Request) bool {
	r.mu.RLock()
	entries := append([]wsHandlerEntry(nil), r.wsHandlers...)
	r.mu.RUnlock()

	for _, entry := range entries {
		if entry.matcher(req) {
			return entry.handler(w, req)
		}
	}
	return false
}

// Get retrieves a handler function by message type.
func (r *HandlerRegistry) Get(messageType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[messageType]
	return handler, ok
}

// MessageTypes returns all registered message types, sorted.
func (r *HandlerRegistry) MessageTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// StartLifecycleHandlers starts all registered lifecycle functions.
func (r *HandlerRegistry) StartLifecycleHandlers(ctx context.Context) {
	r.mu.RLock()
	starters := append([]func(ctx context.Context){}, r.lifecycleStarters...)
	r.mu.RUnlock()

	for _, starter := range starters {
		starter(ctx)
	}
}

// Conn serializes writes to a client websocket. gorilla/websocket allows one
// concurrent writer per connection.
type Conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

// NewConn wraps ws.
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// WriteJSON writes v as one text frame.
func (c *Conn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.ws.Close()
}
