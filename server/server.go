// Package server exposes a tag session controller over HTTP and WebSocket and
// advertises it on the local network with mDNS.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"
	"github.com/jeremygit/gummi-nfc/buildinfo"
	"github.com/jeremygit/gummi-nfc/nfc"
	"github.com/jeremygit/gummi-nfc/nfc/tagsession"
)

// Controller is the tag session surface the server drives.
// *tagsession.Runner satisfies it.
type Controller interface {
	Start(mode tagsession.Mode) error
	Cancel() bool
	SetPendingWritePayload(text string) error
	ClearReadBuffer() error
	Snapshot() tagsession.Snapshot
	Subscribe() (<-chan tagsession.Snapshot, func())
}

// Config holds the server configuration
type Config struct {
	Session      Controller
	Port         int
	APISecret    string        // Optional API secret for the token handshake
	TokenTimeout time.Duration // Idle lifetime of an API token
	CertFile     string        // TLS certificate; plain HTTP when empty
	KeyFile      string
	DisableMDNS  bool
	Handlers     []ServerHandler // Extra handlers, e.g. the phone bridge
	Clock        nfc.Clock
	Logger       *log.Logger
}

// Server manages the HTTP and WebSocket server
type Server struct {
	config Config
	logger *log.Logger
	ctx    context.Context
	cancel context.CancelFunc

	// Client WebSocket management
	clients    map[*Conn]bool
	clientsMux sync.RWMutex
	upgrader   websocket.Upgrader

	handlerRegistry *HandlerRegistry
	sessions        *SessionManager

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	mdnsServer *zeroconf.Server
}

// New creates a new server instance
func New(config Config) *Server {
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[server] ", log.LstdFlags)
	}

	s := &Server{
		config:  config,
		logger:  config.Logger,
		clients: make(map[*Conn]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
		handlerRegistry: NewHandlerRegistry(),
		sessions:        NewSessionManager(config.APISecret, config.TokenTimeout, config.Clock),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if config.Session != nil {
		NewSessionHandler(config.Session, config.Logger).Register(s)
	}
	for _, h := range config.Handlers {
		h.Register(s)
	}

	return s
}

// Handle implements HandlerServer interface.
func (s *Server) Handle(messageType string, handler HandlerFunc) error {
	return s.handlerRegistry.Handle(messageType, handler)
}

// HandleWebSocket implements HandlerServer interface.
func (s *Server) HandleWebSocket(matcher func(r *http.Request) bool, handler WebSocketHandlerFunc) {
	s.handlerRegistry.HandleWebSocket(matcher, handler)
}

// StartLifecycle implements HandlerServer interface.
func (s *Server) StartLifecycle(start func(ctx context.Context)) {
	s.handlerRegistry.RegisterLifecycle(start)
}

// Broadcast sends a message to all connected clients
func (s *Server) Broadcast(message *WebsocketMessage) {
	s.clientsMux.Lock()
	defer s.clientsMux.Unlock()

	for client := range s.clients {
		if err := client.WriteJSON(message); err != nil {
			s.logger.Printf("WebSocket write error: %v", err)
			client.Close()
			delete(s.clients, client)
		}
	}
}

// ClientCount returns the number of connected state clients.
func (s *Server) ClientCount() int {
	s.clientsMux.RLock()
	defer s.clientsMux.RUnlock()
	return len(s.clients)
}

// enableCORS is a middleware that adds CORS headers to responses
func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", CORSAllowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", CORSAllowMethods)
		w.Header().Set("Access-Control-Allow-Headers", CORSAllowHeaders)

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// allowMethod wraps next so that other methods get 405.
func allowMethod(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

// Routes builds the HTTP handler for all API and WebSocket endpoints.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(RouteHealth, enableCORS(allowMethod(http.MethodGet, s.handleHealthCheck)))
	mux.HandleFunc(RouteHandshake, enableCORS(s.handleHandshake))
	mux.HandleFunc(RouteState, enableCORS(allowMethod(http.MethodGet, s.handleGetState)))
	mux.HandleFunc(RoutePayload, enableCORS(allowMethod(http.MethodPut, s.requireToken(s.handleSetPayload))))
	mux.HandleFunc(RouteBufferClear, enableCORS(allowMethod(http.MethodPost, s.requireToken(s.handleClearBuffer))))
	mux.HandleFunc(RouteSession, enableCORS(allowMethod(http.MethodPost, s.requireToken(s.handleStartSession))))
	mux.HandleFunc(RouteSessionCancel, enableCORS(allowMethod(http.MethodPost, s.requireToken(s.handleCancelSession))))

	mux.HandleFunc(RouteWebSocket, s.handleWebSocket)

	mux.HandleFunc("/", enableCORS(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(buildinfo.DisplayName + " Server Running"))
	}))

	return mux
}

// Start starts the HTTP server and blocks until Stop is called or the
// listener fails.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	httpServer := &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.listener = listener
	s.httpServer = httpServer
	s.mu.Unlock()

	useTLS := s.config.CertFile != "" && s.config.KeyFile != ""
	serveErr := make(chan error, 1)
	go func() {
		scheme := "http"
		if useTLS {
			scheme = "https"
		}
		s.logger.Printf("Starting server on %s://%s", scheme, listener.Addr())

		var err error
		if useTLS {
			err = httpServer.ServeTLS(listener, s.config.CertFile, s.config.KeyFile)
		} else {
			err = httpServer.Serve(listener)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	if !s.config.DisableMDNS {
		if err := s.startMDNS(s.Port(), useTLS); err != nil {
			s.logger.Printf("Warning: Failed to start mDNS service: %v", err)
			s.logger.Printf("Auto-discovery will not be available, but server will continue normally")
		}
	}

	s.handlerRegistry.StartLifecycleHandlers(s.ctx)

	select {
	case <-s.ctx.Done():
		s.logger.Println("Server context cancelled, initiating shutdown...")
		return nil
	case err, ok := <-serveErr:
		s.Stop()
		if ok {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	}
}

// Port returns the bound port once Start is listening, or the configured
// port before that.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
			return addr.Port
		}
	}
	return s.config.Port
}

// Stop stops the HTTP server gracefully
func (s *Server) Stop() {
	s.mu.Lock()
	mdnsServer := s.mdnsServer
	httpServer := s.httpServer
	s.mdnsServer = nil
	s.httpServer = nil
	s.mu.Unlock()

	if mdnsServer != nil {
		mdnsServer.Shutdown()
		s.logger.Printf("mDNS service stopped")
	}

	if httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			s.logger.Printf("Server shutdown error: %v", err)
		}
	}

	s.clientsMux.Lock()
	for client := range s.clients {
		client.Close()
		delete(s.clients, client)
	}
	s.clientsMux.Unlock()

	s.cancel()
}

// startMDNS registers the agent as an mDNS service so the phone app can find it.
func (s *Server) startMDNS(port int, useTLS bool) error {
	txtRecords := []string{
		"version=" + buildinfo.Version,
		"protocol=websocket",
		"path=" + RouteWebSocket,
		"device_mode=?mode=device",
		"tls=" + strconv.FormatBool(useTLS),
	}

	server, err := zeroconf.Register(MDNSServiceName, MDNSServiceType, MDNSDomain, port, txtRecords, nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}

	s.mu.Lock()
	s.mdnsServer = server
	s.mu.Unlock()
	s.logger.Printf("mDNS service registered: %s (%s) on port %d", MDNSServiceName, MDNSServiceType, port)
	return nil
}

// requestToken extracts an API token from the Authorization header or the
// token query parameter.
func requestToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, AuthorizationScheme) {
		return strings.TrimPrefix(auth, AuthorizationScheme)
	}
	return r.URL.Query().Get(TokenQueryParam)
}

// authorized reports whether r may mutate session state.
func (s *Server) authorized(r *http.Request) bool {
	if !s.sessions.Enabled() {
		return true
	}
	return s.sessions.Validate(requestToken(r), r.Header.Get("Origin"), r.RemoteAddr)
}

func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			writeJSONError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "Unauthorized: missing or invalid token")
			return
		}
		next(w, r)
	}
}

// handleWebSocket upgrades HTTP connections to WebSocket connections and manages
// the client connection lifecycle
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Device connections are taken over by their registered handler.
	if s.handlerRegistry.TryCustomWebSocketHandler(w, r) {
		return
	}

	if !s.authorized(r) {
		s.logger.Printf("WebSocket connection rejected: invalid token")
		http.Error(w, "Unauthorized: Invalid token", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("WebSocket upgrade error: %v", err)
		return
	}
	conn := NewConn(ws)
	s.logger.Printf("WebSocket connected from %s", r.RemoteAddr)

	defer func() {
		s.clientsMux.Lock()
		delete(s.clients, conn)
		s.clientsMux.Unlock()
		conn.Close()
		s.logger.Printf("WebSocket disconnected from %s", r.RemoteAddr)
	}()

	// Send the current state before registering for broadcasts so the
	// client's first message is always a full snapshot.
	if s.config.Session != nil {
		if err := conn.WriteJSON(StateMessage(s.config.Session.Snapshot())); err != nil {
			return
		}
	}

	s.clientsMux.Lock()
	s.clients[conn] = true
	s.clientsMux.Unlock()

	ctx := r.Context()
	for {
		messageType, message, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var req WebsocketRequest
		if err := json.Unmarshal(message, &req); err != nil {
			s.logger.Printf("Failed to parse WebSocket message: %v", err)
			SendErrorResponse(conn, "", ErrCodeParse, "Invalid message format")
			continue
		}

		handler, ok := s.handlerRegistry.Get(req.Type)
		if !ok {
			s.logger.Printf("Unknown message type: %s", req.Type)
			SendErrorResponse(conn, req.ID, ErrCodeUnknownType, fmt.Sprintf("Unknown message type: %s", req.Type))
			continue
		}

		if err := handler(ctx, conn, req); err != nil {
			// The handler already answered the client.
			s.logger.Printf("Handler error for message type '%s': %v", req.Type, err)
		}
	}
}
