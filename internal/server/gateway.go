// Package server exposes the chat protocol over a WebSocket gateway so
// browser clients can speak the same line protocol as TLS socket clients.
package server

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Gateway serves the HTTP endpoints: a health check at "/" and the WebSocket
// chat endpoint at "/ws". Each upgraded connection is handled by the same
// ConnHandler as TLS connections.
type Gateway struct {
	cfg      *Config
	registry *Registry
	auth     *AuthManager
	origins  *originPolicy
	upgrader websocket.Upgrader
}

// NewGateway creates a gateway sharing the registry and store with the TLS
// listener.
func NewGateway(cfg *Config, registry *Registry, auth *AuthManager) *Gateway {
	g := &Gateway{
		cfg:      cfg,
		registry: registry,
		auth:     auth,
		origins:  newOriginPolicy(cfg.AllowedOrigins),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.origins.check,
	}
	return g
}

// Routes configures and returns an HTTP ServeMux with all gateway routes.
func (g *Gateway) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", g.HealthHandler)
	mux.HandleFunc("/ws", g.WebSocketHandler)
	return mux
}

// HealthHandler provides a simple health check endpoint that returns server status.
func (g *Gateway) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "RelayChat server is running!")
}

// WebSocketHandler upgrades the HTTP connection and serves the chat protocol
// over it until the client disconnects.
func (g *Gateway) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(g.cfg.MaxLineSize)

	lineConn := &wsLineConn{
		conn:         conn,
		writeTimeout: g.cfg.WriteTimeout,
	}
	NewConnHandler(lineConn, g.registry, g.auth, g.cfg).Run()
}

// ListenAndServe starts the gateway HTTP server and blocks until it exits.
func (g *Gateway) ListenAndServe() error {
	server := &http.Server{
		Addr:        g.cfg.HTTPAddr,
		Handler:     g.Routes(),
		IdleTimeout: 60 * time.Second,
	}

	log.Printf("WebSocket gateway listening on %s", g.cfg.HTTPAddr)
	return server.ListenAndServe()
}

// wsLineConn adapts a WebSocket connection to the line-oriented transport:
// one text frame per line.
type wsLineConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (c *wsLineConn) ReadLine() (string, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return "", classifyWebSocketError(err)
		}
		if messageType != websocket.TextMessage {
			continue
		}
		return string(data), nil
	}
}

func (c *wsLineConn) WriteLine(line string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, []byte(line))
}

func (c *wsLineConn) Close() error {
	return c.conn.Close()
}

func (c *wsLineConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// classifyWebSocketError maps websocket close conditions onto plain I/O
// errors so the handler's read loop treats both transports alike.
func classifyWebSocketError(err error) error {
	if errors.Is(err, websocket.ErrReadLimit) {
		return fmt.Errorf("line exceeded maximum size: %w", err)
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		return io.EOF
	}
	return err
}
