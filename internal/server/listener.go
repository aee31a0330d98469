// Package server runs the encrypted chat listener: TLS accept loop, room
// seeding, and one connection handler goroutine per accepted client.
package server

import (
	"crypto/tls"
	"fmt"
	"log"
	"net"
)

// Server accepts encrypted client connections and serves each with its own
// ConnHandler sharing the room registry and the credential/session store.
type Server struct {
	cfg      *Config
	registry *Registry
	auth     *AuthManager
	listener net.Listener
}

// NewServer wires a listener-to-be with its shared collaborators. Call
// ListenAndServe to start accepting.
func NewServer(cfg *Config, registry *Registry, auth *AuthManager) *Server {
	return &Server{
		cfg:      cfg,
		registry: registry,
		auth:     auth,
	}
}

// ListenAndServe seeds the registry, binds the TLS listener, and accepts
// connections until the listener fails. Per-connection faults, including
// failed handshakes, are logged and never stop the accept loop.
func (s *Server) ListenAndServe() error {
	if err := s.registry.SeedFile(s.cfg.RoomsFile); err != nil {
		return err
	}

	cert, err := tls.LoadX509KeyPair(s.cfg.CertFile, s.cfg.KeyFile)
	if err != nil {
		return fmt.Errorf("load TLS key pair: %w", err)
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		// TLS 1.3 only: the protocol's cipher suites are all AEAD.
		MinVersion: tls.VersionTLS13,
	}

	listener, err := tls.Listen("tcp", s.cfg.Addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	s.listener = listener

	log.Printf("Chat server listening on %s", s.cfg.Addr)
	return s.acceptLoop()
}

func (s *Server) acceptLoop() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				log.Printf("Transient accept error: %v", err)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}

		go s.serveConn(conn)
	}
}

// serveConn runs one connection to completion. The TLS handshake happens on
// the first read; a handshake failure surfaces as a read error inside the
// handler and stays scoped to this connection.
func (s *Server) serveConn(conn net.Conn) {
	log.Printf("New client connection from %s", conn.RemoteAddr())
	lineConn := newTCPLineConn(conn, s.cfg.MaxLineSize, s.cfg.WriteTimeout)
	NewConnHandler(lineConn, s.registry, s.auth, s.cfg).Run()
}
