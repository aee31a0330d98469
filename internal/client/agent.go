// Package client implements the RelayChat terminal client agent: local input
// forwarding, server line handling with protocol control-line interception, a
// liveness probe loop, and reconnect-with-backoff using a cached session
// token.
package client

import (
	"bufio"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config holds the client agent settings.
type Config struct {
	// Addr is the server's TLS chat address (host:port).
	Addr string
	// ServerName overrides the TLS server name; empty derives it from Addr.
	ServerName string
	// RootCAFile optionally points at a PEM bundle to trust instead of the
	// system pool (self-signed deployments).
	RootCAFile string
	// InsecureSkipVerify disables certificate verification. Testing only.
	InsecureSkipVerify bool

	DialTimeout  time.Duration
	PingInterval time.Duration
	PongTimeout  time.Duration

	// MaxRetries caps consecutive failed connection attempts.
	MaxRetries int
	// BaseDelay is the first retry delay; it doubles per failed attempt.
	BaseDelay time.Duration
}

func (cfg Config) withDefaults() Config {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 3 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 10 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 20 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	return cfg
}

// Agent drives the chat protocol from the client side. It owns three
// concurrent duties: forwarding local input, reading server lines, and
// probing liveness; plus the outer reconnect loop.
type Agent struct {
	cfg Config
	in  io.Reader
	out io.Writer

	mu    sync.Mutex
	conn  net.Conn
	token string

	lastPong atomic.Int64

	quitOnce sync.Once
	quit     chan struct{}
}

// New creates an agent reading user input from in and printing chat output
// to out.
func New(cfg Config, in io.Reader, out io.Writer) *Agent {
	return &Agent{
		cfg:  cfg.withDefaults(),
		in:   in,
		out:  out,
		quit: make(chan struct{}),
	}
}

// Run connects, serves the session, and reconnects with exponential backoff
// until the user quits or the retry budget is exhausted. It returns nil on
// user quit and an error when the budget runs out.
func (a *Agent) Run() error {
	go a.inputLoop()

	policy := reconnectBackoff(a.cfg.BaseDelay)
	attempt := 0

	for !a.quitRequested() {
		conn, err := a.dial()
		if err != nil {
			attempt++
			// MaxRetries counts the waits between attempts, so the
			// budget runs out on the failure after the last wait.
			if attempt > a.cfg.MaxRetries {
				return fmt.Errorf("failed to connect after %d retries: %w", a.cfg.MaxRetries, err)
			}
			delay := policy.NextBackOff()
			fmt.Fprintf(a.out, "Connection attempt %d failed. Retrying in %s... (%v)\n", attempt, delay, err)
			select {
			case <-time.After(delay):
			case <-a.quit:
			}
			continue
		}

		attempt = 0
		policy.Reset()
		fmt.Fprintln(a.out, "Connected to server!")
		a.serve(conn)
		fmt.Fprintln(a.out, "Connection closed.")
	}

	return nil
}

func (a *Agent) dial() (net.Conn, error) {
	tlsConfig := &tls.Config{
		ServerName:         a.cfg.ServerName,
		InsecureSkipVerify: a.cfg.InsecureSkipVerify,
		MinVersion:         tls.VersionTLS13,
	}
	if a.cfg.RootCAFile != "" {
		pem, err := os.ReadFile(a.cfg.RootCAFile)
		if err != nil {
			return nil, fmt.Errorf("read root CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", a.cfg.RootCAFile)
		}
		tlsConfig.RootCAs = pool
	}

	dialer := &net.Dialer{Timeout: a.cfg.DialTimeout}
	return tls.DialWithDialer(dialer, "tcp", a.cfg.Addr, tlsConfig)
}

// serve runs one connected session to completion: it replays the cached
// token, starts the liveness loop, and consumes server lines until the
// connection drops.
func (a *Agent) serve(conn net.Conn) {
	a.setConn(conn)
	a.lastPong.Store(time.Now().UnixNano())

	if token := a.cachedToken(); token != "" {
		fmt.Fprintln(a.out, "Trying to restore session...")
		a.sendLine("reconnect " + token)
	}

	pingDone := make(chan struct{})
	go a.pingLoop(conn, pingDone)

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		a.handleServerLine(scanner.Text())
	}

	close(pingDone)
	a.setConn(nil)
	_ = conn.Close()
}

// handleServerLine intercepts protocol control lines and prints everything
// else verbatim.
func (a *Agent) handleServerLine(line string) {
	switch {
	case strings.HasPrefix(line, "TOKEN "):
		a.setToken(strings.TrimPrefix(line, "TOKEN "))
	case line == "PONG":
		a.lastPong.Store(time.Now().UnixNano())
	case strings.HasPrefix(line, "EXPIRED"):
		a.setToken("")
	default:
		fmt.Fprintln(a.out, line)
	}
}

// pingLoop probes the server every ping interval and tears the connection
// down when no acknowledgment arrived within the pong timeout. The dropped
// connection makes the read loop exit, which triggers a reconnect.
func (a *Agent) pingLoop(conn net.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(a.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			sincePong := time.Since(time.Unix(0, a.lastPong.Load()))
			if sincePong > a.cfg.PongTimeout {
				fmt.Fprintln(a.out, "Pong timeout, server may be down")
				_ = conn.Close()
				return
			}
			a.sendLine("ping")
		}
	}
}

// inputLoop forwards local lines verbatim. A literal quit line stops the
// outer retry loop after being forwarded so the server can say goodbye.
func (a *Agent) inputLoop() {
	scanner := bufio.NewScanner(a.in)
	for scanner.Scan() {
		line := scanner.Text()
		a.sendLine(line)
		if strings.EqualFold(strings.TrimSpace(line), "quit") {
			a.requestQuit()
			return
		}
	}
	// Local input ended; treat it like a quit so Run can return.
	a.requestQuit()
}

func (a *Agent) sendLine(line string) {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()

	if conn == nil {
		fmt.Fprintln(a.out, "Not connected, cannot send input to server.")
		return
	}
	if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
		fmt.Fprintf(a.out, "Error sending to server: %v\n", err)
	}
}

func (a *Agent) setConn(conn net.Conn) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.conn = conn
}

func (a *Agent) setToken(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = token
}

func (a *Agent) cachedToken() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token
}

func (a *Agent) requestQuit() {
	a.quitOnce.Do(func() {
		close(a.quit)
		a.mu.Lock()
		conn := a.conn
		a.mu.Unlock()
		if conn != nil {
			// The server closes after its goodbye; the deadline only
			// bounds how long the reader waits for that to happen.
			_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		}
	})
}

func (a *Agent) quitRequested() bool {
	select {
	case <-a.quit:
		return true
	default:
		return false
	}
}

// reconnectBackoff builds the deterministic retry policy: delays start at
// base and strictly double per failed attempt, with no jitter and no elapsed
// cutoff. The attempt cap lives in Run.
func reconnectBackoff(base time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = time.Hour
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
