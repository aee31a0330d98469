// Package testhelpers provides common utilities and helper functions for
// testing the RelayChat server.
//
// It contains an in-memory line connection for driving the protocol handler
// directly, a fake inference client, and WebSocket helpers shared by the
// integration tests.
package testhelpers

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// ScriptConn is an in-memory LineConn implementation. Tests feed client
// lines into In and observe server lines on Out.
type ScriptConn struct {
	In  chan string
	Out chan string

	closed    chan struct{}
	closeOnce sync.Once
}

// NewScriptConn creates a connection with buffered channels large enough for
// typical test scripts.
func NewScriptConn() *ScriptConn {
	return &ScriptConn{
		In:     make(chan string, 64),
		Out:    make(chan string, 256),
		closed: make(chan struct{}),
	}
}

// ReadLine returns the next scripted client line, or io.EOF once the
// connection is closed.
func (c *ScriptConn) ReadLine() (string, error) {
	select {
	case line := <-c.In:
		return line, nil
	case <-c.closed:
		return "", io.EOF
	}
}

// WriteLine records a server line for the test to assert on.
func (c *ScriptConn) WriteLine(line string) error {
	select {
	case c.Out <- line:
		return nil
	case <-c.closed:
		return io.EOF
	}
}

// Close ends the connection; a blocked ReadLine observes io.EOF.
func (c *ScriptConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// RemoteAddr identifies the connection in logs.
func (c *ScriptConn) RemoteAddr() string {
	return "script-conn"
}

// Expect reads server lines until one starts with prefix and returns it. It
// fails the test after the timeout.
func (c *ScriptConn) Expect(t *testing.T, prefix string) string {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case line := <-c.Out:
			if strings.HasPrefix(line, prefix) {
				return line
			}
		case <-deadline:
			t.Fatalf("Timed out waiting for server line with prefix %q", prefix)
			return ""
		}
	}
}

// FakeLLM is an inference client whose behavior the test controls. A nil Err
// makes Complete return Response after Delay; prompts are recorded in call
// order.
type FakeLLM struct {
	Response string
	Err      error
	Delay    time.Duration

	mu      sync.Mutex
	prompts []string
}

// Complete implements llm.Client.
func (f *FakeLLM) Complete(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()

	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.Err != nil {
		return "", f.Err
	}
	return f.Response, nil
}

// Model implements llm.Client.
func (f *FakeLLM) Model() string {
	return "fake-model"
}

// Prompts returns the prompts observed so far in call order.
func (f *FakeLLM) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

// DialWS opens a WebSocket connection to a test gateway's /ws endpoint with
// the given origin header.
func DialWS(t *testing.T, baseURL, origin string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws"
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("WebSocket dial failed: %v", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// SendLine writes one protocol line over the WebSocket connection.
func SendLine(t *testing.T, conn *websocket.Conn, line string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
		t.Fatalf("Failed to send %q: %v", line, err)
	}
}

// ReadLine reads the next server line, failing the test after the timeout.
func ReadLine(t *testing.T, conn *websocket.Conn) string {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read server line: %v", err)
	}
	return string(data)
}

// ReadUntil reads server lines until one starts with prefix and returns it.
func ReadUntil(t *testing.T, conn *websocket.Conn, prefix string) string {
	t.Helper()

	for i := 0; i < 50; i++ {
		line := ReadLine(t, conn)
		if strings.HasPrefix(line, prefix) {
			return line
		}
	}
	t.Fatalf("Gave up waiting for server line with prefix %q", prefix)
	return ""
}

// AssertLine reads the next server line and checks it verbatim.
func AssertLine(t *testing.T, conn *websocket.Conn, want string) {
	t.Helper()
	if got := ReadLine(t, conn); got != want {
		t.Fatalf("Expected line %q, got %q", want, got)
	}
}

// TokenFrom extracts the token from a "TOKEN <t>" control line.
func TokenFrom(t *testing.T, line string) string {
	t.Helper()
	fields := strings.Fields(line)
	if len(fields) != 2 || fields[0] != "TOKEN" {
		t.Fatalf("Expected TOKEN control line, got %q", line)
	}
	return fields[1]
}
