// Package server abstracts the line-oriented transport so one protocol
// handler serves both the TLS listener and the WebSocket gateway.
package server

import (
	"bufio"
	"io"
	"net"
	"time"
)

// LineConn is a connection carrying one UTF-8 text line per read or write.
type LineConn interface {
	// ReadLine blocks until the next inbound line or an error. The
	// returned line has no trailing newline.
	ReadLine() (string, error)

	// WriteLine sends one line to the peer.
	WriteLine(line string) error

	// Close tears the connection down; a blocked ReadLine observes an
	// error afterwards.
	Close() error

	// RemoteAddr identifies the peer for logging.
	RemoteAddr() string
}

type tcpLineConn struct {
	conn         net.Conn
	scanner      *bufio.Scanner
	writeTimeout time.Duration
}

// newTCPLineConn wraps a stream connection. maxLineSize bounds the accepted
// line length; longer lines fail the read loop.
func newTCPLineConn(conn net.Conn, maxLineSize int64, writeTimeout time.Duration) *tcpLineConn {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 1024), int(maxLineSize))
	return &tcpLineConn{
		conn:         conn,
		scanner:      scanner,
		writeTimeout: writeTimeout,
	}
}

func (c *tcpLineConn) ReadLine() (string, error) {
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return c.scanner.Text(), nil
}

func (c *tcpLineConn) WriteLine(line string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	_, err := c.conn.Write([]byte(line + "\n"))
	return err
}

func (c *tcpLineConn) Close() error {
	return c.conn.Close()
}

func (c *tcpLineConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
