// Package channel owns the bidirectional byte stream between the client and
// the analysis engine.
package channel

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"
)

// Channel is an open TCP connection to the engine.
//
// Close is idempotent: the first call closes the underlying connection,
// later calls are no-ops. Channels are safe for concurrent use to the same
// extent net.Conn is.
type Channel struct {
	conn   net.Conn
	closed atomic.Bool
}

// Connect performs a single connection attempt to localhost on the given
// port. It does not retry: the caller must decide retry policy, since it is
// also the one watching for the engine process dying during the same window.
func Connect(port int, timeout time.Duration) (*Channel, error) {
	addr := net.JoinHostPort("127.0.0.1", fmt.Sprintf("%d", port))

	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}

	return &Channel{conn: conn}, nil
}

// Read reads from the underlying connection.
func (c *Channel) Read(p []byte) (int, error) {
	return c.conn.Read(p)
}

// Write writes to the underlying connection.
func (c *Channel) Write(p []byte) (int, error) {
	return c.conn.Write(p)
}

// Close closes the connection. Safe to call multiple times.
func (c *Channel) Close() error {
	if c.closed.Swap(true) {
		return nil // Already closed
	}
	return c.conn.Close()
}

// IsClosed returns true if Close has been called.
func (c *Channel) IsClosed() bool {
	return c.closed.Load()
}

// LocalAddr returns the local endpoint of the connection.
func (c *Channel) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the remote endpoint of the connection.
func (c *Channel) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
