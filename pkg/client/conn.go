package client

import (
	"context"
	"net"
	"sync"
	"time"
)

// Conn owns the stream connection to a cache server. Reads and writes are
// raw and ordered; framing happens above it. Close is idempotent and safe to
// call from any goroutine.
type Conn struct {
	conn         net.Conn
	addr         string
	writeTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// DialConn connects to addr over TCP.
//
// Returns:
//   - The connection
//   - A *ConnectionError with Op "dial" if the server is unreachable
func DialConn(ctx context.Context, addr string, timeout time.Duration) (*Conn, error) {
	dialer := &net.Dialer{Timeout: timeout}
	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Addr: addr, Err: err}
	}
	return NewConn(nc), nil
}

// NewConn wraps an established connection.
func NewConn(nc net.Conn) *Conn {
	addr := ""
	if ra := nc.RemoteAddr(); ra != nil {
		addr = ra.String()
	}
	return &Conn{conn: nc, addr: addr}
}

// SetWriteTimeout bounds every subsequent Write. Zero disables the bound.
func (c *Conn) SetWriteTimeout(d time.Duration) {
	c.writeTimeout = d
}

// Read reads raw bytes. It returns io.EOF once the peer closes the stream.
func (c *Conn) Read(p []byte) (int, error) {
	return c.conn.Read(p)
}

// Write writes all of p or fails with a *ConnectionError.
func (c *Conn) Write(p []byte) error {
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return &ConnectionError{Op: "write", Addr: c.addr, Err: err}
		}
	}

	for len(p) > 0 {
		n, err := c.conn.Write(p)
		if err != nil {
			return &ConnectionError{Op: "write", Addr: c.addr, Err: err}
		}
		p = p[n:]
	}
	return nil
}

// RemoteAddr returns the server address.
func (c *Conn) RemoteAddr() string {
	return c.addr
}

// Close releases the connection. Only the first call closes it; later calls
// return the same result.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
