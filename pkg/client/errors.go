package client

import (
	"errors"
	"fmt"

	"github.com/cachemir/muxcache/pkg/pending"
	"github.com/cachemir/muxcache/pkg/protocol"
)

var (
	// ErrConnectionClosed resolves every request that was pending when the
	// connection failed or the peer closed it. The caller must reconnect.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrClientClosed is returned once Close has been called.
	ErrClientClosed = errors.New("client closed")

	// ErrTimeout is returned when no response arrived within the request deadline.
	// The request may still complete on the server.
	ErrTimeout = pending.ErrTimeout

	// ErrDuplicateID is returned when a caller-supplied id is already pending.
	ErrDuplicateID = pending.ErrDuplicateID

	// ErrNotFound is returned by the command methods for a NOT_FOUND status.
	ErrNotFound = errors.New("key not found")
)

// ProtocolError reports a frame that could not be encoded or decoded.
type ProtocolError = protocol.ProtocolError

// ConnectionError reports a transport failure on the connection.
type ConnectionError struct {
	Op   string // dial, read or write
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ServerError is a non-success status returned by the server.
type ServerError struct {
	Status  protocol.StatusCode
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server error: %s", e.Status)
	}
	return fmt.Sprintf("server error: %s: %s", e.Status, e.Message)
}

// closedError wraps the cause of a connection shutdown so that it matches
// ErrConnectionClosed as well as the cause itself.
func closedError(cause error) error {
	switch {
	case cause == nil:
		return ErrConnectionClosed
	case errors.Is(cause, ErrConnectionClosed):
		return cause
	default:
		return fmt.Errorf("%w: %w", ErrConnectionClosed, cause)
	}
}

// responseError maps a server response to the error returned by the command methods.
func responseError(resp *protocol.Response) error {
	if resp.OK() {
		return nil
	}
	if resp.Status == protocol.StatusNotFound {
		return ErrNotFound
	}
	return &ServerError{Status: resp.Status, Message: resp.Message}
}
