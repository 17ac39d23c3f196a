// Package client provides the muxcache client: many goroutines issuing cache
// commands over one shared connection to a cache server.
//
// The client multiplexes requests over a single stream. Every request carries
// a correlation id; responses may come back in any order and are matched to
// their callers by id. Each request has its own deadline, and a deadline only
// ends the caller's wait: a request that already left the queue still reaches
// the server, and its late response is discarded.
//
// Key Features:
//   - One long-lived connection shared by any number of goroutines
//   - Out-of-order responses correlated by id
//   - Per-request timeouts and context cancellation
//   - Bounded outbound queue with blocking, cancellable enqueue
//   - Every transport failure releases every waiting caller
//   - Prometheus metrics and zap logging
//
// Basic Usage:
//
//	c, err := client.Dial(ctx, "localhost:8080")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer c.Close()
//
//	err = c.Create(ctx, "user:123", "am9obl9kb2U=", time.Hour)
//	value, err := c.Read(ctx, "user:123")
//	err = c.Delete(ctx, "user:123")
//	if errors.Is(err, client.ErrNotFound) {
//		// nothing to delete
//	}
//
// Low-level Usage:
//
//	resp, err := c.SendRequest(ctx, &protocol.Request{Command: protocol.NewRead("k")}, 2*time.Second)
//	switch {
//	case errors.Is(err, client.ErrTimeout):
//		// no response within 2s
//	case errors.Is(err, client.ErrConnectionClosed):
//		// reconnect
//	}
//
// Payloads are opaque strings. Use package codec, or the generic helpers
// CreateValue, ReadValue and UpdateValue, to store structured values.
package client

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cachemir/muxcache/pkg/config"
	"github.com/cachemir/muxcache/pkg/pending"
	"github.com/cachemir/muxcache/pkg/protocol"
)

const maxLoggedFrame = 256

// Client multiplexes cache requests over one connection.
//
// The client is safe for concurrent use. It runs two goroutines: one writes
// queued requests to the connection in FIFO order, the other reads responses
// and hands them to their waiting callers. Once the connection fails the
// client is finished: Done is closed, Err reports why, and a new client must
// be dialed.
type Client struct {
	conn    *Conn
	pending *pending.Table
	queue   chan *protocol.Request
	opts    options
	logger  *zap.Logger
	metrics *Metrics

	done      chan struct{}
	closeOnce sync.Once
	err       error // set before done is closed
	loops     sync.WaitGroup
}

// New starts a client over an established connection.
//
// Example:
//
//	nc, _ := net.Dial("tcp", "localhost:8080")
//	c := client.New(client.NewConn(nc), client.WithRequestTimeout(time.Second))
//	defer c.Close()
func New(conn *Conn, opts ...Option) *Client {
	o := buildOptions(opts)
	conn.SetWriteTimeout(o.writeTimeout)

	c := &Client{
		conn:    conn,
		pending: pending.NewTable(),
		queue:   make(chan *protocol.Request, o.queueSize),
		opts:    o,
		logger:  o.logger.With(zap.String("addr", conn.RemoteAddr())),
		metrics: o.metrics,
		done:    make(chan struct{}),
	}

	c.loops.Add(2)
	go c.writeLoop()
	go c.readLoop()

	return c
}

// Dial connects to addr and starts a client.
//
// Returns:
//   - A running Client
//   - A *ConnectionError if the server cannot be reached
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	o := buildOptions(opts)

	conn, err := DialConn(ctx, addr, o.dialTimeout)
	if err != nil {
		return nil, err
	}

	o.logger.Debug("connected", zap.String("addr", addr))
	return New(conn, opts...), nil
}

// DialConfig connects using a ClientConfig. Options given here override the
// values taken from cfg.
func DialConfig(ctx context.Context, cfg *config.ClientConfig, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ids, err := NewIDGenerator(cfg.IDScheme)
	if err != nil {
		return nil, err
	}

	base := []Option{
		WithDialTimeout(cfg.DialTimeout),
		WithRequestTimeout(cfg.RequestTimeout),
		WithWriteTimeout(cfg.WriteTimeout),
		WithQueueSize(cfg.QueueSize),
		WithReadBufferSize(cfg.ReadBufferSize),
		WithMaxFrameSize(cfg.MaxFrameSize),
		WithIDGenerator(ids),
	}

	return Dial(ctx, cfg.Address, append(base, opts...)...)
}

// SendRequest sends req and waits for its response.
//
// An empty req.ID is filled in from the client's id generator; req itself is
// not modified. A zero timeout selects the client's default request timeout,
// a negative one disables the watchdog so that only ctx bounds the wait.
//
// Every response produced by the server is returned with a nil error,
// including error statuses; the command methods map those to ErrNotFound and
// *ServerError.
//
// Returns:
//   - The matching response
//   - ErrTimeout if the deadline passed first
//   - An error matching ErrConnectionClosed if the connection failed
//   - ctx.Err() if the context ended first
//   - A *ProtocolError if the request is invalid
func (c *Client) SendRequest(ctx context.Context, req *protocol.Request, timeout time.Duration) (*protocol.Response, error) {
	start := time.Now()
	c.metrics.started()

	resp, err := c.sendAndWait(ctx, req, timeout)

	c.metrics.finished(req.Command.Type, outcome(resp, err), time.Since(start))
	return resp, err
}

func (c *Client) sendAndWait(ctx context.Context, req *protocol.Request, timeout time.Duration) (*protocol.Response, error) {
	call, err := c.Go(ctx, req, timeout)
	if err != nil {
		return nil, err
	}

	resp, err := call.Wait(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		// The caller gave up. Resolve the entry so it does not linger; if the
		// response won the race, return it.
		c.pending.Fail(call.ID, err)
		resp, err = call.Result()
	}

	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Go enqueues req without waiting for its response and returns the pending
// call. The call is always resolved eventually: by the response, its timeout
// or the connection shutting down. ctx only bounds the enqueue.
//
// Example:
//
//	call, err := c.Go(ctx, &protocol.Request{Command: protocol.NewDelete("tmp")}, 0)
//	if err != nil {
//		return err
//	}
//	// ... later ...
//	<-call.Done()
//	resp, err := call.Result()
func (c *Client) Go(ctx context.Context, req *protocol.Request, timeout time.Duration) (*pending.Call, error) {
	if err := c.Err(); err != nil {
		return nil, err
	}
	if err := req.Command.Validate(); err != nil {
		return nil, &ProtocolError{Err: err}
	}

	r := *req
	if r.ID == "" {
		r.ID = c.opts.ids.NewID()
	}

	call, err := c.pending.Register(r.ID, c.effectiveTimeout(timeout))
	if err != nil {
		return nil, err
	}

	select {
	case c.queue <- &r:
		return call, nil
	case <-call.Done():
		// Timed out or shut down while the queue was full.
		return call, nil
	case <-c.done:
		return call, nil
	case <-ctx.Done():
		c.pending.Fail(r.ID, ctx.Err())
		return nil, ctx.Err()
	}
}

func (c *Client) effectiveTimeout(timeout time.Duration) time.Duration {
	switch {
	case timeout > 0:
		return timeout
	case timeout < 0:
		return 0
	default:
		return c.opts.requestTimeout
	}
}

// writeLoop is the single consumer of the outbound queue. Frames are written
// whole and in queue order.
func (c *Client) writeLoop() {
	defer c.loops.Done()

	for {
		select {
		case <-c.done:
			return
		case req := <-c.queue:
			frame, err := protocol.EncodeRequest(req)
			if err != nil {
				c.logger.Warn("dropping unencodable request", zap.String("id", req.ID), zap.Error(err))
				c.pending.Fail(req.ID, err)
				continue
			}

			if err := c.conn.Write(frame); err != nil {
				if !c.isDone() {
					c.logger.Error("write failed", zap.String("id", req.ID), zap.Error(err))
				}
				c.shutdown(err)
				return
			}

			c.logger.Debug("request sent", zap.String("id", req.ID), zap.String("cmd", string(req.Command.Type)))
		}
	}
}

// readLoop reassembles response frames from the stream and resolves the
// matching pending calls.
func (c *Client) readLoop() {
	defer c.loops.Done()

	framer := protocol.NewFramer(c.opts.maxFrameSize)
	buf := make([]byte, c.opts.readBufferSize)

	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			_, _ = framer.Write(buf[:n])
			if ferr := c.dispatch(framer); ferr != nil {
				c.logger.Error("unrecoverable framing error", zap.Error(ferr))
				c.shutdown(&ConnectionError{Op: "read", Addr: c.conn.RemoteAddr(), Err: ferr})
				return
			}
		}

		if err != nil {
			if !c.isDone() {
				if errors.Is(err, io.EOF) {
					c.logger.Info("server closed the connection")
				} else {
					c.logger.Error("read failed", zap.Error(err))
				}
			}
			c.shutdown(&ConnectionError{Op: "read", Addr: c.conn.RemoteAddr(), Err: err})
			return
		}
	}
}

// dispatch consumes every complete frame buffered in f. Malformed frames and
// responses nobody waits for are dropped. Only a framing error is returned.
func (c *Client) dispatch(f *protocol.Framer) error {
	for {
		frame, err := f.Next()
		if err != nil {
			return err
		}
		if frame == nil {
			return nil
		}

		resp, err := protocol.DecodeResponse(frame)
		if err != nil {
			c.metrics.malformedFrame()
			c.logger.Warn("dropping malformed frame", zap.Error(err), zap.ByteString("frame", truncate(frame)))
			continue
		}

		if !c.pending.Resolve(resp) {
			c.metrics.droppedResponse()
			c.logger.Debug("discarding response with no pending request", zap.String("id", resp.ID))
		}
	}
}

// shutdown ends the client once: it records the cause, closes the
// connection and resolves every pending call.
func (c *Client) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.err = closedError(cause)
		close(c.done)

		if err := c.conn.Close(); err != nil {
			c.logger.Debug("close connection", zap.Error(err))
		}

		n := c.pending.Close(c.err)
		c.logger.Debug("client shut down", zap.Error(cause), zap.Int("resolved", n))
	})
}

func (c *Client) isDone() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Done is closed when the client has shut down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns nil while the client is running and the reason it shut down
// afterwards. The error always matches ErrConnectionClosed.
func (c *Client) Err() error {
	if c.isDone() {
		return c.err
	}
	return nil
}

// Pending returns the number of requests awaiting a response.
func (c *Client) Pending() int {
	return c.pending.Len()
}

// Close shuts the client down and waits for its goroutines to exit. Requests
// still pending fail with an error matching both ErrConnectionClosed and
// ErrClientClosed. Close is idempotent.
func (c *Client) Close() error {
	c.shutdown(ErrClientClosed)
	c.loops.Wait()
	return nil
}

func outcome(resp *protocol.Response, err error) string {
	var perr *ProtocolError
	switch {
	case err == nil:
		return strings.ToLower(string(resp.Status))
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrConnectionClosed):
		return "connection_closed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.As(err, &perr):
		return "protocol_error"
	case errors.Is(err, ErrDuplicateID):
		return "duplicate_id"
	default:
		return "error"
	}
}

func truncate(frame []byte) []byte {
	if len(frame) > maxLoggedFrame {
		return frame[:maxLoggedFrame]
	}
	return frame
}
