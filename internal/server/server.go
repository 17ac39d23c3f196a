// Package server implements the muxcache reference server.
//
// The server speaks the delimited JSON protocol of package protocol over TCP
// and stores entries in package cache. Every decoded request runs in its own
// goroutine, so responses on one connection may leave in a different order
// than their requests arrived. Clients correlate them by id.
//
// Architecture:
//   - TCP accept loop with one reader goroutine per connection
//   - One goroutine per request; writes serialized per connection
//   - bigcache-backed store with per-entry TTL
//   - Graceful shutdown that closes every open connection
//
// Example usage:
//
//	srv, err := server.New(cfg, server.WithLogger(logger))
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := srv.Start(); err != nil {
//		log.Fatal(err)
//	}
//
// Supported commands: create, read, update, delete, clear, stats, ping.
package server

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/cachemir/muxcache/pkg/cache"
	"github.com/cachemir/muxcache/pkg/config"
	"github.com/cachemir/muxcache/pkg/protocol"
)

const readBufferSize = 32 * 1024

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRegisterer enables Prometheus metrics registered with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Server) { s.registerer = reg }
}

type handler func(cmd *protocol.Command) *protocol.Response

// Server accepts client connections and executes their requests.
//
// Example:
//
//	srv, _ := server.New(config.DefaultServerConfig())
//	if err := srv.Listen(); err != nil {
//		log.Fatal(err)
//	}
//	go srv.Serve()
//	defer srv.Stop()
type Server struct {
	cfg        *config.ServerConfig
	cache      *cache.Cache
	logger     *zap.Logger
	registerer prometheus.Registerer
	metrics    *metrics
	handlers   map[protocol.CommandType]handler

	mu       sync.Mutex // protects listener, conns and closed
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool

	wg sync.WaitGroup
}

// New creates a server and its store. The server does not listen until
// Listen or Start is called.
func New(cfg *config.ServerConfig, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: zap.NewNop(),
		conns:  make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	store, err := cache.New(cache.Options{
		Shards:             cfg.Shards,
		MaxEntrySize:       cfg.MaxEntrySize,
		HardMaxCacheSizeMB: cfg.HardMaxCacheSize,
		CleanInterval:      cfg.CleanInterval,
		Logger:             s.logger.Named("store"),
	})
	if err != nil {
		return nil, err
	}
	s.cache = store

	if s.registerer != nil {
		s.metrics = newMetrics(s.registerer, store)
	}

	s.handlers = map[protocol.CommandType]handler{
		protocol.CmdCreate: s.handleCreate,
		protocol.CmdRead:   s.handleRead,
		protocol.CmdUpdate: s.handleUpdate,
		protocol.CmdDelete: s.handleDelete,
		protocol.CmdClear:  s.handleClear,
		protocol.CmdStats:  s.handleStats,
		protocol.CmdPing:   s.handlePing,
	}
	return s, nil
}

// Listen binds the configured address.
func (s *Server) Listen() error {
	addr := s.cfg.Address()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		_ = listener.Close()
		return net.ErrClosed
	}
	s.listener = listener

	s.logger.Info("server listening", zap.String("addr", listener.Addr().String()))
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start listens and serves until Stop is called.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Serve accepts connections until Stop is called. Each connection is handled
// in its own goroutine. Serve returns nil after Stop.
func (s *Server) Serve() error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return errors.New("server is not listening")
	}

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("failed to accept connection", zap.Error(err))
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if !s.track(conn) {
			_ = conn.Close()
			return nil
		}
		go s.handleConnection(conn)
	}
}

// Stop closes the listener and every open connection, waits for their
// handlers and releases the store.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()

	if cerr := s.cache.Close(); err == nil {
		err = cerr
	}
	s.logger.Info("server stopped")
	return err
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// connection is the server side of one client stream.
type connection struct {
	conn   net.Conn
	logger *zap.Logger

	writeMu      sync.Mutex
	writeTimeout time.Duration

	inflight sync.WaitGroup
}

func (c *connection) write(resp *protocol.Response) error {
	frame, err := protocol.EncodeResponse(resp)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	_, err = c.conn.Write(frame)
	return err
}

// handleConnection reads frames from one client until the stream ends,
// executing each request in its own goroutine.
func (s *Server) handleConnection(nc net.Conn) {
	defer s.wg.Done()
	defer s.untrack(nc)

	s.metrics.connOpened()
	defer s.metrics.connClosed()

	c := &connection{
		conn:         nc,
		logger:       s.logger.With(zap.String("remote", nc.RemoteAddr().String())),
		writeTimeout: s.cfg.WriteTimeout,
	}
	defer func() {
		c.inflight.Wait()
		if err := nc.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			c.logger.Debug("error closing connection", zap.Error(err))
		}
	}()

	c.logger.Debug("connection opened")

	framer := protocol.NewFramer(s.cfg.MaxFrameSize)
	buf := make([]byte, readBufferSize)

	for {
		n, err := nc.Read(buf)
		if n > 0 {
			_, _ = framer.Write(buf[:n])
			if ferr := s.drain(c, framer); ferr != nil {
				c.logger.Warn("closing connection", zap.Error(ferr))
				return
			}
		}

		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.logger.Warn("read failed", zap.Error(err))
			}
			c.logger.Debug("connection closed")
			return
		}
	}
}

func (s *Server) drain(c *connection, framer *protocol.Framer) error {
	for {
		frame, err := framer.Next()
		if err != nil {
			return err
		}
		if frame == nil {
			return nil
		}

		req, err := protocol.DecodeRequest(frame)
		if err != nil {
			// Without an id there is nobody to answer.
			s.metrics.malformedFrame()
			c.logger.Warn("dropping malformed request", zap.Error(err))
			continue
		}

		c.inflight.Add(1)
		go func() {
			defer c.inflight.Done()

			resp := s.execute(req)
			if err := c.write(resp); err != nil {
				c.logger.Warn("failed to write response", zap.String("id", req.ID), zap.Error(err))
				_ = c.conn.Close()
			}
		}()
	}
}

// execute runs one request against the store and builds its response.
func (s *Server) execute(req *protocol.Request) *protocol.Response {
	start := time.Now()

	var resp *protocol.Response
	if err := req.Command.Validate(); err != nil {
		resp = protocol.NewResponse("", protocol.StatusBadRequest, err.Error())
	} else {
		resp = s.handlers[req.Command.Type](&req.Command)
	}
	resp.ID = req.ID

	s.metrics.observe(req.Command.Type, resp.Status, time.Since(start).Seconds())
	return resp
}

func (s *Server) handleCreate(cmd *protocol.Command) *protocol.Response {
	if err := s.cache.Create(cmd.Key, cmd.Payload, ttl(cmd)); err != nil {
		return internalError(err)
	}
	return protocol.NewResponse("", protocol.StatusSuccess, "")
}

func (s *Server) handleRead(cmd *protocol.Command) *protocol.Response {
	value, ok, err := s.cache.Read(cmd.Key)
	if err != nil {
		return internalError(err)
	}
	if !ok {
		return notFound(cmd.Key)
	}
	return protocol.NewResponse("", protocol.StatusSuccess, "").WithValue(value)
}

func (s *Server) handleUpdate(cmd *protocol.Command) *protocol.Response {
	ok, err := s.cache.Update(cmd.Key, cmd.Payload, ttl(cmd))
	if err != nil {
		return internalError(err)
	}
	if !ok {
		return notFound(cmd.Key)
	}
	return protocol.NewResponse("", protocol.StatusSuccess, "")
}

func (s *Server) handleDelete(cmd *protocol.Command) *protocol.Response {
	ok, err := s.cache.Delete(cmd.Key)
	if err != nil {
		return internalError(err)
	}
	if !ok {
		return notFound(cmd.Key)
	}
	return protocol.NewResponse("", protocol.StatusSuccess, "")
}

func (s *Server) handleClear(_ *protocol.Command) *protocol.Response {
	if err := s.cache.Clear(); err != nil {
		return internalError(err)
	}
	return protocol.NewResponse("", protocol.StatusSuccess, "")
}

func (s *Server) handleStats(_ *protocol.Command) *protocol.Response {
	data, err := json.Marshal(s.cache.Stats())
	if err != nil {
		return internalError(err)
	}
	return protocol.NewResponse("", protocol.StatusSuccess, "").WithValue(string(data))
}

func (s *Server) handlePing(_ *protocol.Command) *protocol.Response {
	return protocol.NewResponse("", protocol.StatusSuccess, "").WithValue("PONG")
}

// maxTTLSeconds is the largest TTL that fits in a time.Duration.
const maxTTLSeconds = math.MaxInt64 / int64(time.Second)

func ttl(cmd *protocol.Command) time.Duration {
	if cmd.TTLSeconds <= 0 {
		return 0
	}
	if cmd.TTLSeconds > maxTTLSeconds {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(cmd.TTLSeconds) * time.Second
}

func notFound(key string) *protocol.Response {
	return protocol.NewResponse("", protocol.StatusNotFound, fmt.Sprintf("key not found: %s", key))
}

func internalError(err error) *protocol.Response {
	return protocol.NewResponse("", protocol.StatusInternalError, err.Error())
}
