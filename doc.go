// Package muxcache is a client for a remote key-value cache that multiplexes
// any number of concurrent requests over one long-lived connection.
//
// Every request carries a correlation id. The server may answer in any order;
// the client matches each response to the request that caused it, enforces a
// deadline per request, and releases every waiting caller when the connection
// fails.
//
// # Architecture Overview
//
//   - Protocol: one compact JSON record per frame, terminated by a newline
//   - Pending table: correlation id to waiting caller, resolved exactly once
//   - Client: bounded outbound queue, a single writer and a single reader
//   - Cache: bigcache-backed store with per-entry TTL, used by the server
//   - Server: reference TCP server executing requests concurrently
//   - Configuration: YAML file, CACHEMIR_* environment variables, validation
//
// # Quick Start
//
// Server:
//
//	cfg, err := config.LoadServerConfig("server.yaml")
//	srv, err := server.New(cfg)
//	log.Fatal(srv.Start())
//
// Client:
//
//	c, err := client.Dial(ctx, "localhost:8080")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer c.Close()
//
//	err = c.Create(ctx, "user:123", "john_doe", time.Hour)
//	value, err := c.Read(ctx, "user:123")
//	err = c.Update(ctx, "user:123", "jane_doe", 0)
//	err = c.Delete(ctx, "user:123")
//	stats, err := c.Stats(ctx)
//
// # Supported Operations
//
//   - create: store a value, replacing any existing one
//   - read: fetch a value
//   - update: replace the value of an existing key
//   - delete: remove a key
//   - clear: remove every key
//   - stats: store statistics
//   - ping: connectivity check
//
// # Failure Semantics
//
// A request ends in exactly one of these ways:
//
//   - a server response (success or error status)
//   - ErrTimeout once its deadline passes
//   - ErrConnectionClosed when the connection fails or is closed
//   - the context error when the caller gives up
//
// A timed-out request may still execute on the server. Its late response is
// discarded.
//
// # Configuration
//
//	CACHEMIR_ADDRESS=cache:8080 CACHEMIR_REQUEST_TIMEOUT=2s cachemir read user:123
//	CACHEMIR_PORT=8080 CACHEMIR_METRICS_ADDR=:9090 muxcache-server
//
// # Package Structure
//
//   - pkg/client: the multiplexing client
//   - pkg/pending: pending request table
//   - pkg/protocol: wire records, framing and text command parsing
//   - pkg/codec: JSON and MessagePack payload codecs
//   - pkg/cache: in-memory store
//   - pkg/config: configuration management
//   - pkg/logging: zap logger construction
//   - internal/server: server implementation
//   - cmd/server: server executable
//   - cmd/cachemir: command line client
package muxcache
