package client_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cachemir/muxcache/internal/server"
	"github.com/cachemir/muxcache/pkg/client"
	"github.com/cachemir/muxcache/pkg/codec"
	"github.com/cachemir/muxcache/pkg/config"
	"github.com/cachemir/muxcache/pkg/protocol"
)

func startServer(t *testing.T) string {
	t.Helper()

	cfg := config.DefaultServerConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.Shards = 16
	cfg.CleanInterval = 0

	srv, err := server.New(cfg, server.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	require.NoError(t, srv.Listen())
	go func() { _ = srv.Serve() }()
	t.Cleanup(func() { _ = srv.Stop() })

	return srv.Addr().String()
}

func dial(t *testing.T, addr string, opts ...client.Option) *client.Client {
	t.Helper()

	opts = append([]client.Option{client.WithLogger(zaptest.NewLogger(t))}, opts...)
	c, err := client.Dial(context.Background(), addr, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCreateReadClearDelete(t *testing.T) {
	ctx := context.Background()
	c := dial(t, startServer(t))

	require.NoError(t, c.Create(ctx, "k", "v", 0))

	value, err := c.Read(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", value)

	require.NoError(t, c.Clear(ctx))

	_, err = c.Read(ctx, "k")
	assert.ErrorIs(t, err, client.ErrNotFound)

	err = c.Delete(ctx, "missing")
	assert.ErrorIs(t, err, client.ErrNotFound)
	assert.NoError(t, c.Err(), "NOT_FOUND must not affect the connection")

	require.NoError(t, c.Ping(ctx))
}

func TestUpdateSemantics(t *testing.T) {
	ctx := context.Background()
	c := dial(t, startServer(t))

	err := c.Update(ctx, "nope", "v", 0)
	assert.ErrorIs(t, err, client.ErrNotFound)

	require.NoError(t, c.Create(ctx, "k", "v1", time.Minute))
	require.NoError(t, c.Update(ctx, "k", "v2", 0))

	value, err := c.Read(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", value)

	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Read(ctx, "k")
	assert.ErrorIs(t, err, client.ErrNotFound)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	c := dial(t, startServer(t))

	require.NoError(t, c.Create(ctx, "a", "1", 0))
	require.NoError(t, c.Create(ctx, "b", "2", 0))
	_, _ = c.Read(ctx, "a")
	_, _ = c.Read(ctx, "zzz")

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.Entries)
	assert.GreaterOrEqual(t, stats.Hits, int64(1))
	assert.GreaterOrEqual(t, stats.Misses, int64(1))
}

func TestPayloadWithDelimiter(t *testing.T) {
	ctx := context.Background()
	c := dial(t, startServer(t))

	payload := "line one\nline two\r\n\ttabbed \"quoted\""
	require.NoError(t, c.Create(ctx, "multi\nline", payload, 0))

	value, err := c.Read(ctx, "multi\nline")
	require.NoError(t, err)
	assert.Equal(t, payload, value)
}

func TestInvalidUTF8IsRejected(t *testing.T) {
	ctx := context.Background()
	c := dial(t, startServer(t))

	var perr *client.ProtocolError
	err := c.Create(ctx, "bin", "\xff\xfe\x00a", 0)
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, protocol.ErrInvalidUTF8Payload)

	err = c.Create(ctx, "bin\xff", "v", 0)
	assert.ErrorIs(t, err, protocol.ErrInvalidUTF8Key)

	_, err = c.Read(ctx, "bin")
	assert.ErrorIs(t, err, client.ErrNotFound, "rejected writes must not reach the server")

	// Binary data survives when it goes through a codec.
	raw := []byte{0xff, 0xfe, 0x00, 'a'}
	require.NoError(t, client.CreateValue(ctx, c, codec.Msgpack, "bin", raw, 0))
	got, err := client.ReadValue[[]byte](ctx, c, codec.Msgpack, "bin")
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}

func TestTTLExpiry(t *testing.T) {
	ctx := context.Background()
	c := dial(t, startServer(t))

	require.NoError(t, c.Create(ctx, "temp", "v", 300*time.Millisecond))
	_, err := c.Read(ctx, "temp")
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond)

	_, err = c.Read(ctx, "temp")
	assert.ErrorIs(t, err, client.ErrNotFound)
}

func TestManyConcurrentCallers(t *testing.T) {
	ctx := context.Background()
	c := dial(t, startServer(t))

	const n = 150
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			key := fmt.Sprintf("user:%d", i)
			want := fmt.Sprintf("payload-%d", i)
			if err := c.Create(ctx, key, want, 0); err != nil {
				errs <- err
				return
			}
			got, err := c.Read(ctx, key)
			if err != nil {
				errs <- err
				return
			}
			if got != want {
				errs <- fmt.Errorf("%s: got %q want %q", key, got, want)
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, 0, c.Pending())
}

type profile struct {
	Name string   `json:"name" msgpack:"name"`
	Tags []string `json:"tags" msgpack:"tags"`
}

func TestTypedValues(t *testing.T) {
	ctx := context.Background()
	c := dial(t, startServer(t))

	for _, cd := range []codec.Codec{codec.JSON, codec.Msgpack} {
		t.Run(cd.Name(), func(t *testing.T) {
			key := "profile:" + cd.Name()
			in := profile{Name: "Ada", Tags: []string{"math", "engines"}}

			require.NoError(t, client.CreateValue(ctx, c, cd, key, in, time.Minute))

			out, err := client.ReadValue[profile](ctx, c, cd, key)
			require.NoError(t, err)
			assert.Equal(t, in, out)

			in.Tags = append(in.Tags, "poetry")
			require.NoError(t, client.UpdateValue(ctx, c, cd, key, in, 0))

			out, err = client.ReadValue[profile](ctx, c, cd, key)
			require.NoError(t, err)
			assert.Equal(t, in, out)
		})
	}

	_, err := client.ReadValue[profile](ctx, c, codec.JSON, "absent")
	assert.ErrorIs(t, err, client.ErrNotFound)
}

func TestDialConfigAndDo(t *testing.T) {
	ctx := context.Background()
	addr := startServer(t)

	cfg := config.DefaultClientConfig()
	cfg.Address = addr
	cfg.IDScheme = config.IDSchemeKSUID

	c, err := client.DialConfig(ctx, cfg, client.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Create(ctx, "shared", "from-client", 0))

	cmd, err := protocol.ParseTextCommand("GET shared")
	require.NoError(t, err)

	resp, err := client.Do(ctx, cfg, &protocol.Request{Command: cmd})
	require.NoError(t, err)
	require.True(t, resp.OK())
	assert.Equal(t, "from-client", *resp.Value)

	resp, err = client.Do(ctx, cfg, &protocol.Request{Command: protocol.NewRead("absent")})
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusNotFound, resp.Status)

	assert.NoError(t, c.Err(), "Do must not touch other clients")
}

func TestDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = client.Dial(context.Background(), addr, client.WithDialTimeout(time.Second))

	var connErr *client.ConnectionError
	require.True(t, errors.As(err, &connErr))
	assert.Equal(t, "dial", connErr.Op)
}

func TestDialConfigRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultClientConfig()
	cfg.QueueSize = 0

	_, err := client.DialConfig(context.Background(), cfg)
	assert.Error(t, err)
}
