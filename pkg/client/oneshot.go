package client

import (
	"context"

	"github.com/cachemir/muxcache/pkg/config"
	"github.com/cachemir/muxcache/pkg/protocol"
)

// Do sends a single request over a private connection and closes it once the
// response arrives. Each call runs its own client instance, so nothing is
// shared with other clients or other calls to Do.
//
// Do suits scripts and health checks. Programs issuing more than a handful of
// requests should keep a Client open instead.
//
// Example:
//
//	cmd, err := protocol.ParseTextCommand("GET user:123")
//	if err != nil {
//		return err
//	}
//	resp, err := client.Do(ctx, cfg, &protocol.Request{Command: cmd})
func Do(ctx context.Context, cfg *config.ClientConfig, req *protocol.Request, opts ...Option) (*protocol.Response, error) {
	c, err := DialConfig(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	return c.SendRequest(ctx, req, 0)
}
