package client

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/cachemir/muxcache/pkg/protocol"
)

// Create stores payload under key, replacing any existing value.
// A ttl of zero or less means the entry never expires. Sub-second TTLs round
// up to one second.
//
// Example:
//
//	err := c.Create(ctx, "session:abc", token, 30*time.Minute)
func (c *Client) Create(ctx context.Context, key, payload string, ttl time.Duration) error {
	_, err := c.exec(ctx, protocol.NewCreate(key, payload, ttlSeconds(ttl)))
	return err
}

// Read returns the payload stored under key.
//
// Returns:
//   - The stored payload
//   - ErrNotFound if the key does not exist or has expired
func (c *Client) Read(ctx context.Context, key string) (string, error) {
	resp, err := c.exec(ctx, protocol.NewRead(key))
	if err != nil {
		return "", err
	}
	if resp.Value == nil {
		return "", nil
	}
	return *resp.Value, nil
}

// Update replaces the payload of an existing key and resets its TTL.
// It returns ErrNotFound if the key does not exist.
func (c *Client) Update(ctx context.Context, key, payload string, ttl time.Duration) error {
	_, err := c.exec(ctx, protocol.NewUpdate(key, payload, ttlSeconds(ttl)))
	return err
}

// Delete removes key. It returns ErrNotFound if the key does not exist.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.exec(ctx, protocol.NewDelete(key))
	return err
}

// Clear removes every key from the cache.
func (c *Client) Clear(ctx context.Context) error {
	_, err := c.exec(ctx, protocol.NewClear())
	return err
}

// Stats returns the server's cache statistics.
func (c *Client) Stats(ctx context.Context) (*protocol.Stats, error) {
	resp, err := c.exec(ctx, protocol.NewStats())
	if err != nil {
		return nil, err
	}
	if resp.Value == nil {
		return nil, &ProtocolError{Err: fmt.Errorf("stats response %s carries no value", resp.ID)}
	}

	var stats protocol.Stats
	if err := json.Unmarshal([]byte(*resp.Value), &stats); err != nil {
		return nil, &ProtocolError{Err: fmt.Errorf("decode stats: %w", err)}
	}
	return &stats, nil
}

// Ping checks that the server answers on this connection.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.exec(ctx, protocol.NewPing())
	return err
}

// exec sends cmd with the default timeout and turns error statuses into errors.
func (c *Client) exec(ctx context.Context, cmd protocol.Command) (*protocol.Response, error) {
	resp, err := c.SendRequest(ctx, &protocol.Request{Command: cmd}, 0)
	if err != nil {
		return nil, err
	}
	if err := responseError(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func ttlSeconds(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	secs := int64(ttl / time.Second)
	if ttl%time.Second != 0 {
		secs++
	}
	return secs
}
