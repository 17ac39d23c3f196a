package client

import (
	"context"
	"time"

	"github.com/cachemir/muxcache/pkg/codec"
)

// CreateValue encodes v with cd and stores it under key.
//
// Example:
//
//	err := client.CreateValue(ctx, c, codec.JSON, "user:123", user, time.Hour)
func CreateValue[T any](ctx context.Context, c *Client, cd codec.Codec, key string, v T, ttl time.Duration) error {
	payload, err := cd.Encode(v)
	if err != nil {
		return err
	}
	return c.Create(ctx, key, payload, ttl)
}

// UpdateValue encodes v with cd and replaces the value of an existing key.
func UpdateValue[T any](ctx context.Context, c *Client, cd codec.Codec, key string, v T, ttl time.Duration) error {
	payload, err := cd.Encode(v)
	if err != nil {
		return err
	}
	return c.Update(ctx, key, payload, ttl)
}

// ReadValue reads key and decodes its payload with cd.
//
// Example:
//
//	user, err := client.ReadValue[User](ctx, c, codec.JSON, "user:123")
func ReadValue[T any](ctx context.Context, c *Client, cd codec.Codec, key string) (T, error) {
	var v T

	payload, err := c.Read(ctx, key)
	if err != nil {
		return v, err
	}
	if err := cd.Decode(payload, &v); err != nil {
		return v, err
	}
	return v, nil
}
