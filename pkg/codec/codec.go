// Package codec converts Go values to and from the opaque string payloads
// stored in the cache.
//
// The cache never interprets payloads. A Codec gives callers a stable way to
// store structured values and read them back:
//
//	payload, err := codec.JSON.Encode(user)
//	err = c.Create(ctx, "user:123", payload, time.Hour)
//
//	var u User
//	raw, err := c.Read(ctx, "user:123")
//	err = codec.JSON.Decode(raw, &u)
package codec

import (
	"encoding/base64"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec encodes values into payload strings and back.
type Codec interface {
	Name() string
	Encode(v any) (string, error)
	Decode(payload string, v any) error
}

var (
	// JSON stores values as compact JSON text.
	JSON Codec = jsonCodec{}

	// Msgpack stores values as base64-encoded MessagePack, which is smaller
	// than JSON for numeric and binary data.
	Msgpack Codec = msgpackCodec{}
)

// ByName returns the codec registered under name.
func ByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON, nil
	case "msgpack":
		return Msgpack, nil
	default:
		return nil, fmt.Errorf("unknown codec: %s", name)
	}
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("json encode: %w", err)
	}
	return string(data), nil
}

func (jsonCodec) Decode(payload string, v any) error {
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return fmt.Errorf("json decode: %w", err)
	}
	return nil
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return "msgpack" }

func (msgpackCodec) Encode(v any) (string, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("msgpack encode: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func (msgpackCodec) Decode(payload string, v any) error {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("msgpack decode: %w", err)
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("msgpack decode: %w", err)
	}
	return nil
}
