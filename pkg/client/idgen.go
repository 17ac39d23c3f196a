package client

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"

	"github.com/cachemir/muxcache/pkg/config"
)

// IDGenerator produces correlation ids. Implementations must be safe for
// concurrent use and must not repeat an id while it could still be pending.
type IDGenerator interface {
	NewID() string
}

// IDGeneratorFunc adapts a function to IDGenerator.
type IDGeneratorFunc func() string

func (f IDGeneratorFunc) NewID() string { return f() }

// UUIDGenerator issues random version 4 UUIDs. It is the default.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string { return uuid.NewString() }

// KSUIDGenerator issues K-Sortable ids, which order by creation time and make
// request logs easier to follow.
type KSUIDGenerator struct{}

func (KSUIDGenerator) NewID() string { return ksuid.New().String() }

// NewIDGenerator returns the generator for a configured id scheme.
func NewIDGenerator(scheme string) (IDGenerator, error) {
	switch scheme {
	case "", config.IDSchemeUUID:
		return UUIDGenerator{}, nil
	case config.IDSchemeKSUID:
		return KSUIDGenerator{}, nil
	default:
		return nil, fmt.Errorf("unknown id scheme: %s", scheme)
	}
}
