// Package cache provides the in-memory store behind the reference server.
//
// Entries live in a sharded bigcache instance, which keeps payloads off the
// Go heap. Each entry carries its own expiry, stored as an 8-byte prefix in
// front of the payload. Expired entries are removed lazily when they are read
// and by a background janitor.
//
// Example usage:
//
//	store, err := cache.New(cache.DefaultOptions())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
//
//	store.Create("user:123", "john_doe", time.Hour)
//	value, exists, err := store.Read("user:123")
//
// All operations are safe for concurrent use.
package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/allegro/bigcache/v3"
	"go.uber.org/zap"

	"github.com/cachemir/muxcache/pkg/protocol"
)

const (
	expiryPrefixLen = 8

	// bigcache evicts any entry older than its life window. Expiry is handled
	// per entry here, so the window is effectively infinite.
	noLifeWindow = 100 * 365 * 24 * time.Hour
)

// Options sizes the store.
type Options struct {
	Shards             int             // Number of shards, a power of two
	MaxEntrySize       int             // Expected entry size in bytes, used for preallocation
	HardMaxCacheSizeMB int             // Memory limit in MB; 0 means unlimited
	CleanInterval      time.Duration   // Janitor period; 0 disables the janitor
	Hasher             bigcache.Hasher // Key hash; nil keeps bigcache's FNV-64a
	Logger             *zap.Logger
}

// DefaultOptions returns options suitable for tests and small deployments.
func DefaultOptions() Options {
	return Options{
		Shards:        1024,
		MaxEntrySize:  512,
		CleanInterval: time.Minute,
	}
}

// Cache is a key-value store with per-entry expiry.
//
// Reads are lock-free. Writes are serialized so that update and expiry
// removal can check an entry and replace it atomically.
type Cache struct {
	store  *bigcache.BigCache
	logger *zap.Logger

	mu      sync.Mutex // serializes writes
	expired atomic.Int64

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a Cache and starts its janitor.
//
// Returns:
//   - A ready Cache
//   - An error if the options are rejected by bigcache
func New(opts Options) (*Cache, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg := bigcache.DefaultConfig(noLifeWindow)
	cfg.Shards = opts.Shards
	cfg.MaxEntrySize = opts.MaxEntrySize + expiryPrefixLen
	cfg.MaxEntriesInWindow = opts.Shards * 10
	cfg.HardMaxCacheSize = opts.HardMaxCacheSizeMB
	cfg.CleanWindow = 0
	cfg.Logger = printfLogger{logger.Sugar()}
	if opts.Hasher != nil {
		cfg.Hasher = opts.Hasher
	}

	store, err := bigcache.New(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("create store: %w", err)
	}

	c := &Cache{
		store:  store,
		logger: logger,
		stop:   make(chan struct{}),
	}

	if opts.CleanInterval > 0 {
		c.wg.Add(1)
		go c.janitor(opts.CleanInterval)
	}
	return c, nil
}

// Create stores payload under key, replacing any existing value.
// A ttl of zero or less means the entry never expires.
func (c *Cache) Create(key, payload string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.store.Set(key, encodeEntry(payload, ttl))
}

// Read returns the payload stored under key. An expired entry is removed and
// reported as missing.
func (c *Cache) Read(key string) (string, bool, error) {
	entry, err := c.store.Get(key)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	payload, expiresAt := decodeEntry(entry)
	if isExpired(expiresAt, time.Now()) {
		c.removeExpired(key)
		return "", false, nil
	}
	return payload, true, nil
}

// Update replaces the payload of an existing, unexpired key and resets its
// expiry. It reports false if there was nothing to update.
func (c *Cache) Update(key, payload string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok, err := c.live(key); err != nil || !ok {
		return false, err
	}
	if err := c.store.Set(key, encodeEntry(payload, ttl)); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes key. It reports false if the key did not exist or had
// already expired.
func (c *Cache) Delete(key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok, err := c.live(key)
	if err != nil || !ok {
		return false, err
	}

	// bigcache deletes by hash, so only delete a key known to be stored.
	err = c.store.Delete(key)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Clear removes every entry.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.store.Reset()
}

// Len returns the number of stored entries, including expired entries not
// yet removed.
func (c *Cache) Len() int {
	return c.store.Len()
}

// Stats returns the store counters.
func (c *Cache) Stats() protocol.Stats {
	s := c.store.Stats()
	return protocol.Stats{
		Entries:    int64(c.store.Len()),
		Hits:       s.Hits,
		Misses:     s.Misses,
		DelHits:    s.DelHits,
		DelMisses:  s.DelMisses,
		Collisions: s.Collisions,
		Expired:    c.expired.Load(),
	}
}

// Close stops the janitor and releases the store. It is idempotent.
func (c *Cache) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stop)
		c.wg.Wait()
		err = c.store.Close()
	})
	return err
}

// live looks key up and removes it if it has expired. Callers hold mu.
func (c *Cache) live(key string) (string, bool, error) {
	entry, err := c.store.Get(key)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	payload, expiresAt := decodeEntry(entry)
	if isExpired(expiresAt, time.Now()) {
		c.deleteExpired(key)
		return "", false, nil
	}
	return payload, true, nil
}

// removeExpired deletes key if it is still expired once writes are excluded.
// A concurrent Create may have replaced it in the meantime.
func (c *Cache) removeExpired(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, _, _ = c.live(key)
}

func (c *Cache) deleteExpired(key string) {
	if err := c.store.Delete(key); err == nil {
		c.expired.Add(1)
	}
}

func (c *Cache) janitor(interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if n := c.sweep(); n > 0 {
				c.logger.Debug("removed expired entries", zap.Int("count", n))
			}
		}
	}
}

// sweep removes every expired entry and returns how many it removed.
func (c *Cache) sweep() int {
	now := time.Now()

	var keys []string
	it := c.store.Iterator()
	for it.SetNext() {
		info, err := it.Value()
		if err != nil {
			continue
		}
		if _, expiresAt := decodeEntry(info.Value()); isExpired(expiresAt, now) {
			keys = append(keys, info.Key())
		}
	}

	removed := 0
	for _, key := range keys {
		before := c.expired.Load()
		c.removeExpired(key)
		if c.expired.Load() > before {
			removed++
		}
	}
	return removed
}

func encodeEntry(payload string, ttl time.Duration) []byte {
	entry := make([]byte, expiryPrefixLen+len(payload))

	binary.BigEndian.PutUint64(entry, uint64(expiryAt(time.Now(), ttl)))
	copy(entry[expiryPrefixLen:], payload)
	return entry
}

// expiryAt returns the expiry in Unix nanoseconds, 0 for no expiry.
// Deadlines past what int64 nanoseconds can hold saturate at math.MaxInt64.
func expiryAt(now time.Time, ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	nowNano := now.UnixNano()
	if int64(ttl) > math.MaxInt64-nowNano {
		return math.MaxInt64
	}
	return nowNano + int64(ttl)
}

func decodeEntry(entry []byte) (string, int64) {
	if len(entry) < expiryPrefixLen {
		return string(entry), 0
	}
	expiresAt := int64(binary.BigEndian.Uint64(entry))
	return string(entry[expiryPrefixLen:]), expiresAt
}

func isExpired(expiresAt int64, now time.Time) bool {
	return expiresAt != 0 && now.UnixNano() >= expiresAt
}

// printfLogger routes bigcache's diagnostics into zap.
type printfLogger struct {
	*zap.SugaredLogger
}

func (l printfLogger) Printf(format string, v ...interface{}) {
	l.Infof(format, v...)
}
