// Package cache stores LLM responses in an in-memory badger instance with a
// per-entry TTL. Concurrent misses for the same key share one load.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"golang.org/x/sync/singleflight"

	"promptcompiler/internal/storage"
)

const (
	DefaultTTL = time.Hour
	keyPrefix  = "resp:"
)

type Config struct {
	TTL    time.Duration
	Logger *slog.Logger
}

type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// HitRate is hits over lookups, 0 before the first lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type ResponseCache struct {
	db     *badger.DB
	ttl    time.Duration
	group  singleflight.Group
	hits   atomic.Int64
	misses atomic.Int64
}

func New(cfg Config) (*ResponseCache, error) {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	db, err := storage.OpenBadger(storage.BadgerConfig{InMemory: true, Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("open response cache: %w", err)
	}
	return &ResponseCache{db: db, ttl: ttl}, nil
}

func (c *ResponseCache) TTL() time.Duration {
	return c.ttl
}

func (c *ResponseCache) Get(key string) ([]byte, bool, error) {
	value, ok, err := c.lookup(key)
	if err != nil {
		return nil, false, err
	}
	c.count(ok)
	return value, ok, nil
}

// lookup reads key without touching the hit and miss counters.
func (c *ResponseCache) lookup(key string) ([]byte, bool, error) {
	var value []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (c *ResponseCache) count(hit bool) {
	if hit {
		c.hits.Add(1)
		return
	}
	c.misses.Add(1)
}

func (c *ResponseCache) Set(key string, value []byte) error {
	return c.SetWithTTL(key, value, c.ttl)
}

func (c *ResponseCache) SetWithTTL(key string, value []byte, ttl time.Duration) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(keyPrefix+key), value).WithTTL(ttl))
	})
}

func (c *ResponseCache) Invalidate(key string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + key))
	})
}

// Clear drops every entry and resets the counters.
func (c *ResponseCache) Clear() error {
	if err := c.db.DropAll(); err != nil {
		return err
	}
	c.hits.Store(0)
	c.misses.Store(0)
	return nil
}

func (c *ResponseCache) Stats() (Stats, error) {
	entries := 0
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			entries++
		}
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Entries: entries}, nil
}

type loaded struct {
	value  []byte
	cached bool
}

// GetOrLoad returns the cached value for key, or runs load once for all
// concurrent callers and caches its result. cached reports whether the value
// came from the cache. Each call counts as exactly one hit or miss.
func (c *ResponseCache) GetOrLoad(ctx context.Context, key string, load func(context.Context) ([]byte, error)) (value []byte, cached bool, err error) {
	value, ok, err := c.lookup(key)
	if err != nil {
		return nil, false, err
	}
	if ok {
		c.count(true)
		return value, true, nil
	}
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// another flight may have stored the value since the first lookup
		if value, ok, err := c.lookup(key); err != nil || ok {
			return loaded{value: value, cached: true}, err
		}
		value, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.Set(key, value); err != nil {
			return nil, err
		}
		return loaded{value: value}, nil
	})
	if err != nil {
		c.count(false)
		return nil, false, err
	}
	res := v.(loaded)
	c.count(res.cached)
	return res.value, res.cached, nil
}

func (c *ResponseCache) Close() error {
	return c.db.Close()
}

// Key hashes the model name and message parts into a cache key.
func Key(model string, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(model))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
