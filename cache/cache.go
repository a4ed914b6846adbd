// Package cache provides the in-memory response cache: LRU eviction,
// per-entry TTL checked lazily on access, and keys derived from the
// deterministic canonical serialization of the request.
package cache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"claude-gateway/convert"
	"claude-gateway/logger"
	"claude-gateway/metrics"
	"claude-gateway/types"
)

// Config sizes and scopes one cache instance.
type Config struct {
	// Capacity is the maximum entry count before LRU eviction.
	Capacity int

	// DefaultTTL applies to entries stored without an explicit TTL.
	DefaultTTL time.Duration

	// Namespace salts every key, isolating tenants that share a
	// process from each other's entries.
	Namespace string
}

type entry struct {
	key            string
	value          *CachedValue
	createdAt      time.Time
	expiresAt      time.Time
	lastAccessedAt time.Time
}

// Cache is safe for concurrent use. All state lives behind one mutex;
// operations are short and never block on I/O.
type Cache struct {
	cfg  Config
	log  logger.Logger
	mets *metrics.Metrics

	mu     sync.Mutex
	lru    *list.List
	items  map[string]*list.Element
	closed bool
}

// New creates a cache. Zero config fields fall back to 1024 entries,
// a 5 minute TTL and the "default" namespace.
func New(cfg Config, log logger.Logger, mets *metrics.Metrics) *Cache {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1024
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	if log == nil {
		log = logger.NewNop()
	}
	if mets == nil {
		mets = metrics.New(nil)
	}
	return &Cache{
		cfg:   cfg,
		log:   log,
		mets:  mets,
		lru:   list.New(),
		items: make(map[string]*list.Element),
	}
}

// Key derives the cache key for a request: a hex SHA-256 over the
// namespace salt and the canonical request serialization.
func (c *Cache) Key(req *types.CanonicalRequest) (string, error) {
	payload, err := convert.CanonicalKeyJSON(req)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(c.cfg.Namespace))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Get looks up the cached value for a request. Ineligible requests skip
// the lookup entirely. Expired entries are discarded on access and
// reported as misses. Key derivation failures degrade to a miss; the
// request path never fails because of the cache.
func (c *Cache) Get(ctx context.Context, req *types.CanonicalRequest) (*CachedValue, bool) {
	if c == nil {
		return nil, false
	}
	if ctx != nil && ctx.Err() != nil {
		return nil, false
	}
	if !req.CacheEligible() {
		c.log.Debug("🚫 Request not cache eligible, skipping lookup")
		return nil, false
	}

	key, err := c.Key(req)
	if err != nil {
		c.log.Warn("⚠️ %v", &types.CacheError{Op: "get", Err: err})
		c.mets.CacheMisses.Inc()
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, false
	}

	elem, ok := c.items[key]
	if !ok {
		c.mets.CacheMisses.Inc()
		return nil, false
	}

	ent := elem.Value.(*entry)
	now := time.Now()
	if now.After(ent.expiresAt) {
		c.removeLocked(elem, "expired")
		c.mets.CacheExpirations.Inc()
		c.mets.CacheMisses.Inc()
		return nil, false
	}

	ent.lastAccessedAt = now
	c.lru.MoveToFront(elem)
	c.mets.CacheHits.Inc()
	c.log.Debug("💾 Cache hit: key=%s age=%s", shortKey(key), now.Sub(ent.createdAt).Round(time.Millisecond))
	return ent.value, true
}

// Put stores the value for a request. A non-positive ttl uses the
// configured default. Concurrent writers for the same key are allowed;
// the last writer wins. Ineligible requests are silently skipped.
func (c *Cache) Put(ctx context.Context, req *types.CanonicalRequest, value *CachedValue, ttl time.Duration) {
	if c == nil || value == nil {
		return
	}
	if ctx != nil && ctx.Err() != nil {
		return
	}
	if !req.CacheEligible() {
		c.log.Debug("🚫 Request not cache eligible, skipping store")
		return
	}

	key, err := c.Key(req)
	if err != nil {
		c.log.Warn("⚠️ %v", &types.CacheError{Op: "put", Err: err})
		return
	}

	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	if elem, ok := c.items[key]; ok {
		ent := elem.Value.(*entry)
		ent.value = value
		ent.createdAt = now
		ent.expiresAt = now.Add(ttl)
		ent.lastAccessedAt = now
		c.lru.MoveToFront(elem)
	} else {
		elem := c.lru.PushFront(&entry{
			key:            key,
			value:          value,
			createdAt:      now,
			expiresAt:      now.Add(ttl),
			lastAccessedAt: now,
		})
		c.items[key] = elem
	}

	for c.lru.Len() > c.cfg.Capacity {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest, "capacity")
		c.mets.CacheEvictions.Inc()
	}

	c.mets.CacheSize.Set(float64(c.lru.Len()))
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Close releases the cache. Later operations become no-ops; in-flight
// operations finish normally.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.lru.Init()
	c.items = make(map[string]*list.Element)
	c.mets.CacheSize.Set(0)
	return nil
}

func (c *Cache) removeLocked(elem *list.Element, reason string) {
	ent := elem.Value.(*entry)
	c.lru.Remove(elem)
	delete(c.items, ent.key)
	c.log.Debug("💾 Cache entry removed: key=%s reason=%s", shortKey(ent.key), reason)
	c.mets.CacheSize.Set(float64(c.lru.Len()))
}

func shortKey(key string) string {
	if len(key) <= 12 {
		return key
	}
	return key[:12]
}
