package shadowtype

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/callpilot/protofill/internal/protocol"
)

// Cache memoizes resolved shadow types so identical items across runs skip
// re-classification. Implementations must be safe for concurrent use.
type Cache interface {
	Get(key string) (protocol.ShadowType, bool)
	Put(key string, st protocol.ShadowType)
}

// CacheKey hashes the item identity and question text. Rewording a question
// invalidates the cached classification.
func CacheKey(itemID int, question string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d_%s", itemID, question)))
	return fmt.Sprintf("%x", sum[:])
}

// CacheConfig controls the in-process cache.
type CacheConfig struct {
	MaxSize int
	TTL     time.Duration
}

// DefaultCacheConfig sizes the cache for a handful of protocol templates.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxSize: 1024,
		TTL:     24 * time.Hour,
	}
}

type cacheEntry struct {
	shadowType protocol.ShadowType
	storedAt   time.Time
}

// LRUCache is the default Cache: bounded LRU with per-entry TTL.
type LRUCache struct {
	mu      sync.Mutex
	entries *lru.Cache[string, cacheEntry]
	ttl     time.Duration
	now     func() time.Time
}

// NewLRUCache builds an LRUCache from the config, falling back to defaults
// for missing values.
func NewLRUCache(cfg CacheConfig) (*LRUCache, error) {
	def := DefaultCacheConfig()
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = def.MaxSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}

	entries, err := lru.New[string, cacheEntry](cfg.MaxSize)
	if err != nil {
		return nil, fmt.Errorf("create shadow-type cache: %w", err)
	}

	return &LRUCache{
		entries: entries,
		ttl:     cfg.TTL,
		now:     time.Now,
	}, nil
}

func (c *LRUCache) Get(key string) (protocol.ShadowType, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries.Get(key)
	if !ok {
		return protocol.ShadowType{}, false
	}
	if c.now().Sub(entry.storedAt) > c.ttl {
		c.entries.Remove(key)
		return protocol.ShadowType{}, false
	}
	return entry.shadowType, true
}

func (c *LRUCache) Put(key string, st protocol.ShadowType) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries.Add(key, cacheEntry{shadowType: st, storedAt: c.now()})
}
