package storage

import (
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/pdvrieze/ProcessManager-sub007/model"
)

type cacheKey struct {
	table  string
	handle model.Handle
}

type cacheEntry struct {
	data    []byte
	version uint64
	deleted bool
}

func entry(rec Record) cacheEntry {
	return cacheEntry{data: rec.Data, version: rec.Version, deleted: rec.Deleted}
}

func (e cacheEntry) exists() bool {
	return e.version != 0 && !e.deleted
}

// Cache is a bounded LRU of committed records in front of a Backend.
// Committed records are cached, tombstones and never written handles too.
// Committing transactions invalidate the keys they write; a load that raced
// with an invalidation is not inserted, so a value older than an observed
// commit is never served.
type Cache struct {
	mx    sync.Mutex
	lru   *lru.Cache
	epoch uint64
	hits  uint64
	miss  uint64
}

// NewCache creates a cache holding at most size records.
func NewCache(size int) *Cache {
	return &Cache{lru: lru.New(size)}
}

func (c *Cache) get(k cacheKey) (cacheEntry, uint64, bool) {
	c.mx.Lock()
	defer c.mx.Unlock()
	if v, ok := c.lru.Get(k); ok {
		c.hits++
		return v.(cacheEntry), c.epoch, true
	}
	c.miss++
	return cacheEntry{}, c.epoch, false
}

// add inserts a loaded record unless an invalidation happened since epoch.
func (c *Cache) add(k cacheKey, e cacheEntry, epoch uint64) {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.epoch != epoch {
		return
	}
	c.lru.Add(k, e)
}

func (c *Cache) invalidate(keys []cacheKey) {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.epoch++
	for _, k := range keys {
		c.lru.Remove(k)
	}
}

// Stats returns the number of hits and misses so far.
func (c *Cache) Stats() (hits, misses uint64) {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.hits, c.miss
}

// Len returns the number of cached records.
func (c *Cache) Len() int {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.lru.Len()
}
