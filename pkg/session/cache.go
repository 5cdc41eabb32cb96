package session

import (
	"container/list"
	"sync"

	"github.com/boxvault/boxvault/pkg/dirrecord"
	"github.com/boxvault/boxvault/pkg/objectid"
	"github.com/boxvault/boxvault/pkg/sos"
)

// DefaultCacheSize is MAX_CACHE_SIZE, spec.md §4.6: a bounded LRU of 32
// parsed directory objects.
const DefaultCacheSize = 32

type cacheEntry struct {
	id       objectid.ID
	dir      *dirrecord.Directory
	revision sos.Revision
	elem     *list.Element
}

// DirectoryCache is the bounded LRU of parsed directory objects keyed by
// object ID, spec.md §4.6: "each cached entry remembers the on-disk
// revision ID (inode+mtime); before returning a cached entry, the cache
// re-stats the file and evicts on mismatch." Grounded on
// scttfrdmn-objectfs/internal/cache/lru.go's mutex+map+container/list
// idiom, trimmed to this package's simpler capacity-only eviction (no TTL
// or weighting — directory objects are small and uniform, so a plain LRU
// suffices).
type DirectoryCache struct {
	mu       sync.Mutex
	capacity int
	items    map[objectid.ID]*cacheEntry
	order    *list.List
}

// NewDirectoryCache creates a cache holding up to capacity entries.
func NewDirectoryCache(capacity int) *DirectoryCache {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	return &DirectoryCache{
		capacity: capacity,
		items:    make(map[objectid.ID]*cacheEntry),
		order:    list.New(),
	}
}

// Get returns the cached directory for id if present and its on-disk
// revision still matches current; otherwise it evicts the stale
// entry and returns (nil, false).
func (c *DirectoryCache) Get(id objectid.ID, current sos.Revision) (*dirrecord.Directory, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[id]
	if !ok {
		return nil, false
	}
	if e.revision != current {
		c.removeLocked(id)
		return nil, false
	}
	c.order.MoveToFront(e.elem)
	return e.dir, true
}

// Put inserts or replaces the cached entry for id, evicting the
// least-recently-used entry if the cache is over capacity.
func (c *DirectoryCache) Put(id objectid.ID, dir *dirrecord.Directory, revision sos.Revision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[id]; ok {
		e.dir = dir
		e.revision = revision
		c.order.MoveToFront(e.elem)
		return
	}

	e := &cacheEntry{id: id, dir: dir, revision: revision}
	e.elem = c.order.PushFront(id)
	c.items[id] = e

	for c.order.Len() > c.capacity {
		back := c.order.Back()
		if back == nil {
			break
		}
		c.removeLocked(back.Value.(objectid.ID))
	}
}

// Invalidate drops id from the cache, spec.md §4.6: operations that may
// flush the cache must invalidate affected IDs so the next access reloads
// from disk.
func (c *DirectoryCache) Invalidate(id objectid.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(id)
}

// Clear drops every entry, invalidating all outstanding references.
func (c *DirectoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[objectid.ID]*cacheEntry)
	c.order.Init()
}

func (c *DirectoryCache) removeLocked(id objectid.ID) {
	e, ok := c.items[id]
	if !ok {
		return
	}
	c.order.Remove(e.elem)
	delete(c.items, id)
}
