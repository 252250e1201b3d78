package syncclient

import (
	"context"
	"strconv"
	"sync"
)

// InboxKey is the cache key of the inbox list.
const InboxKey = "inbox"

// ConversationKey is the cache key of one contact's message thread.
func ConversationKey(contactID int64) string {
	return "conversation:" + strconv.FormatInt(contactID, 10)
}

// FetchFunc loads the current value of a query from the request/response API.
type FetchFunc func(ctx context.Context) (any, error)

// QueryCache is a keyed fetch-through cache. Entries are only ever filled by their fetch
// function; realtime events can drop them but never write into them.
type QueryCache struct {
	mu      sync.Mutex
	entries map[string]any
	gen     map[string]uint64
	epoch   uint64
	onDrop  func(key string)
}

// NewQueryCache returns an empty cache. onDrop, when set, is called after a key is invalidated.
func NewQueryCache(onDrop func(key string)) *QueryCache {
	return &QueryCache{
		entries: make(map[string]any),
		gen:     make(map[string]uint64),
		onDrop:  onDrop,
	}
}

// Get returns the cached value for key or fetches it. A result fetched while the key was
// invalidated is returned but not stored.
func (c *QueryCache) Get(ctx context.Context, key string, fetch FetchFunc) (any, error) {
	c.mu.Lock()
	if v, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return v, nil
	}
	gen, epoch := c.gen[key], c.epoch
	c.mu.Unlock()

	v, err := fetch(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.gen[key] == gen && c.epoch == epoch {
		c.entries[key] = v
	}
	c.mu.Unlock()
	return v, nil
}

// Cached reports whether key currently holds a value.
func (c *QueryCache) Cached(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// Invalidate drops key so the next Get refetches.
func (c *QueryCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.gen[key]++
	c.mu.Unlock()
	if c.onDrop != nil {
		c.onDrop(key)
	}
}

// InvalidateAll drops every entry. Fetches in flight at the time are not stored either.
func (c *QueryCache) InvalidateAll() {
	c.mu.Lock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	clear(c.entries)
	c.epoch++
	c.mu.Unlock()
	if c.onDrop != nil {
		for _, k := range keys {
			c.onDrop(k)
		}
	}
}
