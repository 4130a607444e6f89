package schema

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Snapshot is an immutable view of one server's capability documents.
// Readers hold the pointer they got; a refresh installs a fresh snapshot and
// never mutates an existing one.
type Snapshot struct {
	FetchedAt   time.Time
	Collections []*Collection

	byID map[string]*Collection
}

// Collection returns the collection with the given id, or nil.
func (s *Snapshot) Collection(id string) *Collection {
	return s.byID[id]
}

// Cache holds capability snapshots keyed by server base URL. The LRU bound
// keeps long sessions against many servers from growing without limit.
type Cache struct {
	entries *lru.Cache[string, *Snapshot]
}

// DefaultCacheSize bounds the number of servers cached at once.
const DefaultCacheSize = 32

// NewCache creates a capability cache. size <= 0 uses DefaultCacheSize.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[string, *Snapshot](size)
	if err != nil {
		return nil, err
	}
	return &Cache{entries: entries}, nil
}

// Put atomically replaces the snapshot for a server.
func (c *Cache) Put(serverURL string, collections []*Collection) *Snapshot {
	snap := &Snapshot{
		FetchedAt:   time.Now().UTC(),
		Collections: collections,
		byID:        make(map[string]*Collection, len(collections)),
	}
	for _, col := range collections {
		snap.byID[col.ID] = col
	}
	c.entries.Add(serverURL, snap)
	return snap
}

// Get returns the snapshot for a server, if cached.
func (c *Cache) Get(serverURL string) (*Snapshot, bool) {
	return c.entries.Get(serverURL)
}

// Remove drops one server's snapshot.
func (c *Cache) Remove(serverURL string) {
	c.entries.Remove(serverURL)
}

// Clear drops every snapshot. Called on shutdown.
func (c *Cache) Clear() {
	c.entries.Purge()
}
