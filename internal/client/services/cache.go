package services

import (
	"sync"
	"time"

	"github.com/dmitrijs2005/gardenkeeper/internal/client/models"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/repositories/entities"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultCacheTTL = 5 * time.Minute

	cacheSize = 512
	allKey    = "*"
)

// recordCache keeps recent reads per collection: the whole collection
// under "*" and single records under their id. Stored records are never
// mutated, so cached slices are shared with callers only after decoding.
//
// Every invalidation bumps the collection's generation; a read that started
// before the bump cannot repopulate the cache with what it fetched.
type recordCache struct {
	mu   sync.Mutex
	lrus map[models.Collection]*expirable.LRU[string, []*entities.Record]
	gen  map[models.Collection]uint64
}

func newRecordCache(ttl time.Duration) *recordCache {
	c := &recordCache{
		lrus: make(map[models.Collection]*expirable.LRU[string, []*entities.Record]),
		gen:  make(map[models.Collection]uint64),
	}
	for _, t := range models.EntityTypes {
		c.lrus[t.Collection()] = expirable.NewLRU[string, []*entities.Record](cacheSize, nil, ttl)
	}
	return c
}

func (c *recordCache) generation(coll models.Collection) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen[coll]
}

func (c *recordCache) get(coll models.Collection, key string) ([]*entities.Record, bool) {
	l, ok := c.lrus[coll]
	if !ok {
		return nil, false
	}
	return l.Get(key)
}

// put stores recs unless the collection was invalidated after gen was read.
func (c *recordCache) put(coll models.Collection, key string, gen uint64, recs []*entities.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.lrus[coll]
	if !ok || c.gen[coll] != gen {
		return
	}
	l.Add(key, recs)
}

func (c *recordCache) invalidate(coll models.Collection) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen[coll]++
	if l, ok := c.lrus[coll]; ok {
		l.Purge()
	}
}

func (c *recordCache) invalidateAll() {
	for coll := range c.lrus {
		c.invalidate(coll)
	}
}
