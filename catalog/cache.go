package catalog

import (
	"time"

	"github.com/ReneKroon/ttlcache"

	"github.com/code-payments/flipchat-iap/model"
)

// Cache keeps the products retrieved from a store, keyed by store specific
// id, for a limited time.
type Cache struct {
	cache *ttlcache.Cache
}

func NewCache(ttl time.Duration) *Cache {
	cache := ttlcache.NewCache()
	cache.SetTTL(ttl)
	return &Cache{
		cache: cache,
	}
}

func (c *Cache) Put(products ...*model.Product) {
	for _, product := range products {
		id := product.StoreSpecificID()
		if id == "" {
			continue
		}
		c.cache.Set(id, product.Clone())
	}
}

// Get returns a copy of the cached product with the given store specific id.
func (c *Cache) Get(storeSpecificID string) (*model.Product, bool) {
	cached, ok := c.cache.Get(storeSpecificID)
	if !ok {
		return nil, false
	}
	return cached.(*model.Product).Clone(), true
}

func (c *Cache) Remove(storeSpecificID string) {
	c.cache.Remove(storeSpecificID)
}
