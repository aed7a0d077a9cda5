package query

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the compiled-query cache capacity.
const DefaultCacheSize = 256

// Cache memoizes compiled queries by their raw string. Compilation is
// deterministic, so a hit hands back a shared *Query; queries carrying
// clock-relative date filters are recompiled every time instead of
// cached.
type Cache struct {
	compiler *Compiler
	entries  *lru.Cache[string, *Query]
}

// NewCache returns a Cache with the given capacity, or DefaultCacheSize
// when size is not positive.
func NewCache(size int, opts ...Option) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, _ := lru.New[string, *Query](size)
	return &Cache{
		compiler: NewCompiler(opts...),
		entries:  entries,
	}
}

// Compile returns the cached query for raw or compiles and caches it.
func (c *Cache) Compile(raw string) *Query {
	if q, ok := c.entries.Get(raw); ok {
		return q
	}
	q := c.compiler.Compile(raw)
	if q.Cacheable() {
		c.entries.Add(raw, q)
	}
	return q
}

// Len returns the number of cached queries.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Purge drops every cached query.
func (c *Cache) Purge() {
	c.entries.Purge()
}
