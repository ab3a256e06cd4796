package events

// CacheHit is emitted when a query result is served from the cache.
type CacheHit struct {
	Operation string
	Key       string
}

// CacheMiss is emitted when a cacheable query has to hit the database.
type CacheMiss struct {
	Operation string
	Key       string
}
