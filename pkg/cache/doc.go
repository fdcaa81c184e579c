// Package cache stores GET responses of rarely-changing endpoints, mostly
// reference sets such as categories or brands.
//
// Two layers are consulted in order:
//
//   - an in-memory LRU with a bounded lifetime (always on)
//   - Redis (optional), shared by every process using the same API identity
//
// Entries follow HTTP freshness: Cache-Control max-age wins over Expires, and
// DefaultTTL applies when neither is present. A stale entry is kept for
// Config.RevalidateWindow so the client can revalidate it with If-None-Match
// or If-Modified-Since; a 304 Not Modified extends it through UpdateTTL.
//
// # Basic Usage
//
//	manager := cache.NewManager(redisClient, cache.DefaultConfig()) // redisClient may be nil
//
//	key := cache.CacheKey{Endpoint: "/api/toys/categories"}
//
//	entry, err := manager.Get(ctx, key)
//	switch {
//	case errors.Is(err, cache.ErrCacheMiss):
//		// fetch and manager.Set(ctx, key, cache.NewEntry(status, header, body))
//	case err == nil && !entry.IsExpired():
//		// serve entry.Data
//	case err == nil:
//		cache.AddConditionalHeaders(req, entry)
//	}
package cache
