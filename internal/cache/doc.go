// Package cache provides a small generic cache with tick-based eviction.
//
// It backs the structural sharing gpuflow does within one process: pipeline
// layouts derived from identical reflected bindings share one backend
// object per device, and identical shader sources compile once.
//
//	c := cache.New[string, int](100)
//	c.Set("key", 42)
//	value, ok := c.Get("key")
//
// Cache is safe for concurrent use and must not be copied after creation.
package cache
