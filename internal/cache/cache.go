package cache

// Cache is the small key-value contract the estimation read path memoises through.
type Cache[K comparable, V any] interface {
	// Get returns the value and whether it was present and not expired.
	Get(key K) (V, bool)

	// Set stores the value under the cache's default TTL.
	Set(key K, value V)

	// Delete removes a key if present.
	Delete(key K)

	// Clear removes all entries. Called whenever the underlying history changes.
	Clear()
}
