package cache

import (
	"context"
	"time"
)

// Store is the TTL cache contract shared by both backings. Expired entries
// are absent; Set overwrites unconditionally (last-writer-wins, no
// versioning); values are opaque payloads cloned on both sides of the API
// so callers never share cache-owned memory.
type Store interface {
	// Get returns the unexpired value for key, or false on a miss. Backing
	// failures degrade to a miss: the cache is an optimization, never a
	// correctness dependency.
	Get(ctx context.Context, key string) ([]byte, bool)

	// Set stores value under key for ttl. A ttl <= 0 stores nothing and
	// drops any existing entry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Invalidate removes key if present.
	Invalidate(ctx context.Context, key string) error

	// Close releases backing resources.
	Close() error
}
