// Package fetch implements the fetch coordinator.
//
// The coordinator:
//   - Serves reads from the TTL cache when a fresh entry exists
//   - Collapses concurrent fetches for one resource into a single
//     upstream call shared by all waiters
//   - Wraps every source call in the retry policy
//   - Falls back to the secondary provider when the primary is exhausted
//     or does not know the symbol
//   - Writes results back to the cache with per-resource TTLs
package fetch
