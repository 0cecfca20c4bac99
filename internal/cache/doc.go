// Package cache provides the TTL cache that sits in front of every
// upstream call.
//
// Two backings implement the same Store contract:
//   - Memory: sharded in-process store for a single instance
//   - Redis: shared remote store when multiple instances must observe the
//     same cache state
//
// Visible behavior is identical across backings: expired means absent,
// last writer wins, and an unreachable backing degrades reads to misses.
package cache
