package cache

import (
	"bytes"
	"context"
	"hash/fnv"
	"sync"
	"time"
)

// shardCount spreads keys over independent locks so unrelated keys never
// serialize on one mutex.
const shardCount = 16

// DefaultCleanupInterval is how often the janitor sweeps expired entries.
const DefaultCleanupInterval = time.Minute

type entry struct {
	value     []byte
	expiresAt time.Time
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// Memory is an in-process Store, sufficient for a single instance. Keys are
// sharded by FNV-1a hash; expiry is lazy on Get with a background janitor
// sweeping leftovers.
type Memory struct {
	shards    [shardCount]*shard
	janitor   *time.Ticker
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemory returns a memory store sweeping every cleanupInterval
// (DefaultCleanupInterval when <= 0).
func NewMemory(cleanupInterval time.Duration) *Memory {
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	m := &Memory{
		janitor: time.NewTicker(cleanupInterval),
		done:    make(chan struct{}),
	}
	for i := range m.shards {
		m.shards[i] = &shard{entries: make(map[string]entry)}
	}
	go m.sweep()
	return m
}

func (m *Memory) shard(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return m.shards[h.Sum32()%shardCount]
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool) {
	s := m.shard(key)
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return bytes.Clone(e.value), true
}

func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return m.Invalidate(ctx, key)
	}

	e := entry{value: bytes.Clone(value), expiresAt: time.Now().Add(ttl)}
	s := m.shard(key)
	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
	return nil
}

func (m *Memory) Invalidate(ctx context.Context, key string) error {
	s := m.shard(key)
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Close stops the janitor. The store stays usable but no longer sweeps.
func (m *Memory) Close() error {
	m.closeOnce.Do(func() {
		m.janitor.Stop()
		close(m.done)
	})
	return nil
}

func (m *Memory) sweep() {
	for {
		select {
		case <-m.done:
			return
		case <-m.janitor.C:
			now := time.Now()
			for _, s := range m.shards {
				s.mu.Lock()
				for k, e := range s.entries {
					if now.After(e.expiresAt) {
						delete(s.entries, k)
					}
				}
				s.mu.Unlock()
			}
		}
	}
}
