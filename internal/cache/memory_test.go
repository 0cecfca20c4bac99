package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestMemoryGetSet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	defer m.Close()

	t.Run("hit within ttl", func(t *testing.T) {
		if err := m.Set(ctx, "ticker:binance:BTC/USDT", []byte("v1"), time.Minute); err != nil {
			t.Fatalf("Set: %v", err)
		}
		got, ok := m.Get(ctx, "ticker:binance:BTC/USDT")
		if !ok {
			t.Fatal("Get: miss, want hit")
		}
		if string(got) != "v1" {
			t.Errorf("Get = %q, want v1", got)
		}
	})

	t.Run("miss after expiry", func(t *testing.T) {
		if err := m.Set(ctx, "short", []byte("v"), 20*time.Millisecond); err != nil {
			t.Fatalf("Set: %v", err)
		}
		time.Sleep(40 * time.Millisecond)
		if _, ok := m.Get(ctx, "short"); ok {
			t.Error("Get after ttl: hit, want miss")
		}
	})

	t.Run("unknown key", func(t *testing.T) {
		if _, ok := m.Get(ctx, "nope"); ok {
			t.Error("Get(nope): hit, want miss")
		}
	})

	t.Run("last writer wins", func(t *testing.T) {
		m.Set(ctx, "k", []byte("old"), time.Minute)
		m.Set(ctx, "k", []byte("new"), time.Minute)
		got, ok := m.Get(ctx, "k")
		if !ok || string(got) != "new" {
			t.Errorf("Get = (%q, %v), want (new, true)", got, ok)
		}
	})

	t.Run("zero ttl stores nothing", func(t *testing.T) {
		m.Set(ctx, "z", []byte("v"), time.Minute)
		m.Set(ctx, "z", []byte("v2"), 0)
		if _, ok := m.Get(ctx, "z"); ok {
			t.Error("Get after zero-ttl Set: hit, want miss")
		}
	})
}

func TestMemoryInvalidate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	defer m.Close()

	m.Set(ctx, "k", []byte("v"), time.Minute)
	if err := m.Invalidate(ctx, "k"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, ok := m.Get(ctx, "k"); ok {
		t.Error("Get after Invalidate: hit, want miss")
	}

	// Invalidating an absent key is not an error.
	if err := m.Invalidate(ctx, "absent"); err != nil {
		t.Errorf("Invalidate(absent): %v", err)
	}
}

func TestMemoryCloneSemantics(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	defer m.Close()

	in := []byte("original")
	m.Set(ctx, "k", in, time.Minute)
	in[0] = 'X'

	got, ok := m.Get(ctx, "k")
	if !ok || string(got) != "original" {
		t.Fatalf("Get = %q, caller mutation leaked into cache", got)
	}

	got[0] = 'Y'
	again, _ := m.Get(ctx, "k")
	if string(again) != "original" {
		t.Errorf("Get = %q, reader mutation leaked into cache", again)
	}
}

func TestMemoryJanitor(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10 * time.Millisecond)
	defer m.Close()

	for i := 0; i < 10; i++ {
		m.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), 5*time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	total := 0
	for _, s := range m.shards {
		s.mu.RLock()
		total += len(s.entries)
		s.mu.RUnlock()
	}
	if total != 0 {
		t.Errorf("entries after sweep = %d, want 0", total)
	}
}

func TestMemoryConcurrent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	defer m.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", n)
			for j := 0; j < 100; j++ {
				m.Set(ctx, key, []byte("v"), time.Minute)
				m.Get(ctx, key)
				m.Get(ctx, "shared")
			}
		}(i)
	}
	wg.Wait()
}

func TestMemoryCloseIdempotent(t *testing.T) {
	m := NewMemory(0)
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
