package fetch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AakashShah07/Market-Data-Collection-Publishing/internal/cache"
	"github.com/AakashShah07/Market-Data-Collection-Publishing/internal/model"
	"github.com/AakashShah07/Market-Data-Collection-Publishing/internal/retry"
	"github.com/AakashShah07/Market-Data-Collection-Publishing/internal/source"
)

// mockAdapter counts calls and serves canned data or a canned error.
type mockAdapter struct {
	name  string
	calls atomic.Int32

	delay  time.Duration
	ticker model.Ticker
	bars   []model.OHLCVBar
	book   model.OrderBook
	err    error
}

func (m *mockAdapter) Name() string { return m.name }

func (m *mockAdapter) wait(ctx context.Context) error {
	if m.delay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.delay):
		return nil
	}
}

func (m *mockAdapter) FetchTicker(ctx context.Context, symbol string) (model.Ticker, error) {
	m.calls.Add(1)
	if err := m.wait(ctx); err != nil {
		return model.Ticker{}, err
	}
	if m.err != nil {
		return model.Ticker{}, m.err
	}
	t := m.ticker
	t.Exchange = m.name
	t.Symbol = symbol
	return t, nil
}

func (m *mockAdapter) FetchOHLCV(ctx context.Context, symbol, timeframe string, since time.Time, limit int) ([]model.OHLCVBar, error) {
	m.calls.Add(1)
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.bars, nil
}

func (m *mockAdapter) FetchOrderBook(ctx context.Context, symbol string, depth int) (model.OrderBook, error) {
	m.calls.Add(1)
	if err := m.wait(ctx); err != nil {
		return model.OrderBook{}, err
	}
	if m.err != nil {
		return model.OrderBook{}, m.err
	}
	b := m.book
	b.Exchange = m.name
	b.Symbol = symbol
	return b, nil
}

func testTicker(last string) model.Ticker {
	return model.Ticker{
		Last:      decimal.RequireFromString(last),
		Bid:       decimal.RequireFromString(last),
		Ask:       decimal.RequireFromString(last),
		Timestamp: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
	}
}

// newTestCoordinator wires a coordinator over a memory cache with a fast
// retry policy.
func newTestCoordinator(t *testing.T, cfg Config, adapters ...source.Adapter) *Coordinator {
	t.Helper()

	reg := source.NewRegistry()
	for _, a := range adapters {
		reg.Register(a)
	}

	store := cache.NewMemory(0)
	t.Cleanup(func() { store.Close() })

	if cfg.Policy.MaxAttempts == 0 {
		cfg.Policy = retry.Policy{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    4 * time.Millisecond,
		}
	}

	return New(cfg, reg, store, nil)
}

func TestTickerCachesFetches(t *testing.T) {
	primary := &mockAdapter{name: "binance", ticker: testTicker("43250.10")}
	c := newTestCoordinator(t, Config{}, primary)

	first, err := c.Ticker(context.Background(), "binance", "BTC/USDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Source != model.SourcePrimary {
		t.Errorf("Source = %v, want %v", first.Source, model.SourcePrimary)
	}

	second, err := c.Ticker(context.Background(), "binance", "BTC/USDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !second.Equal(first) {
		t.Errorf("cached ticker differs: %+v vs %+v", second, first)
	}
	if got := primary.calls.Load(); got != 1 {
		t.Errorf("adapter calls = %d, want 1", got)
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Fetches != 1 {
		t.Errorf("stats = %+v, want 1 hit, 1 miss, 1 fetch", stats)
	}
}

func TestTickerSingleFlight(t *testing.T) {
	primary := &mockAdapter{name: "binance", ticker: testTicker("100"), delay: 50 * time.Millisecond}
	c := newTestCoordinator(t, Config{}, primary)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.Ticker(context.Background(), "binance", "BTC/USDT")
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d: unexpected error: %v", i, err)
		}
	}
	if got := primary.calls.Load(); got != 1 {
		t.Errorf("adapter calls = %d, want 1 for %d concurrent callers", got, n)
	}
}

func TestTickerFallback(t *testing.T) {
	t.Run("after retries exhausted", func(t *testing.T) {
		primary := &mockAdapter{name: "binance", err: source.Errorf(source.KindTimeout, "binance", "deadline exceeded")}
		fallback := &mockAdapter{name: "coinmarketcap", ticker: testTicker("43000")}
		c := newTestCoordinator(t, Config{Fallback: fallback}, primary)

		ticker, err := c.Ticker(context.Background(), "binance", "BTC/USDT")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ticker.Source != model.SourceFallback {
			t.Errorf("Source = %v, want %v", ticker.Source, model.SourceFallback)
		}
		if got := primary.calls.Load(); got != 3 {
			t.Errorf("primary calls = %d, want 3", got)
		}
		if got := fallback.calls.Load(); got != 1 {
			t.Errorf("fallback calls = %d, want 1", got)
		}

		// The cached entry keeps the fallback provenance.
		cached, err := c.Ticker(context.Background(), "binance", "BTC/USDT")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cached.Source != model.SourceFallback {
			t.Errorf("cached Source = %v, want %v", cached.Source, model.SourceFallback)
		}
		if got := fallback.calls.Load(); got != 1 {
			t.Errorf("fallback calls after cache hit = %d, want 1", got)
		}

		if stats := c.Stats(); stats.Fallbacks != 1 {
			t.Errorf("Fallbacks = %d, want 1", stats.Fallbacks)
		}
	})

	t.Run("on unknown symbol", func(t *testing.T) {
		primary := &mockAdapter{name: "binance", err: source.Errorf(source.KindNotFound, "binance", "unknown symbol")}
		fallback := &mockAdapter{name: "coinmarketcap", ticker: testTicker("43000")}
		c := newTestCoordinator(t, Config{Fallback: fallback}, primary)

		ticker, err := c.Ticker(context.Background(), "binance", "NEW/USDT")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ticker.Source != model.SourceFallback {
			t.Errorf("Source = %v, want %v", ticker.Source, model.SourceFallback)
		}
		// Not found is terminal, so exactly one primary attempt.
		if got := primary.calls.Load(); got != 1 {
			t.Errorf("primary calls = %d, want 1", got)
		}
	})

	t.Run("never on auth failure", func(t *testing.T) {
		primary := &mockAdapter{name: "binance", err: source.Errorf(source.KindAuth, "binance", "invalid key")}
		fallback := &mockAdapter{name: "coinmarketcap", ticker: testTicker("43000")}
		c := newTestCoordinator(t, Config{Fallback: fallback}, primary)

		_, err := c.Ticker(context.Background(), "binance", "BTC/USDT")
		if !source.IsAuth(err) {
			t.Fatalf("expected auth failure, got %v", err)
		}
		if got := fallback.calls.Load(); got != 0 {
			t.Errorf("fallback calls = %d, want 0", got)
		}
	})

	t.Run("not configured", func(t *testing.T) {
		primary := &mockAdapter{name: "binance", err: source.Errorf(source.KindNotFound, "binance", "unknown symbol")}
		c := newTestCoordinator(t, Config{}, primary)

		_, err := c.Ticker(context.Background(), "binance", "NOPE/USDT")
		if !source.IsNotFound(err) {
			t.Fatalf("expected not found, got %v", err)
		}
		var all *AllSourcesError
		if errors.As(err, &all) {
			t.Fatalf("expected plain source error without fallback, got %v", err)
		}
	})
}

func TestTickerAllSourcesFailed(t *testing.T) {
	primary := &mockAdapter{name: "binance", err: source.Errorf(source.KindTimeout, "binance", "deadline exceeded")}
	fallback := &mockAdapter{name: "coinmarketcap", err: source.Errorf(source.KindNotFound, "coinmarketcap", "no quote")}
	c := newTestCoordinator(t, Config{Fallback: fallback}, primary)

	_, err := c.Ticker(context.Background(), "binance", "BTC/USDT")
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var all *AllSourcesError
	if !errors.As(err, &all) {
		t.Fatalf("expected *AllSourcesError, got %T: %v", err, err)
	}
	if all.PrimarySource != "binance" || all.FallbackSource != "coinmarketcap" {
		t.Errorf("sources = %q/%q, want binance/coinmarketcap", all.PrimarySource, all.FallbackSource)
	}

	var ex *retry.ExhaustedError
	if !errors.As(all.PrimaryErr, &ex) {
		t.Errorf("primary cause should be exhausted retries, got %v", all.PrimaryErr)
	}
	if !source.IsNotFound(all.FallbackErr) {
		t.Errorf("fallback cause should be not found, got %v", all.FallbackErr)
	}

	for _, want := range []string{"binance", "coinmarketcap"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should name %s", err.Error(), want)
		}
	}
}

func TestTickerUnknownExchange(t *testing.T) {
	fallback := &mockAdapter{name: "coinmarketcap", ticker: testTicker("43000")}
	c := newTestCoordinator(t, Config{Fallback: fallback})

	_, err := c.Ticker(context.Background(), "nope", "BTC/USDT")
	if !source.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	// An unknown exchange is a caller mistake, not a source outage.
	if got := fallback.calls.Load(); got != 0 {
		t.Errorf("fallback calls = %d, want 0", got)
	}
}

func TestTickerAbandonedCallerStillCaches(t *testing.T) {
	primary := &mockAdapter{name: "binance", ticker: testTicker("100"), delay: 80 * time.Millisecond}
	c := newTestCoordinator(t, Config{}, primary)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Ticker(ctx, "binance", "BTC/USDT")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	// The abandoned flight finishes on its own and lands in the cache.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := c.PeekTicker(context.Background(), "binance", "BTC/USDT"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("abandoned fetch never reached the cache")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := c.Ticker(context.Background(), "binance", "BTC/USDT"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := primary.calls.Load(); got != 1 {
		t.Errorf("adapter calls = %d, want 1", got)
	}
}

func TestHistorical(t *testing.T) {
	bars := []model.OHLCVBar{
		{Timestamp: time.Date(2024, 1, 15, 11, 0, 0, 0, time.UTC), Close: decimal.RequireFromString("100")},
		{Timestamp: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC), Close: decimal.RequireFromString("101")},
	}
	primary := &mockAdapter{name: "kraken", bars: bars}
	c := newTestCoordinator(t, Config{}, primary)

	got, err := c.Historical(context.Background(), "kraken", "BTC/USD", "1h", time.Time{}, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(bars) = %d, want 2", len(got))
	}

	if _, err := c.Historical(context.Background(), "kraken", "BTC/USD", "1h", time.Time{}, 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls := primary.calls.Load(); calls != 1 {
		t.Errorf("adapter calls = %d, want 1", calls)
	}

	// A different window is a different resource.
	if _, err := c.Historical(context.Background(), "kraken", "BTC/USD", "1d", time.Time{}, 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls := primary.calls.Load(); calls != 2 {
		t.Errorf("adapter calls = %d, want 2", calls)
	}
}

func TestOrderBook(t *testing.T) {
	book := model.OrderBook{
		Bids:      []model.OrderBookLevel{{Price: decimal.RequireFromString("99"), Size: decimal.RequireFromString("1")}},
		Asks:      []model.OrderBookLevel{{Price: decimal.RequireFromString("101"), Size: decimal.RequireFromString("2")}},
		Timestamp: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
	}
	primary := &mockAdapter{name: "binance", book: book}
	c := newTestCoordinator(t, Config{}, primary)

	got, err := c.OrderBook(context.Background(), "binance", "BTC/USDT", 25)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Bids) != 1 || len(got.Asks) != 1 {
		t.Fatalf("levels = %d/%d, want 1/1", len(got.Bids), len(got.Asks))
	}

	if _, err := c.OrderBook(context.Background(), "binance", "BTC/USDT", 25); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls := primary.calls.Load(); calls != 1 {
		t.Errorf("adapter calls = %d, want 1", calls)
	}

	// Depth is part of the key.
	if _, err := c.OrderBook(context.Background(), "binance", "BTC/USDT", 50); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls := primary.calls.Load(); calls != 2 {
		t.Errorf("adapter calls = %d, want 2", calls)
	}
}

func TestPeekTicker(t *testing.T) {
	primary := &mockAdapter{name: "binance", ticker: testTicker("100")}
	c := newTestCoordinator(t, Config{}, primary)

	if _, ok := c.PeekTicker(context.Background(), "binance", "BTC/USDT"); ok {
		t.Fatal("PeekTicker on empty cache should miss")
	}
	if got := primary.calls.Load(); got != 0 {
		t.Errorf("peek must not fetch, adapter calls = %d", got)
	}

	if _, err := c.Ticker(context.Background(), "binance", "BTC/USDT"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ticker, ok := c.PeekTicker(context.Background(), "binance", "BTC/USDT")
	if !ok {
		t.Fatal("PeekTicker after fetch should hit")
	}
	if ticker.Symbol != "BTC/USDT" {
		t.Errorf("Symbol = %q, want %q", ticker.Symbol, "BTC/USDT")
	}
}

func TestTickerBatch(t *testing.T) {
	t.Run("partial failure preserves order", func(t *testing.T) {
		good := &mockAdapter{name: "binance", ticker: testTicker("100")}
		bad := &mockAdapter{name: "kraken", err: source.Errorf(source.KindNotFound, "kraken", "unknown pair")}
		c := newTestCoordinator(t, Config{}, good, bad)

		reqs := []Instrument{
			{Exchange: "binance", Symbol: "BTC/USDT"},
			{Exchange: "kraken", Symbol: "NOPE/USD"},
			{Exchange: "binance", Symbol: "ETH/USDT"},
		}
		results := c.TickerBatch(context.Background(), reqs)
		if len(results) != 3 {
			t.Fatalf("len(results) = %d, want 3", len(results))
		}

		for i, res := range results {
			if res.Instrument != reqs[i] {
				t.Errorf("results[%d] is %+v, want alignment with %+v", i, res.Instrument, reqs[i])
			}
		}
		if results[0].Err != nil {
			t.Errorf("results[0]: unexpected error: %v", results[0].Err)
		}
		if !source.IsNotFound(results[1].Err) {
			t.Errorf("results[1]: expected not found, got %v", results[1].Err)
		}
		if results[2].Err != nil {
			t.Errorf("results[2]: unexpected error: %v", results[2].Err)
		}
		if results[0].Ticker.Symbol != "BTC/USDT" || results[2].Ticker.Symbol != "ETH/USDT" {
			t.Errorf("symbols = %q/%q, want BTC/USDT and ETH/USDT",
				results[0].Ticker.Symbol, results[2].Ticker.Symbol)
		}
	})

	t.Run("duplicate instruments share one fetch", func(t *testing.T) {
		primary := &mockAdapter{name: "binance", ticker: testTicker("100"), delay: 30 * time.Millisecond}
		c := newTestCoordinator(t, Config{}, primary)

		reqs := []Instrument{
			{Exchange: "binance", Symbol: "BTC/USDT"},
			{Exchange: "binance", Symbol: "BTC/USDT"},
			{Exchange: "binance", Symbol: "BTC/USDT"},
		}
		results := c.TickerBatch(context.Background(), reqs)
		for i, res := range results {
			if res.Err != nil {
				t.Errorf("results[%d]: unexpected error: %v", i, res.Err)
			}
		}
		if got := primary.calls.Load(); got != 1 {
			t.Errorf("adapter calls = %d, want 1", got)
		}
	})

	t.Run("empty request", func(t *testing.T) {
		c := newTestCoordinator(t, Config{})
		if results := c.TickerBatch(context.Background(), nil); len(results) != 0 {
			t.Errorf("len(results) = %d, want 0", len(results))
		}
	})
}
