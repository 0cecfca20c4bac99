package relay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AakashShah07/Market-Data-Collection-Publishing/internal/model"
)

// stubFetcher hands out a settable ticker and counts calls. With err set it
// fails every call, or only the first failFirst calls when that is nonzero.
type stubFetcher struct {
	calls atomic.Int32

	mu        sync.Mutex
	ticker    model.Ticker
	err       error
	failFirst int32
	cached    model.Ticker
	hasCached bool
}

func (s *stubFetcher) Ticker(ctx context.Context, exchange, symbol string) (model.Ticker, error) {
	n := s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil && (s.failFirst == 0 || n <= s.failFirst) {
		return model.Ticker{}, s.err
	}
	return s.ticker, nil
}

func (s *stubFetcher) PeekTicker(ctx context.Context, exchange, symbol string) (model.Ticker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cached, s.hasCached
}

func (s *stubFetcher) set(t model.Ticker) {
	s.mu.Lock()
	s.ticker = t
	s.mu.Unlock()
}

func relayTicker(last string) model.Ticker {
	return model.Ticker{
		Exchange:  "binance",
		Symbol:    "BTC/USDT",
		Last:      decimal.RequireFromString(last),
		Timestamp: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
	}
}

func newTestRelay(t *testing.T, cfg Config, f Fetcher) *Relay {
	t.Helper()
	if cfg.Interval == 0 {
		cfg.Interval = 10 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}
	r := New(cfg, f, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := r.Stop(ctx); err != nil {
			t.Errorf("stop: %v", err)
		}
	})
	return r
}

func mustReceive(t *testing.T, sub *Subscription) model.Ticker {
	t.Helper()
	select {
	case tk, ok := <-sub.Updates():
		if !ok {
			t.Fatalf("updates closed early: %v", sub.Err())
		}
		return tk
	case <-time.After(2 * time.Second):
		t.Fatal("no update before deadline")
	}
	return model.Ticker{}
}

func mustNotReceive(t *testing.T, sub *Subscription, within time.Duration) {
	t.Helper()
	select {
	case tk, ok := <-sub.Updates():
		if !ok {
			t.Fatalf("updates closed: %v", sub.Err())
		}
		t.Fatalf("unexpected update: last=%s", tk.Last)
	case <-time.After(within):
	}
}

func mustClose(t *testing.T, sub *Subscription) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.Updates():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("updates never closed")
		}
	}
}

func TestSubscribeReceivesRefreshes(t *testing.T) {
	fetcher := &stubFetcher{ticker: relayTicker("43250.1")}
	r := newTestRelay(t, Config{}, fetcher)

	sub, err := r.Subscribe("binance", "btc/usdt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := mustReceive(t, sub)
	if got.Last.String() != "43250.1" {
		t.Errorf("Last = %s, want 43250.1", got.Last)
	}
	if got.Exchange != "binance" || got.Symbol != "BTC/USDT" {
		t.Errorf("instrument = %s %s, want binance BTC/USDT", got.Exchange, got.Symbol)
	}
	if r.Feeds() != 1 {
		t.Errorf("Feeds = %d, want 1", r.Feeds())
	}

	// A changed value arrives on the next refresh.
	fetcher.set(relayTicker("43300"))
	got = mustReceive(t, sub)
	if got.Last.String() != "43300" {
		t.Errorf("Last = %s, want 43300", got.Last)
	}
}

func TestSubscribeDeliversCachedValueImmediately(t *testing.T) {
	cached := relayTicker("43250.1")
	fetcher := &stubFetcher{ticker: cached, cached: cached, hasCached: true}
	r := newTestRelay(t, Config{}, fetcher)

	sub, err := r.Subscribe("binance", "BTC/USDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := mustReceive(t, sub)
	if got.Last.String() != "43250.1" {
		t.Errorf("Last = %s, want 43250.1", got.Last)
	}

	// Refreshes keep returning the same value; the seed must not be
	// followed by a duplicate.
	mustNotReceive(t, sub, 100*time.Millisecond)
	if n := fetcher.calls.Load(); n < 2 {
		t.Errorf("refresh calls = %d, want at least 2", n)
	}
}

func TestUnchangedValuesSuppressed(t *testing.T) {
	fetcher := &stubFetcher{ticker: relayTicker("43250.1")}
	r := newTestRelay(t, Config{}, fetcher)

	sub, err := r.Subscribe("binance", "BTC/USDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mustReceive(t, sub)
	mustNotReceive(t, sub, 100*time.Millisecond)
	if n := fetcher.calls.Load(); n < 3 {
		t.Errorf("refresh calls = %d, want at least 3", n)
	}
}

func TestPushUnchangedDisablesSuppression(t *testing.T) {
	fetcher := &stubFetcher{ticker: relayTicker("43250.1")}
	r := newTestRelay(t, Config{PushUnchanged: true}, fetcher)

	sub, err := r.Subscribe("binance", "BTC/USDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 3; i++ {
		got := mustReceive(t, sub)
		if got.Last.String() != "43250.1" {
			t.Errorf("update %d: Last = %s, want 43250.1", i, got.Last)
		}
	}
}

func TestLastUnsubscribeStopsFeed(t *testing.T) {
	fetcher := &stubFetcher{ticker: relayTicker("43250.1")}
	r := newTestRelay(t, Config{}, fetcher)

	sub, err := r.Subscribe("binance", "BTC/USDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mustReceive(t, sub)

	sub.Unsubscribe()
	if r.Feeds() != 0 {
		t.Errorf("Feeds = %d, want 0", r.Feeds())
	}

	mustClose(t, sub)
	if err := sub.Err(); err != nil {
		t.Errorf("Err after Unsubscribe = %v, want nil", err)
	}

	// Polling stops: at most one in-flight refresh may still land.
	before := fetcher.calls.Load()
	time.Sleep(80 * time.Millisecond)
	if after := fetcher.calls.Load(); after > before+1 {
		t.Errorf("refresh calls rose from %d to %d after last unsubscribe", before, after)
	}
}

func TestSubscribersShareFeed(t *testing.T) {
	fetcher := &stubFetcher{ticker: relayTicker("43250.1")}
	r := newTestRelay(t, Config{}, fetcher)

	first, err := r.Subscribe("binance", "BTC/USDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mustReceive(t, first)

	// Same instrument, spelled differently, joins the same feed and sees
	// the last sent value right away.
	second, err := r.Subscribe("binance", " btc/usdt ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Feeds() != 1 {
		t.Errorf("Feeds = %d, want 1", r.Feeds())
	}
	got := mustReceive(t, second)
	if got.Last.String() != "43250.1" {
		t.Errorf("Last = %s, want 43250.1", got.Last)
	}

	fetcher.set(relayTicker("43300"))
	for _, sub := range []*Subscription{first, second} {
		got := mustReceive(t, sub)
		if got.Last.String() != "43300" {
			t.Errorf("Last = %s, want 43300", got.Last)
		}
	}

	first.Unsubscribe()
	if r.Feeds() != 1 {
		t.Errorf("Feeds after first unsubscribe = %d, want 1", r.Feeds())
	}
	second.Unsubscribe()
	if r.Feeds() != 0 {
		t.Errorf("Feeds after last unsubscribe = %d, want 0", r.Feeds())
	}
}

func TestFeedDiesAfterConsecutiveFailures(t *testing.T) {
	fetcher := &stubFetcher{err: errors.New("exchange down")}
	r := newTestRelay(t, Config{MaxFailures: 3}, fetcher)

	sub, err := r.Subscribe("binance", "BTC/USDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mustClose(t, sub)

	serr := sub.Err()
	if serr == nil {
		t.Fatal("Err = nil, want terminal error")
	}
	if !strings.Contains(serr.Error(), "3 consecutive refresh failures") {
		t.Errorf("Err = %q, want failure count in message", serr)
	}
	if !strings.Contains(serr.Error(), "exchange down") {
		t.Errorf("Err = %q, want underlying cause in message", serr)
	}
	if n := fetcher.calls.Load(); n != 3 {
		t.Errorf("refresh calls = %d, want 3", n)
	}
	if r.Feeds() != 0 {
		t.Errorf("Feeds = %d, want 0", r.Feeds())
	}
}

func TestTransientFailuresDoNotKillFeed(t *testing.T) {
	fetcher := &stubFetcher{
		ticker:    relayTicker("43250.1"),
		err:       errors.New("exchange down"),
		failFirst: 2,
	}
	r := newTestRelay(t, Config{MaxFailures: 3}, fetcher)

	sub, err := r.Subscribe("binance", "BTC/USDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := mustReceive(t, sub)
	if got.Last.String() != "43250.1" {
		t.Errorf("Last = %s, want 43250.1", got.Last)
	}
	if err := sub.Err(); err != nil {
		t.Errorf("Err = %v, want nil after recovery", err)
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	fetcher := &stubFetcher{ticker: relayTicker("43250.1")}
	r := newTestRelay(t, Config{}, fetcher)

	sub, err := r.Subscribe("binance", "BTC/USDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sub.Unsubscribe()
	sub.Unsubscribe()
	mustClose(t, sub)
	if err := sub.Err(); err != nil {
		t.Errorf("Err = %v, want nil", err)
	}

	// The instrument can be subscribed again on a fresh feed.
	again, err := r.Subscribe("binance", "BTC/USDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mustReceive(t, again)
}

func TestStopEndsSubscriptions(t *testing.T) {
	fetcher := &stubFetcher{ticker: relayTicker("43250.1")}
	r := New(Config{Interval: 10 * time.Millisecond}, fetcher, nil)

	sub, err := r.Subscribe("binance", "BTC/USDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mustReceive(t, sub)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	mustClose(t, sub)
	if !errors.Is(sub.Err(), ErrRelayClosed) {
		t.Errorf("Err = %v, want ErrRelayClosed", sub.Err())
	}

	if _, err := r.Subscribe("binance", "ETH/USDT"); !errors.Is(err, ErrRelayClosed) {
		t.Errorf("Subscribe after Stop = %v, want ErrRelayClosed", err)
	}
	if err := r.Stop(ctx); err != nil {
		t.Errorf("second Stop = %v, want nil", err)
	}
}

func TestSubscribeValidation(t *testing.T) {
	fetcher := &stubFetcher{ticker: relayTicker("43250.1")}
	r := newTestRelay(t, Config{}, fetcher)

	if _, err := r.Subscribe("", "BTC/USDT"); err == nil {
		t.Error("expected error for empty exchange")
	}
	if _, err := r.Subscribe("binance", "  "); err == nil {
		t.Error("expected error for empty symbol")
	}
}
