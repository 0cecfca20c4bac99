package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AakashShah07/Market-Data-Collection-Publishing/internal/fetch"
	"github.com/AakashShah07/Market-Data-Collection-Publishing/internal/model"
)

// ErrRelayClosed terminates every subscription when the relay shuts down.
var ErrRelayClosed = errors.New("relay closed")

// Fetcher is the slice of the coordinator the relay needs.
type Fetcher interface {
	Ticker(ctx context.Context, exchange, symbol string) (model.Ticker, error)
	PeekTicker(ctx context.Context, exchange, symbol string) (model.Ticker, bool)
}

// Config holds relay configuration.
type Config struct {
	Interval      time.Duration // refresh cadence (default: 10s)
	Timeout       time.Duration // per-refresh timeout (default: 5s)
	PushUnchanged bool          // push refreshes identical to the last sent value
	MaxFailures   int           // consecutive refresh failures before a feed dies (default: 5)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    10 * time.Second,
		Timeout:     5 * time.Second,
		MaxFailures: 5,
	}
}

// Relay maintains one polling feed per subscribed instrument and fans
// refreshed tickers out to subscribers. Feeds exist only while they have
// subscribers: the first Subscribe starts the poll loop, the last
// Unsubscribe stops it.
type Relay struct {
	cfg     Config
	fetcher Fetcher
	logger  *slog.Logger

	mu     sync.Mutex
	feeds  map[string]*feed
	closed bool

	wg sync.WaitGroup
}

// New creates a Relay over the given fetcher.
func New(cfg Config, fetcher Fetcher, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = def.MaxFailures
	}

	return &Relay{
		cfg:     cfg,
		fetcher: fetcher,
		logger:  logger,
		feeds:   make(map[string]*feed),
	}
}

// feed is one instrument's poll loop plus its subscriber set.
type feed struct {
	key      string
	exchange string
	symbol   string

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	subs     map[uuid.UUID]*Subscription
	lastSent model.Ticker
	hasLast  bool
}

// Subscription is one consumer's handle on a ticker stream.
type Subscription struct {
	ID       uuid.UUID
	Exchange string
	Symbol   string

	buf     *buffer[model.Ticker]
	updates chan model.Ticker
	done    chan struct{}
	stop    func()

	mu        sync.Mutex
	err       error
	closeOnce sync.Once
}

// Updates streams refreshed tickers. The channel closes when the
// subscription ends; check Err for the reason.
func (s *Subscription) Updates() <-chan model.Ticker { return s.updates }

// Err reports why the stream ended. It is set before Updates closes and is
// nil after a plain Unsubscribe.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Unsubscribe detaches from the feed. Safe to call more than once.
func (s *Subscription) Unsubscribe() { s.stop() }

// terminate ends the subscription exactly once: records the cause, stops
// the drain goroutine, and lets buffered items flush.
func (s *Subscription) terminate(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
		s.buf.close()
	})
}

// drain moves items from the buffer to the subscriber channel.
func (s *Subscription) drain() {
	defer close(s.updates)
	for {
		t, ok := s.buf.pop()
		if !ok {
			return
		}
		select {
		case s.updates <- t:
		case <-s.done:
			return
		}
	}
}

// Subscribe attaches to the ticker stream for one instrument, creating the
// feed if this is its first subscriber. The most recent known value, if
// any, is delivered immediately.
func (r *Relay) Subscribe(exchange, symbol string) (*Subscription, error) {
	symbol = model.NormalizeSymbol(symbol)
	if exchange == "" || symbol == "" {
		return nil, errors.New("exchange and symbol are required")
	}
	key := fetch.TickerKey(exchange, symbol)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRelayClosed
	}

	f, ok := r.feeds[key]
	if !ok {
		f = r.newFeed(key, exchange, symbol)
		r.feeds[key] = f
		r.wg.Add(1)
		go r.runFeed(f)
		r.logger.Debug("feed started", "exchange", exchange, "symbol", symbol)
	}

	s := &Subscription{
		ID:       uuid.New(),
		Exchange: exchange,
		Symbol:   symbol,
		buf:      newBuffer[model.Ticker](8),
		updates:  make(chan model.Ticker),
		done:     make(chan struct{}),
	}
	s.stop = func() { r.unsubscribe(f, s) }

	f.mu.Lock()
	f.subs[s.ID] = s
	if f.hasLast {
		s.buf.push(f.lastSent)
	}
	f.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		s.drain()
	}()

	return s, nil
}

// Feeds reports how many instruments are currently being polled.
func (r *Relay) Feeds() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.feeds)
}

// Stop tears down every feed and subscription. Waits for loops to finish,
// bounded by ctx.
func (r *Relay) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	feeds := make([]*feed, 0, len(r.feeds))
	for _, f := range r.feeds {
		feeds = append(feeds, f)
	}
	r.feeds = make(map[string]*feed)
	r.mu.Unlock()

	for _, f := range feeds {
		f.cancel()
		for _, s := range f.detachAll() {
			s.terminate(ErrRelayClosed)
		}
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("ticker relay stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// newFeed builds a feed seeded with the cached ticker, so the first
// subscriber sees the most recent value immediately and the first refresh
// of an unchanged price is suppressed rather than duplicated.
func (r *Relay) newFeed(key, exchange, symbol string) *feed {
	ctx, cancel := context.WithCancel(context.Background())
	f := &feed{
		key:      key,
		exchange: exchange,
		symbol:   symbol,
		ctx:      ctx,
		cancel:   cancel,
		subs:     make(map[uuid.UUID]*Subscription),
	}
	if t, ok := r.fetcher.PeekTicker(ctx, exchange, symbol); ok {
		f.lastSent = t
		f.hasLast = true
	}
	return f
}

// unsubscribe removes one subscription; the last one out tears the feed
// down.
func (r *Relay) unsubscribe(f *feed, s *Subscription) {
	r.mu.Lock()
	f.mu.Lock()
	delete(f.subs, s.ID)
	empty := len(f.subs) == 0
	f.mu.Unlock()
	if empty && r.feeds[f.key] == f {
		delete(r.feeds, f.key)
		f.cancel()
		r.logger.Debug("feed stopped", "exchange", f.exchange, "symbol", f.symbol)
	}
	r.mu.Unlock()

	s.terminate(nil)
}

// runFeed refreshes immediately, then on every tick. The loop ends when the
// feed is cancelled or fails MaxFailures times in a row.
func (r *Relay) runFeed(f *feed) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	failures := 0
	for {
		if err := r.refresh(f); err != nil {
			failures++
			r.logger.Warn("ticker refresh failed",
				"exchange", f.exchange,
				"symbol", f.symbol,
				"consecutive", failures,
				"error", err,
			)
			if failures >= r.cfg.MaxFailures {
				r.terminateFeed(f, fmt.Errorf("stream ended after %d consecutive refresh failures: %w", failures, err))
				return
			}
		} else {
			failures = 0
		}

		select {
		case <-f.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// refresh fetches the current ticker and publishes it to the feed.
func (r *Relay) refresh(f *feed) error {
	ctx, cancel := context.WithTimeout(f.ctx, r.cfg.Timeout)
	defer cancel()

	t, err := r.fetcher.Ticker(ctx, f.exchange, f.symbol)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if !r.cfg.PushUnchanged && f.hasLast && t.Equal(f.lastSent) {
		return nil
	}
	f.lastSent = t
	f.hasLast = true
	for _, s := range f.subs {
		s.buf.push(t)
	}
	return nil
}

// terminateFeed removes a failed feed and ends its subscriptions with the
// terminal cause.
func (r *Relay) terminateFeed(f *feed, cause error) {
	r.logger.Error("feed terminated",
		"exchange", f.exchange,
		"symbol", f.symbol,
		"error", cause,
	)

	r.mu.Lock()
	if r.feeds[f.key] == f {
		delete(r.feeds, f.key)
	}
	r.mu.Unlock()
	f.cancel()

	for _, s := range f.detachAll() {
		s.terminate(cause)
	}
}

// detachAll empties the subscriber set and returns the removed
// subscriptions.
func (f *feed) detachAll() []*Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()

	subs := make([]*Subscription, 0, len(f.subs))
	for _, s := range f.subs {
		subs = append(subs, s)
	}
	f.subs = make(map[uuid.UUID]*Subscription)
	return subs
}
