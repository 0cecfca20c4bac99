package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/AakashShah07/Market-Data-Collection-Publishing/internal/cache"
	"github.com/AakashShah07/Market-Data-Collection-Publishing/internal/model"
	"github.com/AakashShah07/Market-Data-Collection-Publishing/internal/retry"
	"github.com/AakashShah07/Market-Data-Collection-Publishing/internal/source"
)

// batchConcurrency bounds how many fetches a batch runs at once.
const batchConcurrency = 8

// AllSourcesError reports that the primary and the fallback both failed.
// Both causes stay visible through Unwrap.
type AllSourcesError struct {
	PrimarySource  string
	FallbackSource string
	PrimaryErr     error
	FallbackErr    error
}

func (e *AllSourcesError) Error() string {
	return fmt.Sprintf("all sources failed: %s: %v; %s: %v",
		e.PrimarySource, e.PrimaryErr, e.FallbackSource, e.FallbackErr)
}

func (e *AllSourcesError) Unwrap() []error {
	return []error{e.PrimaryErr, e.FallbackErr}
}

// TTLConfig holds the freshness window per resource type.
type TTLConfig struct {
	Ticker    time.Duration
	OrderBook time.Duration
	OHLCV     time.Duration
}

// DefaultTTLConfig returns the standard windows: tickers are hot, books
// hotter, candle history barely moves.
func DefaultTTLConfig() TTLConfig {
	return TTLConfig{
		Ticker:    10 * time.Second,
		OrderBook: 5 * time.Second,
		OHLCV:     5 * time.Minute,
	}
}

// Config carries the coordinator knobs. Collaborators are passed to New
// directly.
type Config struct {
	// Fallback serves a request after the primary source is exhausted or
	// does not know the symbol. Nil disables falling back.
	Fallback source.Adapter

	// Policy wraps every adapter call. Zero value means retry defaults.
	Policy retry.Policy

	// TTL overrides the per-resource cache windows. Zero fields get
	// defaults.
	TTL TTLConfig
}

// Stats is a point-in-time snapshot of the coordinator counters.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Fetches   uint64 `json:"fetches"`
	Fallbacks uint64 `json:"fallbacks"`
	Failures  uint64 `json:"failures"`
}

// Instrument names one resource owner: an exchange and a symbol on it.
type Instrument struct {
	Exchange string `json:"exchange"`
	Symbol   string `json:"symbol"`
}

// TickerResult is one slot of a batch response.
type TickerResult struct {
	Instrument
	Ticker model.Ticker
	Err    error
}

// Coordinator funnels all reads through the cache and deduplicates
// concurrent fetches for the same resource, so one upstream call serves
// every concurrent caller.
type Coordinator struct {
	cfg      Config
	registry *source.Registry
	cache    cache.Store
	logger   *slog.Logger

	group singleflight.Group

	hits      atomic.Uint64
	misses    atomic.Uint64
	fetches   atomic.Uint64
	fallbacks atomic.Uint64
	failures  atomic.Uint64
}

// New creates a Coordinator over the given registry and cache.
func New(cfg Config, registry *source.Registry, store cache.Store, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Policy.MaxAttempts == 0 {
		cfg.Policy = retry.DefaultPolicy()
	}
	def := DefaultTTLConfig()
	if cfg.TTL.Ticker <= 0 {
		cfg.TTL.Ticker = def.Ticker
	}
	if cfg.TTL.OrderBook <= 0 {
		cfg.TTL.OrderBook = def.OrderBook
	}
	if cfg.TTL.OHLCV <= 0 {
		cfg.TTL.OHLCV = def.OHLCV
	}

	return &Coordinator{
		cfg:      cfg,
		registry: registry,
		cache:    store,
		logger:   logger,
	}
}

// Ticker returns the current ticker for a symbol on an exchange, from cache
// when fresh.
func (c *Coordinator) Ticker(ctx context.Context, exchange, symbol string) (model.Ticker, error) {
	symbol = model.NormalizeSymbol(symbol)
	return fetchOne(ctx, c, exchange, TickerKey(exchange, symbol), c.cfg.TTL.Ticker,
		func(ctx context.Context, a source.Adapter) (model.Ticker, error) {
			return a.FetchTicker(ctx, symbol)
		},
		func(t *model.Ticker, s model.Source) { t.Source = s },
	)
}

// Historical returns candles for a symbol, from cache when fresh.
func (c *Coordinator) Historical(ctx context.Context, exchange, symbol, timeframe string, since time.Time, limit int) ([]model.OHLCVBar, error) {
	symbol = model.NormalizeSymbol(symbol)
	return fetchOne(ctx, c, exchange, OHLCVKey(exchange, symbol, timeframe, since, limit), c.cfg.TTL.OHLCV,
		func(ctx context.Context, a source.Adapter) ([]model.OHLCVBar, error) {
			return a.FetchOHLCV(ctx, symbol, timeframe, since, limit)
		},
		nil,
	)
}

// OrderBook returns an order book snapshot, from cache when fresh.
func (c *Coordinator) OrderBook(ctx context.Context, exchange, symbol string, depth int) (model.OrderBook, error) {
	symbol = model.NormalizeSymbol(symbol)
	return fetchOne(ctx, c, exchange, BookKey(exchange, symbol, depth), c.cfg.TTL.OrderBook,
		func(ctx context.Context, a source.Adapter) (model.OrderBook, error) {
			return a.FetchOrderBook(ctx, symbol, depth)
		},
		nil,
	)
}

// PeekTicker reads the cached ticker without fetching. Used to hand new
// relay subscribers the most recent value immediately.
func (c *Coordinator) PeekTicker(ctx context.Context, exchange, symbol string) (model.Ticker, bool) {
	raw, ok := c.cache.Get(ctx, TickerKey(exchange, model.NormalizeSymbol(symbol)))
	if !ok {
		return model.Ticker{}, false
	}
	var t model.Ticker
	if err := json.Unmarshal(raw, &t); err != nil {
		return model.Ticker{}, false
	}
	return t, true
}

// TickerBatch fetches several tickers concurrently. The result slice is
// index-aligned with reqs; each slot carries its own error and one failed
// instrument never affects the others.
func (c *Coordinator) TickerBatch(ctx context.Context, reqs []Instrument) []TickerResult {
	results := make([]TickerResult, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			t, err := c.Ticker(gctx, req.Exchange, req.Symbol)
			results[i] = TickerResult{Instrument: req, Ticker: t, Err: err}
			return nil
		})
	}
	g.Wait()

	return results
}

// Stats returns a snapshot of the counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Fetches:   c.fetches.Load(),
		Fallbacks: c.fallbacks.Load(),
		Failures:  c.failures.Load(),
	}
}

// shouldFallback reports whether a primary failure is worth retrying on the
// fallback source. Exhausted retry budgets and unknown symbols are; auth
// and other terminal failures are not.
func shouldFallback(err error) bool {
	var ex *retry.ExhaustedError
	return errors.As(err, &ex) || source.IsNotFound(err)
}

// fetchOne is the single-key flow shared by all resource types: cache
// lookup, then a deduplicated fetch with retry and optional fallback, then
// a cache write.
//
// The fetch itself runs on a context detached from the caller: a caller
// that gives up does not cancel a flight other callers share, and the
// result is cached either way.
func fetchOne[T any](
	ctx context.Context,
	c *Coordinator,
	exchange, key string,
	ttl time.Duration,
	call func(context.Context, source.Adapter) (T, error),
	mark func(*T, model.Source),
) (T, error) {
	var zero T

	if raw, ok := c.cache.Get(ctx, key); ok {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			c.hits.Add(1)
			return v, nil
		}
		c.logger.Warn("dropping undecodable cache entry", "key", key)
		c.cache.Invalidate(ctx, key)
	}
	c.misses.Add(1)

	ch := c.group.DoChan(key, func() (any, error) {
		dctx := context.WithoutCancel(ctx)
		c.fetches.Add(1)

		primary, err := c.registry.Get(exchange)
		if err != nil {
			c.failures.Add(1)
			return nil, err
		}

		v, perr := retry.Do(dctx, c.cfg.Policy, func(ctx context.Context) (T, error) {
			return call(ctx, primary)
		})
		if perr == nil {
			if mark != nil {
				mark(&v, model.SourcePrimary)
			}
			c.store(dctx, key, v, ttl)
			return v, nil
		}

		if c.cfg.Fallback == nil || !shouldFallback(perr) {
			c.failures.Add(1)
			return nil, perr
		}

		c.fallbacks.Add(1)
		c.logger.Debug("primary source failed, trying fallback",
			"exchange", exchange,
			"fallback", c.cfg.Fallback.Name(),
			"key", key,
			"error", perr,
		)

		fv, ferr := retry.Do(dctx, c.cfg.Policy, func(ctx context.Context) (T, error) {
			return call(ctx, c.cfg.Fallback)
		})
		if ferr != nil {
			c.failures.Add(1)
			return nil, &AllSourcesError{
				PrimarySource:  exchange,
				FallbackSource: c.cfg.Fallback.Name(),
				PrimaryErr:     perr,
				FallbackErr:    ferr,
			}
		}

		if mark != nil {
			mark(&fv, model.SourceFallback)
		}
		c.store(dctx, key, fv, ttl)
		return fv, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

// store marshals and caches a fetched value. Cache failures are logged and
// swallowed: the caller already has the data.
func (c *Coordinator) store(ctx context.Context, key string, v any, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("marshal for cache failed", "key", key, "error", err)
		return
	}
	if err := c.cache.Set(ctx, key, raw, ttl); err != nil {
		c.logger.Warn("cache write failed", "key", key, "error", err)
	}
}
