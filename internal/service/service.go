package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AakashShah07/Market-Data-Collection-Publishing/internal/fetch"
	"github.com/AakashShah07/Market-Data-Collection-Publishing/internal/model"
	"github.com/AakashShah07/Market-Data-Collection-Publishing/internal/relay"
	"github.com/AakashShah07/Market-Data-Collection-Publishing/internal/source"
)

// Defaults and limits applied to caller input.
const (
	DefaultTimeframe = "1h"
	DefaultLimit     = 100
	MaxLimit         = 1000
	DefaultDepth     = 25
	MaxDepth         = 100
)

// validTimeframes are the bar sizes every adapter is expected to serve.
var validTimeframes = map[string]bool{
	"1m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "4h": true, "1d": true, "1w": true,
}

// Service is the single entry point for market-data operations. It owns no
// state of its own: it validates caller input, then delegates to the fetch
// coordinator for reads and the ticker relay for streams.
type Service struct {
	registry    *source.Registry
	coordinator *fetch.Coordinator
	relay       *relay.Relay
	logger      *slog.Logger
}

// New creates a Service over the given components.
func New(registry *source.Registry, coordinator *fetch.Coordinator, r *relay.Relay, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		registry:    registry,
		coordinator: coordinator,
		relay:       r,
		logger:      logger,
	}
}

// Ticker returns the current ticker for one instrument. Exchange names are
// case-insensitive at this surface.
func (s *Service) Ticker(ctx context.Context, exchange, symbol string) (model.Ticker, error) {
	if err := validateInstrument(exchange, symbol); err != nil {
		return model.Ticker{}, err
	}
	return s.coordinator.Ticker(ctx, normalizeExchange(exchange), symbol)
}

// TickerBatch fetches several instruments concurrently. The result slice is
// index-aligned with pairs; slots that fail validation or fetching carry
// the error and never affect their neighbours.
func (s *Service) TickerBatch(ctx context.Context, pairs []fetch.Instrument) []fetch.TickerResult {
	results := make([]fetch.TickerResult, len(pairs))
	valid := make([]fetch.Instrument, 0, len(pairs))
	slots := make([]int, 0, len(pairs))

	for i, p := range pairs {
		results[i].Instrument = p
		if err := validateInstrument(p.Exchange, p.Symbol); err != nil {
			results[i].Err = err
			continue
		}
		valid = append(valid, fetch.Instrument{
			Exchange: normalizeExchange(p.Exchange),
			Symbol:   p.Symbol,
		})
		slots = append(slots, i)
	}

	for j, res := range s.coordinator.TickerBatch(ctx, valid) {
		results[slots[j]] = res
	}
	return results
}

// Historical returns aggregated OHLCV bars. An empty timeframe defaults to
// DefaultTimeframe, a zero limit to DefaultLimit.
func (s *Service) Historical(ctx context.Context, exchange, symbol, timeframe string, since time.Time, limit int) ([]model.OHLCVBar, error) {
	if err := validateInstrument(exchange, symbol); err != nil {
		return nil, err
	}
	if timeframe == "" {
		timeframe = DefaultTimeframe
	}
	if !validTimeframes[timeframe] {
		return nil, fmt.Errorf("invalid timeframe %q", timeframe)
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		return nil, fmt.Errorf("limit must be at most %d", MaxLimit)
	}
	return s.coordinator.Historical(ctx, normalizeExchange(exchange), symbol, timeframe, since, limit)
}

// OrderBook returns a depth snapshot. A zero depth defaults to DefaultDepth.
func (s *Service) OrderBook(ctx context.Context, exchange, symbol string, depth int) (model.OrderBook, error) {
	if err := validateInstrument(exchange, symbol); err != nil {
		return model.OrderBook{}, err
	}
	if depth <= 0 {
		depth = DefaultDepth
	}
	if depth > MaxDepth {
		return model.OrderBook{}, fmt.Errorf("depth must be at most %d", MaxDepth)
	}
	return s.coordinator.OrderBook(ctx, normalizeExchange(exchange), symbol, depth)
}

// Subscribe opens a live ticker stream for one instrument. The caller ends
// it with Unsubscribe on the returned handle.
func (s *Service) Subscribe(exchange, symbol string) (*relay.Subscription, error) {
	if err := validateInstrument(exchange, symbol); err != nil {
		return nil, err
	}
	sub, err := s.relay.Subscribe(normalizeExchange(exchange), symbol)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("subscription created",
		"id", sub.ID,
		"exchange", sub.Exchange,
		"symbol", sub.Symbol,
	)
	return sub, nil
}

// Exchanges lists the registered source names in sorted order.
func (s *Service) Exchanges() []string {
	return s.registry.Names()
}

func normalizeExchange(exchange string) string {
	return strings.ToLower(strings.TrimSpace(exchange))
}

// validateInstrument rejects caller mistakes before they reach a source.
func validateInstrument(exchange, symbol string) error {
	if strings.TrimSpace(exchange) == "" {
		return errors.New("exchange is required")
	}
	if model.NormalizeSymbol(symbol) == "" {
		return errors.New("symbol is required")
	}
	return nil
}
