package source

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AakashShah07/Market-Data-Collection-Publishing/internal/model"
)

// Adapter is the uniform capability interface over one upstream exchange or
// fallback provider. Implementations normalize venue payload shapes into the
// canonical model and venue errors into the taxonomy in errors.go. Callers
// never branch on a concrete adapter beyond its primary or fallback role.
type Adapter interface {
	// Name returns the registry name of this source (e.g. "binance").
	Name() string

	// FetchTicker returns the current ticker for a canonical symbol.
	FetchTicker(ctx context.Context, symbol string) (model.Ticker, error)

	// FetchOHLCV returns up to limit bars of aggregated history starting at
	// since, ordered strictly increasing by timestamp.
	FetchOHLCV(ctx context.Context, symbol, timeframe string, since time.Time, limit int) ([]model.OHLCVBar, error)

	// FetchOrderBook returns a depth snapshot with at most depth levels per
	// side, bids descending and asks ascending by price.
	FetchOrderBook(ctx context.Context, symbol string, depth int) (model.OrderBook, error)
}

// sortBars orders bars strictly increasing by timestamp and drops duplicate
// timestamps (first occurrence wins). Runs in place.
func sortBars(bars []model.OHLCVBar) []model.OHLCVBar {
	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
	out := bars[:0]
	for _, b := range bars {
		if len(out) > 0 && !b.Timestamp.After(out[len(out)-1].Timestamp) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// sortLevels orders one side of a book: bids descending, asks ascending.
func sortLevels(levels []model.OrderBookLevel, descending bool) {
	sort.SliceStable(levels, func(i, j int) bool {
		if descending {
			return levels[i].Price.GreaterThan(levels[j].Price)
		}
		return levels[i].Price.LessThan(levels[j].Price)
	})
}

// parseDecimal parses a venue price/size string. Failures count as
// connection-kind errors: a garbled body usually means an intermediary
// answered instead of the exchange.
func parseDecimal(exchange, field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, Errorf(KindConnection, exchange, "malformed %s value %q", field, s)
	}
	return d, nil
}
