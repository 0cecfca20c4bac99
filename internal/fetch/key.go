package fetch

import (
	"fmt"
	"time"

	"github.com/AakashShah07/Market-Data-Collection-Publishing/internal/model"
)

// Cache and single-flight keys. One resource maps to exactly one key, so
// concurrent fetches for the same resource coalesce and cache lookups are
// exact.

// TickerKey identifies a ticker resource.
func TickerKey(exchange, symbol string) string {
	return fmt.Sprintf("ticker:%s:%s", exchange, model.NormalizeSymbol(symbol))
}

// OHLCVKey identifies a candle window. A zero since is encoded as 0 so an
// open-ended query and an anchored one never collide.
func OHLCVKey(exchange, symbol, timeframe string, since time.Time, limit int) string {
	var sinceMs int64
	if !since.IsZero() {
		sinceMs = since.UnixMilli()
	}
	return fmt.Sprintf("ohlcv:%s:%s:%s:%d:%d", exchange, model.NormalizeSymbol(symbol), timeframe, sinceMs, limit)
}

// BookKey identifies an order book snapshot at a given depth.
func BookKey(exchange, symbol string, depth int) string {
	return fmt.Sprintf("book:%s:%s:%d", exchange, model.NormalizeSymbol(symbol), depth)
}
