package model

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Source identifies which adapter role produced a piece of market data.
type Source int

const (
	// SourcePrimary marks data fetched from the requested exchange.
	SourcePrimary Source = iota

	// SourceFallback marks data served by the fallback provider after the
	// primary exchange could not answer.
	SourceFallback
)

func (s Source) String() string {
	if s == SourceFallback {
		return "fallback"
	}
	return "primary"
}

// MarshalJSON encodes the source as its string form so cached payloads and
// debug output stay readable.
func (s Source) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Source) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v == "fallback" {
		*s = SourceFallback
	} else {
		*s = SourcePrimary
	}
	return nil
}

// Ticker is a point-in-time snapshot of the best bid/ask and last trade for
// one symbol on one exchange. Immutable once constructed; every successful
// fetch produces a fresh instance.
type Ticker struct {
	Exchange  string          `json:"exchange"`
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Last      decimal.Decimal `json:"last"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
	Source    Source          `json:"source"`
}

// Equal reports whether two tickers carry the same timestamp and
// price/volume fields. The relay uses this to suppress unchanged pushes.
func (t Ticker) Equal(o Ticker) bool {
	return t.Exchange == o.Exchange &&
		t.Symbol == o.Symbol &&
		t.Timestamp.Equal(o.Timestamp) &&
		t.Bid.Equal(o.Bid) &&
		t.Ask.Equal(o.Ask) &&
		t.Last.Equal(o.Last) &&
		t.High.Equal(o.High) &&
		t.Low.Equal(o.Low) &&
		t.Volume.Equal(o.Volume)
}

// OHLCVBar is one aggregated bar of historical trading data. A series is
// ordered strictly increasing by timestamp with no duplicates.
type OHLCVBar struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// OrderBookLevel is a single price level on one side of the book.
type OrderBookLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// OrderBook is a depth snapshot. Bids are ordered descending by price,
// asks ascending.
type OrderBook struct {
	Exchange  string           `json:"exchange"`
	Symbol    string           `json:"symbol"`
	Bids      []OrderBookLevel `json:"bids"`
	Asks      []OrderBookLevel `json:"asks"`
	Timestamp time.Time        `json:"timestamp"`
}

// NormalizeSymbol returns the canonical form of a trading pair symbol:
// trimmed and uppercased, BASE/QUOTE (e.g. "BTC/USDT"). Mapping canonical
// symbols to venue-specific pair codes is the adapters' concern.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// BaseAsset returns the base currency of a canonical BASE/QUOTE symbol.
// A symbol without a quote part is returned unchanged.
func BaseAsset(symbol string) string {
	if i := strings.IndexByte(symbol, '/'); i > 0 {
		return symbol[:i]
	}
	return symbol
}
