package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AakashShah07/Market-Data-Collection-Publishing/internal/model"
)

// DefaultKrakenURL is the public REST endpoint.
const DefaultKrakenURL = "https://api.kraken.com"

// krakenAssetAliases maps canonical asset codes to Kraken's legacy names.
var krakenAssetAliases = map[string]string{
	"BTC":  "XBT",
	"DOGE": "XDG",
}

// krakenIntervals maps canonical timeframes to Kraken's interval minutes.
var krakenIntervals = map[string]int{
	"1m":  1,
	"5m":  5,
	"15m": 15,
	"30m": 30,
	"1h":  60,
	"4h":  240,
	"1d":  1440,
	"1w":  10080,
}

// Kraken adapts the Kraken public REST API to the capability interface.
type Kraken struct {
	rest restClient
}

// NewKraken returns a Kraken adapter against the public endpoint unless
// overridden with WithBaseURL.
func NewKraken(opts ...Option) *Kraken {
	return &Kraken{rest: newRESTClient(DefaultKrakenURL, opts...)}
}

func (k *Kraken) Name() string { return "kraken" }

// pair maps a canonical symbol to Kraken's concatenated form with legacy
// asset names ("BTC/USDT" -> "XBTUSDT").
func (k *Kraken) pair(symbol string) string {
	sym := model.NormalizeSymbol(symbol)
	base, quote, found := strings.Cut(sym, "/")
	if !found {
		return sym
	}
	if alias, ok := krakenAssetAliases[base]; ok {
		base = alias
	}
	if alias, ok := krakenAssetAliases[quote]; ok {
		quote = alias
	}
	return base + quote
}

// krakenEnvelope is the wrapper around every Kraken response. Failures
// arrive as error strings with a 200 status.
type krakenEnvelope struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

type krakenTicker struct {
	Ask    []string `json:"a"` // [price, whole lot volume, lot volume]
	Bid    []string `json:"b"`
	Last   []string `json:"c"` // [price, lot volume]
	High   []string `json:"h"` // [today, last 24h]
	Low    []string `json:"l"`
	Volume []string `json:"v"`
}

func (k *Kraken) envelope(ctx context.Context, path string, q url.Values) (json.RawMessage, error) {
	status, body, err := k.rest.get(ctx, k.Name(), path, q)
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusTooManyRequests:
		return nil, Errorf(KindRateLimited, k.Name(), "%s", http.StatusText(status))
	case status != http.StatusOK:
		return nil, Errorf(KindConnection, k.Name(), "status %d", status)
	}

	var env krakenEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, Errorf(KindConnection, k.Name(), "decode response: %v", err)
	}
	if len(env.Error) > 0 {
		return nil, k.apiError(env.Error)
	}
	return env.Result, nil
}

// apiError maps Kraken's error strings (e.g. "EQuery:Unknown asset pair")
// into the taxonomy.
func (k *Kraken) apiError(msgs []string) error {
	msg := strings.Join(msgs, "; ")
	switch {
	case strings.Contains(msg, "Unknown asset"):
		return Errorf(KindNotFound, k.Name(), "%s", msg)
	case strings.Contains(msg, "Rate limit"), strings.Contains(msg, "Too many requests"):
		return Errorf(KindRateLimited, k.Name(), "%s", msg)
	case strings.Contains(msg, "Invalid key"), strings.Contains(msg, "Invalid signature"),
		strings.Contains(msg, "Permission denied"):
		return Errorf(KindAuth, k.Name(), "%s", msg)
	default:
		return Errorf(KindConnection, k.Name(), "%s", msg)
	}
}

func (k *Kraken) FetchTicker(ctx context.Context, symbol string) (model.Ticker, error) {
	sym := model.NormalizeSymbol(symbol)
	q := url.Values{}
	q.Set("pair", k.pair(sym))

	result, err := k.envelope(ctx, "/0/public/Ticker", q)
	if err != nil {
		return model.Ticker{}, err
	}

	// The result is keyed by Kraken's own pair spelling, which can differ
	// from the requested one (XXBTZUSD for XBTUSD). A single pair was
	// asked for, so take the single entry.
	var pairs map[string]krakenTicker
	if err := json.Unmarshal(result, &pairs); err != nil {
		return model.Ticker{}, Errorf(KindConnection, k.Name(), "decode ticker: %v", err)
	}
	if len(pairs) == 0 {
		return model.Ticker{}, Errorf(KindNotFound, k.Name(), "no ticker for %s", sym)
	}

	var kt krakenTicker
	for _, v := range pairs {
		kt = v
		break
	}

	t := model.Ticker{
		Exchange:  k.Name(),
		Symbol:    sym,
		Timestamp: time.Now().UTC(), // Kraken tickers carry no timestamp
	}

	// High, low and volume use the 24h window (index 1); prices use the
	// most recent value (index 0).
	for _, f := range []struct {
		name string
		arr  []string
		idx  int
		dst  *decimal.Decimal
	}{
		{"bid", kt.Bid, 0, &t.Bid},
		{"ask", kt.Ask, 0, &t.Ask},
		{"last", kt.Last, 0, &t.Last},
		{"high", kt.High, 1, &t.High},
		{"low", kt.Low, 1, &t.Low},
		{"volume", kt.Volume, 1, &t.Volume},
	} {
		if len(f.arr) <= f.idx {
			return model.Ticker{}, Errorf(KindConnection, k.Name(), "ticker %s has %d fields", f.name, len(f.arr))
		}
		d, err := parseDecimal(k.Name(), f.name, f.arr[f.idx])
		if err != nil {
			return model.Ticker{}, err
		}
		*f.dst = d
	}

	return t, nil
}

func (k *Kraken) FetchOHLCV(ctx context.Context, symbol, timeframe string, since time.Time, limit int) ([]model.OHLCVBar, error) {
	interval, ok := krakenIntervals[timeframe]
	if !ok {
		return nil, Errorf(KindNotFound, k.Name(), "unsupported timeframe %q", timeframe)
	}

	q := url.Values{}
	q.Set("pair", k.pair(symbol))
	q.Set("interval", strconv.Itoa(interval))
	if !since.IsZero() {
		q.Set("since", strconv.FormatInt(since.Unix(), 10))
	}

	result, err := k.envelope(ctx, "/0/public/OHLC", q)
	if err != nil {
		return nil, err
	}

	// The result mixes the pair key (rows) with a "last" cursor.
	var sections map[string]json.RawMessage
	if err := json.Unmarshal(result, &sections); err != nil {
		return nil, Errorf(KindConnection, k.Name(), "decode ohlc: %v", err)
	}

	var bars []model.OHLCVBar
	for key, raw := range sections {
		if key == "last" {
			continue
		}
		var rows [][]any
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, Errorf(KindConnection, k.Name(), "decode ohlc rows: %v", err)
		}
		for _, row := range rows {
			bar, err := k.ohlcRow(row)
			if err != nil {
				return nil, err
			}
			bars = append(bars, bar)
		}
	}

	bars = sortBars(bars)
	if limit > 0 && len(bars) > limit {
		bars = bars[:limit] // Kraken has no limit parameter
	}
	return bars, nil
}

// ohlcRow parses [time, open, high, low, close, vwap, volume, count].
func (k *Kraken) ohlcRow(row []any) (model.OHLCVBar, error) {
	if len(row) < 7 {
		return model.OHLCVBar{}, Errorf(KindConnection, k.Name(), "ohlc row has %d fields", len(row))
	}

	sec, ok := row[0].(float64)
	if !ok {
		return model.OHLCVBar{}, Errorf(KindConnection, k.Name(), "ohlc time is %T", row[0])
	}
	bar := model.OHLCVBar{Timestamp: time.Unix(int64(sec), 0).UTC()}

	// Index 5 is the vwap, which the bar does not carry.
	for _, f := range []struct {
		name string
		idx  int
		dst  *decimal.Decimal
	}{
		{"open", 1, &bar.Open},
		{"high", 2, &bar.High},
		{"low", 3, &bar.Low},
		{"close", 4, &bar.Close},
		{"volume", 6, &bar.Volume},
	} {
		s, ok := row[f.idx].(string)
		if !ok {
			return model.OHLCVBar{}, Errorf(KindConnection, k.Name(), "ohlc %s is %T", f.name, row[f.idx])
		}
		d, err := parseDecimal(k.Name(), f.name, s)
		if err != nil {
			return model.OHLCVBar{}, err
		}
		*f.dst = d
	}

	return bar, nil
}

func (k *Kraken) FetchOrderBook(ctx context.Context, symbol string, depth int) (model.OrderBook, error) {
	sym := model.NormalizeSymbol(symbol)
	q := url.Values{}
	q.Set("pair", k.pair(sym))
	if depth > 0 {
		q.Set("count", strconv.Itoa(depth))
	}

	result, err := k.envelope(ctx, "/0/public/Depth", q)
	if err != nil {
		return model.OrderBook{}, err
	}

	var pairs map[string]struct {
		Bids [][]any `json:"bids"`
		Asks [][]any `json:"asks"`
	}
	if err := json.Unmarshal(result, &pairs); err != nil {
		return model.OrderBook{}, Errorf(KindConnection, k.Name(), "decode depth: %v", err)
	}
	if len(pairs) == 0 {
		return model.OrderBook{}, Errorf(KindNotFound, k.Name(), "no depth for %s", sym)
	}

	book := model.OrderBook{
		Exchange:  k.Name(),
		Symbol:    sym,
		Timestamp: time.Now().UTC(),
	}
	for _, side := range pairs {
		if book.Bids, err = k.levels("bid", side.Bids, depth); err != nil {
			return model.OrderBook{}, err
		}
		if book.Asks, err = k.levels("ask", side.Asks, depth); err != nil {
			return model.OrderBook{}, err
		}
		break
	}
	sortLevels(book.Bids, true)
	sortLevels(book.Asks, false)

	return book, nil
}

// levels parses [price, volume, timestamp] rows.
func (k *Kraken) levels(side string, rows [][]any, depth int) ([]model.OrderBookLevel, error) {
	if depth > 0 && len(rows) > depth {
		rows = rows[:depth]
	}

	levels := make([]model.OrderBookLevel, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			return nil, Errorf(KindConnection, k.Name(), "%s level has %d fields", side, len(row))
		}
		ps, ok := row[0].(string)
		if !ok {
			return nil, Errorf(KindConnection, k.Name(), "%s price is %T", side, row[0])
		}
		vs, ok := row[1].(string)
		if !ok {
			return nil, Errorf(KindConnection, k.Name(), "%s size is %T", side, row[1])
		}
		price, err := parseDecimal(k.Name(), side+" price", ps)
		if err != nil {
			return nil, err
		}
		size, err := parseDecimal(k.Name(), side+" size", vs)
		if err != nil {
			return nil, err
		}
		levels = append(levels, model.OrderBookLevel{Price: price, Size: size})
	}
	return levels, nil
}
