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

// DefaultBinanceURL is the public spot REST endpoint.
const DefaultBinanceURL = "https://api.binance.com"

// Binance adapts the Binance spot REST API to the capability interface.
type Binance struct {
	rest restClient
}

// NewBinance returns a Binance adapter against the public endpoint unless
// overridden with WithBaseURL.
func NewBinance(opts ...Option) *Binance {
	return &Binance{rest: newRESTClient(DefaultBinanceURL, opts...)}
}

func (b *Binance) Name() string { return "binance" }

// pair maps a canonical symbol to Binance's concatenated form
// ("BTC/USDT" -> "BTCUSDT").
func (b *Binance) pair(symbol string) string {
	return strings.ReplaceAll(model.NormalizeSymbol(symbol), "/", "")
}

type binanceTicker struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
	BidPrice  string `json:"bidPrice"`
	AskPrice  string `json:"askPrice"`
	HighPrice string `json:"highPrice"`
	LowPrice  string `json:"lowPrice"`
	Volume    string `json:"volume"`
	CloseTime int64  `json:"closeTime"`
}

type binanceDepth struct {
	Bids [][]string `json:"bids"`
	Asks [][]string `json:"asks"`
}

type binanceAPIError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (b *Binance) FetchTicker(ctx context.Context, symbol string) (model.Ticker, error) {
	sym := model.NormalizeSymbol(symbol)
	q := url.Values{}
	q.Set("symbol", b.pair(sym))

	status, body, err := b.rest.get(ctx, b.Name(), "/api/v3/ticker/24hr", q)
	if err != nil {
		return model.Ticker{}, err
	}
	if status != http.StatusOK {
		return model.Ticker{}, b.apiError(status, body)
	}

	var bt binanceTicker
	if err := json.Unmarshal(body, &bt); err != nil {
		return model.Ticker{}, Errorf(KindConnection, b.Name(), "decode ticker: %v", err)
	}

	t := model.Ticker{
		Exchange:  b.Name(),
		Symbol:    sym,
		Timestamp: time.UnixMilli(bt.CloseTime).UTC(),
	}
	if bt.CloseTime == 0 {
		t.Timestamp = time.Now().UTC()
	}

	for _, f := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"bid", bt.BidPrice, &t.Bid},
		{"ask", bt.AskPrice, &t.Ask},
		{"last", bt.LastPrice, &t.Last},
		{"high", bt.HighPrice, &t.High},
		{"low", bt.LowPrice, &t.Low},
		{"volume", bt.Volume, &t.Volume},
	} {
		d, err := parseDecimal(b.Name(), f.name, f.raw)
		if err != nil {
			return model.Ticker{}, err
		}
		*f.dst = d
	}

	return t, nil
}

func (b *Binance) FetchOHLCV(ctx context.Context, symbol, timeframe string, since time.Time, limit int) ([]model.OHLCVBar, error) {
	q := url.Values{}
	q.Set("symbol", b.pair(symbol))
	q.Set("interval", timeframe)
	if !since.IsZero() {
		q.Set("startTime", strconv.FormatInt(since.UnixMilli(), 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	status, body, err := b.rest.get(ctx, b.Name(), "/api/v3/klines", q)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, b.apiError(status, body)
	}

	// Klines arrive as heterogeneous arrays: open time in ms, then OHLCV as
	// strings, then fields we ignore.
	var rows [][]any
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, Errorf(KindConnection, b.Name(), "decode klines: %v", err)
	}

	bars := make([]model.OHLCVBar, 0, len(rows))
	for _, row := range rows {
		bar, err := b.kline(row)
		if err != nil {
			return nil, err
		}
		bars = append(bars, bar)
	}
	return sortBars(bars), nil
}

func (b *Binance) kline(row []any) (model.OHLCVBar, error) {
	if len(row) < 6 {
		return model.OHLCVBar{}, Errorf(KindConnection, b.Name(), "kline row has %d fields", len(row))
	}

	ms, ok := row[0].(float64)
	if !ok {
		return model.OHLCVBar{}, Errorf(KindConnection, b.Name(), "kline open time is %T", row[0])
	}
	bar := model.OHLCVBar{Timestamp: time.UnixMilli(int64(ms)).UTC()}

	names := [...]string{"open", "high", "low", "close", "volume"}
	dsts := [...]*decimal.Decimal{&bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume}
	for i, name := range names {
		s, ok := row[i+1].(string)
		if !ok {
			return model.OHLCVBar{}, Errorf(KindConnection, b.Name(), "kline %s is %T", name, row[i+1])
		}
		d, err := parseDecimal(b.Name(), name, s)
		if err != nil {
			return model.OHLCVBar{}, err
		}
		*dsts[i] = d
	}

	return bar, nil
}

func (b *Binance) FetchOrderBook(ctx context.Context, symbol string, depth int) (model.OrderBook, error) {
	sym := model.NormalizeSymbol(symbol)
	q := url.Values{}
	q.Set("symbol", b.pair(sym))
	if depth > 0 {
		q.Set("limit", strconv.Itoa(depth))
	}

	status, body, err := b.rest.get(ctx, b.Name(), "/api/v3/depth", q)
	if err != nil {
		return model.OrderBook{}, err
	}
	if status != http.StatusOK {
		return model.OrderBook{}, b.apiError(status, body)
	}

	var bd binanceDepth
	if err := json.Unmarshal(body, &bd); err != nil {
		return model.OrderBook{}, Errorf(KindConnection, b.Name(), "decode depth: %v", err)
	}

	book := model.OrderBook{
		Exchange:  b.Name(),
		Symbol:    sym,
		Timestamp: time.Now().UTC(), // depth snapshots carry no venue timestamp
	}
	if book.Bids, err = b.levels("bid", bd.Bids, depth); err != nil {
		return model.OrderBook{}, err
	}
	if book.Asks, err = b.levels("ask", bd.Asks, depth); err != nil {
		return model.OrderBook{}, err
	}
	sortLevels(book.Bids, true)
	sortLevels(book.Asks, false)

	return book, nil
}

func (b *Binance) levels(side string, rows [][]string, depth int) ([]model.OrderBookLevel, error) {
	if depth > 0 && len(rows) > depth {
		rows = rows[:depth]
	}

	levels := make([]model.OrderBookLevel, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			return nil, Errorf(KindConnection, b.Name(), "%s level has %d fields", side, len(row))
		}
		price, err := parseDecimal(b.Name(), side+" price", row[0])
		if err != nil {
			return nil, err
		}
		size, err := parseDecimal(b.Name(), side+" size", row[1])
		if err != nil {
			return nil, err
		}
		levels = append(levels, model.OrderBookLevel{Price: price, Size: size})
	}
	return levels, nil
}

// apiError maps a non-200 Binance response into the taxonomy. Binance
// serves 418 to auto-banned IPs, so it counts as rate limiting.
func (b *Binance) apiError(status int, body []byte) error {
	var be binanceAPIError
	_ = json.Unmarshal(body, &be)
	msg := be.Msg
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Errorf(KindAuth, b.Name(), "%s", msg)
	case status == http.StatusTooManyRequests || status == http.StatusTeapot:
		return Errorf(KindRateLimited, b.Name(), "%s", msg)
	case status >= 500:
		return Errorf(KindConnection, b.Name(), "status %d: %s", status, msg)
	case status == http.StatusNotFound, be.Code == -1121, be.Code == -1100:
		// Unknown or malformed symbol.
		return Errorf(KindNotFound, b.Name(), "%s", msg)
	default:
		return Errorf(KindConnection, b.Name(), "status %d: %s", status, msg)
	}
}
