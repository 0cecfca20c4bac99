package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AakashShah07/Market-Data-Collection-Publishing/internal/model"
)

// DefaultMarketCapURL is the CoinMarketCap professional API endpoint.
const DefaultMarketCapURL = "https://pro-api.coinmarketcap.com"

// MarketCap adapts the CoinMarketCap quote API. It serves as the fallback
// provider: quotes are aggregate market prices, so Bid and Ask are zero and
// only FetchTicker is supported.
type MarketCap struct {
	rest    restClient
	convert string
}

// NewMarketCap returns an adapter authenticating with the given API key.
// Quotes are converted to the given fiat currency, USD when empty.
func NewMarketCap(apiKey, convert string, opts ...Option) *MarketCap {
	if convert == "" {
		convert = "USD"
	}
	m := &MarketCap{
		rest:    newRESTClient(DefaultMarketCapURL, opts...),
		convert: convert,
	}
	m.rest.headers = map[string]string{"X-CMC_PRO_API_KEY": apiKey}
	return m
}

func (m *MarketCap) Name() string { return "coinmarketcap" }

type cmcQuote struct {
	Price       json.Number `json:"price"`
	Volume24h   json.Number `json:"volume_24h"`
	LastUpdated string      `json:"last_updated"`
}

type cmcAsset struct {
	Symbol string              `json:"symbol"`
	Quote  map[string]cmcQuote `json:"quote"`
}

type cmcEnvelope struct {
	Status struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
	Data map[string]cmcAsset `json:"data"`
}

func (m *MarketCap) FetchTicker(ctx context.Context, symbol string) (model.Ticker, error) {
	sym := model.NormalizeSymbol(symbol)
	base := model.BaseAsset(sym)

	q := url.Values{}
	q.Set("symbol", base)
	q.Set("convert", m.convert)

	status, body, err := m.rest.get(ctx, m.Name(), "/v1/cryptocurrency/quotes/latest", q)
	if err != nil {
		return model.Ticker{}, err
	}
	if status != http.StatusOK {
		return model.Ticker{}, m.apiError(status, body)
	}

	var env cmcEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return model.Ticker{}, Errorf(KindConnection, m.Name(), "decode response: %v", err)
	}

	asset, ok := env.Data[base]
	if !ok {
		return model.Ticker{}, Errorf(KindNotFound, m.Name(), "no quote for %s", base)
	}
	quote, ok := asset.Quote[m.convert]
	if !ok {
		return model.Ticker{}, Errorf(KindNotFound, m.Name(), "no %s conversion for %s", m.convert, base)
	}

	price, err := decimal.NewFromString(quote.Price.String())
	if err != nil {
		return model.Ticker{}, Errorf(KindConnection, m.Name(), "malformed price value %q", quote.Price.String())
	}
	volume, err := decimal.NewFromString(quote.Volume24h.String())
	if err != nil {
		return model.Ticker{}, Errorf(KindConnection, m.Name(), "malformed volume value %q", quote.Volume24h.String())
	}

	ts := time.Now().UTC()
	if quote.LastUpdated != "" {
		if parsed, err := time.Parse(time.RFC3339, quote.LastUpdated); err == nil {
			ts = parsed.UTC()
		}
	}

	return model.Ticker{
		Exchange:  m.Name(),
		Symbol:    sym,
		Last:      price,
		High:      price,
		Low:       price,
		Volume:    volume,
		Timestamp: ts,
	}, nil
}

// FetchOHLCV is not available on the quote API tier.
func (m *MarketCap) FetchOHLCV(ctx context.Context, symbol, timeframe string, since time.Time, limit int) ([]model.OHLCVBar, error) {
	return nil, Errorf(KindNotFound, m.Name(), "historical data not supported")
}

// FetchOrderBook is not available: CoinMarketCap aggregates across venues
// and has no order book.
func (m *MarketCap) FetchOrderBook(ctx context.Context, symbol string, depth int) (model.OrderBook, error) {
	return model.OrderBook{}, Errorf(KindNotFound, m.Name(), "order book not supported")
}

func (m *MarketCap) apiError(status int, body []byte) error {
	var env cmcEnvelope
	_ = json.Unmarshal(body, &env)
	msg := env.Status.ErrorMessage
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return Errorf(KindAuth, m.Name(), "%s", msg)
	case status == http.StatusTooManyRequests:
		return Errorf(KindRateLimited, m.Name(), "%s", msg)
	case status == http.StatusBadRequest, status == http.StatusNotFound:
		return Errorf(KindNotFound, m.Name(), "%s", msg)
	case status >= 500:
		return Errorf(KindConnection, m.Name(), "status %d: %s", status, msg)
	default:
		return Errorf(KindConnection, m.Name(), "status %d: %s", status, msg)
	}
}
