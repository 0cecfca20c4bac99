package source

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AakashShah07/Market-Data-Collection-Publishing/internal/model"
)

const (
	livePingInterval = 15 * time.Second
	liveReadTimeout  = 30 * time.Second
	liveWriteTimeout = 5 * time.Second
)

// LiveConfig configures the streaming adapter.
type LiveConfig struct {
	// Name is the exchange name the adapter registers under, "live" when empty.
	Name string

	// URL is the websocket endpoint, e.g. "wss://stream.binance.com:9443".
	URL string

	// Symbols are the canonical pairs to watch.
	Symbols []string

	// StaleAfter bounds how old the last tick may be before FetchTicker
	// reports a connection failure. Defaults to 30s.
	StaleAfter time.Duration

	// ReconnectBaseDelay and ReconnectMaxDelay bound the backoff between
	// reconnection attempts. Default to 1s and 30s.
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
}

// Live serves tickers from a streaming multiplexed websocket feed. A single
// connection carries all watched symbols; the most recent tick per symbol is
// kept in memory and FetchTicker reads from that, so calls never touch the
// network.
//
// Historical and depth queries are not available over the stream.
type Live struct {
	cfg    LiveConfig
	logger *slog.Logger

	// watch maps the venue spelling (BTCUSDT) to the canonical one.
	watch map[string]string
	// pairs is the canonical watch set.
	pairs map[string]struct{}

	mu    sync.RWMutex
	ticks map[string]liveEntry

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

type liveEntry struct {
	ticker     model.Ticker
	receivedAt time.Time
}

// liveFrame is a combined-stream envelope. Raw single-stream payloads arrive
// without it.
type liveFrame struct {
	Stream string   `json:"stream"`
	Data   liveTick `json:"data"`
}

type liveTick struct {
	EventTime int64  `json:"E"` // ms
	Symbol    string `json:"s"`
	Last      string `json:"c"`
	Bid       string `json:"b"`
	Ask       string `json:"a"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Volume    string `json:"v"`
}

// NewLive returns a streaming adapter watching cfg.Symbols. Start must be
// called before the adapter serves data.
func NewLive(cfg LiveConfig, logger *slog.Logger) *Live {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "live"
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Second
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = time.Second
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = 30 * time.Second
	}

	l := &Live{
		cfg:    cfg,
		logger: logger,
		watch:  make(map[string]string, len(cfg.Symbols)),
		pairs:  make(map[string]struct{}, len(cfg.Symbols)),
		ticks:  make(map[string]liveEntry),
	}
	for _, s := range cfg.Symbols {
		sym := model.NormalizeSymbol(s)
		l.watch[strings.ReplaceAll(sym, "/", "")] = sym
		l.pairs[sym] = struct{}{}
	}
	return l
}

func (l *Live) Name() string { return l.cfg.Name }

// streamURL builds the combined-stream endpoint for all watched symbols.
func (l *Live) streamURL() string {
	streams := make([]string, 0, len(l.cfg.Symbols))
	for venue := range l.watch {
		streams = append(streams, strings.ToLower(venue)+"@ticker")
	}
	return l.cfg.URL + "/stream?streams=" + strings.Join(streams, "/")
}

// Start connects the feed and begins consuming ticks. The connection is
// re-established with backoff until Stop is called.
func (l *Live) Start(ctx context.Context) error {
	if l.cfg.URL == "" {
		return errors.New("live feed URL is empty")
	}
	if l.started {
		return errors.New("live feed already started")
	}
	l.started = true

	l.ctx, l.cancel = context.WithCancel(ctx)

	l.wg.Add(1)
	go l.run()

	l.logger.Info("live feed started", "url", l.cfg.URL, "symbols", len(l.pairs))
	return nil
}

// Stop disconnects the feed and waits for its goroutines, bounded by ctx.
func (l *Live) Stop(ctx context.Context) error {
	if l.cancel != nil {
		l.cancel()
	}

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		l.logger.Warn("shutdown timeout, abandoning live feed goroutines")
	}

	l.logger.Info("live feed stopped")
	return nil
}

// run dials and reads in a loop, doubling the reconnect delay on failure and
// resetting it after a successful connect.
func (l *Live) run() {
	defer l.wg.Done()

	delay := l.cfg.ReconnectBaseDelay
	for {
		conn, err := l.dial()
		if err != nil {
			l.logger.Warn("live feed dial failed", "url", l.cfg.URL, "error", err)
			select {
			case <-l.ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > l.cfg.ReconnectMaxDelay {
				delay = l.cfg.ReconnectMaxDelay
			}
			continue
		}

		delay = l.cfg.ReconnectBaseDelay
		l.logger.Debug("live feed connected", "url", l.cfg.URL)

		l.readLoop(conn)
		conn.Close()

		select {
		case <-l.ctx.Done():
			return
		default:
		}
	}
}

func (l *Live) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(l.ctx, l.streamURL(), nil)
	return conn, err
}

// readLoop consumes frames until the connection breaks or Stop is called.
func (l *Live) readLoop(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(liveReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(liveReadTimeout))
	})

	stop := make(chan struct{})
	defer close(stop)
	l.wg.Add(1)
	go l.pingLoop(conn, stop)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-l.ctx.Done():
			default:
				l.logger.Warn("live feed read failed", "error", err)
			}
			return
		}
		l.handleFrame(data)
	}
}

// pingLoop keeps the connection alive and closes it when Stop is called so
// the blocked read returns.
func (l *Live) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	defer l.wg.Done()

	ticker := time.NewTicker(livePingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			conn.Close()
			return
		case <-stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(liveWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				l.logger.Debug("failed to send ping", "error", err)
			}
		}
	}
}

// handleFrame parses one tick and records it. Frames for unwatched symbols
// and frames that do not parse are dropped.
func (l *Live) handleFrame(data []byte) {
	var frame liveFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		l.logger.Debug("discarding unparseable frame", "error", err)
		return
	}
	tick := frame.Data
	if tick.Symbol == "" {
		if err := json.Unmarshal(data, &tick); err != nil || tick.Symbol == "" {
			l.logger.Debug("discarding frame without symbol")
			return
		}
	}

	symbol, ok := l.watch[strings.ToUpper(tick.Symbol)]
	if !ok {
		return
	}

	t, err := l.toTicker(symbol, tick)
	if err != nil {
		l.logger.Debug("discarding malformed tick", "symbol", symbol, "error", err)
		return
	}

	l.mu.Lock()
	l.ticks[symbol] = liveEntry{ticker: t, receivedAt: time.Now()}
	l.mu.Unlock()
}

func (l *Live) toTicker(symbol string, tick liveTick) (model.Ticker, error) {
	t := model.Ticker{
		Exchange:  l.Name(),
		Symbol:    symbol,
		Timestamp: time.Now().UTC(),
	}
	if tick.EventTime > 0 {
		t.Timestamp = time.UnixMilli(tick.EventTime).UTC()
	}

	var err error
	if t.Bid, err = parseDecimal(l.Name(), "bid", tick.Bid); err != nil {
		return model.Ticker{}, err
	}
	if t.Ask, err = parseDecimal(l.Name(), "ask", tick.Ask); err != nil {
		return model.Ticker{}, err
	}
	if t.Last, err = parseDecimal(l.Name(), "last", tick.Last); err != nil {
		return model.Ticker{}, err
	}
	if t.High, err = parseDecimal(l.Name(), "high", tick.High); err != nil {
		return model.Ticker{}, err
	}
	if t.Low, err = parseDecimal(l.Name(), "low", tick.Low); err != nil {
		return model.Ticker{}, err
	}
	if t.Volume, err = parseDecimal(l.Name(), "volume", tick.Volume); err != nil {
		return model.Ticker{}, err
	}
	return t, nil
}

// FetchTicker serves the most recent tick for a watched symbol. Unwatched
// symbols are not found; a missing or stale tick is a connection failure so
// the caller can retry or fall back.
func (l *Live) FetchTicker(ctx context.Context, symbol string) (model.Ticker, error) {
	sym := model.NormalizeSymbol(symbol)
	if _, ok := l.pairs[sym]; !ok {
		return model.Ticker{}, Errorf(KindNotFound, l.Name(), "symbol %s is not watched", sym)
	}

	l.mu.RLock()
	entry, ok := l.ticks[sym]
	l.mu.RUnlock()

	if !ok {
		return model.Ticker{}, Errorf(KindConnection, l.Name(), "no tick received for %s yet", sym)
	}
	if time.Since(entry.receivedAt) > l.cfg.StaleAfter {
		return model.Ticker{}, Errorf(KindConnection, l.Name(), "tick for %s is stale", sym)
	}
	return entry.ticker, nil
}

// FetchOHLCV is not available over the stream.
func (l *Live) FetchOHLCV(ctx context.Context, symbol, timeframe string, since time.Time, limit int) ([]model.OHLCVBar, error) {
	return nil, Errorf(KindNotFound, l.Name(), "historical data not supported")
}

// FetchOrderBook is not available over the stream.
func (l *Live) FetchOrderBook(ctx context.Context, symbol string, depth int) (model.OrderBook, error) {
	return model.OrderBook{}, Errorf(KindNotFound, l.Name(), "order book not supported")
}
