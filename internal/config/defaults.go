package config

import "time"

// Default values for optional configuration fields. Adapter base URLs and
// HTTP timeouts are not defaulted here: empty means the adapter uses its
// own.
const (
	DefaultListen          = ":8000"
	DefaultCacheBackend    = "memory"
	DefaultCleanupInterval = 1 * time.Minute
	DefaultTickerTTL       = 10 * time.Second
	DefaultOrderBookTTL    = 5 * time.Second
	DefaultOHLCVTTL        = 5 * time.Minute
	DefaultMaxAttempts     = 3
	DefaultBaseDelay       = 2 * time.Second
	DefaultMaxDelay        = 10 * time.Second
	DefaultAttemptTimeout  = 10 * time.Second
	DefaultRelayInterval   = 10 * time.Second
	DefaultRelayTimeout    = 5 * time.Second
	DefaultMaxFailures     = 5
	DefaultStaleAfter      = 30 * time.Second
	DefaultConvert         = "USD"
)

func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}

	// Exchange defaults
	if c.Exchanges.Live.StaleAfter == 0 {
		c.Exchanges.Live.StaleAfter = DefaultStaleAfter
	}

	// Fallback defaults
	if c.Fallback.Convert == "" {
		c.Fallback.Convert = DefaultConvert
	}

	// Cache defaults
	if c.Cache.Backend == "" {
		c.Cache.Backend = DefaultCacheBackend
	}
	if c.Cache.CleanupInterval == 0 {
		c.Cache.CleanupInterval = DefaultCleanupInterval
	}
	if c.Cache.TTL.Ticker == 0 {
		c.Cache.TTL.Ticker = DefaultTickerTTL
	}
	if c.Cache.TTL.OrderBook == 0 {
		c.Cache.TTL.OrderBook = DefaultOrderBookTTL
	}
	if c.Cache.TTL.OHLCV == 0 {
		c.Cache.TTL.OHLCV = DefaultOHLCVTTL
	}

	// Retry defaults
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = DefaultMaxAttempts
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = DefaultBaseDelay
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = DefaultMaxDelay
	}
	if c.Retry.AttemptTimeout == 0 {
		c.Retry.AttemptTimeout = DefaultAttemptTimeout
	}

	// Relay defaults
	if c.Relay.Interval == 0 {
		c.Relay.Interval = DefaultRelayInterval
	}
	if c.Relay.Timeout == 0 {
		c.Relay.Timeout = DefaultRelayTimeout
	}
	if c.Relay.MaxFailures == 0 {
		c.Relay.MaxFailures = DefaultMaxFailures
	}
}
