// Package source defines the uniform capability interface over upstream
// market-data providers, the shared failure taxonomy, and the name→adapter
// registry assembled at startup.
//
// Implementations:
//   - binance.go: Binance spot REST API
//   - kraken.go: Kraken public REST API
//   - marketcap.go: CoinMarketCap-style quote fallback (tickers only)
//   - live.go: websocket live-feed adapter answering from streamed ticks
//
// Adapters perform exactly one upstream attempt per call and normalize
// every failure into the taxonomy; retrying is the retry package's job,
// orchestrated by the fetch coordinator.
package source
