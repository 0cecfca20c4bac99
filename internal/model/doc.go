// Package model defines the canonical market-data types shared across the
// MCP core.
//
// Conventions:
//   - Prices and sizes: decimal.Decimal (no floats in the data path)
//   - Timestamps: time.Time in UTC
//   - Symbols: canonical uppercase BASE/QUOTE (e.g. "BTC/USDT")
package model
