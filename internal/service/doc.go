// Package service exposes the market-data pipeline as one facade.
//
// The service:
//   - Validates and defaults caller input (timeframe, limit, depth)
//   - Delegates single and batch fetches to the fetch coordinator
//   - Hands out live ticker subscriptions backed by the relay
//   - Lists the registered exchange adapters
package service
