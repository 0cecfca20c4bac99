// Package relay implements the ticker relay.
//
// The relay:
//   - Runs one poll loop per subscribed instrument, nothing more
//   - Hands new subscribers the most recent known value immediately
//   - Suppresses pushes for unchanged values unless configured otherwise
//   - Buffers per subscriber, so a slow consumer never stalls the feed
//   - Ends a stream with a terminal error after repeated refresh failures
package relay
