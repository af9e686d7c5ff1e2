// Package subscription orchestrates market data ingestion tasks.
//
// The Manager fans out one long-lived task per (symbol, kind) pair,
// plus one per timeframe for candles. Each task pulls from the exchange
// adapter, wraps results into envelopes, and pushes onto a bounded
// per-kind queue shared with the persistence pipeline. A full queue
// stalls the producing task instead of dropping data. Tasks retry
// adapter failures forever with a fixed per-kind backoff and terminate
// only on cancellation, so one symbol's venue trouble never takes down
// its siblings.
package subscription
