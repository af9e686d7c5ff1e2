// Package model defines the typed market data records that flow through
// the collector, plus the queue envelope that carries them.
//
// Records keep the venue adapter's (ccxt-style) field naming so stored
// rows round-trip back into the shape downstream consumers expect.
// Timestamps are milliseconds since epoch throughout.
package model
