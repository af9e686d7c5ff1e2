package exchange

import (
	"context"

	"github.com/tidewater/mdc/internal/model"
)

// Adapter is the venue connectivity contract consumed by the
// subscription manager. Watch operations block until the venue delivers
// the next update (or the context is cancelled); fetch/derive
// operations are point-in-time calls. All returned timestamps are
// milliseconds since epoch. Any call may fail transiently; callers are
// expected to retry.
type Adapter interface {
	// WatchTicker blocks until the next ticker update for symbol.
	WatchTicker(ctx context.Context, symbol string) (model.Ticker, error)

	// WatchOrderBook blocks until the next order book update, truncated
	// to depth levels per side.
	WatchOrderBook(ctx context.Context, symbol string, depth int) (model.OrderbookSnapshot, error)

	// WatchTrades blocks until the venue delivers one or more trades,
	// in venue delivery order.
	WatchTrades(ctx context.Context, symbol string) ([]model.Trade, error)

	// WatchOHLCV blocks until the venue delivers one or more candles
	// for the timeframe, oldest first.
	WatchOHLCV(ctx context.Context, symbol, timeframe string) ([]model.Candle, error)

	// FetchFundingRate returns the current funding rate for symbol.
	FetchFundingRate(ctx context.Context, symbol string) (model.FundingRate, error)

	// DeriveMarkPrice returns the mark price for symbol, derived from
	// the ticker stream when the venue does not publish one directly.
	// ok is false when no price could be derived.
	DeriveMarkPrice(ctx context.Context, symbol string) (price float64, ok bool, err error)

	// Close releases venue connections. Called only after all watch
	// loops have unwound.
	Close() error
}
