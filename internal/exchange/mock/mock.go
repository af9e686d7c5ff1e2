// Package mock provides a deterministic in-memory exchange adapter for
// tests and dry runs. Every call succeeds after a short pacing delay
// and produces repeatable, sequence-numbered data per symbol.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tidewater/mdc/internal/model"
)

const basePrice = 65000.0

// Adapter implements exchange.Adapter with generated data.
type Adapter struct {
	// Delay paces each watch/fetch call, simulating the venue's update
	// cadence. Zero means return immediately.
	Delay time.Duration

	mu     sync.Mutex
	seq    map[string]int64
	nextMu sync.Mutex
	next   []error // errors to inject, one per call
}

// New creates a mock adapter with a 5ms pacing delay.
func New() *Adapter {
	return &Adapter{
		Delay: 5 * time.Millisecond,
		seq:   make(map[string]int64),
	}
}

// InjectError queues err to be returned by the next adapter call.
func (a *Adapter) InjectError(err error) {
	a.nextMu.Lock()
	a.next = append(a.next, err)
	a.nextMu.Unlock()
}

// Calls returns the number of completed calls for symbol.
func (a *Adapter) Calls(symbol string) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.seq[symbol]
}

func (a *Adapter) tick(ctx context.Context, symbol string) (int64, error) {
	a.nextMu.Lock()
	if len(a.next) > 0 {
		err := a.next[0]
		a.next = a.next[1:]
		a.nextMu.Unlock()
		return 0, err
	}
	a.nextMu.Unlock()

	if a.Delay > 0 {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(a.Delay):
		}
	}

	a.mu.Lock()
	a.seq[symbol]++
	seq := a.seq[symbol]
	a.mu.Unlock()
	return seq, nil
}

// price drifts deterministically with the per-symbol sequence number.
func price(seq int64) float64 {
	return basePrice + float64(seq%100)
}

func (a *Adapter) WatchTicker(ctx context.Context, symbol string) (model.Ticker, error) {
	seq, err := a.tick(ctx, symbol)
	if err != nil {
		return model.Ticker{}, err
	}
	last := price(seq)
	return model.Ticker{
		Timestamp:   time.Now().UnixMilli(),
		Symbol:      symbol,
		High:        last + 50,
		Low:         last - 50,
		Bid:         last - 0.5,
		BidVolume:   1.2,
		Ask:         last + 0.5,
		AskVolume:   0.8,
		Open:        last - 10,
		Close:       last,
		Last:        last,
		BaseVolume:  1000,
		QuoteVolume: 1000 * last,
	}, nil
}

func (a *Adapter) WatchOrderBook(ctx context.Context, symbol string, depth int) (model.OrderbookSnapshot, error) {
	seq, err := a.tick(ctx, symbol)
	if err != nil {
		return model.OrderbookSnapshot{}, err
	}
	mid := price(seq)
	if depth < 1 {
		depth = 1
	}
	bids := make([]model.BookLevel, 0, depth)
	asks := make([]model.BookLevel, 0, depth)
	for i := 0; i < depth; i++ {
		bids = append(bids, model.BookLevel{Price: mid - 0.5 - float64(i), Size: 0.5 + float64(i)*0.1})
		asks = append(asks, model.BookLevel{Price: mid + 0.5 + float64(i), Size: 0.4 + float64(i)*0.1})
	}
	return model.OrderbookSnapshot{
		Timestamp: time.Now().UnixMilli(),
		Symbol:    symbol,
		Bids:      bids,
		Asks:      asks,
		Nonce:     seq,
	}, nil
}

func (a *Adapter) WatchTrades(ctx context.Context, symbol string) ([]model.Trade, error) {
	seq, err := a.tick(ctx, symbol)
	if err != nil {
		return nil, err
	}
	now := time.Now().UnixMilli()
	p := price(seq)
	trades := make([]model.Trade, 2)
	for i := range trades {
		trades[i] = model.Trade{
			ID:        fmt.Sprintf("%s-%d-%d", symbol, seq, i),
			Timestamp: now,
			Symbol:    symbol,
			Side:      []string{"buy", "sell"}[i%2],
			Price:     p,
			Amount:    0.01 * float64(i+1),
			Cost:      p * 0.01 * float64(i+1),
		}
	}
	return trades, nil
}

func (a *Adapter) WatchOHLCV(ctx context.Context, symbol, timeframe string) ([]model.Candle, error) {
	seq, err := a.tick(ctx, symbol)
	if err != nil {
		return nil, err
	}
	p := price(seq)
	// Bucket the open time to the minute so repeated deliveries of a
	// still-forming candle share an identity.
	bucket := time.Now().Truncate(time.Minute).UnixMilli()
	return []model.Candle{{
		Timestamp: bucket,
		Open:      p - 5,
		High:      p + 10,
		Low:       p - 10,
		Close:     p,
		Volume:    100 + float64(seq),
	}}, nil
}

func (a *Adapter) FetchFundingRate(ctx context.Context, symbol string) (model.FundingRate, error) {
	seq, err := a.tick(ctx, symbol)
	if err != nil {
		return model.FundingRate{}, err
	}
	now := time.Now()
	return model.FundingRate{
		Timestamp:        now.UnixMilli(),
		Symbol:           symbol,
		FundingRate:      0.0001 * float64(seq%3+1),
		FundingTimestamp: now.Add(8 * time.Hour).UnixMilli(),
	}, nil
}

func (a *Adapter) DeriveMarkPrice(ctx context.Context, symbol string) (float64, bool, error) {
	seq, err := a.tick(ctx, symbol)
	if err != nil {
		return 0, false, err
	}
	return price(seq), true, nil
}

func (a *Adapter) Close() error { return nil }
