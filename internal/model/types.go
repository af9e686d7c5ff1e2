package model

import (
	"encoding/json"
	"fmt"
)

// Kind identifies a market data record kind.
type Kind string

const (
	KindTicker      Kind = "ticker"
	KindOrderbook   Kind = "orderbook"
	KindTrade       Kind = "trade"
	KindOHLCV       Kind = "ohlcv"
	KindFundingRate Kind = "funding_rate"
	KindMarkPrice   Kind = "mark_price"
)

// -----------------------------------------------------------------------------
// Record Types
// -----------------------------------------------------------------------------

// Ticker is the latest best bid/ask/last-price snapshot for a symbol.
// Field names follow the venue adapter's (ccxt-style) convention.
type Ticker struct {
	Timestamp     int64   `json:"timestamp"` // ms since epoch
	Symbol        string  `json:"symbol"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Bid           float64 `json:"bid"`
	BidVolume     float64 `json:"bidVolume"`
	Ask           float64 `json:"ask"`
	AskVolume     float64 `json:"askVolume"`
	VWAP          float64 `json:"vwap"`
	Open          float64 `json:"open"`
	Close         float64 `json:"close"`
	Last          float64 `json:"last"`
	PreviousClose float64 `json:"previousClose"`
	Change        float64 `json:"change"`
	Percentage    float64 `json:"percentage"`
	Average       float64 `json:"average"`
	BaseVolume    float64 `json:"baseVolume"`
	QuoteVolume   float64 `json:"quoteVolume"`
	Info          string  `json:"info,omitempty"` // raw venue payload
}

// BookLevel is a single price level in an order book.
// It serializes to the venue's [price, size] array form.
type BookLevel struct {
	Price float64
	Size  float64
}

// MarshalJSON encodes the level as [price, size].
func (l BookLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{l.Price, l.Size})
}

// UnmarshalJSON decodes a [price, size] array.
func (l *BookLevel) UnmarshalJSON(data []byte) error {
	var arr []float64
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if len(arr) < 2 {
		return fmt.Errorf("book level needs [price, size], got %d elements", len(arr))
	}
	l.Price = arr[0]
	l.Size = arr[1]
	return nil
}

// OrderbookSnapshot is a full order book state at a point in time.
type OrderbookSnapshot struct {
	Timestamp int64       `json:"timestamp"` // ms since epoch
	Symbol    string      `json:"symbol"`
	Bids      []BookLevel `json:"bids"` // best (highest) bid first
	Asks      []BookLevel `json:"asks"` // best (lowest) ask first
	Nonce     int64       `json:"nonce,omitempty"`
	Datetime  string      `json:"datetime,omitempty"` // ISO 8601, venue-supplied
}

// TradeFee is the optional fee sub-structure of a trade.
type TradeFee struct {
	Cost     float64 `json:"cost"`
	Currency string  `json:"currency"`
}

// Trade is a single executed trade. ID is the venue-assigned trade id,
// unique per symbol.
type Trade struct {
	ID           string    `json:"id"`
	Timestamp    int64     `json:"timestamp"` // ms since epoch
	Symbol       string    `json:"symbol"`
	Side         string    `json:"side"` // "buy" or "sell"
	Price        float64   `json:"price"`
	Amount       float64   `json:"amount"`
	Cost         float64   `json:"cost"`
	OrderID      string    `json:"order,omitempty"`
	TakerOrMaker string    `json:"takerOrMaker,omitempty"`
	Fee          *TradeFee `json:"fee,omitempty"`
	Info         string    `json:"info,omitempty"`
}

// Candle is an OHLCV aggregate for one timeframe bucket.
// Identity is (Timestamp, timeframe); a still-forming candle is
// re-delivered with the same identity and converging values.
type Candle struct {
	Timestamp int64   `json:"timestamp"` // bucket open time, ms since epoch
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// FundingRate is a perpetual-futures funding rate observation.
type FundingRate struct {
	Timestamp        int64   `json:"timestamp"` // ms since epoch
	Symbol           string  `json:"symbol"`
	FundingRate      float64 `json:"fundingRate"`
	FundingTimestamp int64   `json:"fundingTimestamp,omitempty"` // next settlement, ms
	Info             string  `json:"info,omitempty"`
}

// MarkPrice is a margin/liquidation reference price observation.
type MarkPrice struct {
	Timestamp  int64   `json:"timestamp"` // ms since epoch
	Symbol     string  `json:"symbol"`
	MarkPrice  float64 `json:"markPrice"`
	IndexPrice float64 `json:"indexPrice,omitempty"`
	Info       string  `json:"info,omitempty"`
}

// -----------------------------------------------------------------------------
// Queue Envelope
// -----------------------------------------------------------------------------

// Envelope carries one record through the ingestion queues. Exactly one
// payload pointer is set, selected by Kind. Timeframe is set for OHLCV
// envelopes only.
type Envelope struct {
	Kind      Kind
	Symbol    string
	Timeframe string

	Ticker    *Ticker
	Orderbook *OrderbookSnapshot
	Trade     *Trade
	Candle    *Candle
	Funding   *FundingRate
	MarkPrice *MarkPrice
}
