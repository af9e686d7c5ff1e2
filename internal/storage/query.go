package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/tidewater/mdc/internal/model"
)

// Query bounds a time-range lookup. StartTime and EndTime are inclusive
// millisecond timestamps; zero leaves that side unbounded. Limit caps
// the row count; zero means no cap.
type Query struct {
	StartTime int64
	EndTime   int64
	Limit     int
}

// clause renders the shared WHERE/ORDER/LIMIT tail. Results are
// newest-first unless asc is set (OHLCV charts chronologically).
func (q Query) clause(asc bool) (string, []any) {
	tail := ""
	var args []any

	if q.StartTime > 0 {
		tail += " AND timestamp >= ?"
		args = append(args, q.StartTime)
	}
	if q.EndTime > 0 {
		tail += " AND timestamp <= ?"
		args = append(args, q.EndTime)
	}

	if asc {
		tail += " ORDER BY timestamp ASC"
	} else {
		tail += " ORDER BY timestamp DESC"
	}

	if q.Limit > 0 {
		tail += " LIMIT ?"
		args = append(args, q.Limit)
	}

	return tail, args
}

// QueryTicker returns ticker snapshots in the window, newest first.
func (s *Store) QueryTicker(q Query) ([]model.Ticker, error) {
	tail, args := q.clause(false)
	rows, err := s.db.Query(`
		SELECT timestamp, symbol, high, low, bid, bid_volume, ask, ask_volume,
		       vwap, open, close, last, previous_close, change, percentage,
		       average, base_volume, quote_volume, info
		FROM ticker WHERE 1=1`+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("query ticker: %w", err)
	}
	defer rows.Close()

	var out []model.Ticker
	for rows.Next() {
		var t model.Ticker
		var info sql.NullString
		if err := rows.Scan(
			&t.Timestamp, &t.Symbol, &t.High, &t.Low, &t.Bid, &t.BidVolume,
			&t.Ask, &t.AskVolume, &t.VWAP, &t.Open, &t.Close, &t.Last,
			&t.PreviousClose, &t.Change, &t.Percentage, &t.Average,
			&t.BaseVolume, &t.QuoteVolume, &info,
		); err != nil {
			return nil, fmt.Errorf("scan ticker: %w", err)
		}
		t.Info = info.String
		out = append(out, t)
	}
	return out, rows.Err()
}

// QueryOrderbook returns order book snapshots in the window, newest
// first, with bid/ask levels decoded from their stored form.
func (s *Store) QueryOrderbook(q Query) ([]model.OrderbookSnapshot, error) {
	tail, args := q.clause(false)
	rows, err := s.db.Query(`
		SELECT timestamp, symbol, bids, asks, nonce, datetime
		FROM orderbook WHERE 1=1`+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("query orderbook: %w", err)
	}
	defer rows.Close()

	var out []model.OrderbookSnapshot
	for rows.Next() {
		var ob model.OrderbookSnapshot
		var bids, asks string
		var nonce sql.NullInt64
		var datetime sql.NullString
		if err := rows.Scan(&ob.Timestamp, &ob.Symbol, &bids, &asks, &nonce, &datetime); err != nil {
			return nil, fmt.Errorf("scan orderbook: %w", err)
		}
		if err := json.Unmarshal([]byte(bids), &ob.Bids); err != nil {
			return nil, fmt.Errorf("decode bids: %w", err)
		}
		if err := json.Unmarshal([]byte(asks), &ob.Asks); err != nil {
			return nil, fmt.Errorf("decode asks: %w", err)
		}
		ob.Nonce = nonce.Int64
		ob.Datetime = datetime.String
		out = append(out, ob)
	}
	return out, rows.Err()
}

// QueryTrades returns trades in the window, newest first. The fee
// sub-structure is reconstructed only when a fee field was stored.
func (s *Store) QueryTrades(q Query) ([]model.Trade, error) {
	tail, args := q.clause(false)
	rows, err := s.db.Query(`
		SELECT id, timestamp, symbol, side, price, amount, cost,
		       order_id, taker_or_maker, fee_cost, fee_currency, info
		FROM trades WHERE 1=1`+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []model.Trade
	for rows.Next() {
		var t model.Trade
		var cost sql.NullFloat64
		var orderID, takerOrMaker, info, feeCurrency sql.NullString
		var feeCost sql.NullFloat64
		if err := rows.Scan(
			&t.ID, &t.Timestamp, &t.Symbol, &t.Side, &t.Price, &t.Amount,
			&cost, &orderID, &takerOrMaker, &feeCost, &feeCurrency, &info,
		); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Cost = cost.Float64
		t.OrderID = orderID.String
		t.TakerOrMaker = takerOrMaker.String
		t.Info = info.String
		if feeCost.Valid || feeCurrency.Valid {
			t.Fee = &model.TradeFee{Cost: feeCost.Float64, Currency: feeCurrency.String}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// QueryOHLCV returns candles for one timeframe in the window, oldest
// first for chronological charting.
func (s *Store) QueryOHLCV(timeframe string, q Query) ([]model.Candle, error) {
	tail, args := q.clause(true)
	rows, err := s.db.Query(`
		SELECT timestamp, open, high, low, close, volume
		FROM ohlcv WHERE timeframe = ?`+tail,
		append([]any{timeframe}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("query ohlcv: %w", err)
	}
	defer rows.Close()

	var out []model.Candle
	for rows.Next() {
		var c model.Candle
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// QueryFundingRate returns funding rates in the window, newest first.
func (s *Store) QueryFundingRate(q Query) ([]model.FundingRate, error) {
	tail, args := q.clause(false)
	rows, err := s.db.Query(`
		SELECT timestamp, symbol, funding_rate, funding_timestamp, info
		FROM funding_rate WHERE 1=1`+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("query funding rate: %w", err)
	}
	defer rows.Close()

	var out []model.FundingRate
	for rows.Next() {
		var f model.FundingRate
		var fundingTS sql.NullInt64
		var info sql.NullString
		if err := rows.Scan(&f.Timestamp, &f.Symbol, &f.FundingRate, &fundingTS, &info); err != nil {
			return nil, fmt.Errorf("scan funding rate: %w", err)
		}
		f.FundingTimestamp = fundingTS.Int64
		f.Info = info.String
		out = append(out, f)
	}
	return out, rows.Err()
}

// QueryMarkPrice returns mark prices in the window, newest first.
func (s *Store) QueryMarkPrice(q Query) ([]model.MarkPrice, error) {
	tail, args := q.clause(false)
	rows, err := s.db.Query(`
		SELECT timestamp, symbol, mark_price, index_price, info
		FROM mark_price WHERE 1=1`+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("query mark price: %w", err)
	}
	defer rows.Close()

	var out []model.MarkPrice
	for rows.Next() {
		var m model.MarkPrice
		var indexPrice sql.NullFloat64
		var info sql.NullString
		if err := rows.Scan(&m.Timestamp, &m.Symbol, &m.MarkPrice, &indexPrice, &info); err != nil {
			return nil, fmt.Errorf("scan mark price: %w", err)
		}
		m.IndexPrice = indexPrice.Float64
		m.Info = info.String
		out = append(out, m)
	}
	return out, rows.Err()
}
