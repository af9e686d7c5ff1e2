package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/tidewater/mdc/internal/model"
)

// withPrune runs fn inside a transaction followed by the retention
// sweep, committing both together.
func (s *Store) withPrune(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := s.pruneExpired(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// InsertTicker appends a ticker snapshot. Tickers have no identity key;
// every insert is a new row.
func (s *Store) InsertTicker(t model.Ticker) error {
	err := s.withPrune(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO ticker (
				timestamp, symbol, high, low, bid, bid_volume, ask, ask_volume,
				vwap, open, close, last, previous_close, change, percentage,
				average, base_volume, quote_volume, info
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			t.Timestamp, t.Symbol, t.High, t.Low, t.Bid, t.BidVolume,
			t.Ask, t.AskVolume, t.VWAP, t.Open, t.Close, t.Last,
			t.PreviousClose, t.Change, t.Percentage, t.Average,
			t.BaseVolume, t.QuoteVolume, t.Info,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert ticker: %w", err)
	}
	return nil
}

// InsertOrderbook appends an order book snapshot. Bid and ask levels
// are stored in their serialized [price, size] array form.
func (s *Store) InsertOrderbook(ob model.OrderbookSnapshot) error {
	bids, err := json.Marshal(ob.Bids)
	if err != nil {
		return fmt.Errorf("marshal bids: %w", err)
	}
	asks, err := json.Marshal(ob.Asks)
	if err != nil {
		return fmt.Errorf("marshal asks: %w", err)
	}

	err = s.withPrune(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO orderbook (timestamp, symbol, bids, asks, nonce, datetime)
			VALUES (?, ?, ?, ?, ?, ?)
		`, ob.Timestamp, ob.Symbol, string(bids), string(asks), ob.Nonce, ob.Datetime)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert orderbook: %w", err)
	}
	return nil
}

// InsertTrades inserts trades, dropping duplicates of an already-stored
// venue trade id. Returns the number of rows actually inserted.
func (s *Store) InsertTrades(trades []model.Trade) (int, error) {
	if len(trades) == 0 {
		return 0, nil
	}

	inserted := 0
	err := s.withPrune(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT OR IGNORE INTO trades (
				id, timestamp, symbol, side, price, amount, cost,
				order_id, taker_or_maker, fee_cost, fee_currency, info
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, tr := range trades {
			var feeCost, feeCurrency any
			if tr.Fee != nil {
				feeCost = tr.Fee.Cost
				feeCurrency = tr.Fee.Currency
			}
			res, err := stmt.Exec(
				tr.ID, tr.Timestamp, tr.Symbol, tr.Side, tr.Price,
				tr.Amount, tr.Cost, tr.OrderID, tr.TakerOrMaker,
				feeCost, feeCurrency, tr.Info,
			)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n > 0 {
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("insert trades: %w", err)
	}
	return inserted, nil
}

// InsertOHLCV upserts candles on (timestamp, timeframe): a re-delivered
// still-forming candle replaces the previous values for its bucket.
// Returns the number of rows written.
func (s *Store) InsertOHLCV(timeframe string, candles []model.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}

	written := 0
	err := s.withPrune(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT OR REPLACE INTO ohlcv (
				timestamp, symbol, timeframe, open, high, low, close, volume
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, c := range candles {
			res, err := stmt.Exec(
				c.Timestamp, s.symbol, timeframe,
				c.Open, c.High, c.Low, c.Close, c.Volume,
			)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n > 0 {
				written++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("insert ohlcv: %w", err)
	}
	return written, nil
}

// InsertFundingRate upserts a funding rate observation keyed on its
// timestamp.
func (s *Store) InsertFundingRate(f model.FundingRate) error {
	err := s.withPrune(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT OR REPLACE INTO funding_rate (
				timestamp, symbol, funding_rate, funding_timestamp, info
			) VALUES (?, ?, ?, ?, ?)
		`, f.Timestamp, f.Symbol, f.FundingRate, f.FundingTimestamp, f.Info)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert funding rate: %w", err)
	}
	return nil
}

// InsertMarkPrice upserts a mark price observation keyed on its
// timestamp.
func (s *Store) InsertMarkPrice(m model.MarkPrice) error {
	err := s.withPrune(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT OR REPLACE INTO mark_price (
				timestamp, symbol, mark_price, index_price, info
			) VALUES (?, ?, ?, ?, ?)
		`, m.Timestamp, m.Symbol, m.MarkPrice, m.IndexPrice, m.Info)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert mark price: %w", err)
	}
	return nil
}
