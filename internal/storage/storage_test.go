package storage

import (
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/tidewater/mdc/internal/model"
)

func openTestStore(t *testing.T, symbol string) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), symbol, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenSanitizesSymbolPath(t *testing.T) {
	s := openTestStore(t, "BTC/USDT:USDT")

	if _, err := os.Stat(s.Path()); err != nil {
		t.Fatalf("shard file missing: %v", err)
	}
	base := s.Path()
	if got, want := base[len(base)-len("BTC_USDT_USDT.db"):], "BTC_USDT_USDT.db"; got != want {
		t.Errorf("shard filename = %q, want %q", got, want)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s1, err := Open(dir, "BTC/USDT:USDT", logger)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	s1.Close()

	s2, err := Open(dir, "BTC/USDT:USDT", logger)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()

	var count int
	err = s2.db.QueryRow(`SELECT COUNT(*) FROM _schema_version`).Scan(&count)
	if err != nil {
		t.Fatalf("read schema version rows: %v", err)
	}
	if count != 1 {
		t.Errorf("schema version rows = %d, want 1", count)
	}
}

func TestInsertTickerOrdering(t *testing.T) {
	s := openTestStore(t, "BTC/USDT:USDT")
	now := time.Now().UnixMilli()

	for i := 0; i < 3; i++ {
		tick := model.Ticker{
			Timestamp: now + int64(i)*1000,
			Symbol:    "BTC/USDT:USDT",
			Last:      65000 + float64(i),
		}
		if err := s.InsertTicker(tick); err != nil {
			t.Fatalf("InsertTicker failed: %v", err)
		}
	}

	got, err := s.QueryTicker(Query{})
	if err != nil {
		t.Fatalf("QueryTicker failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len(got) = %d, want 3", len(got))
	}
	// Newest first.
	if got[0].Last != 65002 || got[2].Last != 65000 {
		t.Errorf("ordering wrong: first Last = %v, last Last = %v", got[0].Last, got[2].Last)
	}

	limited, err := s.QueryTicker(Query{Limit: 1})
	if err != nil {
		t.Fatalf("QueryTicker with limit failed: %v", err)
	}
	if len(limited) != 1 || limited[0].Last != 65002 {
		t.Errorf("limited query = %+v, want single newest row", limited)
	}
}

func TestInsertTradesIgnoresDuplicates(t *testing.T) {
	s := openTestStore(t, "BTC/USDT:USDT")
	now := time.Now().UnixMilli()

	trades := []model.Trade{
		{ID: "t-1", Timestamp: now, Symbol: "BTC/USDT:USDT", Side: "buy", Price: 65000, Amount: 0.5},
		{ID: "t-2", Timestamp: now + 1, Symbol: "BTC/USDT:USDT", Side: "sell", Price: 65001, Amount: 0.25},
	}

	n, err := s.InsertTrades(trades)
	if err != nil {
		t.Fatalf("InsertTrades failed: %v", err)
	}
	if n != 2 {
		t.Errorf("inserted = %d, want 2", n)
	}

	// Same batch again: every id already exists.
	n, err = s.InsertTrades(trades)
	if err != nil {
		t.Fatalf("InsertTrades rerun failed: %v", err)
	}
	if n != 0 {
		t.Errorf("inserted on rerun = %d, want 0", n)
	}

	got, err := s.QueryTrades(Query{})
	if err != nil {
		t.Fatalf("QueryTrades failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("stored trades = %d, want 2", len(got))
	}
}

func TestTradeFeeRoundTrip(t *testing.T) {
	s := openTestStore(t, "BTC/USDT:USDT")
	now := time.Now().UnixMilli()

	trades := []model.Trade{
		{ID: "fee", Timestamp: now, Symbol: "BTC/USDT:USDT", Side: "buy", Price: 65000, Amount: 1,
			Fee: &model.TradeFee{Cost: 0.02, Currency: "USDT"}},
		{ID: "nofee", Timestamp: now + 1, Symbol: "BTC/USDT:USDT", Side: "sell", Price: 65001, Amount: 1},
	}
	if _, err := s.InsertTrades(trades); err != nil {
		t.Fatalf("InsertTrades failed: %v", err)
	}

	got, err := s.QueryTrades(Query{})
	if err != nil {
		t.Fatalf("QueryTrades failed: %v", err)
	}

	byID := map[string]model.Trade{}
	for _, tr := range got {
		byID[tr.ID] = tr
	}
	if fee := byID["fee"].Fee; fee == nil || fee.Cost != 0.02 || fee.Currency != "USDT" {
		t.Errorf("fee trade round trip = %+v, want cost 0.02 USDT", byID["fee"].Fee)
	}
	if byID["nofee"].Fee != nil {
		t.Errorf("feeless trade got fee %+v, want nil", byID["nofee"].Fee)
	}
}

func TestInsertOHLCVReplacesBucket(t *testing.T) {
	s := openTestStore(t, "BTC/USDT:USDT")
	bucket := time.Now().Truncate(time.Minute).UnixMilli()

	forming := model.Candle{Timestamp: bucket, Open: 65000, High: 65010, Low: 64990, Close: 65005, Volume: 10}
	if _, err := s.InsertOHLCV("1m", []model.Candle{forming}); err != nil {
		t.Fatalf("InsertOHLCV failed: %v", err)
	}

	final := forming
	final.Close = 65020
	final.Volume = 42
	if _, err := s.InsertOHLCV("1m", []model.Candle{final}); err != nil {
		t.Fatalf("InsertOHLCV rerun failed: %v", err)
	}

	got, err := s.QueryOHLCV("1m", Query{})
	if err != nil {
		t.Fatalf("QueryOHLCV failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("candles = %d, want 1", len(got))
	}
	if got[0].Close != 65020 || got[0].Volume != 42 {
		t.Errorf("candle = %+v, want replaced values", got[0])
	}

	// Same bucket under a different timeframe is a distinct row.
	if _, err := s.InsertOHLCV("5m", []model.Candle{forming}); err != nil {
		t.Fatalf("InsertOHLCV 5m failed: %v", err)
	}
	fiveMin, err := s.QueryOHLCV("5m", Query{})
	if err != nil {
		t.Fatalf("QueryOHLCV 5m failed: %v", err)
	}
	if len(fiveMin) != 1 {
		t.Errorf("5m candles = %d, want 1", len(fiveMin))
	}
}

func TestQueryOHLCVAscending(t *testing.T) {
	s := openTestStore(t, "BTC/USDT:USDT")
	base := time.Now().Truncate(time.Minute).UnixMilli()

	var candles []model.Candle
	for i := 0; i < 3; i++ {
		candles = append(candles, model.Candle{
			Timestamp: base + int64(i)*60_000,
			Open:      65000, High: 65010, Low: 64990, Close: 65000 + float64(i), Volume: 1,
		})
	}
	if _, err := s.InsertOHLCV("1m", candles); err != nil {
		t.Fatalf("InsertOHLCV failed: %v", err)
	}

	got, err := s.QueryOHLCV("1m", Query{})
	if err != nil {
		t.Fatalf("QueryOHLCV failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("candles = %d, want 3", len(got))
	}
	if got[0].Timestamp != base || got[2].Timestamp != base+120_000 {
		t.Errorf("candles not oldest-first: first=%d last=%d", got[0].Timestamp, got[2].Timestamp)
	}
}

func TestOrderbookRoundTrip(t *testing.T) {
	s := openTestStore(t, "BTC/USDT:USDT")
	now := time.Now().UnixMilli()

	ob := model.OrderbookSnapshot{
		Timestamp: now,
		Symbol:    "BTC/USDT:USDT",
		Bids:      []model.BookLevel{{Price: 64999, Size: 1.5}, {Price: 64998, Size: 2}},
		Asks:      []model.BookLevel{{Price: 65001, Size: 0.8}},
		Nonce:     7,
	}
	if err := s.InsertOrderbook(ob); err != nil {
		t.Fatalf("InsertOrderbook failed: %v", err)
	}

	got, err := s.QueryOrderbook(Query{})
	if err != nil {
		t.Fatalf("QueryOrderbook failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("snapshots = %d, want 1", len(got))
	}
	if len(got[0].Bids) != 2 || got[0].Bids[0].Price != 64999 || got[0].Bids[0].Size != 1.5 {
		t.Errorf("bids = %+v, want decoded levels", got[0].Bids)
	}
	if got[0].Nonce != 7 {
		t.Errorf("nonce = %d, want 7", got[0].Nonce)
	}
}

func TestFundingRateUpsert(t *testing.T) {
	s := openTestStore(t, "BTC/USDT:USDT")
	now := time.Now().UnixMilli()

	first := model.FundingRate{Timestamp: now, Symbol: "BTC/USDT:USDT", FundingRate: 0.0001}
	if err := s.InsertFundingRate(first); err != nil {
		t.Fatalf("InsertFundingRate failed: %v", err)
	}

	second := first
	second.FundingRate = 0.0002
	if err := s.InsertFundingRate(second); err != nil {
		t.Fatalf("InsertFundingRate rerun failed: %v", err)
	}

	got, err := s.QueryFundingRate(Query{})
	if err != nil {
		t.Fatalf("QueryFundingRate failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("rows = %d, want 1", len(got))
	}
	if got[0].FundingRate != 0.0002 {
		t.Errorf("FundingRate = %v, want 0.0002", got[0].FundingRate)
	}
}

func TestRetentionPrunesOnInsert(t *testing.T) {
	s := openTestStore(t, "BTC/USDT:USDT")
	now := time.Now()

	stale := model.Ticker{
		Timestamp: now.AddDate(0, 0, -RetentionDays-1).UnixMilli(),
		Symbol:    "BTC/USDT:USDT",
		Last:      60000,
	}
	fresh := model.Ticker{Timestamp: now.UnixMilli(), Symbol: "BTC/USDT:USDT", Last: 65000}

	if err := s.InsertTicker(stale); err != nil {
		t.Fatalf("InsertTicker stale failed: %v", err)
	}
	// Pruning rides on the next write.
	if err := s.InsertTicker(fresh); err != nil {
		t.Fatalf("InsertTicker fresh failed: %v", err)
	}

	got, err := s.QueryTicker(Query{})
	if err != nil {
		t.Fatalf("QueryTicker failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("rows after prune = %d, want 1", len(got))
	}
	if got[0].Last != 65000 {
		t.Errorf("surviving row Last = %v, want 65000", got[0].Last)
	}
}

func TestRetentionCutoff(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	want := time.Date(2025, 6, 8, 12, 0, 0, 0, time.UTC).UnixMilli()
	if got := retentionCutoff(now); got != want {
		t.Errorf("retentionCutoff = %d, want %d", got, want)
	}
}

func TestQueryWindowInclusive(t *testing.T) {
	s := openTestStore(t, "BTC/USDT:USDT")
	now := time.Now().UnixMilli()

	for i := int64(0); i < 5; i++ {
		m := model.MarkPrice{Timestamp: now + i*1000, Symbol: "BTC/USDT:USDT", MarkPrice: 65000 + float64(i)}
		if err := s.InsertMarkPrice(m); err != nil {
			t.Fatalf("InsertMarkPrice failed: %v", err)
		}
	}

	got, err := s.QueryMarkPrice(Query{StartTime: now + 1000, EndTime: now + 3000})
	if err != nil {
		t.Fatalf("QueryMarkPrice failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("rows in window = %d, want 3 (bounds inclusive)", len(got))
	}
	if got[0].Timestamp != now+3000 || got[2].Timestamp != now+1000 {
		t.Errorf("window ordering wrong: first=%d last=%d", got[0].Timestamp, got[2].Timestamp)
	}
}
