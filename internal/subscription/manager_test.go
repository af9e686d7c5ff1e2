package subscription

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/tidewater/mdc/internal/exchange/mock"
	"github.com/tidewater/mdc/internal/model"
)

func newTestManager(t *testing.T, intervals map[string]string, symbols ...string) (*Manager, *mock.Adapter) {
	t.Helper()
	if len(symbols) == 0 {
		symbols = []string{"BTC/USDT:USDT"}
	}
	adapter := mock.New()
	m := New(Config{
		Symbols:        symbols,
		Intervals:      intervals,
		OrderbookDepth: 5,
	}, adapter, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return m, adapter
}

func stopManager(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestTaskCreationRules(t *testing.T) {
	tests := []struct {
		name      string
		intervals map[string]string
		wantTasks int
	}{
		{
			"klines and trades",
			map[string]string{"klines": "1m", "trades": "realtime"},
			3, // ticker, trades, ohlcv 1m
		},
		{
			"multi timeframe klines",
			map[string]string{"klines": "1m,5m"},
			3, // ticker, ohlcv 1m, ohlcv 5m
		},
		{
			"funding implies mark price",
			map[string]string{"funding": "8h"},
			2, // funding, mark_price
		},
		{
			"everything",
			map[string]string{
				"ticker": "realtime", "orderbook_snapshot": "30s",
				"trades": "realtime", "klines": "1m",
				"funding": "8h", "mark_price": "1m",
			},
			7,
		},
		{
			"nothing configured",
			map[string]string{},
			0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager(t, tt.intervals)

			if got := m.TaskCount(); got != 0 {
				t.Fatalf("TaskCount before Start = %d, want 0", got)
			}

			if err := m.Start(context.Background()); err != nil {
				t.Fatalf("Start failed: %v", err)
			}
			if got := m.TaskCount(); got != tt.wantTasks {
				t.Errorf("TaskCount = %d, want %d", got, tt.wantTasks)
			}

			stopManager(t, m)
			if got := m.TaskCount(); got != 0 {
				t.Errorf("TaskCount after Stop = %d, want 0", got)
			}
		})
	}
}

func TestTasksScaleWithSymbols(t *testing.T) {
	m, _ := newTestManager(t,
		map[string]string{"trades": "realtime"},
		"BTC/USDT:USDT", "ETH/USDT:USDT", "SOL/USDT:USDT",
	)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopManager(t, m)

	if got := m.TaskCount(); got != 3 {
		t.Errorf("TaskCount = %d, want 3 (one trades task per symbol)", got)
	}
}

func TestStartIdempotent(t *testing.T) {
	m, _ := newTestManager(t, map[string]string{"trades": "realtime"})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopManager(t, m)

	before := m.TaskCount()
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}
	if got := m.TaskCount(); got != before {
		t.Errorf("TaskCount after repeat Start = %d, want %d", got, before)
	}
}

func TestStopWhileNotRunning(t *testing.T) {
	m, _ := newTestManager(t, map[string]string{"trades": "realtime"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.Stop(ctx); err != nil {
		t.Errorf("Stop on idle manager = %v, want nil", err)
	}
}

func TestEnvelopesFlowEndToEnd(t *testing.T) {
	m, _ := newTestManager(t, map[string]string{"klines": "1m", "trades": "realtime"})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitEnvelope := func(q chan model.Envelope, kind model.Kind) model.Envelope {
		t.Helper()
		select {
		case env := <-q:
			if env.Kind != kind {
				t.Fatalf("envelope kind = %q, want %q", env.Kind, kind)
			}
			if env.Symbol != "BTC/USDT:USDT" {
				t.Fatalf("envelope symbol = %q, want BTC/USDT:USDT", env.Symbol)
			}
			return env
		case <-time.After(5 * time.Second):
			t.Fatalf("no %s envelope within 5s", kind)
			return model.Envelope{}
		}
	}

	tick := waitEnvelope(m.Ticker, model.KindTicker)
	if tick.Ticker == nil || tick.Ticker.Last == 0 {
		t.Errorf("ticker payload = %+v, want populated", tick.Ticker)
	}

	trade := waitEnvelope(m.Trades, model.KindTrade)
	if trade.Trade == nil || trade.Trade.ID == "" {
		t.Errorf("trade payload = %+v, want populated", trade.Trade)
	}

	candle := waitEnvelope(m.OHLCV, model.KindOHLCV)
	if candle.Timeframe != "1m" {
		t.Errorf("candle timeframe = %q, want 1m", candle.Timeframe)
	}
	if candle.Candle == nil || candle.Candle.Close == 0 {
		t.Errorf("candle payload = %+v, want populated", candle.Candle)
	}

	stopManager(t, m)
	if got := m.TaskCount(); got != 0 {
		t.Errorf("TaskCount after Stop = %d, want 0", got)
	}
}

func TestTaskSurvivesAdapterErrors(t *testing.T) {
	m, adapter := newTestManager(t, map[string]string{"trades": "realtime"})
	adapter.InjectError(errors.New("venue hiccup"))

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopManager(t, m)

	// The injected failure triggers the backoff path; the task must stay
	// registered rather than die.
	time.Sleep(50 * time.Millisecond)
	if got := m.TaskCount(); got != 1 {
		t.Errorf("TaskCount after adapter error = %d, want 1", got)
	}
}

func TestQueueSizes(t *testing.T) {
	m, _ := newTestManager(t, map[string]string{})

	sizes := m.QueueSizes()
	for _, key := range []string{"ticker", "orderbook", "trades", "ohlcv", "funding", "mark_price"} {
		depth, ok := sizes[key]
		if !ok {
			t.Errorf("QueueSizes missing key %q", key)
		}
		if depth != 0 {
			t.Errorf("QueueSizes[%q] = %d, want 0 on idle manager", key, depth)
		}
	}
}
