package subscription

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tidewater/mdc/internal/exchange"
	"github.com/tidewater/mdc/internal/model"
)

const (
	queueCapacity        = 1000
	fundingQueueCapacity = 100

	// Fixed per-kind retry backoffs. Funding polls rarely, so a failed
	// fetch can afford a longer pause.
	streamBackoff    = 5 * time.Second
	fundingBackoff   = 60 * time.Second
	markPriceBackoff = 30 * time.Second

	// Poll intervals used when the config leaves them at realtime.
	defaultFundingPoll   = 8 * time.Hour
	defaultMarkPricePoll = time.Minute

	// Consecutive failures before a task escalates from Warn to Error.
	// The task keeps retrying either way.
	failureAlertThreshold = 10
)

// Config holds orchestration configuration.
type Config struct {
	Symbols        []string
	Intervals      map[string]string
	OrderbookDepth int
}

// Manager fans out one ingestion task per (symbol, kind), plus one per
// timeframe for candles, and decouples producers from the persistence
// pipeline through bounded per-kind queues.
type Manager struct {
	cfg     Config
	adapter exchange.Adapter
	logger  *slog.Logger

	Ticker    chan model.Envelope
	Orderbook chan model.Envelope
	Trades    chan model.Envelope
	OHLCV     chan model.Envelope
	Funding   chan model.Envelope
	MarkPrice chan model.Envelope

	mu      sync.Mutex
	running bool
	tasks   []string
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Manager with its queues allocated but no tasks running.
func New(cfg Config, adapter exchange.Adapter, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:     cfg,
		adapter: adapter,
		logger:  logger,

		Ticker:    make(chan model.Envelope, queueCapacity),
		Orderbook: make(chan model.Envelope, queueCapacity),
		Trades:    make(chan model.Envelope, queueCapacity),
		OHLCV:     make(chan model.Envelope, queueCapacity),
		Funding:   make(chan model.Envelope, fundingQueueCapacity),
		MarkPrice: make(chan model.Envelope, queueCapacity),
	}
}

// Start spins up the subscription tasks for every configured symbol.
// Which tasks exist depends on which interval keys are configured; see
// the per-kind rules inline. Calling Start while running is a no-op.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		m.logger.Warn("subscription manager already running")
		return nil
	}
	m.running = true

	ctx, m.cancel = context.WithCancel(ctx)

	for _, symbol := range m.cfg.Symbols {
		symbol := symbol

		// Ticker rides along whenever klines are collected; its
		// throttle follows the klines cadence.
		if m.has("ticker") || m.has("klines") {
			m.spawn(ctx, "ticker_"+symbol, func(ctx context.Context) {
				m.runTicker(ctx, symbol)
			})
		}

		if m.has("orderbook_snapshot") {
			m.spawn(ctx, "orderbook_"+symbol, func(ctx context.Context) {
				m.runOrderbook(ctx, symbol)
			})
		}

		if m.has("trades") {
			m.spawn(ctx, "trades_"+symbol, func(ctx context.Context) {
				m.runTrades(ctx, symbol)
			})
		}

		// One candle task per timeframe; the klines value may be a
		// comma-separated list.
		if m.has("klines") {
			for _, tf := range parseTimeframes(m.interval("klines", "1m")) {
				tf := tf
				m.spawn(ctx, "ohlcv_"+symbol+"_"+tf, func(ctx context.Context) {
					m.runOHLCV(ctx, symbol, tf)
				})
			}
		}

		if m.has("funding") {
			m.spawn(ctx, "funding_"+symbol, func(ctx context.Context) {
				m.runFunding(ctx, symbol)
			})
		}

		// Mark price backs up the funding stream, so funding alone is
		// enough to enable it.
		if m.has("mark_price") || m.has("funding") {
			m.spawn(ctx, "mark_price_"+symbol, func(ctx context.Context) {
				m.runMarkPrice(ctx, symbol)
			})
		}
	}

	m.logger.Info("subscription manager started",
		"symbols", len(m.cfg.Symbols),
		"tasks", len(m.tasks),
	)
	return nil
}

// Stop cancels every task and waits for all of them to unwind. Calling
// Stop while not running is a no-op.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		m.logger.Warn("subscription manager not running")
		return nil
	}
	m.running = false
	m.cancel()
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.mu.Lock()
		m.tasks = nil
		m.mu.Unlock()
		m.logger.Info("subscription manager stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether Start has been called without a matching Stop.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// TaskCount returns the number of active subscription tasks.
func (m *Manager) TaskCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// QueueSizes returns the instantaneous depth of each queue.
func (m *Manager) QueueSizes() map[string]int {
	return map[string]int{
		"ticker":     len(m.Ticker),
		"orderbook":  len(m.Orderbook),
		"trades":     len(m.Trades),
		"ohlcv":      len(m.OHLCV),
		"funding":    len(m.Funding),
		"mark_price": len(m.MarkPrice),
	}
}

func (m *Manager) has(key string) bool {
	_, ok := m.cfg.Intervals[key]
	return ok
}

func (m *Manager) interval(key, fallback string) string {
	if v, ok := m.cfg.Intervals[key]; ok {
		return v
	}
	return fallback
}

// spawn registers and launches one named task. Caller holds m.mu.
func (m *Manager) spawn(ctx context.Context, name string, run func(context.Context)) {
	m.tasks = append(m.tasks, name)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		run(ctx)
	}()
}

// loop is the shared task body: pull, then wait out the throttle, and
// on error wait out the backoff instead. Errors are logged and retried
// forever; only cancellation ends the loop.
func (m *Manager) loop(ctx context.Context, name string, throttle, backoff time.Duration, pull func(context.Context) error) {
	failures := 0
	for ctx.Err() == nil {
		if err := pull(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			if failures >= failureAlertThreshold {
				m.logger.Error("subscription failing repeatedly",
					"task", name, "consecutive_failures", failures, "err", err)
			} else {
				m.logger.Warn("subscription pull failed", "task", name, "err", err)
			}
			if !sleep(ctx, backoff) {
				return
			}
			continue
		}
		failures = 0
		if throttle > 0 && !sleep(ctx, throttle) {
			return
		}
	}
}

// push blocks until the envelope is queued or the task is cancelled. A
// full queue stalls the producer; data is never dropped.
func push(ctx context.Context, q chan<- model.Envelope, env model.Envelope) error {
	select {
	case q <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) runTicker(ctx context.Context, symbol string) {
	throttle := ParseInterval(m.interval("klines", "1m"), m.logger)
	m.logger.Info("ticker subscription started", "symbol", symbol, "throttle", throttle)

	m.loop(ctx, "ticker_"+symbol, throttle, streamBackoff, func(ctx context.Context) error {
		t, err := m.adapter.WatchTicker(ctx, symbol)
		if err != nil {
			return err
		}
		return push(ctx, m.Ticker, model.Envelope{
			Kind: model.KindTicker, Symbol: symbol, Ticker: &t,
		})
	})

	m.logger.Info("ticker subscription stopped", "symbol", symbol)
}

func (m *Manager) runOrderbook(ctx context.Context, symbol string) {
	throttle := ParseInterval(m.interval("orderbook_snapshot", "1m"), m.logger)
	depth := m.cfg.OrderbookDepth
	m.logger.Info("orderbook subscription started",
		"symbol", symbol, "depth", depth, "throttle", throttle)

	m.loop(ctx, "orderbook_"+symbol, throttle, streamBackoff, func(ctx context.Context) error {
		ob, err := m.adapter.WatchOrderBook(ctx, symbol, depth)
		if err != nil {
			return err
		}
		return push(ctx, m.Orderbook, model.Envelope{
			Kind: model.KindOrderbook, Symbol: symbol, Orderbook: &ob,
		})
	})

	m.logger.Info("orderbook subscription stopped", "symbol", symbol)
}

func (m *Manager) runTrades(ctx context.Context, symbol string) {
	throttle := ParseInterval(m.interval("trades", "realtime"), m.logger)
	m.logger.Info("trades subscription started", "symbol", symbol, "throttle", throttle)

	m.loop(ctx, "trades_"+symbol, throttle, streamBackoff, func(ctx context.Context) error {
		trades, err := m.adapter.WatchTrades(ctx, symbol)
		if err != nil {
			return err
		}
		// One envelope per trade, preserving delivery order.
		for i := range trades {
			err := push(ctx, m.Trades, model.Envelope{
				Kind: model.KindTrade, Symbol: symbol, Trade: &trades[i],
			})
			if err != nil {
				return err
			}
		}
		return nil
	})

	m.logger.Info("trades subscription stopped", "symbol", symbol)
}

func (m *Manager) runOHLCV(ctx context.Context, symbol, timeframe string) {
	throttle := ParseInterval(m.interval("klines", "1m"), m.logger)
	m.logger.Info("ohlcv subscription started",
		"symbol", symbol, "timeframe", timeframe, "throttle", throttle)

	m.loop(ctx, "ohlcv_"+symbol+"_"+timeframe, throttle, streamBackoff, func(ctx context.Context) error {
		candles, err := m.adapter.WatchOHLCV(ctx, symbol, timeframe)
		if err != nil {
			return err
		}
		for i := range candles {
			err := push(ctx, m.OHLCV, model.Envelope{
				Kind: model.KindOHLCV, Symbol: symbol, Timeframe: timeframe, Candle: &candles[i],
			})
			if err != nil {
				return err
			}
		}
		return nil
	})

	m.logger.Info("ohlcv subscription stopped", "symbol", symbol, "timeframe", timeframe)
}

func (m *Manager) runFunding(ctx context.Context, symbol string) {
	poll := ParseInterval(m.interval("funding", "8h"), m.logger)
	if poll == 0 {
		poll = defaultFundingPoll
	}
	m.logger.Info("funding rate subscription started", "symbol", symbol, "poll", poll)

	m.loop(ctx, "funding_"+symbol, poll, fundingBackoff, func(ctx context.Context) error {
		f, err := m.adapter.FetchFundingRate(ctx, symbol)
		if err != nil {
			return err
		}
		return push(ctx, m.Funding, model.Envelope{
			Kind: model.KindFundingRate, Symbol: symbol, Funding: &f,
		})
	})

	m.logger.Info("funding rate subscription stopped", "symbol", symbol)
}

func (m *Manager) runMarkPrice(ctx context.Context, symbol string) {
	poll := ParseInterval(m.interval("mark_price", "1m"), m.logger)
	if poll == 0 {
		poll = defaultMarkPricePoll
	}
	m.logger.Info("mark price subscription started", "symbol", symbol, "poll", poll)

	m.loop(ctx, "mark_price_"+symbol, poll, markPriceBackoff, func(ctx context.Context) error {
		price, ok, err := m.adapter.DeriveMarkPrice(ctx, symbol)
		if err != nil {
			return err
		}
		if !ok {
			// Nothing to derive from yet; try again next cycle.
			return nil
		}
		// Timestamp is left zero and stamped at persist time.
		return push(ctx, m.MarkPrice, model.Envelope{
			Kind: model.KindMarkPrice, Symbol: symbol,
			MarkPrice: &model.MarkPrice{Symbol: symbol, MarkPrice: price},
		})
	})

	m.logger.Info("mark price subscription stopped", "symbol", symbol)
}
