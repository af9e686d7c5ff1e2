package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tidewater/mdc/internal/metrics"
	"github.com/tidewater/mdc/internal/model"
	"github.com/tidewater/mdc/internal/storage"
	"github.com/tidewater/mdc/internal/subscription"
)

// queueGaugeInterval paces the queue depth gauge refresh.
const queueGaugeInterval = 5 * time.Second

// Persister consumes envelopes from a subscription Manager's queues
// and writes them to per-symbol storage shards.
type Persister struct {
	basePath string
	mgr      *subscription.Manager
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu     sync.Mutex
	stores map[string]*storage.Store

	running bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// New creates a Persister writing shards under basePath.
func New(basePath string, mgr *subscription.Manager, m *metrics.Metrics, logger *slog.Logger) *Persister {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Persister{
		basePath: basePath,
		mgr:      mgr,
		metrics:  m,
		logger:   logger,
		stores:   make(map[string]*storage.Store),
	}
}

// Start launches one drain goroutine per queue plus the queue depth
// gauge updater.
func (p *Persister) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		p.logger.Warn("persister already running")
		return nil
	}
	p.running = true

	ctx, p.cancel = context.WithCancel(ctx)
	p.group, ctx = errgroup.WithContext(ctx)

	queues := p.queues()
	for name, ch := range queues {
		name, ch := name, ch
		p.group.Go(func() error {
			p.drain(ctx, name, ch)
			return nil
		})
	}

	p.group.Go(func() error {
		ticker := time.NewTicker(queueGaugeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				p.metrics.ObserveQueues(p.mgr)
			}
		}
	})

	p.logger.Info("persister started", "path", p.basePath, "queues", len(queues))
	return nil
}

func (p *Persister) queues() map[string]chan model.Envelope {
	return map[string]chan model.Envelope{
		"ticker":     p.mgr.Ticker,
		"orderbook":  p.mgr.Orderbook,
		"trades":     p.mgr.Trades,
		"ohlcv":      p.mgr.OHLCV,
		"funding":    p.mgr.Funding,
		"mark_price": p.mgr.MarkPrice,
	}
}

// Stop cancels the drains, waits for them to finish, flushes whatever
// the producers left queued, and closes every open shard.
func (p *Persister) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		p.logger.Warn("persister not running")
		return nil
	}
	p.running = false
	p.cancel()
	group := p.group
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		group.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.flush(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	for symbol, store := range p.stores {
		if err := store.Close(); err != nil {
			p.logger.Warn("failed to close shard", "symbol", symbol, "err", err)
		}
	}
	p.stores = make(map[string]*storage.Store)

	p.logger.Info("persister stopped")
	return nil
}

// Store returns the open shard for symbol, creating it on first use.
func (p *Persister) Store(symbol string) (*storage.Store, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.stores[symbol]; ok {
		return s, nil
	}
	s, err := storage.Open(p.basePath, symbol, p.logger)
	if err != nil {
		return nil, err
	}
	p.stores[symbol] = s
	return s, nil
}

// flush writes everything still queued after the drains have exited.
// Producers are stopped (or stalled) by now, so each queue empties in
// one pass; the stop deadline bounds the work.
func (p *Persister) flush(ctx context.Context) {
	for name, ch := range p.queues() {
		flushed := 0
	drained:
		for ctx.Err() == nil {
			select {
			case env := <-ch:
				p.persist(env)
				flushed++
			default:
				break drained
			}
		}
		if flushed > 0 {
			p.logger.Info("flushed queue on stop", "queue", name, "envelopes", flushed)
		}
	}
}

func (p *Persister) drain(ctx context.Context, queue string, ch <-chan model.Envelope) {
	p.logger.Debug("drain started", "queue", queue)
	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("drain stopped", "queue", queue)
			return
		case env := <-ch:
			p.persist(env)
		}
	}
}

// persist writes one envelope. Errors are logged and counted; the
// drain keeps going regardless.
func (p *Persister) persist(env model.Envelope) {
	kind := string(env.Kind)
	p.metrics.EnvelopesTotal.WithLabelValues(kind).Inc()

	store, err := p.Store(env.Symbol)
	if err != nil {
		p.metrics.InsertErrors.WithLabelValues(kind).Inc()
		p.logger.Error("failed to open shard", "symbol", env.Symbol, "err", err)
		return
	}

	start := time.Now()
	switch env.Kind {
	case model.KindTicker:
		err = store.InsertTicker(*env.Ticker)
	case model.KindOrderbook:
		err = store.InsertOrderbook(*env.Orderbook)
	case model.KindTrade:
		_, err = store.InsertTrades([]model.Trade{*env.Trade})
	case model.KindOHLCV:
		_, err = store.InsertOHLCV(env.Timeframe, []model.Candle{*env.Candle})
	case model.KindFundingRate:
		err = store.InsertFundingRate(*env.Funding)
	case model.KindMarkPrice:
		mp := *env.MarkPrice
		// Derived mark prices carry no venue timestamp; stamp at
		// persist time.
		if mp.Timestamp == 0 {
			mp.Timestamp = time.Now().UnixMilli()
		}
		err = store.InsertMarkPrice(mp)
	default:
		p.logger.Warn("envelope with unknown kind dropped", "kind", kind, "symbol", env.Symbol)
		return
	}
	p.metrics.PersistDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		p.metrics.InsertErrors.WithLabelValues(kind).Inc()
		p.logger.Error("storage write failed",
			"kind", kind, "symbol", env.Symbol, "err", err)
		return
	}
	p.metrics.InsertsTotal.WithLabelValues(kind).Inc()
}
