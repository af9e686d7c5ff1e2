package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/tidewater/mdc/internal/config"
	"github.com/tidewater/mdc/internal/exchange"
	"github.com/tidewater/mdc/internal/exchange/mock"
	"github.com/tidewater/mdc/internal/logger"
	"github.com/tidewater/mdc/internal/metrics"
	"github.com/tidewater/mdc/internal/pipeline"
	"github.com/tidewater/mdc/internal/runtime"
	"github.com/tidewater/mdc/internal/subscription"
	"github.com/tidewater/mdc/internal/version"
)

const stopTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "configs/collector.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Set up structured logging
	log, err := logger.Init("collector", cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		slog.Error("failed to set up logging", "error", err)
		os.Exit(1)
	}

	log.Info("starting collector",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)
	log.Info("configuration loaded",
		"exchange", cfg.Exchange.Name,
		"symbols", len(cfg.Symbols),
		"storage", cfg.Storage.Path,
	)

	adapter, err := newAdapter(cfg)
	if err != nil {
		log.Error("failed to create exchange adapter", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr := subscription.New(subscription.Config{
		Symbols:        cfg.Symbols,
		Intervals:      cfg.Intervals,
		OrderbookDepth: cfg.Orderbook.Depth,
	}, adapter, log)

	m := metrics.New()
	persister := pipeline.New(cfg.Storage.Path, mgr, m, log)
	metricsServer := metrics.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, m, mgr, log)

	rt := runtime.New(runtime.Options{
		LockPath:  cfg.Runtime.LockPath,
		AutoStart: cfg.Runtime.AutoStart,
	}, log)

	// The persister registers first so it stops last, draining what the
	// subscription tasks left behind.
	rt.RegisterCollector("persister",
		func() error { return persister.Start(ctx) },
		func() error { return stopWithTimeout(persister.Stop) },
	)
	rt.RegisterCollector("subscriptions",
		func() error { return mgr.Start(ctx) },
		func() error { return stopWithTimeout(mgr.Stop) },
	)
	rt.RegisterCleanup(adapter.Close)
	rt.RegisterCleanup(func() error { return stopWithTimeout(metricsServer.Stop) })
	rt.RegisterTask(cancel)

	if !rt.AutoStart() {
		log.Info("auto start disabled, exiting")
		return
	}

	if err := rt.Start(); err != nil {
		log.Error("failed to start runtime", "error", err)
		os.Exit(1)
	}
	defer rt.Stop("shutdown")

	if err := metricsServer.Start(ctx); err != nil {
		log.Error("failed to start metrics server", "error", err)
		os.Exit(1)
	}

	// The daemon is its own reader; acquiring the token activates the
	// collector group.
	if _, err := rt.AcquireReader("daemon"); err != nil {
		log.Error("failed to activate collectors", "error", err)
		os.Exit(1)
	}

	log.Info("collector running",
		"metrics_url", fmt.Sprintf("http://localhost:%d%s", cfg.Metrics.Port, cfg.Metrics.Path),
		"lock", rt.LockPath(),
	)

	// Block until a signal (or anything else) stops the runtime.
	<-rt.Done()

	log.Info("collector stopped")
}

// newAdapter selects the exchange adapter for the configured venue.
// Real venue transports are out of scope for this build, so sandbox
// mode and the "mock" venue both map to the deterministic mock.
func newAdapter(cfg *config.CollectorConfig) (exchange.Adapter, error) {
	if cfg.Exchange.Name == "mock" || cfg.Exchange.Sandbox {
		return mock.New(), nil
	}
	return nil, fmt.Errorf("no adapter built for exchange %q (set exchange.sandbox: true to use the mock)", cfg.Exchange.Name)
}

func stopWithTimeout(stop func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return stop(ctx)
}
