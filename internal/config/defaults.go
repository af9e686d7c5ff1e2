package config

// Default values for optional configuration fields.
const (
	DefaultExchangeName   = "bybit"
	DefaultMarketType     = "swap"
	DefaultOrderbookDepth = 50
	DefaultStoragePath    = "data/market"
	DefaultLockPath       = ".mdc.lock"
	DefaultMetricsPort    = 9090
	DefaultMetricsPath    = "/metrics"
	DefaultLogLevel       = "info"
)

func (c *CollectorConfig) applyDefaults() {
	// Exchange defaults
	if c.Exchange.Name == "" {
		c.Exchange.Name = DefaultExchangeName
	}
	if c.Exchange.MarketType == "" {
		c.Exchange.MarketType = DefaultMarketType
	}

	// Orderbook defaults
	if c.Orderbook.Depth == 0 {
		c.Orderbook.Depth = DefaultOrderbookDepth
	}

	// Storage defaults
	if c.Storage.Path == "" {
		c.Storage.Path = DefaultStoragePath
	}

	// Runtime defaults
	if c.Runtime.LockPath == "" {
		c.Runtime.LockPath = DefaultLockPath
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
}
