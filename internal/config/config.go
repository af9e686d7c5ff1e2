package config

// CollectorConfig is the root configuration for a collector instance.
type CollectorConfig struct {
	Exchange  ExchangeConfig    `yaml:"exchange"`
	Symbols   []string          `yaml:"symbols"`
	Intervals map[string]string `yaml:"intervals"`
	Orderbook OrderbookConfig   `yaml:"orderbook"`
	Storage   StorageConfig     `yaml:"storage"`
	Runtime   RuntimeConfig     `yaml:"runtime"`
	Metrics   MetricsConfig     `yaml:"metrics"`
	Logging   LoggingConfig     `yaml:"logging"`
}

// ExchangeConfig identifies the upstream venue.
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	MarketType string `yaml:"market_type"` // e.g. "swap" for perpetual futures
	Sandbox    bool   `yaml:"sandbox"`
}

// OrderbookConfig holds order book collection settings.
type OrderbookConfig struct {
	Depth int `yaml:"depth"`
}

// StorageConfig holds persistence settings. Path is the directory that
// receives one SQLite shard per symbol.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// RuntimeConfig holds process runtime settings. AutoStart controls
// whether acquiring a reader implicitly starts the runtime; nil means
// the default (true).
type RuntimeConfig struct {
	LockPath  string `yaml:"lock_path"`
	AutoStart *bool  `yaml:"auto_start"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LoggingConfig holds structured logging settings. File is optional;
// when set, logs are written there instead of stdout.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// AutoStartEnabled resolves the AutoStart default.
func (r RuntimeConfig) AutoStartEnabled() bool {
	if r.AutoStart == nil {
		return true
	}
	return *r.AutoStart
}
