package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
// Interval strings are deliberately not validated here: an unparsable
// interval degrades to realtime at subscription time rather than
// refusing to start.
func (c *CollectorConfig) Validate() error {
	if c.Exchange.Name == "" {
		return errors.New("exchange.name is required")
	}

	if len(c.Symbols) == 0 {
		return errors.New("symbols must list at least one trading pair")
	}
	for i, s := range c.Symbols {
		if s == "" {
			return fmt.Errorf("symbols[%d] is empty", i)
		}
	}

	if c.Orderbook.Depth < 1 {
		return fmt.Errorf("orderbook.depth must be >= 1, got %d", c.Orderbook.Depth)
	}

	if c.Storage.Path == "" {
		return errors.New("storage.path is required")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}
