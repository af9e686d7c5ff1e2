package subscription

import (
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// ParseInterval converts a configured throttle string into a duration.
// "realtime" or empty means no throttling (zero). Supported forms are
// "<n>s", "<n>m", "<n>h", or a bare number of seconds. Anything else
// degrades to realtime with a warning; a bad interval must never stop
// data collection.
func ParseInterval(raw string, logger *slog.Logger) time.Duration {
	if raw == "" || raw == "realtime" {
		return 0
	}

	var unit time.Duration
	switch raw[len(raw)-1] {
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	default:
		// No unit suffix; try raw seconds.
		if secs, err := strconv.ParseFloat(raw, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
		logger.Warn("could not parse interval, using realtime", "interval", raw)
		return 0
	}

	n, err := strconv.ParseFloat(raw[:len(raw)-1], 64)
	if err != nil {
		logger.Warn("could not parse interval, using realtime", "interval", raw)
		return 0
	}
	return time.Duration(n * float64(unit))
}

// parseTimeframes splits a klines interval value into its timeframe
// list. The value may be a single timeframe or comma-separated, e.g.
// "1m,5m,1h". An empty value falls back to 1m.
func parseTimeframes(klines string) []string {
	var out []string
	for _, tf := range strings.Split(klines, ",") {
		if tf = strings.TrimSpace(tf); tf != "" {
			out = append(out, tf)
		}
	}
	if len(out) == 0 {
		out = []string{"1m"}
	}
	return out
}
