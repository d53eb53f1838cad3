package binance

import (
	"strings"
	"time"
)

type Config struct {
	RESTBaseURL string
	HTTPTimeout time.Duration
	// PageLimit caps rows per request; Binance allows at most 1500.
	PageLimit int
	Now       func() time.Time
}

func (c *Config) withDefaults() Config {
	out := *c
	out.RESTBaseURL = strings.TrimSpace(out.RESTBaseURL)
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = "https://fapi.binance.com"
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	if out.PageLimit <= 0 || out.PageLimit > maxHistoryLimit {
		out.PageLimit = maxHistoryLimit
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	return out
}
