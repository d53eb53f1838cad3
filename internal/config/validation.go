package config

import (
	"fmt"
	"net/url"
	"strings"

	"simdesk/internal/analysis/indicator"
	"simdesk/internal/market"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Simulation.validate(); err != nil {
		return err
	}
	if err := c.Session.validate(); err != nil {
		return err
	}
	if err := c.Shared.validate(); err != nil {
		return err
	}
	if err := c.Oracle.validate(); err != nil {
		return err
	}
	return nil
}

func (m *MarketConfig) validate() error {
	switch m.Source {
	case "binance":
		if strings.TrimSpace(m.RESTBaseURL) == "" {
			return fmt.Errorf("market.rest_base_url is required for binance source")
		}
	case "file":
		if strings.TrimSpace(m.FileDir) == "" {
			return fmt.Errorf("market.file_dir is required for file source")
		}
	default:
		return fmt.Errorf("market.source must be binance or file, got %q", m.Source)
	}
	if strings.TrimSpace(m.Instrument) == "" {
		return fmt.Errorf("market.instrument cannot be empty")
	}
	return nil
}

func (s *SimulationConfig) validate() error {
	if s.WindowSize < 1 {
		return fmt.Errorf("simulation.window_size must be >= 1")
	}
	if s.InitialBalance <= 0 {
		return fmt.Errorf("simulation.initial_balance must be > 0")
	}
	if s.PeakDistance < 1 {
		return fmt.Errorf("simulation.peak_distance must be >= 1")
	}
	if s.PeakProminence < 0 {
		return fmt.Errorf("simulation.peak_prominence must be >= 0")
	}
	if s.LookbackUnits < 0 {
		return fmt.Errorf("simulation.lookback_units must be >= 0")
	}
	if _, err := indicator.ParseSpecs(s.Indicators); err != nil {
		return fmt.Errorf("simulation.indicators: %w", err)
	}
	return nil
}

func (s *SessionConfig) validate() error {
	if s.TTLSeconds <= 0 {
		return fmt.Errorf("session.ttl_seconds must be > 0")
	}
	switch s.Backend {
	case "memory":
	case "redis":
		if strings.TrimSpace(s.RedisAddr) == "" {
			return fmt.Errorf("session.redis_addr is required for redis backend")
		}
	case "sqlite":
		if strings.TrimSpace(s.SQLitePath) == "" {
			return fmt.Errorf("session.sqlite_path is required for sqlite backend")
		}
	default:
		return fmt.Errorf("session.backend must be memory, redis or sqlite, got %q", s.Backend)
	}
	return nil
}

func (s *SharedConfig) validate() error {
	if strings.TrimSpace(s.DBPath) == "" {
		return fmt.Errorf("shared.db_path cannot be empty")
	}
	if s.MaxBackfillSteps <= 0 {
		return fmt.Errorf("shared.max_backfill_steps must be > 0")
	}
	for _, iv := range s.AllowedIntervals {
		if _, err := market.ParseInterval(iv); err != nil {
			return fmt.Errorf("shared.allowed_intervals: %w", err)
		}
	}
	return nil
}

func (o *OracleConfig) validate() error {
	if strings.TrimSpace(o.URL) == "" {
		return fmt.Errorf("oracle.url cannot be empty")
	}
	if _, err := url.ParseRequestURI(o.URL); err != nil {
		return fmt.Errorf("oracle.url invalid: %w", err)
	}
	if o.BreakerThreshold <= 0 {
		return fmt.Errorf("oracle.breaker_threshold must be > 0")
	}
	return nil
}
