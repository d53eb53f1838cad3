package config

import (
	"strings"
)

// 默认值常量
const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAppLogFormat      = "text"
	defaultAppHTTPAddr       = ":5000"
	defaultAppCORSOrigins    = "*"
	defaultMarketSource      = "binance"
	defaultMarketInstrument  = "BTC-USD"
	defaultMarketREST        = "https://fapi.binance.com"
	defaultMarketFileDir     = "data/candles"
	defaultMarketHTTPTimeout = 15
	defaultInitialBalance    = 10000
	defaultWindowSize        = 10
	defaultPeakHeight        = 100
	defaultPeakProminence    = 5
	defaultPeakDistance      = 40
	defaultLookbackUnits     = 60
	defaultSessionBackend    = "memory"
	defaultSessionTTL        = 86400
	defaultRedisAddr         = "localhost:6380"
	defaultSessionSQLite     = "data/sessions.db"
	defaultSharedDBPath      = "data/shared.db"
	defaultMaxBackfillSteps  = 5000
	defaultOracleURL         = "http://127.0.0.1:4943/predict"
	defaultOracleTimeout     = 15
	defaultBreakerThreshold  = 5
	defaultBreakerCooldown   = 30
)

var (
	defaultIndicators       = []string{"RSI", "EMA_50"}
	defaultAllowedPairs     = []string{"BTC-USD"}
	defaultAllowedIntervals = []string{"1d"}
)

// Default 返回仅包含默认值的配置，便于测试与无配置文件启动。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults(keySet{})
	return cfg
}

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Simulation.applyDefaults(keys)
	c.Session.applyDefaults(keys)
	c.Shared.applyDefaults(keys)
	c.Oracle.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.cors_origins", &a.CORSOrigins, defaultAppCORSOrigins),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	m.Source = strings.ToLower(strings.TrimSpace(m.Source))
	applyFieldDefaults(keys,
		stringFieldDefault("market.source", &m.Source, defaultMarketSource),
		stringFieldDefault("market.instrument", &m.Instrument, defaultMarketInstrument),
		stringFieldDefault("market.rest_base_url", &m.RESTBaseURL, defaultMarketREST),
		stringFieldDefault("market.file_dir", &m.FileDir, defaultMarketFileDir),
		intFieldDefault("market.http_timeout_seconds", &m.HTTPTimeoutSeconds, defaultMarketHTTPTimeout),
	)
}

func (s *SimulationConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("simulation.initial_balance", &s.InitialBalance, defaultInitialBalance),
		intFieldDefault("simulation.window_size", &s.WindowSize, defaultWindowSize),
		floatFieldDefault("simulation.peak_height", &s.PeakHeight, defaultPeakHeight),
		floatFieldDefault("simulation.peak_prominence", &s.PeakProminence, defaultPeakProminence),
		intFieldDefault("simulation.peak_distance", &s.PeakDistance, defaultPeakDistance),
		intFieldDefault("simulation.lookback_units", &s.LookbackUnits, defaultLookbackUnits),
		fieldDefault{
			key:   "simulation.indicators",
			need:  func() bool { return len(s.Indicators) == 0 },
			apply: func() { s.Indicators = append([]string(nil), defaultIndicators...) },
		},
	)
	s.Indicators = normalizeList(s.Indicators, strings.ToUpper)
}

func (s *SessionConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	s.Backend = strings.ToLower(strings.TrimSpace(s.Backend))
	applyFieldDefaults(keys,
		stringFieldDefault("session.backend", &s.Backend, defaultSessionBackend),
		intFieldDefault("session.ttl_seconds", &s.TTLSeconds, defaultSessionTTL),
		stringFieldDefault("session.redis_addr", &s.RedisAddr, defaultRedisAddr),
		stringFieldDefault("session.sqlite_path", &s.SQLitePath, defaultSessionSQLite),
		boolFieldDefault("session.delete_on_done", &s.DeleteOnDone, true),
	)
}

func (s *SharedConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("shared.db_path", &s.DBPath, defaultSharedDBPath),
		intFieldDefault("shared.max_backfill_steps", &s.MaxBackfillSteps, defaultMaxBackfillSteps),
		floatFieldDefault("shared.initial_balance", &s.InitialBalance, defaultInitialBalance),
		fieldDefault{
			key:   "shared.allowed_pairs",
			need:  func() bool { return len(s.AllowedPairs) == 0 },
			apply: func() { s.AllowedPairs = append([]string(nil), defaultAllowedPairs...) },
		},
		fieldDefault{
			key:   "shared.allowed_intervals",
			need:  func() bool { return len(s.AllowedIntervals) == 0 },
			apply: func() { s.AllowedIntervals = append([]string(nil), defaultAllowedIntervals...) },
		},
	)
}

func (o *OracleConfig) applyDefaults(keys keySet) {
	if o == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("oracle.url", &o.URL, defaultOracleURL),
		intFieldDefault("oracle.timeout_seconds", &o.TimeoutSeconds, defaultOracleTimeout),
		intFieldDefault("oracle.breaker_threshold", &o.BreakerThreshold, defaultBreakerThreshold),
		intFieldDefault("oracle.breaker_cooldown_seconds", &o.BreakerCooldownSeconds, defaultBreakerCooldown),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func normalizeList(items []string, norm func(string) string) []string {
	if len(items) == 0 {
		return nil
	}
	out := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if norm != nil {
			item = norm(item)
		}
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
