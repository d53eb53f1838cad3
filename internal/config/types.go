package config

import (
	"strings"
	"time"
)

// Config 是 simdesk 的主配置载体。
type Config struct {
	App        AppConfig        `toml:"app"`
	Market     MarketConfig     `toml:"market"`
	Simulation SimulationConfig `toml:"simulation"`
	Session    SessionConfig    `toml:"session"`
	Shared     SharedConfig     `toml:"shared"`
	Oracle     OracleConfig     `toml:"oracle"`
}

type AppConfig struct {
	Env           string `toml:"env"`
	LogLevel      string `toml:"log_level"`
	LogFormat     string `toml:"log_format"`
	HTTPAddr      string `toml:"http_addr"`
	LogPath       string `toml:"log_path"`
	OracleLog     string `toml:"oracle_log_path"`
	OracleDump    bool   `toml:"oracle_dump_payload"`
	CORSOrigins   string `toml:"cors_origins"`
	WatchSettings bool   `toml:"watch_settings"`
}

// MarketConfig 描述行情数据来源。
type MarketConfig struct {
	Source             string `toml:"source"` // "binance" | "file"
	Instrument         string `toml:"instrument"`
	RESTBaseURL        string `toml:"rest_base_url"`
	FileDir            string `toml:"file_dir"`
	CacheDir           string `toml:"cache_dir"` // 为空则不启用本地 K 线缓存
	HTTPTimeoutSeconds int    `toml:"http_timeout_seconds"`
}

func (m MarketConfig) HTTPTimeout() time.Duration {
	return time.Duration(m.HTTPTimeoutSeconds) * time.Second
}

// SimulationConfig 控制模拟引擎与数据窗口构建参数。
type SimulationConfig struct {
	InitialBalance float64  `toml:"initial_balance"`
	WindowSize     int      `toml:"window_size"`
	Indicators     []string `toml:"indicators"`
	PeakHeight     float64  `toml:"peak_height"`
	PeakProminence float64  `toml:"peak_prominence"`
	PeakDistance   int      `toml:"peak_distance"`
	LookbackUnits  int      `toml:"lookback_units"`
}

// SessionConfig 描述按 token 缓存的会话存储。
type SessionConfig struct {
	Backend       string `toml:"backend"` // "memory" | "redis" | "sqlite"
	TTLSeconds    int    `toml:"ttl_seconds"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	SQLitePath    string `toml:"sqlite_path"`
	DeleteOnDone  bool   `toml:"delete_on_done"`
}

func (s SessionConfig) TTL() time.Duration {
	return time.Duration(s.TTLSeconds) * time.Second
}

// SharedConfig 描述按 (instrument, interval) 持久化的共享会话与动作回填。
type SharedConfig struct {
	DBPath           string   `toml:"db_path"`
	MaxBackfillSteps int      `toml:"max_backfill_steps"`
	AllowedPairs     []string `toml:"allowed_pairs"`
	AllowedIntervals []string `toml:"allowed_intervals"`
	InitialBalance   float64  `toml:"initial_balance"`
}

// AllowsPair reports whether pair is configured for action backfill.
func (s SharedConfig) AllowsPair(pair string) bool {
	return containsFold(s.AllowedPairs, pair)
}

func (s SharedConfig) AllowsInterval(interval string) bool {
	return containsFold(s.AllowedIntervals, interval)
}

// OracleConfig 描述远端动作预测服务。
type OracleConfig struct {
	URL                    string `toml:"url"`
	TimeoutSeconds         int    `toml:"timeout_seconds"`
	BreakerThreshold       int    `toml:"breaker_threshold"`
	BreakerCooldownSeconds int    `toml:"breaker_cooldown_seconds"`
}

func (o OracleConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutSeconds) * time.Second
}

func (o OracleConfig) BreakerCooldown() time.Duration {
	return time.Duration(o.BreakerCooldownSeconds) * time.Second
}

func containsFold(list []string, v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), v) {
			return true
		}
	}
	return false
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
