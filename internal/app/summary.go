package app

import (
	"fmt"
	"strings"

	"simdesk/internal/config"
)

type StartupSummary struct {
	HTTP       HTTPSummary
	Market     MarketSummary
	Simulation SimulationSummary
	Session    SessionSummary
	Shared     SharedSummary
	OracleURL  string
}

type HTTPSummary struct {
	Addr        string
	CORSOrigins string
}

type MarketSummary struct {
	Provider   string
	Instrument string
	CacheDir   string
}

type SimulationSummary struct {
	InitialBalance float64
	WindowSize     int
	Indicators     []string
	LookbackUnits  int
}

type SessionSummary struct {
	Backend      string
	TTLSeconds   int
	DeleteOnDone bool
}

type SharedSummary struct {
	DBPath           string
	Pairs            []string
	Intervals        []string
	MaxBackfillSteps int
}

func newStartupSummary(cfg *config.Config, provider string) *StartupSummary {
	return &StartupSummary{
		HTTP: HTTPSummary{Addr: cfg.App.HTTPAddr, CORSOrigins: cfg.App.CORSOrigins},
		Market: MarketSummary{
			Provider:   provider,
			Instrument: cfg.Market.Instrument,
			CacheDir:   cfg.Market.CacheDir,
		},
		Simulation: SimulationSummary{
			InitialBalance: cfg.Simulation.InitialBalance,
			WindowSize:     cfg.Simulation.WindowSize,
			Indicators:     cfg.Simulation.Indicators,
			LookbackUnits:  cfg.Simulation.LookbackUnits,
		},
		Session: SessionSummary{
			Backend:      cfg.Session.Backend,
			TTLSeconds:   cfg.Session.TTLSeconds,
			DeleteOnDone: cfg.Session.DeleteOnDone,
		},
		Shared: SharedSummary{
			DBPath:           cfg.Shared.DBPath,
			Pairs:            cfg.Shared.AllowedPairs,
			Intervals:        cfg.Shared.AllowedIntervals,
			MaxBackfillSteps: cfg.Shared.MaxBackfillSteps,
		},
		OracleURL: cfg.Oracle.URL,
	}
}

func (s *StartupSummary) Print() {
	fmt.Print(s.String())
}

func (s *StartupSummary) String() string {
	var b strings.Builder
	title := "启动配置摘要 (STARTUP SUMMARY)"
	b.WriteString(strings.Repeat("=", 80) + "\n")
	fmt.Fprintf(&b, "%*s\n", 40+len(title)/2, title)
	b.WriteString(strings.Repeat("=", 80) + "\n")

	b.WriteString("[HTTP]\n")
	fmt.Fprintf(&b, "  监听地址: %s\n", s.HTTP.Addr)
	fmt.Fprintf(&b, "  CORS: %s\n\n", orDash(s.HTTP.CORSOrigins))

	b.WriteString("[行情数据 (MARKET DATA)]\n")
	fmt.Fprintf(&b, "  数据源: %s\n", s.Market.Provider)
	fmt.Fprintf(&b, "  默认品种: %s\n", s.Market.Instrument)
	fmt.Fprintf(&b, "  本地缓存: %s\n\n", orDash(s.Market.CacheDir))

	b.WriteString("[模拟参数 (SIMULATION)]\n")
	fmt.Fprintf(&b, "  初始资金: %.2f\n", s.Simulation.InitialBalance)
	fmt.Fprintf(&b, "  窗口大小: %d\n", s.Simulation.WindowSize)
	fmt.Fprintf(&b, "  指标: %s\n", formatList(s.Simulation.Indicators))
	fmt.Fprintf(&b, "  回看单位: %d\n\n", s.Simulation.LookbackUnits)

	b.WriteString("[会话 (SESSIONS)]\n")
	fmt.Fprintf(&b, "  存储: %s\n", s.Session.Backend)
	fmt.Fprintf(&b, "  TTL: %ds\n", s.Session.TTLSeconds)
	fmt.Fprintf(&b, "  结束即删除: %v\n\n", s.Session.DeleteOnDone)

	b.WriteString("[共享会话与动作 (SHARED / ACTIONS)]\n")
	fmt.Fprintf(&b, "  数据库: %s\n", s.Shared.DBPath)
	fmt.Fprintf(&b, "  交易对: %s\n", formatList(s.Shared.Pairs))
	fmt.Fprintf(&b, "  周期: %s\n", formatList(s.Shared.Intervals))
	fmt.Fprintf(&b, "  回填上限: %d\n", s.Shared.MaxBackfillSteps)
	fmt.Fprintf(&b, "  Oracle: %s\n", s.OracleURL)
	b.WriteString(strings.Repeat("=", 80) + "\n")
	return b.String()
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
