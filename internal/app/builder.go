package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"simdesk/internal/analysis/peaks"
	"simdesk/internal/config"
	"simdesk/internal/gateway/binance"
	"simdesk/internal/gateway/candlecache"
	"simdesk/internal/gateway/filesource"
	"simdesk/internal/logger"
	"simdesk/internal/market"
	"simdesk/internal/oracle"
	"simdesk/internal/session"
	"simdesk/internal/shared"
	"simdesk/internal/store"
	"simdesk/internal/store/gormstore"
	"simdesk/internal/store/redisstore"
	"simdesk/internal/store/sqlite"
	simhttp "simdesk/internal/transport/http/sim"
)

type AppBuilder struct {
	cfg *config.Config
	now func() time.Time

	providerFn    func(config.MarketConfig, func() time.Time) (market.Provider, io.Closer, error)
	sessionKVFn   func(context.Context, config.SessionConfig) (store.KV, error)
	sharedStoreFn func(config.SharedConfig) (store.Store, error)
	oracleFn      func(config.OracleConfig) (shared.Predictor, error)
}

type AppBuilderOption func(*AppBuilder)

// WithClock 替换全局时钟（测试用）。
func WithClock(now func() time.Time) AppBuilderOption {
	return func(b *AppBuilder) {
		if now != nil {
			b.now = now
		}
	}
}

func WithProvider(p market.Provider) AppBuilderOption {
	return func(b *AppBuilder) {
		b.providerFn = func(config.MarketConfig, func() time.Time) (market.Provider, io.Closer, error) {
			return p, nil, nil
		}
	}
}

func WithSessionKV(kv store.KV) AppBuilderOption {
	return func(b *AppBuilder) {
		b.sessionKVFn = func(context.Context, config.SessionConfig) (store.KV, error) { return kv, nil }
	}
}

func WithOracle(p shared.Predictor) AppBuilderOption {
	return func(b *AppBuilder) {
		b.oracleFn = func(config.OracleConfig) (shared.Predictor, error) { return p, nil }
	}
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:           cfg,
		now:           func() time.Time { return time.Now().UTC() },
		providerFn:    buildProvider,
		sessionKVFn:   buildSessionKV,
		sharedStoreFn: buildSharedStore,
		oracleFn:      buildOracle,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (app *App, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b == nil || b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	var closers []io.Closer
	defer func() {
		if err == nil {
			return
		}
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	provider, providerCloser, err := b.providerFn(cfg.Market, b.now)
	if err != nil {
		return nil, fmt.Errorf("init market provider: %w", err)
	}
	if providerCloser != nil {
		closers = append(closers, providerCloser)
	}

	params := peaks.Params{
		Height:     cfg.Simulation.PeakHeight,
		Prominence: cfg.Simulation.PeakProminence,
		Distance:   cfg.Simulation.PeakDistance,
	}
	loader := session.NewLoader(provider, params)
	refresher := session.NewRefresher(loader, market.NewWindowPolicy(cfg.Simulation.LookbackUnits), b.now)

	kv, err := b.sessionKVFn(ctx, cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("init session store: %w", err)
	}
	closers = append(closers, kv)
	sessions := session.NewService(
		session.NewStore(kv, refresher, session.WithTTL(cfg.Session.TTL())),
		cfg.Session.DeleteOnDone,
	)

	db, err := b.sharedStoreFn(cfg.Shared)
	if err != nil {
		return nil, fmt.Errorf("init shared store: %w", err)
	}
	closers = append(closers, db)

	predictor, err := b.oracleFn(cfg.Oracle)
	if err != nil {
		return nil, fmt.Errorf("init oracle client: %w", err)
	}

	policy, err := sharedPolicy(cfg)
	if err != nil {
		return nil, err
	}
	sharedStore := shared.NewStore(db, refresher, predictor, cfg.Shared.MaxBackfillSteps)
	actions := shared.NewActionService(sharedStore, shared.NewRepoSink(db.Actions()), policy, b.now)

	server, err := simhttp.NewServer(simhttp.ServerConfig{
		Addr:     cfg.App.HTTPAddr,
		Sessions: sessions,
		Actions:  actions,
		Defaults: simhttp.Defaults{
			Instrument: cfg.Market.Instrument,
			Indicators: cfg.Simulation.Indicators,
			WindowSize: cfg.Simulation.WindowSize,
		},
		CORSOrigins: simhttp.SplitOrigins(cfg.App.CORSOrigins),
	})
	if err != nil {
		return nil, fmt.Errorf("init http server: %w", err)
	}

	logger.Infof("[app] 行情源=%s 会话存储=%s 共享库=%s", provider.Name(), cfg.Session.Backend, cfg.Shared.DBPath)
	return &App{
		cfg:      cfg,
		sessions: sessions,
		actions:  actions,
		http:     server,
		closers:  closers,
		Summary:  newStartupSummary(cfg, provider.Name()),
	}, nil
}

func sharedPolicy(cfg *config.Config) (shared.Policy, error) {
	intervals := make([]market.Interval, 0, len(cfg.Shared.AllowedIntervals))
	for _, raw := range cfg.Shared.AllowedIntervals {
		iv, err := market.ParseInterval(raw)
		if err != nil {
			return shared.Policy{}, fmt.Errorf("shared.allowed_intervals: %w", err)
		}
		intervals = append(intervals, iv)
	}
	return shared.Policy{
		AllowedPairs:     cfg.Shared.AllowedPairs,
		AllowedIntervals: intervals,
		InitialBalance:   cfg.Shared.InitialBalance,
		WindowSize:       cfg.Simulation.WindowSize,
		Indicators:       cfg.Simulation.Indicators,
	}, nil
}

// buildProvider 选择行情源；配置了 cache_dir 时外包一层本地 K 线缓存。
func buildProvider(cfg config.MarketConfig, now func() time.Time) (market.Provider, io.Closer, error) {
	var upstream market.Provider
	switch cfg.Source {
	case "file":
		upstream = filesource.New(cfg.FileDir)
	case "binance", "":
		upstream = binance.New(binance.Config{
			RESTBaseURL: cfg.RESTBaseURL,
			HTTPTimeout: cfg.HTTPTimeout(),
			Now:         now,
		})
	default:
		return nil, nil, fmt.Errorf("unknown market source %q", cfg.Source)
	}
	if cfg.CacheDir == "" {
		return upstream, nil, nil
	}
	cache, err := candlecache.New(cfg.CacheDir, upstream)
	if err != nil {
		return nil, nil, err
	}
	return cache, cache, nil
}

func buildSessionKV(ctx context.Context, cfg config.SessionConfig) (store.KV, error) {
	switch cfg.Backend {
	case "redis":
		return redisstore.New(ctx, redisstore.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	case "sqlite":
		return gormstore.NewKV(cfg.SQLitePath)
	case "memory", "":
		return store.NewMemoryKV(), nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}

func buildSharedStore(cfg config.SharedConfig) (store.Store, error) {
	return sqlite.NewSqliteStore(cfg.DBPath)
}

func buildOracle(cfg config.OracleConfig) (shared.Predictor, error) {
	return oracle.New(oracle.Options{
		URL:              cfg.URL,
		Timeout:          cfg.Timeout(),
		BreakerThreshold: cfg.BreakerThreshold,
		BreakerCooldown:  cfg.BreakerCooldown(),
	})
}
