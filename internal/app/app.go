package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"simdesk/internal/config"
	"simdesk/internal/logger"
	"simdesk/internal/session"
	"simdesk/internal/shared"
	simhttp "simdesk/internal/transport/http/sim"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动 HTTP 服务。
type App struct {
	cfg      *config.Config
	sessions *session.Service
	actions  *shared.ActionService
	http     *simhttp.Server
	closers  []io.Closer
	Summary  *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动 HTTP 服务，ctx 取消后优雅退出并释放存储。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.http == nil {
		return fmt.Errorf("http server not initialized")
	}
	defer a.Close()

	if a.Summary != nil {
		a.Summary.Print()
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.http.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	return group.Wait()
}

// Close 按创建的逆序关闭底层存储，可重复调用。
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Sessions exposes the per-token session service (tests, tooling).
func (a *App) Sessions() *session.Service {
	if a == nil {
		return nil
	}
	return a.sessions
}

func (a *App) Actions() *shared.ActionService {
	if a == nil {
		return nil
	}
	return a.actions
}

func (a *App) HTTP() *simhttp.Server {
	if a == nil {
		return nil
	}
	return a.http
}
