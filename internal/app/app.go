package app

import (
	"context"
	"fmt"

	"quantcore/internal/backtest"
	"quantcore/internal/config"
	"quantcore/internal/logger"
	"quantcore/internal/strategy"
	backtesthttp "quantcore/internal/transport/http/backtest"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动 HTTP 与实时推送消费。
type App struct {
	cfg      *config.Config
	http     *backtesthttp.Server
	backtest *backtest.Service
	builder  *backtest.Builder
	live     *LiveService
	executor *strategy.Executor
	catalog  *strategy.Catalog
	cleanup  func()
	Summary  *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）。ctx 取消时异步回测一并取消。
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if err := logger.Setup(cfg.App.LogLevel, cfg.App.LogPath); err != nil {
		return nil, fmt.Errorf("setup logger: %w", err)
	}
	app, cleanup, err := buildAppWithWire(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.cleanup = cleanup
	return app, nil
}

// Run 启动 HTTP 服务与实时推送消费，ctx 取消后等待进行中的回测结束。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	group, ctx := errgroup.WithContext(ctx)

	if a.http != nil {
		group.Go(func() error {
			if err := a.http.Start(ctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}
	if a.live != nil {
		group.Go(func() error {
			defer a.live.Close()
			if err := a.live.Run(ctx); err != nil && ctx.Err() == nil {
				return fmt.Errorf("live feed error: %w", err)
			}
			return nil
		})
	}

	err := group.Wait()
	if a.backtest != nil {
		a.backtest.Wait()
	}
	return err
}

// Close 释放存储等资源，可重复调用。
func (a *App) Close() {
	if a == nil || a.cleanup == nil {
		return
	}
	a.cleanup()
	a.cleanup = nil
}

// Executor 暴露策略池（供 CLI 与测试使用）。
func (a *App) Executor() *strategy.Executor {
	if a == nil {
		return nil
	}
	return a.executor
}

// Backtests 返回回测服务与数据构建器。
func (a *App) Backtests() (*backtest.Service, *backtest.Builder) {
	if a == nil {
		return nil, nil
	}
	return a.backtest, a.builder
}

// LiveService exposes the underlying live service instance (for testing/replay harnesses).
func (a *App) LiveService() *LiveService {
	if a == nil {
		return nil
	}
	return a.live
}

// HTTP 返回 HTTP 服务。
func (a *App) HTTP() *backtesthttp.Server {
	if a == nil {
		return nil
	}
	return a.http
}
