package health

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-mesh/config"
	"github.com/dep2p/go-mesh/internal/core/eventbus"
	"github.com/dep2p/go-mesh/internal/core/identity"
	"github.com/dep2p/go-mesh/internal/core/peerstore"
	"github.com/dep2p/go-mesh/internal/core/routing"
	"github.com/dep2p/go-mesh/internal/core/transport"
	"github.com/dep2p/go-mesh/internal/protocol/relay"
)

// ============================================================================
//                              模块定义
// ============================================================================

// Params 健康监控模块依赖参数
type Params struct {
	fx.In

	Cfg       *config.Config
	Identity  *identity.Identity
	Manager   *transport.Manager
	Peerstore *peerstore.Peerstore
	Routes    *routing.Table
	Relay     *relay.Relay
	Bus       *eventbus.Bus
	Clock     clock.Clock
}

// Result 健康监控模块提供的结果
type Result struct {
	fx.Out

	Monitor *Monitor
}

// Module 返回健康监控 Fx 模块
func Module() fx.Option {
	return fx.Module("health",
		fx.Provide(ProvideMonitor),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideMonitor 创建健康监控（构造期挂接心跳与告别分发）
func ProvideMonitor(p Params) (Result, error) {
	m, err := New(p.Cfg.Health, p.Identity, p.Manager, p.Peerstore, p.Routes, p.Relay, p.Bus, p.Clock)
	if err != nil {
		return Result{}, err
	}
	return Result{Monitor: m}, nil
}

// registerLifecycle 注册生命周期钩子
func registerLifecycle(lc fx.Lifecycle, m *Monitor) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return m.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return m.Stop(ctx)
		},
	})
}

// ============================================================================
//                              模块元信息
// ============================================================================

// 模块元信息常量
const (
	// Version 模块版本
	Version = "1.0.0"
	// Name 模块名称
	Name = "health"
	// Description 模块描述
	Description = "自适应间隔心跳监控，RTT 质量评分与降级/失联判定"
)
