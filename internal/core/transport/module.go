package transport

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-mesh/config"
	"github.com/dep2p/go-mesh/internal/core/eventbus"
	"github.com/dep2p/go-mesh/internal/core/metrics"
	"github.com/dep2p/go-mesh/internal/core/peerstore"
)

// ============================================================================
//                              模块定义
// ============================================================================

// Params 传输模块依赖参数
type Params struct {
	fx.In

	Cfg       *config.Config
	Counter   *metrics.Counter
	Peerstore *peerstore.Peerstore
	Bus       *eventbus.Bus
}

// Result 传输模块提供的结果
type Result struct {
	fx.Out

	Manager *Manager
}

// Module 返回传输 Fx 模块
func Module() fx.Option {
	return fx.Module("transport",
		fx.Provide(ProvideManager),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideManager 创建传输管理器并按配置注册传输实现。
// 帧处理器与 Hello 构造器由中继在装配阶段注入，监听在生命周期启动时开始。
func ProvideManager(p Params) (Result, error) {
	m, err := NewManager(p.Cfg.Transport, p.Counter, p.Peerstore, p.Bus)
	if err != nil {
		return Result{}, err
	}
	if p.Cfg.Transport.EnableTCP {
		m.Register(NewTCP())
	}
	if p.Cfg.Transport.EnableWS {
		m.Register(NewWS())
	}
	return Result{Manager: m}, nil
}

// registerLifecycle 注册生命周期钩子
func registerLifecycle(lc fx.Lifecycle, m *Manager) {
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
	Name = "transport"
	// Description 模块描述
	Description = "传输模块，聚合 TCP/WebSocket/进程内传输并管理连接生命周期"
)
