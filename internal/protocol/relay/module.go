package relay

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-mesh/config"
	"github.com/dep2p/go-mesh/internal/core/envelope"
	"github.com/dep2p/go-mesh/internal/core/eventbus"
	"github.com/dep2p/go-mesh/internal/core/identity"
	"github.com/dep2p/go-mesh/internal/core/peerstore"
	"github.com/dep2p/go-mesh/internal/core/routing"
	"github.com/dep2p/go-mesh/internal/core/session"
	"github.com/dep2p/go-mesh/internal/core/transport"
)

// ============================================================================
//                              模块定义
// ============================================================================

// Params 中继模块依赖参数
type Params struct {
	fx.In

	Cfg       *config.Config
	Identity  *identity.Identity
	Manager   *transport.Manager
	Peerstore *peerstore.Peerstore
	Routes    *routing.Table
	Sessions  *session.Manager
	Bus       *eventbus.Bus
	Clock     clock.Clock
}

// Result 中继模块提供的结果
type Result struct {
	fx.Out

	Relay *Relay
}

// Module 返回中继 Fx 模块
func Module() fx.Option {
	return fx.Module("relay",
		fx.Provide(ProvideRelay),
		fx.Invoke(registerHandlers),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideRelay 创建中继（同时完成传输/会话层的装配）
func ProvideRelay(p Params) (Result, error) {
	r, err := New(p.Cfg.Relay, p.Identity, p.Manager, p.Peerstore, p.Routes, p.Sessions, p.Bus, p.Clock)
	if err != nil {
		return Result{}, err
	}
	return Result{Relay: r}, nil
}

// registerHandlers 注册会话握手信封的分发
func registerHandlers(r *Relay, sessions *session.Manager) error {
	return r.Register(envelope.Handshake, sessions.HandleHandshake)
}

// registerLifecycle 注册生命周期钩子
func registerLifecycle(lc fx.Lifecycle, r *Relay) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return r.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return r.Stop(ctx)
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
	Name = "relay"
	// Description 模块描述
	Description = "去重/TTL 洪泛中继，入站分发与出站路径选择"
)
