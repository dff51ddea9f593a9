package session

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-mesh/config"
	"github.com/dep2p/go-mesh/internal/core/eventbus"
	"github.com/dep2p/go-mesh/internal/core/identity"
	"github.com/dep2p/go-mesh/internal/core/storage/engine"
	"github.com/dep2p/go-mesh/internal/core/storage/kv"
)

// kvPrefix 会话快照在 KV 存储中的前缀
var kvPrefix = []byte("session/")

// ============================================================================
//                              模块定义
// ============================================================================

// Params Session 模块依赖参数
type Params struct {
	fx.In

	Cfg      *config.Config
	Identity *identity.Identity
	Engine   engine.Engine
	Bus      *eventbus.Bus
	Clock    clock.Clock
}

// Result Session 模块提供的结果
type Result struct {
	fx.Out

	Sessions *Manager
}

// Module 返回 Session Fx 模块
func Module() fx.Option {
	return fx.Module("session",
		fx.Provide(ProvideManager),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideManager 创建会话管理器
func ProvideManager(p Params) (Result, error) {
	var store *kv.Store
	if p.Cfg.Session.Persist {
		store = kv.New(p.Engine, kvPrefix)
	}

	m, err := NewManager(
		p.Cfg.Session,
		uint8(p.Cfg.Envelope.DefaultHopLimit),
		p.Identity,
		store,
		p.Bus,
		p.Clock,
	)
	if err != nil {
		return Result{}, err
	}
	return Result{Sessions: m}, nil
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
	Name = "session"
	// Description 模块描述
	Description = "会话加密模块，提供 Noise XX 握手、棘轮密钥推进和端到端密封能力"
)
