package peerstore

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-mesh/internal/core/storage/engine"
	"github.com/dep2p/go-mesh/internal/core/storage/kv"
)

// kvPrefix 对端档案在 KV 存储中的前缀
var kvPrefix = []byte("peer/")

// ============================================================================
//                              模块定义
// ============================================================================

// Params Peerstore 模块依赖参数
type Params struct {
	fx.In

	Engine engine.Engine
	Clock  clock.Clock
}

// Result Peerstore 模块提供的结果
type Result struct {
	fx.Out

	Peerstore *Peerstore
}

// Module 返回 Peerstore Fx 模块
func Module() fx.Option {
	return fx.Module("peerstore",
		fx.Provide(ProvidePeerstore),
		fx.Invoke(registerLifecycle),
	)
}

// ProvidePeerstore 创建对端档案库
func ProvidePeerstore(p Params) Result {
	store := kv.New(p.Engine, kvPrefix)
	return Result{Peerstore: NewPeerstore(store, p.Clock)}
}

// registerLifecycle 注册生命周期钩子
func registerLifecycle(lc fx.Lifecycle, ps *Peerstore) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return ps.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return ps.Stop(ctx)
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
	Name = "peerstore"
	// Description 模块描述
	Description = "对端档案模块，维护公钥、端点、状态、信誉与链路质量"
)
