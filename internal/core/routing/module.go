package routing

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-mesh/config"
	"github.com/dep2p/go-mesh/internal/core/storage/engine"
	"github.com/dep2p/go-mesh/internal/core/storage/kv"
)

// kvPrefix 路由快照在 KV 存储中的前缀
var kvPrefix = []byte("route/")

// ============================================================================
//                              模块定义
// ============================================================================

// Params Routing 模块依赖参数
type Params struct {
	fx.In

	Cfg    *config.Config
	Engine engine.Engine
	Clock  clock.Clock
}

// Result Routing 模块提供的结果
type Result struct {
	fx.Out

	Table *Table
}

// Module 返回 Routing Fx 模块
func Module() fx.Option {
	return fx.Module("routing",
		fx.Provide(ProvideTable),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideTable 创建路由表
func ProvideTable(p Params) Result {
	var store *kv.Store
	if p.Cfg.Routing.Persist {
		store = kv.New(p.Engine, kvPrefix)
	}
	return Result{Table: NewTable(p.Cfg.Routing, store, p.Clock)}
}

// registerLifecycle 注册生命周期钩子
func registerLifecycle(lc fx.Lifecycle, t *Table) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return t.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return t.Stop(ctx)
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
	Name = "routing"
	// Description 模块描述
	Description = "路由表模块，维护直连邻居集、反向路径学习的多跳路由与成本加权选路"
)
