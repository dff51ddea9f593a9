package gossip

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-mesh/config"
	"github.com/dep2p/go-mesh/internal/core/eventbus"
	"github.com/dep2p/go-mesh/internal/core/identity"
	"github.com/dep2p/go-mesh/internal/core/transport"
	"github.com/dep2p/go-mesh/internal/protocol/relay"
)

// ============================================================================
//                              模块定义
// ============================================================================

// Params 反熵模块依赖参数
type Params struct {
	fx.In

	Cfg      *config.Config
	Identity *identity.Identity
	Manager  *transport.Manager
	Relay    *relay.Relay
	Bus      *eventbus.Bus
	Clock    clock.Clock
}

// Result 反熵模块提供的结果
type Result struct {
	fx.Out

	Engine *Engine
}

// Module 返回反熵 Fx 模块
func Module() fx.Option {
	return fx.Module("gossip",
		fx.Provide(ProvideEngine),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideEngine 创建反熵引擎（构造期即挂接中继的记录器与流言分发）
func ProvideEngine(p Params) (Result, error) {
	e, err := New(p.Cfg.Gossip, p.Identity, p.Manager, p.Relay, p.Bus, p.Clock)
	if err != nil {
		return Result{}, err
	}
	return Result{Engine: e}, nil
}

// registerLifecycle 注册生命周期钩子
func registerLifecycle(lc fx.Lifecycle, e *Engine) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return e.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return e.Stop(ctx)
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
	Name = "gossip"
	// Description 模块描述
	Description = "摘要/拉取/推送三段式反熵同步，分区愈合后的补洞通道"
)
