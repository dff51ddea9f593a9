package outbox

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-mesh/config"
	"github.com/dep2p/go-mesh/internal/core/eventbus"
	"github.com/dep2p/go-mesh/internal/protocol/relay"
)

// ============================================================================
//                              模块定义
// ============================================================================

// Params 存储转发模块依赖参数
type Params struct {
	fx.In

	Cfg   *config.Config
	Relay *relay.Relay
	Bus   *eventbus.Bus
	Clock clock.Clock
}

// Result 存储转发模块提供的结果
type Result struct {
	fx.Out

	Outbox *Outbox
}

// Module 返回存储转发 Fx 模块
func Module() fx.Option {
	return fx.Module("outbox",
		fx.Provide(ProvideOutbox),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideOutbox 创建存储转发队列并与中继双向装配：
// 中继的无路兜底入队走这里，这里的重投走中继。
func ProvideOutbox(p Params) (Result, error) {
	o, err := New(p.Cfg.Outbox, p.Bus, p.Clock)
	if err != nil {
		return Result{}, err
	}
	o.BindSender(p.Relay)
	p.Relay.SetSpooler(o)
	return Result{Outbox: o}, nil
}

// registerLifecycle 注册生命周期钩子
func registerLifecycle(lc fx.Lifecycle, o *Outbox) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return o.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return o.Stop(ctx)
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
	Name = "outbox"
	// Description 模块描述
	Description = "指数退避的存储转发队列，目的地恢复后冲刷积压"
)
