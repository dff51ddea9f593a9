package dht

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-mesh/config"
	"github.com/dep2p/go-mesh/internal/core/eventbus"
	"github.com/dep2p/go-mesh/internal/core/identity"
	"github.com/dep2p/go-mesh/internal/core/peerstore"
	"github.com/dep2p/go-mesh/internal/core/storage/engine"
	"github.com/dep2p/go-mesh/internal/core/storage/kv"
	"github.com/dep2p/go-mesh/internal/core/transport"
	"github.com/dep2p/go-mesh/internal/protocol/relay"
)

// 值记录与配额账本在 KV 存储中的前缀
var (
	valuesPrefix = []byte("dht/v/")
	usagePrefix  = []byte("dht/u/")
)

// ============================================================================
//                              模块定义
// ============================================================================

// Params DHT 模块依赖参数
type Params struct {
	fx.In

	Cfg      *config.Config
	Identity *identity.Identity
	Relay    *relay.Relay
	Manager  *transport.Manager
	Peers    *peerstore.Peerstore
	Engine   engine.Engine
	Bus      *eventbus.Bus
	Clock    clock.Clock
}

// Result DHT 模块提供的结果
type Result struct {
	fx.Out

	DHT *DHT
}

// Module 返回 DHT Fx 模块
func Module() fx.Option {
	return fx.Module("dht",
		fx.Provide(ProvideDHT),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideDHT 创建 DHT（构造期即挂接中继的请求/响应信封分发）
func ProvideDHT(p Params) (Result, error) {
	d, err := New(
		p.Cfg.DHT,
		uint8(p.Cfg.Envelope.DefaultHopLimit),
		p.Identity,
		p.Relay,
		p.Manager,
		p.Peers,
		kv.New(p.Engine, valuesPrefix),
		kv.New(p.Engine, usagePrefix),
		p.Bus,
		p.Clock,
	)
	if err != nil {
		return Result{}, err
	}
	return Result{DHT: d}, nil
}

// registerLifecycle 注册生命周期钩子。停机顺序先告别离网再停循环。
func registerLifecycle(lc fx.Lifecycle, d *DHT) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return d.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			if err := d.Leave(ctx); err != nil {
				logger.Warn("离网移交未完成", "err", err)
			}
			return d.Stop(ctx)
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
	Name = "dht"
	// Description 模块描述
	Description = "Kademlia 节点发现与签名地址记录存储，满桶存活竞争，离网告别移交"
)
