package mesh

import (
	"fmt"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/dep2p/go-mesh/internal/core/eventbus"
	"github.com/dep2p/go-mesh/internal/core/identity"
	"github.com/dep2p/go-mesh/internal/core/metrics"
	"github.com/dep2p/go-mesh/internal/core/outbox"
	"github.com/dep2p/go-mesh/internal/core/peerstore"
	"github.com/dep2p/go-mesh/internal/core/routing"
	"github.com/dep2p/go-mesh/internal/core/session"
	"github.com/dep2p/go-mesh/internal/core/storage"
	"github.com/dep2p/go-mesh/internal/core/transport"
	"github.com/dep2p/go-mesh/internal/discovery/dht"
	"github.com/dep2p/go-mesh/internal/protocol/gossip"
	"github.com/dep2p/go-mesh/internal/protocol/health"
	"github.com/dep2p/go-mesh/internal/protocol/relay"
	"github.com/dep2p/go-mesh/pkg/lib/log"
)

// buildApp 组装依赖注入容器。
//
// 模块顺序即生命周期顺序：OnStart 依序执行，OnStop 逆序执行。
// 传输排在会话/中继之前，停机时监听最后关闭，
// 让 DHT 告别与邻居 Goodbye 还能发得出去；
// 存储排最前，路由与会话的落盘钩子之后它才关闭。
func buildApp(o *options, e *Engine) (*fx.App, error) {
	if o.applyLog {
		log.SetLevelByName(o.cfg.Log.Level)
	}

	modules := []fx.Option{
		fx.Supply(o.cfg),
		fx.Provide(provideClock(o)),
	}

	// 身份：程序注入优先于配置中的密钥来源
	if o.ident != nil {
		modules = append(modules, fx.Supply(o.ident))
	} else {
		modules = append(modules, identity.Module())
	}

	modules = append(modules,
		storage.Module(),
		eventbus.Module(),
		metrics.Module(),
		peerstore.Module(),
		routing.Module(),
		transport.Module(),
		session.Module(),
		relay.Module(),
		outbox.Module(),
		gossip.Module(),
		health.Module(),
		dht.Module(),
	)

	// 选项注入的额外传输在监听启动前注册
	if len(o.transports) > 0 {
		extra := o.transports
		modules = append(modules, fx.Invoke(func(m *transport.Manager) {
			for _, t := range extra {
				m.Register(t)
			}
		}))
	}

	modules = append(modules,
		fx.Invoke(injectComponents(e)),
		fx.Invoke(wireEngine(e, o)),
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: zap.NewNop()}
		}),
		fx.NopLogger,
	)

	app := fx.New(modules...)
	if err := app.Err(); err != nil {
		return nil, err
	}
	return app, nil
}

// provideClock 返回时钟构造器，未注入时使用真实时钟
func provideClock(o *options) func() clock.Clock {
	return func() clock.Clock {
		if o.clock != nil {
			return o.clock
		}
		return clock.New()
	}
}

// engineComponents 根句柄需要持有的组件引用
type engineComponents struct {
	fx.In

	Clock    clock.Clock
	Identity *identity.Identity
	Bus      *eventbus.Bus
	Counter  *metrics.Counter
	Peers    *peerstore.Peerstore
	Routes   *routing.Table
	Manager  *transport.Manager
	Sessions *session.Manager
	Relay    *relay.Relay
	Box      *outbox.Outbox
	Gossip   *gossip.Engine
	Health   *health.Monitor
	DHT      *dht.DHT
}

// injectComponents 把容器内的组件引用回填到根句柄
func injectComponents(e *Engine) func(engineComponents) {
	return func(c engineComponents) {
		e.cl = c.Clock
		e.ident = c.Identity
		e.bus = c.Bus
		e.counter = c.Counter
		e.peers = c.Peers
		e.routes = c.Routes
		e.mgr = c.Manager
		e.sessions = c.Sessions
		e.rel = c.Relay
		e.box = c.Box
		e.gossiper = c.Gossip
		e.monitor = c.Health
		e.lookup = c.DHT
	}
}

// wireEngine 挂接根句柄级别的回调与指标导出
func wireEngine(e *Engine, o *options) func() error {
	return func() error {
		e.rel.SetDeliverFunc(e.dispatch)
		e.box.SetFinalizer(e.finalizeQueued)

		if o.registerer != nil {
			col := metrics.NewCollector(metrics.Sources{
				PeersKnown:     func() int { return e.peers.Len() },
				PeersConnected: func() int { return len(e.mgr.ConnectedPeers()) },
				DedupEntries:   func() int { return e.rel.GetStats().DedupEntries },
				OutboxDepth:    e.box.Depth,
				DHTKeys:        func() int { return e.lookup.GetStats().Keys },
				DHTBytes:       func() int64 { return e.lookup.GetStats().StoredBytes },
				Bandwidth:      e.counter.Totals,
			})
			if err := o.registerer.Register(col); err != nil {
				return fmt.Errorf("register metrics collector: %w", err)
			}
		}
		return nil
	}
}
