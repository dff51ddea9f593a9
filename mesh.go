package mesh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-mesh/config"
	"github.com/dep2p/go-mesh/internal/core/eventbus"
	"github.com/dep2p/go-mesh/internal/core/identity"
	"github.com/dep2p/go-mesh/internal/core/metrics"
	"github.com/dep2p/go-mesh/internal/core/outbox"
	"github.com/dep2p/go-mesh/internal/core/peerstore"
	"github.com/dep2p/go-mesh/internal/core/routing"
	"github.com/dep2p/go-mesh/internal/core/session"
	"github.com/dep2p/go-mesh/internal/core/transport"
	"github.com/dep2p/go-mesh/internal/discovery/dht"
	"github.com/dep2p/go-mesh/internal/protocol/gossip"
	"github.com/dep2p/go-mesh/internal/protocol/health"
	"github.com/dep2p/go-mesh/internal/protocol/relay"
	"github.com/dep2p/go-mesh/pkg/lib/log"
	"github.com/dep2p/go-mesh/pkg/types"
)

var logger = log.Logger("mesh")

// Version 当前版本
const Version = "1.0.0"

// 构建信息，由构建系统通过 ldflags 注入
var (
	// GitCommit Git 提交哈希
	GitCommit = "unknown"

	// BuildDate 构建日期
	BuildDate = "unknown"
)

// VersionInfo 返回完整的版本信息
func VersionInfo() string {
	return fmt.Sprintf("go-mesh %s (commit: %s, built: %s)", Version, GitCommit, BuildDate)
}

// ════════════════════════════════════════════════════════════════════════
// Engine
// ════════════════════════════════════════════════════════════════════════

// Engine 是网格消息引擎的根句柄。
//
// 一个 Engine 对应一个网格节点：持有长期身份、维护与邻居的加密会话、
// 在无中心服务器的网格上路由信封。所有组件经依赖注入装配，
// 进程内可以并存任意多个相互独立的实例。
//
// 典型用法:
//
//	e, err := mesh.New(mesh.WithListenAddrs("tcp://0.0.0.0:9430"))
//	if err != nil { ... }
//	e.OnMessage(func(sender mesh.NodeID, payload []byte) {
//		fmt.Printf("%s: %s\n", sender, payload)
//	})
//	if err := e.Start(ctx); err != nil { ... }
//	defer e.Close()
//
//	id, err := e.Send(ctx, peer, []byte("hello"))
type Engine struct {
	config *config.Config
	app    *fx.App

	// 组件引用，由 fx 注入
	cl       clock.Clock
	ident    *identity.Identity
	bus      *eventbus.Bus
	counter  *metrics.Counter
	peers    *peerstore.Peerstore
	routes   *routing.Table
	mgr      *transport.Manager
	sessions *session.Manager
	rel      *relay.Relay
	box      *outbox.Outbox
	gossiper *gossip.Engine
	monitor  *health.Monitor
	lookup   *dht.DHT

	// 应用回调
	cbMu      sync.RWMutex
	onMessage func(sender types.NodeID, payload []byte)
	onFailed  func(id types.MessageID, reason error)

	// 生命周期
	mu        sync.RWMutex
	state     EngineState
	started   bool
	closed    bool
	startedAt time.Time
	failSub   *eventbus.Subscription
	wg        sync.WaitGroup
}

// New 创建一个新的引擎实例。
//
// 只做装配与校验，不触网络不落盘；实际启动在 Start。
// 所有状态都挂在返回的实例上，不存在全局单例。
func New(opts ...Option) (*Engine, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	e := &Engine{
		config: o.cfg,
		state:  StateIdle,
	}
	app, err := buildApp(o, e)
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}
	e.app = app
	return e, nil
}

// Start 创建并启动引擎，是 New + Engine.Start 的便捷组合
func Start(ctx context.Context, opts ...Option) (*Engine, error) {
	e, err := New(opts...)
	if err != nil {
		return nil, err
	}
	if err := e.Start(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// ID 返回本节点 ID
func (e *Engine) ID() types.NodeID {
	if e.ident == nil {
		return types.EmptyNodeID
	}
	return e.ident.ID()
}

// Addrs 返回实际监听的端点列表（端口 0 已解析为实际端口）
func (e *Engine) Addrs() []string {
	if e.mgr == nil {
		return nil
	}
	return e.mgr.ListenEndpoints()
}

// Config 返回引擎的生效配置
func (e *Engine) Config() *config.Config {
	return e.config
}

// ensureStarted 校验引擎处于可服务状态
func (e *Engine) ensureStarted() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrEngineClosed
	}
	if !e.started {
		return ErrNotStarted
	}
	return nil
}
