package mesh

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/dep2p/go-mesh/pkg/lib/log"
	"github.com/dep2p/go-mesh/pkg/types"
)

// EngineState 引擎生命周期状态
type EngineState int

const (
	// StateIdle 已创建未启动
	StateIdle EngineState = iota
	// StateStarting 启动中
	StateStarting
	// StateRunning 运行中
	StateRunning
	// StateStopping 停止中
	StateStopping
	// StateStopped 已停止
	StateStopped
)

// String 返回状态的字符串表示
func (s EngineState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	// startTimeout 组件启动总超时
	startTimeout = 30 * time.Second

	// stopTimeout Close 时组件停止总超时
	stopTimeout = 30 * time.Second

	// announceTimeout 启动尾声 DHT 自公告的时间预算
	announceTimeout = 10 * time.Second
)

// ════════════════════════════════════════════════════════════════════════
// 启动
// ════════════════════════════════════════════════════════════════════════

// Start 启动引擎。
//
// 按依赖序拉起全部组件（存储、身份、传输、会话、中继、发现），
// 然后拨号配置中的自举端点并向网格公告自身。
// 自举端点不可达只告警不报错，节点会以孤岛状态等待入站连接。
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}
	if e.started {
		return ErrAlreadyStarted
	}

	e.state = StateStarting
	logger.Info("正在启动引擎")

	initCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()
	if err := e.app.Start(initCtx); err != nil {
		e.state = StateIdle
		logger.Error("引擎启动失败", "err", err)
		return fmt.Errorf("start engine: %w", err)
	}

	// 投递失败事件桥接到应用回调
	sub, err := e.bus.Subscribe(new(types.EvtDeliveryFailed))
	if err == nil {
		e.failSub = sub
		e.wg.Add(1)
		go e.watchFailures(sub)
	} else {
		logger.Warn("订阅投递失败事件失败", "err", err)
	}

	e.bootstrap(ctx)

	e.startedAt = e.cl.Now()
	e.started = true
	e.state = StateRunning
	logger.Info("引擎已启动",
		"id", log.TruncateID(e.ident.ID().String(), 8),
		"endpoints", e.mgr.ListenEndpoints())
	return nil
}

// bootstrap 拨号自举端点并公告自身。
// 全部失败不是错误：孤岛节点依然可以被动接受入站连接。
func (e *Engine) bootstrap(ctx context.Context) {
	dialed := 0
	for _, ep := range e.config.Bootstrap {
		if _, err := e.mgr.Dial(ctx, ep); err != nil {
			logger.Warn("自举拨号失败", "endpoint", ep, "err", err)
			continue
		}
		logger.Debug("自举拨号成功", "endpoint", ep)
		dialed++
	}
	if len(e.config.Bootstrap) > 0 && dialed == 0 {
		logger.Warn("所有自举端点均不可达，节点以孤岛状态启动")
	}
	if dialed == 0 {
		return
	}

	e.announce(ctx)
}

// announce 洪泛 Hello 并发布 DHT 地址记录。
// 在自举与每次主动 Connect 成功后调用，让新邻域尽快学到本节点公钥。
func (e *Engine) announce(ctx context.Context) {
	if err := e.rel.Announce(); err != nil {
		logger.Debug("Hello 洪泛未发出", "err", err)
	}
	actx, cancel := context.WithTimeout(ctx, announceTimeout)
	defer cancel()
	if err := e.lookup.Announce(actx); err != nil {
		logger.Debug("DHT 自公告未完成", "err", err)
	}
}

// ════════════════════════════════════════════════════════════════════════
// 停止
// ════════════════════════════════════════════════════════════════════════

// Stop 优雅停止引擎。
//
// 组件按启动的逆序停止：先是 DHT 告别与状态交接、邻居告别，
// 最后才关闭监听与存储，保证离网通告能发出去。
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}
	if !e.started {
		return ErrNotStarted
	}

	e.state = StateStopping
	logger.Info("正在停止引擎")

	e.stopWatchers()

	if err := e.app.Stop(ctx); err != nil {
		e.state = StateStopped
		e.started = false
		logger.Error("停止引擎失败", "err", err)
		return fmt.Errorf("stop engine: %w", err)
	}

	e.state = StateStopped
	e.started = false
	logger.Info("引擎已停止")
	return nil
}

// Close 关闭引擎并释放全部资源，实例不可复用。幂等。
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}

	var errs error
	if e.started {
		e.state = StateStopping
		e.stopWatchers()

		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		if err := e.app.Stop(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("stop components: %w", err))
		}
		cancel()
	}

	e.state = StateStopped
	e.started = false
	e.closed = true

	if errs != nil {
		logger.Warn("引擎关闭时有组件报错", "err", errs)
		return errs
	}
	logger.Info("引擎已关闭")
	return nil
}

// stopWatchers 关闭事件桥接协程，须在持有 e.mu 时调用
func (e *Engine) stopWatchers() {
	if e.failSub != nil {
		_ = e.failSub.Close()
		e.failSub = nil
	}
	e.wg.Wait()
}

// State 返回当前生命周期状态
func (e *Engine) State() EngineState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}
