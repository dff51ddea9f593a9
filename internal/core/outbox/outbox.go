package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-mesh/config"
	"github.com/dep2p/go-mesh/internal/core/envelope"
	"github.com/dep2p/go-mesh/internal/core/eventbus"
	"github.com/dep2p/go-mesh/pkg/lib/log"
	"github.com/dep2p/go-mesh/pkg/types"
)

var logger = log.Logger("core/outbox")

// Sender 重投发送侧，由中继实现。
// Transmit 只做路径选择与发送，失败不回流到队列。
type Sender interface {
	Transmit(env *envelope.Envelope) error
}

// Finalizer 终结器。
//
// 由门面安装：对未密封的定向 Data 在重投前完成密封与签名。
// 入参是克隆件，终结器可以就地改写；原条目保留明文等待后续重试。
type Finalizer func(env *envelope.Envelope) (*envelope.Envelope, error)

// entry 队列条目
type entry struct {
	env        *envelope.Envelope
	id         types.MessageID
	enqueuedAt time.Time
	attempts   int
	nextRetry  time.Time
	lastErr    error
}

// Outbox 存储转发队列
//
// 每目的地 FIFO，单调度协程重投。队首未到期时该目的地整体等待，
// 保证同一目的地的消息按入队顺序送出。
type Outbox struct {
	cfg config.OutboxConfig
	cl  clock.Clock

	emitFailed *eventbus.Emitter
	subReach   *eventbus.Subscription
	subSession *eventbus.Subscription

	mu     sync.Mutex
	sender Sender
	final  Finalizer
	queues map[types.NodeID][]*entry
	total  int
	closed bool

	kick   chan types.NodeID
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New 创建存储转发队列
func New(cfg config.OutboxConfig, bus *eventbus.Bus, cl clock.Clock) (*Outbox, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cl == nil {
		cl = clock.New()
	}

	o := &Outbox{
		cfg:    cfg,
		cl:     cl,
		queues: make(map[types.NodeID][]*entry),
		kick:   make(chan types.NodeID, 64),
		stopCh: make(chan struct{}),
	}

	if bus != nil {
		em, err := bus.Emitter(new(types.EvtDeliveryFailed))
		if err != nil {
			return nil, err
		}
		o.emitFailed = em

		if o.subReach, err = bus.Subscribe(new(types.EvtPeerReachable)); err != nil {
			return nil, err
		}
		if o.subSession, err = bus.Subscribe(new(types.EvtSessionEstablished)); err != nil {
			return nil, err
		}
	}

	return o, nil
}

// BindSender 绑定重投发送器，必须在 Start 之前调用
func (o *Outbox) BindSender(s Sender) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sender = s
}

// SetFinalizer 安装未密封条目的终结器
func (o *Outbox) SetFinalizer(f Finalizer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.final = f
}

// Start 启动调度协程
func (o *Outbox) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if o.sender == nil {
		o.mu.Unlock()
		return ErrNoSender
	}
	o.mu.Unlock()

	o.wg.Add(1)
	go o.loop()

	if o.subReach != nil {
		o.wg.Add(1)
		go o.watchEvents()
	}

	logger.Info("存储转发队列已启动",
		"globalCap", o.cfg.GlobalCap,
		"perDestCap", o.cfg.PerDestCap,
		"scanInterval", o.cfg.ScanInterval.String())
	return nil
}

// Stop 停止调度并丢弃剩余积压
func (o *Outbox) Stop(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	close(o.stopCh)
	if o.subReach != nil {
		_ = o.subReach.Close()
	}
	if o.subSession != nil {
		_ = o.subSession.Close()
	}
	o.wg.Wait()

	o.mu.Lock()
	remaining := o.total
	o.queues = make(map[types.NodeID][]*entry)
	o.total = 0
	o.mu.Unlock()

	logger.Info("存储转发队列已停止", "discarded", remaining)
	return nil
}

// Enqueue 入队一条待投消息
//
// 信封被克隆，调用方可以继续持有原件。容量超限时丢最旧：
// 目的地队列满丢该目的地队首，全局满丢全局最旧。
func (o *Outbox) Enqueue(dest types.NodeID, env *envelope.Envelope) error {
	now := o.cl.Now()

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrClosed
	}

	q := o.queues[dest]
	if len(q) >= o.cfg.PerDestCap {
		dropped := q[0]
		o.queues[dest] = q[1:]
		o.total--
		logger.Debug("目的地队列满，丢弃最旧条目",
			"dest", log.TruncateID(dest.String(), 8), "id", dropped.id.ShortString())
	} else if o.total >= o.cfg.GlobalCap {
		o.evictOldestLocked()
	}

	e := &entry{
		env:        env.Clone(),
		id:         envelope.ID(env),
		enqueuedAt: now,
		nextRetry:  now,
	}
	o.queues[dest] = append(o.queues[dest], e)
	o.total++

	logger.Debug("消息入队",
		"dest", log.TruncateID(dest.String(), 8),
		"id", e.id.ShortString(),
		"depth", o.total)
	return nil
}

// evictOldestLocked 丢弃全局最旧条目（各队列队首中入队最早者）
func (o *Outbox) evictOldestLocked() {
	var victim types.NodeID
	var oldest time.Time
	found := false
	for dest, q := range o.queues {
		if len(q) == 0 {
			continue
		}
		if !found || q[0].enqueuedAt.Before(oldest) {
			victim = dest
			oldest = q[0].enqueuedAt
			found = true
		}
	}
	if !found {
		return
	}

	q := o.queues[victim]
	dropped := q[0]
	if len(q) == 1 {
		delete(o.queues, victim)
	} else {
		o.queues[victim] = q[1:]
	}
	o.total--
	logger.Debug("全局队列满，丢弃最旧条目",
		"dest", log.TruncateID(victim.String(), 8), "id", dropped.id.ShortString())
}

// Depth 返回全局积压条数
func (o *Outbox) Depth() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.total
}

// DepthFor 返回指定目的地的积压条数
func (o *Outbox) DepthFor(dest types.NodeID) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queues[dest])
}

// attemptsFor 返回目的地队首条目的重试次数，无积压时为 -1
func (o *Outbox) attemptsFor(dest types.NodeID) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	q := o.queues[dest]
	if len(q) == 0 {
		return -1
	}
	return q[0].attempts
}

// loop 调度主循环
func (o *Outbox) loop() {
	defer o.wg.Done()

	ticker := o.cl.Ticker(o.cfg.ScanInterval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			o.scan(types.EmptyNodeID)
		case dest := <-o.kick:
			o.scan(dest)
		case <-o.stopCh:
			return
		}
	}
}

// watchEvents 监听唤醒事件：节点恢复可达、会话建立
func (o *Outbox) watchEvents() {
	defer o.wg.Done()

	for {
		select {
		case evt, ok := <-o.subReach.Out():
			if !ok {
				return
			}
			if e, ok := evt.(types.EvtPeerReachable); ok {
				o.wake(e.Peer)
			}
		case evt, ok := <-o.subSession.Out():
			if !ok {
				return
			}
			if e, ok := evt.(types.EvtSessionEstablished); ok {
				o.wake(e.Peer)
			}
		case <-o.stopCh:
			return
		}
	}
}

// wake 请求立即扫描某目的地，调度忙时丢弃（周期扫描兜底）
func (o *Outbox) wake(dest types.NodeID) {
	select {
	case o.kick <- dest:
	default:
	}
}

// scan 扫描到期条目并重投。dest 为空时扫描全部目的地。
func (o *Outbox) scan(dest types.NodeID) {
	now := o.cl.Now()

	var targets []types.NodeID
	o.mu.Lock()
	if dest.IsEmpty() {
		targets = make([]types.NodeID, 0, len(o.queues))
		for d := range o.queues {
			targets = append(targets, d)
		}
	} else if _, ok := o.queues[dest]; ok {
		targets = []types.NodeID{dest}
	}
	o.mu.Unlock()

	for _, d := range targets {
		o.drainDest(d, now)
	}
}

// drainDest 按 FIFO 重投单个目的地的到期条目
//
// 队首未到期则整个目的地等待；重投失败推进退避并停止本轮，
// 后续条目大概率同样失败，没必要逐条撞。
func (o *Outbox) drainDest(dest types.NodeID, now time.Time) {
	for {
		o.mu.Lock()
		q := o.queues[dest]
		if len(q) == 0 || o.closed {
			o.mu.Unlock()
			return
		}
		head := q[0]
		if now.Before(head.nextRetry) {
			o.mu.Unlock()
			return
		}
		sender := o.sender
		final := o.final
		o.mu.Unlock()

		err := o.transmit(head, sender, final)
		if err == nil {
			o.remove(dest, head)
			logger.Debug("积压消息已重投",
				"dest", log.TruncateID(dest.String(), 8),
				"id", head.id.ShortString(),
				"attempts", head.attempts+1)
			continue
		}

		if o.backoff(dest, head, err, now) {
			return
		}
	}
}

// transmit 发送一个条目，必要时先经终结器补齐密封
func (o *Outbox) transmit(e *entry, sender Sender, final Finalizer) error {
	wire := e.env
	if needsFinalize(wire) && final != nil {
		sealed, err := final(wire.Clone())
		if err != nil {
			return err
		}
		wire = sealed
	}
	return sender.Transmit(wire)
}

// needsFinalize 判断条目是否还缺密封（定向明文 Data）
func needsFinalize(env *envelope.Envelope) bool {
	return env.Type == envelope.Data &&
		!env.IsBroadcast() &&
		!env.Flags.Has(envelope.FlagEncrypted)
}

// remove 从队列中摘除已投出的条目
func (o *Outbox) remove(dest types.NodeID, e *entry) {
	o.mu.Lock()
	defer o.mu.Unlock()

	q := o.queues[dest]
	for i, cur := range q {
		if cur == e {
			q = append(q[:i], q[i+1:]...)
			o.total--
			break
		}
	}
	if len(q) == 0 {
		delete(o.queues, dest)
	} else {
		o.queues[dest] = q
	}
}

// backoff 记录一次失败：推进退避或重试耗尽后丢弃。
// 返回 true 表示该目的地本轮扫描应当结束。
func (o *Outbox) backoff(dest types.NodeID, e *entry, cause error, now time.Time) bool {
	delay := o.cfg.BackoffBase.Duration() << uint(e.attempts)
	if max := o.cfg.BackoffMax.Duration(); delay > max || delay <= 0 {
		delay = max
	}

	o.mu.Lock()
	e.attempts++
	e.lastErr = cause
	e.nextRetry = now.Add(delay)
	exhausted := e.attempts >= o.cfg.MaxAttempts
	o.mu.Unlock()

	if !exhausted {
		logger.Debug("重投失败，退避等待",
			"dest", log.TruncateID(dest.String(), 8),
			"id", e.id.ShortString(),
			"attempts", e.attempts,
			"retryIn", delay.String(),
			"error", cause)
		return true
	}

	o.remove(dest, e)
	logger.Warn("重试耗尽，丢弃消息",
		"dest", log.TruncateID(dest.String(), 8),
		"id", e.id.ShortString(),
		"attempts", e.attempts,
		"error", cause)

	if o.emitFailed != nil {
		_ = o.emitFailed.Emit(types.EvtDeliveryFailed{
			BaseEvent:   types.NewBaseEvent("delivery.failed"),
			ID:          e.id,
			Destination: dest,
			Attempts:    e.attempts,
			Reason:      cause,
		})
	}
	// 队首已换人，给后面的条目一次机会
	return false
}
