package relay

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dep2p/go-mesh/config"
	"github.com/dep2p/go-mesh/internal/core/envelope"
	"github.com/dep2p/go-mesh/internal/core/eventbus"
	"github.com/dep2p/go-mesh/internal/core/identity"
	"github.com/dep2p/go-mesh/internal/core/peerstore"
	"github.com/dep2p/go-mesh/internal/core/routing"
	"github.com/dep2p/go-mesh/internal/core/session"
	"github.com/dep2p/go-mesh/internal/core/transport"
	"github.com/dep2p/go-mesh/pkg/lib/log"
	"github.com/dep2p/go-mesh/pkg/types"
)

var logger = log.Logger("protocol/relay")

// agentName Hello 信封中通告的实现标识
const agentName = "go-mesh/1.0.0"

// announceHopLimit 启动通告的洪泛跳数预算
const announceHopLimit = 3

// Delivery 投递给应用的一条消息
type Delivery struct {
	ID        types.MessageID
	Sender    types.NodeID
	Payload   []byte
	Broadcast bool
}

// Spooler 存储转发队列的入队侧，由外发队列在装配期注入
type Spooler interface {
	Enqueue(dest types.NodeID, env *envelope.Envelope) error
}

// helloPayload Hello 信封载荷
type helloPayload struct {
	PublicKey []byte   `json:"public_key"`
	Endpoints []string `json:"endpoints"`
	Agent     string   `json:"agent"`
}

type ingestItem struct {
	conn  transport.Conn
	frame []byte
}

// Stats 中继运行指标
type Stats struct {
	DedupEntries int
	QueueDepth   int
	Processed    uint64
	Dropped      uint64
}

// ════════════════════════════════════════════════════════════════════════
// Relay
// ════════════════════════════════════════════════════════════════════════

// Relay 去重/TTL 洪泛中继
type Relay struct {
	cfg      config.RelayConfig
	self     *identity.Identity
	mgr      *transport.Manager
	peers    *peerstore.Peerstore
	routes   *routing.Table
	sessions *session.Manager
	cl       clock.Clock

	dedup *lru.Cache[types.MessageID, struct{}]
	reg   *registry
	mlog  *mlogLimiter

	bus           *eventbus.Bus
	emitDelivered *eventbus.Emitter
	sub           *eventbus.Subscription

	mu       sync.RWMutex
	deliver  func(Delivery)
	recorder func(env *envelope.Envelope)
	spooler  Spooler

	queue  chan ingestItem
	stopCh chan struct{}
	wg     sync.WaitGroup
	closed atomic.Bool

	processed atomic.Uint64
	dropped   atomic.Uint64
}

var _ transport.Handler = (*Relay)(nil)
var _ session.Sender = (*Relay)(nil)

// New 创建中继并完成与传输、会话层的双向装配：
// 中继成为传输管理器的帧处理器与 Hello 构造器、会话管理器的发出通道。
func New(cfg config.RelayConfig, self *identity.Identity, mgr *transport.Manager,
	peers *peerstore.Peerstore, routes *routing.Table, sessions *session.Manager,
	bus *eventbus.Bus, cl clock.Clock) (*Relay, error) {

	if cl == nil {
		cl = clock.New()
	}

	dedup, err := lru.New[types.MessageID, struct{}](cfg.DedupCapacity)
	if err != nil {
		return nil, fmt.Errorf("relay: 创建去重缓存失败: %w", err)
	}

	r := &Relay{
		cfg:      cfg,
		self:     self,
		mgr:      mgr,
		peers:    peers,
		routes:   routes,
		sessions: sessions,
		cl:       cl,
		dedup:    dedup,
		reg:      newRegistry(),
		mlog:     newMlogLimiter(cl),
		bus:      bus,
		queue:    make(chan ingestItem, cfg.QueueDepth),
		stopCh:   make(chan struct{}),
	}

	if bus != nil {
		if r.emitDelivered, err = bus.Emitter(new(types.EvtMessageDelivered)); err != nil {
			return nil, fmt.Errorf("relay: 创建投递事件发射器失败: %w", err)
		}
	}

	mgr.SetHandler(r)
	mgr.SetHelloProvider(r.helloFrame)
	if sessions != nil {
		sessions.BindSender(r)
	}
	return r, nil
}

// Start 启动工作池与断开事件监听
func (r *Relay) Start(ctx context.Context) error {
	if r.bus != nil {
		sub, err := r.bus.Subscribe(new(types.EvtPeerDisconnected))
		if err != nil {
			return fmt.Errorf("relay: 订阅断开事件失败: %w", err)
		}
		r.sub = sub
		r.wg.Add(1)
		go r.watchDisconnects(sub)
	}

	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	logger.Info("中继已启动", "workers", r.cfg.Workers, "queue", r.cfg.QueueDepth)
	return nil
}

// Stop 停止工作池，停止后入站帧直接丢弃
func (r *Relay) Stop(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(r.stopCh)
	if r.sub != nil {
		_ = r.sub.Close()
	}
	r.wg.Wait()
	logger.Info("中继已停止", "processed", r.processed.Load(), "dropped", r.dropped.Load())
	return nil
}

// Register 注册控制面信封处理器（会话、健康、流言、DHT 在启动期各自注册）
func (r *Relay) Register(typ envelope.Type, h HandlerFunc) error {
	return r.reg.register(typ, h)
}

// SetDeliverFunc 设置应用消息回调，本地投递恰好一次
func (r *Relay) SetDeliverFunc(fn func(Delivery)) {
	r.mu.Lock()
	r.deliver = fn
	r.mu.Unlock()
}

// SetRecorder 设置近期消息记录器（流言引擎的喂入口）
func (r *Relay) SetRecorder(fn func(env *envelope.Envelope)) {
	r.mu.Lock()
	r.recorder = fn
	r.mu.Unlock()
}

// SetSpooler 设置存储转发队列的入队侧
func (r *Relay) SetSpooler(s Spooler) {
	r.mu.Lock()
	r.spooler = s
	r.mu.Unlock()
}

// GetStats 返回运行指标
func (r *Relay) GetStats() Stats {
	return Stats{
		DedupEntries: r.dedup.Len(),
		QueueDepth:   len(r.queue),
		Processed:    r.processed.Load(),
		Dropped:      r.dropped.Load(),
	}
}

// ════════════════════════════════════════════════════════════════════════
// 传输回调
// ════════════════════════════════════════════════════════════════════════

// HandleFrame 传输读循环的帧入口：只入队，重活都在工作池
func (r *Relay) HandleFrame(c transport.Conn, frame []byte) {
	if r.closed.Load() {
		return
	}
	select {
	case r.queue <- ingestItem{conn: c, frame: frame}:
	default:
		r.dropped.Add(1)
		if n, ok := r.mlog.allow("ingest-queue"); ok {
			logger.Warn("入站队列已满，丢弃帧",
				"remote", c.RemoteEndpoint(), "suppressed", n)
		}
	}
}

// HandleState 连接状态回调
func (r *Relay) HandleState(c transport.Conn, state transport.ConnState) {
	logger.Debug("连接状态变化", "remote", c.RemoteEndpoint(), "state", state.String())
}

func (r *Relay) worker() {
	defer r.wg.Done()
	for {
		select {
		case item := <-r.queue:
			r.process(item.conn, item.frame)
		case <-r.stopCh:
			return
		}
	}
}

func (r *Relay) watchDisconnects(sub *eventbus.Subscription) {
	defer r.wg.Done()
	for {
		select {
		case evt, ok := <-sub.Out():
			if !ok {
				return
			}
			e, ok := evt.(types.EvtPeerDisconnected)
			if !ok {
				continue
			}
			r.routes.RemoveNeighbor(e.Peer)
			r.peers.SetState(e.Peer, types.PeerStateDiscovered)
		case <-r.stopCh:
			return
		}
	}
}

// ════════════════════════════════════════════════════════════════════════
// 入站处理
// ════════════════════════════════════════════════════════════════════════

// process 单帧全流程：解码 → 黑名单 → 验签 → 去重 → 路径学习 → 分发/转发
func (r *Relay) process(c transport.Conn, frame []byte) {
	env, err := envelope.Decode(frame)
	if err != nil {
		r.logMalformed(c, "解码失败", err)
		return
	}
	if !env.Type.Valid() {
		r.logMalformed(c, "未知信封类型", fmt.Errorf("type=%d", uint8(env.Type)))
		return
	}

	// 自己发出的信封绕回，直接丢弃
	if env.Sender.Equal(r.self.ID()) {
		return
	}
	if r.peers.IsBlacklisted(env.Sender) {
		logger.Debug("丢弃黑名单节点信封",
			"sender", log.TruncateID(env.Sender.String(), 8))
		return
	}

	trusted, err := r.authenticate(env)
	if err != nil {
		r.logMalformed(c, "身份校验失败", err)
		return
	}

	id := envelope.ID(env)
	if present, _ := r.dedup.ContainsOrAdd(id, struct{}{}); present {
		return
	}
	r.processed.Add(1)

	// 连接绑定：可信且零跳（直接来自发出者）的首个信封完成身份绑定
	via, bound := r.mgr.PeerOf(c)
	if trusted && !bound && env.Hops() == 0 {
		switch err := r.mgr.BindPeer(c, env.Sender); {
		case err == nil:
			via, bound = env.Sender, true
			r.routes.AddNeighbor(via)
			r.peers.SetState(via, types.PeerStateConnected)
		case errors.Is(err, transport.ErrPeerBlacklisted):
			return
		}
	}

	if bound {
		r.peers.Touch(via, r.cl.Now())
		// 反向路径：origin 经 via 可达，代价随跳数
		if hops := env.Hops(); hops > 0 {
			r.routes.Learn(env.Sender, via, hops)
		}
	}

	if env.Type == envelope.Data {
		r.record(env)
	}

	// 转发预算：每经一跳递减，归零后只许本地投递
	if env.TTL > 0 {
		env.TTL--
	}
	canForward := env.TTL > 0

	if env.Type == envelope.Data {
		r.processData(env, id, via, trusted, canForward)
		return
	}
	r.processControl(env, via, trusted, canForward)
}

func (r *Relay) processData(env *envelope.Envelope, id types.MessageID, via types.NodeID, trusted, canForward bool) {
	switch {
	case env.IsBroadcast():
		r.deliverLocal(env, id, trusted)
		if canForward {
			r.reflood(env, via)
		}
	case env.Recipient.Equal(r.self.ID()):
		r.deliverLocal(env, id, trusted)
	default:
		// 过境：TTL 耗尽的定向信封在此终结
		if canForward {
			r.forwardAddressed(env, via)
		}
	}
}

func (r *Relay) processControl(env *envelope.Envelope, via types.NodeID, trusted, canForward bool) {
	local := env.IsBroadcast() || env.Recipient.Equal(r.self.ID())
	if local && trusted {
		if h, ok := r.reg.get(env.Type); ok {
			if err := h(env); err != nil {
				logger.Debug("控制面处理失败",
					"type", env.Type.String(),
					"sender", log.TruncateID(env.Sender.String(), 8),
					"err", err)
			}
		}
	}

	if !canForward {
		return
	}
	if env.IsBroadcast() {
		r.reflood(env, via)
	} else if !env.Recipient.Equal(r.self.ID()) {
		r.forwardAddressed(env, via)
	}
}

// deliverLocal 本地投递：解封/验签明文 → 解压 → 应用回调恰好一次
func (r *Relay) deliverLocal(env *envelope.Envelope, id types.MessageID, trusted bool) {
	payload := env.Payload

	if env.Flags.Has(envelope.FlagEncrypted) {
		if env.IsBroadcast() {
			logger.Debug("丢弃加密的广播信封",
				"sender", log.TruncateID(env.Sender.String(), 8))
			return
		}
		if r.sessions == nil {
			logger.Warn("收到加密信封但会话层未装配")
			return
		}
		plain, err := r.sessions.Open(env)
		if err != nil {
			logger.Warn("解封失败",
				"sender", log.TruncateID(env.Sender.String(), 8), "err", err)
			return
		}
		payload = plain
	} else if !trusted {
		// 明文投递必须验签通过
		return
	}

	if env.Flags.Has(envelope.FlagCompressed) {
		plain, err := envelope.Decompress(payload, envelope.MaxPayload)
		if err != nil {
			logger.Warn("解压失败",
				"sender", log.TruncateID(env.Sender.String(), 8), "err", err)
			return
		}
		payload = plain
	}

	r.mu.RLock()
	deliver := r.deliver
	r.mu.RUnlock()
	if deliver != nil {
		deliver(Delivery{
			ID:        id,
			Sender:    env.Sender,
			Payload:   payload,
			Broadcast: env.IsBroadcast(),
		})
	}

	if r.emitDelivered != nil {
		_ = r.emitDelivered.Emit(types.EvtMessageDelivered{
			BaseEvent: types.NewBaseEvent("message.delivered"),
			ID:        id,
			Sender:    env.Sender,
		})
	}
}

// ════════════════════════════════════════════════════════════════════════
// 出站路径
// ════════════════════════════════════════════════════════════════════════

// Originate 发出本地创建的信封，与入站转发共用路径选择。
// 定向 Data 无路可走时转入存储转发队列（排队不算失败）。
func (r *Relay) Originate(env *envelope.Envelope) error {
	if r.closed.Load() {
		return ErrClosed
	}

	id := envelope.ID(env)
	r.dedup.Add(id, struct{}{})
	if env.Type == envelope.Data {
		r.record(env)
	}

	frame, err := envelope.Encode(env)
	if err != nil {
		return err
	}

	if env.IsBroadcast() {
		r.flood(frame)
		return nil
	}

	if err := r.routeSend(env.Recipient, frame); err != nil {
		if env.Type == envelope.Data {
			r.mu.RLock()
			sp := r.spooler
			r.mu.RUnlock()
			if sp != nil {
				return sp.Enqueue(env.Recipient, env)
			}
		}
		return err
	}
	return nil
}

// Transmit 重投一个已登记过的信封：只做路径选择与发送，
// 失败不再入队，由存储转发队列自己重排
func (r *Relay) Transmit(env *envelope.Envelope) error {
	if r.closed.Load() {
		return ErrClosed
	}
	frame, err := envelope.Encode(env)
	if err != nil {
		return err
	}
	if env.IsBroadcast() {
		r.flood(frame)
		return nil
	}
	return r.routeSend(env.Recipient, frame)
}

// reflood 把过境的广播信封续洪（排除来路与发出者）
func (r *Relay) reflood(env *envelope.Envelope, via types.NodeID) {
	frame, err := envelope.Encode(env)
	if err != nil {
		return
	}
	r.flood(frame, via, env.Sender)
}

// forwardAddressed 转发过境的定向信封
func (r *Relay) forwardAddressed(env *envelope.Envelope, via types.NodeID) {
	frame, err := envelope.Encode(env)
	if err != nil {
		return
	}
	if err := r.routeSend(env.Recipient, frame, via, env.Sender); err != nil {
		logger.Debug("过境信封无路可走",
			"recipient", log.TruncateID(env.Recipient.String(), 8),
			"type", env.Type.String())
	}
}

// routeSend 定向发送：直连 → 路由下一跳 → 有界洪泛
func (r *Relay) routeSend(dest types.NodeID, frame []byte, except ...types.NodeID) error {
	if err := r.mgr.SendToPeer(dest, frame); err == nil {
		return nil
	}

	if nh, ok := r.routes.NextHop(dest); ok && !nh.Equal(dest) && !slices.Contains(except, nh) {
		if err := r.mgr.SendToPeer(nh, frame); err == nil {
			return nil
		}
	}

	if n := r.flood(frame, except...); n > 0 {
		return nil
	}
	return ErrNoPath
}

// flood 有界洪泛：邻居数超过扇出上限时随机抽样
func (r *Relay) flood(frame []byte, except ...types.NodeID) int {
	ids := r.mgr.ConnectedPeers()
	targets := ids[:0]
	for _, id := range ids {
		if !slices.Contains(except, id) {
			targets = append(targets, id)
		}
	}

	if len(targets) <= r.cfg.Fanout {
		return r.mgr.Broadcast(frame, except...)
	}

	rand.Shuffle(len(targets), func(i, j int) {
		targets[i], targets[j] = targets[j], targets[i]
	})
	sent := 0
	for _, id := range targets[:r.cfg.Fanout] {
		if err := r.mgr.SendToPeer(id, frame); err == nil {
			sent++
		}
	}
	return sent
}

func (r *Relay) record(env *envelope.Envelope) {
	r.mu.RLock()
	recorder := r.recorder
	r.mu.RUnlock()
	if recorder != nil {
		recorder(env.Clone())
	}
}

// ════════════════════════════════════════════════════════════════════════
// 身份校验
// ════════════════════════════════════════════════════════════════════════

// authenticate 校验信封签名。
// Hello/Handshake 载荷自带公钥（自证，失败即丢弃），并顺带教给档案库；
// 其余类型公钥已知则必须验签通过，未知则可过境但不可信。
func (r *Relay) authenticate(env *envelope.Envelope) (trusted bool, err error) {
	switch env.Type {
	case envelope.Hello:
		var hp helloPayload
		if err := json.Unmarshal(env.Payload, &hp); err != nil {
			return false, fmt.Errorf("Hello 载荷解析失败: %w", err)
		}
		if len(hp.PublicKey) != ed25519.PublicKeySize {
			return false, fmt.Errorf("Hello 公钥长度 %d 非法", len(hp.PublicKey))
		}
		if err := r.certify(env, ed25519.PublicKey(hp.PublicKey)); err != nil {
			return false, err
		}
		if len(hp.Endpoints) > 0 {
			_ = r.peers.AddEndpoints(env.Sender, hp.Endpoints...)
		}
		return true, nil

	case envelope.Handshake:
		if len(env.Payload) < 1+ed25519.PublicKeySize {
			return false, fmt.Errorf("握手载荷过短: %d", len(env.Payload))
		}
		pub := ed25519.PublicKey(env.Payload[1 : 1+ed25519.PublicKeySize])
		if err := r.certify(env, pub); err != nil {
			return false, err
		}
		return true, nil

	default:
		pub, known := r.peers.PublicKey(env.Sender)
		if !known {
			return false, nil
		}
		if !envelope.Verify(env, pub) {
			return false, errors.New("签名校验失败")
		}
		return true, nil
	}
}

// certify 自证信封的指纹与签名校验，通过后把公钥教给档案库
func (r *Relay) certify(env *envelope.Envelope, pub ed25519.PublicKey) error {
	if !identity.Fingerprint(pub).Equal(env.Sender) {
		return errors.New("公钥指纹与发送方不符")
	}
	if !envelope.Verify(env, pub) {
		return errors.New("签名校验失败")
	}
	if _, err := r.peers.Upsert(env.Sender); err != nil {
		return err
	}
	return r.peers.SetPublicKey(env.Sender, pub)
}

func (r *Relay) logMalformed(c transport.Conn, what string, err error) {
	r.dropped.Add(1)
	source := c.RemoteEndpoint()
	if n, ok := r.mlog.allow(source); ok {
		logger.Warn("忽略畸形入站帧",
			"reason", what, "source", source, "suppressed", n, "err", err)
	}
}

// ════════════════════════════════════════════════════════════════════════
// Hello
// ════════════════════════════════════════════════════════════════════════

// helloFrame 构造单连接问候帧（跳数预算 1，不再续洪）
func (r *Relay) helloFrame() ([]byte, error) {
	env, err := r.helloEnvelope(1)
	if err != nil {
		return nil, err
	}
	return envelope.Encode(env)
}

// Announce 洪泛自通告，让公钥与端点传播到多跳邻域。
// 引擎在启动与自举拨号完成后调用。
func (r *Relay) Announce() error {
	env, err := r.helloEnvelope(announceHopLimit)
	if err != nil {
		return err
	}
	return r.Originate(env)
}

func (r *Relay) helloEnvelope(hopLimit uint8) (*envelope.Envelope, error) {
	payload, err := json.Marshal(helloPayload{
		PublicKey: r.self.PublicKey(),
		Endpoints: r.mgr.ListenEndpoints(),
		Agent:     agentName,
	})
	if err != nil {
		return nil, fmt.Errorf("relay: 编码 Hello 载荷失败: %w", err)
	}

	env, err := envelope.New(envelope.Hello, r.self.ID(), types.EmptyNodeID, hopLimit, payload)
	if err != nil {
		return nil, err
	}
	envelope.Sign(env, r.self.PrivateKey())
	return env, nil
}
