package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-mesh/config"
	"github.com/dep2p/go-mesh/internal/core/envelope"
	"github.com/dep2p/go-mesh/internal/core/eventbus"
	"github.com/dep2p/go-mesh/internal/core/identity"
	"github.com/dep2p/go-mesh/internal/core/storage/kv"
	"github.com/dep2p/go-mesh/pkg/lib/log"
	"github.com/dep2p/go-mesh/pkg/types"
)

var logger = log.Logger("core/session")

// Sender 握手信封的发出通道，由中继在装配期注入
type Sender interface {
	Originate(env *envelope.Envelope) error
}

// peerEntry 单个远端的会话槽位
type peerEntry struct {
	mu          sync.Mutex
	sess        *Session
	hs          *handshakeState
	timer       *clock.Timer
	lastAttempt time.Time
	gen         uint64
}

// Manager 会话管理器
//
// 维护每远端一条会话与进行中的握手。
// 锁序：持有槽位锁时不得获取管理器锁之外的锁，
// 发出信封一律在释放槽位锁之后进行。
type Manager struct {
	cfg      config.SessionConfig
	hopLimit uint8
	id       *identity.Identity
	store    *kv.Store // nil = 不持久化
	cl       clock.Clock

	mu    sync.RWMutex
	peers map[types.NodeID]*peerEntry

	sendMu sync.RWMutex
	sender Sender

	emitter *eventbus.Emitter
}

// NewManager 创建会话管理器
//
// store 为 nil 时跳过链状态持久化；bus 为 nil 时不发布事件。
func NewManager(cfg config.SessionConfig, hopLimit uint8, id *identity.Identity, store *kv.Store, bus *eventbus.Bus, cl clock.Clock) (*Manager, error) {
	if cl == nil {
		cl = clock.New()
	}

	m := &Manager{
		cfg:      cfg,
		hopLimit: hopLimit,
		id:       id,
		store:    store,
		cl:       cl,
		peers:    make(map[types.NodeID]*peerEntry),
	}

	if bus != nil {
		emitter, err := bus.Emitter(new(types.EvtSessionEstablished))
		if err != nil {
			return nil, fmt.Errorf("创建会话事件发射器失败: %w", err)
		}
		m.emitter = emitter
	}
	return m, nil
}

// BindSender 注入握手信封的发出通道
//
// 必须在 Start 之前完成绑定。
func (m *Manager) BindSender(s Sender) {
	m.sendMu.Lock()
	m.sender = s
	m.sendMu.Unlock()
}

// Start 恢复持久化的会话链状态
func (m *Manager) Start(ctx context.Context) error {
	if m.store == nil || !m.cfg.Persist {
		return nil
	}
	n, err := m.restoreSessions()
	if err != nil {
		return fmt.Errorf("恢复会话状态失败: %w", err)
	}
	if n > 0 {
		logger.Info("已恢复会话链状态", "count", n)
	}
	return nil
}

// Stop 终止进行中的握手并快照已建立的会话
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.RLock()
	entries := make([]*peerEntry, 0, len(m.peers))
	for _, e := range m.peers {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	states := make([]*sessionState, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		e.hs = nil
		if e.sess != nil {
			states = append(states, e.sess.snapshot())
		}
		e.mu.Unlock()
	}

	if m.store == nil || !m.cfg.Persist {
		return nil
	}
	if err := m.persistSessions(states); err != nil {
		return fmt.Errorf("持久化会话状态失败: %w", err)
	}
	logger.Info("已快照会话链状态", "count", len(states))
	return nil
}

// ============================================================================
// 密封与解封
// ============================================================================

// Seal 用与收件人的会话密封明文
//
// 无已建立会话时返回 ErrNoSession 并在后台发起握手（每节点冷却节流），
// 调用方应将明文转入存储转发队列等待 EvtSessionEstablished。
func (m *Manager) Seal(env *envelope.Envelope, plaintext []byte) error {
	e := m.entry(env.Recipient)
	e.mu.Lock()
	sess := e.sess
	e.mu.Unlock()

	if sess == nil {
		m.maybeInitiate(env.Recipient, e)
		return ErrNoSession
	}
	return sess.Seal(env, plaintext)
}

// Open 用与发送方的会话解封载荷
//
// 本端无会话（如重启丢失状态）时返回 ErrNoSession，
// 并向发送方发起新握手以重建会话。
func (m *Manager) Open(env *envelope.Envelope) ([]byte, error) {
	e := m.entry(env.Sender)
	e.mu.Lock()
	sess := e.sess
	e.mu.Unlock()

	if sess == nil {
		m.maybeInitiate(env.Sender, e)
		return nil, ErrNoSession
	}
	return sess.Open(env)
}

// Established 是否已与节点建立会话
func (m *Manager) Established(peer types.NodeID) bool {
	e := m.lookup(peer)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess != nil
}

// Peers 返回已建立会话的节点列表
func (m *Manager) Peers() []types.NodeID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.NodeID, 0, len(m.peers))
	for id, e := range m.peers {
		e.mu.Lock()
		established := e.sess != nil
		e.mu.Unlock()
		if established {
			out = append(out, id)
		}
	}
	return out
}

// Remove 丢弃与节点的会话与进行中的握手
//
// 节点离网或被拉黑时调用，密钥材料即时覆写。
func (m *Manager) Remove(peer types.NodeID) {
	m.mu.Lock()
	e, ok := m.peers[peer]
	if ok {
		delete(m.peers, peer)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if e.sess != nil {
		e.sess.destroy()
		e.sess = nil
	}
	e.hs = nil
	e.mu.Unlock()
}

// ============================================================================
// 握手编排
// ============================================================================

// Initiate 主动向节点发起握手（已建立或进行中则为空操作）
func (m *Manager) Initiate(peer types.NodeID) {
	e := m.entry(peer)
	e.mu.Lock()
	established := e.sess != nil
	e.mu.Unlock()
	if established {
		return
	}
	m.maybeInitiate(peer, e)
}

// maybeInitiate 发起握手；进行中或冷却期内跳过
func (m *Manager) maybeInitiate(peer types.NodeID, e *peerEntry) {
	if peer.IsEmpty() || peer == m.id.ID() {
		return
	}
	now := m.cl.Now()
	cooldown := m.cfg.HandshakeCooldown.Duration()

	e.mu.Lock()
	if e.hs != nil || (!e.lastAttempt.IsZero() && now.Sub(e.lastAttempt) < cooldown) {
		e.mu.Unlock()
		return
	}

	hs, err := newHandshakeState(m.id, true)
	if err != nil {
		e.mu.Unlock()
		logger.Error("创建握手状态失败", "peer", log.TruncateID(peer.String(), 8), "err", err)
		return
	}
	msg1, _, _, err := hs.hs.WriteMessage(nil, nil)
	if err != nil {
		e.mu.Unlock()
		logger.Error("写入握手消息失败", "peer", log.TruncateID(peer.String(), 8), "err", err)
		return
	}

	e.lastAttempt = now
	e.gen++
	hs.gen = e.gen
	e.hs = hs
	m.armTimeoutLocked(peer, e, e.gen)
	e.mu.Unlock()

	logger.Debug("发起会话握手", "peer", log.TruncateID(peer.String(), 8))
	m.sendStage(peer, stageOne, msg1)
}

// HandleHandshake 处理收到的握手信封（中继按类型分发至此）
func (m *Manager) HandleHandshake(env *envelope.Envelope) error {
	stage, edPub, noiseMsg, err := decodeStage(env.Payload)
	if err != nil {
		return err
	}
	if identity.Fingerprint(edPub) != env.Sender {
		return fmt.Errorf("%w: 载荷公钥与发送方指纹不符", ErrBadHandshake)
	}

	switch stage {
	case stageOne:
		return m.onStageOne(env.Sender, noiseMsg)
	case stageTwo:
		return m.onStageTwo(env.Sender, noiseMsg)
	case stageThree:
		return m.onStageThree(env.Sender, noiseMsg)
	}
	return nil
}

// onStageOne 以响应方身份处理 -> e
//
// 同时打开平局：双方同时持有发起方握手时，NodeID 小的一方保持发起，
// 大的一方放弃己方握手转为响应。
func (m *Manager) onStageOne(peer types.NodeID, msg1 []byte) error {
	e := m.entry(peer)

	e.mu.Lock()
	if e.hs != nil {
		if e.hs.initiator && m.id.ID().Less(peer) {
			e.mu.Unlock()
			logger.Debug("忽略对端的同时打开握手", "peer", log.TruncateID(peer.String(), 8))
			return nil
		}
		e.hs = nil
	}

	hs, err := newHandshakeState(m.id, false)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if _, _, _, err := hs.hs.ReadMessage(nil, msg1); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: 读取 stage1: %v", ErrHandshakeFailed, err)
	}
	binding, err := buildBindingPayload(m.id)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	msg2, _, _, err := hs.hs.WriteMessage(nil, binding)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: 写入 stage2: %v", ErrHandshakeFailed, err)
	}

	e.gen++
	hs.gen = e.gen
	e.hs = hs
	m.armTimeoutLocked(peer, e, e.gen)
	e.mu.Unlock()

	m.sendStage(peer, stageTwo, msg2)
	return nil
}

// onStageTwo 以发起方身份处理 <- e, ee, s, es, payload
func (m *Manager) onStageTwo(peer types.NodeID, msg2 []byte) error {
	e := m.entry(peer)

	e.mu.Lock()
	hs := e.hs
	if hs == nil || !hs.initiator {
		e.mu.Unlock()
		logger.Debug("丢弃无对应握手的 stage2", "peer", log.TruncateID(peer.String(), 8))
		return nil
	}

	remotePayload, _, _, err := hs.hs.ReadMessage(nil, msg2)
	if err != nil {
		e.hs = nil
		e.mu.Unlock()
		return fmt.Errorf("%w: 读取 stage2: %v", ErrHandshakeFailed, err)
	}
	if _, err := verifyBindingPayload(remotePayload, hs.hs.PeerStatic(), peer); err != nil {
		e.hs = nil
		e.mu.Unlock()
		return err
	}
	binding, err := buildBindingPayload(m.id)
	if err != nil {
		e.hs = nil
		e.mu.Unlock()
		return err
	}
	msg3, _, _, err := hs.hs.WriteMessage(nil, binding)
	if err != nil {
		e.hs = nil
		e.mu.Unlock()
		return fmt.Errorf("%w: 写入 stage3: %v", ErrHandshakeFailed, err)
	}

	root := append([]byte(nil), hs.hs.ChannelBinding()...)
	if err := m.establishLocked(e, peer, root, true); err != nil {
		e.mu.Unlock()
		return err
	}
	e.mu.Unlock()

	// 先发 stage3 再广播事件，让响应方先于积压冲刷完成建会话
	m.sendStage(peer, stageThree, msg3)
	m.emitEstablished(peer, true)
	return nil
}

// onStageThree 以响应方身份处理 -> s, se, payload
func (m *Manager) onStageThree(peer types.NodeID, msg3 []byte) error {
	e := m.entry(peer)

	e.mu.Lock()
	hs := e.hs
	if hs == nil || hs.initiator {
		e.mu.Unlock()
		logger.Debug("丢弃无对应握手的 stage3", "peer", log.TruncateID(peer.String(), 8))
		return nil
	}

	remotePayload, _, _, err := hs.hs.ReadMessage(nil, msg3)
	if err != nil {
		e.hs = nil
		e.mu.Unlock()
		return fmt.Errorf("%w: 读取 stage3: %v", ErrHandshakeFailed, err)
	}
	if _, err := verifyBindingPayload(remotePayload, hs.hs.PeerStatic(), peer); err != nil {
		e.hs = nil
		e.mu.Unlock()
		return err
	}

	root := append([]byte(nil), hs.hs.ChannelBinding()...)
	if err := m.establishLocked(e, peer, root, false); err != nil {
		e.mu.Unlock()
		return err
	}
	e.mu.Unlock()

	m.emitEstablished(peer, false)
	return nil
}

// establishLocked 建立会话并清理握手状态（调用方持有 e.mu）
func (m *Manager) establishLocked(e *peerEntry, peer types.NodeID, root []byte, initiator bool) error {
	sess, err := newSession(peer, root, initiator, m.cfg.MaxSkip, m.cl.Now())
	zeroize(root)
	if err != nil {
		e.hs = nil
		return err
	}

	if e.sess != nil {
		e.sess.destroy()
	}
	e.sess = sess
	e.hs = nil
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	return nil
}

// armTimeoutLocked 装载握手超时定时器（调用方持有 e.mu）
func (m *Manager) armTimeoutLocked(peer types.NodeID, e *peerEntry, gen uint64) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = m.cl.AfterFunc(m.cfg.HandshakeTimeout.Duration(), func() {
		e.mu.Lock()
		timedOut := e.hs != nil && e.hs.gen == gen
		if timedOut {
			e.hs = nil
		}
		e.mu.Unlock()
		if timedOut {
			logger.Warn("握手超时", "peer", log.TruncateID(peer.String(), 8))
		}
	})
}

// sendStage 签名并发出一个握手阶段
func (m *Manager) sendStage(peer types.NodeID, stage byte, noiseMsg []byte) {
	payload := encodeStage(stage, m.id.PublicKey(), noiseMsg)
	env, err := envelope.New(envelope.Handshake, m.id.ID(), peer, m.hopLimit, payload)
	if err != nil {
		logger.Error("构造握手信封失败", "err", err)
		return
	}
	envelope.Sign(env, m.id.PrivateKey())

	if err := m.originate(env); err != nil {
		logger.Warn("发出握手信封失败",
			"peer", log.TruncateID(peer.String(), 8),
			"stage", stage,
			"err", err)
	}
}

func (m *Manager) originate(env *envelope.Envelope) error {
	m.sendMu.RLock()
	s := m.sender
	m.sendMu.RUnlock()
	if s == nil {
		return ErrNoSender
	}
	return s.Originate(env)
}

// emitEstablished 记录并广播会话建立
func (m *Manager) emitEstablished(peer types.NodeID, initiator bool) {
	logger.Info("会话已建立",
		"peer", log.TruncateID(peer.String(), 8),
		"initiator", initiator)

	if m.emitter == nil {
		return
	}
	_ = m.emitter.Emit(types.EvtSessionEstablished{
		BaseEvent: types.NewBaseEvent("session.established"),
		Peer:      peer,
		Initiator: initiator,
	})
}

// ============================================================================
// 槽位管理
// ============================================================================

// entry 取或建节点槽位
func (m *Manager) entry(peer types.NodeID) *peerEntry {
	m.mu.RLock()
	e, ok := m.peers[peer]
	m.mu.RUnlock()
	if ok {
		return e
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.peers[peer]; ok {
		return e
	}
	e = &peerEntry{}
	m.peers[peer] = e
	return e
}

// lookup 只读查找节点槽位
func (m *Manager) lookup(peer types.NodeID) *peerEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.peers[peer]
}
