package health

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/dep2p/go-mesh/config"
	"github.com/dep2p/go-mesh/internal/core/envelope"
	"github.com/dep2p/go-mesh/internal/core/eventbus"
	"github.com/dep2p/go-mesh/internal/core/identity"
	"github.com/dep2p/go-mesh/internal/core/peerstore"
	"github.com/dep2p/go-mesh/internal/core/routing"
	"github.com/dep2p/go-mesh/internal/core/transport"
	"github.com/dep2p/go-mesh/internal/protocol/relay"
	"github.com/dep2p/go-mesh/pkg/lib/log"
	"github.com/dep2p/go-mesh/pkg/types"
)

var logger = log.Logger("protocol/health")

// tickResolution 调度循环的扫描粒度
const tickResolution = 250 * time.Millisecond

// Monitor 邻居健康监控
type Monitor struct {
	cfg    config.HealthConfig
	self   types.NodeID
	ident  *identity.Identity
	mgr    *transport.Manager
	peers  *peerstore.Peerstore
	routes *routing.Table
	rel    *relay.Relay
	cl     clock.Clock

	emitDegraded    *eventbus.Emitter
	emitUnreachable *eventbus.Emitter
	emitReachable   *eventbus.Emitter
	subConn         *eventbus.Subscription
	subDisc         *eventbus.Subscription

	mu      sync.Mutex
	states  map[types.NodeID]*probeState
	pending map[string]types.NodeID // 在途心跳 uuid → 邻居
	closed  bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New 创建健康监控并挂接中继的心跳/告别分发
func New(cfg config.HealthConfig, ident *identity.Identity, mgr *transport.Manager, peers *peerstore.Peerstore, routes *routing.Table, rel *relay.Relay, bus *eventbus.Bus, cl clock.Clock) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cl == nil {
		cl = clock.New()
	}

	m := &Monitor{
		cfg:     cfg,
		self:    ident.ID(),
		ident:   ident,
		mgr:     mgr,
		peers:   peers,
		routes:  routes,
		rel:     rel,
		cl:      cl,
		states:  make(map[types.NodeID]*probeState),
		pending: make(map[string]types.NodeID),
		stopCh:  make(chan struct{}),
	}

	if bus != nil {
		var err error
		if m.emitDegraded, err = bus.Emitter(new(types.EvtPeerDegraded)); err != nil {
			return nil, err
		}
		if m.emitUnreachable, err = bus.Emitter(new(types.EvtPeerUnreachable)); err != nil {
			return nil, err
		}
		if m.emitReachable, err = bus.Emitter(new(types.EvtPeerReachable)); err != nil {
			return nil, err
		}
		if m.subConn, err = bus.Subscribe(new(types.EvtPeerConnected)); err != nil {
			return nil, err
		}
		if m.subDisc, err = bus.Subscribe(new(types.EvtPeerDisconnected)); err != nil {
			return nil, err
		}
	}

	if err := rel.Register(envelope.Heartbeat, m.handleHeartbeat); err != nil {
		return nil, err
	}
	if err := rel.Register(envelope.HeartbeatAck, m.handleAck); err != nil {
		return nil, err
	}
	if err := rel.Register(envelope.Goodbye, m.handleGoodbye); err != nil {
		return nil, err
	}

	return m, nil
}

// Start 启动调度循环，并把已连接的邻居纳入监控
func (m *Monitor) Start(ctx context.Context) error {
	for _, peer := range m.mgr.ConnectedPeers() {
		m.track(peer)
	}

	m.wg.Add(1)
	go m.loop()

	if m.subConn != nil {
		m.wg.Add(1)
		go m.watchEvents()
	}

	logger.Info("健康监控已启动",
		"initialInterval", m.cfg.InitialInterval.String(),
		"probeTimeout", m.cfg.ProbeTimeout.String(),
		"unreachableAfter", m.cfg.UnreachableAfter.String())
	return nil
}

// Stop 停止监控；按配置向在监邻居告别
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	tracked := make([]types.NodeID, 0, len(m.states))
	for peer := range m.states {
		tracked = append(tracked, peer)
	}
	m.mu.Unlock()

	if m.cfg.EnableGoodbye {
		for _, peer := range tracked {
			m.sayGoodbye(peer, GoodbyeShutdown)
		}
	}

	close(m.stopCh)
	if m.subConn != nil {
		_ = m.subConn.Close()
	}
	if m.subDisc != nil {
		_ = m.subDisc.Close()
	}
	m.wg.Wait()

	logger.Info("健康监控已停止", "tracked", len(tracked))
	return nil
}

// Snapshot 返回单个邻居的健康快照
func (m *Monitor) Snapshot(peer types.NodeID) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[peer]
	if !ok {
		return Snapshot{}, false
	}
	return m.snapshotLocked(st), true
}

// Snapshots 返回全部在监邻居的健康快照
func (m *Monitor) Snapshots() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, 0, len(m.states))
	for _, st := range m.states {
		out = append(out, m.snapshotLocked(st))
	}
	return out
}

func (m *Monitor) snapshotLocked(st *probeState) Snapshot {
	return Snapshot{
		Peer:        st.peer,
		Interval:    st.interval,
		AvgRTT:      st.avgRTT(),
		Samples:     len(st.rtts),
		Quality:     st.quality(m.cfg.RTTBudget.Duration()),
		MissStreak:  st.missStreak,
		LastSuccess: st.lastSuccess,
		Degraded:    st.degraded,
	}
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	ticker := m.cl.Ticker(tickResolution)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep(m.cl.Now())
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) watchEvents() {
	defer m.wg.Done()

	for {
		select {
		case evt, ok := <-m.subConn.Out():
			if !ok {
				return
			}
			if e, ok := evt.(types.EvtPeerConnected); ok {
				m.track(e.Peer)
			}
		case evt, ok := <-m.subDisc.Out():
			if !ok {
				return
			}
			if e, ok := evt.(types.EvtPeerDisconnected); ok {
				m.untrack(e.Peer)
			}
		case <-m.stopCh:
			return
		}
	}
}

// track 把邻居纳入监控；新连接即视为可达
func (m *Monitor) track(peer types.NodeID) {
	now := m.cl.Now()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if st, ok := m.states[peer]; ok && st.pendingID != "" {
		delete(m.pending, st.pendingID)
	}
	m.states[peer] = &probeState{
		peer:        peer,
		interval:    m.cfg.InitialInterval.Duration(),
		nextProbe:   now,
		lastSuccess: now,
	}
	m.mu.Unlock()

	logger.Debug("邻居纳入监控", "peer", log.TruncateID(peer.String(), 8))
	if m.emitReachable != nil {
		_ = m.emitReachable.Emit(types.EvtPeerReachable{
			BaseEvent: types.NewBaseEvent("peer.reachable"),
			Peer:      peer,
		})
	}
}

// untrack 移出监控并清理在途心跳
func (m *Monitor) untrack(peer types.NodeID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[peer]
	if !ok {
		return
	}
	if st.pendingID != "" {
		delete(m.pending, st.pendingID)
	}
	delete(m.states, peer)
}

// sweep 扫一遍全部状态机：结算超时、判定失联、发出到期探测
func (m *Monitor) sweep(now time.Time) {
	type degradeAction struct {
		peer   types.NodeID
		streak int
	}
	type unreachableAction struct {
		peer    types.NodeID
		silence time.Duration
	}
	type qualityAction struct {
		peer    types.NodeID
		quality int
	}
	type probeAction struct {
		peer types.NodeID
		id   string
	}

	var degrades []degradeAction
	var unreachables []unreachableAction
	var qualities []qualityAction
	var probes []probeAction

	m.mu.Lock()
	for peer, st := range m.states {
		// 在途心跳超时结算
		if st.pendingID != "" && !now.Before(st.deadline) {
			delete(m.pending, st.pendingID)
			st.pendingID = ""
			st.missStreak++
			st.stableRun = 0
			st.interval /= 2
			if min := m.cfg.MinInterval.Duration(); st.interval < min {
				st.interval = min
			}
			st.nextProbe = now.Add(st.interval)
			qualities = append(qualities, qualityAction{peer, st.quality(m.cfg.RTTBudget.Duration())})

			if st.missStreak >= m.cfg.DegradedAfter && !st.degraded {
				st.degraded = true
				degrades = append(degrades, degradeAction{peer, st.missStreak})
			}
		}

		// 静默失联判定
		if silence := now.Sub(st.lastSuccess); silence >= m.cfg.UnreachableAfter.Duration() {
			if st.pendingID != "" {
				delete(m.pending, st.pendingID)
			}
			delete(m.states, peer)
			unreachables = append(unreachables, unreachableAction{peer, silence})
			continue
		}

		// 到期探测
		if st.pendingID == "" && !now.Before(st.nextProbe) {
			id := uuid.NewString()
			st.pendingID = id
			st.sentAt = now
			st.deadline = now.Add(m.cfg.ProbeTimeout.Duration())
			m.pending[id] = peer
			probes = append(probes, probeAction{peer, id})
		}
	}
	m.mu.Unlock()

	for _, a := range qualities {
		m.peers.SetQuality(a.peer, a.quality)
		m.routes.SetNeighborQuality(a.peer, a.quality)
	}
	for _, a := range degrades {
		logger.Warn("邻居降级",
			"peer", log.TruncateID(a.peer.String(), 8), "missStreak", a.streak)
		m.peers.SetState(a.peer, types.PeerStateDegraded)
		m.mgr.DegradePeer(a.peer)
		if m.emitDegraded != nil {
			_ = m.emitDegraded.Emit(types.EvtPeerDegraded{
				BaseEvent:  types.NewBaseEvent("peer.degraded"),
				Peer:       a.peer,
				MissStreak: a.streak,
			})
		}
	}
	for _, a := range unreachables {
		logger.Warn("邻居失联，断开连接",
			"peer", log.TruncateID(a.peer.String(), 8), "silence", a.silence.String())
		if m.emitUnreachable != nil {
			_ = m.emitUnreachable.Emit(types.EvtPeerUnreachable{
				BaseEvent: types.NewBaseEvent("peer.unreachable"),
				Peer:      a.peer,
				Silence:   a.silence,
			})
		}
		m.mgr.DisconnectPeer(a.peer)
	}
	for _, a := range probes {
		if err := m.sendProbe(a.peer, a.id); err != nil {
			logger.Debug("心跳发送失败",
				"peer", log.TruncateID(a.peer.String(), 8), "err", err)
		}
	}
}

// sendProbe 发出一个心跳信封，应答超时由扫描循环结算
func (m *Monitor) sendProbe(peer types.NodeID, id string) error {
	payload, err := json.Marshal(probePayload{
		ID:     id,
		SentAt: m.cl.Now().UnixNano(),
	})
	if err != nil {
		return err
	}
	env, err := envelope.New(envelope.Heartbeat, m.self, peer, 1, payload)
	if err != nil {
		return err
	}
	envelope.Sign(env, m.ident.PrivateKey())
	return m.rel.Originate(env)
}

// handleHeartbeat 回显应答
func (m *Monitor) handleHeartbeat(env *envelope.Envelope) error {
	var probe probePayload
	if err := json.Unmarshal(env.Payload, &probe); err != nil {
		return fmt.Errorf("%w: %w", ErrBadProbe, err)
	}

	ack, err := envelope.New(envelope.HeartbeatAck, m.self, env.Sender, 1, env.Payload)
	if err != nil {
		return err
	}
	envelope.Sign(ack, m.ident.PrivateKey())
	return m.rel.Originate(ack)
}

// handleAck 结算一次探测成功
func (m *Monitor) handleAck(env *envelope.Envelope) error {
	var probe probePayload
	if err := json.Unmarshal(env.Payload, &probe); err != nil {
		return fmt.Errorf("%w: %w", ErrBadProbe, err)
	}
	now := m.cl.Now()

	m.mu.Lock()
	peer, ok := m.pending[probe.ID]
	if !ok || peer != env.Sender {
		// 迟到或冒名的应答，超时结算已经处理过
		m.mu.Unlock()
		return nil
	}
	st := m.states[peer]
	delete(m.pending, probe.ID)
	st.pendingID = ""

	rtt := now.Sub(st.sentAt)
	st.pushRTT(rtt, m.cfg.RTTWindow)
	st.missStreak = 0
	st.lastSuccess = now
	st.stableRun++
	if st.stableRun >= m.cfg.StableAfter {
		st.stableRun = 0
		st.interval *= 2
		if max := m.cfg.MaxInterval.Duration(); st.interval > max {
			st.interval = max
		}
	}
	st.nextProbe = now.Add(st.interval)
	recovered := st.degraded
	st.degraded = false
	quality := st.quality(m.cfg.RTTBudget.Duration())
	m.mu.Unlock()

	m.peers.SetQuality(peer, quality)
	m.routes.SetNeighborQuality(peer, quality)
	m.peers.Touch(peer, now)

	if recovered {
		logger.Info("邻居恢复应答", "peer", log.TruncateID(peer.String(), 8))
		m.peers.SetState(peer, types.PeerStateConnected)
		if m.emitReachable != nil {
			_ = m.emitReachable.Emit(types.EvtPeerReachable{
				BaseEvent: types.NewBaseEvent("peer.reachable"),
				Peer:      peer,
			})
		}
	}
	return nil
}

// handleGoodbye 对端主动退网，立即摘除连接
func (m *Monitor) handleGoodbye(env *envelope.Envelope) error {
	var bye goodbyePayload
	if err := json.Unmarshal(env.Payload, &bye); err != nil {
		return fmt.Errorf("%w: %w", ErrBadProbe, err)
	}

	logger.Info("收到告别",
		"peer", log.TruncateID(env.Sender.String(), 8), "reason", bye.Reason)
	m.mgr.DisconnectPeer(env.Sender)
	return nil
}

// sayGoodbye 向邻居发送告别信封
func (m *Monitor) sayGoodbye(peer types.NodeID, reason string) {
	payload, err := json.Marshal(goodbyePayload{Reason: reason})
	if err != nil {
		return
	}
	env, err := envelope.New(envelope.Goodbye, m.self, peer, 1, payload)
	if err != nil {
		return
	}
	envelope.Sign(env, m.ident.PrivateKey())
	if err := m.rel.Originate(env); err != nil {
		logger.Debug("告别发送失败",
			"peer", log.TruncateID(peer.String(), 8), "err", err)
	}
}
