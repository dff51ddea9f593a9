package transport

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	tec "github.com/jbenet/go-temp-err-catcher"

	"github.com/dep2p/go-mesh/config"
	"github.com/dep2p/go-mesh/internal/core/eventbus"
	"github.com/dep2p/go-mesh/internal/core/metrics"
	"github.com/dep2p/go-mesh/internal/core/peerstore"
	"github.com/dep2p/go-mesh/pkg/lib/log"
	"github.com/dep2p/go-mesh/pkg/types"
)

var logger = log.Logger("core/transport")

// HelloProvider 构造本节点的 Hello 帧。
// 连接建立后（无论入站出站）立即发送，向对端自报身份与监听端点。
type HelloProvider func() ([]byte, error)

// Manager 传输管理器
//
// 按 scheme 聚合多种传输，维护监听器与连接集合。每条连接由独立的读循环
// 驱动，完整帧交给 Handler 处理。连接刚建立时是匿名的，上层在首个验签
// 通过的信封之后调用 BindPeer 建立节点映射，之后才能按节点发送。
type Manager struct {
	cfg     config.TransportConfig
	counter *metrics.Counter
	peers   *peerstore.Peerstore

	emitConnected    *eventbus.Emitter
	emitDisconnected *eventbus.Emitter

	mu         sync.RWMutex
	transports map[string]Transport
	listeners  []Listener
	conns      map[Conn]*connInfo
	byPeer     map[types.NodeID]Conn
	handler    Handler
	hello      HelloProvider
	closed     bool

	wg sync.WaitGroup
}

type connInfo struct {
	peer types.NodeID
	dir  types.Direction
}

// NewManager 创建传输管理器
func NewManager(cfg config.TransportConfig, counter *metrics.Counter, peers *peerstore.Peerstore, bus *eventbus.Bus) (*Manager, error) {
	m := &Manager{
		cfg:        cfg,
		counter:    counter,
		peers:      peers,
		transports: make(map[string]Transport),
		conns:      make(map[Conn]*connInfo),
		byPeer:     make(map[types.NodeID]Conn),
	}

	if bus != nil {
		var err error
		if m.emitConnected, err = bus.Emitter(new(types.EvtPeerConnected)); err != nil {
			return nil, fmt.Errorf("transport: 创建连接事件发射器失败: %w", err)
		}
		if m.emitDisconnected, err = bus.Emitter(new(types.EvtPeerDisconnected)); err != nil {
			return nil, fmt.Errorf("transport: 创建断开事件发射器失败: %w", err)
		}
	}
	return m, nil
}

// Register 注册一种传输，相同 scheme 后注册的覆盖先注册的
func (m *Manager) Register(t Transport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transports[t.Scheme()] = t
}

// SetHandler 设置帧处理器，必须在 Start 之前调用
func (m *Manager) SetHandler(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// SetHelloProvider 设置 Hello 帧构造器
func (m *Manager) SetHelloProvider(f HelloProvider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hello = f
}

// Start 在配置的所有端点上开始监听
func (m *Manager) Start(ctx context.Context) error {
	for _, ep := range m.cfg.ListenAddrs {
		scheme, ok := splitScheme(ep)
		if !ok {
			return fmt.Errorf("%w: %s", ErrInvalidEndpoint, ep)
		}

		m.mu.RLock()
		t := m.transports[scheme]
		m.mu.RUnlock()
		if t == nil {
			return fmt.Errorf("%w: %s", ErrUnknownScheme, ep)
		}

		l, err := t.Listen(ep)
		if err != nil {
			return err
		}

		m.mu.Lock()
		m.listeners = append(m.listeners, l)
		m.mu.Unlock()

		logger.Info("开始监听", "endpoint", l.Endpoint())
		m.wg.Add(1)
		go m.acceptLoop(l)
	}
	return nil
}

// Stop 关闭所有监听器与连接，等待读循环退出
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	listeners := m.listeners
	m.listeners = nil
	conns := make([]Conn, 0, len(m.conns))
	for c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, l := range listeners {
		_ = l.Close()
	}
	for _, c := range conns {
		// 触发各自读循环退出与收尾
		_ = c.Close()
	}
	m.wg.Wait()
	logger.Info("传输管理器已停止")
	return nil
}

func (m *Manager) acceptLoop(l Listener) {
	defer m.wg.Done()

	var catcher tec.TempErrCatcher
	for {
		c, err := l.Accept()
		if err != nil {
			if catcher.IsTemporary(err) {
				continue
			}
			return
		}
		if err := m.addConn(c, types.DirInbound); err != nil {
			_ = c.Close()
			continue
		}
		m.sendHello(c)
	}
}

// addConn 登记新连接并启动读循环
func (m *Manager) addConn(c Conn, dir types.Direction) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.cfg.MaxConns > 0 && len(m.conns) >= m.cfg.MaxConns {
		m.mu.Unlock()
		logger.Warn("连接数已达上限，拒绝新连接", "remote", c.RemoteEndpoint(), "max", m.cfg.MaxConns)
		return ErrTooManyConns
	}
	m.conns[c] = &connInfo{dir: dir}
	h := m.handler
	m.mu.Unlock()

	if h != nil {
		h.HandleState(c, ConnStateConnected)
	}
	m.wg.Add(1)
	go m.readPump(c)
	return nil
}

// readPump 连接的读循环，把完整帧交给处理器
func (m *Manager) readPump(c Conn) {
	defer m.wg.Done()

	for {
		frame, err := c.Recv()
		if err != nil {
			m.teardownConn(c, err)
			return
		}

		peer, _ := m.PeerOf(c)
		if m.counter != nil {
			m.counter.RecordIn(peer, len(frame))
		}

		m.mu.RLock()
		h := m.handler
		m.mu.RUnlock()
		if h != nil {
			h.HandleFrame(c, frame)
		}
	}
}

// teardownConn 注销连接；若连接绑定了节点且仍是该节点的当前连接，
// 发布断开事件。被新连接顶替的旧连接不发事件。
func (m *Manager) teardownConn(c Conn, cause error) {
	m.mu.Lock()
	info, ok := m.conns[c]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.conns, c)

	var peer types.NodeID
	if !info.peer.IsEmpty() && m.byPeer[info.peer] == c {
		peer = info.peer
		delete(m.byPeer, info.peer)
	}
	h := m.handler
	m.mu.Unlock()

	_ = c.Close()
	if h != nil {
		h.HandleState(c, ConnStateClosed)
	}

	if !peer.IsEmpty() {
		logger.Debug("节点连接断开",
			"peer", log.TruncateID(peer.String(), 8),
			"err", cause)
		if m.emitDisconnected != nil {
			_ = m.emitDisconnected.Emit(types.EvtPeerDisconnected{
				BaseEvent: types.NewBaseEvent("peer.disconnected"),
				Peer:      peer,
				Error:     cause,
			})
		}
	}
}

// BindPeer 把连接绑定到节点。
// 上层在首个验签通过的信封之后调用；同一节点已有连接时新连接胜出，
// 旧连接被静默关闭（不发断开事件）。黑名单节点的连接直接关闭。
func (m *Manager) BindPeer(c Conn, id types.NodeID) error {
	if id.IsEmpty() {
		return errors.New("transport: 不能绑定空节点ID")
	}
	if m.peers != nil && m.peers.IsBlacklisted(id) {
		m.teardownConn(c, ErrPeerBlacklisted)
		return ErrPeerBlacklisted
	}

	m.mu.Lock()
	info, ok := m.conns[c]
	if !ok {
		m.mu.Unlock()
		return ErrClosed
	}
	if info.peer.Equal(id) {
		m.mu.Unlock()
		return nil
	}

	var replaced Conn
	if old, exists := m.byPeer[id]; exists && old != c {
		// 解绑旧连接后再关闭，其读循环收尾时不会发断开事件
		if oldInfo, stillOpen := m.conns[old]; stillOpen {
			oldInfo.peer = types.EmptyNodeID
		}
		replaced = old
	}
	info.peer = id
	m.byPeer[id] = c
	dir := info.dir
	m.mu.Unlock()

	if replaced != nil {
		logger.Debug("节点新连接顶替旧连接", "peer", log.TruncateID(id.String(), 8))
		_ = replaced.Close()
	}

	logger.Debug("连接完成身份绑定",
		"peer", log.TruncateID(id.String(), 8),
		"dir", dir.String(),
		"remote", c.RemoteEndpoint())

	if m.emitConnected != nil {
		_ = m.emitConnected.Emit(types.EvtPeerConnected{
			BaseEvent: types.NewBaseEvent("peer.connected"),
			Peer:      id,
			Direction: dir,
			Endpoint:  c.RemoteEndpoint(),
		})
	}
	return nil
}

// PeerOf 返回连接绑定的节点，未绑定时返回空ID
func (m *Manager) PeerOf(c Conn) (types.NodeID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.conns[c]
	if !ok || info.peer.IsEmpty() {
		return types.EmptyNodeID, false
	}
	return info.peer, true
}

// ConnOf 返回节点的当前连接
func (m *Manager) ConnOf(id types.NodeID) (Conn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byPeer[id]
	return c, ok
}

// SendToPeer 向指定节点发送一个帧
func (m *Manager) SendToPeer(id types.NodeID, frame []byte) error {
	m.mu.RLock()
	c, ok := m.byPeer[id]
	m.mu.RUnlock()
	if !ok {
		return ErrNoConn
	}
	return m.sendOnConn(c, frame, id)
}

// SendOn 在指定连接上发送一个帧（应答未绑定连接时使用）
func (m *Manager) SendOn(c Conn, frame []byte) error {
	peer, _ := m.PeerOf(c)
	return m.sendOnConn(c, frame, peer)
}

// Broadcast 向所有已绑定节点发送同一帧，except 中的节点跳过。
// 返回成功送出的连接数。
func (m *Manager) Broadcast(frame []byte, except ...types.NodeID) int {
	m.mu.RLock()
	targets := make(map[types.NodeID]Conn, len(m.byPeer))
	for id, c := range m.byPeer {
		if slices.Contains(except, id) {
			continue
		}
		targets[id] = c
	}
	m.mu.RUnlock()

	sent := 0
	for id, c := range targets {
		if err := m.sendOnConn(c, frame, id); err == nil {
			sent++
		}
	}
	return sent
}

func (m *Manager) sendOnConn(c Conn, frame []byte, peer types.NodeID) error {
	if err := c.Send(frame); err != nil {
		m.teardownConn(c, err)
		return err
	}
	if m.counter != nil {
		m.counter.RecordOut(peer, len(frame))
	}
	return nil
}

// DialPeer 拨号到已知节点，按顺序尝试候选端点，成功一个即停。
// 黑名单节点直接拒绝。已有连接时复用现有连接。
func (m *Manager) DialPeer(ctx context.Context, id types.NodeID, endpoints []string) (Conn, error) {
	if m.peers != nil && m.peers.IsBlacklisted(id) {
		return nil, ErrPeerBlacklisted
	}
	if c, ok := m.ConnOf(id); ok {
		return c, nil
	}

	var lastErr error
	for _, ep := range endpoints {
		c, err := m.Dial(ctx, ep)
		if err != nil {
			lastErr = err
			continue
		}
		return c, nil
	}
	if lastErr == nil {
		lastErr = ErrNoConn
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrDialFailed, log.TruncateID(id.String(), 8), lastErr)
}

// Dial 拨号到端点并登记连接。连接此时是匿名的，身份绑定在
// 对端首个验签信封之后由上层完成。
func (m *Manager) Dial(ctx context.Context, endpoint string) (Conn, error) {
	scheme, ok := splitScheme(endpoint)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidEndpoint, endpoint)
	}

	m.mu.RLock()
	t := m.transports[scheme]
	m.mu.RUnlock()
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScheme, endpoint)
	}

	if m.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.DialTimeout.Duration())
		defer cancel()
	}

	c, err := t.Dial(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if err := m.addConn(c, types.DirOutbound); err != nil {
		_ = c.Close()
		return nil, err
	}
	m.sendHello(c)
	return c, nil
}

// sendHello 连接建立后发送本节点的 Hello 帧
func (m *Manager) sendHello(c Conn) {
	m.mu.RLock()
	provider := m.hello
	m.mu.RUnlock()
	if provider == nil {
		return
	}

	frame, err := provider()
	if err != nil {
		logger.Warn("构造 Hello 帧失败", "err", err)
		return
	}
	if err := m.sendOnConn(c, frame, types.EmptyNodeID); err != nil {
		logger.Debug("发送 Hello 帧失败", "remote", c.RemoteEndpoint(), "err", err)
	}
}

// DegradePeer 把节点的当前连接标记为劣化并通知处理器，
// 由健康探测在连续丢失心跳时调用。连接不存在时返回 false。
func (m *Manager) DegradePeer(id types.NodeID) bool {
	m.mu.RLock()
	c, ok := m.byPeer[id]
	h := m.handler
	m.mu.RUnlock()
	if !ok {
		return false
	}
	if h != nil {
		h.HandleState(c, ConnStateDegraded)
	}
	return true
}

// DisconnectPeer 主动断开节点的当前连接
func (m *Manager) DisconnectPeer(id types.NodeID) bool {
	m.mu.RLock()
	c, ok := m.byPeer[id]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	m.teardownConn(c, nil)
	return true
}

// ConnectedPeers 返回所有已绑定节点，按ID排序
func (m *Manager) ConnectedPeers() []types.NodeID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]types.NodeID, 0, len(m.byPeer))
	for id := range m.byPeer {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b types.NodeID) int {
		if a.Less(b) {
			return -1
		}
		if b.Less(a) {
			return 1
		}
		return 0
	})
	return ids
}

// ConnCount 返回当前连接总数（含未绑定身份的连接）
func (m *Manager) ConnCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// ListenEndpoints 返回实际监听的端点（供 Hello 帧对外通告）
func (m *Manager) ListenEndpoints() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	eps := make([]string, 0, len(m.listeners))
	for _, l := range m.listeners {
		eps = append(eps, l.Endpoint())
	}
	return eps
}
