package peerstore

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-mesh/internal/core/identity"
	"github.com/dep2p/go-mesh/internal/core/storage/kv"
	"github.com/dep2p/go-mesh/pkg/lib/log"
	"github.com/dep2p/go-mesh/pkg/types"
)

var logger = log.Logger("core/peerstore")

const (
	// flushInterval 脏档案批量落盘周期
	flushInterval = 30 * time.Second

	// maxEndpoints 单个对端保留的端点上限，超出时淘汰最早记录的
	maxEndpoints = 16
)

// Peerstore 对端档案库
//
// 内存为权威副本：变更先改内存并标脏，由后台循环批量落盘；
// 拉黑即时落盘。读方法返回深拷贝，调用方可随意修改返回值。
type Peerstore struct {
	store *kv.Store // nil 表示纯内存，不落盘
	cl    clock.Clock

	mu      sync.RWMutex
	peers   map[types.NodeID]*types.Peer
	dirty   map[types.NodeID]struct{}
	closed  bool
	looping bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewPeerstore 创建档案库
//
// store 为 nil 时档案仅驻留内存；cl 为 nil 时使用真实时钟。
func NewPeerstore(store *kv.Store, cl clock.Clock) *Peerstore {
	if cl == nil {
		cl = clock.New()
	}
	return &Peerstore{
		store:  store,
		cl:     cl,
		peers:  make(map[types.NodeID]*types.Peer),
		dirty:  make(map[types.NodeID]struct{}),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// ============================================================================
//                              生命周期
// ============================================================================

// Start 加载持久化档案并启动落盘循环
//
// 冷启动（存储为空）不是错误，从空档案库开始。
func (p *Peerstore) Start(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	n, err := p.load()
	if err != nil {
		return err
	}
	if n > 0 {
		logger.Info("已加载对端档案", "count", n)
	}

	p.mu.Lock()
	p.looping = true
	p.mu.Unlock()
	go p.flushLoop()
	return nil
}

// Stop 停止落盘循环并冲刷剩余脏档案
func (p *Peerstore) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	looping := p.looping
	p.mu.Unlock()

	if looping {
		close(p.stopCh)
		<-p.doneCh
	}
	return p.flush()
}

// flushLoop 周期性冲刷脏档案，直到 Stop
func (p *Peerstore) flushLoop() {
	defer close(p.doneCh)

	ticker := p.cl.Ticker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := p.flush(); err != nil {
				logger.Warn("对端档案落盘失败", "err", err)
			}
		case <-p.stopCh:
			return
		}
	}
}

// ============================================================================
//                              写方法
// ============================================================================

// Upsert 确保档案存在并返回其拷贝
//
// 新档案以 Discovered 状态创建，其余字段为零值。
func (p *Peerstore) Upsert(id types.NodeID) (*types.Peer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	return p.ensureLocked(id).Clone(), nil
}

// SetPublicKey 记录对端身份公钥
//
// 公钥指纹必须等于节点 ID，否则返回 ErrKeyMismatch；重复设置幂等。
func (p *Peerstore) SetPublicKey(id types.NodeID, pub ed25519.PublicKey) error {
	if len(pub) != ed25519.PublicKeySize || !identity.Fingerprint(pub).Equal(id) {
		return ErrKeyMismatch
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	pe := p.ensureLocked(id)
	if bytes.Equal(pe.PublicKey, pub) {
		return nil
	}
	pe.PublicKey = append([]byte(nil), pub...)
	p.dirty[id] = struct{}{}
	return nil
}

// AddEndpoints 追加传输端点
//
// 逐个去重；超出上限时淘汰最早记录的端点。
func (p *Peerstore) AddEndpoints(id types.NodeID, endpoints ...string) error {
	if len(endpoints) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	pe := p.ensureLocked(id)
	changed := false
	for _, ep := range endpoints {
		if ep == "" || slices.Contains(pe.Endpoints, ep) {
			continue
		}
		pe.Endpoints = append(pe.Endpoints, ep)
		changed = true
	}
	if n := len(pe.Endpoints); n > maxEndpoints {
		pe.Endpoints = append([]string(nil), pe.Endpoints[n-maxEndpoints:]...)
	}
	if changed {
		p.dirty[id] = struct{}{}
	}
	return nil
}

// SetState 迁移节点状态，返回是否发生变化
//
// Blacklisted 为终态，已拉黑的档案拒绝任何迁移；
// 离开直连状态时质量评分归零。未知节点不创建档案。
func (p *Peerstore) SetState(id types.NodeID, state types.PeerState) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	pe, ok := p.peers[id]
	if !ok || pe.State == state || pe.State == types.PeerStateBlacklisted {
		return false
	}
	pe.State = state
	if state != types.PeerStateConnected && state != types.PeerStateDegraded {
		pe.Quality = 0
	}
	p.dirty[id] = struct{}{}
	return true
}

// Blacklist 拉黑节点并即时落盘
//
// 终态：此后该节点的入站信封在中继入口被丢弃，拨号器拒绝外呼。
func (p *Peerstore) Blacklist(id types.NodeID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	pe := p.ensureLocked(id)
	pe.State = types.PeerStateBlacklisted
	pe.Quality = 0
	delete(p.dirty, id)

	logger.Info("节点已拉黑", "peer", log.TruncateID(id.String(), 8))
	if p.store == nil {
		return nil
	}
	if err := p.store.PutJSON([]byte(id.String()), recordOf(pe)); err != nil {
		p.dirty[id] = struct{}{}
		return err
	}
	return nil
}

// Touch 推进 LastSeen（只前进不后退）
//
// 未知节点不创建档案：转发路径上的陌生发件人不占用档案空间。
func (p *Peerstore) Touch(id types.NodeID, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	pe, ok := p.peers[id]
	if !ok || !at.After(pe.LastSeen) {
		return
	}
	pe.LastSeen = at
	p.dirty[id] = struct{}{}
}

// SetQuality 设置链路质量评分，限幅到 [0,100]
func (p *Peerstore) SetQuality(id types.NodeID, quality int) {
	if quality < 0 {
		quality = 0
	} else if quality > 100 {
		quality = 100
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	pe, ok := p.peers[id]
	if !ok || pe.Quality == quality {
		return
	}
	pe.Quality = quality
	p.dirty[id] = struct{}{}
}

// AdjustReputation 按增量调整信誉值，返回调整后的数值
//
// 未知节点不创建档案，返回 0。
func (p *Peerstore) AdjustReputation(id types.NodeID, delta float64) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0
	}
	pe, ok := p.peers[id]
	if !ok {
		return 0
	}
	pe.Reputation += delta
	p.dirty[id] = struct{}{}
	return pe.Reputation
}

// ============================================================================
//                              读方法
// ============================================================================

// Get 返回档案的拷贝
func (p *Peerstore) Get(id types.NodeID) (*types.Peer, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrClosed
	}
	pe, ok := p.peers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return pe.Clone(), nil
}

// List 返回全部档案的拷贝，按节点 ID 排序
func (p *Peerstore) List() []*types.Peer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*types.Peer, 0, len(p.peers))
	for _, pe := range p.peers {
		out = append(out, pe.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Less(out[j].ID) })
	return out
}

// ListByState 返回处于任一给定状态的档案拷贝，按节点 ID 排序
func (p *Peerstore) ListByState(states ...types.PeerState) []*types.Peer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []*types.Peer
	for _, pe := range p.peers {
		if slices.Contains(states, pe.State) {
			out = append(out, pe.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Less(out[j].ID) })
	return out
}

// PublicKey 返回已记录的身份公钥，签名校验的热路径
func (p *Peerstore) PublicKey(id types.NodeID) (ed25519.PublicKey, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pe, ok := p.peers[id]
	if !ok || len(pe.PublicKey) == 0 {
		return nil, false
	}
	return append(ed25519.PublicKey(nil), pe.PublicKey...), true
}

// IsBlacklisted 节点是否已拉黑
func (p *Peerstore) IsBlacklisted(id types.NodeID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pe, ok := p.peers[id]
	return ok && pe.State == types.PeerStateBlacklisted
}

// Len 返回档案总数
func (p *Peerstore) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.peers)
}

// ensureLocked 取出或创建档案，调用方需持有写锁
func (p *Peerstore) ensureLocked(id types.NodeID) *types.Peer {
	pe, ok := p.peers[id]
	if !ok {
		pe = &types.Peer{ID: id, State: types.PeerStateDiscovered}
		p.peers[id] = pe
		p.dirty[id] = struct{}{}
	}
	return pe
}
