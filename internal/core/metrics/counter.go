package metrics

import (
	"sync"

	"github.com/dep2p/go-mesh/config"
	"github.com/dep2p/go-mesh/pkg/types"
)

// ============================================================================
//                              带宽计数器
// ============================================================================

// Counter 带宽计数器
//
// 传输管理器在每帧进出时打点。总量始终维护；每节点明细受
// 配置开关与条目上限约束，超限时淘汰最早建档的节点。
type Counter struct {
	enabled  bool
	perPeer  bool
	maxPeers int

	mu     sync.Mutex
	totals types.BandwidthSnapshot
	peers  map[types.NodeID]*types.PeerBandwidth
	order  []types.NodeID
}

// NewCounter 创建带宽计数器
func NewCounter(cfg config.BandwidthConfig) *Counter {
	return &Counter{
		enabled:  cfg.Enabled,
		perPeer:  cfg.PerPeer,
		maxPeers: cfg.MaxPeerEntries,
		peers:    make(map[types.NodeID]*types.PeerBandwidth),
	}
}

// RecordIn 记录一帧入站流量
func (c *Counter) RecordIn(peer types.NodeID, size int) {
	if !c.enabled || size <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totals.TotalIn += int64(size)
	c.totals.MsgsIn++
	if pb := c.peerEntry(peer); pb != nil {
		pb.BytesIn += int64(size)
	}
}

// RecordOut 记录一帧出站流量
func (c *Counter) RecordOut(peer types.NodeID, size int) {
	if !c.enabled || size <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totals.TotalOut += int64(size)
	c.totals.MsgsOut++
	if pb := c.peerEntry(peer); pb != nil {
		pb.BytesOut += int64(size)
	}
}

// peerEntry 取出或创建每节点明细，调用方需持有锁
func (c *Counter) peerEntry(peer types.NodeID) *types.PeerBandwidth {
	if !c.perPeer || peer.IsEmpty() {
		return nil
	}
	pb, ok := c.peers[peer]
	if ok {
		return pb
	}
	if len(c.order) >= c.maxPeers {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.peers, oldest)
	}
	pb = &types.PeerBandwidth{}
	c.peers[peer] = pb
	c.order = append(c.order, peer)
	return pb
}

// Totals 返回总量快照
func (c *Counter) Totals() types.BandwidthSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totals
}

// ForPeer 返回指定节点的明细
func (c *Counter) ForPeer(peer types.NodeID) (types.PeerBandwidth, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pb, ok := c.peers[peer]
	if !ok {
		return types.PeerBandwidth{}, false
	}
	return *pb, true
}

// ByPeer 返回全部每节点明细的快照
func (c *Counter) ByPeer() map[types.NodeID]types.PeerBandwidth {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[types.NodeID]types.PeerBandwidth, len(c.peers))
	for id, pb := range c.peers {
		out[id] = *pb
	}
	return out
}

// PeerCount 返回跟踪的节点数
func (c *Counter) PeerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.peers)
}

// Reset 清零全部统计
func (c *Counter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totals = types.BandwidthSnapshot{}
	c.peers = make(map[types.NodeID]*types.PeerBandwidth)
	c.order = nil
}
