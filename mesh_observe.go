package mesh

import (
	"github.com/dep2p/go-mesh/internal/core/eventbus"
	"github.com/dep2p/go-mesh/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════
// 观测
// ════════════════════════════════════════════════════════════════════════

// Stats 返回引擎运行统计的一致性快照
func (e *Engine) Stats() types.EngineStats {
	st := types.EngineStats{ID: e.ID()}

	e.mu.RLock()
	if e.started {
		st.Uptime = e.cl.Now().Sub(e.startedAt)
	}
	e.mu.RUnlock()

	if e.peers != nil {
		st.PeersKnown = e.peers.Len()
	}
	if e.mgr != nil {
		st.PeersConnected = len(e.mgr.ConnectedPeers())
	}
	if e.rel != nil {
		rs := e.rel.GetStats()
		st.DedupEntries = rs.DedupEntries
	}
	if e.box != nil {
		st.OutboxDepth = e.box.Depth()
	}
	if e.lookup != nil {
		ds := e.lookup.GetStats()
		st.DHTKeys = ds.Keys
		st.DHTBytes = ds.StoredBytes
	}
	if e.counter != nil {
		st.Bandwidth = e.counter.Totals()
	}
	return st
}

// Bandwidth 返回全局带宽快照
func (e *Engine) Bandwidth() types.BandwidthSnapshot {
	if e.counter == nil {
		return types.BandwidthSnapshot{}
	}
	return e.counter.Totals()
}

// PeerBandwidth 返回指定节点的带宽统计
func (e *Engine) PeerBandwidth(id types.NodeID) (types.PeerBandwidth, bool) {
	if e.counter == nil {
		return types.PeerBandwidth{}, false
	}
	return e.counter.ForPeer(id)
}

// Events 返回引擎的事件总线。
//
// 可订阅的事件见 pkg/types：节点连通性、会话建立、消息投递、
// 反熵同步等。订阅在引擎 Close 后自动失效。
//
//	sub, _ := e.Events().Subscribe(new(mesh.EvtPeerConnected))
//	for ev := range sub.Out() {
//		evt := ev.(mesh.EvtPeerConnected)
//		...
//	}
func (e *Engine) Events() *eventbus.Bus {
	return e.bus
}

// LinkHealth 返回所有直连邻居的链路健康快照（RTT、丢失、质量评分）
func (e *Engine) LinkHealth() []HealthSnapshot {
	if e.monitor == nil {
		return nil
	}
	return e.monitor.Snapshots()
}

// Diagnostics 运行诊断信息，字段可能随版本调整
type Diagnostics struct {
	State        string   `json:"state"`
	Addrs        []string `json:"addrs"`
	Conns        int      `json:"conns"`
	Sessions     int      `json:"sessions"`
	Routes       int      `json:"routes"`
	RelayQueue   int      `json:"relay_queue"`
	Processed    uint64   `json:"processed"`
	Dropped      uint64   `json:"dropped"`
	GossipWindow int      `json:"gossip_window"`
	DHTContacts  int      `json:"dht_contacts"`
	OutboxDepth  int      `json:"outbox_depth"`
}

// Diag 汇总各组件的内部状态，用于调试与运维巡检
func (e *Engine) Diag() Diagnostics {
	d := Diagnostics{State: e.State().String()}
	if e.mgr != nil {
		d.Addrs = e.mgr.ListenEndpoints()
		d.Conns = e.mgr.ConnCount()
	}
	if e.sessions != nil {
		d.Sessions = len(e.sessions.Peers())
	}
	if e.routes != nil {
		d.Routes = len(e.routes.Routes())
	}
	if e.rel != nil {
		rs := e.rel.GetStats()
		d.RelayQueue = rs.QueueDepth
		d.Processed = rs.Processed
		d.Dropped = rs.Dropped
	}
	if e.gossiper != nil {
		d.GossipWindow = e.gossiper.WindowSize()
	}
	if e.lookup != nil {
		d.DHTContacts = e.lookup.GetStats().Contacts
	}
	if e.box != nil {
		d.OutboxDepth = e.box.Depth()
	}
	return d
}
