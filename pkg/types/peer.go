// Package types 定义 go-mesh 的基础类型
//
// 本文件定义节点档案与节点状态机。
package types

import (
	"time"
)

// ============================================================================
//                              PeerState - 节点状态
// ============================================================================

// PeerState 节点状态
//
// 状态机（由健康监控与应用共同驱动）：
//
//	Discovered → Connecting → Connected → Degraded → Discovered
//	                 任意状态 → Blacklisted（终态，仅应用可设置）
//
// 节点档案从不删除：失联回到 Discovered，拉黑进入 Blacklisted。
type PeerState int

const (
	// PeerStateDiscovered 已发现（尚未连接，或连接已失效）
	PeerStateDiscovered PeerState = iota
	// PeerStateConnecting 连接建立中
	PeerStateConnecting
	// PeerStateConnected 已连接（直连邻居）
	PeerStateConnected
	// PeerStateDegraded 降级（连续心跳丢失，链路不稳定）
	PeerStateDegraded
	// PeerStateBlacklisted 已拉黑（终态，入站信封直接丢弃）
	PeerStateBlacklisted
)

// String 返回节点状态的字符串表示
func (s PeerState) String() string {
	switch s {
	case PeerStateDiscovered:
		return "discovered"
	case PeerStateConnecting:
		return "connecting"
	case PeerStateConnected:
		return "connected"
	case PeerStateDegraded:
		return "degraded"
	case PeerStateBlacklisted:
		return "blacklisted"
	default:
		return "unknown"
	}
}

// ============================================================================
//                              Peer - 节点档案
// ============================================================================

// Peer 节点档案
//
// 首次接触（直连、DHT 解析或 gossip 提及）时创建；
// 健康监控更新 State/Quality/LastSeen，应用层负责拉黑。
type Peer struct {
	// ID 节点标识（公钥指纹）
	ID NodeID `json:"id"`

	// PublicKey Ed25519 身份公钥（32 字节）
	PublicKey []byte `json:"public_key,omitempty"`

	// Endpoints 传输端点列表，如 "tcp://10.0.0.3:9430"
	Endpoints []string `json:"endpoints,omitempty"`

	// Reputation 信誉值（中继/gossip 行为累积，初始 0）
	Reputation float64 `json:"reputation"`

	// State 节点状态
	State PeerState `json:"state"`

	// LastSeen 最近一次收到该节点任意流量的时间
	LastSeen time.Time `json:"last_seen"`

	// Quality 连接质量评分 0-100（仅直连邻居有效）
	Quality int `json:"quality"`
}

// Clone 返回档案的深拷贝
func (p *Peer) Clone() *Peer {
	cp := *p
	cp.PublicKey = append([]byte(nil), p.PublicKey...)
	cp.Endpoints = append([]string(nil), p.Endpoints...)
	return &cp
}

// Connected 是否处于可发送状态
func (p *Peer) Connected() bool {
	return p.State == PeerStateConnected || p.State == PeerStateDegraded
}

// ============================================================================
//                              Direction - 连接方向
// ============================================================================

// Direction 连接方向
type Direction int

const (
	// DirUnknown 未知方向
	DirUnknown Direction = iota
	// DirInbound 入站连接
	DirInbound
	// DirOutbound 出站连接
	DirOutbound
)

// String 返回连接方向的字符串表示
func (d Direction) String() string {
	switch d {
	case DirInbound:
		return "inbound"
	case DirOutbound:
		return "outbound"
	default:
		return "unknown"
	}
}
