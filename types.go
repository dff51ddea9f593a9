package mesh

import (
	"github.com/dep2p/go-mesh/internal/core/eventbus"
	"github.com/dep2p/go-mesh/internal/core/identity"
	"github.com/dep2p/go-mesh/internal/core/transport"
	"github.com/dep2p/go-mesh/internal/protocol/health"
	"github.com/dep2p/go-mesh/pkg/types"
)

// 常用公共类型在根包的别名。
// 应用代码通常只需导入本包与 pkg/types 之一。

type (
	// NodeID 节点标识（Ed25519 公钥的 SHA-256 指纹）
	NodeID = types.NodeID

	// MessageID 消息标识（规范化信封的哈希）
	MessageID = types.MessageID

	// Peer 节点档案
	Peer = types.Peer

	// PeerState 节点状态机
	PeerState = types.PeerState

	// EngineStats 引擎运行统计
	EngineStats = types.EngineStats

	// BandwidthSnapshot 全局带宽快照
	BandwidthSnapshot = types.BandwidthSnapshot

	// PeerBandwidth 单节点带宽统计
	PeerBandwidth = types.PeerBandwidth

	// Identity 本节点身份（长期 Ed25519 密钥对）
	Identity = identity.Identity

	// Transport 传输扩展点。实现后通过 WithTransport 注入，
	// 引擎即可在自定义链路上收发信封帧。
	Transport = transport.Transport

	// Bus 进程内事件总线，经 Events() 取得
	Bus = eventbus.Bus

	// Subscription 事件订阅句柄
	Subscription = eventbus.Subscription

	// HealthSnapshot 单个邻居的链路健康快照
	HealthSnapshot = health.Snapshot
)

// 节点状态常量
const (
	PeerStateDiscovered  = types.PeerStateDiscovered
	PeerStateConnecting  = types.PeerStateConnecting
	PeerStateConnected   = types.PeerStateConnected
	PeerStateDegraded    = types.PeerStateDegraded
	PeerStateBlacklisted = types.PeerStateBlacklisted
)

// 事件类型别名，订阅方式见 Events()
type (
	EvtPeerConnected      = types.EvtPeerConnected
	EvtPeerDisconnected   = types.EvtPeerDisconnected
	EvtPeerReachable      = types.EvtPeerReachable
	EvtPeerDegraded       = types.EvtPeerDegraded
	EvtPeerUnreachable    = types.EvtPeerUnreachable
	EvtSessionEstablished = types.EvtSessionEstablished
	EvtMessageDelivered   = types.EvtMessageDelivered
	EvtDeliveryFailed     = types.EvtDeliveryFailed
	EvtGossipSync         = types.EvtGossipSync
)

// ParseNodeID 解析十六进制节点 ID 字符串
func ParseNodeID(s string) (NodeID, error) {
	return types.ParseNodeID(s)
}

// GenerateIdentity 生成一个新的随机身份，配合 WithIdentity 使用
func GenerateIdentity() (*Identity, error) {
	return identity.Generate()
}
