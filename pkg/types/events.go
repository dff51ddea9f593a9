// Package types 定义 go-mesh 公共类型
//
// 本文件定义事件总线上的事件类型。
package types

import (
	"time"
)

// ============================================================================
//                              Event - 事件接口
// ============================================================================

// Event 基础事件接口
type Event interface {
	// Type 返回事件类型
	Type() string

	// Timestamp 返回事件时间戳
	Timestamp() time.Time
}

// BaseEvent 基础事件实现
type BaseEvent struct {
	EventType string
	Time      time.Time
}

// Type 返回事件类型
func (e BaseEvent) Type() string {
	return e.EventType
}

// Timestamp 返回事件时间戳
func (e BaseEvent) Timestamp() time.Time {
	return e.Time
}

// NewBaseEvent 创建基础事件
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventType: eventType,
		Time:      time.Now(),
	}
}

// ============================================================================
//                              连接事件
// ============================================================================

// EvtPeerConnected 节点连接事件
//
// 传输管理器在连接完成身份绑定（首个验签通过的信封）后发布。
type EvtPeerConnected struct {
	BaseEvent
	Peer      NodeID
	Direction Direction
	Endpoint  string
}

// EvtPeerDisconnected 节点断开事件
type EvtPeerDisconnected struct {
	BaseEvent
	Peer  NodeID
	Error error // 错误断开时有效，优雅断开为 nil
}

// ============================================================================
//                              健康事件
// ============================================================================

// EvtPeerReachable 节点可达事件
//
// 新连接完成、或降级节点恢复心跳时发布。
// 存储转发队列订阅此事件触发积压投递。
type EvtPeerReachable struct {
	BaseEvent
	Peer NodeID
}

// EvtPeerDegraded 节点降级事件（连续心跳丢失达到阈值）
type EvtPeerDegraded struct {
	BaseEvent
	Peer       NodeID
	MissStreak int
}

// EvtPeerUnreachable 节点失联事件
//
// 静默超过失联窗口或传输层硬断开。节点移出邻居集，
// 档案回到 Discovered，经由它的路由被降权。
type EvtPeerUnreachable struct {
	BaseEvent
	Peer    NodeID
	Silence time.Duration
}

// ============================================================================
//                              会话事件
// ============================================================================

// EvtSessionEstablished 会话建立事件
//
// Noise 握手完成、收发链就绪后发布。
// 存储转发队列订阅此事件立即冲刷该节点的积压消息。
type EvtSessionEstablished struct {
	BaseEvent
	Peer      NodeID
	Initiator bool // 本端是否为握手发起方
}

// ============================================================================
//                              消息事件
// ============================================================================

// EvtMessageDelivered 消息本地投递事件（应用回调已触发）
type EvtMessageDelivered struct {
	BaseEvent
	ID     MessageID
	Sender NodeID
}

// EvtDeliveryFailed 投递失败事件
//
// 存储转发队列重试耗尽后发布，是引擎唯一的用户可见失败。
type EvtDeliveryFailed struct {
	BaseEvent
	ID          MessageID
	Destination NodeID
	Attempts    int
	Reason      error
}

// ============================================================================
//                              同步事件
// ============================================================================

// EvtGossipSync 反熵同步事件（一次摘要交换后拉回的信封数）
type EvtGossipSync struct {
	BaseEvent
	Peer   NodeID
	Pulled int
}
