// Package types 定义 go-mesh 公共类型
//
// 本文件定义统计快照类型。
package types

import "time"

// BandwidthSnapshot 带宽统计快照
type BandwidthSnapshot struct {
	// TotalIn 累计入站字节数
	TotalIn int64 `json:"total_in"`

	// TotalOut 累计出站字节数
	TotalOut int64 `json:"total_out"`

	// MsgsIn 累计入站帧数
	MsgsIn int64 `json:"msgs_in"`

	// MsgsOut 累计出站帧数
	MsgsOut int64 `json:"msgs_out"`
}

// PeerBandwidth 单节点带宽统计
type PeerBandwidth struct {
	BytesIn  int64 `json:"bytes_in"`
	BytesOut int64 `json:"bytes_out"`
}

// EngineStats 引擎运行时统计
type EngineStats struct {
	// ID 本节点标识
	ID NodeID `json:"id"`

	// Uptime 运行时长
	Uptime time.Duration `json:"uptime"`

	// PeersKnown 已知节点总数
	PeersKnown int `json:"peers_known"`

	// PeersConnected 直连邻居数
	PeersConnected int `json:"peers_connected"`

	// DedupEntries 去重缓存条目数
	DedupEntries int `json:"dedup_entries"`

	// OutboxDepth 存储转发队列深度
	OutboxDepth int `json:"outbox_depth"`

	// DHTKeys 本地 DHT 存储键数
	DHTKeys int `json:"dht_keys"`

	// DHTBytes 本地 DHT 存储字节数
	DHTBytes int64 `json:"dht_bytes"`

	// Bandwidth 带宽快照
	Bandwidth BandwidthSnapshot `json:"bandwidth"`
}
