// Package config 提供统一的配置管理
package config

import (
	"fmt"
	"time"
)

// DHTConfig Kademlia 发现配置
//
// 键空间即节点指纹空间，距离为 XOR。
// 服务端对每个请求方执行字节配额、单值上限与 STORE 令牌桶限速，
// 超限显式拒绝而非静默丢弃。
type DHTConfig struct {
	// BucketSize k-桶容量（经典 k=20）
	// 默认值: 20
	BucketSize int `json:"bucket_size"`

	// Alpha 迭代查询并发度
	// 默认值: 3
	Alpha int `json:"alpha"`

	// MaxRounds 迭代查询轮数预算
	// 默认值: 8
	MaxRounds int `json:"max_rounds"`

	// RequestTimeout 单次 RPC 超时
	// 默认值: 5s
	RequestTimeout Duration `json:"request_timeout"`

	// PingTimeout 桶满淘汰竞争时的存活探测超时
	// 默认值: 3s
	PingTimeout Duration `json:"ping_timeout"`

	// ReplicationFactor 值复制份数（通常等于 BucketSize）
	// 默认值: 20
	ReplicationFactor int `json:"replication_factor"`

	// MaxValueSize 单值字节上限，超限拒绝 ValueTooLarge
	// 默认值: 16384
	MaxValueSize int `json:"max_value_size"`

	// PerPeerQuota 每请求方存储字节配额，超限拒绝 QuotaExceeded
	// 默认值: 262144
	PerPeerQuota int64 `json:"per_peer_quota"`

	// StoreRatePerMin 每请求方每分钟 STORE 令牌补充数
	// 默认值: 30
	StoreRatePerMin int `json:"store_rate_per_min"`

	// StoreBurst STORE 令牌桶容量
	// 默认值: 10
	StoreBurst int `json:"store_burst"`

	// ValueTTL 存储值的生存期，过期 GC
	// 默认值: 1h
	ValueTTL Duration `json:"value_ttl"`

	// RepublishInterval 自有值重发布周期
	// 默认值: 30m
	RepublishInterval Duration `json:"republish_interval"`

	// LookupCacheSize 查询结果 ARC 缓存容量
	// 默认值: 128
	LookupCacheSize int `json:"lookup_cache_size"`
}

// DefaultDHTConfig 返回默认的 DHT 配置
func DefaultDHTConfig() DHTConfig {
	return DHTConfig{
		BucketSize:        20,
		Alpha:             3,
		MaxRounds:         8,
		RequestTimeout:    Duration(5 * time.Second),
		PingTimeout:       Duration(3 * time.Second),
		ReplicationFactor: 20,
		MaxValueSize:      16384,
		PerPeerQuota:      262144,
		StoreRatePerMin:   30,
		StoreBurst:        10,
		ValueTTL:          Duration(1 * time.Hour),
		RepublishInterval: Duration(30 * time.Minute),
		LookupCacheSize:   128,
	}
}

// Validate 验证 DHT 配置的有效性
func (c *DHTConfig) Validate() error {
	if c.BucketSize < 1 {
		return fmt.Errorf("dht: bucket_size must be >= 1")
	}
	if c.Alpha < 1 {
		return fmt.Errorf("dht: alpha must be >= 1")
	}
	if c.MaxRounds < 1 {
		return fmt.Errorf("dht: max_rounds must be >= 1")
	}
	if c.RequestTimeout <= 0 || c.PingTimeout <= 0 {
		return fmt.Errorf("dht: timeouts must be positive")
	}
	if c.ReplicationFactor < 1 {
		return fmt.Errorf("dht: replication_factor must be >= 1")
	}
	if c.MaxValueSize < 1 {
		return fmt.Errorf("dht: max_value_size must be >= 1")
	}
	if c.PerPeerQuota < int64(c.MaxValueSize) {
		return fmt.Errorf("dht: per_peer_quota must be >= max_value_size")
	}
	if c.StoreRatePerMin < 1 || c.StoreBurst < 1 {
		return fmt.Errorf("dht: store rate limiter params must be >= 1")
	}
	if c.ValueTTL <= 0 {
		return fmt.Errorf("dht: value_ttl must be positive")
	}
	if c.RepublishInterval <= 0 {
		return fmt.Errorf("dht: republish_interval must be positive")
	}
	if c.LookupCacheSize < 2 {
		return fmt.Errorf("dht: lookup_cache_size must be >= 2")
	}
	return nil
}
