// Package config 提供统一的配置管理
package config

import (
	"fmt"
)

// RelayConfig 洪泛中继配置
type RelayConfig struct {
	// DedupCapacity 去重缓存容量（LRU 条目数）
	// 淘汰最旧条目，以罕见的旧消息重处理换取内存有界
	// 默认值: 65536
	DedupCapacity int `json:"dedup_capacity"`

	// Fanout 洪泛扇出上限
	// 邻居数超过该值时随机抽样转发
	// 默认值: 8
	Fanout int `json:"fanout"`

	// Workers 入站处理工作协程数
	// 验签/解密等 CPU 密集操作在工作池执行，不阻塞传输读取
	// 默认值: 4
	Workers int `json:"workers"`

	// QueueDepth 入站帧队列深度（满时丢弃并计数）
	// 默认值: 1024
	QueueDepth int `json:"queue_depth"`
}

// DefaultRelayConfig 返回默认的中继配置
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		DedupCapacity: 65536,
		Fanout:        8,
		Workers:       4,
		QueueDepth:    1024,
	}
}

// Validate 验证中继配置的有效性
func (c *RelayConfig) Validate() error {
	if c.DedupCapacity < 16 {
		return fmt.Errorf("relay: dedup_capacity must be >= 16")
	}
	if c.Fanout < 1 {
		return fmt.Errorf("relay: fanout must be >= 1")
	}
	if c.Workers < 1 {
		return fmt.Errorf("relay: workers must be >= 1")
	}
	if c.QueueDepth < 1 {
		return fmt.Errorf("relay: queue_depth must be >= 1")
	}
	return nil
}
