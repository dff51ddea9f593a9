// Package config 提供统一的配置管理
package config

import "fmt"

// BandwidthConfig 带宽统计配置
type BandwidthConfig struct {
	// Enabled 是否启用带宽统计
	// 默认值: true
	Enabled bool `json:"enabled"`

	// PerPeer 是否维护每节点明细（关闭可省内存）
	// 默认值: true
	PerPeer bool `json:"per_peer"`

	// MaxPeerEntries 每节点明细的条目上限，超限淘汰最旧
	// 默认值: 1024
	MaxPeerEntries int `json:"max_peer_entries"`
}

// DefaultBandwidthConfig 返回默认的带宽统计配置
func DefaultBandwidthConfig() BandwidthConfig {
	return BandwidthConfig{
		Enabled:        true,
		PerPeer:        true,
		MaxPeerEntries: 1024,
	}
}

// Validate 验证带宽统计配置的有效性
func (c *BandwidthConfig) Validate() error {
	if c.MaxPeerEntries < 1 {
		return fmt.Errorf("bandwidth: max_peer_entries must be >= 1")
	}
	return nil
}
