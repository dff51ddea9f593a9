// Package config 提供统一的配置管理
package config

import (
	"fmt"
	"time"
)

// GossipConfig 反熵同步配置
//
// 周期性向随机邻居推送近期消息摘要（Bloom 或有序 ID 列表），
// 对端按差集拉取缺失信封。分区愈合后的追赶依赖此通道，
// 与洪泛中继相互独立。
type GossipConfig struct {
	// Interval 摘要推送周期
	// 默认值: 4s
	Interval Duration `json:"interval"`

	// Fanout 每轮推送的随机邻居数
	// 默认值: 3
	Fanout int `json:"fanout"`

	// RecentWindow 近期消息窗口（保留的最近接受信封数）
	// 默认值: 512
	RecentWindow int `json:"recent_window"`

	// DigestListMax 摘要使用有序 ID 列表的上限
	// 窗口内 ID 数不超过该值时发明文列表，否则发 Bloom 过滤器
	// 默认值: 32
	DigestListMax int `json:"digest_list_max"`

	// MaxPull 单次拉取请求的 ID 上限
	// 默认值: 64
	MaxPull int `json:"max_pull"`

	// PullTimeout 拉取应答超时
	// 默认值: 10s
	PullTimeout Duration `json:"pull_timeout"`
}

// DefaultGossipConfig 返回默认的反熵配置
func DefaultGossipConfig() GossipConfig {
	return GossipConfig{
		Interval:      Duration(4 * time.Second),
		Fanout:        3,
		RecentWindow:  512,
		DigestListMax: 32,
		MaxPull:       64,
		PullTimeout:   Duration(10 * time.Second),
	}
}

// Validate 验证反熵配置的有效性
func (c *GossipConfig) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("gossip: interval must be positive")
	}
	if c.Fanout < 1 {
		return fmt.Errorf("gossip: fanout must be >= 1")
	}
	if c.RecentWindow < 8 {
		return fmt.Errorf("gossip: recent_window must be >= 8")
	}
	if c.DigestListMax < 0 {
		return fmt.Errorf("gossip: digest_list_max must be >= 0")
	}
	if c.MaxPull < 1 {
		return fmt.Errorf("gossip: max_pull must be >= 1")
	}
	if c.PullTimeout <= 0 {
		return fmt.Errorf("gossip: pull_timeout must be positive")
	}
	return nil
}
