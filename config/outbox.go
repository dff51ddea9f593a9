// Package config 提供统一的配置管理
package config

import (
	"fmt"
	"time"
)

// OutboxConfig 存储转发队列配置
//
// 目的地不可达时消息进入每目的地 FIFO 队列，
// 按指数退避重试；重试耗尽是引擎唯一丢消息并上报的位置。
type OutboxConfig struct {
	// GlobalCap 全局队列容量
	// 超限时丢弃全局最旧条目
	// 默认值: 2048
	GlobalCap int `json:"global_cap"`

	// PerDestCap 每目的地队列容量
	// 超限时丢弃该目的地最旧条目
	// 默认值: 128
	PerDestCap int `json:"per_dest_cap"`

	// BackoffBase 退避基数
	// 第 n 次重试等待 base * 2^n（封顶 BackoffMax）
	// 默认值: 2s
	BackoffBase Duration `json:"backoff_base"`

	// BackoffMax 退避上限
	// 默认值: 5m
	BackoffMax Duration `json:"backoff_max"`

	// MaxAttempts 最大重试次数，超过后丢弃并发布投递失败事件
	// 默认值: 8
	MaxAttempts int `json:"max_attempts"`

	// ScanInterval 周期扫描间隔（此外节点恢复可达事件也会触发扫描）
	// 默认值: 15s
	ScanInterval Duration `json:"scan_interval"`
}

// DefaultOutboxConfig 返回默认的存储转发配置
func DefaultOutboxConfig() OutboxConfig {
	return OutboxConfig{
		GlobalCap:    2048,
		PerDestCap:   128,
		BackoffBase:  Duration(2 * time.Second),
		BackoffMax:   Duration(5 * time.Minute),
		MaxAttempts:  8,
		ScanInterval: Duration(15 * time.Second),
	}
}

// Validate 验证存储转发配置的有效性
func (c *OutboxConfig) Validate() error {
	if c.GlobalCap < 1 {
		return fmt.Errorf("outbox: global_cap must be >= 1")
	}
	if c.PerDestCap < 1 || c.PerDestCap > c.GlobalCap {
		return fmt.Errorf("outbox: per_dest_cap must be in [1, global_cap]")
	}
	if c.BackoffBase <= 0 {
		return fmt.Errorf("outbox: backoff_base must be positive")
	}
	if c.BackoffMax < c.BackoffBase {
		return fmt.Errorf("outbox: backoff_max must be >= backoff_base")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("outbox: max_attempts must be >= 1")
	}
	if c.ScanInterval <= 0 {
		return fmt.Errorf("outbox: scan_interval must be positive")
	}
	return nil
}
