// Package config 提供统一的配置管理
package config

import (
	"fmt"
	"time"
)

// HealthConfig 健康监控配置
//
// 对每个直连邻居发送自适应间隔心跳：链路稳定时拉长、
// 一次丢失即减半。RTT 滑动平均产出 0-100 质量评分。
type HealthConfig struct {
	// InitialInterval 心跳初始间隔
	// 默认值: 5s
	InitialInterval Duration `json:"initial_interval"`

	// MinInterval 心跳间隔下限（丢失减半的地板）
	// 默认值: 1s
	MinInterval Duration `json:"min_interval"`

	// MaxInterval 心跳间隔上限（稳定加倍的天花板）
	// 默认值: 60s
	MaxInterval Duration `json:"max_interval"`

	// StableAfter 连续成功多少次后间隔加倍
	// 默认值: 3
	StableAfter int `json:"stable_after"`

	// ProbeTimeout 单次心跳应答超时
	// 默认值: 3s
	ProbeTimeout Duration `json:"probe_timeout"`

	// DegradedAfter 连续丢失多少次进入 Degraded
	// 默认值: 3
	DegradedAfter int `json:"degraded_after"`

	// UnreachableAfter 最近一次成功后静默多久判定失联
	// 默认值: 90s
	UnreachableAfter Duration `json:"unreachable_after"`

	// RTTWindow RTT 滑动平均窗口（样本数）
	// 默认值: 10
	RTTWindow int `json:"rtt_window"`

	// RTTBudget 质量评分的 RTT 基准：rtt 达到该值扣满 RTT 分
	// 默认值: 800ms
	RTTBudget Duration `json:"rtt_budget"`

	// EnableGoodbye 停机时是否向邻居发送告别信封
	// 默认值: true
	EnableGoodbye bool `json:"enable_goodbye"`
}

// DefaultHealthConfig 返回默认的健康监控配置
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		InitialInterval:  Duration(5 * time.Second),
		MinInterval:      Duration(1 * time.Second),
		MaxInterval:      Duration(60 * time.Second),
		StableAfter:      3,
		ProbeTimeout:     Duration(3 * time.Second),
		DegradedAfter:    3,
		UnreachableAfter: Duration(90 * time.Second),
		RTTWindow:        10,
		RTTBudget:        Duration(800 * time.Millisecond),
		EnableGoodbye:    true,
	}
}

// Validate 验证健康监控配置的有效性
func (c *HealthConfig) Validate() error {
	if c.MinInterval <= 0 {
		return fmt.Errorf("health: min_interval must be positive")
	}
	if c.InitialInterval < c.MinInterval {
		return fmt.Errorf("health: initial_interval must be >= min_interval")
	}
	if c.MaxInterval < c.InitialInterval {
		return fmt.Errorf("health: max_interval must be >= initial_interval")
	}
	if c.StableAfter < 1 {
		return fmt.Errorf("health: stable_after must be >= 1")
	}
	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("health: probe_timeout must be positive")
	}
	if c.DegradedAfter < 1 {
		return fmt.Errorf("health: degraded_after must be >= 1")
	}
	if c.UnreachableAfter <= c.ProbeTimeout {
		return fmt.Errorf("health: unreachable_after must be > probe_timeout")
	}
	if c.RTTWindow < 1 {
		return fmt.Errorf("health: rtt_window must be >= 1")
	}
	if c.RTTBudget <= 0 {
		return fmt.Errorf("health: rtt_budget must be positive")
	}
	return nil
}
