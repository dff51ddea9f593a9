// Package config 提供统一的配置管理
package config

import (
	"fmt"
	"time"
)

// RoutingConfig 路由表配置
//
// 路由是派生知识：每条学到的路由都有过期时间，
// 过期条目只会被清理，从不参与选路。
type RoutingConfig struct {
	// RouteTTL 学到的路由的存活时长
	// 默认值: 10m
	RouteTTL Duration `json:"route_ttl"`

	// PruneInterval 过期路由清理周期
	// 默认值: 30s
	PruneInterval Duration `json:"prune_interval"`

	// UnreachablePenalty 邻居失联时其途经路由的成本惩罚
	// 路由被降权而非删除，刷新后恢复
	// 默认值: 16
	UnreachablePenalty float64 `json:"unreachable_penalty"`

	// Persist 是否将路由表落盘（尽力而为的热启动）
	// 默认值: true
	Persist bool `json:"persist"`
}

// DefaultRoutingConfig 返回默认的路由表配置
func DefaultRoutingConfig() RoutingConfig {
	return RoutingConfig{
		RouteTTL:           Duration(10 * time.Minute),
		PruneInterval:      Duration(30 * time.Second),
		UnreachablePenalty: 16,
		Persist:            true,
	}
}

// Validate 验证路由表配置的有效性
func (c *RoutingConfig) Validate() error {
	if c.RouteTTL.Duration() <= 0 {
		return fmt.Errorf("routing: route_ttl must be positive")
	}
	if c.PruneInterval.Duration() <= 0 {
		return fmt.Errorf("routing: prune_interval must be positive")
	}
	if c.UnreachablePenalty < 0 {
		return fmt.Errorf("routing: unreachable_penalty must be >= 0")
	}
	return nil
}
