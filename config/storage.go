// Package config 提供统一的配置管理
package config

import (
	"fmt"
)

// 存储后端常量
const (
	// StorageBackendMemory 内存后端（测试与一次性节点）
	StorageBackendMemory = "memory"

	// StorageBackendBadger Badger 本地持久化后端（默认落盘选择）
	StorageBackendBadger = "badger"

	// StorageBackendRedis Redis 后端（多进程共享或托管部署）
	StorageBackendRedis = "redis"
)

// StorageConfig 持久化配置
//
// 引擎只依赖键值契约（get/put/delete/前缀遍历），
// 用于保存节点档案、路由、会话与 DHT 记录。
// 持久化状态缺失按冷启动处理，不是错误。
type StorageConfig struct {
	// Backend 后端类型: memory / badger / redis
	// 默认值: "memory"
	Backend string `json:"backend"`

	// Path Badger 数据目录（仅 backend=badger 时有效）
	// 默认值: "./data/mesh"
	Path string `json:"path"`

	// RedisAddr Redis 地址（仅 backend=redis 时有效）
	// 默认值: "127.0.0.1:6379"
	RedisAddr string `json:"redis_addr"`

	// RedisPassword Redis 密码
	// 默认值: ""
	RedisPassword string `json:"redis_password,omitempty"`

	// RedisDB Redis 数据库编号
	// 默认值: 0
	RedisDB int `json:"redis_db"`
}

// DefaultStorageConfig 返回默认的持久化配置
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Backend:   StorageBackendMemory,
		Path:      "./data/mesh",
		RedisAddr: "127.0.0.1:6379",
	}
}

// Validate 验证持久化配置的有效性
func (c *StorageConfig) Validate() error {
	switch c.Backend {
	case StorageBackendMemory, StorageBackendBadger, StorageBackendRedis:
	default:
		return fmt.Errorf("storage: unknown backend %q", c.Backend)
	}
	if c.Backend == StorageBackendBadger && c.Path == "" {
		return fmt.Errorf("storage: badger backend requires path")
	}
	if c.Backend == StorageBackendRedis && c.RedisAddr == "" {
		return fmt.Errorf("storage: redis backend requires redis_addr")
	}
	return nil
}
