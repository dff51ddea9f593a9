package storage

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"github.com/dep2p/go-mesh/config"
	"github.com/dep2p/go-mesh/internal/core/storage/engine"
	"github.com/dep2p/go-mesh/internal/core/storage/engine/badger"
	"github.com/dep2p/go-mesh/internal/core/storage/engine/memory"
	"github.com/dep2p/go-mesh/internal/core/storage/engine/redis"
	"github.com/dep2p/go-mesh/internal/core/storage/kv"
	"github.com/dep2p/go-mesh/pkg/lib/log"
)

var logger = log.Logger("core/storage")

// Params Storage 模块依赖参数
type Params struct {
	fx.In

	Cfg *config.Config
}

// Result Storage 模块提供的结果
type Result struct {
	fx.Out

	Engine engine.Engine
}

// Module 返回 Storage Fx 模块
//
// 提供:
//   - engine.Engine: 存储引擎实例
//
// 生命周期:
//   - OnStop: 关闭引擎
func Module() fx.Option {
	return fx.Module("storage",
		fx.Provide(
			ProvideStorage,
		),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideStorage 提供存储引擎
func ProvideStorage(p Params) (Result, error) {
	if err := p.Cfg.Storage.Validate(); err != nil {
		return Result{}, err
	}

	eng, err := NewEngine(p.Cfg.Storage)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Engine: eng,
	}, nil
}

// registerLifecycle 注册生命周期钩子
func registerLifecycle(lc fx.Lifecycle, eng engine.Engine) {
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			logger.Info("正在关闭存储引擎")
			if err := eng.Close(); err != nil {
				logger.Warn("存储引擎关闭失败", "error", err)
				return err
			}
			logger.Info("存储引擎已关闭")
			return nil
		},
	})
}

// NewEngine 根据配置创建存储引擎
func NewEngine(cfg config.StorageConfig) (engine.Engine, error) {
	logger.Debug("创建存储引擎", "backend", cfg.Backend)

	switch cfg.Backend {
	case config.StorageBackendMemory:
		return memory.New(), nil
	case config.StorageBackendBadger:
		eng, err := badger.New(cfg.Path)
		if err != nil {
			logger.Error("创建 Badger 引擎失败", "error", err, "path", cfg.Path)
			return nil, err
		}
		return eng, nil
	case config.StorageBackendRedis:
		eng, err := redis.New(redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			logger.Error("创建 Redis 引擎失败", "error", err, "addr", cfg.RedisAddr)
			return nil, err
		}
		return eng, nil
	default:
		return nil, fmt.Errorf("未知的存储后端: %s", cfg.Backend)
	}
}

// NewKVStore 创建带前缀的 KVStore
//
// 参数:
//   - eng: 存储引擎
//   - prefix: 键前缀
//
// 返回:
//   - *kv.Store: KVStore 实例
func NewKVStore(eng engine.Engine, prefix []byte) *kv.Store {
	return kv.New(eng, prefix)
}

// ============= 类型别名（便于外部使用） =============

// Engine 是 engine.Engine 的类型别名
type Engine = engine.Engine

// KVStore 是 kv.Store 的类型别名
type KVStore = kv.Store
