package identity

import (
	"fmt"

	"go.uber.org/fx"

	"github.com/dep2p/go-mesh/config"
	"github.com/dep2p/go-mesh/internal/core/storage/engine"
	"github.com/dep2p/go-mesh/internal/core/storage/kv"
	"github.com/dep2p/go-mesh/pkg/lib/log"
)

var logger = log.Logger("core/identity")

// kvPrefix 身份数据在 KV 存储中的前缀
var kvPrefix = []byte("identity/")

// ============================================================================
//                              模块定义
// ============================================================================

// Params Identity 模块依赖参数
type Params struct {
	fx.In

	Cfg    *config.Config
	Engine engine.Engine
}

// Result Identity 模块提供的结果
type Result struct {
	fx.Out

	Identity *Identity
}

// Module 返回 Identity Fx 模块
func Module() fx.Option {
	return fx.Module("identity",
		fx.Provide(ProvideIdentity),
	)
}

// ProvideIdentity 创建或加载节点身份
//
// 优先级：Seed > KeyFile > KV 存储 > 自动生成
func ProvideIdentity(p Params) (Result, error) {
	id, err := buildIdentity(p.Cfg.Identity, p.Engine)
	if err != nil {
		return Result{}, err
	}

	logger.Info("节点身份就绪", "id", log.TruncateID(id.ID().String(), 8))
	return Result{Identity: id}, nil
}

func buildIdentity(cfg config.IdentityConfig, eng engine.Engine) (*Identity, error) {
	if cfg.Seed != "" {
		seed := cfg.SeedBytes()
		if seed == nil {
			return nil, fmt.Errorf("解析身份种子失败: %w", ErrInvalidSeed)
		}
		return FromSeed(seed)
	}

	if cfg.KeyFile != "" {
		return LoadOrCreateKeyFile(cfg.KeyFile)
	}

	return LoadOrCreate(kv.New(eng, kvPrefix))
}

// ============================================================================
//                              模块元信息
// ============================================================================

// 模块元信息常量
const (
	// Version 模块版本
	Version = "1.0.0"
	// Name 模块名称
	Name = "identity"
	// Description 模块描述
	Description = "身份管理模块，提供密钥对生成、签名验证和指纹派生能力"
)
