package metrics

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-mesh/config"
)

// ============================================================================
//                              模块定义
// ============================================================================

// Params Metrics 模块依赖参数
type Params struct {
	fx.In

	Cfg *config.Config
}

// Result Metrics 模块提供的结果
type Result struct {
	fx.Out

	Counter *Counter
}

// Module 返回 Metrics Fx 模块
//
// Collector 不在此提供：各组件就绪后由引擎装配 Sources 并注册。
func Module() fx.Option {
	return fx.Module("metrics",
		fx.Provide(ProvideCounter),
	)
}

// ProvideCounter 创建带宽计数器
func ProvideCounter(p Params) Result {
	return Result{Counter: NewCounter(p.Cfg.Bandwidth)}
}

// ============================================================================
//                              模块元信息
// ============================================================================

// 模块元信息常量
const (
	// Version 模块版本
	Version = "1.0.0"
	// Name 模块名称
	Name = "metrics"
	// Description 模块描述
	Description = "指标模块，提供带宽计数与 Prometheus 引擎指标导出"
)
