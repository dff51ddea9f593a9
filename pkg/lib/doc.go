// Package lib 包含基础设施工具库
//
// 本目录包含与引擎组件无关的通用工具库：
//
//   - log: 结构化日志封装（log/slog 之上的组件级 logger）
//
// # 与 pkg/ 其他目录的关系
//
//   - types/: 公共类型与事件定义（架构核心）
//   - lib/: 基础设施工具库（本目录）
//
// # 使用示例
//
//	import "github.com/dep2p/go-mesh/pkg/lib/log"
//
//	var logger = log.Logger("component")
package lib
