// Package engine 定义存储引擎接口
package engine

import "errors"

var (
	// ErrKeyNotFound 键不存在
	ErrKeyNotFound = errors.New("storage: key not found")

	// ErrClosed 引擎已关闭
	ErrClosed = errors.New("storage: engine closed")

	// ErrCorrupted 持久化数据损坏
	//
	// 视为契约违规：调用方跳过受影响的记录并记日志，
	// 绝不让单条坏记录拖垮整个引擎。
	ErrCorrupted = errors.New("storage: corrupted value")
)

// IsNotFound 判断是否为键不存在错误
func IsNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}
