package envelope

import "errors"

// 错误定义
var (
	// ErrTruncated 数据不足一个完整信封
	ErrTruncated = errors.New("envelope: truncated")

	// ErrVersionMismatch 不支持的协议版本
	ErrVersionMismatch = errors.New("envelope: version mismatch")

	// ErrOversizePayload 载荷超过上限
	ErrOversizePayload = errors.New("envelope: oversize payload")

	// ErrCorruptPayload 载荷解压失败或解压后超限
	ErrCorruptPayload = errors.New("envelope: corrupt payload")
)
