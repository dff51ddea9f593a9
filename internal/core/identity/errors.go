package identity

import "errors"

// 错误定义
var (
	// ErrInvalidKeySize 无效的密钥大小
	ErrInvalidKeySize = errors.New("identity: invalid key size")

	// ErrInvalidSeed 无效的种子（须为 32 字节）
	ErrInvalidSeed = errors.New("identity: invalid seed size")

	// ErrInvalidPEM 无效的 PEM 数据
	ErrInvalidPEM = errors.New("identity: invalid PEM data")

	// ErrKeyNotFound 密钥未找到
	ErrKeyNotFound = errors.New("identity: key not found")

	// ErrInvalidPublicKey 公钥无法解析为曲线点
	ErrInvalidPublicKey = errors.New("identity: invalid public key")
)
