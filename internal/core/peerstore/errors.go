package peerstore

import "errors"

var (
	// ErrNotFound 对端档案不存在
	ErrNotFound = errors.New("peerstore: peer not found")

	// ErrClosed 档案库已关闭
	ErrClosed = errors.New("peerstore: closed")

	// ErrKeyMismatch 公钥指纹与节点 ID 不符
	ErrKeyMismatch = errors.New("peerstore: public key does not match node id")
)
