// Package types 定义 go-mesh 的基础类型
package types

import (
	"bytes"
	"errors"

	"github.com/mr-tron/base58"
)

// ============================================================================
//                              NodeID - 节点标识
// ============================================================================

// NodeID 节点唯一标识符
// 由身份公钥派生（公钥的 SHA256 哈希）
//
// 外部表示格式：
//   - String(): Base58 编码（用户可读、可分享）
//   - ShortString(): Base58 前缀（日志简短标识）
type NodeID [32]byte

// EmptyNodeID 空节点ID
//
// 信封中收件人为空表示广播。
var EmptyNodeID NodeID

// ErrInvalidNodeID 无效的节点ID错误
var ErrInvalidNodeID = errors.New("invalid node ID: must be 32-byte Base58")

// String 返回 NodeID 的 Base58 字符串表示
//
// 这是 NodeID 的规范外部表示，用于：
//   - 引导地址与配置文件
//   - 用户间分享节点身份
func (id NodeID) String() string {
	if id.IsEmpty() {
		return ""
	}
	return base58.Encode(id[:])
}

// ShortString 返回 NodeID 的短字符串表示
//
// 格式：Base58 前 8 个字符，用于日志中的简短标识。
func (id NodeID) ShortString() string {
	s := id.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// Bytes 返回 NodeID 的字节切片
func (id NodeID) Bytes() []byte {
	return id[:]
}

// Equal 比较两个 NodeID 是否相等
func (id NodeID) Equal(other NodeID) bool {
	return id == other
}

// IsEmpty 检查 NodeID 是否为空
func (id NodeID) IsEmpty() bool {
	return id == EmptyNodeID
}

// Less 按字节序比较，用于同时打开握手的平局判定
func (id NodeID) Less(other NodeID) bool {
	return bytes.Compare(id[:], other[:]) < 0
}

// NodeIDFromBytes 从字节切片创建 NodeID
func NodeIDFromBytes(b []byte) (NodeID, error) {
	if len(b) != 32 {
		return EmptyNodeID, ErrInvalidNodeID
	}
	var id NodeID
	copy(id[:], b)
	return id, nil
}

// MarshalText 实现 encoding.TextMarshaler，输出 Base58 形式
func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
//
// 空串解析为 EmptyNodeID，与 String() 对空 ID 的表示对称。
func (id *NodeID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*id = EmptyNodeID
		return nil
	}
	parsed, err := ParseNodeID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseNodeID 从 Base58 字符串解析 NodeID
//
// 示例：
//
//	id, err := types.ParseNodeID("5Q2STWvBFn...")
func ParseNodeID(s string) (NodeID, error) {
	if s == "" {
		return EmptyNodeID, ErrInvalidNodeID
	}

	b, err := base58.Decode(s)
	if err != nil {
		return EmptyNodeID, ErrInvalidNodeID
	}
	if len(b) != 32 {
		return EmptyNodeID, ErrInvalidNodeID
	}

	var id NodeID
	copy(id[:], b)
	return id, nil
}

// ============================================================================
//                              MessageID - 消息标识
// ============================================================================

// MessageID 消息唯一标识符
//
// 取自签名信封规范编码的 BLAKE3-256 哈希，
// 同一信封在任意跳数后哈希不变，因此可作为全网去重键。
type MessageID [32]byte

// EmptyMessageID 空消息ID
var EmptyMessageID MessageID

// ErrInvalidMessageID 无效的消息ID错误
var ErrInvalidMessageID = errors.New("invalid message ID: must be 32 bytes")

// String 返回 MessageID 的 Base58 字符串表示
func (id MessageID) String() string {
	if id == EmptyMessageID {
		return ""
	}
	return base58.Encode(id[:])
}

// ShortString 返回 MessageID 的短字符串表示
func (id MessageID) ShortString() string {
	s := id.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// Bytes 返回 MessageID 的字节切片
func (id MessageID) Bytes() []byte {
	return id[:]
}

// Equal 比较两个 MessageID 是否相等
func (id MessageID) Equal(other MessageID) bool {
	return id == other
}

// IsEmpty 检查 MessageID 是否为空
func (id MessageID) IsEmpty() bool {
	return id == EmptyMessageID
}

// MessageIDFromBytes 从字节切片创建 MessageID
func MessageIDFromBytes(b []byte) (MessageID, error) {
	if len(b) != 32 {
		return EmptyMessageID, ErrInvalidMessageID
	}
	var id MessageID
	copy(id[:], b)
	return id, nil
}
