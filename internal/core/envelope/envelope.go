package envelope

import (
	"crypto/rand"
	"fmt"

	"github.com/dep2p/go-mesh/pkg/types"
)

// Version 当前协议版本
const Version = 1

// ============================================================================
// 信封类型
// ============================================================================

// Type 信封类型
type Type uint8

// 信封类型常量
const (
	// Data 应用数据
	Data Type = 1
	// Handshake 会话握手（阶段字节 + Noise 消息）
	Handshake Type = 2
	// Hello 节点通告（公钥 + 监听端点）
	Hello Type = 3

	// Heartbeat 心跳探测
	Heartbeat Type = 16
	// HeartbeatAck 心跳应答
	HeartbeatAck Type = 17

	// GossipDigest 近期消息摘要推送
	GossipDigest Type = 32
	// GossipPull 缺失消息拉取请求
	GossipPull Type = 33
	// GossipPush 完整信封批量推送
	GossipPush Type = 34

	// DHTRequest DHT RPC 请求
	DHTRequest Type = 48
	// DHTResponse DHT RPC 响应
	DHTResponse Type = 49

	// Goodbye 优雅离网通告
	Goodbye Type = 64
)

// String 返回类型的可读名称
func (t Type) String() string {
	switch t {
	case Data:
		return "data"
	case Handshake:
		return "handshake"
	case Hello:
		return "hello"
	case Heartbeat:
		return "heartbeat"
	case HeartbeatAck:
		return "heartbeat-ack"
	case GossipDigest:
		return "gossip-digest"
	case GossipPull:
		return "gossip-pull"
	case GossipPush:
		return "gossip-push"
	case DHTRequest:
		return "dht-request"
	case DHTResponse:
		return "dht-response"
	case Goodbye:
		return "goodbye"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Valid 检查是否为已知类型
func (t Type) Valid() bool {
	switch t {
	case Data, Handshake, Hello, Heartbeat, HeartbeatAck,
		GossipDigest, GossipPull, GossipPush, DHTRequest, DHTResponse, Goodbye:
		return true
	}
	return false
}

// ============================================================================
// 标志位
// ============================================================================

// Flags 信封标志位
type Flags uint8

const (
	// FlagEncrypted 载荷经会话密封
	FlagEncrypted Flags = 1 << 0
	// FlagCompressed 载荷经 zstd 压缩（密封前）
	FlagCompressed Flags = 1 << 1
)

// Has 检查标志位是否置位
func (f Flags) Has(flag Flags) bool {
	return f&flag != 0
}

// ============================================================================
// Envelope
// ============================================================================

// NonceSize 信封 nonce 长度（与 ChaCha20-Poly1305 nonce 同宽）
const NonceSize = 12

// Envelope 网格线上单元
type Envelope struct {
	Version   uint8
	Type      Type
	Flags     Flags
	HopLimit  uint8
	TTL       uint8
	Sender    types.NodeID
	Recipient types.NodeID // 全零 = 广播
	Nonce     [NonceSize]byte
	Seq       uint64
	Signature [64]byte
	Payload   []byte
}

// New 创建指定类型的信封并填充随机 nonce
func New(typ Type, sender, recipient types.NodeID, hopLimit uint8, payload []byte) (*Envelope, error) {
	env := &Envelope{
		Version:   Version,
		Type:      typ,
		HopLimit:  hopLimit,
		TTL:       hopLimit,
		Sender:    sender,
		Recipient: recipient,
		Payload:   payload,
	}
	if _, err := rand.Read(env.Nonce[:]); err != nil {
		return nil, fmt.Errorf("生成 nonce 失败: %w", err)
	}
	return env, nil
}

// IsBroadcast 是否为广播信封（接收方全零）
func (e *Envelope) IsBroadcast() bool {
	return e.Recipient.IsEmpty()
}

// Hops 返回已走跳数
func (e *Envelope) Hops() int {
	if e.TTL > e.HopLimit {
		return 0
	}
	return int(e.HopLimit) - int(e.TTL)
}

// Clone 深拷贝信封
func (e *Envelope) Clone() *Envelope {
	dup := *e
	dup.Payload = append([]byte(nil), e.Payload...)
	return &dup
}
