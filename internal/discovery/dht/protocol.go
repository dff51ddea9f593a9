package dht

import (
	"encoding/json"
	"fmt"

	"github.com/dep2p/go-mesh/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════
// RPC 报文
// ════════════════════════════════════════════════════════════════════════

// msgType RPC 报文类型。响应类型恒为请求类型加一。
type msgType uint8

const (
	msgPing          msgType = 1
	msgPong          msgType = 2
	msgFindNode      msgType = 3
	msgFindNodeResp  msgType = 4
	msgStore         msgType = 5
	msgStoreResp     msgType = 6
	msgFindValue     msgType = 7
	msgFindValueResp msgType = 8
	msgGoodbye       msgType = 9
)

// String 返回报文类型名
func (t msgType) String() string {
	switch t {
	case msgPing:
		return "PING"
	case msgPong:
		return "PONG"
	case msgFindNode:
		return "FIND_NODE"
	case msgFindNodeResp:
		return "FIND_NODE_RESPONSE"
	case msgStore:
		return "STORE"
	case msgStoreResp:
		return "STORE_RESPONSE"
	case msgFindValue:
		return "FIND_VALUE"
	case msgFindValueResp:
		return "FIND_VALUE_RESPONSE"
	case msgGoodbye:
		return "GOODBYE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

func (t msgType) valid() bool {
	return t >= msgPing && t <= msgGoodbye
}

// response 返回对应的响应类型
func (t msgType) response() msgType {
	return t + 1
}

// message DHT RPC 报文，JSON 编码后作为信封载荷。
// Sender 以信封验签后的发送方为准，入站时强制覆写。
type message struct {
	Type      msgType      `json:"type"`
	RequestID string       `json:"request_id"`
	Sender    types.NodeID `json:"sender"`
	Target    types.NodeID `json:"target,omitempty"`
	Key       string       `json:"key,omitempty"`
	Value     []byte       `json:"value,omitempty"`
	TTL       uint32       `json:"ttl,omitempty"`
	Nodes     []Contact    `json:"nodes,omitempty"`
	Error     string       `json:"error,omitempty"`
}

func (m *message) encode() ([]byte, error) {
	return json.Marshal(m)
}

func decodeMessage(data []byte) (*message, error) {
	var m message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	if !m.Type.valid() {
		return nil, fmt.Errorf("%w: type=%d", ErrBadMessage, uint8(m.Type))
	}
	if m.RequestID == "" {
		return nil, fmt.Errorf("%w: request_id 为空", ErrBadMessage)
	}
	return &m, nil
}

// reply 以同一 request_id 构造响应骨架
func (m *message) reply(self types.NodeID) *message {
	return &message{
		Type:      m.Type.response(),
		RequestID: m.RequestID,
		Sender:    self,
	}
}

// errorReply 构造显式错误响应
func (m *message) errorReply(self types.NodeID, err error) *message {
	r := m.reply(self)
	r.Error = err.Error()
	return r
}

// rpcError 把远端错误串还原成本地哨兵错误，未知串原样包裹
func rpcError(s string) error {
	for _, sentinel := range []error{
		ErrValueTooLarge,
		ErrQuotaExceeded,
		ErrStoreRateLimited,
		ErrNotFound,
	} {
		if s == sentinel.Error() {
			return sentinel
		}
	}
	return fmt.Errorf("dht: 远端拒绝: %s", s)
}
