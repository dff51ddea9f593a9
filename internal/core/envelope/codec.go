package envelope

import (
	"encoding/binary"
)

// ============================================================================
// 线上布局常量
// ============================================================================

// 字段偏移（见包文档的布局表）
const (
	offVersion    = 0
	offType       = 1
	offFlags      = 2
	offHopLimit   = 3
	offTTL        = 4
	offSender     = 5
	offRecipient  = 37
	offNonce      = 69
	offSeq        = 81
	offSignature  = 89
	offPayloadLen = 153

	// HeaderSize 定长头部大小
	HeaderSize = 157

	// MaxPayload 协议级载荷硬上限；配置的 envelope.max_payload
	// 在发送侧收紧，线上解码始终执行此上限
	MaxPayload = 65536

	// MaxFrameSize 单帧上限（头部 + 最大载荷）
	MaxFrameSize = HeaderSize + MaxPayload

	// aadSize 规范头部前缀长度：version..seq（签名字段之前），
	// 作为会话 AEAD 的附加认证数据
	aadSize = offSignature
)

// ============================================================================
// 编码
// ============================================================================

// EncodedSize 返回信封的编码长度
func (e *Envelope) EncodedSize() int {
	return HeaderSize + len(e.Payload)
}

// Encode 将信封编码为字节序列
//
// 编码是确定性的，只在载荷超限时失败。
func Encode(e *Envelope) ([]byte, error) {
	if len(e.Payload) > MaxPayload {
		return nil, ErrOversizePayload
	}

	buf := make([]byte, HeaderSize+len(e.Payload))
	buf[offVersion] = e.Version
	buf[offType] = uint8(e.Type)
	buf[offFlags] = uint8(e.Flags)
	buf[offHopLimit] = e.HopLimit
	buf[offTTL] = e.TTL
	copy(buf[offSender:], e.Sender[:])
	copy(buf[offRecipient:], e.Recipient[:])
	copy(buf[offNonce:], e.Nonce[:])
	binary.BigEndian.PutUint64(buf[offSeq:], e.Seq)
	copy(buf[offSignature:], e.Signature[:])
	binary.BigEndian.PutUint32(buf[offPayloadLen:], uint32(len(e.Payload)))
	copy(buf[HeaderSize:], e.Payload)

	return buf, nil
}

// Decode 从字节序列解析信封
//
// 错误分类：ErrTruncated（数据不足）、ErrVersionMismatch（版本不符）、
// ErrOversizePayload（载荷声明超限或与实际长度不符）。
func Decode(data []byte) (*Envelope, error) {
	if len(data) < HeaderSize {
		return nil, ErrTruncated
	}
	if data[offVersion] != Version {
		return nil, ErrVersionMismatch
	}

	payloadLen := binary.BigEndian.Uint32(data[offPayloadLen:])
	if payloadLen > MaxPayload {
		return nil, ErrOversizePayload
	}
	if len(data) < HeaderSize+int(payloadLen) {
		return nil, ErrTruncated
	}

	e := &Envelope{
		Version:  data[offVersion],
		Type:     Type(data[offType]),
		Flags:    Flags(data[offFlags]),
		HopLimit: data[offHopLimit],
		TTL:      data[offTTL],
		Seq:      binary.BigEndian.Uint64(data[offSeq:]),
	}
	copy(e.Sender[:], data[offSender:])
	copy(e.Recipient[:], data[offRecipient:])
	copy(e.Nonce[:], data[offNonce:])
	copy(e.Signature[:], data[offSignature:])
	e.Payload = append([]byte(nil), data[HeaderSize:HeaderSize+int(payloadLen)]...)

	return e, nil
}

// ============================================================================
// 规范形式
// ============================================================================

// Canonical 返回信封的规范编码：ttl 与 signature 置零的完整编码
//
// 签名与 messageId 都在此形式上计算。ttl 置零使两者对逐跳递减不变；
// hopLimit 保留在签名范围内，保障初始跳数预算不可篡改。
func Canonical(e *Envelope) []byte {
	buf, err := Encode(e)
	if err != nil {
		// Encode 只因超限失败；规范形式用于本地已构造的信封，
		// 超限信封不可能通过 Seal/Decode 进入这里
		buf = make([]byte, HeaderSize)
		buf[offVersion] = e.Version
	}
	buf[offTTL] = 0
	for i := offSignature; i < offSignature+64; i++ {
		buf[i] = 0
	}
	return buf
}

// AAD 返回会话 AEAD 的附加认证数据：规范头部前缀
// （version..seq，89 字节，ttl 置零）
func AAD(e *Envelope) []byte {
	aad := make([]byte, aadSize)
	aad[offVersion] = e.Version
	aad[offType] = uint8(e.Type)
	aad[offFlags] = uint8(e.Flags)
	aad[offHopLimit] = e.HopLimit
	// ttl 保持 0
	copy(aad[offSender:], e.Sender[:])
	copy(aad[offRecipient:], e.Recipient[:])
	copy(aad[offNonce:], e.Nonce[:])
	binary.BigEndian.PutUint64(aad[offSeq:], e.Seq)
	return aad
}
