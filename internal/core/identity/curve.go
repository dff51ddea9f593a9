package identity

import (
	"crypto/ed25519"
	"crypto/sha512"

	"filippo.io/edwards25519"
)

// ============================================================================
// 密钥转换（Ed25519 → Curve25519，供 Noise 握手做 DH）
// ============================================================================

// CurvePrivate 返回身份私钥对应的 Curve25519 私钥
//
// 标准转换方法（RFC 7748, RFC 8032）：
//  1. 对私钥种子进行 SHA-512 哈希
//  2. 取哈希前 32 字节
//  3. 进行 "clamping"（清理低 3 位和高 2 位）
func (i *Identity) CurvePrivate() []byte {
	return ed25519ToCurve25519Private(i.priv)
}

// CurvePublic 返回身份公钥对应的 Curve25519 公钥
func (i *Identity) CurvePublic() ([]byte, error) {
	return CurvePublicFromEd(i.pub)
}

// CurvePublicFromEd 将任意 Ed25519 公钥转换为 Curve25519 公钥
//
// 使用 Edwards -> Montgomery 转换公式：
//
//	u = (1 + y) / (1 - y)  (mod p)
func CurvePublicFromEd(edPub ed25519.PublicKey) ([]byte, error) {
	if len(edPub) != ed25519.PublicKeySize {
		return nil, ErrInvalidPublicKey
	}

	point, err := new(edwards25519.Point).SetBytes(edPub)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}

	return point.BytesMontgomery(), nil
}

// ed25519ToCurve25519Private 将 Ed25519 私钥转换为 Curve25519 私钥
func ed25519ToCurve25519Private(edPriv []byte) []byte {
	var seed []byte

	switch len(edPriv) {
	case ed25519.PrivateKeySize: // 64 字节：标准私钥格式
		seed = edPriv[:32]
	case ed25519.SeedSize: // 32 字节：种子格式
		seed = edPriv
	default:
		return make([]byte, 32)
	}

	// SHA-512 哈希种子
	h := sha512.Sum512(seed)

	// Clamping（RFC 7748）
	h[0] &= 248  // 清除低 3 位
	h[31] &= 127 // 清除最高位
	h[31] |= 64  // 设置次高位

	return h[:32]
}
