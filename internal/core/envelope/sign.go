package envelope

import (
	"crypto/ed25519"

	"lukechampine.com/blake3"

	"github.com/dep2p/go-mesh/pkg/types"
)

// ============================================================================
// 签名与消息标识
// ============================================================================

// Sign 对信封签名
//
// 签名在规范形式（ttl、signature 置零）上计算后写入信封。
// 之后修改除 ttl 外的任何字段都会使签名失效。
func Sign(e *Envelope, priv ed25519.PrivateKey) {
	sig := ed25519.Sign(priv, Canonical(e))
	copy(e.Signature[:], sig)
}

// Verify 验证信封签名
//
// 验证方重建与签名方相同的规范形式——逐位一致，
// 与信封在途中经历的 ttl 递减无关。
func Verify(e *Envelope, pub ed25519.PublicKey) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, Canonical(e), e.Signature[:])
}

// ID 计算消息标识
//
// messageId = BLAKE3-256(规范形式)。对同一信封在任意跳上计算
// 都得到同一标识——这是去重缓存的键。
func ID(e *Envelope) types.MessageID {
	return types.MessageID(blake3.Sum256(Canonical(e)))
}
