package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/minio/sha256-simd"

	"github.com/dep2p/go-mesh/pkg/types"
)

// ============================================================================
//                              Identity
// ============================================================================

// Identity 节点身份：长期 Ed25519 密钥对 + 缓存的指纹
type Identity struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
	id   types.NodeID
}

// Generate 生成新身份
func Generate() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("生成密钥对失败: %w", err)
	}
	return &Identity{
		priv: priv,
		pub:  pub,
		id:   Fingerprint(pub),
	}, nil
}

// FromSeed 从 32 字节种子派生身份（确定性）
func FromSeed(seed []byte) (*Identity, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, ErrInvalidSeed
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &Identity{
		priv: priv,
		pub:  pub,
		id:   Fingerprint(pub),
	}, nil
}

// FromPrivateKey 从已有私钥创建身份
func FromPrivateKey(priv ed25519.PrivateKey) (*Identity, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, ErrInvalidKeySize
	}
	pub := priv.Public().(ed25519.PublicKey)
	return &Identity{
		priv: priv,
		pub:  pub,
		id:   Fingerprint(pub),
	}, nil
}

// Unmarshal 从原始字节恢复身份（64 字节私钥）
func Unmarshal(raw []byte) (*Identity, error) {
	if len(raw) != ed25519.PrivateKeySize {
		return nil, ErrInvalidKeySize
	}
	return FromPrivateKey(ed25519.PrivateKey(append([]byte(nil), raw...)))
}

// ID 返回节点 ID（公钥指纹）
func (i *Identity) ID() types.NodeID {
	return i.id
}

// PublicKey 返回 Ed25519 公钥
func (i *Identity) PublicKey() ed25519.PublicKey {
	return i.pub
}

// PrivateKey 返回 Ed25519 私钥
func (i *Identity) PrivateKey() ed25519.PrivateKey {
	return i.priv
}

// Sign 使用身份私钥签名数据
func (i *Identity) Sign(data []byte) []byte {
	return ed25519.Sign(i.priv, data)
}

// Marshal 返回私钥的原始字节表示（64 字节）
func (i *Identity) Marshal() []byte {
	return append([]byte(nil), i.priv...)
}

// ============================================================================
//                              包级函数
// ============================================================================

// Verify 使用公钥验证签名
func Verify(pub ed25519.PublicKey, data, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, data, sig)
}

// Fingerprint 计算公钥指纹作为节点 ID
//
// id = SHA-256(pubkey)，32 字节，与 NodeID 空间同宽。
func Fingerprint(pub ed25519.PublicKey) types.NodeID {
	var id types.NodeID
	sum := sha256.Sum256(pub)
	copy(id[:], sum[:])
	return id
}
