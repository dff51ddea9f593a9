package dht

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dep2p/go-mesh/internal/core/identity"
	"github.com/dep2p/go-mesh/pkg/types"
)

// recordKeyPrefix 自身地址记录的键前缀，完整键为 peer/<Base58 指纹>
const recordKeyPrefix = "peer/"

// AddressRecord 签名地址记录：只凭 NodeID 也能解析出可拨端点。
// 发布方用身份私钥对去签名编码签名，任何节点可独立验证
// 公钥指纹与 ID 一致、签名有效，无需信任中转存储方。
type AddressRecord struct {
	ID        types.NodeID `json:"id"`
	Endpoints []string     `json:"endpoints,omitempty"`
	PublicKey []byte       `json:"public_key"`
	IssuedAt  int64        `json:"issued_at"`
	Signature []byte       `json:"signature,omitempty"`
}

// recordKey 返回某节点地址记录的 DHT 键
func recordKey(id types.NodeID) string {
	return recordKeyPrefix + id.String()
}

// signable 返回参与签名的规范编码（Signature 置空）
func (r *AddressRecord) signable() ([]byte, error) {
	clone := *r
	clone.Signature = nil
	return json.Marshal(&clone)
}

// newAddressRecord 构造并签名本节点的地址记录
func newAddressRecord(ident *identity.Identity, endpoints []string, now time.Time) (*AddressRecord, error) {
	rec := &AddressRecord{
		ID:        ident.ID(),
		Endpoints: append([]string(nil), endpoints...),
		PublicKey: append([]byte(nil), ident.PublicKey()...),
		IssuedAt:  now.Unix(),
	}
	data, err := rec.signable()
	if err != nil {
		return nil, err
	}
	rec.Signature = ident.Sign(data)
	return rec, nil
}

// decodeAddressRecord 解码并验证一条地址记录。
//
// 验证三件事：公钥指纹等于记录声称的 ID、签名覆盖去签名编码、
// 公钥长度合法。任何一项不过都拒绝整条记录。
func decodeAddressRecord(raw []byte) (*AddressRecord, error) {
	var rec AddressRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRecord, err)
	}
	if len(rec.PublicKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: 公钥长度 %d", ErrBadRecord, len(rec.PublicKey))
	}
	if !identity.Fingerprint(rec.PublicKey).Equal(rec.ID) {
		return nil, fmt.Errorf("%w: 指纹与 ID 不符", ErrBadRecord)
	}
	data, err := rec.signable()
	if err != nil {
		return nil, err
	}
	if !identity.Verify(rec.PublicKey, data, rec.Signature) {
		return nil, fmt.Errorf("%w: 验签失败", ErrBadRecord)
	}
	return &rec, nil
}
