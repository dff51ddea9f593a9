package session

import (
	"crypto/ed25519"
	"fmt"

	"github.com/flynn/noise"

	"github.com/dep2p/go-mesh/internal/core/identity"
	"github.com/dep2p/go-mesh/pkg/types"
)

// bindingSigPrefix 静态密钥绑定签名的前缀
const bindingSigPrefix = "mesh-static-key:"

// 握手阶段编号（握手信封载荷首字节）
const (
	stageOne   byte = 1
	stageTwo   byte = 2
	stageThree byte = 3
)

// bindingPayloadSize Noise 内层绑定载荷长度：Ed25519 公钥 ‖ 绑定签名
const bindingPayloadSize = ed25519.PublicKeySize + ed25519.SignatureSize

// stageHeaderSize 握手信封载荷头长度：阶段字节 ‖ 发送方 Ed25519 公钥
const stageHeaderSize = 1 + ed25519.PublicKeySize

// handshakeState 一次进行中的 XX 握手
type handshakeState struct {
	hs        *noise.HandshakeState
	initiator bool
	gen       uint64 // 超时定时器配对用的代数
}

// newHandshakeState 创建握手状态
//
// 静态密钥对由节点 Ed25519 身份密钥换算为 Curve25519，
// 内层绑定载荷再把换算后的静态公钥签回身份。
func newHandshakeState(id *identity.Identity, initiator bool) (*handshakeState, error) {
	curvePub, err := id.CurvePublic()
	if err != nil {
		return nil, fmt.Errorf("转换静态公钥失败: %w", err)
	}

	cs := noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cs,
		Pattern:       noise.HandshakeXX,
		Initiator:     initiator,
		StaticKeypair: noise.DHKey{Private: id.CurvePrivate(), Public: curvePub},
	})
	if err != nil {
		return nil, fmt.Errorf("创建握手状态失败: %w", err)
	}

	return &handshakeState{hs: hs, initiator: initiator}, nil
}

// buildBindingPayload 生成 Noise 内层身份绑定载荷
//
// 载荷 = Ed25519 公钥 ‖ Sign("mesh-static-key:" + curve25519_static_pubkey)
func buildBindingPayload(id *identity.Identity) ([]byte, error) {
	curvePub, err := id.CurvePublic()
	if err != nil {
		return nil, fmt.Errorf("转换静态公钥失败: %w", err)
	}

	toSign := append([]byte(bindingSigPrefix), curvePub...)
	sig := id.Sign(toSign)

	payload := make([]byte, 0, bindingPayloadSize)
	payload = append(payload, id.PublicKey()...)
	payload = append(payload, sig...)
	return payload, nil
}

// verifyBindingPayload 验证对端绑定载荷
//
// remoteStatic 为 Noise 握手观测到的对端静态 Curve25519 公钥。
// 校验身份公钥指纹与信封发送方一致，且绑定签名有效。
func verifyBindingPayload(payload, remoteStatic []byte, expected types.NodeID) (ed25519.PublicKey, error) {
	if len(payload) != bindingPayloadSize {
		return nil, fmt.Errorf("%w: 绑定载荷长度 %d", ErrHandshakeFailed, len(payload))
	}

	pub := ed25519.PublicKey(append([]byte(nil), payload[:ed25519.PublicKeySize]...))
	sig := payload[ed25519.PublicKeySize:]

	if identity.Fingerprint(pub) != expected {
		return nil, fmt.Errorf("%w: 身份公钥与发送方指纹不符", ErrHandshakeFailed)
	}

	toVerify := append([]byte(bindingSigPrefix), remoteStatic...)
	if !identity.Verify(pub, toVerify, sig) {
		return nil, fmt.Errorf("%w: 静态密钥未绑定到身份公钥", ErrHandshakeFailed)
	}

	return pub, nil
}

// encodeStage 组装握手信封载荷：阶段 ‖ 发送方 Ed25519 公钥 ‖ Noise 消息
func encodeStage(stage byte, edPub ed25519.PublicKey, noiseMsg []byte) []byte {
	out := make([]byte, 0, stageHeaderSize+len(noiseMsg))
	out = append(out, stage)
	out = append(out, edPub...)
	out = append(out, noiseMsg...)
	return out
}

// decodeStage 拆解握手信封载荷
func decodeStage(payload []byte) (stage byte, edPub ed25519.PublicKey, noiseMsg []byte, err error) {
	if len(payload) < stageHeaderSize {
		return 0, nil, nil, fmt.Errorf("%w: 载荷过短", ErrBadHandshake)
	}
	stage = payload[0]
	if stage < stageOne || stage > stageThree {
		return 0, nil, nil, fmt.Errorf("%w: 未知阶段 %d", ErrBadHandshake, stage)
	}
	edPub = ed25519.PublicKey(payload[1:stageHeaderSize])
	noiseMsg = payload[stageHeaderSize:]
	return stage, edPub, noiseMsg, nil
}
