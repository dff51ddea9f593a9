package session

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/dep2p/go-mesh/internal/core/envelope"
	"github.com/dep2p/go-mesh/pkg/types"
)

// Overhead 密封载荷相对明文增加的字节数（Poly1305 认证标签）
const Overhead = chacha20poly1305.Overhead

// Session 与单个远端的棘轮会话
//
// 并发安全。Seal 与 Open 推进各自独立的链，
// 每把消息密钥只使用一次，用后即焚。
type Session struct {
	mu sync.Mutex

	peer      types.NodeID
	initiator bool

	sendChain []byte
	sendSeq   uint64

	recvChain []byte
	recvSeq   uint64 // 下一个期待的接收序号（水位线）
	skipped   *skippedKeys
	maxSkip   int

	establishedAt time.Time
}

// newSession 由握手根密钥建立会话
func newSession(peer types.NodeID, root []byte, initiator bool, maxSkip int, now time.Time) (*Session, error) {
	send, recv, err := deriveChains(root, initiator)
	if err != nil {
		return nil, fmt.Errorf("派生会话链失败: %w", err)
	}
	return &Session{
		peer:          peer,
		initiator:     initiator,
		sendChain:     send,
		recvChain:     recv,
		skipped:       newSkippedKeys(maxSkip),
		maxSkip:       maxSkip,
		establishedAt: now,
	}, nil
}

// Peer 返回会话对端
func (s *Session) Peer() types.NodeID {
	return s.peer
}

// Seal 密封明文：分配发送序号、推进发送链并就地填充密文载荷
//
// 调用后信封的 Seq、Flags、Payload 字段被改写；
// AAD 取信封规范前缀，密文与头部字段绑定。
func (s *Session) Seal(env *envelope.Envelope, plaintext []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	env.Seq = s.sendSeq
	env.Flags |= envelope.FlagEncrypted

	msgKey, next := advanceChain(s.sendChain)
	aead, err := chacha20poly1305.New(msgKey)
	if err != nil {
		zeroize(msgKey)
		zeroize(next)
		return fmt.Errorf("初始化 AEAD 失败: %w", err)
	}
	env.Payload = aead.Seal(nil, env.Nonce[:], plaintext, envelope.AAD(env))

	zeroize(s.sendChain)
	zeroize(msgKey)
	s.sendChain = next
	s.sendSeq++
	return nil
}

// Open 解封密文载荷并返回明文
//
// 水位线以下且不在跳过窗口的序号按重放拒绝；
// 任何失败都不推进接收状态。
func (s *Session) Open(env *envelope.Envelope) ([]byte, error) {
	if !env.Flags.Has(envelope.FlagEncrypted) {
		return nil, ErrNotEncrypted
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := env.Seq
	aad := envelope.AAD(env)

	// 窗口内的晚到消息
	if seq < s.recvSeq {
		key, ok := s.skipped.peek(seq)
		if !ok {
			return nil, ErrReplayOrExpired
		}
		plaintext, err := openWithKey(key, env.Nonce[:], env.Payload, aad)
		if err != nil {
			return nil, err
		}
		s.skipped.drop(seq)
		return plaintext, nil
	}

	// 向前追赶：先在副本上推进，解封成功后才提交
	steps := seq - s.recvSeq
	if steps > uint64(s.maxSkip) {
		return nil, fmt.Errorf("%w: 距水位线 %d", ErrSkipExceeded, steps)
	}

	chain := append([]byte(nil), s.recvChain...)
	type derived struct {
		seq uint64
		key []byte
	}
	pending := make([]derived, 0, steps)
	for cur := s.recvSeq; cur < seq; cur++ {
		key, next := advanceChain(chain)
		zeroize(chain)
		chain = next
		pending = append(pending, derived{seq: cur, key: key})
	}
	msgKey, next := advanceChain(chain)
	zeroize(chain)

	plaintext, err := openWithKey(msgKey, env.Nonce[:], env.Payload, aad)
	if err != nil {
		zeroize(msgKey)
		zeroize(next)
		for _, p := range pending {
			zeroize(p.key)
		}
		return nil, err
	}

	for _, p := range pending {
		s.skipped.put(p.seq, p.key)
	}
	zeroize(s.recvChain)
	zeroize(msgKey)
	s.recvChain = next
	s.recvSeq = seq + 1
	return plaintext, nil
}

// openWithKey 用单把消息密钥解封
func openWithKey(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("初始化 AEAD 失败: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

// destroy 覆写全部密钥材料
func (s *Session) destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	zeroize(s.sendChain)
	zeroize(s.recvChain)
	s.skipped.clear()
}
