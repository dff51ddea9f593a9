package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HKDF info 标签：收发链按握手角色分离，
// 一端的发送链等于对端的接收链。
const (
	chainInfoInitiator = "mesh/chain/initiator"
	chainInfoResponder = "mesh/chain/responder"
)

// 链推进的 HMAC 域分离输入
var (
	msgKeyInput = []byte{0x01}
	chainInput  = []byte{0x02}
)

// chainKeySize 链密钥与消息密钥长度
const chainKeySize = 32

// deriveChains 从握手根密钥派生本端的发送链与接收链
func deriveChains(root []byte, initiator bool) (send, recv []byte, err error) {
	initChain, err := expandChain(root, chainInfoInitiator)
	if err != nil {
		return nil, nil, err
	}
	respChain, err := expandChain(root, chainInfoResponder)
	if err != nil {
		return nil, nil, err
	}
	if initiator {
		return initChain, respChain, nil
	}
	return respChain, initChain, nil
}

// expandChain HKDF-SHA256 展开单条链密钥
func expandChain(root []byte, info string) ([]byte, error) {
	out := make([]byte, chainKeySize)
	r := hkdf.New(sha256.New, root, nil, []byte(info))
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("派生链密钥失败: %w", err)
	}
	return out, nil
}

// advanceChain 单向推进一步：导出本条消息密钥与下一链密钥
func advanceChain(chain []byte) (msgKey, next []byte) {
	return hmacSum(chain, msgKeyInput), hmacSum(chain, chainInput)
}

func hmacSum(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// zeroize 覆写密钥材料
//
// Go 无法保证运行时不留副本，覆写是尽力而为的前向保密手段。
func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ============================================================================
// 跳过键窗口
// ============================================================================

// skippedKeys 乱序窗口内暂存的消息密钥，按插入序淘汰
type skippedKeys struct {
	keys  map[uint64][]byte
	order []uint64
	cap   int
}

func newSkippedKeys(capacity int) *skippedKeys {
	return &skippedKeys{
		keys: make(map[uint64][]byte),
		cap:  capacity,
	}
}

// put 暂存 seq 的消息密钥，超容时淘汰最旧的一把
func (s *skippedKeys) put(seq uint64, key []byte) {
	if s.cap <= 0 {
		zeroize(key)
		return
	}
	if _, ok := s.keys[seq]; ok {
		zeroize(key)
		return
	}
	for len(s.keys) >= s.cap {
		oldest := s.order[0]
		s.order = s.order[1:]
		if k, ok := s.keys[oldest]; ok {
			zeroize(k)
			delete(s.keys, oldest)
		}
	}
	s.keys[seq] = key
	s.order = append(s.order, seq)
}

// peek 取出但不移除
func (s *skippedKeys) peek(seq uint64) ([]byte, bool) {
	k, ok := s.keys[seq]
	return k, ok
}

// drop 消费后移除并覆写
func (s *skippedKeys) drop(seq uint64) {
	k, ok := s.keys[seq]
	if !ok {
		return
	}
	zeroize(k)
	delete(s.keys, seq)
	for i, v := range s.order {
		if v == seq {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// clear 覆写并清空全部暂存密钥
func (s *skippedKeys) clear() {
	for _, k := range s.keys {
		zeroize(k)
	}
	s.keys = make(map[uint64][]byte)
	s.order = nil
}

func (s *skippedKeys) len() int {
	return len(s.keys)
}
